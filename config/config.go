// Package config loads runtime configuration for immagent binaries from a
// JSON config file overlaid with environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for immagent
type Config struct {
	LLM      LLMConfig      `json:"llm"`
	Database DatabaseConfig `json:"database"`
	MCP      MCPConfig      `json:"mcp"`
	LogLevel string         `json:"log_level"` // "debug", "info", "warn", "error"
}

// LLMConfig holds LLM API configuration (any OpenAI-compatible endpoint,
// typically a LiteLLM proxy)
type LLMConfig struct {
	URL         string  `json:"url"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// DatabaseConfig holds PostgreSQL configuration. An empty URL selects memory
// mode.
type DatabaseConfig struct {
	URL                 string `json:"url"`
	PoolMinConns        int32  `json:"pool_min_conns"`
	PoolMaxConns        int32  `json:"pool_max_conns"`
	PoolMaxConnIdleSecs int    `json:"pool_max_conn_idle_secs"`
}

// PoolMaxConnIdleTime returns the idle lifetime as a duration.
func (c DatabaseConfig) PoolMaxConnIdleTime() time.Duration {
	return time.Duration(c.PoolMaxConnIdleSecs) * time.Second
}

// MCPConfig holds tool server configurations
type MCPConfig struct {
	Servers []MCPServerConfig `json:"servers"`
}

// MCPServerConfig represents a single stdio tool server
type MCPServerConfig struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
	Dir     string   `json:"dir,omitempty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			URL:         "http://localhost:4000/v1",
			APIKey:      "",
			Model:       "anthropic/claude-3-5-haiku-20241022",
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Database: DatabaseConfig{
			URL:                 "",
			PoolMinConns:        2,
			PoolMaxConns:        10,
			PoolMaxConnIdleSecs: 300,
		},
		MCP: MCPConfig{
			Servers: []MCPServerConfig{},
		},
		LogLevel: "info",
	}
}

// envString loads a string environment variable into the target pointer if set
func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// envInt loads an integer environment variable into the target pointer if set and valid
func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

// envInt32 loads an integer environment variable into the target pointer if set and valid
func envInt32(key string, target *int32) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 32); err == nil {
			*target = int32(i)
		}
	}
}

// envFloat loads a float64 environment variable into the target pointer if set and valid
func envFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

// Load loads configuration from the config file and environment variables
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPath()
	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to parse config file %s: %v\n", configPath, err)
		}
	}

	// Load LLM configuration from environment
	envString("IMMAGENT_LLM_URL", &cfg.LLM.URL)
	envString("IMMAGENT_LLM_API_KEY", &cfg.LLM.APIKey)
	envString("IMMAGENT_LLM_MODEL", &cfg.LLM.Model)
	envInt("IMMAGENT_LLM_MAX_TOKENS", &cfg.LLM.MaxTokens)
	envFloat("IMMAGENT_LLM_TEMPERATURE", &cfg.LLM.Temperature)

	// Load Database configuration from environment
	envString("IMMAGENT_DATABASE_URL", &cfg.Database.URL)
	envInt32("IMMAGENT_POOL_MIN_CONNS", &cfg.Database.PoolMinConns)
	envInt32("IMMAGENT_POOL_MAX_CONNS", &cfg.Database.PoolMaxConns)
	envInt("IMMAGENT_POOL_MAX_CONN_IDLE_SECS", &cfg.Database.PoolMaxConnIdleSecs)

	envString("IMMAGENT_LOG_LEVEL", &cfg.LogLevel)

	// Tool servers are primarily configured via config file, but can be
	// augmented via env
	if serversJSON := os.Getenv("IMMAGENT_MCP_SERVERS"); serversJSON != "" {
		var envServers []MCPServerConfig
		if err := json.Unmarshal([]byte(serversJSON), &envServers); err == nil {
			cfg.MCP.Servers = append(cfg.MCP.Servers, envServers...)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// getConfigPath resolves the config file location: IMMAGENT_CONFIG if set,
// otherwise ~/.immagent/config.json
func getConfigPath() string {
	if p := os.Getenv("IMMAGENT_CONFIG"); p != "" {
		return p
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(homeDir, ".immagent", "config.json")
}

// IsDatabaseConfigured returns true if a PostgreSQL URL is set; otherwise
// the binaries run on the memory store
func (c *Config) IsDatabaseConfigured() bool {
	return c.Database.URL != ""
}

// isValidURL validates that a URL has proper format
func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks that the configuration has valid values
func (c *Config) Validate() error {
	var errs []string

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "LLM temperature must be between 0 and 2")
	}
	if c.LLM.MaxTokens < 1 {
		errs = append(errs, "LLM max_tokens must be positive")
	}
	if c.LLM.URL == "" {
		errs = append(errs, "LLM URL is required")
	} else if !isValidURL(c.LLM.URL) {
		errs = append(errs, "LLM URL must be a valid URL")
	}

	if c.Database.URL != "" && !isValidURL(c.Database.URL) {
		errs = append(errs, "database URL must be a valid URL")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "pool min conns must not be negative")
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "pool max conns must be at least 1")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "pool min conns must not exceed pool max conns")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log level must be one of debug, info, warn, error")
	}

	for _, srv := range c.MCP.Servers {
		if srv.Name == "" {
			errs = append(errs, "MCP server name is required")
		}
		if srv.Command == "" {
			errs = append(errs, fmt.Sprintf("MCP server %q needs a command", srv.Name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
