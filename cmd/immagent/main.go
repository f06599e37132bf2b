package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/immagent/immagent/config"
	"github.com/immagent/immagent/llm"
)

// Version information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Shared global variables
var (
	cfg       *config.Config
	llmClient *llm.Client
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "immagent",
		Short: "Immutable conversational agents CLI",
		Long: `immagent builds and advances immutable, content-addressed conversational
agents. Every turn derives a new agent value linked to its parent, so the
full history of an agent is a walkable lineage.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Best effort; a missing .env is fine
			_ = godotenv.Load()

			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			setupLogging(cfg.LogLevel)

			llmClient = llm.NewClient(cfg.LLM.URL, cfg.LLM.APIKey)
			return nil
		},
	}

	rootCmd.AddCommand(
		createCmd(),
		listCmd(),
		showCmd(),
		lineageCmd(),
		cloneCmd(),
		deleteCmd(),
		gcCmd(),
		chatCmd(),
		initCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

// configCmd shows current configuration
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Current configuration:")
			fmt.Println()

			fmt.Println("LLM:")
			fmt.Printf("  URL:         %s\n", cfg.LLM.URL)
			fmt.Printf("  Model:       %s\n", cfg.LLM.Model)
			fmt.Printf("  Max Tokens:  %d\n", cfg.LLM.MaxTokens)
			fmt.Printf("  Temperature: %.2f\n", cfg.LLM.Temperature)
			fmt.Printf("  API Key:     %s\n", maskSecret(cfg.LLM.APIKey))
			fmt.Println()

			fmt.Println("Database:")
			fmt.Printf("  URL:    %s\n", maskSecret(cfg.Database.URL))
			fmt.Printf("  Pool:   %d-%d conns, %s idle\n",
				cfg.Database.PoolMinConns, cfg.Database.PoolMaxConns, cfg.Database.PoolMaxConnIdleTime())
			fmt.Printf("  Status: %s\n", boolStatus(cfg.IsDatabaseConfigured()))
			fmt.Println()

			fmt.Printf("Tool servers: %d configured\n", len(cfg.MCP.Servers))
			for _, srv := range cfg.MCP.Servers {
				fmt.Printf("  %s: %s\n", srv.Name, srv.Command)
			}
			fmt.Println()

			fmt.Println("Environment variables:")
			fmt.Println("  IMMAGENT_LLM_URL, IMMAGENT_LLM_API_KEY, IMMAGENT_LLM_MODEL")
			fmt.Println("  IMMAGENT_LLM_MAX_TOKENS, IMMAGENT_LLM_TEMPERATURE")
			fmt.Println("  IMMAGENT_DATABASE_URL, IMMAGENT_POOL_MIN_CONNS, IMMAGENT_POOL_MAX_CONNS")
			fmt.Println("  IMMAGENT_LOG_LEVEL, IMMAGENT_CONFIG, IMMAGENT_MCP_SERVERS")

			return nil
		},
	}
}

// versionCmd shows version information
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("immagent %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Build Date: %s\n", buildDate)
		},
	}
}
