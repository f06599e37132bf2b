package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/immagent/immagent/asset"
	"github.com/immagent/immagent/mcp"
	"github.com/immagent/immagent/store"
)

// openStore connects to PostgreSQL when configured, otherwise falls back to
// the in-memory store (useful for one-shot experiments, not for anything that
// should survive the process).
func openStore(ctx context.Context) (*store.Store, error) {
	if !cfg.IsDatabaseConfigured() {
		slog.Warn("no database configured, using in-memory store")
		return store.NewMemoryStore(), nil
	}

	s, err := store.Connect(ctx, cfg.Database.URL, store.Options{
		MinConns:        cfg.Database.PoolMinConns,
		MaxConns:        cfg.Database.PoolMaxConns,
		MaxConnIdleTime: cfg.Database.PoolMaxConnIdleTime(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := s.InitSchema(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// openGateway connects every configured tool server. A server that fails to
// connect is skipped with a warning; the chat still runs with the rest.
func openGateway(ctx context.Context) *mcp.Gateway {
	gateway := mcp.NewGateway()
	for _, srv := range cfg.MCP.Servers {
		err := gateway.Connect(ctx, srv.Name, srv.Command, mcp.ConnectOptions{
			Args: srv.Args,
			Env:  srv.Env,
			Dir:  srv.Dir,
		})
		if err != nil {
			slog.Warn("tool server unavailable", "server", srv.Name, "error", err)
		}
	}
	return gateway
}

// resolveAgent accepts either an agent UUID or an exact agent name.
func resolveAgent(ctx context.Context, s *store.Store, ref string) (asset.Agent, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return s.LoadAgent(ctx, id)
	}
	return s.FindByName(ctx, ref)
}

// maskSecret masks a secret string for display
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "(set)"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// boolStatus returns a status string for a boolean
func boolStatus(b bool) string {
	if b {
		return "configured"
	}
	return "not configured"
}
