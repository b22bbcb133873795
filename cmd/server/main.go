// Package main is the entry point of the snippetvault server.
//
// main stays minimal: read configuration, build the logger, hand both to
// internal/server and block in Start. Everything else is wired in
// server.New.
//
// Configuration (see internal/config):
//
//	PORT=8080 STORE_BACKEND=sqlite DB_PATH=data/snippetvault.db
//	JWT_SECRET=$(openssl rand -hex 32)
//	GITHUB_CLIENT_ID=... GITHUB_CLIENT_SECRET=...
//	REDIS_URL=redis://localhost:6379/0   # fan-out across instances
//	SNIPPETVAULT_CONFIG=/etc/snippetvault.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sakif/snippetvault/internal/config"
	"github.com/sakif/snippetvault/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	srv, err := server.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT or SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
