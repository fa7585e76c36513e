// Package main is the entry point for the chat gateway server.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"chatgate/config"
	"chatgate/internal/app"
	"chatgate/internal/logging"

	// Import provider packages to trigger their init() registration
	_ "chatgate/internal/providers/claude"
	_ "chatgate/internal/providers/openai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Setup(os.Stdout, cfg.Logging.Level)

	application, err := app.New(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := application.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	if err := application.Start(addr); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	// Start returned because the server stopped; make sure buffered audit
	// entries are flushed even when shutdown was not signal-initiated.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}
