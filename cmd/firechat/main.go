package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shuymn-sandbox/firechat/internal/backend"
	"github.com/shuymn-sandbox/firechat/internal/config"
	"github.com/shuymn-sandbox/firechat/pkg/feed"
	"github.com/shuymn-sandbox/firechat/pkg/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("firechat stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := backend.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			slog.Error("failed to close backend", "error", err)
		}
	}()

	hub := feed.NewHub(b.Store)
	hubErr := make(chan error, 1)
	go func() {
		hubErr <- hub.Run(ctx)
	}()

	srv := server.New(server.Config{
		StaticDir:        cfg.StaticDir,
		MaxMessageLength: cfg.MaxMessageLength,
		RevokeOnSignOut:  cfg.RevokeOnSignOut,
		Web: server.WebConfig{
			APIKey:     cfg.FirebaseWebAPIKey,
			AuthDomain: cfg.FirebaseAuthDomain,
			ProjectID:  cfg.FirebaseProjectID,
		},
	}, b.Provider, b.Store, hub)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.Addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err = <-hubErr:
		slog.Error("message feed stopped", "error", err)
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Error("failed to shut down server", "error", shutdownErr)
	}

	slog.Info("server stopped gracefully")
	return err
}
