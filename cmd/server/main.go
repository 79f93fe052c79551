package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/emailclean/internal/config"
	"github.com/JonMunkholm/emailclean/internal/core"
	"github.com/JonMunkholm/emailclean/internal/logging"
	"github.com/JonMunkholm/emailclean/internal/objectstore"
	"github.com/JonMunkholm/emailclean/internal/store"
	"github.com/JonMunkholm/emailclean/internal/web"
	"github.com/JonMunkholm/emailclean/internal/web/middleware"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"resolver", cfg.DNS.Resolver,
		"run_workers", cfg.Run.Workers,
		"run_max_concurrent", cfg.Run.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"archive_enabled", cfg.Archive.Enabled(),
	)

	ctx := context.Background()

	listStore, closeStore, err := store.Open(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to open list store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	resolver, err := core.NewResolver(cfg.DNS.Resolver, cfg.DNS.DoHEndpoint, cfg.DNS.Timeout)
	if err != nil {
		slog.Error("failed to create resolver", "error", err)
		os.Exit(1)
	}

	var (
		svcOpts    []core.ServiceOption
		serverOpts []web.Option
	)

	if p, ok := listStore.(store.Pinger); ok {
		serverOpts = append(serverOpts, web.WithHealthCheck("store", p.Ping))
	}

	if cfg.Archive.Enabled() {
		archive, err := objectstore.New(ctx, cfg.Archive)
		if err != nil {
			slog.Error("failed to connect to archive", "error", err)
			os.Exit(1)
		}
		svcOpts = append(svcOpts, core.WithArchiver(archive))
		serverOpts = append(serverOpts, web.WithHealthCheck("archive", archive.Check))
		slog.Info("archiving enabled", "endpoint", cfg.Archive.Endpoint, "bucket", cfg.Archive.Bucket)
	}

	if cfg.Security.OIDCIssuerURL != "" {
		auth, err := middleware.NewOIDCAuthenticator(ctx, cfg.Security.OIDCIssuerURL, cfg.Security.OIDCClientID)
		if err != nil {
			slog.Error("failed to set up OIDC", "error", err)
			os.Exit(1)
		}
		serverOpts = append(serverOpts, web.WithAuthenticator(auth))
		slog.Info("oidc identity enabled", "issuer", cfg.Security.OIDCIssuerURL)
	} else {
		slog.Warn("no OIDC issuer configured; trusting X-User-ID header")
	}

	service := core.NewService(listStore, core.NewValidator(resolver), core.ServiceConfig{
		MaxFileSize:     cfg.Upload.MaxFileSize,
		SessionTTL:      cfg.Upload.SessionTTL,
		Workers:         cfg.Run.Workers,
		MaxConcurrent:   cfg.Run.MaxConcurrent,
		MaxWaitTime:     cfg.Run.MaxWaitTime,
		ResultRetention: cfg.Run.ResultRetention,
	}, svcOpts...)

	server := web.NewServer(service, cfg, serverOpts...)

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Finish runs first so their progress streams close and the HTTP
		// shutdown is not held open by them.
		status := service.LimiterStatus()
		if status.Active > 0 {
			slog.Info("waiting for runs to complete", "active", status.Active)
		}
		if err := service.WaitForRuns(shutdownCtx); err != nil {
			slog.Warn("runs did not complete in time and were cancelled", "error", err)
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		closeStore()
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}
