package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/storefront-scraper/internal/api"
	"github.com/maltedev/storefront-scraper/internal/app"
	"github.com/maltedev/storefront-scraper/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		app.NewLogger(config.LoggingConfig{}, nil).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg.Logging, os.Stdout)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	if a.Relay != nil {
		go func() {
			if err := a.Relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay stopped with error", "error", err)
			}
		}()
	}

	var outbox api.OutboxStats
	if a.Relay != nil {
		outbox = a.Relay
	}
	handlers := api.NewHandlers(a.Service, a.Proxies, a.Pool, outbox, logger)
	router := api.NewRouter(handlers, api.RouterConfig{RequestTimeout: cfg.Server.RequestTimeout}, a.Metrics, logger)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  2 * cfg.Server.ReadTimeout,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
		if err := a.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to release resources", "error", err)
		}
	}()

	logger.Info("server starting",
		"addr", server.Addr,
		"platforms", a.Service.Platforms(),
		"max_concurrent", cfg.Scraper.MaxConcurrent,
		"with_proxy", cfg.Proxy.Enabled)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	<-done
	logger.Info("server stopped")
}
