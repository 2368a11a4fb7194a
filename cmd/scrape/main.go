package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/maltedev/storefront-scraper/internal/app"
	"github.com/maltedev/storefront-scraper/internal/config"
	"github.com/maltedev/storefront-scraper/internal/models"
)

func main() {
	var (
		productURL = flag.String("url", "", "Product URL to scrape")
		platform   = flag.String("platform", "naver", "Platform tag")
		headless   = flag.Bool("headless", true, "Run browser in headless mode")
		retries    = flag.Int("retries", 0, "Override SCRAPER_MAX_RETRIES")
	)
	flag.Parse()

	if *productURL == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Browser.Headless = *headless
	if *retries > 0 {
		cfg.Scraper.MaxRetries = *retries
	}
	cfg.Scraper.MaxConcurrent = 1

	logger := app.NewLogger(cfg.Logging, os.Stderr)
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
	defer a.Close()

	result, err := a.Service.Scrape(ctx, *platform, *productURL, uuid.New().String())
	if err != nil {
		logger.Error("scrape failed", "error", err, "code", models.CodeOf(err))
		a.Close()
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logger.Error("failed to write result", "error", err)
	}
}
