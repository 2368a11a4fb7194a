// Package app assembles the scrape engine from configuration. It is shared
// by the HTTP server and the one-shot CLI.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/maltedev/storefront-scraper/internal/browser"
	"github.com/maltedev/storefront-scraper/internal/cache"
	"github.com/maltedev/storefront-scraper/internal/captcha"
	"github.com/maltedev/storefront-scraper/internal/config"
	"github.com/maltedev/storefront-scraper/internal/database"
	"github.com/maltedev/storefront-scraper/internal/events"
	"github.com/maltedev/storefront-scraper/internal/fingerprint"
	"github.com/maltedev/storefront-scraper/internal/metrics"
	"github.com/maltedev/storefront-scraper/internal/models"
	"github.com/maltedev/storefront-scraper/internal/navigation"
	"github.com/maltedev/storefront-scraper/internal/pacing"
	"github.com/maltedev/storefront-scraper/internal/proxy"
	"github.com/maltedev/storefront-scraper/internal/queue"
	"github.com/maltedev/storefront-scraper/internal/scraper"
	"github.com/maltedev/storefront-scraper/internal/site"
	"github.com/redis/go-redis/v9"
)

// App owns every long-lived component.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Collector
	Proxies *proxy.Registry
	Pool    *queue.Pool
	Service *scraper.Service
	// Relay is nil unless both the database and Redis are enabled.
	Relay *database.Relay

	closers []func() error
}

type options struct {
	launcher browser.Launcher
	metrics  *metrics.Collector
}

type Option func(*options)

// WithLauncher replaces the playwright launcher.
func WithLauncher(l browser.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := o.metrics
	if m == nil {
		m = metrics.NewCollector("storefront")
	}

	a := &App{Config: cfg, Logger: logger, Metrics: m}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	var recorder scraper.RunRecorder
	if cfg.Database.Enabled {
		db, err := database.New(ctx, cfg.Database.Postgres())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, func() error { db.Close(); return nil })
		recorder = events.NewPublisher(db, logger)
		if rdb != nil {
			a.Relay = database.NewRelay(db, rdb, logger, database.RelayConfig{})
		}
	}

	fingerprints := fingerprint.New(cfg.Scraper.Seed, cfg.Scraper.UserAgents, nil)

	proxies, err := loadProxies(cfg.Proxy)
	if err != nil {
		return nil, err
	}
	registryOpts := []proxy.Option{
		proxy.WithTTL(cfg.Proxy.QuarantineTTL),
		proxy.WithLogger(logger),
		proxy.WithMetrics(m),
	}
	if cfg.Proxy.ProbeEnabled {
		target := cfg.Proxy.ProbeURL
		if target == "" {
			target = cfg.Target.BaseURL
		}
		registryOpts = append(registryOpts, proxy.WithProber(
			proxy.NewHTTPProber(target, cfg.Proxy.ProbeTimeout, fingerprints.UserAgent)))
	}
	a.Proxies = proxy.NewRegistry(proxies, registryOpts...)
	if cfg.Proxy.Enabled {
		logger.Info("proxy rotation enabled",
			"proxies", a.Proxies.Len(),
			"direct_fallback", cfg.Proxy.AllowDirectFallback)
	}

	launcher := o.launcher
	if launcher == nil {
		bopts := browser.DefaultOptions()
		bopts.Headless = cfg.Browser.Headless
		bopts.Locale = cfg.Browser.Locale
		bopts.TimezoneID = cfg.Browser.TimezoneID
		bopts.NavigationTimeout = cfg.Scraper.NavigationTimeout
		bopts.DefaultTimeout = cfg.Scraper.SelectorTimeout
		pl, err := browser.NewPlaywrightLauncher(bopts, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pl.Close)
		launcher = pl
	}

	sessions := browser.NewBuilder(browser.BuilderConfig{
		ProfileRoot:         cfg.Scraper.ProfileDir,
		UseProxy:            cfg.Proxy.Enabled,
		AllowDirectFallback: cfg.Proxy.AllowDirectFallback,
	}, launcher, a.Proxies, fingerprints, logger, m)

	target := site.Naver(cfg.Target.BaseURL).WithChallenge(
		cfg.Target.CaptchaTitleMarker,
		cfg.Target.CaptchaImageSelector,
		cfg.Target.CaptchaImageXPath,
		cfg.Target.CaptchaResolved,
	)

	pacer := pacing.New(cfg.Scraper.Seed)

	var notifier captcha.Notifier
	if rdb != nil {
		notifier = events.NewChallengePublisher(rdb, logger)
	}
	challenges := captcha.NewHandler(captcha.Config{
		TitleMarker:       target.ChallengeTitleMarker,
		ErrorMarker:       target.ChallengeErrorMarker,
		ImageCSS:          target.ChallengeImageCSS,
		ImageXPath:        target.ChallengeImageXPath,
		ResolvedSelectors: target.ResolvedSelectors,
		Timeout:           cfg.Scraper.CaptchaTimeout,
		ReloadTimeout:     cfg.Scraper.SelectorTimeout,
	}, notifier, logger, m)

	nav := navigation.NewSequencer(navigation.Config{
		NavigationTimeout: cfg.Scraper.NavigationTimeout,
		ResponseTimeout:   cfg.Scraper.SelectorTimeout,
	}, target, pacer, logger, m)

	scroll := browser.DefaultScrollOptions()
	scroll.Timeout = cfg.Scraper.ScrollTimeout

	orch := scraper.NewOrchestrator(scraper.Config{
		MaxRetries:         cfg.Scraper.MaxRetries,
		CoolDown:           cfg.Scraper.CoolDown,
		NetworkIdleTimeout: cfg.Scraper.NetworkIdleTimeout,
		CaptureWait:        cfg.Scraper.CaptureWait,
		Scroll:             scroll,
	}, target, sessions, nav, challenges, a.Proxies, pacer, m)

	var resultCache scraper.Cache
	switch cfg.Cache.Backend {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis cache requires REDIS_ENABLED")
		}
		resultCache = cache.NewRedisCache(rdb, "storefront:capture:", cfg.Cache.TTL, logger)
	default:
		mem := cache.NewMemoryCache(cfg.Cache.TTL, 1000, time.Minute)
		a.closers = append(a.closers, mem.Close)
		resultCache = mem
	}

	a.Pool = queue.NewPool(cfg.Scraper.MaxConcurrent, m)
	a.Service = scraper.NewService(scraper.NewRegistry(orch), resultCache, a.Pool, recorder, logger, m)

	ok = true
	return a, nil
}

func loadProxies(cfg config.ProxyConfig) ([]models.ProxyIdentity, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	list, err := proxy.LoadFile(cfg.File)
	if err != nil {
		return nil, err
	}
	return proxy.Merge(list, models.ProxyIdentity{
		Server:   cfg.URL,
		Username: cfg.Username,
		Password: cfg.Password,
	}), nil
}

// Shutdown drains in-flight scrapes, then releases resources.
func (a *App) Shutdown(ctx context.Context) error {
	var drainErr error
	if a.Pool != nil {
		drainErr = a.Pool.Close(ctx)
	}
	if err := a.Close(); err != nil {
		return err
	}
	return drainErr
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
