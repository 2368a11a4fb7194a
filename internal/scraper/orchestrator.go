package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/storefront-scraper/internal/browser"
	"github.com/maltedev/storefront-scraper/internal/captcha"
	"github.com/maltedev/storefront-scraper/internal/capture"
	"github.com/maltedev/storefront-scraper/internal/metrics"
	"github.com/maltedev/storefront-scraper/internal/models"
	"github.com/maltedev/storefront-scraper/internal/navigation"
	"github.com/maltedev/storefront-scraper/internal/pacing"
	"github.com/maltedev/storefront-scraper/internal/site"
)

// SessionFactory opens a fresh browser session for one attempt.
type SessionFactory interface {
	Build(ctx context.Context, platform string) (browser.Session, error)
}

type Navigator interface {
	Navigate(ctx context.Context, page browser.Page, ref models.ProductRef) (navigation.Outcome, error)
}

type ChallengeHandler interface {
	Handle(ctx context.Context, page browser.Page, target string) (captcha.Result, error)
}

// ProxyReporter receives proxy health feedback.
type ProxyReporter interface {
	MarkBad(p models.ProxyIdentity, reason string)
}

type Config struct {
	MaxRetries         int
	CoolDown           time.Duration
	NetworkIdleTimeout time.Duration
	CaptureWait        time.Duration
	Scroll             browser.ScrollOptions
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:         3,
		CoolDown:           2 * time.Second,
		NetworkIdleTimeout: 10 * time.Second,
		CaptureWait:        10 * time.Second,
		Scroll:             browser.DefaultScrollOptions(),
	}
}

// Orchestrator runs the attempt loop for one site. Attempts for a request
// are strictly sequential and share nothing except proxy health.
type Orchestrator struct {
	cfg        Config
	site       *site.Site
	sessions   SessionFactory
	navigator  Navigator
	challenges ChallengeHandler
	proxies    ProxyReporter
	pacer      *pacing.Pacer
	metrics    *metrics.Collector
}

func NewOrchestrator(cfg Config, s *site.Site, sessions SessionFactory, nav Navigator, challenges ChallengeHandler, proxies ProxyReporter, pacer *pacing.Pacer, m *metrics.Collector) *Orchestrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return &Orchestrator{
		cfg:        cfg,
		site:       s,
		sessions:   sessions,
		navigator:  nav,
		challenges: challenges,
		proxies:    proxies,
		pacer:      pacer,
		metrics:    m,
	}
}

func (o *Orchestrator) Platform() string {
	return o.site.Name
}

func (o *Orchestrator) CacheKey(url string) (string, error) {
	ref, err := o.site.ParseURL(url)
	if err != nil {
		return "", err
	}
	return o.site.ProductURL(ref), nil
}

// Scrape returns a complete capture or a single terminal error after the
// attempt budget is spent. Partial data is never returned. The terminal
// error is the last classified one when there was any.
func (o *Orchestrator) Scrape(ctx context.Context, url string, logger *slog.Logger) (*models.Capture, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ref, err := o.site.ParseURL(url)
	if err != nil {
		return nil, err
	}
	logger = logger.With("platform", o.site.Name, "store", ref.StoreName, "product_id", ref.ProductID)

	var lastErr, lastClassified error
	for attempt := 1; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			if err := o.pacer.Wait(ctx, o.cfg.CoolDown); err != nil {
				return nil, models.NewError(models.CodeScraper, "scrape cancelled", err)
			}
		}

		alog := logger.With("attempt", attempt, "max_attempts", o.cfg.MaxRetries)
		alog.Info("starting attempt")

		data, err := o.attempt(ctx, ref, alog)
		if err == nil {
			o.metrics.RecordAttempt(o.site.Name, "success")
			alog.Info("capture complete")
			return data, nil
		}

		o.metrics.RecordAttempt(o.site.Name, strings.ToLower(string(models.CodeOf(err))))
		alog.Warn("attempt failed", "error", err)

		if ctx.Err() != nil {
			return nil, models.NewError(models.CodeScraper, "scrape cancelled", ctx.Err())
		}

		lastErr = err
		if models.IsClassified(err) {
			lastClassified = err
		}
		if errors.Is(err, models.ErrProxy) {
			return nil, err
		}
	}

	if lastClassified != nil {
		return nil, lastClassified
	}
	return nil, models.NewError(models.CodeScraper,
		fmt.Sprintf("failed to capture complete data after %d attempts", o.cfg.MaxRetries), lastErr)
}

// attempt runs one full cycle. The session is closed on every path.
func (o *Orchestrator) attempt(ctx context.Context, ref models.ProductRef, logger *slog.Logger) (data *models.Capture, err error) {
	sess, err := o.sessions.Build(ctx, o.site.Name)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logger.Warn("failed to close session", "error", cerr)
		}
	}()

	proxy := sess.Proxy()
	page := sess.Page()

	tracker := capture.NewTracker(o.site, func() {
		o.metrics.RecordRateLimited()
		o.reportProxy(proxy, "rate limited")
	}, logger)
	detach := tracker.Attach(page)
	defer detach()

	if _, err := o.navigator.Navigate(ctx, page, ref); err != nil {
		return nil, err
	}

	if _, err := o.challenges.Handle(ctx, page, o.site.ProductURL(ref)); err != nil {
		return nil, err
	}

	if page.IsClosed() {
		return nil, models.NewError(models.CodeNavigation, "target page closed", nil)
	}

	if err := browser.ScrollToBottom(ctx, page, o.cfg.Scroll, o.pacer.Wait); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("scroll to bottom failed", "error", err)
	}

	if tracker.Complete() {
		return tracker.Snapshot(), nil
	}

	logger.Info("capture incomplete, waiting for network idle", "missing", tracker.Missing())
	if err := page.WaitForNetworkIdle(o.cfg.NetworkIdleTimeout); err != nil {
		logger.Debug("network idle wait ended", "error", err)
	}
	if tracker.WaitComplete(ctx, o.cfg.CaptureWait) {
		return tracker.Snapshot(), nil
	}

	missing := tracker.Missing()
	logger.Warn("capture incomplete after idle wait", "missing", missing, "partial", tracker.Partial())
	o.reportProxy(proxy, "incomplete data")
	return nil, models.Errorf(models.CodeScraper, "incomplete data: missing %s", strings.Join(missing, ", "))
}

func (o *Orchestrator) reportProxy(proxy *models.ProxyIdentity, reason string) {
	if proxy == nil || o.proxies == nil {
		return
	}
	o.proxies.MarkBad(*proxy, reason)
}
