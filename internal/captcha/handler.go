// Package captcha detects challenge pages, surfaces the challenge image for
// an external solver and waits for the genuine page to come back.
package captcha

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/storefront-scraper/internal/browser"
	"github.com/maltedev/storefront-scraper/internal/metrics"
)

// State is the handler's progress through one challenge.
type State string

const (
	StateNoChallenge        State = "no_challenge"
	StateDetected           State = "challenge_detected"
	StateAwaitingResolution State = "awaiting_resolution"
	StateResolved           State = "resolved"
	StateTimedOut           State = "timed_out"
)

const DefaultTimeout = 60 * time.Second

// Challenge is what gets published when a challenge page is detected.
type Challenge struct {
	Target     string    `json:"target"`
	Title      string    `json:"title"`
	ImageURL   string    `json:"imageUrl,omitempty"`
	DetectedAt time.Time `json:"detectedAt"`
}

// Notifier forwards challenges to whoever solves them.
type Notifier interface {
	Notify(ctx context.Context, c Challenge) error
}

// Result is the outcome of Handle.
type Result struct {
	State    State
	ImageURL string
	HasImage bool
}

// Config holds the site-specific detection settings.
type Config struct {
	TitleMarker       string
	ErrorMarker       string
	ImageCSS          string
	ImageXPath        string
	ResolvedSelectors []string
	Timeout           time.Duration
	ReloadTimeout     time.Duration
}

type Handler struct {
	cfg      Config
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Collector
}

func NewHandler(cfg Config, notifier Notifier, logger *slog.Logger, m *metrics.Collector) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ReloadTimeout <= 0 {
		cfg.ReloadTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:      cfg,
		notifier: notifier,
		logger:   logger.With("component", "captcha"),
		metrics:  m,
	}
}

// Handle never tries to solve the challenge. A timeout is not an error;
// the caller's completeness check decides whether the attempt still
// succeeded. Only ctx cancellation is returned.
func (h *Handler) Handle(ctx context.Context, page browser.Page, target string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	title, err := page.Title()
	if err != nil {
		h.logger.Warn("failed to read page title", "error", err)
		return Result{State: StateNoChallenge}, nil
	}
	if h.cfg.TitleMarker == "" || !strings.Contains(title, h.cfg.TitleMarker) {
		return Result{State: StateNoChallenge}, nil
	}

	res := Result{State: StateDetected}
	res.ImageURL, res.HasImage = h.imageURL(page)
	h.logger.Warn("captcha detected", "target", target, "title", title, "image", res.ImageURL)

	if h.notifier != nil {
		err := h.notifier.Notify(ctx, Challenge{
			Target:     target,
			Title:      title,
			ImageURL:   res.ImageURL,
			DetectedAt: time.Now().UTC(),
		})
		if err != nil {
			h.logger.Error("failed to publish captcha challenge", "error", err)
		}
	}

	h.reloadOnError(page)

	res.State = StateAwaitingResolution
	if err := ctx.Err(); err != nil {
		return res, err
	}

	selector := strings.Join(h.cfg.ResolvedSelectors, ", ")
	if err := page.WaitForSelector(selector, h.cfg.Timeout); err != nil {
		h.logger.Warn("captcha not resolved in time", "timeout", h.cfg.Timeout, "error", err)
		res.State = StateTimedOut
	} else {
		h.logger.Info("captcha resolved")
		res.State = StateResolved
	}

	h.metrics.RecordCaptcha(string(res.State))
	return res, nil
}

// imageURL tries the CSS selector against the page HTML first and the
// XPath in the live DOM second. Absence is reported, never raised.
func (h *Handler) imageURL(page browser.Page) (string, bool) {
	if h.cfg.ImageCSS != "" {
		if src, ok := h.imageFromHTML(page); ok {
			return src, true
		}
	}
	if h.cfg.ImageXPath != "" {
		return h.imageFromXPath(page)
	}
	return "", false
}

func (h *Handler) imageFromHTML(page browser.Page) (string, bool) {
	html, err := page.Content()
	if err != nil {
		h.logger.Debug("failed to read page content", "error", err)
		return "", false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}

	src, ok := doc.Find(h.cfg.ImageCSS).First().Attr("src")
	src = strings.TrimSpace(src)
	return src, ok && src != ""
}

const xpathImageScript = `(xpath) => {
	const node = document.evaluate(xpath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	return node && node.src ? node.src : null;
}`

func (h *Handler) imageFromXPath(page browser.Page) (string, bool) {
	res, err := page.Evaluate(xpathImageScript, h.cfg.ImageXPath)
	if err != nil {
		h.logger.Debug("xpath image lookup failed", "error", err)
		return "", false
	}
	src, _ := res.(string)
	return src, src != ""
}

func (h *Handler) reloadOnError(page browser.Page) {
	if h.cfg.ErrorMarker == "" {
		return
	}
	html, err := page.Content()
	if err != nil || !strings.Contains(html, h.cfg.ErrorMarker) {
		return
	}

	h.logger.Info("challenge page shows an error, reloading")
	if err := page.Reload(h.cfg.ReloadTimeout); err != nil {
		h.logger.Warn("failed to reload challenge page", "error", err)
	}
}
