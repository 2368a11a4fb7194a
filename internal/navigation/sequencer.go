// Package navigation reaches a product page the way a shopper would: browse
// the store, then search it, and only then deep-link.
package navigation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/storefront-scraper/internal/browser"
	"github.com/maltedev/storefront-scraper/internal/metrics"
	"github.com/maltedev/storefront-scraper/internal/models"
	"github.com/maltedev/storefront-scraper/internal/pacing"
)

type Strategy string

const (
	StrategyBrowseHome  Strategy = "browse_home"
	StrategyTopCheck    Strategy = "top_check"
	StrategyStoreSearch Strategy = "store_search"
	StrategyDirect      Strategy = "direct"
)

// Topology builds the URLs and selectors for a product.
type Topology interface {
	StoreURL(ref models.ProductRef) string
	SearchURL(ref models.ProductRef) string
	ProductURL(ref models.ProductRef) string
	ProductLinkSelector(ref models.ProductRef) string
	ProductPathFragment(ref models.ProductRef) string
}

// Outcome describes how the product page was reached.
type Outcome struct {
	Strategy     Strategy
	Clicked      bool
	Corroborated bool
}

// Timing holds the randomized delay ranges between steps.
type Timing struct {
	SettleMin      time.Duration
	SettleMax      time.Duration
	ClickDelayMin  time.Duration
	ClickDelayMax  time.Duration
	ScrollPauseMin time.Duration
	ScrollPauseMax time.Duration
	TopCheckWait   time.Duration
	ScrollsMin     int
	ScrollsMax     int
	WheelMin       float64
	WheelMax       float64
	MouseChance    float64
	MouseMin       float64
	MouseMax       float64
	MouseSteps     int
}

func DefaultTiming() Timing {
	return Timing{
		SettleMin:      2 * time.Second,
		SettleMax:      3 * time.Second,
		ClickDelayMin:  800 * time.Millisecond,
		ClickDelayMax:  1500 * time.Millisecond,
		ScrollPauseMin: time.Second,
		ScrollPauseMax: 2 * time.Second,
		TopCheckWait:   time.Second,
		ScrollsMin:     3,
		ScrollsMax:     5,
		WheelMin:       400,
		WheelMax:       900,
		MouseChance:    0.4,
		MouseMin:       200,
		MouseMax:       600,
		MouseSteps:     5,
	}
}

type Config struct {
	NavigationTimeout time.Duration
	ResponseTimeout   time.Duration
	Timing            Timing
}

type Sequencer struct {
	cfg      Config
	topology Topology
	pacer    *pacing.Pacer
	logger   *slog.Logger
	metrics  *metrics.Collector
}

func NewSequencer(cfg Config, topology Topology, pacer *pacing.Pacer, logger *slog.Logger, m *metrics.Collector) *Sequencer {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 60 * time.Second
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 30 * time.Second
	}
	if cfg.Timing.ScrollsMax == 0 {
		cfg.Timing = DefaultTiming()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		cfg:      cfg,
		topology: topology,
		pacer:    pacer,
		logger:   logger.With("component", "navigation"),
		metrics:  m,
	}
}

// Navigate leaves page on the product. Failure to open the store pages
// only moves on to the next strategy; failure of the direct deep link is a
// navigation error.
func (s *Sequencer) Navigate(ctx context.Context, page browser.Page, ref models.ProductRef) (Outcome, error) {
	link := s.topology.ProductLinkSelector(ref)
	storeURL := s.topology.StoreURL(ref)
	var (
		out  Outcome
		wait *corroboration
	)

	clicked, wait, err := s.browseHome(ctx, page, ref, storeURL, link, &out)
	if err != nil {
		return out, err
	}

	if !clicked {
		clicked, wait, err = s.storeSearch(ctx, page, ref, link)
		if err != nil {
			return out, err
		}
		if clicked {
			out.Strategy = StrategyStoreSearch
		}
	}

	if clicked {
		out.Clicked = true
		out.Corroborated = wait.await(ctx, s.cfg.ResponseTimeout)
		if !out.Corroborated {
			s.logger.Warn("no product response after click", "product_id", ref.ProductID, "strategy", out.Strategy)
		}
	} else {
		productURL := s.topology.ProductURL(ref)
		s.logger.Info("falling back to direct navigation", "url", productURL)
		if err := page.Goto(productURL, browser.GotoOptions{Referer: storeURL, Timeout: s.cfg.NavigationTimeout}); err != nil {
			return out, models.NewError(models.CodeNavigation, "failed to open product page", err)
		}
		out.Strategy = StrategyDirect
	}

	s.metrics.RecordNavigation(string(out.Strategy))
	s.logger.Info("reached product page", "product_id", ref.ProductID, "strategy", out.Strategy, "corroborated", out.Corroborated)
	return out, nil
}

func (s *Sequencer) browseHome(ctx context.Context, page browser.Page, ref models.ProductRef, storeURL, link string, out *Outcome) (bool, *corroboration, error) {
	t := s.cfg.Timing

	if err := page.Goto(storeURL, browser.GotoOptions{Timeout: s.cfg.NavigationTimeout}); err != nil {
		s.logger.Warn("failed to open store home", "url", storeURL, "error", err)
		return false, nil, nil
	}
	if err := s.pacer.Pause(ctx, t.SettleMin, t.SettleMax); err != nil {
		return false, nil, err
	}

	scrolls := s.pacer.Int(t.ScrollsMin, t.ScrollsMax)
	for i := 0; i < scrolls; i++ {
		if visible, _ := page.IsVisible(link); visible {
			out.Strategy = StrategyBrowseHome
			return s.click(ctx, page, ref, link)
		}

		if err := page.Wheel(0, s.pacer.Float(t.WheelMin, t.WheelMax)); err != nil {
			s.logger.Debug("wheel failed", "error", err)
		}
		if err := s.pacer.Pause(ctx, t.ScrollPauseMin, t.ScrollPauseMax); err != nil {
			return false, nil, err
		}
		if s.pacer.Chance(t.MouseChance) {
			x, y := s.pacer.Float(t.MouseMin, t.MouseMax), s.pacer.Float(t.MouseMin, t.MouseMax)
			if err := page.MoveMouse(x, y, t.MouseSteps); err != nil {
				s.logger.Debug("mouse move failed", "error", err)
			}
		}
	}

	// One last look from the top before giving up on the home page.
	if _, err := page.Evaluate("() => window.scrollTo(0, 0)", nil); err != nil {
		s.logger.Debug("scroll to top failed", "error", err)
	}
	if err := s.pacer.Wait(ctx, t.TopCheckWait); err != nil {
		return false, nil, err
	}
	if visible, _ := page.IsVisible(link); visible {
		out.Strategy = StrategyTopCheck
		return s.click(ctx, page, ref, link)
	}

	s.logger.Info("product link not found on store home", "product_id", ref.ProductID, "scrolls", scrolls)
	return false, nil, nil
}

func (s *Sequencer) storeSearch(ctx context.Context, page browser.Page, ref models.ProductRef, link string) (bool, *corroboration, error) {
	t := s.cfg.Timing
	searchURL := s.topology.SearchURL(ref)

	if err := page.Goto(searchURL, browser.GotoOptions{Timeout: s.cfg.NavigationTimeout}); err != nil {
		s.logger.Warn("failed to open store search", "url", searchURL, "error", err)
		return false, nil, nil
	}
	if err := s.pacer.Pause(ctx, t.SettleMin, t.SettleMax); err != nil {
		return false, nil, err
	}

	if found, _ := page.Exists(link); !found {
		s.logger.Info("product link not found in store search", "product_id", ref.ProductID)
		return false, nil, nil
	}
	return s.click(ctx, page, ref, link)
}

// click subscribes for the corroborating response before clicking, so a
// fast response cannot be missed.
func (s *Sequencer) click(ctx context.Context, page browser.Page, ref models.ProductRef, link string) (bool, *corroboration, error) {
	t := s.cfg.Timing

	if err := page.ScrollIntoView(link); err != nil {
		s.logger.Debug("scroll into view failed", "error", err)
	}
	if err := s.pacer.Pause(ctx, t.ClickDelayMin, t.ClickDelayMax); err != nil {
		return false, nil, err
	}

	wait := watch(page, s.topology.ProductPathFragment(ref))
	if err := page.Click(link); err != nil {
		wait.stop()
		s.logger.Warn("failed to click product link", "error", err)
		return false, nil, nil
	}
	return true, wait, nil
}

type corroboration struct {
	seen chan struct{}
	stop func()
}

func watch(page browser.Page, fragment string) *corroboration {
	c := &corroboration{seen: make(chan struct{}, 1)}
	c.stop = page.OnResponse(func(resp browser.Response) {
		if resp.Status() != 0 && strings.Contains(resp.URL(), fragment) {
			select {
			case c.seen <- struct{}{}:
			default:
			}
		}
	})
	return c
}

func (c *corroboration) await(ctx context.Context, timeout time.Duration) bool {
	defer c.stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.seen:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
