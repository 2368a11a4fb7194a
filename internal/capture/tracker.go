// Package capture records the background API payloads observed during one
// scrape attempt and decides when the capture is complete.
package capture

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/storefront-scraper/internal/browser"
	"github.com/maltedev/storefront-scraper/internal/models"
)

// Matcher classifies response URLs.
type Matcher interface {
	IsBenefitsURL(u string) bool
	IsProductDetailsURL(u string) bool
	IsInteresting(u string) bool
}

// Tracker is owned by exactly one attempt. Each field has a single writer
// path (Observe) and the last observed payload wins, even when body reads
// finish out of order.
type Tracker struct {
	matcher       Matcher
	onRateLimited func()
	logger        *slog.Logger

	mu          sync.Mutex
	capture     models.Capture
	seq         uint64
	benefitsSeq uint64
	detailsSeq  uint64
	updated     chan struct{}
}

func NewTracker(matcher Matcher, onRateLimited func(), logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		matcher:       matcher,
		onRateLimited: onRateLimited,
		logger:        logger,
		updated:       make(chan struct{}, 1),
	}
}

// Attach subscribes the tracker to page responses. The returned func
// detaches it.
func (t *Tracker) Attach(page browser.Page) func() {
	return page.OnResponse(t.Observe)
}

// Observe handles one network response.
func (t *Tracker) Observe(resp browser.Response) {
	u := resp.URL()
	status := resp.Status()

	if status == http.StatusTooManyRequests {
		t.logger.Warn("rate limited", "url", u)
		if t.onRateLimited != nil {
			t.onRateLimited()
		}
		return
	}
	if status >= 400 && t.matcher.IsInteresting(u) {
		t.logger.Warn("api error response", "url", u, "status", status)
	}

	if !strings.Contains(strings.ToLower(resp.Header("content-type")), "application/json") {
		return
	}

	isBenefits := t.matcher.IsBenefitsURL(u)
	isDetails := t.matcher.IsProductDetailsURL(u)
	if !isBenefits && !isDetails {
		return
	}

	t.mu.Lock()
	t.seq++
	seq := t.seq
	t.mu.Unlock()

	// Reading the body is a round trip to the browser and Observe runs on
	// the driver's event goroutine.
	go t.store(resp, seq, isBenefits, isDetails)
}

func (t *Tracker) store(resp browser.Response, seq uint64, isBenefits, isDetails bool) {
	u := resp.URL()
	body, err := resp.Body()
	if err != nil {
		t.logger.Debug("failed to read response body", "url", u, "error", err)
		return
	}
	if !models.IsValidData(body) {
		t.logger.Debug("ignoring empty or malformed json response", "url", u)
		return
	}

	stored := false
	t.mu.Lock()
	if isBenefits && seq > t.benefitsSeq {
		t.capture.Benefits = json.RawMessage(body)
		t.benefitsSeq = seq
		stored = true
	}
	if isDetails && seq > t.detailsSeq {
		t.capture.ProductDetails = json.RawMessage(body)
		t.detailsSeq = seq
		stored = true
	}
	t.mu.Unlock()

	if !stored {
		t.logger.Debug("dropping superseded response", "url", u)
		return
	}
	t.logger.Debug("captured response", "url", u, "benefits", isBenefits, "product_details", isDetails)
	t.notify()
}

func (t *Tracker) notify() {
	select {
	case t.updated <- struct{}{}:
	default:
	}
}

// Snapshot returns a copy of the current capture.
func (t *Tracker) Snapshot() *models.Capture {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.capture.Clone()
}

func (t *Tracker) Complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.capture.Complete()
}

func (t *Tracker) Missing() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.capture.Missing()
}

// Partial reports whether at least one field holds valid data.
func (t *Tracker) Partial() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return models.IsValidData(t.capture.Benefits) || models.IsValidData(t.capture.ProductDetails)
}

// WaitComplete re-checks completeness on every update until it holds, the
// timeout elapses, or ctx is done.
func (t *Tracker) WaitComplete(ctx context.Context, timeout time.Duration) bool {
	if t.Complete() {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return t.Complete()
		case <-timer.C:
			return t.Complete()
		case <-t.updated:
			if t.Complete() {
				return true
			}
		}
	}
}
