// Package browser abstracts the live browser page the scraper drives, so the
// navigation and capture logic can run against playwright or a fake.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/maltedev/storefront-scraper/internal/models"
)

// Response is one network response observed on a page.
type Response interface {
	URL() string
	Status() int
	Header(name string) string
	Body() ([]byte, error)
}

// GotoOptions controls a single navigation.
type GotoOptions struct {
	Referer string
	Timeout time.Duration
}

// Page is the subset of page operations the scraper needs. Every method is a
// suspension point bounded by its own timeout.
type Page interface {
	Goto(url string, opts GotoOptions) error
	Reload(timeout time.Duration) error
	Title() (string, error)
	Content() (string, error)
	IsClosed() bool

	IsVisible(selector string) (bool, error)
	Exists(selector string) (bool, error)
	Click(selector string) error
	ScrollIntoView(selector string) error
	WaitForSelector(selector string, timeout time.Duration) error
	WaitForNetworkIdle(timeout time.Duration) error

	Wheel(deltaX, deltaY float64) error
	MoveMouse(x, y float64, steps int) error
	Evaluate(expression string, arg any) (any, error)

	// OnResponse registers fn for every response until the returned func is
	// called. fn runs on the browser's event goroutine.
	OnResponse(fn func(Response)) (unsubscribe func())
}

// Session is one launched browser context bound to a fingerprint and at most
// one proxy. It is never reused across attempts.
type Session interface {
	Page() Page
	Proxy() *models.ProxyIdentity
	Fingerprint() models.Fingerprint
	Close() error
}

// Options are the launch settings shared by every session.
type Options struct {
	Headless          bool
	Locale            string
	TimezoneID        string
	Args              []string
	Permissions       []string
	NavigationTimeout time.Duration
	DefaultTimeout    time.Duration
	StealthScript     string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:   true,
		Locale:     "ko-KR",
		TimezoneID: "Asia/Seoul",
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--disable-webrtc",
			"--disable-features=WebRtcHideLocalIpsWithMdns",
			"--disable-device-discovery-notifications",
			"--disable-extensions",
		},
		Permissions:       []string{"geolocation"},
		NavigationTimeout: 60 * time.Second,
		DefaultTimeout:    30 * time.Second,
		StealthScript:     StealthScript,
	}
}

// StealthScript hides the most common automation markers.
const StealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
window.chrome = { runtime: {} };
Object.defineProperty(navigator, 'languages', { get: () => ['ko-KR', 'ko', 'en-US', 'en'] });
`

const scrollStepScript = `(step) => {
	window.scrollBy(0, step);
	return window.scrollY + window.innerHeight >= document.body.scrollHeight;
}`

// ScrollOptions bounds ScrollToBottom.
type ScrollOptions struct {
	Step     int
	Interval time.Duration
	Timeout  time.Duration
}

func DefaultScrollOptions() ScrollOptions {
	return ScrollOptions{Step: 400, Interval: 100 * time.Millisecond, Timeout: 15 * time.Second}
}

// ScrollToBottom scrolls in fixed steps until the end of the document, the
// timeout, or ctx cancellation. Reaching the timeout is not an error.
func ScrollToBottom(ctx context.Context, page Page, opts ScrollOptions, sleep func(context.Context, time.Duration) error) error {
	if opts.Step <= 0 {
		opts = DefaultScrollOptions()
	}
	deadline := time.Now().Add(opts.Timeout)

	for time.Now().Before(deadline) {
		res, err := page.Evaluate(scrollStepScript, opts.Step)
		if err != nil {
			return fmt.Errorf("failed to scroll page: %w", err)
		}
		if done, _ := res.(bool); done {
			return nil
		}
		if err := sleep(ctx, opts.Interval); err != nil {
			return err
		}
	}
	return nil
}
