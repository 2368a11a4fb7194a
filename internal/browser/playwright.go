package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/storefront-scraper/internal/models"
	"github.com/playwright-community/playwright-go"
)

// PlaywrightLauncher starts persistent Chromium contexts. One playwright
// driver is shared by every session.
type PlaywrightLauncher struct {
	pw     *playwright.Playwright
	opts   *Options
	logger *slog.Logger
}

func NewPlaywrightLauncher(opts *Options, logger *slog.Logger) (*PlaywrightLauncher, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	return &PlaywrightLauncher{
		pw:     pw,
		opts:   opts,
		logger: logger.With("component", "browser"),
	}, nil
}

// Launch opens a persistent context in spec.ProfileDir.
func (l *PlaywrightLauncher) Launch(ctx context.Context, spec LaunchSpec) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(spec.ProfileDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile dir: %w", err)
	}

	fp := spec.Fingerprint
	launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:          playwright.Bool(l.opts.Headless),
		Args:              l.opts.Args,
		UserAgent:         playwright.String(fp.UserAgent),
		Viewport:          &playwright.Size{Width: fp.Viewport.Width, Height: fp.Viewport.Height},
		Locale:            playwright.String(l.opts.Locale),
		TimezoneId:        playwright.String(l.opts.TimezoneID),
		JavaScriptEnabled: playwright.Bool(true),
		Permissions:       l.opts.Permissions,
	}
	if spec.Proxy != nil {
		launchOpts.Proxy = &playwright.Proxy{
			Server:   spec.Proxy.Server,
			Username: optionalString(spec.Proxy.Username),
			Password: optionalString(spec.Proxy.Password),
		}
	}

	bctx, err := l.pw.Chromium.LaunchPersistentContext(spec.ProfileDir, launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser context: %w", err)
	}

	if l.opts.StealthScript != "" {
		if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(l.opts.StealthScript)}); err != nil {
			bctx.Close()
			return nil, fmt.Errorf("failed to add init script: %w", err)
		}
	}

	var page playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else if page, err = bctx.NewPage(); err != nil {
		bctx.Close()
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(l.opts.DefaultTimeout.Milliseconds()))
	page.SetDefaultNavigationTimeout(float64(l.opts.NavigationTimeout.Milliseconds()))

	return &playwrightSession{
		bctx:        bctx,
		page:        newPlaywrightPage(page),
		proxy:       spec.Proxy,
		fingerprint: fp,
	}, nil
}

// Close stops the playwright driver.
func (l *PlaywrightLauncher) Close() error {
	if err := l.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return playwright.String(s)
}

type playwrightSession struct {
	bctx        playwright.BrowserContext
	page        *playwrightPage
	proxy       *models.ProxyIdentity
	fingerprint models.Fingerprint
	closeOnce   sync.Once
	closeErr    error
}

func (s *playwrightSession) Page() Page                      { return s.page }
func (s *playwrightSession) Proxy() *models.ProxyIdentity    { return s.proxy }
func (s *playwrightSession) Fingerprint() models.Fingerprint { return s.fingerprint }

func (s *playwrightSession) Close() error {
	s.closeOnce.Do(func() {
		if err := s.bctx.Close(); err != nil {
			s.closeErr = fmt.Errorf("failed to close context: %w", err)
		}
	})
	return s.closeErr
}

// playwrightPage registers a single response listener and fans out to
// subscribers, so each attempt can detach its own observer.
type playwrightPage struct {
	page playwright.Page

	mu     sync.Mutex
	nextID int
	subs   map[int]func(Response)
}

func newPlaywrightPage(page playwright.Page) *playwrightPage {
	p := &playwrightPage{page: page, subs: make(map[int]func(Response))}
	page.OnResponse(func(resp playwright.Response) {
		p.dispatch(playwrightResponse{resp})
	})
	return p
}

func (p *playwrightPage) dispatch(resp Response) {
	p.mu.Lock()
	subs := make([]func(Response), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(resp)
	}
}

func (p *playwrightPage) OnResponse(fn func(Response)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

func (p *playwrightPage) Goto(url string, opts GotoOptions) error {
	gotoOpts := playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}
	if opts.Referer != "" {
		gotoOpts.Referer = playwright.String(opts.Referer)
	}
	if opts.Timeout > 0 {
		gotoOpts.Timeout = playwright.Float(float64(opts.Timeout.Milliseconds()))
	}
	_, err := p.page.Goto(url, gotoOpts)
	return err
}

func (p *playwrightPage) Reload(timeout time.Duration) error {
	_, err := p.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	return err
}

func (p *playwrightPage) Title() (string, error)   { return p.page.Title() }
func (p *playwrightPage) Content() (string, error) { return p.page.Content() }
func (p *playwrightPage) IsClosed() bool           { return p.page.IsClosed() }

func (p *playwrightPage) IsVisible(selector string) (bool, error) {
	return p.page.Locator(selector).First().IsVisible()
}

func (p *playwrightPage) Exists(selector string) (bool, error) {
	count, err := p.page.Locator(selector).Count()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (p *playwrightPage) Click(selector string) error {
	return p.page.Locator(selector).First().Click()
}

func (p *playwrightPage) ScrollIntoView(selector string) error {
	return p.page.Locator(selector).First().ScrollIntoViewIfNeeded()
}

func (p *playwrightPage) WaitForSelector(selector string, timeout time.Duration) error {
	return p.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
}

func (p *playwrightPage) WaitForNetworkIdle(timeout time.Duration) error {
	return p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
}

func (p *playwrightPage) Wheel(deltaX, deltaY float64) error {
	return p.page.Mouse().Wheel(deltaX, deltaY)
}

func (p *playwrightPage) MoveMouse(x, y float64, steps int) error {
	return p.page.Mouse().Move(x, y, playwright.MouseMoveOptions{Steps: playwright.Int(steps)})
}

func (p *playwrightPage) Evaluate(expression string, arg any) (any, error) {
	if arg == nil {
		return p.page.Evaluate(expression)
	}
	return p.page.Evaluate(expression, arg)
}

type playwrightResponse struct {
	resp playwright.Response
}

func (r playwrightResponse) URL() string { return r.resp.URL() }
func (r playwrightResponse) Status() int { return r.resp.Status() }

func (r playwrightResponse) Header(name string) string {
	return r.resp.Headers()[strings.ToLower(name)]
}

func (r playwrightResponse) Body() ([]byte, error) {
	body, err := r.resp.Body()
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}
