// Package browsertest provides in-memory fakes of the browser interfaces.
package browsertest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/maltedev/storefront-scraper/internal/browser"
	"github.com/maltedev/storefront-scraper/internal/models"
)

// Response is a canned network response.
type Response struct {
	RawURL      string
	StatusCode  int
	ContentType string
	BodyBytes   []byte
	BodyErr     error
}

// JSON builds a 200 application/json response.
func JSON(url, body string) *Response {
	return &Response{RawURL: url, StatusCode: 200, ContentType: "application/json; charset=utf-8", BodyBytes: []byte(body)}
}

func (r *Response) URL() string { return r.RawURL }
func (r *Response) Status() int { return r.StatusCode }

func (r *Response) Header(name string) string {
	if name == "content-type" || name == "Content-Type" {
		return r.ContentType
	}
	return ""
}

func (r *Response) Body() ([]byte, error) {
	return r.BodyBytes, r.BodyErr
}

// Page is a scriptable fake. Hooks left nil fall back to the simple state
// fields. Every call is recorded in Calls.
type Page struct {
	mu sync.Mutex

	TitleText   string
	HTML        string
	Closed      bool
	Visible     map[string]bool
	Present     map[string]bool
	GotoErr     map[string]error
	WaitErr     error
	EvalResults map[string]any

	// OnGoto fires after a successful Goto, before it returns.
	OnGoto func(p *Page, url string)
	// OnClick fires after a successful Click.
	OnClick func(p *Page, selector string)
	// OnWaitForSelector replaces the default WaitForSelector behavior.
	OnWaitForSelector func(p *Page, selector string) error
	// OnReload fires on Reload.
	OnReload func(p *Page)

	Calls   []string
	Visited []string
	Referer map[string]string

	nextID int
	subs   map[int]func(browser.Response)
}

func NewPage() *Page {
	return &Page{
		Visible:     map[string]bool{},
		Present:     map[string]bool{},
		GotoErr:     map[string]error{},
		EvalResults: map[string]any{},
		Referer:     map[string]string{},
		subs:        map[int]func(browser.Response){},
	}
}

func (p *Page) record(call string) {
	p.mu.Lock()
	p.Calls = append(p.Calls, call)
	p.mu.Unlock()
}

// Emit delivers resp to every subscriber.
func (p *Page) Emit(resp browser.Response) {
	p.mu.Lock()
	subs := make([]func(browser.Response), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(resp)
	}
}

// Subscribers returns the number of attached response observers.
func (p *Page) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// CallCount counts recorded calls equal to call.
func (p *Page) CallCount(call string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.Calls {
		if c == call {
			n++
		}
	}
	return n
}

func (p *Page) OnResponse(fn func(browser.Response)) func() {
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

func (p *Page) Goto(url string, opts browser.GotoOptions) error {
	p.record("goto " + url)
	if err := p.GotoErr[url]; err != nil {
		return err
	}
	p.mu.Lock()
	p.Visited = append(p.Visited, url)
	p.Referer[url] = opts.Referer
	p.mu.Unlock()
	if p.OnGoto != nil {
		p.OnGoto(p, url)
	}
	return nil
}

func (p *Page) Reload(timeout time.Duration) error {
	p.record("reload")
	if p.OnReload != nil {
		p.OnReload(p)
	}
	return nil
}

func (p *Page) Title() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.TitleText, nil
}

func (p *Page) Content() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HTML, nil
}

func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Closed
}

func (p *Page) IsVisible(selector string) (bool, error) {
	p.record("visible " + selector)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Visible[selector], nil
}

func (p *Page) Exists(selector string) (bool, error) {
	p.record("exists " + selector)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Present[selector] || p.Visible[selector], nil
}

func (p *Page) Click(selector string) error {
	p.record("click " + selector)
	if p.OnClick != nil {
		p.OnClick(p, selector)
	}
	return nil
}

func (p *Page) ScrollIntoView(selector string) error {
	p.record("scrollIntoView " + selector)
	return nil
}

func (p *Page) WaitForSelector(selector string, timeout time.Duration) error {
	p.record("waitFor " + selector)
	if p.OnWaitForSelector != nil {
		return p.OnWaitForSelector(p, selector)
	}
	return p.WaitErr
}

func (p *Page) WaitForNetworkIdle(timeout time.Duration) error {
	p.record("networkidle")
	return nil
}

func (p *Page) Wheel(deltaX, deltaY float64) error {
	p.record("wheel")
	return nil
}

func (p *Page) MoveMouse(x, y float64, steps int) error {
	p.record("mouse")
	return nil
}

func (p *Page) Evaluate(expression string, arg any) (any, error) {
	p.record("evaluate")
	p.mu.Lock()
	defer p.mu.Unlock()
	if res, ok := p.EvalResults[expression]; ok {
		return res, nil
	}
	// Scroll helpers treat true as "reached bottom".
	return true, nil
}

// SetTitle updates the title under lock, for use from hooks.
func (p *Page) SetTitle(title string) {
	p.mu.Lock()
	p.TitleText = title
	p.mu.Unlock()
}

// SetVisible updates selector visibility under lock, for use from hooks.
func (p *Page) SetVisible(selector string, visible bool) {
	p.mu.Lock()
	p.Visible[selector] = visible
	p.mu.Unlock()
}

// Session wraps a Page.
type Session struct {
	FakePage *Page
	ProxyID  *models.ProxyIdentity
	FP       models.Fingerprint

	mu     sync.Mutex
	closed int
}

func (s *Session) Page() browser.Page              { return s.FakePage }
func (s *Session) Proxy() *models.ProxyIdentity    { return s.ProxyID }
func (s *Session) Fingerprint() models.Fingerprint { return s.FP }

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

// CloseCount reports how many times Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Launcher records launch specs and returns sessions from NewSession.
type Launcher struct {
	mu         sync.Mutex
	Specs      []browser.LaunchSpec
	Sessions   []*Session
	Err        error
	NewSession func(spec browser.LaunchSpec) *Session
}

func (l *Launcher) Launch(ctx context.Context, spec browser.LaunchSpec) (browser.Session, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var s *Session
	if l.NewSession != nil {
		s = l.NewSession(spec)
	} else {
		s = &Session{FakePage: NewPage()}
	}
	if s == nil {
		return nil, errors.New("no session")
	}
	s.ProxyID = spec.Proxy
	s.FP = spec.Fingerprint

	l.mu.Lock()
	l.Specs = append(l.Specs, spec)
	l.Sessions = append(l.Sessions, s)
	l.mu.Unlock()
	return s, nil
}
