// Package proxy tracks the health of the statically configured egress
// proxies and hands them out in round-robin order.
package proxy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/storefront-scraper/internal/metrics"
	"github.com/maltedev/storefront-scraper/internal/models"
)

// DefaultQuarantineTTL is how long a proxy stays out of rotation after a
// failure signal.
const DefaultQuarantineTTL = 5 * time.Minute

// Prober checks that a proxy can reach the target site.
type Prober interface {
	Probe(ctx context.Context, p models.ProxyIdentity) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, p models.ProxyIdentity) error

func (f ProberFunc) Probe(ctx context.Context, p models.ProxyIdentity) error {
	return f(ctx, p)
}

type healthRecord struct {
	badUntil time.Time
	reason   string
}

// Status is a point-in-time view of one proxy, exposed on the health endpoint.
type Status struct {
	Proxy    string    `json:"proxy"`
	Healthy  bool      `json:"healthy"`
	BadUntil time.Time `json:"badUntil,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

// Registry is the only state shared between concurrent scrapes. A
// check-then-set race between two callers can at worst probe a proxy twice.
type Registry struct {
	mu      sync.Mutex
	proxies []models.ProxyIdentity
	bad     map[string]healthRecord
	last    int

	ttl     time.Duration
	now     func() time.Time
	prober  Prober
	logger  *slog.Logger
	metrics *metrics.Collector
}

type Option func(*Registry)

func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, used by tests to expire quarantines.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithProber enables liveness probes before a proxy is handed out.
func WithProber(p Prober) Option {
	return func(r *Registry) {
		r.prober = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

func NewRegistry(proxies []models.ProxyIdentity, opts ...Option) *Registry {
	r := &Registry{
		proxies: append([]models.ProxyIdentity(nil), proxies...),
		bad:     make(map[string]healthRecord),
		last:    -1,
		ttl:     DefaultQuarantineTTL,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "proxy_registry")
	return r
}

// Len returns the number of configured proxies.
func (r *Registry) Len() int {
	return len(r.proxies)
}

// Next returns the next healthy proxy after the last one handed out. Each
// candidate is probed first; a failed probe quarantines it and the scan
// moves on. ok is false when no candidate survives a full scan.
func (r *Registry) Next(ctx context.Context) (models.ProxyIdentity, bool) {
	n := len(r.proxies)
	if n == 0 {
		return models.ProxyIdentity{}, false
	}

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return models.ProxyIdentity{}, false
		}

		// Claim the slot before checking so concurrent callers fan out.
		r.mu.Lock()
		idx := (r.last + 1) % n
		r.last = idx
		candidate := r.proxies[idx]
		bad := r.isBadLocked(candidate)
		r.mu.Unlock()
		if bad {
			continue
		}

		if r.prober != nil {
			err := r.prober.Probe(ctx, candidate)
			r.metrics.RecordProxyCheck(err == nil)
			if err != nil {
				r.logger.Warn("proxy probe failed", "proxy", candidate.Redacted(), "error", err)
				r.MarkBad(candidate, "probe failed")
				continue
			}
		}

		r.logger.Debug("selected proxy", "proxy", candidate.Redacted(), "index", idx)
		return candidate, true
	}

	r.logger.Warn("no healthy proxy available", "configured", n)
	return models.ProxyIdentity{}, false
}

// MarkBad quarantines p for the registry's TTL.
func (r *Registry) MarkBad(p models.ProxyIdentity, reason string) {
	r.mu.Lock()
	r.bad[p.Key()] = healthRecord{badUntil: r.now().Add(r.ttl), reason: reason}
	count := r.countBadLocked()
	r.mu.Unlock()

	r.metrics.RecordProxyQuarantined(reason, count)
	r.logger.Info("proxy quarantined", "proxy", p.Redacted(), "reason", reason, "ttl", r.ttl)
}

// IsBad reports whether p is quarantined. Expired records are dropped.
func (r *Registry) IsBad(p models.ProxyIdentity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isBadLocked(p)
}

func (r *Registry) isBadLocked(p models.ProxyIdentity) bool {
	rec, ok := r.bad[p.Key()]
	if !ok {
		return false
	}
	if !r.now().Before(rec.badUntil) {
		delete(r.bad, p.Key())
		return false
	}
	return true
}

// Snapshot reports the health of every configured proxy.
func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]Status, 0, len(r.proxies))
	for _, p := range r.proxies {
		st := Status{Proxy: p.Redacted(), Healthy: true}
		if rec, ok := r.bad[p.Key()]; ok && now.Before(rec.badUntil) {
			st.Healthy = false
			st.BadUntil = rec.badUntil
			st.Reason = rec.reason
		}
		out = append(out, st)
	}
	return out
}

func (r *Registry) countBadLocked() int {
	now := r.now()
	count := 0
	for _, rec := range r.bad {
		if now.Before(rec.badUntil) {
			count++
		}
	}
	return count
}
