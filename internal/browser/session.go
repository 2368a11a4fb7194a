package browser

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/maltedev/storefront-scraper/internal/metrics"
	"github.com/maltedev/storefront-scraper/internal/models"
)

// LaunchSpec is everything a Launcher needs to open one isolated context.
type LaunchSpec struct {
	ProfileDir  string
	Fingerprint models.Fingerprint
	Proxy       *models.ProxyIdentity
}

// Launcher opens browser sessions.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Session, error)
}

// ProxySource hands out healthy proxies.
type ProxySource interface {
	Next(ctx context.Context) (models.ProxyIdentity, bool)
	Len() int
}

// FingerprintSource produces a fresh browser identity per session.
type FingerprintSource interface {
	Next() models.Fingerprint
}

type BuilderConfig struct {
	ProfileRoot         string
	UseProxy            bool
	AllowDirectFallback bool
}

// Builder combines a fingerprint, an optional proxy and an isolated profile
// directory into a launched session.
type Builder struct {
	cfg          BuilderConfig
	launcher     Launcher
	proxies      ProxySource
	fingerprints FingerprintSource
	logger       *slog.Logger
	metrics      *metrics.Collector

	mu    sync.Mutex
	slots map[string]map[int]bool
}

func NewBuilder(cfg BuilderConfig, launcher Launcher, proxies ProxySource, fingerprints FingerprintSource, logger *slog.Logger, m *metrics.Collector) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProfileRoot == "" {
		cfg.ProfileRoot = "user_data"
	}
	return &Builder{
		cfg:          cfg,
		launcher:     launcher,
		proxies:      proxies,
		fingerprints: fingerprints,
		logger:       logger.With("component", "session_builder"),
		metrics:      m,
		slots:        make(map[string]map[int]bool),
	}
}

// Build launches a session for platform. When proxies are enabled and none
// survives a rotation scan, it falls back to a direct connection only if
// allowed, otherwise it fails with a proxy error. An empty proxy list means
// direct.
func (b *Builder) Build(ctx context.Context, platform string) (Session, error) {
	proxy, err := b.selectProxy(ctx)
	if err != nil {
		return nil, err
	}

	key := "direct"
	if proxy != nil {
		key = proxy.ProfileKey()
	}
	profileKey := filepath.Join(platform, key)
	slot := b.acquireSlot(profileKey)
	profileDir := filepath.Join(b.cfg.ProfileRoot, profileKey, fmt.Sprintf("slot-%d", slot))

	fp := b.fingerprints.Next()
	b.logger.Info("launching session",
		"platform", platform,
		"profile", profileDir,
		"proxy", redacted(proxy),
		"user_agent", fp.UserAgent,
		"viewport", fmt.Sprintf("%dx%d", fp.Viewport.Width, fp.Viewport.Height),
	)

	sess, err := b.launcher.Launch(ctx, LaunchSpec{
		ProfileDir:  profileDir,
		Fingerprint: fp,
		Proxy:       proxy,
	})
	if err != nil {
		b.releaseSlot(profileKey, slot)
		return nil, models.NewError(models.CodeNavigation, "failed to launch browser session", err)
	}

	b.metrics.SessionOpened()
	return &trackedSession{
		Session: sess,
		release: func() {
			b.releaseSlot(profileKey, slot)
			b.metrics.SessionClosed()
		},
	}, nil
}

func (b *Builder) selectProxy(ctx context.Context) (*models.ProxyIdentity, error) {
	if !b.cfg.UseProxy || b.proxies == nil || b.proxies.Len() == 0 {
		return nil, nil
	}

	if p, ok := b.proxies.Next(ctx); ok {
		return &p, nil
	}

	if b.cfg.AllowDirectFallback {
		b.logger.Warn("no healthy proxy, falling back to direct connection")
		return nil, nil
	}
	return nil, models.NewError(models.CodeProxy, "no healthy proxy available and direct fallback is disabled", nil)
}

// acquireSlot returns the lowest free slot for key. Chromium locks a
// profile directory, so concurrent sessions on one identity need distinct
// directories.
func (b *Builder) acquireSlot(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	used := b.slots[key]
	if used == nil {
		used = make(map[int]bool)
		b.slots[key] = used
	}
	slot := 0
	for used[slot] {
		slot++
	}
	used[slot] = true
	return slot
}

func (b *Builder) releaseSlot(key string, slot int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if used := b.slots[key]; used != nil {
		delete(used, slot)
		if len(used) == 0 {
			delete(b.slots, key)
		}
	}
}

func redacted(p *models.ProxyIdentity) string {
	if p == nil {
		return "direct"
	}
	return p.Redacted()
}

type trackedSession struct {
	Session
	once    sync.Once
	release func()
}

func (s *trackedSession) Close() error {
	err := s.Session.Close()
	s.once.Do(s.release)
	return err
}
