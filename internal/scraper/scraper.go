package scraper

import (
	"context"
	"log/slog"
	"sort"

	"github.com/maltedev/storefront-scraper/internal/models"
)

// Scraper captures the product payloads for one platform.
type Scraper interface {
	Platform() string
	Scrape(ctx context.Context, url string, logger *slog.Logger) (*models.Capture, error)
}

// KeyNormalizer is implemented by scrapers that can validate a URL and
// reduce it to a canonical cache key without launching a browser.
type KeyNormalizer interface {
	CacheKey(url string) (string, error)
}

// Registry selects a scraper by platform tag.
type Registry struct {
	scrapers map[string]Scraper
}

func NewRegistry(scrapers ...Scraper) *Registry {
	r := &Registry{scrapers: make(map[string]Scraper, len(scrapers))}
	for _, s := range scrapers {
		r.scrapers[s.Platform()] = s
	}
	return r
}

func (r *Registry) Get(platform string) (Scraper, error) {
	s, ok := r.scrapers[platform]
	if !ok {
		return nil, models.Errorf(models.CodeUnsupportedPlatform, "unsupported platform %q", platform)
	}
	return s, nil
}

func (r *Registry) Platforms() []string {
	out := make([]string, 0, len(r.scrapers))
	for name := range r.scrapers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
