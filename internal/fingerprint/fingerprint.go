package fingerprint

import (
	"math/rand"
	"sync"
	"time"

	"github.com/maltedev/storefront-scraper/internal/models"
)

var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
}

var DefaultViewports = []models.Viewport{
	{Width: 1920, Height: 1080},
	{Width: 1440, Height: 900},
	{Width: 1366, Height: 768},
}

// Generator draws user agents and viewports independently and uniformly
// from fixed pools.
type Generator struct {
	mu         sync.Mutex
	rnd        *rand.Rand
	userAgents []string
	viewports  []models.Viewport
}

// New creates a Generator. Empty pools fall back to the defaults and a zero
// seed means time-seeded.
func New(seed int64, userAgents []string, viewports []models.Viewport) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if len(userAgents) == 0 {
		userAgents = DefaultUserAgents
	}
	if len(viewports) == 0 {
		viewports = DefaultViewports
	}
	return &Generator{
		rnd:        rand.New(rand.NewSource(seed)),
		userAgents: append([]string(nil), userAgents...),
		viewports:  append([]models.Viewport(nil), viewports...),
	}
}

func (g *Generator) Next() models.Fingerprint {
	g.mu.Lock()
	defer g.mu.Unlock()

	return models.Fingerprint{
		UserAgent: g.userAgents[g.rnd.Intn(len(g.userAgents))],
		Viewport:  g.viewports[g.rnd.Intn(len(g.viewports))],
	}
}

// UserAgent returns a random user agent from the pool, used by proxy probes.
func (g *Generator) UserAgent() string {
	return g.Next().UserAgent
}
