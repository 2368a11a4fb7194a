package pacing

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Pacer produces the randomized delays, offsets and coin flips used to make
// browsing look less mechanical. It is safe for concurrent use.
type Pacer struct {
	mu    sync.Mutex
	rnd   *rand.Rand
	sleep Sleeper
}

type Option func(*Pacer)

// WithSleeper replaces the real clock, typically with NoSleep in tests.
func WithSleeper(s Sleeper) Option {
	return func(p *Pacer) {
		p.sleep = s
	}
}

// New creates a Pacer. A zero seed means time-seeded.
func New(seed int64, opts ...Option) *Pacer {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	p := &Pacer{
		rnd:   rand.New(rand.NewSource(seed)),
		sleep: Sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Sleep waits for d, returning early with ctx.Err() on cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoSleep returns immediately unless ctx is already done.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// Int returns a uniformly random integer in [min, max].
func (p *Pacer) Int(min, max int) int {
	if max <= min {
		return min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return min + p.rnd.Intn(max-min+1)
}

// Float returns a uniformly random float in [min, max).
func (p *Pacer) Float(min, max float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return min + p.rnd.Float64()*(max-min)
}

// Chance returns true with probability prob.
func (p *Pacer) Chance(prob float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rnd.Float64() < prob
}

// Duration returns a jittered duration in [min, max].
func (p *Pacer) Duration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return min + time.Duration(p.rnd.Int63n(int64(max-min)+1))
}

// Wait sleeps for exactly d.
func (p *Pacer) Wait(ctx context.Context, d time.Duration) error {
	return p.sleep(ctx, d)
}

// Pause sleeps for a jittered duration in [min, max].
func (p *Pacer) Pause(ctx context.Context, min, max time.Duration) error {
	return p.sleep(ctx, p.Duration(min, max))
}
