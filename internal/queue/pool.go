// Package queue bounds how many scrapes run at once. Requests beyond the
// limit wait for a slot instead of launching a browser.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/maltedev/storefront-scraper/internal/metrics"
	"golang.org/x/sync/semaphore"
)

var ErrQueueClosed = errors.New("queue is closed")

type Pool struct {
	sem     *semaphore.Weighted
	limit   int
	metrics *metrics.Collector

	mu      sync.Mutex
	waiting int
	running int
	closed  bool
	wg      sync.WaitGroup
}

func NewPool(limit int, m *metrics.Collector) *Pool {
	if limit <= 0 {
		limit = 1
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(limit)),
		limit:   limit,
		metrics: m,
	}
}

// Do waits for a free slot and runs fn. It returns ctx.Err() if the
// context ends while still queued.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrQueueClosed
	}
	p.waiting++
	p.wg.Add(1)
	p.publishLocked()
	p.mu.Unlock()
	defer p.wg.Done()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.mu.Lock()
		p.waiting--
		p.publishLocked()
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	p.waiting--
	p.running++
	p.publishLocked()
	p.mu.Unlock()

	defer func() {
		p.sem.Release(1)
		p.mu.Lock()
		p.running--
		p.publishLocked()
		p.mu.Unlock()
	}()

	return fn(ctx)
}

// Stats returns the number of queued and running jobs.
func (p *Pool) Stats() (waiting, running int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting, p.running
}

func (p *Pool) Limit() int {
	return p.limit
}

// Close rejects new work and waits for queued and running jobs to finish
// or ctx to end.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) publishLocked() {
	p.metrics.SetQueue(p.waiting, p.running)
}
