package pool

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Guard is the exclusive claim on one checked out resource. Releasing it
// returns the resource to the pool or finalizes it, exactly once.
type Guard[T Resource] struct {
	pool   *Pool[T]
	entry  *entry[T]
	broken atomic.Bool

	releaseOnce sync.Once
	released    atomic.Bool
}

func (p *Pool[T]) handOut(e *entry[T], start time.Time) *Guard[T] {
	p.mu.Lock()
	p.stats.CheckoutsTotal++
	stats := p.statsLocked()
	p.mu.Unlock()

	p.obs.CheckoutAcquired(p.now().Sub(start))
	p.emit(stats)
	return &Guard[T]{pool: p, entry: e}
}

// Value returns the guarded resource. It must not be used after Release.
func (g *Guard[T]) Value() T {
	return g.entry.res
}

// CreatedAt returns when the guarded resource was opened.
func (g *Guard[T]) CreatedAt() time.Time {
	return g.entry.createdAt
}

// MarkBroken makes Release finalize the resource instead of returning it.
func (g *Guard[T]) MarkBroken() {
	g.broken.Store(true)
}

// Released reports whether Release has been called.
func (g *Guard[T]) Released() bool {
	return g.released.Load()
}

// Release returns the resource to the pool, or finalizes it when it is
// broken, past its lifetime, or the pool is closed. One waiter, if any, is
// notified. It is safe to call Release multiple times; subsequent calls are
// no-ops. This allows for both defer g.Release() and explicit release
// patterns.
func (g *Guard[T]) Release() {
	g.releaseOnce.Do(func() {
		g.released.Store(true)
		g.pool.release(g.entry, g.broken.Load())
	})
}

func (p *Pool[T]) release(e *entry[T], broken bool) {
	reuse := !broken
	if reuse && p.hooks.Recycle != nil {
		reuse = p.hooks.Recycle(e.res)
	}
	now := p.now()

	p.mu.Lock()
	p.active--
	keep := reuse && !p.closed && !p.lifetimeExpired(e, now) && p.total() < p.cfg.MaxSize
	if keep {
		e.lastUsedAt = now
		p.idle = append(p.idle, e)
	} else {
		p.stats.DestroyedTotal++
	}
	// Return and notify under one lock so a waiter cannot miss the handle.
	p.waiters.NotifyOne()
	stats := p.statsLocked()
	p.mu.Unlock()

	if !keep {
		p.finalize(e)
		p.logger.Debug("resource finalized on release", zap.Bool("broken", !reuse))
	}
	p.emit(stats)
}
