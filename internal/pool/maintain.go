package pool

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// MaintainResult reports what one Maintain pass did.
type MaintainResult struct {
	Removed int
	Created int
	Failed  int
}

// Maintain finalizes expired idle resources and then opens new ones until
// the pool holds at least MinSize resources. Creation failures are logged and
// counted, not returned.
func (p *Pool[T]) Maintain() MaintainResult {
	var res MaintainResult
	now := p.now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return res
	}
	var expired []*entry[T]
	kept := p.idle[:0]
	for _, e := range p.idle {
		if p.expired(e, now) {
			expired = append(expired, e)
		} else {
			kept = append(kept, e)
		}
	}
	clear(p.idle[len(kept):])
	p.idle = kept
	p.stats.DestroyedTotal += uint64(len(expired))
	need := max(p.cfg.MinSize-p.total(), 0)
	p.pending += need
	p.mu.Unlock()

	for _, e := range expired {
		p.finalize(e)
	}
	res.Removed = len(expired)

	for range need {
		e, err := p.create()

		p.mu.Lock()
		p.pending--
		switch {
		case err != nil:
			res.Failed++
		case p.closed:
			p.stats.DestroyedTotal++
		default:
			p.idle = append(p.idle, e)
			p.waiters.NotifyOne()
			res.Created++
			e = nil
		}
		p.mu.Unlock()

		if err != nil {
			p.logger.Error("failed to restore minimum pool size", zap.Error(err))
		} else if e != nil {
			p.finalize(e)
		}
	}

	p.inspect()

	if res != (MaintainResult{}) {
		p.logger.Debug("pool maintained",
			zap.Int("removed", res.Removed),
			zap.Int("created", res.Created),
			zap.Int("failed", res.Failed),
		)
	}
	p.emit(p.Stats())
	return res
}

// inspect hands the most recently used idle resource to hooks.Inspect. While
// out of the idle list it is counted as pending so the size bound holds.
func (p *Pool[T]) inspect() {
	if p.hooks.Inspect == nil {
		return
	}
	p.mu.Lock()
	if p.closed || len(p.idle) == 0 {
		p.mu.Unlock()
		return
	}
	last := len(p.idle) - 1
	e := p.idle[last]
	p.idle[last] = nil
	p.idle = p.idle[:last]
	p.pending++
	p.mu.Unlock()

	p.hooks.Inspect(e.res)

	p.mu.Lock()
	p.pending--
	closed := p.closed
	if closed {
		p.stats.DestroyedTotal++
	} else {
		p.idle = append(p.idle, e)
		p.waiters.NotifyOne()
	}
	p.mu.Unlock()

	if closed {
		p.finalize(e)
	}
}

// RunMaintenance calls Maintain every interval until ctx is done or the pool
// is closed.
func (p *Pool[T]) RunMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.Closed() {
				return
			}
			p.Maintain()
		}
	}
}
