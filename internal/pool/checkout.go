package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/yuku/connpool/internal/errs"
	"github.com/yuku/connpool/internal/waitqueue"
	"go.uber.org/zap"
)

// Checkout returns a guard over an exclusively held resource. It blocks until
// a resource is available, cfg.CheckoutTimeout elapses (errs.ErrCheckoutTimeout)
// or ctx is done. Waiters are woken in arrival order, but a caller arriving
// while a resource is idle may take it first; a woken waiter that loses that
// race goes back to the front of the queue.
func (p *Pool[T]) Checkout(ctx context.Context) (*Guard[T], error) {
	start := p.now()
	ctx, cancel := context.WithTimeoutCause(ctx, p.cfg.CheckoutTimeout, errs.ErrCheckoutTimeout)
	defer cancel()

	woken := false
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, errs.Wrap(errs.KindPool, "checkout", errs.ErrPoolClosed)
		}

		// Reuse the oldest idle resource
		if len(p.idle) > 0 {
			e := p.idle[0]
			p.idle[0] = nil
			p.idle = p.idle[1:]
			p.active++
			p.mu.Unlock()

			if reason := p.check(e); reason != "" {
				p.discard(e, reason)
				continue
			}
			return p.handOut(e, start), nil
		}

		// Grow the pool
		if p.total() < p.cfg.MaxSize {
			p.active++
			p.mu.Unlock()

			e, err := p.create()
			if err != nil {
				p.mu.Lock()
				p.active--
				p.waiters.NotifyOne()
				stats := p.statsLocked()
				p.mu.Unlock()
				p.emit(stats)
				return nil, err
			}
			return p.handOut(e, start), nil
		}

		// Wait for a release; the lock is dropped once the waiter is queued
		unlocked := false
		opts := []waitqueue.WaitOption{waitqueue.WithAfterRegister(func() error {
			stats := p.statsLocked()
			p.mu.Unlock()
			unlocked = true
			p.emit(stats)
			return nil
		})}
		if woken {
			opts = append(opts, waitqueue.AtFront())
		}
		err := waitqueue.Wait(ctx, &p.waiters, opts...)
		if !unlocked {
			p.mu.Unlock()
		}
		if err != nil {
			return nil, p.waitFailed(ctx, err)
		}
		woken = true
	}
}

// check returns why e must not be handed out, or "" if it can be.
func (p *Pool[T]) check(e *entry[T]) string {
	if p.expired(e, p.now()) {
		return "expired"
	}
	if p.hooks.Validate != nil {
		if err := p.hooks.Validate(e.res); err != nil {
			p.logger.Debug("resource failed validation", zap.Error(err))
			return "invalid"
		}
	}
	return ""
}

// discard finalizes a resource that was reserved by Checkout.
func (p *Pool[T]) discard(e *entry[T], reason string) {
	p.mu.Lock()
	p.active--
	p.stats.DestroyedTotal++
	if reason == "invalid" {
		p.stats.ValidationFailures++
	}
	p.waiters.NotifyOne()
	stats := p.statsLocked()
	p.mu.Unlock()

	p.finalize(e)
	p.logger.Debug("resource discarded", zap.String("reason", reason))
	p.emit(stats)
}

func (p *Pool[T]) waitFailed(ctx context.Context, err error) error {
	cause := context.Cause(ctx)
	if cause == nil {
		return fmt.Errorf("failed to wait for resource: %w", err)
	}
	if errors.Is(cause, errs.ErrCheckoutTimeout) {
		p.mu.Lock()
		p.stats.TimeoutsTotal++
		stats := p.statsLocked()
		p.mu.Unlock()

		p.obs.CheckoutTimedOut()
		p.logger.Warn("checkout timed out",
			zap.Duration("timeout", p.cfg.CheckoutTimeout),
			zap.Int("active", stats.Active),
			zap.Int("waiting", stats.Waiting),
		)
		return &errs.Error{
			Kind:    errs.KindPool,
			Op:      "checkout",
			Message: fmt.Sprintf("no resource available within %s", p.cfg.CheckoutTimeout),
			Err:     errs.ErrCheckoutTimeout,
		}
	}
	return errs.Wrap(errs.KindPool, "checkout", cause)
}
