package connpool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yuku/connpool/internal/bridge"
	"github.com/yuku/connpool/internal/errs"
	"go.uber.org/zap"
)

// AsyncPool lets context-driven callers use a Pool without blocking on its
// waits. Checkouts run on an acquire lane of cfg.Workers dispatched workers
// and guard operations on a separate exec lane of MaxSize+1 workers, so
// callers holding a connection are never starved by callers waiting for one.
type AsyncPool struct {
	pool    *Pool
	acquire *bridge.Dispatcher
	exec    *bridge.Dispatcher
	logger  *zap.Logger
}

// NewAsync creates an AsyncPool. Opening the initial connections is
// dispatched; if ctx is done first, NewAsync returns an error wrapping
// ctx.Err() and the pool is closed once it has been created.
func NewAsync(ctx context.Context, cfg Config, opts ...Option) (*AsyncPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool configuration: %w", err)
	}
	o := newOptions(opts)
	logger := o.logger.With(zap.String("component", "async"))

	bopts := []bridge.Option{bridge.WithLogger(o.logger)}
	if o.tracer != nil {
		bopts = append(bopts, bridge.WithTracer(o.tracer))
	}
	acquire, err := bridge.New("acquire", cfg.workers(), bopts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create acquire lane: %w", err)
	}
	exec, err := bridge.New("exec", cfg.MaxSize+1, bopts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create exec lane: %w", err)
	}

	p, err := bridge.Run(ctx, acquire, "connpool.open", func() (*Pool, error) {
		return New(cfg, opts...)
	}, func(p *Pool, _ error) {
		if p != nil {
			_ = p.Close()
		}
	})
	if err != nil {
		_ = acquire.Close(context.Background())
		_ = exec.Close(context.Background())
		return nil, err
	}

	return &AsyncPool{pool: p, acquire: acquire, exec: exec, logger: logger}, nil
}

// Pool returns the underlying synchronous pool.
func (a *AsyncPool) Pool() *Pool {
	return a.pool
}

// Stats returns a consistent snapshot of the pool.
func (a *AsyncPool) Stats() Stats {
	return a.pool.Stats()
}

// Checkout dispatches a checkout and waits for it. CheckoutTimeout bounds the
// whole checkout, including the wait for a free acquire worker. The
// dispatched wait is not cancelled by ctx: if ctx is done first, Checkout
// returns a KindPool error wrapping ctx.Err() and the connection, once
// obtained, goes straight back to the pool.
func (a *AsyncPool) Checkout(ctx context.Context) (*AsyncGuard, error) {
	timeout := a.pool.cfg.CheckoutTimeout
	deadline := time.Now().Add(timeout)
	ctx, cancel := context.WithDeadlineCause(ctx, deadline, errs.ErrCheckoutTimeout)
	defer cancel()
	wait, stopWait := context.WithDeadline(context.WithoutCancel(ctx), deadline)

	g, err := bridge.Run(ctx, a.acquire, "connpool.checkout", func() (*Guard, error) {
		defer stopWait()
		return a.pool.Checkout(wait)
	}, func(g *Guard, _ error) {
		if g != nil {
			a.logger.Debug("returning abandoned checkout")
			g.Release()
		}
	})
	if err != nil {
		if errs.Is(err, errs.KindDispatch) {
			stopWait()
		}
		if errors.Is(context.Cause(ctx), errs.ErrCheckoutTimeout) && !errors.Is(err, errs.ErrCheckoutTimeout) {
			return nil, &errs.Error{
				Kind:    errs.KindPool,
				Op:      "checkout",
				Message: fmt.Sprintf("no connection available within %s", timeout),
				Err:     errs.ErrCheckoutTimeout,
			}
		}
		return nil, err
	}
	return newAsyncGuard(a, g), nil
}

// Execute checks out a connection, runs sql on it and releases it.
func (a *AsyncPool) Execute(ctx context.Context, sql string, args ...any) error {
	return a.WithConn(ctx, func(c *Conn) error {
		return c.Execute(sql, args...)
	})
}

// Query checks out a connection, runs sql on it and releases it.
func (a *AsyncPool) Query(ctx context.Context, sql string, args ...any) (*Rows, error) {
	g, err := a.Checkout(ctx)
	if err != nil {
		return nil, err
	}
	defer g.Release()
	return g.Query(ctx, sql, args...)
}

// WithConn runs fn with a checked out connection in a single dispatched call
// and releases the connection afterwards.
func (a *AsyncPool) WithConn(ctx context.Context, fn func(*Conn) error) error {
	g, err := a.Checkout(ctx)
	if err != nil {
		return err
	}
	defer g.Release()
	return g.Do(ctx, fn)
}

// WithTx runs fn inside a transaction in a single dispatched call. The
// transaction is committed when fn returns nil and rolled back otherwise.
func (a *AsyncPool) WithTx(ctx context.Context, fn func(*Tx) error) error {
	return a.WithConn(ctx, func(c *Conn) error {
		tx, err := c.Begin()
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				return errors.Join(err, rerr)
			}
			return err
		}
		return tx.Commit()
	})
}

// Maintain dispatches one maintenance pass.
func (a *AsyncPool) Maintain(ctx context.Context) (MaintainResult, error) {
	return bridge.Run(ctx, a.acquire, "connpool.maintain", func() (MaintainResult, error) {
		return a.pool.Maintain(), nil
	}, nil)
}

// Close closes the pool, failing waiting checkouts with ErrPoolClosed, and
// waits until every dispatched call has finished or ctx is done.
func (a *AsyncPool) Close(ctx context.Context) error {
	_ = a.pool.Close()
	return errors.Join(a.acquire.Close(ctx), a.exec.Close(ctx))
}
