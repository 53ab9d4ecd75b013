// Package bridge runs blocking calls on a bounded set of worker goroutines
// so that context-driven callers can await them without blocking on the
// call itself.
package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/yuku/connpool/internal/errs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const tracerName = "github.com/yuku/connpool/internal/bridge"

// Option configures a Dispatcher.
type Option func(*options)

type options struct {
	logger *zap.Logger
	tracer trace.Tracer
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTracer sets the tracer used for dispatched calls. The global tracer
// provider is used by default.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

// Dispatcher is a bounded lane of worker slots.
type Dispatcher struct {
	name   string
	size   int
	sem    *semaphore.Weighted
	logger *zap.Logger
	tracer trace.Tracer

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a dispatcher named name that runs at most size calls at once.
func New(name string, size int, opts ...Option) (*Dispatcher, error) {
	if size < 1 {
		return nil, fmt.Errorf("dispatcher size must be at least 1: given %d", size)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	return &Dispatcher{
		name:   name,
		size:   size,
		sem:    semaphore.NewWeighted(int64(size)),
		logger: o.logger.With(zap.String("component", "bridge"), zap.String("lane", name)),
		tracer: o.tracer,
	}, nil
}

// Name returns the lane name.
func (d *Dispatcher) Name() string {
	return d.name
}

// Size returns the number of worker slots.
func (d *Dispatcher) Size() int {
	return d.size
}

// Close stops accepting calls and waits until every accepted call has
// finished or ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for dispatched calls: %w", ctx.Err())
	}
}

func (d *Dispatcher) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

// enter registers a call unless the dispatcher is closed.
func (d *Dispatcher) enter() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	d.wg.Add(1)
	return true
}

type call[T any] struct {
	mu        sync.Mutex
	finished  bool
	abandoned bool
	val       T
	err       error
	done      chan struct{}
}

// Run executes fn on one of d's workers and waits for its result.
//
// If fn never ran because d is closed, ctx was done before a slot was free,
// or fn panicked, the error has kind errs.KindDispatch. If ctx is done while
// fn is running, Run returns immediately with a KindPool error wrapping
// ctx.Err(); fn runs to completion and its result is handed to orphan, which
// may be nil.
func Run[T any](ctx context.Context, d *Dispatcher, op string, fn func() (T, error), orphan func(T, error)) (T, error) {
	var zero T

	if !d.enter() {
		return zero, errs.Wrap(errs.KindDispatch, op, errs.ErrDispatcherClosed)
	}
	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.wg.Done()
		return zero, errs.Wrap(errs.KindDispatch, op, err)
	}
	if d.isClosed() {
		d.sem.Release(1)
		d.wg.Done()
		return zero, errs.Wrap(errs.KindDispatch, op, errs.ErrDispatcherClosed)
	}

	_, span := d.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("connpool.lane", d.name),
	))

	c := &call[T]{done: make(chan struct{})}
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)

		val, err := protect(op, fn)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		c.mu.Lock()
		c.val, c.err = val, err
		c.finished = true
		abandoned := c.abandoned
		c.mu.Unlock()
		close(c.done)

		if abandoned {
			d.logger.Debug("abandoned call finished", zap.String("op", op), zap.Error(err))
			if orphan != nil {
				orphan(val, err)
			}
		}
	}()

	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.finished {
			return c.val, c.err
		}
		c.abandoned = true
		return zero, errs.Wrap(errs.KindPool, op, ctx.Err())
	}
}

func protect[T any](op string, fn func() (T, error)) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			val = zero
			err = &errs.Error{Kind: errs.KindDispatch, Op: op, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return fn()
}
