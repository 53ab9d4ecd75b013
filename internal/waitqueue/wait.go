package waitqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Wait registers a waiter on q and blocks until it is notified or ctx is
// done. A notification that races with ctx is handed to the next waiter so
// that it is never lost.
func Wait(ctx context.Context, q *Queue, opts ...WaitOption) error {
	if q == nil {
		return errors.New("queue cannot be nil")
	}

	options := &WaitOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if options.id == "" {
		options.id = uuid.NewString()
	}

	register := q.Register
	if options.front {
		register = q.RegisterFront
	}
	notify, err := register(options.id)
	if err != nil {
		return fmt.Errorf("failed to register waiter: %w", err)
	}

	if options.afterRegister != nil {
		if err := options.afterRegister(); err != nil {
			q.Unregister(options.id)
			return fmt.Errorf("after register callback failed: %w", err)
		}
	}

	// Wait for a notification or context cancellation
	select {
	case <-notify:
		return nil
	case <-ctx.Done():
		if !q.Unregister(options.id) {
			// Already popped by NotifyOne; pass the wakeup on.
			<-notify
			q.NotifyOne()
		}
		return ctx.Err()
	}
}

type WaitOptions struct {
	// id is the unique identifier for the waiter.
	id string

	// afterRegister is a callback that will be called after the waiter is registered.
	afterRegister func() error

	// front queues the waiter ahead of the others.
	front bool
}

type WaitOption func(*WaitOptions)

// WithID allows setting a unique identifier for the waiter.
func WithID(id string) WaitOption {
	return func(opts *WaitOptions) {
		opts.id = id
	}
}

// AtFront queues the waiter ahead of every waiter already registered. A
// waiter that was woken but lost the race for the resource uses it to keep
// its place.
func AtFront() WaitOption {
	return func(opts *WaitOptions) {
		opts.front = true
	}
}

// WithAfterRegister allows setting a callback to be called after the waiter is
// registered. The pool uses it to release its lock only once the waiter is
// visible to notifiers.
func WithAfterRegister(callback func() error) WaitOption {
	return func(opts *WaitOptions) {
		opts.afterRegister = callback
	}
}
