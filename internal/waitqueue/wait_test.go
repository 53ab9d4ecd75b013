package waitqueue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuku/connpool/internal/waitqueue"
)

func TestQueue(t *testing.T) {
	t.Parallel()

	t.Run("notifies in registration order", func(t *testing.T) {
		// Given
		q := &waitqueue.Queue{}
		first, err := q.Register("first")
		require.NoError(t, err)
		second, err := q.Register("second")
		require.NoError(t, err)

		// When
		require.True(t, q.NotifyOne())

		// Then
		select {
		case <-first:
		default:
			t.Fatal("first waiter should be notified")
		}
		select {
		case <-second:
			t.Fatal("second waiter should not be notified yet")
		default:
		}
		assert.False(t, q.Has("first"))
		assert.True(t, q.Has("second"))
		assert.Equal(t, 1, q.Len())
	})

	t.Run("front registration jumps the queue", func(t *testing.T) {
		// Given
		q := &waitqueue.Queue{}
		_, err := q.Register("first")
		require.NoError(t, err)
		front, err := q.RegisterFront("front")
		require.NoError(t, err)

		// When
		require.True(t, q.NotifyOne())

		// Then
		select {
		case <-front:
		default:
			t.Fatal("front waiter should be notified first")
		}
		assert.True(t, q.Has("first"))
	})

	t.Run("rejects duplicate ids", func(t *testing.T) {
		q := &waitqueue.Queue{}
		_, err := q.Register("dup")
		require.NoError(t, err)

		_, err = q.Register("dup")

		assert.ErrorContains(t, err, "duplicate id: dup")
	})

	t.Run("unregistered waiters are skipped", func(t *testing.T) {
		q := &waitqueue.Queue{}
		_, err := q.Register("gone")
		require.NoError(t, err)
		kept, err := q.Register("kept")
		require.NoError(t, err)

		assert.True(t, q.Unregister("gone"))
		assert.False(t, q.Unregister("gone"))
		require.True(t, q.NotifyOne())

		select {
		case <-kept:
		default:
			t.Fatal("remaining waiter should be notified")
		}
		assert.False(t, q.NotifyOne())
	})

	t.Run("notify all empties the queue", func(t *testing.T) {
		q := &waitqueue.Queue{}
		for i := range 3 {
			_, err := q.Register(fmt.Sprintf("w%d", i))
			require.NoError(t, err)
		}

		assert.Equal(t, 3, q.NotifyAll())
		assert.Equal(t, 0, q.Len())
	})
}

func TestWait(t *testing.T) {
	t.Parallel()

	t.Run("blocks until notification received", func(t *testing.T) {
		q := &waitqueue.Queue{}
		ctx := context.Background()

		errs := make(chan error, 1)
		var returned atomic.Bool

		var wg sync.WaitGroup
		wg.Add(1)

		go func() {
			err := waitqueue.Wait(ctx, q,
				waitqueue.WithID("test"),
				waitqueue.WithAfterRegister(func() error {
					wg.Done()
					return nil
				}),
			)
			returned.Store(true)
			errs <- err
		}()

		wg.Wait() // Ensure the waiter is registered

		require.False(t, returned.Load(), "Wait should block until notification is received")
		require.True(t, q.NotifyOne())

		select {
		case err := <-errs:
			require.NoError(t, err, "Wait should not return an error")
			require.True(t, returned.Load(), "Wait should return after notification is received")
		case <-time.After(1 * time.Second):
			t.Fatal("Wait did not return after notification was sent")
		}
	})

	t.Run("at front waits ahead of earlier waiters", func(t *testing.T) {
		// Given
		q := &waitqueue.Queue{}
		_, err := q.Register("earlier")
		require.NoError(t, err)
		registered := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- waitqueue.Wait(context.Background(), q,
				waitqueue.WithID("retry"),
				waitqueue.AtFront(),
				waitqueue.WithAfterRegister(func() error {
					close(registered)
					return nil
				}),
			)
		}()
		<-registered

		// When
		require.True(t, q.NotifyOne())

		// Then
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("waiter queued at the front was not woken first")
		}
		assert.True(t, q.Has("earlier"))
	})

	t.Run("returns error if afterRegister callback fails", func(t *testing.T) {
		q := &waitqueue.Queue{}

		err := waitqueue.Wait(context.Background(), q,
			waitqueue.WithID("test"),
			waitqueue.WithAfterRegister(func() error {
				return errors.New("callback error")
			}),
		)

		require.ErrorContains(t, err, "callback error")
		assert.False(t, q.Has("test"))
	})

	t.Run("returns error if duplicate ID is used", func(t *testing.T) {
		q := &waitqueue.Queue{}
		_, err := q.Register("test")
		require.NoError(t, err)

		err = waitqueue.Wait(context.Background(), q, waitqueue.WithID("test"))

		require.ErrorContains(t, err, "duplicate id: test")
	})

	t.Run("returns error if queue is nil", func(t *testing.T) {
		err := waitqueue.Wait(context.Background(), nil)
		require.ErrorContains(t, err, "queue cannot be nil")
	})

	t.Run("waits with context cancellation", func(t *testing.T) {
		q := &waitqueue.Queue{}
		waitCtx, cancel := context.WithCancel(context.Background())

		var wg sync.WaitGroup
		wg.Add(1)
		errs := make(chan error, 1)

		go func() {
			errs <- waitqueue.Wait(waitCtx, q,
				waitqueue.WithID("test"),
				waitqueue.WithAfterRegister(func() error {
					wg.Done()
					return nil
				}),
			)
		}()

		wg.Wait() // Ensure the waiter is registered

		cancel()

		select {
		case err := <-errs:
			require.ErrorIs(t, err, context.Canceled)
			require.False(t, q.Has("test"), "Waiter should be unregistered after context cancellation")
		case <-time.After(1 * time.Second):
			t.Fatal("Wait did not return after context cancellation")
		}
	})

	t.Run("a notification racing cancellation is passed on", func(t *testing.T) {
		// Given a waiter whose context is already done
		q := &waitqueue.Queue{}
		doneCtx, cancel := context.WithCancel(context.Background())
		cancel()

		// When it is notified before observing its context, with a second
		// waiter queued behind it
		err := waitqueue.Wait(doneCtx, q,
			waitqueue.WithID("first"),
			waitqueue.WithAfterRegister(func() error {
				if _, err := q.Register("second"); err != nil {
					return err
				}
				q.NotifyOne()
				return nil
			}),
		)

		// Then either the first waiter consumed the wakeup or the second
		// waiter received it
		if err == nil {
			assert.True(t, q.Has("second"))
			return
		}
		require.ErrorIs(t, err, context.Canceled)
		assert.False(t, q.Has("second"), "the wakeup should be forwarded to the second waiter")
	})

	t.Run("many waiters are all eventually notified", func(t *testing.T) {
		q := &waitqueue.Queue{}
		n := 10
		var registered, called sync.WaitGroup
		registered.Add(n)
		called.Add(n)
		var count atomic.Int32

		for i := range n {
			go func() {
				err := waitqueue.Wait(context.Background(), q,
					waitqueue.WithID(fmt.Sprintf("test-%d", i)),
					waitqueue.WithAfterRegister(func() error {
						registered.Done()
						return nil
					}),
				)
				assert.NoError(t, err)
				count.Add(1)
				called.Done()
			}()
		}

		registered.Wait()
		for range n {
			require.True(t, q.NotifyOne())
		}
		called.Wait()

		assert.Equal(t, int32(n), count.Load())
	})
}
