package bridge_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuku/connpool/internal/bridge"
	"github.com/yuku/connpool/internal/errs"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newDispatcher(t *testing.T, size int, opts ...bridge.Option) *bridge.Dispatcher {
	t.Helper()
	d, err := bridge.New("test", size, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = d.Close(context.Background())
	})
	return d
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := bridge.New("exec", 0)
	assert.ErrorContains(t, err, "dispatcher size must be at least 1")

	d, err := bridge.New("exec", 3)
	require.NoError(t, err)
	assert.Equal(t, "exec", d.Name())
	assert.Equal(t, 3, d.Size())
}

func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("returns the call result", func(t *testing.T) {
		d := newDispatcher(t, 1)

		got, err := bridge.Run(context.Background(), d, "answer", func() (int, error) {
			return 42, nil
		}, nil)

		require.NoError(t, err)
		assert.Equal(t, 42, got)
	})

	t.Run("passes call errors through unchanged", func(t *testing.T) {
		d := newDispatcher(t, 1)
		want := errs.New(errs.KindExecution, "exec", "boom")

		_, err := bridge.Run(context.Background(), d, "fail", func() (int, error) {
			return 0, want
		}, nil)

		assert.Same(t, want, err)
		assert.False(t, errs.Is(err, errs.KindDispatch))
	})

	t.Run("a panic becomes a dispatch error", func(t *testing.T) {
		d := newDispatcher(t, 1)

		_, err := bridge.Run(context.Background(), d, "panic", func() (int, error) {
			panic("worker exploded")
		}, nil)

		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.KindDispatch))
		assert.ErrorContains(t, err, "worker exploded")
	})

	t.Run("a closed dispatcher refuses calls", func(t *testing.T) {
		d, err := bridge.New("closed", 1)
		require.NoError(t, err)
		require.NoError(t, d.Close(context.Background()))

		ran := false
		_, err = bridge.Run(context.Background(), d, "late", func() (int, error) {
			ran = true
			return 1, nil
		}, nil)

		assert.ErrorIs(t, err, errs.ErrDispatcherClosed)
		assert.True(t, errs.Is(err, errs.KindDispatch))
		assert.False(t, ran)
	})

	t.Run("context done while waiting for a slot", func(t *testing.T) {
		// Given a single slot held by a blocked call
		d := newDispatcher(t, 1)
		release := make(chan struct{})
		started := make(chan struct{})
		go func() {
			_, _ = bridge.Run(context.Background(), d, "hold", func() (int, error) {
				close(started)
				<-release
				return 0, nil
			}, nil)
		}()
		<-started
		defer close(release)

		// When
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		var ran atomic.Bool
		_, err := bridge.Run(ctx, d, "starved", func() (int, error) {
			ran.Store(true)
			return 0, nil
		}, nil)

		// Then
		assert.True(t, errs.Is(err, errs.KindDispatch))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, ran.Load())
	})

	t.Run("abandoned results go to the orphan handler", func(t *testing.T) {
		// Given
		d := newDispatcher(t, 1)
		release := make(chan struct{})
		orphaned := make(chan int, 1)
		ctx, cancel := context.WithCancel(context.Background())

		// When the caller gives up while the call is running
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		_, err := bridge.Run(ctx, d, "slow", func() (int, error) {
			<-release
			return 7, nil
		}, func(v int, err error) {
			assert.NoError(t, err)
			orphaned <- v
		})

		// Then the caller sees the context error and the result is not lost
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, errs.KindPool, errs.KindOf(err))
		assert.True(t, errs.IsRecoverable(err))
		assert.ErrorContains(t, err, "slow")
		close(release)
		select {
		case v := <-orphaned:
			assert.Equal(t, 7, v)
		case <-time.After(time.Second):
			t.Fatal("orphan handler was not called")
		}
	})

	t.Run("never runs more than size calls at once", func(t *testing.T) {
		d := newDispatcher(t, 2)
		var (
			wg      sync.WaitGroup
			running atomic.Int32
			peak    atomic.Int32
		)

		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := bridge.Run(context.Background(), d, "work", func() (struct{}, error) {
					n := running.Add(1)
					for {
						old := peak.Load()
						if n <= old || peak.CompareAndSwap(old, n) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					running.Add(-1)
					return struct{}{}, nil
				}, nil)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.LessOrEqual(t, peak.Load(), int32(2))
		assert.Positive(t, peak.Load())
	})
}

func TestClose(t *testing.T) {
	t.Parallel()

	t.Run("waits for in-flight calls", func(t *testing.T) {
		d, err := bridge.New("drain", 1)
		require.NoError(t, err)
		started := make(chan struct{})
		var finished atomic.Bool
		go func() {
			_, _ = bridge.Run(context.Background(), d, "drain", func() (int, error) {
				close(started)
				time.Sleep(30 * time.Millisecond)
				finished.Store(true)
				return 0, nil
			}, nil)
		}()
		<-started

		require.NoError(t, d.Close(context.Background()))

		assert.True(t, finished.Load())
	})

	t.Run("gives up when the context is done", func(t *testing.T) {
		d, err := bridge.New("stuck", 1)
		require.NoError(t, err)
		release := make(chan struct{})
		defer close(release)
		started := make(chan struct{})
		go func() {
			_, _ = bridge.Run(context.Background(), d, "stuck", func() (int, error) {
				close(started)
				<-release
				return 0, nil
			}, nil)
		}()
		<-started

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		err = d.Close(ctx)

		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestTracing(t *testing.T) {
	t.Parallel()

	// Given
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	d := newDispatcher(t, 1, bridge.WithTracer(provider.Tracer("test")))

	// When
	_, err := bridge.Run(context.Background(), d, "connpool.execute", func() (int, error) {
		return 1, nil
	}, nil)
	require.NoError(t, err)
	_, err = bridge.Run(context.Background(), d, "connpool.query", func() (int, error) {
		return 0, errors.New("no such table")
	}, nil)
	require.Error(t, err)

	// Then
	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "connpool.execute", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, "connpool.query", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "no such table", spans[1].Status().Description)
}
