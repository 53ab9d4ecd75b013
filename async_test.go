package connpool_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuku/connpool"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newAsyncPool(t *testing.T, cfg connpool.Config, opts ...connpool.Option) *connpool.AsyncPool {
	t.Helper()
	a, err := connpool.NewAsync(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func asyncCount(t *testing.T, a *connpool.AsyncPool, table string) int64 {
	t.Helper()
	rows, err := a.Query(context.Background(), "SELECT COUNT(*) FROM "+table)
	require.NoError(t, err)
	row, ok := rows.Next()
	require.True(t, ok)
	n, err := row.Int64(0)
	require.NoError(t, err)
	return n
}

func TestAsyncPool(t *testing.T) {
	t.Parallel()

	t.Run("execute and query", func(t *testing.T) {
		// Given
		ctx := context.Background()
		a := newAsyncPool(t, fileConfig(t))

		// When
		require.NoError(t, a.Execute(ctx, "CREATE TABLE kv (k TEXT PRIMARY KEY, v INTEGER)"))
		require.NoError(t, a.Execute(ctx, "INSERT INTO kv VALUES (?, ?), (?, ?)", "a", 1, "b", 2))
		rows, err := a.Query(ctx, "SELECT k, v FROM kv ORDER BY k")

		// Then
		require.NoError(t, err)
		assert.Equal(t, []string{"k", "v"}, rows.ColumnNames())
		var got []int64
		for row := range rows.All() {
			v, err := connpool.GetByName[int64](row, "v")
			require.NoError(t, err)
			got = append(got, v)
		}
		assert.Equal(t, []int64{1, 2}, got)
		assert.Equal(t, 0, a.Stats().Active)
	})

	t.Run("with tx commits on success", func(t *testing.T) {
		ctx := context.Background()
		a := newAsyncPool(t, fileConfig(t))
		require.NoError(t, a.Execute(ctx, "CREATE TABLE ledger (amount INTEGER)"))

		err := a.WithTx(ctx, func(tx *connpool.Tx) error {
			if err := tx.Execute("INSERT INTO ledger VALUES (100)"); err != nil {
				return err
			}
			return tx.Execute("INSERT INTO ledger VALUES (-100)")
		})

		require.NoError(t, err)
		assert.Equal(t, int64(2), asyncCount(t, a, "ledger"))
	})

	t.Run("with tx rolls back on error", func(t *testing.T) {
		ctx := context.Background()
		a := newAsyncPool(t, fileConfig(t))
		require.NoError(t, a.Execute(ctx, "CREATE TABLE ledger (amount INTEGER)"))
		boom := errors.New("insufficient funds")

		err := a.WithTx(ctx, func(tx *connpool.Tx) error {
			if err := tx.Execute("INSERT INTO ledger VALUES (100)"); err != nil {
				return err
			}
			return boom
		})

		assert.ErrorIs(t, err, boom)
		assert.Equal(t, int64(0), asyncCount(t, a, "ledger"))
	})

	t.Run("a panic inside with conn is a dispatch error", func(t *testing.T) {
		ctx := context.Background()
		a := newAsyncPool(t, fileConfig(t))

		err := a.WithConn(ctx, func(*connpool.Conn) error {
			panic("unexpected")
		})

		assert.True(t, connpool.IsKind(err, connpool.KindDispatch))
		assert.Eventually(t, func() bool { return a.Stats().Active == 0 }, time.Second, time.Millisecond)
	})

	t.Run("maintain", func(t *testing.T) {
		cfg := fileConfig(t)
		cfg.MaxIdleTime = 10 * time.Millisecond
		a := newAsyncPool(t, cfg)
		time.Sleep(20 * time.Millisecond)

		res, err := a.Maintain(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 1, res.Removed)
		assert.Equal(t, 1, res.Created)
	})

	t.Run("closed pool rejects calls with a dispatch error", func(t *testing.T) {
		a, err := connpool.NewAsync(context.Background(), fileConfig(t))
		require.NoError(t, err)
		require.NoError(t, a.Close(context.Background()))

		_, err = a.Checkout(context.Background())

		assert.ErrorIs(t, err, connpool.ErrDispatcherClosed)
		assert.True(t, connpool.IsKind(err, connpool.KindDispatch))
		assert.True(t, a.Pool().Closed())
	})

	t.Run("invalid configuration", func(t *testing.T) {
		_, err := connpool.NewAsync(context.Background(), connpool.Config{})
		assert.ErrorContains(t, err, "invalid pool configuration")
	})
}

func TestAsyncPool_Checkout(t *testing.T) {
	t.Parallel()

	t.Run("timeout is a pool error", func(t *testing.T) {
		// Given
		cfg := fileConfig(t)
		cfg.MaxSize = 1
		cfg.CheckoutTimeout = 50 * time.Millisecond
		a := newAsyncPool(t, cfg)
		g, err := a.Checkout(context.Background())
		require.NoError(t, err)
		defer g.Release()

		// When
		_, err = a.Checkout(context.Background())

		// Then
		assert.ErrorIs(t, err, connpool.ErrCheckoutTimeout)
		assert.True(t, connpool.IsKind(err, connpool.KindPool))
		assert.False(t, connpool.IsKind(err, connpool.KindDispatch))
	})

	t.Run("checkout timeout includes the wait for a free worker", func(t *testing.T) {
		// Given the only worker is busy waiting for the only connection
		cfg := fileConfig(t)
		cfg.MaxSize = 1
		cfg.Workers = 1
		cfg.CheckoutTimeout = 150 * time.Millisecond
		a := newAsyncPool(t, cfg)
		held, err := a.Checkout(context.Background())
		require.NoError(t, err)
		defer held.Release()
		first := make(chan error, 1)
		go func() {
			_, err := a.Checkout(context.Background())
			first <- err
		}()
		require.Eventually(t, func() bool { return a.Stats().Waiting == 1 }, time.Second, time.Millisecond)

		// When
		start := time.Now()
		_, err = a.Checkout(context.Background())
		elapsed := time.Since(start)

		// Then
		assert.ErrorIs(t, err, connpool.ErrCheckoutTimeout)
		assert.Equal(t, connpool.KindPool, connpool.KindOf(err))
		assert.Less(t, elapsed, 280*time.Millisecond)
		assert.ErrorIs(t, <-first, connpool.ErrCheckoutTimeout)
	})

	t.Run("abandoned checkout returns its connection", func(t *testing.T) {
		// Given every connection is held
		cfg := fileConfig(t)
		cfg.MaxSize = 1
		cfg.CheckoutTimeout = 5 * time.Second
		a := newAsyncPool(t, cfg)
		held, err := a.Checkout(context.Background())
		require.NoError(t, err)

		// When a caller gives up waiting
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, err = a.Checkout(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, connpool.KindPool, connpool.KindOf(err))
		assert.True(t, connpool.IsRecoverable(err))

		// Then the connection it eventually obtains goes back to the pool
		held.Release()
		<-held.Done()
		require.Eventually(t, func() bool {
			stats := a.Stats()
			return stats.Active == 0 && stats.Idle == 1 && stats.CheckoutsTotal == 2
		}, 2*time.Second, time.Millisecond)

		g, err := a.Checkout(context.Background())
		require.NoError(t, err)
		g.Release()
	})
}

func TestAsyncGuard(t *testing.T) {
	t.Parallel()

	t.Run("prepared statements are reused on the same connection", func(t *testing.T) {
		// Given
		ctx := context.Background()
		a := newAsyncPool(t, fileConfig(t))
		g, err := a.Checkout(ctx)
		require.NoError(t, err)
		defer g.Release()
		require.NoError(t, g.Execute(ctx, "CREATE TABLE items (id INTEGER, name TEXT)"))

		// When
		stmt, err := g.Prepare(ctx, "INSERT INTO items VALUES (?, ?)")
		require.NoError(t, err)
		for i, name := range []string{"a", "b", "c"} {
			require.NoError(t, stmt.Execute(ctx, i, name))
		}
		query, err := g.Prepare(ctx, "SELECT name FROM items WHERE id = ?")
		require.NoError(t, err)
		rows, err := query.Query(ctx, 1)

		// Then
		require.NoError(t, err)
		row, ok := rows.Next()
		require.True(t, ok)
		name, err := row.Text(0)
		require.NoError(t, err)
		assert.Equal(t, "b", name)
		assert.Equal(t, "INSERT INTO items VALUES (?, ?)", stmt.SQL())
		require.NoError(t, stmt.Close(ctx))
		require.NoError(t, query.Close(ctx))
	})

	t.Run("transactions commit and roll back", func(t *testing.T) {
		ctx := context.Background()
		a := newAsyncPool(t, fileConfig(t))
		g, err := a.Checkout(ctx)
		require.NoError(t, err)
		defer g.Release()
		require.NoError(t, g.Execute(ctx, "CREATE TABLE t (v INTEGER)"))

		tx, err := g.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Execute(ctx, "INSERT INTO t VALUES (1)"))
		rows, err := tx.Query(ctx, "SELECT COUNT(*) FROM t")
		require.NoError(t, err)
		assert.Equal(t, 1, rows.RowCount())
		require.NoError(t, tx.Commit(ctx))

		tx, err = g.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Execute(ctx, "INSERT INTO t VALUES (2)"))
		require.NoError(t, tx.Rollback(ctx))

		tx, err = g.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Execute(ctx, "INSERT INTO t VALUES (3)"))
		require.NoError(t, tx.Close(ctx))

		err = tx.Commit(ctx)
		assert.True(t, connpool.IsKind(err, connpool.KindTransaction))
		assert.Equal(t, int64(1), asyncCount(t, a, "t"))
	})

	t.Run("release rolls back an open transaction", func(t *testing.T) {
		// Given
		ctx := context.Background()
		cfg := fileConfig(t)
		cfg.MaxSize = 1
		a := newAsyncPool(t, cfg)
		require.NoError(t, a.Execute(ctx, "CREATE TABLE t (v INTEGER)"))
		g, err := a.Checkout(ctx)
		require.NoError(t, err)
		tx, err := g.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Execute(ctx, "INSERT INTO t VALUES (1)"))

		// When
		g.Release()
		g.Release()
		<-g.Done()

		// Then
		assert.Equal(t, int64(0), asyncCount(t, a, "t"))
		err = g.Execute(ctx, "INSERT INTO t VALUES (2)")
		assert.True(t, connpool.IsKind(err, connpool.KindClosed))
	})

	t.Run("do runs against the guarded connection", func(t *testing.T) {
		ctx := context.Background()
		a := newAsyncPool(t, fileConfig(t))
		g, err := a.Checkout(ctx)
		require.NoError(t, err)
		defer g.Release()

		var first, second string
		require.NoError(t, g.Do(ctx, func(c *connpool.Conn) error {
			first = c.String()
			return nil
		}))
		require.NoError(t, g.Do(ctx, func(c *connpool.Conn) error {
			second = c.String()
			return nil
		}))

		assert.NotEmpty(t, first)
		assert.Equal(t, first, second)
	})

	t.Run("invalid sql is recoverable", func(t *testing.T) {
		ctx := context.Background()
		a := newAsyncPool(t, fileConfig(t))
		g, err := a.Checkout(ctx)
		require.NoError(t, err)
		defer g.Release()

		err = g.Execute(ctx, "")

		assert.True(t, connpool.IsKind(err, connpool.KindInvalidSQL))
		assert.True(t, connpool.IsRecoverable(err))
	})
}

func TestAsyncPool_Tracing(t *testing.T) {
	t.Parallel()

	// Given
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	a := newAsyncPool(t, fileConfig(t), connpool.WithTracer(provider.Tracer("test")))

	// When
	require.NoError(t, a.Execute(context.Background(), "CREATE TABLE traced (v INTEGER)"))

	// Then
	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"connpool.open", "connpool.checkout", "connpool.do"}, names)
}
