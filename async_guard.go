package connpool

import (
	"context"
	"sync"

	"github.com/yuku/connpool/internal/bridge"
	"github.com/yuku/connpool/internal/errs"
)

// AsyncGuard is the exclusive claim on one connection checked out through an
// AsyncPool. Every call is dispatched to the exec lane and calls on the same
// guard run one at a time, always against the same connection.
type AsyncGuard struct {
	pool  *AsyncPool
	guard *Guard

	// mu serializes calls on the connection.
	mu sync.Mutex
	// returned is set under mu once the connection went back to the pool.
	returned bool

	releaseOnce sync.Once
	done        chan struct{}
}

func newAsyncGuard(a *AsyncPool, g *Guard) *AsyncGuard {
	return &AsyncGuard{pool: a, guard: g, done: make(chan struct{})}
}

// dispatch runs fn against the guarded connection on the exec lane.
func dispatch[T any](ctx context.Context, g *AsyncGuard, op string, fn func(*Conn) (T, error)) (T, error) {
	return bridge.Run(ctx, g.pool.exec, op, func() (T, error) {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.returned {
			var zero T
			return zero, errs.New(errs.KindClosed, op, "guard is released")
		}
		v, err := fn(g.guard.Conn())
		return v, g.guard.check(err)
	}, nil)
}

// Do runs fn with the guarded connection in one dispatched call. fn must not
// retain the connection.
func (g *AsyncGuard) Do(ctx context.Context, fn func(*Conn) error) error {
	_, err := dispatch(ctx, g, "connpool.do", func(c *Conn) (struct{}, error) {
		return struct{}{}, fn(c)
	})
	return err
}

// Execute runs sql on the guarded connection.
func (g *AsyncGuard) Execute(ctx context.Context, sql string, args ...any) error {
	_, err := dispatch(ctx, g, "connpool.execute", func(c *Conn) (struct{}, error) {
		return struct{}{}, c.Execute(sql, args...)
	})
	return err
}

// Query runs sql on the guarded connection.
func (g *AsyncGuard) Query(ctx context.Context, sql string, args ...any) (*Rows, error) {
	return dispatch(ctx, g, "connpool.query", func(c *Conn) (*Rows, error) {
		return c.Query(sql, args...)
	})
}

// Prepare compiles sql on the guarded connection. The statement stays on
// that connection and is finalized when the guard is released.
func (g *AsyncGuard) Prepare(ctx context.Context, sql string) (*AsyncStmt, error) {
	stmt, err := dispatch(ctx, g, "connpool.prepare", func(c *Conn) (*Stmt, error) {
		return c.Prepare(sql)
	})
	if err != nil {
		return nil, err
	}
	return &AsyncStmt{guard: g, stmt: stmt}, nil
}

// Begin starts a transaction on the guarded connection. A transaction left
// open is rolled back when the guard is released.
func (g *AsyncGuard) Begin(ctx context.Context) (*AsyncTx, error) {
	tx, err := dispatch(ctx, g, "connpool.begin", func(c *Conn) (*Tx, error) {
		return c.Begin()
	})
	if err != nil {
		return nil, err
	}
	return &AsyncTx{guard: g, tx: tx}, nil
}

// MarkBroken makes Release close the connection instead of returning it.
func (g *AsyncGuard) MarkBroken() {
	g.guard.MarkBroken()
}

// Release returns the connection to the pool without blocking. The return
// happens in the background once the call in flight, if any, has finished;
// an open transaction is rolled back first. It is safe to call Release
// multiple times.
func (g *AsyncGuard) Release() {
	g.releaseOnce.Do(func() {
		go func() {
			defer close(g.done)
			g.mu.Lock()
			defer g.mu.Unlock()
			g.returned = true
			g.guard.Release()
		}()
	})
}

// Done returns a channel that is closed once the connection has been
// returned to the pool after Release.
func (g *AsyncGuard) Done() <-chan struct{} {
	return g.done
}

// AsyncTx is a transaction pinned to an AsyncGuard's connection.
type AsyncTx struct {
	guard *AsyncGuard
	tx    *Tx
}

// Execute runs sql inside the transaction.
func (t *AsyncTx) Execute(ctx context.Context, sql string, args ...any) error {
	_, err := dispatch(ctx, t.guard, "connpool.tx.execute", func(*Conn) (struct{}, error) {
		return struct{}{}, t.tx.Execute(sql, args...)
	})
	return err
}

// Query runs sql inside the transaction.
func (t *AsyncTx) Query(ctx context.Context, sql string, args ...any) (*Rows, error) {
	return dispatch(ctx, t.guard, "connpool.tx.query", func(*Conn) (*Rows, error) {
		return t.tx.Query(sql, args...)
	})
}

// Commit commits the transaction.
func (t *AsyncTx) Commit(ctx context.Context) error {
	_, err := dispatch(ctx, t.guard, "connpool.tx.commit", func(*Conn) (struct{}, error) {
		return struct{}{}, t.tx.Commit()
	})
	return err
}

// Rollback rolls the transaction back.
func (t *AsyncTx) Rollback(ctx context.Context) error {
	_, err := dispatch(ctx, t.guard, "connpool.tx.rollback", func(*Conn) (struct{}, error) {
		return struct{}{}, t.tx.Rollback()
	})
	return err
}

// Close rolls the transaction back if it is still open. A failed rollback is
// logged, not returned; only dispatch failures are.
func (t *AsyncTx) Close(ctx context.Context) error {
	_, err := dispatch(ctx, t.guard, "connpool.tx.close", func(*Conn) (struct{}, error) {
		t.tx.Close()
		return struct{}{}, nil
	})
	return err
}

// AsyncStmt is a prepared statement pinned to an AsyncGuard's connection.
// It can be executed any number of times until it is closed or the guard is
// released.
type AsyncStmt struct {
	guard *AsyncGuard
	stmt  *Stmt
}

// SQL returns the statement text.
func (s *AsyncStmt) SQL() string {
	return s.stmt.SQL()
}

// Execute binds args by position and executes the statement.
func (s *AsyncStmt) Execute(ctx context.Context, args ...any) error {
	_, err := dispatch(ctx, s.guard, "connpool.stmt.execute", func(*Conn) (struct{}, error) {
		if err := s.bind(args); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, s.stmt.Execute()
	})
	return err
}

// Query binds args by position and runs the statement as a query.
func (s *AsyncStmt) Query(ctx context.Context, args ...any) (*Rows, error) {
	return dispatch(ctx, s.guard, "connpool.stmt.query", func(*Conn) (*Rows, error) {
		if err := s.bind(args); err != nil {
			return nil, err
		}
		return s.stmt.Query()
	})
}

// Close finalizes the statement.
func (s *AsyncStmt) Close(ctx context.Context) error {
	_, err := dispatch(ctx, s.guard, "connpool.stmt.close", func(*Conn) (struct{}, error) {
		return struct{}{}, s.stmt.Close()
	})
	return err
}

func (s *AsyncStmt) bind(args []any) error {
	if err := s.stmt.ClearBindings(); err != nil {
		return err
	}
	return s.stmt.BindAll(args...)
}
