package connpool

import (
	"time"

	"github.com/yuku/connpool/internal/errs"
	"github.com/yuku/connpool/internal/handle"
	"github.com/yuku/connpool/internal/pool"
)

// Guard is the exclusive claim on one checked out connection. The connection
// goes back to the pool, or is closed, when the guard is released.
type Guard struct {
	guard *pool.Guard[*handle.Connection]
}

// Conn returns the guarded connection. It must not be used after Release.
func (g *Guard) Conn() *Conn {
	return g.guard.Value()
}

// CreatedAt returns when the guarded connection was opened.
func (g *Guard) CreatedAt() time.Time {
	return g.guard.CreatedAt()
}

// Execute runs sql on the guarded connection.
func (g *Guard) Execute(sql string, args ...any) error {
	return g.check(g.Conn().Execute(sql, args...))
}

// Query runs sql on the guarded connection and returns its materialized rows.
func (g *Guard) Query(sql string, args ...any) (*Rows, error) {
	rows, err := g.Conn().Query(sql, args...)
	return rows, g.check(err)
}

// Prepare compiles sql on the guarded connection.
func (g *Guard) Prepare(sql string) (*Stmt, error) {
	stmt, err := g.Conn().Prepare(sql)
	return stmt, g.check(err)
}

// Begin starts a transaction on the guarded connection. A transaction left
// open is rolled back when the guard is released.
func (g *Guard) Begin() (*Tx, error) {
	tx, err := g.Conn().Begin()
	return tx, g.check(err)
}

// MarkBroken makes Release close the connection instead of returning it.
func (g *Guard) MarkBroken() {
	g.guard.MarkBroken()
}

// Released reports whether Release has been called.
func (g *Guard) Released() bool {
	return g.guard.Released()
}

// Release returns the connection to the pool.
// It is safe to call Release multiple times; subsequent calls will be no-ops.
// This allows for both defer g.Release() and explicit release patterns.
func (g *Guard) Release() {
	g.guard.Release()
}

// Close releases the guard. It always returns nil and exists so a Guard can
// be used as an io.Closer.
func (g *Guard) Close() error {
	g.Release()
	return nil
}

// check marks the connection broken when err means it is no longer usable.
func (g *Guard) check(err error) error {
	if errs.Is(err, errs.KindConnectionFailed) {
		g.MarkBroken()
	}
	return err
}
