// Package handle wraps a native engine handle with exactly-once finalization
// for connections, prepared statements and transactions.
//
// None of the types here are safe for concurrent use. The pool hands a
// Connection to one holder at a time, and statements and transactions borrow
// their Connection.
package handle

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yuku/connpool/internal/engine"
	"github.com/yuku/connpool/internal/errs"
	"github.com/yuku/connpool/internal/metrics"
	"github.com/yuku/connpool/internal/result"
	"go.uber.org/zap"
)

// Connection is an open native handle.
type Connection struct {
	id     uuid.UUID
	engine string
	path   string
	h      engine.Handle

	logger *zap.Logger
	obs    metrics.Observer

	tx      *Transaction
	stmts   map[*PreparedStatement]struct{}
	changes int64
	lastID  int64
	broken  bool
	closed  bool

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Connection.
type Option func(*options)

type options struct {
	logger *zap.Logger
	obs    metrics.Observer
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithObserver sets the metrics observer.
func WithObserver(obs metrics.Observer) Option {
	return func(o *options) {
		o.obs = obs
	}
}

// Open opens a connection to path using eng.
func Open(eng engine.Engine, path string, opts ...Option) (*Connection, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.obs = metrics.OrNop(o.obs)

	if strings.ContainsRune(path, 0) {
		return nil, errs.New(errs.KindInvalidPath, "open", "path contains a NUL byte")
	}

	h, err := eng.Open(path)
	if err != nil {
		o.obs.DatabaseError(errs.KindConnectionFailed.String())
		return nil, &errs.Error{Kind: errs.KindConnectionFailed, Op: "open", Message: path, Code: codeOf(err), Err: err}
	}

	c := &Connection{
		id:     uuid.New(),
		engine: eng.Name(),
		path:   path,
		h:      h,
		obs:    o.obs,
		stmts:  make(map[*PreparedStatement]struct{}),
	}
	c.logger = o.logger.With(zap.String("component", "connection"), zap.Stringer("conn_id", c.id))
	c.obs.ConnectionOpened(c.engine)
	c.logger.Debug("connection opened", zap.String("engine", c.engine))
	return c, nil
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

// Engine returns the name of the engine behind the connection.
func (c *Connection) Engine() string {
	return c.engine
}

// Changes returns the number of rows affected by the most recent statement.
func (c *Connection) Changes() int64 {
	return c.changes
}

// LastInsertRowID returns the row id of the most recent insert, when the
// engine reports one.
func (c *Connection) LastInsertRowID() int64 {
	return c.lastID
}

// InTransaction reports whether a transaction is open.
func (c *Connection) InTransaction() bool {
	return c.tx != nil
}

// Broken reports whether the connection is in an unknown state and must not
// be reused.
func (c *Connection) Broken() bool {
	return c.broken
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	return c.closed
}

// Execute runs a statement that returns no rows.
func (c *Connection) Execute(sql string, args ...any) error {
	if err := c.check("execute", sql); err != nil {
		return err
	}
	start := time.Now()
	res, err := c.h.Exec(sql, args...)
	c.obs.QueryExecuted(sql, time.Since(start), err == nil)
	if err != nil {
		return c.fail(errs.KindDatabase, "execute", err)
	}
	c.record(res)
	return nil
}

// Query runs a statement and materializes all of its rows.
func (c *Connection) Query(sql string, args ...any) (*result.Rows, error) {
	if err := c.check("query", sql); err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := c.h.Query(sql, args...)
	c.obs.QueryExecuted(sql, time.Since(start), err == nil)
	if err != nil {
		return nil, c.fail(errs.KindDatabase, "query", err)
	}
	c.obs.RowsReturned(sql, len(res.Rows))
	return result.New(res), nil
}

// Prepare compiles sql into a statement bound to c.
func (c *Connection) Prepare(sql string) (*PreparedStatement, error) {
	if err := c.check("prepare", sql); err != nil {
		return nil, err
	}
	st, err := c.h.Prepare(sql)
	if err != nil {
		return nil, c.fail(errs.KindDatabase, "prepare", err)
	}
	ps := newPreparedStatement(c, sql, st)
	c.stmts[ps] = struct{}{}
	c.obs.StatementPrepared()
	return ps, nil
}

// Begin starts a transaction. Only one transaction may be open at a time.
func (c *Connection) Begin() (*Transaction, error) {
	if c.closed {
		return nil, errClosed("begin")
	}
	if c.tx != nil {
		return nil, errs.New(errs.KindTransaction, "begin", "a transaction is already active")
	}
	if err := c.h.Begin(); err != nil {
		return nil, c.fail(errs.KindTransaction, "begin", err)
	}
	c.tx = &Transaction{conn: c, started: time.Now()}
	c.obs.TransactionStarted()
	return c.tx, nil
}

// Ping checks that the native handle is still usable.
func (c *Connection) Ping() error {
	if c.closed {
		return errClosed("ping")
	}
	if err := c.h.Ping(); err != nil {
		return c.fail(errs.KindConnectionFailed, "ping", err)
	}
	return nil
}

// Validate runs probe, or pings when probe is empty. Probes are not
// reported as queries.
func (c *Connection) Validate(probe string) error {
	if probe == "" {
		return c.Ping()
	}
	if err := c.check("validate", probe); err != nil {
		return err
	}
	if _, err := c.h.Query(probe); err != nil {
		return c.fail(errs.KindConnectionFailed, "validate", err)
	}
	return nil
}

// DatabaseSize returns the size of the database in bytes and reports it to
// the observer.
func (c *Connection) DatabaseSize() (uint64, error) {
	if c.closed {
		return 0, errClosed("size")
	}
	sizer, ok := c.h.(engine.Sizer)
	if !ok {
		return 0, errs.New(errs.KindDatabase, "size", c.engine+" does not report database size")
	}
	n, err := sizer.Size()
	if err != nil {
		return 0, c.fail(errs.KindDatabase, "size", err)
	}
	c.obs.DatabaseSizeUpdated(n)
	return n, nil
}

// Reset prepares c for its next holder: an open transaction is rolled back
// and open statements are finalized. Failures mark c broken.
func (c *Connection) Reset() {
	if c.closed {
		return
	}
	if c.tx != nil {
		c.tx.Close()
	}
	for ps := range c.stmts {
		if err := ps.Close(); err != nil {
			c.broken = true
		}
	}
}

// Close finalizes the connection exactly once. An open transaction is rolled
// back and open statements are finalized first.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.Reset()
		c.closed = true
		if err := c.h.Close(); err != nil {
			c.closeErr = c.fail(errs.KindDatabase, "close", err)
		}
		c.obs.ConnectionClosed(c.engine)
		c.logger.Debug("connection closed")
	})
	return c.closeErr
}

func (c *Connection) check(op, sql string) error {
	if c.closed {
		return errClosed(op)
	}
	if strings.TrimSpace(sql) == "" {
		return errs.New(errs.KindInvalidSQL, op, "empty statement")
	}
	if strings.ContainsRune(sql, 0) {
		return errs.New(errs.KindInvalidSQL, op, "statement contains a NUL byte")
	}
	return nil
}

func (c *Connection) record(res engine.ExecResult) {
	c.changes = res.RowsAffected
	if res.LastInsertID != 0 {
		c.lastID = res.LastInsertID
	}
}

// fail converts an engine failure into an *errs.Error of kind k and reports it.
func (c *Connection) fail(k errs.Kind, op string, err error) error {
	c.obs.DatabaseError(k.String())
	e := &errs.Error{Kind: k, Op: op, Code: codeOf(err), Err: err}
	if ee, ok := err.(*engine.Error); ok {
		e.Message = ee.Message
		e.Err = nil
	}
	return e
}

func codeOf(err error) int {
	if ee, ok := err.(*engine.Error); ok {
		return ee.Code
	}
	return 0
}

func errClosed(op string) error {
	return errs.New(errs.KindClosed, op, "connection is closed")
}

func (c *Connection) String() string {
	return fmt.Sprintf("%s:%s", c.engine, c.id)
}
