// Package sqlite implements engine.Engine on top of modernc.org/sqlite, a
// cgo-free SQLite. It talks to the driver-level connection directly so that
// every handle maps to exactly one native SQLite connection.
package sqlite

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/yuku/connpool/internal/engine"
	moderncsqlite "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database. Every handle opened with it
// sees its own database.
const MemoryPath = ":memory:"

// Name is the engine name used in configuration.
const Name = "sqlite"

// Engine opens SQLite handles.
type Engine struct {
	// BusyTimeoutMillis is applied to file databases. Zero means 5000.
	BusyTimeoutMillis int
}

var _ engine.Engine = (*Engine)(nil)

func (e *Engine) Name() string { return Name }

// Open opens the database at path. An empty path or MemoryPath opens a
// private in-memory database.
func (e *Engine) Open(path string) (engine.Handle, error) {
	conn, err := (&moderncsqlite.Driver{}).Open(e.dsn(path))
	if err != nil {
		return nil, convertError(err)
	}
	return &handle{conn: conn}, nil
}

func (e *Engine) dsn(path string) string {
	if path == "" || path == MemoryPath {
		return MemoryPath
	}
	timeout := e.BusyTimeoutMillis
	if timeout <= 0 {
		timeout = 5000
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(" + strconv.Itoa(timeout) + ")"
}

type handle struct {
	conn driver.Conn
	tx   driver.Tx
}

var _ engine.Handle = (*handle)(nil)

func (h *handle) Exec(query string, args ...any) (engine.ExecResult, error) {
	named, err := namedValues(args)
	if err != nil {
		return engine.ExecResult{}, err
	}
	if ec, ok := h.conn.(driver.ExecerContext); ok {
		res, err := ec.ExecContext(context.Background(), query, named)
		if !errors.Is(err, driver.ErrSkip) {
			if err != nil {
				return engine.ExecResult{}, convertError(err)
			}
			return execResult(res), nil
		}
	}
	st, err := h.prepare(query)
	if err != nil {
		return engine.ExecResult{}, err
	}
	defer st.Close()
	return st.exec(named)
}

func (h *handle) Query(query string, args ...any) (*engine.Result, error) {
	named, err := namedValues(args)
	if err != nil {
		return nil, err
	}
	if qc, ok := h.conn.(driver.QueryerContext); ok {
		rows, err := qc.QueryContext(context.Background(), query, named)
		if !errors.Is(err, driver.ErrSkip) {
			if err != nil {
				return nil, convertError(err)
			}
			return materialize(rows)
		}
	}
	st, err := h.prepare(query)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.query(named)
}

func (h *handle) Prepare(query string) (engine.Stmt, error) {
	return h.prepare(query)
}

func (h *handle) prepare(query string) (*stmt, error) {
	s, err := h.conn.Prepare(query)
	if err != nil {
		return nil, convertError(err)
	}
	n := s.NumInput()
	if n < 0 {
		n = countParams(query)
	}
	return &stmt{stmt: s, numInput: n}, nil
}

// sizeQuery reads the database size without touching user tables.
const sizeQuery = "SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()"

var _ engine.Sizer = (*handle)(nil)

func (h *handle) Size() (uint64, error) {
	res, err := h.Query(sizeQuery)
	if err != nil {
		return 0, err
	}
	if len(res.Rows) != 1 || len(res.Rows[0]) != 1 || res.Rows[0][0].Kind != engine.KindInteger {
		return 0, &engine.Error{Code: engine.CodeMismatch, Message: "unexpected database size result"}
	}
	return uint64(max(res.Rows[0][0].Int, 0)), nil
}

func (h *handle) Begin() error {
	if h.tx != nil {
		return &engine.Error{Code: engine.CodeMisuse, Message: "cannot start a transaction within a transaction"}
	}
	var (
		tx  driver.Tx
		err error
	)
	if bc, ok := h.conn.(driver.ConnBeginTx); ok {
		tx, err = bc.BeginTx(context.Background(), driver.TxOptions{})
	} else {
		tx, err = h.conn.Begin() //nolint:staticcheck // fallback for drivers without BeginTx
	}
	if err != nil {
		return convertError(err)
	}
	h.tx = tx
	return nil
}

func (h *handle) Commit() error {
	if h.tx == nil {
		return &engine.Error{Code: engine.CodeMisuse, Message: "cannot commit - no transaction is active"}
	}
	tx := h.tx
	h.tx = nil
	return convertError(tx.Commit())
}

func (h *handle) Rollback() error {
	if h.tx == nil {
		return &engine.Error{Code: engine.CodeMisuse, Message: "cannot rollback - no transaction is active"}
	}
	tx := h.tx
	h.tx = nil
	return convertError(tx.Rollback())
}

func (h *handle) Ping() error {
	if p, ok := h.conn.(driver.Pinger); ok {
		return convertError(p.Ping(context.Background()))
	}
	_, err := h.Query("SELECT 1")
	return err
}

func (h *handle) Close() error {
	if h.tx != nil {
		_ = h.tx.Rollback()
		h.tx = nil
	}
	return convertError(h.conn.Close())
}

type stmt struct {
	stmt     driver.Stmt
	numInput int
}

var _ engine.Stmt = (*stmt)(nil)

func (s *stmt) NumInput() int { return s.numInput }

func (s *stmt) Exec(args []any) (engine.ExecResult, error) {
	named, err := namedValues(args)
	if err != nil {
		return engine.ExecResult{}, err
	}
	return s.exec(named)
}

func (s *stmt) Query(args []any) (*engine.Result, error) {
	named, err := namedValues(args)
	if err != nil {
		return nil, err
	}
	return s.query(named)
}

func (s *stmt) Close() error {
	return convertError(s.stmt.Close())
}

func (s *stmt) exec(named []driver.NamedValue) (engine.ExecResult, error) {
	var (
		res driver.Result
		err error
	)
	if sc, ok := s.stmt.(driver.StmtExecContext); ok {
		res, err = sc.ExecContext(context.Background(), named)
	} else {
		res, err = s.stmt.Exec(plainValues(named)) //nolint:staticcheck // fallback for old drivers
	}
	if err != nil {
		return engine.ExecResult{}, convertError(err)
	}
	return execResult(res), nil
}

func (s *stmt) query(named []driver.NamedValue) (*engine.Result, error) {
	var (
		rows driver.Rows
		err  error
	)
	if sc, ok := s.stmt.(driver.StmtQueryContext); ok {
		rows, err = sc.QueryContext(context.Background(), named)
	} else {
		rows, err = s.stmt.Query(plainValues(named)) //nolint:staticcheck // fallback for old drivers
	}
	if err != nil {
		return nil, convertError(err)
	}
	return materialize(rows)
}

// materialize drains rows into an engine.Result and closes rows.
func materialize(rows driver.Rows) (*engine.Result, error) {
	defer rows.Close()

	cols := rows.Columns()
	res := &engine.Result{Columns: append([]string(nil), cols...)}
	dest := make([]driver.Value, len(cols))
	for {
		err := rows.Next(dest)
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return nil, convertError(err)
		}
		row := make([]engine.Value, len(dest))
		for i, v := range dest {
			row[i], err = engine.ValueOf(v)
			if err != nil {
				return nil, &engine.Error{Code: engine.CodeMismatch, Message: err.Error()}
			}
		}
		res.Rows = append(res.Rows, row)
	}
}

func execResult(res driver.Result) engine.ExecResult {
	var out engine.ExecResult
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
	}
	return out
}

func namedValues(args []any) ([]driver.NamedValue, error) {
	named := make([]driver.NamedValue, len(args))
	for i, a := range args {
		v, err := driver.DefaultParameterConverter.ConvertValue(a)
		if err != nil {
			return nil, &engine.Error{Code: engine.CodeMismatch, Message: err.Error()}
		}
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named, nil
}

func plainValues(named []driver.NamedValue) []driver.Value {
	vals := make([]driver.Value, len(named))
	for i, nv := range named {
		vals[i] = nv.Value
	}
	return vals
}

// convertError maps a driver error to *engine.Error, keeping the SQLite
// result code when the driver exposes one.
func convertError(err error) error {
	if err == nil {
		return nil
	}
	var ee *engine.Error
	if errors.As(err, &ee) {
		return ee
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		return &engine.Error{Code: coded.Code(), Message: err.Error()}
	}
	return &engine.Error{Code: engine.CodeError, Message: err.Error()}
}
