package handle

import (
	"fmt"
	"sync"
	"time"

	"github.com/yuku/connpool/internal/engine"
	"github.com/yuku/connpool/internal/errs"
	"github.com/yuku/connpool/internal/result"
)

// PreparedStatement is a compiled statement bound to the Connection that
// prepared it. Parameters are bound by 0-based index and unbound parameters
// are NULL.
type PreparedStatement struct {
	conn   *Connection
	sql    string
	st     engine.Stmt
	params []any
	fixed  bool
	closed bool

	closeOnce sync.Once
	closeErr  error
}

func newPreparedStatement(c *Connection, sql string, st engine.Stmt) *PreparedStatement {
	ps := &PreparedStatement{conn: c, sql: sql, st: st}
	if n := st.NumInput(); n >= 0 {
		ps.params = make([]any, n)
		ps.fixed = true
	}
	return ps
}

// SQL returns the statement text.
func (s *PreparedStatement) SQL() string {
	return s.sql
}

// ParamCount returns the number of parameters, or the number bound so far
// when the engine cannot tell.
func (s *PreparedStatement) ParamCount() int {
	return len(s.params)
}

func (s *PreparedStatement) BindInt(index int, v int64) error { return s.bind(index, v) }
func (s *PreparedStatement) BindReal(index int, v float64) error { return s.bind(index, v) }
func (s *PreparedStatement) BindText(index int, v string) error { return s.bind(index, v) }
func (s *PreparedStatement) BindNull(index int) error { return s.bind(index, nil) }

// BindBool binds v as the integer 1 or 0.
func (s *PreparedStatement) BindBool(index int, v bool) error {
	if v {
		return s.bind(index, int64(1))
	}
	return s.bind(index, int64(0))
}

// BindBlob binds a copy of v.
func (s *PreparedStatement) BindBlob(index int, v []byte) error {
	if v == nil {
		v = []byte{}
	}
	return s.bind(index, append([]byte(nil), v...))
}

// Bind binds v, which must be nil or convertible to one of the value kinds:
// integers, floats, bool, string, []byte or engine.Value.
func (s *PreparedStatement) Bind(index int, v any) error {
	if ev, ok := v.(engine.Value); ok {
		return s.bind(index, ev.Any())
	}
	val, err := engine.ValueOf(v)
	if err != nil {
		return &errs.Error{Kind: errs.KindBind, Op: "bind", Err: err}
	}
	return s.bind(index, val.Any())
}

// BindAll binds args to parameters 0..len(args)-1.
func (s *PreparedStatement) BindAll(args ...any) error {
	for i, a := range args {
		if err := s.Bind(i, a); err != nil {
			return err
		}
	}
	return nil
}

func (s *PreparedStatement) bind(index int, v any) error {
	if s.closed || s.conn.closed {
		return errs.New(errs.KindBind, "bind", "statement is finalized")
	}
	if index < 0 || (s.fixed && index >= len(s.params)) {
		return &errs.Error{
			Kind:    errs.KindBind,
			Op:      "bind",
			Message: fmt.Sprintf("parameter index %d out of range [0, %d)", index, len(s.params)),
			Code:    engine.CodeRange,
		}
	}
	for !s.fixed && index >= len(s.params) {
		s.params = append(s.params, nil)
	}
	s.params[index] = v
	return nil
}

// Execute runs the statement with the current bindings.
func (s *PreparedStatement) Execute() error {
	if s.closed || s.conn.closed {
		return errs.New(errs.KindExecution, "execute", "statement is finalized")
	}
	start := time.Now()
	res, err := s.st.Exec(s.params)
	s.conn.obs.StatementExecuted(time.Since(start), err == nil)
	if err != nil {
		return s.conn.fail(errs.KindExecution, "execute", err)
	}
	s.conn.record(res)
	return nil
}

// Query runs the statement with the current bindings and materializes the
// rows.
func (s *PreparedStatement) Query() (*result.Rows, error) {
	if s.closed || s.conn.closed {
		return nil, errs.New(errs.KindExecution, "query", "statement is finalized")
	}
	start := time.Now()
	res, err := s.st.Query(s.params)
	s.conn.obs.StatementExecuted(time.Since(start), err == nil)
	if err != nil {
		return nil, s.conn.fail(errs.KindExecution, "query", err)
	}
	s.conn.obs.RowsReturned(s.sql, len(res.Rows))
	return result.New(res), nil
}

// Reset makes the statement ready to run again. Bindings are kept. Every
// execution already materializes its whole result and leaves no open cursor
// on the engine statement, so Reset only checks that the statement is not
// finalized.
func (s *PreparedStatement) Reset() error {
	if s.closed || s.conn.closed {
		return errs.New(errs.KindReset, "reset", "statement is finalized")
	}
	return nil
}

// ClearBindings sets every parameter back to NULL.
func (s *PreparedStatement) ClearBindings() error {
	if s.closed || s.conn.closed {
		return errs.New(errs.KindBind, "clear bindings", "statement is finalized")
	}
	clear(s.params)
	return nil
}

// Close finalizes the statement exactly once.
func (s *PreparedStatement) Close() error {
	s.closeOnce.Do(func() {
		s.closed = true
		delete(s.conn.stmts, s)
		if err := s.st.Close(); err != nil {
			s.closeErr = s.conn.fail(errs.KindDatabase, "finalize", err)
		}
	})
	return s.closeErr
}
