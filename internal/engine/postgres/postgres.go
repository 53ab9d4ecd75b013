// Package postgres implements engine.Engine on a single *pgx.Conn per handle.
//
// Handles are blocking: every call uses a background context and the pool
// above bounds concurrency. Placeholders are passed through untouched, so
// statements use $1, $2, ...
package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/yuku/connpool/internal/engine"
)

// Name is the engine name used in configuration.
const Name = "postgres"

// Engine opens PostgreSQL handles. The path is a pgx connection string.
type Engine struct{}

var _ engine.Engine = (*Engine)(nil)

func (e *Engine) Name() string { return Name }

func (e *Engine) Open(connString string) (engine.Handle, error) {
	conn, err := pgx.Connect(context.Background(), connString)
	if err != nil {
		return nil, convertError(err, engine.CodeCantOpen)
	}
	return &handle{conn: conn}, nil
}

type handle struct {
	conn *pgx.Conn
	tx   pgx.Tx
}

var _ engine.Handle = (*handle)(nil)

func (h *handle) Exec(sql string, args ...any) (engine.ExecResult, error) {
	tag, err := h.conn.Exec(context.Background(), sql, args...)
	if err != nil {
		return engine.ExecResult{}, convertError(err, engine.CodeError)
	}
	return engine.ExecResult{RowsAffected: tag.RowsAffected()}, nil
}

func (h *handle) Query(sql string, args ...any) (*engine.Result, error) {
	rows, err := h.conn.Query(context.Background(), sql, args...)
	if err != nil {
		return nil, convertError(err, engine.CodeError)
	}
	return materialize(rows)
}

func (h *handle) Prepare(sql string) (engine.Stmt, error) {
	name := "connpool_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	desc, err := h.conn.Prepare(context.Background(), name, sql)
	if err != nil {
		return nil, convertError(err, engine.CodeError)
	}
	return &stmt{h: h, name: name, numInput: len(desc.ParamOIDs)}, nil
}

var _ engine.Sizer = (*handle)(nil)

func (h *handle) Size() (uint64, error) {
	var n int64
	err := h.conn.QueryRow(context.Background(), "SELECT pg_database_size(current_database())").Scan(&n)
	if err != nil {
		return 0, convertError(err, engine.CodeError)
	}
	return uint64(max(n, 0)), nil
}

func (h *handle) Begin() error {
	if h.tx != nil {
		return &engine.Error{Code: engine.CodeMisuse, Message: "cannot start a transaction within a transaction"}
	}
	tx, err := h.conn.Begin(context.Background())
	if err != nil {
		return convertError(err, engine.CodeError)
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
	if err := tx.Commit(context.Background()); err != nil {
		return convertError(err, engine.CodeError)
	}
	return nil
}

func (h *handle) Rollback() error {
	if h.tx == nil {
		return &engine.Error{Code: engine.CodeMisuse, Message: "cannot rollback - no transaction is active"}
	}
	tx := h.tx
	h.tx = nil
	if err := tx.Rollback(context.Background()); err != nil {
		return convertError(err, engine.CodeError)
	}
	return nil
}

func (h *handle) Ping() error {
	if err := h.conn.Ping(context.Background()); err != nil {
		return convertError(err, engine.CodeIOErr)
	}
	return nil
}

func (h *handle) Close() error {
	ctx := context.Background()
	if h.tx != nil {
		_ = h.tx.Rollback(ctx)
		h.tx = nil
	}
	if err := h.conn.Close(ctx); err != nil {
		return convertError(err, engine.CodeIOErr)
	}
	return nil
}

type stmt struct {
	h        *handle
	name     string
	numInput int
}

var _ engine.Stmt = (*stmt)(nil)

func (s *stmt) NumInput() int { return s.numInput }

// Exec runs the prepared statement. pgx recognizes a prepared statement by
// passing its name in place of the SQL text.
func (s *stmt) Exec(args []any) (engine.ExecResult, error) {
	return s.h.Exec(s.name, args...)
}

func (s *stmt) Query(args []any) (*engine.Result, error) {
	return s.h.Query(s.name, args...)
}

func (s *stmt) Close() error {
	if s.h.conn.IsClosed() {
		return nil
	}
	if err := s.h.conn.Deallocate(context.Background(), s.name); err != nil {
		return convertError(err, engine.CodeError)
	}
	return nil
}

func materialize(rows pgx.Rows) (*engine.Result, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	res := &engine.Result{Columns: make([]string, len(fields))}
	for i, f := range fields {
		res.Columns[i] = f.Name
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, convertError(err, engine.CodeMismatch)
		}
		row := make([]engine.Value, len(vals))
		for i, v := range vals {
			row[i], err = engine.ValueOf(v)
			if err != nil {
				return nil, &engine.Error{Code: engine.CodeMismatch, Message: err.Error()}
			}
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, convertError(err, engine.CodeError)
	}
	return res, nil
}

// sqlStateCodes maps SQLSTATE classes to the closest engine result code.
var sqlStateCodes = map[string]int{
	"08": engine.CodeCantOpen,   // connection exception
	"22": engine.CodeMismatch,   // data exception
	"23": engine.CodeConstraint, // integrity constraint violation
	"25": engine.CodeMisuse,     // invalid transaction state
	"28": engine.CodeAuth,       // invalid authorization
	"40": engine.CodeBusy,       // transaction rollback, serialization failure, deadlock
	"42": engine.CodeError,      // syntax error or access rule violation
	"53": engine.CodeFull,       // insufficient resources
	"54": engine.CodeTooBig,     // program limit exceeded
	"55": engine.CodeLocked,     // object not in prerequisite state
	"57": engine.CodeInterrupt,  // operator intervention
	"58": engine.CodeIOErr,      // system error
	"XX": engine.CodeInternal,   // internal error
}

func convertError(err error, fallback int) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := engine.CodeError
		if len(pgErr.Code) >= 2 {
			if c, ok := sqlStateCodes[pgErr.Code[:2]]; ok {
				code = c
			}
		}
		return &engine.Error{Code: code, Message: pgErr.Code + ": " + pgErr.Message}
	}
	return &engine.Error{Code: fallback, Message: err.Error()}
}
