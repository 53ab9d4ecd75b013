// Package engine defines the blocking, non-reentrant storage engine API that
// connpool wraps. A Handle must never be used by two goroutines at once; the
// handle and pool layers above guarantee that.
package engine

import (
	"fmt"
)

// Engine opens native handles.
type Engine interface {
	// Name identifies the engine, e.g. "sqlite".
	Name() string

	// Open opens a new handle. The meaning of path is engine specific.
	Open(path string) (Handle, error)
}

// Handle is one native connection.
type Handle interface {
	Exec(sql string, args ...any) (ExecResult, error)
	Query(sql string, args ...any) (*Result, error)
	Prepare(sql string) (Stmt, error)

	Begin() error
	Commit() error
	Rollback() error

	Ping() error
	Close() error
}

// Stmt is a compiled statement bound to the Handle that prepared it.
type Stmt interface {
	// NumInput returns the number of parameters, or -1 if unknown.
	NumInput() int
	Exec(args []any) (ExecResult, error)
	Query(args []any) (*Result, error)
	Close() error
}

// Sizer is implemented by handles that can report the size of their
// database in bytes.
type Sizer interface {
	Size() (uint64, error)
}

// ExecResult reports the effect of a statement that returns no rows.
type ExecResult struct {
	RowsAffected int64
	LastInsertID int64
}

// Result is a fully materialized query result.
type Result struct {
	Columns []string
	Rows    [][]Value
}

// Error is a failure reported by the engine.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return CodeText(e.Code)
	}
	return fmt.Sprintf("%s: %s", CodeText(e.Code), e.Message)
}

// Result codes, compatible with SQLite's primary result codes.
const (
	CodeOK         = 0
	CodeError      = 1
	CodeInternal   = 2
	CodePerm       = 3
	CodeAbort      = 4
	CodeBusy       = 5
	CodeLocked     = 6
	CodeNoMem      = 7
	CodeReadOnly   = 8
	CodeInterrupt  = 9
	CodeIOErr      = 10
	CodeCorrupt    = 11
	CodeNotFound   = 12
	CodeFull       = 13
	CodeCantOpen   = 14
	CodeProtocol   = 15
	CodeEmpty      = 16
	CodeSchema     = 17
	CodeTooBig     = 18
	CodeConstraint = 19
	CodeMismatch   = 20
	CodeMisuse     = 21
	CodeNoLFS      = 22
	CodeAuth       = 23
	CodeFormat     = 24
	CodeRange      = 25
	CodeNotADB     = 26
	CodeRow        = 100
	CodeDone       = 101
)

var codeTexts = map[int]string{
	CodeOK:         "not an error",
	CodeError:      "SQL error or missing database",
	CodeInternal:   "internal logic error",
	CodePerm:       "access permission denied",
	CodeAbort:      "callback routine requested an abort",
	CodeBusy:       "database is busy",
	CodeLocked:     "database table is locked",
	CodeNoMem:      "out of memory",
	CodeReadOnly:   "attempt to write a readonly database",
	CodeInterrupt:  "operation terminated by interrupt",
	CodeIOErr:      "disk I/O error",
	CodeCorrupt:    "database disk image is malformed",
	CodeNotFound:   "unknown operation",
	CodeFull:       "database or disk is full",
	CodeCantOpen:   "unable to open database file",
	CodeProtocol:   "locking protocol error",
	CodeEmpty:      "database is empty",
	CodeSchema:     "database schema has changed",
	CodeTooBig:     "string or blob too big",
	CodeConstraint: "constraint failed",
	CodeMismatch:   "datatype mismatch",
	CodeMisuse:     "library routine called out of sequence",
	CodeNoLFS:      "large file support is disabled",
	CodeAuth:       "authorization denied",
	CodeFormat:     "auxiliary database format error",
	CodeRange:      "bind or column index out of range",
	CodeNotADB:     "file is not a database",
	CodeRow:        "another row available",
	CodeDone:       "no more rows available",
}

// CodeText describes a result code. Extended codes are described by their
// primary code in the low byte.
func CodeText(code int) string {
	if s, ok := codeTexts[code]; ok {
		return s
	}
	if s, ok := codeTexts[code&0xff]; ok {
		return s
	}
	return fmt.Sprintf("unknown error code %d", code)
}
