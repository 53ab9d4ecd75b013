// Package errs defines the error taxonomy shared by every layer of connpool.
//
// Each failure is an *Error carrying a Kind. The Kind decides whether the
// failure is recoverable, i.e. whether retrying the same operation on the same
// or a different connection can reasonably succeed.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an Error.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindConnectionFailed
	KindInvalidPath
	KindInvalidSQL
	KindBind
	KindExecution
	KindReset
	KindTransaction
	KindRow
	KindIndexOutOfBounds
	KindTypeMismatch
	KindPool
	KindDispatch
	KindDatabase
	KindClosed
)

var kindNames = [...]string{
	KindUnknown:          "unknown",
	KindConnectionFailed: "connection_failed",
	KindInvalidPath:      "invalid_path",
	KindInvalidSQL:       "invalid_sql",
	KindBind:             "bind",
	KindExecution:        "execution",
	KindReset:            "reset",
	KindTransaction:      "transaction",
	KindRow:              "row",
	KindIndexOutOfBounds: "index_out_of_bounds",
	KindTypeMismatch:     "type_mismatch",
	KindPool:             "pool",
	KindDispatch:         "dispatch",
	KindDatabase:         "database",
	KindClosed:           "closed",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Recoverable reports whether errors of kind k are worth retrying.
func (k Kind) Recoverable() bool {
	switch k {
	case KindInvalidSQL, KindBind, KindExecution, KindReset, KindRow,
		KindIndexOutOfBounds, KindTypeMismatch, KindPool, KindDispatch:
		return true
	default:
		return false
	}
}

var (
	// ErrCheckoutTimeout is returned when no connection became available
	// within the checkout timeout.
	ErrCheckoutTimeout = errors.New("checkout timeout")

	// ErrPoolClosed is returned by operations on a closed pool.
	ErrPoolClosed = errors.New("pool is closed")

	// ErrDispatcherClosed is returned when a call is submitted to a closed
	// dispatcher.
	ErrDispatcherClosed = errors.New("dispatcher is closed")
)

// Error is the error type returned by connpool.
type Error struct {
	Kind Kind

	// Op names the operation that failed, e.g. "execute" or "bind".
	Op string

	Message string

	// Code is the engine result code, zero when not applicable.
	Code int

	// Index is set for KindIndexOutOfBounds.
	Index int

	// Expected and Actual are set for KindTypeMismatch.
	Expected string
	Actual   string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch e.Kind {
	case KindIndexOutOfBounds:
		fmt.Fprintf(&b, "index out of bounds: %d", e.Index)
	case KindTypeMismatch:
		fmt.Fprintf(&b, "type mismatch: expected %s, got %s", e.Expected, e.Actual)
	default:
		b.WriteString(e.Kind.String())
		b.WriteString(" error")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Code != 0 {
		fmt.Fprintf(&b, " (code %d)", e.Code)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Recoverable reports whether retrying the failed operation may succeed.
func (e *Error) Recoverable() bool {
	return e.Kind.Recoverable()
}

// New returns an *Error of kind k.
func New(k Kind, op, message string) *Error {
	return &Error{Kind: k, Op: op, Message: message}
}

// Wrap returns an *Error of kind k wrapping err. It returns nil when err is nil.
func Wrap(k Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Op: op, Err: err}
}

// IndexOutOfBounds returns a KindIndexOutOfBounds error for index i.
func IndexOutOfBounds(op string, i int) *Error {
	return &Error{Kind: KindIndexOutOfBounds, Op: op, Index: i}
}

// TypeMismatch returns a KindTypeMismatch error.
func TypeMismatch(op, expected, actual string) *Error {
	return &Error{Kind: KindTypeMismatch, Op: op, Expected: expected, Actual: actual}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err's chain contains an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	for {
		if e.Kind == k {
			return true
		}
		var next *Error
		if !errors.As(e.Err, &next) {
			return false
		}
		e = next
	}
}

// IsRecoverable reports whether err is an *Error whose kind is recoverable.
func IsRecoverable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Recoverable()
	}
	return false
}
