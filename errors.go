package connpool

import "github.com/yuku/connpool/internal/errs"

// Error is the error type returned by every operation.
type Error = errs.Error

// ErrorKind classifies an Error.
type ErrorKind = errs.Kind

const (
	KindUnknown          = errs.KindUnknown
	KindConnectionFailed = errs.KindConnectionFailed
	KindInvalidPath      = errs.KindInvalidPath
	KindInvalidSQL       = errs.KindInvalidSQL
	KindBind             = errs.KindBind
	KindExecution        = errs.KindExecution
	KindReset            = errs.KindReset
	KindTransaction      = errs.KindTransaction
	KindRow              = errs.KindRow
	KindIndexOutOfBounds = errs.KindIndexOutOfBounds
	KindTypeMismatch     = errs.KindTypeMismatch
	KindPool             = errs.KindPool
	KindDispatch         = errs.KindDispatch
	KindDatabase         = errs.KindDatabase
	KindClosed           = errs.KindClosed
)

var (
	ErrCheckoutTimeout  = errs.ErrCheckoutTimeout
	ErrPoolClosed       = errs.ErrPoolClosed
	ErrDispatcherClosed = errs.ErrDispatcherClosed
)

// KindOf returns the kind of the first Error in err's chain.
func KindOf(err error) ErrorKind {
	return errs.KindOf(err)
}

// IsKind reports whether err's chain contains an Error of kind k.
func IsKind(err error, k ErrorKind) bool {
	return errs.Is(err, k)
}

// IsRecoverable reports whether err is worth retrying: a bad statement, a
// binding or row access mistake, or a transient pool or dispatch failure.
func IsRecoverable(err error) bool {
	return errs.IsRecoverable(err)
}
