package handle

import (
	"time"

	"github.com/yuku/connpool/internal/errs"
	"github.com/yuku/connpool/internal/metrics"
	"github.com/yuku/connpool/internal/result"
	"go.uber.org/zap"
)

// Transaction is an open transaction on a Connection. It finishes exactly
// once, by Commit, Rollback or the implicit rollback in Close.
type Transaction struct {
	conn    *Connection
	started time.Time
	done    bool
}

// Done reports whether the transaction has finished.
func (t *Transaction) Done() bool {
	return t.done
}

// Execute runs sql inside the transaction.
func (t *Transaction) Execute(sql string, args ...any) error {
	if t.done {
		return errFinished("execute")
	}
	return t.conn.Execute(sql, args...)
}

// Query runs sql inside the transaction.
func (t *Transaction) Query(sql string, args ...any) (*result.Rows, error) {
	if t.done {
		return nil, errFinished("query")
	}
	return t.conn.Query(sql, args...)
}

// Prepare prepares sql on the transaction's connection.
func (t *Transaction) Prepare(sql string) (*PreparedStatement, error) {
	if t.done {
		return nil, errFinished("prepare")
	}
	return t.conn.Prepare(sql)
}

// Commit commits the transaction. A failed commit leaves the connection
// broken.
func (t *Transaction) Commit() error {
	return t.finish("commit", metrics.OutcomeCommitted, t.conn.h.Commit)
}

// Rollback rolls the transaction back.
func (t *Transaction) Rollback() error {
	return t.finish("rollback", metrics.OutcomeRolledBack, t.conn.h.Rollback)
}

// Close rolls back an unfinished transaction. A failure is logged and
// reported to the observer only. Close on a finished transaction is a no-op.
func (t *Transaction) Close() {
	if t.done {
		return
	}
	if err := t.Rollback(); err != nil {
		t.conn.logger.Error("implicit rollback failed", zap.Error(err))
	}
}

func (t *Transaction) finish(op string, outcome metrics.Outcome, fn func() error) error {
	if t.done {
		return errFinished(op)
	}
	if t.conn.closed {
		return errClosed(op)
	}
	t.done = true
	t.conn.tx = nil

	err := fn()
	t.conn.obs.TransactionCompleted(outcome, time.Since(t.started))
	if err != nil {
		t.conn.broken = true
		return t.conn.fail(errs.KindTransaction, op, err)
	}
	return nil
}

func errFinished(op string) error {
	return errs.New(errs.KindTransaction, op, "transaction has already been committed or rolled back")
}
