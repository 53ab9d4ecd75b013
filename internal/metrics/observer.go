// Package metrics defines the observability sink that the pool and handle
// layers report to. Reporting never changes behavior: a nil or Nop observer
// is always valid.
package metrics

import (
	"time"
)

// Outcome is how a transaction finished.
type Outcome string

const (
	OutcomeCommitted  Outcome = "committed"
	OutcomeRolledBack Outcome = "rolled_back"
)

// Observer receives events from connections and pools.
// Implementations must be safe for concurrent use.
type Observer interface {
	ConnectionOpened(engine string)
	ConnectionClosed(engine string)

	QueryExecuted(sql string, elapsed time.Duration, ok bool)
	RowsReturned(sql string, n int)

	StatementPrepared()
	StatementExecuted(elapsed time.Duration, ok bool)

	TransactionStarted()
	TransactionCompleted(outcome Outcome, elapsed time.Duration)

	PoolUpdated(active, idle, waiting int)
	CheckoutAcquired(wait time.Duration)
	CheckoutTimedOut()

	DatabaseError(kind string)
	DatabaseSizeUpdated(bytes uint64)
}

// Nop discards every event.
type Nop struct{}

var _ Observer = Nop{}

func (Nop) ConnectionOpened(string) {}
func (Nop) ConnectionClosed(string) {}
func (Nop) QueryExecuted(string, time.Duration, bool) {}
func (Nop) RowsReturned(string, int) {}
func (Nop) StatementPrepared() {}
func (Nop) StatementExecuted(time.Duration, bool) {}
func (Nop) TransactionStarted() {}
func (Nop) TransactionCompleted(Outcome, time.Duration) {}
func (Nop) PoolUpdated(int, int, int) {}
func (Nop) CheckoutAcquired(time.Duration) {}
func (Nop) CheckoutTimedOut() {}
func (Nop) DatabaseError(string) {}
func (Nop) DatabaseSizeUpdated(uint64) {}

// OrNop returns o, or Nop when o is nil.
func OrNop(o Observer) Observer {
	if o == nil {
		return Nop{}
	}
	return o
}
