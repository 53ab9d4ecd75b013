package connpool

import (
	"database/sql"

	"github.com/yuku/connpool/internal/engine"
	"github.com/yuku/connpool/internal/handle"
	"github.com/yuku/connpool/internal/pool"
	"github.com/yuku/connpool/internal/result"
)

type (
	// Conn is a single native connection. It must only be used by the
	// holder of the guard it was checked out with.
	Conn = handle.Connection

	// Stmt is a prepared statement bound to one Conn.
	Stmt = handle.PreparedStatement

	// Tx is a transaction on one Conn.
	Tx = handle.Transaction

	// Rows is a materialized query result.
	Rows = result.Rows

	// Row is one row of Rows.
	Row = result.Row

	// Value is a single column value.
	Value = engine.Value

	// ValueKind is the storage class of a Value.
	ValueKind = engine.Kind

	// Scalar lists the Go types a column can be read as.
	Scalar = result.Scalar

	// Stats is a snapshot of a pool.
	Stats = pool.Stats

	// MaintainResult reports what one maintenance pass did.
	MaintainResult = pool.MaintainResult
)

// Get reads column i of row as T.
func Get[T Scalar](row *Row, i int) (T, error) {
	return result.Get[T](row, i)
}

// GetByName reads the named column of row as T.
func GetByName[T Scalar](row *Row, name string) (T, error) {
	return result.GetByName[T](row, name)
}

// GetNull reads column i of row as T, reporting NULL as an invalid
// sql.Null.
func GetNull[T Scalar](row *Row, i int) (sql.Null[T], error) {
	return result.GetNull[T](row, i)
}
