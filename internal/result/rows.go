// Package result turns materialized engine results into typed, null-aware
// rows.
package result

import (
	"iter"
	"sync"

	"github.com/yuku/connpool/internal/engine"
	"github.com/yuku/connpool/internal/errs"
)

// Rows is an immutable query result read through a single forward pass.
// Row and column counts are fixed at construction. Rows is not safe for
// concurrent use.
type Rows struct {
	columns []string
	index   map[string]int
	data    [][]engine.Value
	count   int
	next    int

	closeOnce sync.Once
}

// New wraps res. A nil res yields an empty result.
func New(res *engine.Result) *Rows {
	if res == nil {
		res = &engine.Result{}
	}
	index := make(map[string]int, len(res.Columns))
	for i, name := range res.Columns {
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	return &Rows{
		columns: res.Columns,
		index:   index,
		data:    res.Rows,
		count:   len(res.Rows),
	}
}

// RowCount returns the number of rows in the result, consumed or not.
func (r *Rows) RowCount() int {
	return r.count
}

// ColumnCount returns the number of columns.
func (r *Rows) ColumnCount() int {
	return len(r.columns)
}

// ColumnName returns the name of column i.
func (r *Rows) ColumnName(i int) (string, error) {
	if i < 0 || i >= len(r.columns) {
		return "", errs.IndexOutOfBounds("column name", i)
	}
	return r.columns[i], nil
}

// ColumnNames returns a copy of all column names.
func (r *Rows) ColumnNames() []string {
	return append([]string(nil), r.columns...)
}

// Remaining returns the number of rows not yet returned by Next.
func (r *Rows) Remaining() int {
	return len(r.data) - r.next
}

// Next returns the next row. It returns false once every row has been
// returned or after Close; the cursor never rewinds.
func (r *Rows) Next() (*Row, bool) {
	if r.next >= len(r.data) {
		return nil, false
	}
	row := &Row{values: r.data[r.next], rows: r}
	r.next++
	return row, true
}

// All returns an iterator over the remaining rows.
func (r *Rows) All() iter.Seq[*Row] {
	return func(yield func(*Row) bool) {
		for {
			row, ok := r.Next()
			if !ok || !yield(row) {
				return
			}
		}
	}
}

// Close releases the buffered rows. Rows already returned by Next stay
// valid. Close is idempotent.
func (r *Rows) Close() {
	r.closeOnce.Do(func() {
		r.data = nil
		r.next = 0
	})
}

func (r *Rows) columnIndex(name string) (int, bool) {
	i, ok := r.index[name]
	return i, ok
}
