package result

import (
	"database/sql"
	"fmt"

	"github.com/yuku/connpool/internal/engine"
	"github.com/yuku/connpool/internal/errs"
)

// Row is one row of a Rows result.
type Row struct {
	values []engine.Value
	rows   *Rows
}

// ColumnCount returns the number of values in the row.
func (r *Row) ColumnCount() int {
	return len(r.values)
}

// Value returns the raw value of column i.
func (r *Row) Value(i int) (engine.Value, error) {
	if i < 0 || i >= len(r.values) {
		return engine.Value{}, errs.IndexOutOfBounds("get", i)
	}
	return r.values[i], nil
}

// Kind returns the storage class of column i.
func (r *Row) Kind(i int) (engine.Kind, error) {
	v, err := r.Value(i)
	if err != nil {
		return 0, err
	}
	if v.IsNull() {
		return engine.KindNull, nil
	}
	return v.Kind, nil
}

// IsNull reports whether column i is NULL.
func (r *Row) IsNull(i int) (bool, error) {
	v, err := r.Value(i)
	if err != nil {
		return false, err
	}
	return v.IsNull(), nil
}

func (r *Row) Int64(i int) (int64, error) { return Get[int64](r, i) }
func (r *Row) Float64(i int) (float64, error) { return Get[float64](r, i) }
func (r *Row) Text(i int) (string, error) { return Get[string](r, i) }
func (r *Row) Bool(i int) (bool, error) { return Get[bool](r, i) }
func (r *Row) Bytes(i int) ([]byte, error) { return Get[[]byte](r, i) }

func (r *Row) NullInt64(i int) (sql.Null[int64], error) { return GetNull[int64](r, i) }
func (r *Row) NullFloat64(i int) (sql.Null[float64], error) { return GetNull[float64](r, i) }
func (r *Row) NullText(i int) (sql.Null[string], error) { return GetNull[string](r, i) }
func (r *Row) NullBool(i int) (sql.Null[bool], error) { return GetNull[bool](r, i) }
func (r *Row) NullBytes(i int) (sql.Null[[]byte], error) { return GetNull[[]byte](r, i) }

// Get reads column i as T. NULL reads as the zero value of T.
func Get[T Scalar](r *Row, i int) (T, error) {
	var zero T
	v, err := r.Value(i)
	if err != nil {
		return zero, err
	}
	return convert[T](v)
}

// GetByName reads the column called name as T.
func GetByName[T Scalar](r *Row, name string) (T, error) {
	var zero T
	i, ok := r.rows.columnIndex(name)
	if !ok {
		return zero, errs.New(errs.KindRow, "get", fmt.Sprintf("column '%s' not found", name))
	}
	return Get[T](r, i)
}

// GetNull reads column i as T, reporting NULL as an invalid sql.Null.
func GetNull[T Scalar](r *Row, i int) (sql.Null[T], error) {
	v, err := r.Value(i)
	if err != nil {
		return sql.Null[T]{}, err
	}
	if v.IsNull() {
		return sql.Null[T]{}, nil
	}
	out, err := convert[T](v)
	if err != nil {
		return sql.Null[T]{}, err
	}
	return sql.Null[T]{V: out, Valid: true}, nil
}

// Scan copies the row into dest, one pointer per column. Supported
// destinations are pointers to the Scalar types, to sql.Null of those types,
// to any, to engine.Value, and sql.Scanner implementations.
func (r *Row) Scan(dest ...any) error {
	if len(dest) != len(r.values) {
		return errs.New(errs.KindRow, "scan", fmt.Sprintf("expected %d destination arguments, got %d", len(r.values), len(dest)))
	}
	for i, d := range dest {
		if err := r.scanOne(i, d); err != nil {
			return err
		}
	}
	return nil
}

func (r *Row) scanOne(i int, dest any) error {
	v := r.values[i]
	var err error
	switch d := dest.(type) {
	case *int64:
		*d, err = convert[int64](v)
	case *int32:
		*d, err = convert[int32](v)
	case *int:
		*d, err = convert[int](v)
	case *float64:
		*d, err = convert[float64](v)
	case *float32:
		*d, err = convert[float32](v)
	case *string:
		*d, err = convert[string](v)
	case *bool:
		*d, err = convert[bool](v)
	case *[]byte:
		*d, err = convert[[]byte](v)
	case *sql.Null[int64]:
		*d, err = GetNull[int64](r, i)
	case *sql.Null[float64]:
		*d, err = GetNull[float64](r, i)
	case *sql.Null[string]:
		*d, err = GetNull[string](r, i)
	case *sql.Null[bool]:
		*d, err = GetNull[bool](r, i)
	case *sql.Null[[]byte]:
		*d, err = GetNull[[]byte](r, i)
	case *engine.Value:
		*d = v
	case *any:
		*d = v.Any()
	case sql.Scanner:
		err = d.Scan(v.Any())
	default:
		return errs.New(errs.KindRow, "scan", fmt.Sprintf("unsupported destination %T for column %d", dest, i))
	}
	return err
}
