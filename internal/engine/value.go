package engine

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cast"
)

// Kind is the storage class of a Value. The numeric values match SQLite's
// fundamental column type codes.
type Kind uint8

const (
	KindInteger Kind = 1
	KindReal    Kind = 2
	KindText    Kind = 3
	KindBlob    Kind = 4
	KindNull    Kind = 5
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindText:
		return "text"
	case KindBlob:
		return "blob"
	case KindNull:
		return "null"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is one cell of a materialized result.
// The zero Value is not valid; use Null().
type Value struct {
	Kind Kind
	Int  int64
	Real float64
	Text string
	Blob []byte
}

func Null() Value { return Value{Kind: KindNull} }
func Integer(i int64) Value { return Value{Kind: KindInteger, Int: i} }
func Real(f float64) Value { return Value{Kind: KindReal, Real: f} }
func Text(s string) Value { return Value{Kind: KindText, Text: s} }
func Blob(b []byte) Value { return Value{Kind: KindBlob, Blob: b} }
func (v Value) IsNull() bool { return v.Kind == KindNull || v.Kind == 0 }

// Any returns v as a plain Go value suitable as a driver argument.
func (v Value) Any() any {
	switch v.Kind {
	case KindInteger:
		return v.Int
	case KindReal:
		return v.Real
	case KindText:
		return v.Text
	case KindBlob:
		return v.Blob
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindReal:
		return strconv.FormatFloat(v.Real, 'g', -1, 64)
	case KindText:
		return strconv.Quote(v.Text)
	case KindBlob:
		return fmt.Sprintf("x'%x'", v.Blob)
	default:
		return "NULL"
	}
}

// ValueOf converts a value read from a driver into a Value. Byte slices are
// copied since drivers may reuse their buffers. Types outside the closed set
// are stored as text.
func ValueOf(src any) (Value, error) {
	switch v := src.(type) {
	case nil:
		return Null(), nil
	case int64:
		return Integer(v), nil
	case int:
		return Integer(int64(v)), nil
	case int32:
		return Integer(int64(v)), nil
	case int16:
		return Integer(int64(v)), nil
	case int8:
		return Integer(int64(v)), nil
	case uint32:
		return Integer(int64(v)), nil
	case uint16:
		return Integer(int64(v)), nil
	case uint8:
		return Integer(int64(v)), nil
	case bool:
		if v {
			return Integer(1), nil
		}
		return Integer(0), nil
	case float64:
		return Real(v), nil
	case float32:
		return Real(float64(v)), nil
	case string:
		return Text(v), nil
	case []byte:
		return Blob(append([]byte(nil), v...)), nil
	case time.Time:
		return Text(v.Format(time.RFC3339Nano)), nil
	case fmt.Stringer:
		return Text(v.String()), nil
	}
	s, err := cast.ToStringE(src)
	if err != nil {
		return Value{}, fmt.Errorf("unsupported value of type %T: %w", src, err)
	}
	return Text(s), nil
}
