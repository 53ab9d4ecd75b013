package result

import (
	"math"
	"strings"

	"github.com/spf13/cast"
	"github.com/yuku/connpool/internal/engine"
	"github.com/yuku/connpool/internal/errs"
)

// Scalar is the closed set of Go types a column can be read into.
type Scalar interface {
	int64 | int32 | int | float64 | float32 | string | bool | []byte
}

// NULL reads as the zero value in every conversion below.

func toInt64(v engine.Value) (int64, error) {
	switch v.Kind {
	case engine.KindInteger:
		return v.Int, nil
	case engine.KindReal:
		if v.Real != math.Trunc(v.Real) || v.Real < math.MinInt64 || v.Real >= math.MaxInt64 {
			return 0, errs.TypeMismatch("get", "integer", "real")
		}
		return int64(v.Real), nil
	case engine.KindText:
		n, err := cast.ToInt64E(strings.TrimSpace(v.Text))
		if err != nil {
			return 0, errs.TypeMismatch("get", "integer", "text")
		}
		return n, nil
	case engine.KindBlob:
		return 0, errs.TypeMismatch("get", "integer", "blob")
	default:
		return 0, nil
	}
}

func toInt32(v engine.Value) (int32, error) {
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, &errs.Error{Kind: errs.KindTypeMismatch, Op: "get", Expected: "int32", Actual: v.Kind.String(), Message: "value out of range"}
	}
	return int32(n), nil
}

func toFloat64(v engine.Value) (float64, error) {
	switch v.Kind {
	case engine.KindInteger:
		return float64(v.Int), nil
	case engine.KindReal:
		return v.Real, nil
	case engine.KindText:
		f, err := cast.ToFloat64E(strings.TrimSpace(v.Text))
		if err != nil {
			return 0, errs.TypeMismatch("get", "real", "text")
		}
		return f, nil
	case engine.KindBlob:
		return 0, errs.TypeMismatch("get", "real", "blob")
	default:
		return 0, nil
	}
}

func toText(v engine.Value) (string, error) {
	switch v.Kind {
	case engine.KindText:
		return v.Text, nil
	case engine.KindInteger:
		return cast.ToStringE(v.Int)
	case engine.KindReal:
		return cast.ToStringE(v.Real)
	case engine.KindBlob:
		return string(v.Blob), nil
	default:
		return "", nil
	}
}

func toBool(v engine.Value) (bool, error) {
	switch v.Kind {
	case engine.KindInteger:
		return v.Int != 0, nil
	case engine.KindReal:
		return v.Real != 0, nil
	case engine.KindText:
		b, err := cast.ToBoolE(strings.TrimSpace(v.Text))
		if err != nil {
			return false, errs.TypeMismatch("get", "bool", "text")
		}
		return b, nil
	case engine.KindBlob:
		return false, errs.TypeMismatch("get", "bool", "blob")
	default:
		return false, nil
	}
}

func toBytes(v engine.Value) ([]byte, error) {
	switch v.Kind {
	case engine.KindBlob:
		return append([]byte(nil), v.Blob...), nil
	case engine.KindText:
		return []byte(v.Text), nil
	case engine.KindInteger:
		return nil, errs.TypeMismatch("get", "blob", "integer")
	case engine.KindReal:
		return nil, errs.TypeMismatch("get", "blob", "real")
	default:
		return nil, nil
	}
}

func convert[T Scalar](v engine.Value) (T, error) {
	var (
		zero T
		out  any
		err  error
	)
	switch any(zero).(type) {
	case int64:
		out, err = toInt64(v)
	case int32:
		out, err = toInt32(v)
	case int:
		var n int64
		n, err = toInt64(v)
		out = int(n)
	case float64:
		out, err = toFloat64(v)
	case float32:
		var f float64
		f, err = toFloat64(v)
		out = float32(f)
	case string:
		out, err = toText(v)
	case bool:
		out, err = toBool(v)
	case []byte:
		out, err = toBytes(v)
	}
	if err != nil {
		return zero, err
	}
	return out.(T), nil
}
