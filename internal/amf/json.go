package amf

import (
	"encoding/base64"
	"fmt"
	"math"
	"sort"
	"time"
)

// FromInterface converts a JSON-decoded value into a wire value. Integral
// numbers inside the 29-bit signed range become integers, everything else
// numeric becomes a double. Maps become associative arrays with keys in
// sorted order so conversion is deterministic.
func FromInterface(v interface{}) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Boolean(x), nil
	case float64:
		if x == math.Trunc(x) && x >= float64(MinInt29) && x <= float64(MaxInt29) {
			return Integer(int64(x)), nil
		}
		return Double(x), nil
	case int:
		return Integer(int64(x)), nil
	case int64:
		return Integer(x), nil
	case string:
		return String(x), nil
	case time.Time:
		return Date(float64(x.UnixMilli())), nil
	case []byte:
		return ByteArray(x), nil
	case []interface{}:
		elems := make([]Value, len(x))
		for i, e := range x {
			ev, err := FromInterface(e)
			if err != nil {
				return Value{}, err
			}
			elems[i] = ev
		}
		return Dense(elems...), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fields := make([]Field, 0, len(keys))
		for _, k := range keys {
			fv, err := FromInterface(x[k])
			if err != nil {
				return Value{}, err
			}
			fields = append(fields, Field{Name: k, Value: fv})
		}
		return Assoc(fields...), nil
	default:
		return Value{}, fmt.Errorf("amf: cannot convert %T to a wire value", v)
	}
}

// ToInterface converts a wire value into a plain value suitable for JSON
// encoding. Byte arrays render as base64 strings.
func ToInterface(v Value) interface{} {
	switch v.Kind {
	case KindUndefined, KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInteger:
		return v.Int
	case KindDouble:
		return v.Double
	case KindString:
		return v.Str
	case KindDate:
		return time.UnixMilli(int64(v.Double)).UTC()
	case KindByteArray:
		return base64.StdEncoding.EncodeToString(v.Bytes)
	case KindDenseArray:
		out := make([]interface{}, len(v.Elems))
		for i, e := range v.Elems {
			out[i] = ToInterface(e)
		}
		return out
	case KindAssocArray, KindObject:
		out := make(map[string]interface{}, len(v.Fields))
		for _, f := range v.Fields {
			out[f.Name] = ToInterface(f.Value)
		}
		return out
	default:
		return nil
	}
}
