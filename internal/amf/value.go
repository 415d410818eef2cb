// Package amf implements the binary codec for the AMF3-family wire format
// used by the observed game client/server RPC traffic. Values are modeled as
// a closed tagged union rather than interface{} maps so that decoded trees
// can be compared, stored, and re-encoded deterministically.
package amf

import "math"

// Type marker bytes as they appear on the wire.
const (
	MarkerUndefined byte = 0x00
	MarkerNull      byte = 0x01
	MarkerFalse     byte = 0x02
	MarkerTrue      byte = 0x03
	MarkerInteger   byte = 0x04
	MarkerDouble    byte = 0x05
	MarkerString    byte = 0x06
	MarkerDate      byte = 0x08
	MarkerArray     byte = 0x09
	MarkerObject    byte = 0x0A
	MarkerByteArray byte = 0x0C
)

// Integer bounds for the 29-bit signed wire integer. Values outside this
// range travel as Double.
const (
	MaxInt29 = 268435455  // 2^28 - 1
	MinInt29 = -268435456 // -2^28
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindInteger
	KindDouble
	KindString
	KindDate
	KindDenseArray
	KindAssocArray
	KindObject
	KindByteArray
)

// kindNames maps Kind values to their string representation.
var kindNames = map[Kind]string{
	KindUndefined:  "undefined",
	KindNull:       "null",
	KindBool:       "bool",
	KindInteger:    "integer",
	KindDouble:     "double",
	KindString:     "string",
	KindDate:       "date",
	KindDenseArray: "array",
	KindAssocArray: "assoc",
	KindObject:     "object",
	KindByteArray:  "bytes",
}

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Field is a single named entry of an associative array or object.
// Field order is preserved: it determines reference-table assignment
// during encoding and must survive a decode/encode round trip.
type Field struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Value is one node of a decoded wire value tree.
//
// Exactly one variant is meaningful, selected by Kind:
//
//	KindBool       -> Bool
//	KindInteger    -> Int
//	KindDouble     -> Double
//	KindString     -> Str
//	KindDate       -> Double (milliseconds since the Unix epoch)
//	KindDenseArray -> Elems
//	KindAssocArray -> Fields
//	KindObject     -> Trait, Dynamic, Fields
//	KindByteArray  -> Bytes
type Value struct {
	Kind    Kind    `json:"kind"`
	Bool    bool    `json:"bool,omitempty"`
	Int     int32   `json:"int,omitempty"`
	Double  float64 `json:"double,omitempty"`
	Str     string  `json:"str,omitempty"`
	Bytes   []byte  `json:"bytes,omitempty"`
	Elems   []Value `json:"elems,omitempty"`
	Fields  []Field `json:"fields,omitempty"`
	Trait   string  `json:"trait,omitempty"`
	Dynamic bool    `json:"dynamic,omitempty"`
}

// Undefined returns the undefined value.
func Undefined() Value { return Value{Kind: KindUndefined} }

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

// Boolean builds a boolean value.
func Boolean(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Integer builds an integer value. Inputs outside the 29-bit signed range
// are promoted to a Double, mirroring what the wire format itself does.
func Integer(i int64) Value {
	if i < MinInt29 || i > MaxInt29 {
		return Value{Kind: KindDouble, Double: float64(i)}
	}
	return Value{Kind: KindInteger, Int: int32(i)}
}

// Double builds a floating point value.
func Double(f float64) Value { return Value{Kind: KindDouble, Double: f} }

// String builds a string value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Date builds a date value from milliseconds since the Unix epoch.
func Date(epochMillis float64) Value { return Value{Kind: KindDate, Double: epochMillis} }

// Dense builds a dense array value.
func Dense(elems ...Value) Value { return Value{Kind: KindDenseArray, Elems: elems} }

// Assoc builds an associative array value from ordered fields. The wire
// format cannot distinguish an empty associative array from an empty dense
// one, so the empty case canonicalizes to Dense at construction and the
// round-trip law holds for it.
func Assoc(fields ...Field) Value {
	if len(fields) == 0 {
		return Dense()
	}
	return Value{Kind: KindAssocArray, Fields: fields}
}

// Object builds an object value. An empty trait name makes the object
// anonymous; anonymous objects are never entered into the reference table.
func Object(trait string, dynamic bool, fields ...Field) Value {
	return Value{Kind: KindObject, Trait: trait, Dynamic: dynamic, Fields: fields}
}

// ByteArray builds a byte array value.
func ByteArray(b []byte) Value { return Value{Kind: KindByteArray, Bytes: b} }

// FieldByName returns the named field of an object or associative array.
func (v Value) FieldByName(name string) (Value, bool) {
	for _, f := range v.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Equal reports structural equality of two value trees. NaN doubles compare
// equal to each other so that round-tripped values remain comparable.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindUndefined, KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindInteger:
		return a.Int == b.Int
	case KindDouble, KindDate:
		if math.IsNaN(a.Double) && math.IsNaN(b.Double) {
			return true
		}
		return a.Double == b.Double
	case KindString:
		return a.Str == b.Str
	case KindByteArray:
		if len(a.Bytes) != len(b.Bytes) {
			return false
		}
		for i := range a.Bytes {
			if a.Bytes[i] != b.Bytes[i] {
				return false
			}
		}
		return true
	case KindDenseArray:
		if len(a.Elems) != len(b.Elems) {
			return false
		}
		for i := range a.Elems {
			if !Equal(a.Elems[i], b.Elems[i]) {
				return false
			}
		}
		return true
	case KindAssocArray, KindObject:
		if a.Trait != b.Trait || a.Dynamic != b.Dynamic {
			return false
		}
		if len(a.Fields) != len(b.Fields) {
			return false
		}
		for i := range a.Fields {
			if a.Fields[i].Name != b.Fields[i].Name {
				return false
			}
			if !Equal(a.Fields[i].Value, b.Fields[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// referenced reports whether a value participates in the per-message
// reference table: non-empty strings, non-empty byte arrays, arrays, and
// objects carrying a trait name. Empty strings and anonymous objects are
// always encoded literally.
func referenced(v Value) bool {
	switch v.Kind {
	case KindString:
		return v.Str != ""
	case KindByteArray:
		return len(v.Bytes) > 0
	case KindDenseArray, KindAssocArray:
		return true
	case KindObject:
		return v.Trait != ""
	}
	return false
}
