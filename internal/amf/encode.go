package amf

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Encoder writes wire values into a buffer. Like the Decoder it carries
// per-message reference tables, and it assigns table indexes in exactly the
// order a decoder reading the output would, so decode(encode(v)) == v.
type Encoder struct {
	buf      bytes.Buffer
	depth    int
	maxDepth int

	strings []string
	objects []Value
	traits  []traitDef
}

// NewEncoder creates an encoder with the default depth limit.
func NewEncoder() *Encoder {
	return &Encoder{maxDepth: DefaultMaxDepth}
}

// SetMaxDepth overrides the nesting depth limit.
func (e *Encoder) SetMaxDepth(n int) {
	if n > 0 {
		e.maxDepth = n
	}
}

// Bytes returns the encoded output so far.
func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

// Encode encodes a single value with the given depth limit.
func Encode(v Value, maxDepth int) ([]byte, error) {
	e := NewEncoder()
	e.SetMaxDepth(maxDepth)
	if err := e.EncodeValue(v); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// EncodeMessage encodes a full RPC call payload: a bare action-name string
// followed by the parameter value, sharing one reference-table context.
func EncodeMessage(action string, params Value, maxDepth int) ([]byte, error) {
	e := NewEncoder()
	e.SetMaxDepth(maxDepth)
	e.writeString(action)
	if err := e.EncodeValue(params); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// EncodeValue appends one value to the output buffer.
func (e *Encoder) EncodeValue(v Value) error {
	e.depth++
	defer func() { e.depth-- }()
	if e.depth > e.maxDepth {
		return codecErr(DepthLimitExceeded, e.buf.Len(), "nesting deeper than %d", e.maxDepth)
	}

	switch v.Kind {
	case KindUndefined:
		e.buf.WriteByte(MarkerUndefined)
	case KindNull:
		e.buf.WriteByte(MarkerNull)
	case KindBool:
		if v.Bool {
			e.buf.WriteByte(MarkerTrue)
		} else {
			e.buf.WriteByte(MarkerFalse)
		}
	case KindInteger:
		if int64(v.Int) < MinInt29 || int64(v.Int) > MaxInt29 {
			// Out-of-range integers travel as doubles.
			e.buf.WriteByte(MarkerDouble)
			e.writeDouble(float64(v.Int))
			return nil
		}
		e.buf.WriteByte(MarkerInteger)
		e.writeU29(uint32(v.Int) & 0x1FFFFFFF)
	case KindDouble:
		e.buf.WriteByte(MarkerDouble)
		e.writeDouble(v.Double)
	case KindString:
		e.buf.WriteByte(MarkerString)
		e.writeString(v.Str)
	case KindDate:
		e.buf.WriteByte(MarkerDate)
		e.writeU29(1)
		e.writeDouble(v.Double)
	case KindDenseArray:
		return e.encodeDense(v)
	case KindAssocArray:
		return e.encodeAssoc(v)
	case KindObject:
		return e.encodeObject(v)
	case KindByteArray:
		return e.encodeByteArray(v)
	default:
		return codecErr(UnknownMarker, e.buf.Len(), "unencodable kind %d", v.Kind)
	}
	return nil
}

func (e *Encoder) encodeDense(v Value) error {
	e.buf.WriteByte(MarkerArray)
	if idx, ok := e.findObject(v); ok {
		e.writeU29(uint32(idx) << 1)
		return nil
	}
	e.objects = append(e.objects, v)
	e.writeU29(uint32(len(v.Elems))<<1 | 1)
	e.writeString("") // empty associative part
	for _, elem := range v.Elems {
		if err := e.EncodeValue(elem); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeAssoc(v Value) error {
	e.buf.WriteByte(MarkerArray)
	if idx, ok := e.findObject(v); ok {
		e.writeU29(uint32(idx) << 1)
		return nil
	}
	e.objects = append(e.objects, v)
	e.writeU29(1) // zero dense elements, literal bit set
	for _, f := range v.Fields {
		e.writeString(f.Name)
		if err := e.EncodeValue(f.Value); err != nil {
			return err
		}
	}
	e.writeString("")
	return nil
}

func (e *Encoder) encodeObject(v Value) error {
	e.buf.WriteByte(MarkerObject)

	// Only non-anonymous objects are reference-table candidates.
	if v.Trait != "" {
		if idx, ok := e.findObject(v); ok {
			e.writeU29(uint32(idx) << 1)
			return nil
		}
		e.objects = append(e.objects, v)
	}

	var sealedNames []string
	if !v.Dynamic {
		sealedNames = make([]string, len(v.Fields))
		for i, f := range v.Fields {
			sealedNames[i] = f.Name
		}
	}

	if idx, ok := e.findTrait(v.Trait, v.Dynamic, sealedNames); ok {
		e.writeU29(uint32(idx)<<2 | 1)
	} else {
		e.traits = append(e.traits, traitDef{name: v.Trait, dynamic: v.Dynamic, fields: sealedNames})
		handle := uint32(len(sealedNames))<<4 | 0x03
		if v.Dynamic {
			handle |= 0x08
		}
		e.writeU29(handle)
		e.writeString(v.Trait)
		for _, fn := range sealedNames {
			e.writeString(fn)
		}
	}

	if v.Dynamic {
		for _, f := range v.Fields {
			e.writeString(f.Name)
			if err := e.EncodeValue(f.Value); err != nil {
				return err
			}
		}
		e.writeString("")
	} else {
		for _, f := range v.Fields {
			if err := e.EncodeValue(f.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Encoder) encodeByteArray(v Value) error {
	e.buf.WriteByte(MarkerByteArray)
	if len(v.Bytes) > 0 {
		if idx, ok := e.findObject(v); ok {
			e.writeU29(uint32(idx) << 1)
			return nil
		}
		e.objects = append(e.objects, v)
	}
	e.writeU29(uint32(len(v.Bytes))<<1 | 1)
	e.buf.Write(v.Bytes)
	return nil
}

// findObject scans the object table for a structurally identical value.
// Linear scan is fine at message scale; tables reset per message.
func (e *Encoder) findObject(v Value) (int, bool) {
	for i := range e.objects {
		if Equal(e.objects[i], v) {
			return i, true
		}
	}
	return 0, false
}

func (e *Encoder) findTrait(name string, dynamic bool, fields []string) (int, bool) {
	for i := range e.traits {
		if e.traits[i].equal(name, dynamic, fields) {
			return i, true
		}
	}
	return 0, false
}

// writeString writes a reference-or-literal string. Empty strings are
// always literal and never enter the table.
func (e *Encoder) writeString(s string) {
	if s == "" {
		e.writeU29(1)
		return
	}
	for i, t := range e.strings {
		if t == s {
			e.writeU29(uint32(i) << 1)
			return
		}
	}
	e.strings = append(e.strings, s)
	e.writeU29(uint32(len(s))<<1 | 1)
	e.buf.WriteString(s)
}

// writeU29 writes the variable-length 29-bit unsigned integer.
func (e *Encoder) writeU29(v uint32) {
	v &= 0x1FFFFFFF
	switch {
	case v < 0x80:
		e.buf.WriteByte(byte(v))
	case v < 0x4000:
		e.buf.WriteByte(byte(v>>7 | 0x80))
		e.buf.WriteByte(byte(v & 0x7F))
	case v < 0x200000:
		e.buf.WriteByte(byte(v>>14 | 0x80))
		e.buf.WriteByte(byte(v>>7&0x7F | 0x80))
		e.buf.WriteByte(byte(v & 0x7F))
	default:
		e.buf.WriteByte(byte(v>>22 | 0x80))
		e.buf.WriteByte(byte(v>>15&0x7F | 0x80))
		e.buf.WriteByte(byte(v>>8&0x7F | 0x80))
		e.buf.WriteByte(byte(v))
	}
}

func (e *Encoder) writeDouble(f float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(f))
	e.buf.Write(b[:])
}
