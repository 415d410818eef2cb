package amf

import (
	"encoding/binary"
	"math"
	"strconv"
)

// DefaultMaxDepth caps value nesting during decode and encode. Adversarial
// captures can nest arrays arbitrarily deep; the cap bounds stack use.
const DefaultMaxDepth = 64

// traitDef is a cached trait signature: class name plus the sealed field
// list. Trait literals register here and later objects of the same class
// reference the cached definition by index.
type traitDef struct {
	name    string
	dynamic bool
	fields  []string
}

func (t traitDef) equal(name string, dynamic bool, fields []string) bool {
	if t.name != name || t.dynamic != dynamic || len(t.fields) != len(fields) {
		return false
	}
	for i := range fields {
		if t.fields[i] != fields[i] {
			return false
		}
	}
	return true
}

// Decoder reads wire values from a byte buffer. Reference tables live on the
// Decoder itself, so each independently decoded message needs a fresh
// Decoder; tables are never shared across frames.
type Decoder struct {
	buf      []byte
	pos      int
	depth    int
	maxDepth int

	strings []string
	objects []*Value // nil slot = value still being decoded (cycle guard)
	traits  []traitDef
}

// NewDecoder creates a decoder over payload with the default depth limit.
func NewDecoder(payload []byte) *Decoder {
	return &Decoder{buf: payload, maxDepth: DefaultMaxDepth}
}

// SetMaxDepth overrides the nesting depth limit.
func (d *Decoder) SetMaxDepth(n int) {
	if n > 0 {
		d.maxDepth = n
	}
}

// Consumed returns how many bytes have been read so far.
func (d *Decoder) Consumed() int { return d.pos }

// Decode decodes a single value from payload and reports the number of
// bytes consumed. Failures are always *CodecError.
func Decode(payload []byte, maxDepth int) (Value, int, error) {
	d := NewDecoder(payload)
	d.SetMaxDepth(maxDepth)
	v, err := d.DecodeValue()
	return v, d.pos, err
}

// DecodeMessage decodes a full RPC call payload: a bare action-name string
// followed by the parameter value, both sharing one reference-table context.
func DecodeMessage(payload []byte, maxDepth int) (string, Value, int, error) {
	d := NewDecoder(payload)
	d.SetMaxDepth(maxDepth)
	action, err := d.readString()
	if err != nil {
		return "", Value{}, d.pos, err
	}
	params, err := d.DecodeValue()
	if err != nil {
		return action, Value{}, d.pos, err
	}
	return action, params, d.pos, nil
}

// DecodeValue decodes the next value from the buffer.
func (d *Decoder) DecodeValue() (Value, error) {
	d.depth++
	defer func() { d.depth-- }()
	if d.depth > d.maxDepth {
		return Value{}, codecErr(DepthLimitExceeded, d.pos, "nesting deeper than %d", d.maxDepth)
	}

	marker, err := d.readByte()
	if err != nil {
		return Value{}, err
	}

	switch marker {
	case MarkerUndefined:
		return Undefined(), nil
	case MarkerNull:
		return Null(), nil
	case MarkerFalse:
		return Boolean(false), nil
	case MarkerTrue:
		return Boolean(true), nil
	case MarkerInteger:
		u, err := d.readU29()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindInteger, Int: foldInt29(u)}, nil
	case MarkerDouble:
		f, err := d.readDouble()
		if err != nil {
			return Value{}, err
		}
		return Double(f), nil
	case MarkerString:
		s, err := d.readString()
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case MarkerDate:
		return d.decodeDate()
	case MarkerArray:
		return d.decodeArray()
	case MarkerObject:
		return d.decodeObject()
	case MarkerByteArray:
		return d.decodeByteArray()
	default:
		return Value{}, codecErr(UnknownMarker, d.pos-1, "marker 0x%02X", marker)
	}
}

// decodeDate reads a date literal. Dates never participate in the reference
// table, so a reference-form handle is rejected.
func (d *Decoder) decodeDate() (Value, error) {
	start := d.pos
	handle, err := d.readU29()
	if err != nil {
		return Value{}, err
	}
	if handle&1 == 0 {
		return Value{}, codecErr(InvalidReferenceIndex, start, "dates are always literal")
	}
	ms, err := d.readDouble()
	if err != nil {
		return Value{}, err
	}
	return Date(ms), nil
}

func (d *Decoder) decodeArray() (Value, error) {
	start := d.pos
	handle, err := d.readU29()
	if err != nil {
		return Value{}, err
	}
	if handle&1 == 0 {
		return d.objectRef(start, int(handle>>1))
	}

	denseLen := int(handle >> 1)
	if denseLen > len(d.buf)-d.pos {
		return Value{}, codecErr(TruncatedInput, start, "declared %d elements, %d bytes remain", denseLen, len(d.buf)-d.pos)
	}

	slot := d.reserveObject()

	// Associative part: key/value pairs until the empty-string terminator.
	var fields []Field
	for {
		key, err := d.readString()
		if err != nil {
			return Value{}, err
		}
		if key == "" {
			break
		}
		val, err := d.DecodeValue()
		if err != nil {
			return Value{}, err
		}
		fields = append(fields, Field{Name: key, Value: val})
	}

	elems := make([]Value, 0, denseLen)
	for i := 0; i < denseLen; i++ {
		val, err := d.DecodeValue()
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, val)
	}

	var v Value
	if len(fields) == 0 {
		v = Value{Kind: KindDenseArray, Elems: elems}
	} else {
		// Mixed arrays collapse into the associative representation with
		// dense elements appended under their numeric keys.
		for i, e := range elems {
			fields = append(fields, Field{Name: strconv.Itoa(i), Value: e})
		}
		v = Value{Kind: KindAssocArray, Fields: fields}
	}
	*slot = v
	return v, nil
}

func (d *Decoder) decodeObject() (Value, error) {
	start := d.pos
	handle, err := d.readU29()
	if err != nil {
		return Value{}, err
	}
	if handle&1 == 0 {
		return d.objectRef(start, int(handle>>1))
	}

	var trait traitDef
	if handle&2 == 0 {
		// Trait reference: remaining bits index the traits table.
		idx := int(handle >> 2)
		if idx >= len(d.traits) {
			return Value{}, codecErr(InvalidReferenceIndex, start, "trait index %d of %d", idx, len(d.traits))
		}
		trait = d.traits[idx]
	} else {
		if handle&4 != 0 {
			return Value{}, codecErr(UnknownMarker, start, "externalizable traits unsupported")
		}
		dynamic := handle&8 != 0
		sealed := int(handle >> 4)
		if sealed > len(d.buf)-d.pos {
			return Value{}, codecErr(TruncatedInput, start, "declared %d sealed fields, %d bytes remain", sealed, len(d.buf)-d.pos)
		}
		name, err := d.readString()
		if err != nil {
			return Value{}, err
		}
		fieldNames := make([]string, 0, sealed)
		for i := 0; i < sealed; i++ {
			fn, err := d.readString()
			if err != nil {
				return Value{}, err
			}
			fieldNames = append(fieldNames, fn)
		}
		trait = traitDef{name: name, dynamic: dynamic, fields: fieldNames}
		d.traits = append(d.traits, trait)
	}

	// Only objects carrying a trait name join the reference table.
	var slot *Value
	if trait.name != "" {
		slot = d.reserveObject()
	}

	fields := make([]Field, 0, len(trait.fields))
	for _, fn := range trait.fields {
		val, err := d.DecodeValue()
		if err != nil {
			return Value{}, err
		}
		fields = append(fields, Field{Name: fn, Value: val})
	}

	if trait.dynamic {
		for {
			key, err := d.readString()
			if err != nil {
				return Value{}, err
			}
			if key == "" {
				break
			}
			val, err := d.DecodeValue()
			if err != nil {
				return Value{}, err
			}
			fields = append(fields, Field{Name: key, Value: val})
		}
	}

	v := Value{Kind: KindObject, Trait: trait.name, Dynamic: trait.dynamic, Fields: fields}
	if slot != nil {
		*slot = v
	}
	return v, nil
}

func (d *Decoder) decodeByteArray() (Value, error) {
	start := d.pos
	handle, err := d.readU29()
	if err != nil {
		return Value{}, err
	}
	if handle&1 == 0 {
		return d.objectRef(start, int(handle>>1))
	}
	n := int(handle >> 1)
	b, err := d.readBytes(n)
	if err != nil {
		return Value{}, err
	}
	v := Value{Kind: KindByteArray, Bytes: append([]byte(nil), b...)}
	if n > 0 {
		slot := d.reserveObject()
		*slot = v
	}
	return v, nil
}

// reserveObject appends a table slot before the value body is decoded, so
// index assignment matches the encoder's order.
func (d *Decoder) reserveObject() *Value {
	v := new(Value)
	d.objects = append(d.objects, v)
	return v
}

func (d *Decoder) objectRef(offset, idx int) (Value, error) {
	if idx < 0 || idx >= len(d.objects) {
		return Value{}, codecErr(InvalidReferenceIndex, offset, "object index %d of %d", idx, len(d.objects))
	}
	slot := d.objects[idx]
	if slot == nil || slot.Kind == KindUndefined {
		// A reference into a value still being decoded would make the tree
		// cyclic, which this representation cannot hold.
		return Value{}, codecErr(InvalidReferenceIndex, offset, "object index %d not yet complete", idx)
	}
	return *slot, nil
}

// readString reads a reference-or-literal string using the string table.
// Empty strings are always literal and never enter the table.
func (d *Decoder) readString() (string, error) {
	start := d.pos
	handle, err := d.readU29()
	if err != nil {
		return "", err
	}
	if handle&1 == 0 {
		idx := int(handle >> 1)
		if idx >= len(d.strings) {
			return "", codecErr(InvalidReferenceIndex, start, "string index %d of %d", idx, len(d.strings))
		}
		return d.strings[idx], nil
	}
	n := int(handle >> 1)
	if n == 0 {
		return "", nil
	}
	b, err := d.readBytes(n)
	if err != nil {
		return "", err
	}
	s := string(b)
	d.strings = append(d.strings, s)
	return s, nil
}

// readU29 reads the variable-length 29-bit unsigned integer: up to three
// continuation bytes of 7 bits each, then a final full byte.
func (d *Decoder) readU29() (uint32, error) {
	var v uint32
	for i := 0; i < 4; i++ {
		b, err := d.readByte()
		if err != nil {
			return 0, err
		}
		if i == 3 {
			v = v<<8 | uint32(b)
			break
		}
		v = v<<7 | uint32(b&0x7F)
		if b&0x80 == 0 {
			break
		}
	}
	return v, nil
}

func (d *Decoder) readDouble() (float64, error) {
	b, err := d.readBytes(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

func (d *Decoder) readByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, codecErr(TruncatedInput, d.pos, "need 1 byte")
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *Decoder) readBytes(n int) ([]byte, error) {
	if n < 0 || n > len(d.buf)-d.pos {
		return nil, codecErr(TruncatedInput, d.pos, "need %d bytes, %d remain", n, len(d.buf)-d.pos)
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// foldInt29 interprets a U29 as a 29-bit two's complement signed integer.
func foldInt29(u uint32) int32 {
	u &= 0x1FFFFFFF
	if u&0x10000000 != 0 {
		return int32(u) - 0x20000000
	}
	return int32(u)
}

