package amf

import (
	"errors"
	"testing"
)

func mustEncode(t *testing.T, v Value) []byte {
	t.Helper()
	data, err := Encode(v, 0)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return data
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    Value
	}{
		{"undefined", Undefined()},
		{"null", Null()},
		{"false", Boolean(false)},
		{"true", Boolean(true)},
		{"zero", Integer(0)},
		{"small int", Integer(42)},
		{"one byte max", Integer(0x7F)},
		{"two byte min", Integer(0x80)},
		{"two byte max", Integer(0x3FFF)},
		{"three byte min", Integer(0x4000)},
		{"three byte max", Integer(0x1FFFFF)},
		{"four byte min", Integer(0x200000)},
		{"max int29", Integer(MaxInt29)},
		{"min int29", Integer(MinInt29)},
		{"negative one", Integer(-1)},
		{"double", Double(3.14159)},
		{"negative double", Double(-2.5e10)},
		{"string", String("hello")},
		{"empty string", String("")},
		{"unicode string", String("атака на город")},
		{"date", Date(1136214245000)},
		{"byte array", ByteArray([]byte{0xDE, 0xAD, 0xBE, 0xEF})},
		{"empty array", Dense()},
		{"dense array", Dense(Integer(1), String("two"), Double(3.0))},
		{"nested arrays", Dense(Dense(Integer(1)), Dense(Integer(2)))},
		{"assoc array", Assoc(
			Field{Name: "gold", Value: Integer(1200)},
			Field{Name: "food", Value: Integer(900)},
		)},
		{"anonymous object", Object("", false,
			Field{Name: "x", Value: Integer(10)},
			Field{Name: "y", Value: Integer(20)},
		)},
		{"typed object", Object("com.game.Hero", false,
			Field{Name: "id", Value: Integer(7)},
			Field{Name: "name", Value: String("warlord")},
		)},
		{"dynamic object", Object("com.game.Bag", true,
			Field{Name: "slots", Value: Integer(12)},
		)},
		{"mixed tree", Assoc(
			Field{Name: "troops", Value: Dense(
				Object("com.game.Unit", false,
					Field{Name: "type", Value: String("cavalry")},
					Field{Name: "count", Value: Integer(250)},
				),
			)},
			Field{Name: "departAt", Value: Date(1300000000000)},
		)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := mustEncode(t, tt.v)
			got, consumed, err := Decode(data, 0)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if consumed != len(data) {
				t.Errorf("consumed %d of %d bytes", consumed, len(data))
			}
			if !Equal(got, tt.v) {
				t.Errorf("round trip mismatch: got %+v, want %+v", got, tt.v)
			}
		})
	}
}

func TestEmptyAssocCanonicalizesToDense(t *testing.T) {
	v := Assoc()
	if v.Kind != KindDenseArray {
		t.Fatalf("empty assoc kind: got %s", v.Kind)
	}

	data, err := Encode(v, 0)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, consumed, err := Decode(data, 0)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if consumed != len(data) {
		t.Errorf("consumed %d of %d bytes", consumed, len(data))
	}
	if !Equal(got, Dense()) {
		t.Errorf("round trip: got %+v", got)
	}
}

func TestIntegerPromotion(t *testing.T) {
	v := Integer(int64(MaxInt29) + 1)
	if v.Kind != KindDouble {
		t.Fatalf("expected out-of-range integer to promote to double, got %s", v.Kind)
	}
	v = Integer(int64(MinInt29) - 1)
	if v.Kind != KindDouble {
		t.Fatalf("expected out-of-range integer to promote to double, got %s", v.Kind)
	}
}

func TestNegativeIntegerFold(t *testing.T) {
	// -1 occupies all 29 bits on the wire.
	data := mustEncode(t, Integer(-1))
	if len(data) != 5 {
		t.Fatalf("expected marker + 4-byte U29, got %d bytes", len(data))
	}
	got, _, err := Decode(data, 0)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Int != -1 {
		t.Errorf("fold mismatch: got %d, want -1", got.Int)
	}
}

func TestStringReferenceReuse(t *testing.T) {
	// The second occurrence of a repeated string must encode as a table
	// reference, not a second literal.
	once := mustEncode(t, Dense(String("battle.attack")))
	twice := mustEncode(t, Dense(String("battle.attack"), String("battle.attack")))

	extra := len(twice) - len(once)
	if extra > 2 {
		t.Errorf("second occurrence cost %d bytes, expected a short reference", extra)
	}

	got, _, err := Decode(twice, 0)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	want := Dense(String("battle.attack"), String("battle.attack"))
	if !Equal(got, want) {
		t.Errorf("reference decode mismatch: got %+v", got)
	}
}

func TestObjectReferenceReuse(t *testing.T) {
	hero := Object("com.game.Hero", false,
		Field{Name: "id", Value: Integer(9)},
	)
	v := Dense(hero, hero)

	data := mustEncode(t, v)
	got, _, err := Decode(data, 0)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !Equal(got, v) {
		t.Errorf("object reference round trip mismatch: got %+v", got)
	}

	// The second element should be a reference handle, far smaller than the
	// full object literal.
	single := mustEncode(t, Dense(hero))
	if len(data)-len(single) > 2 {
		t.Errorf("second object occurrence cost %d bytes", len(data)-len(single))
	}
}

func TestEmptyStringNeverReferenced(t *testing.T) {
	v := Dense(String(""), String(""), String("x"), String(""))
	data := mustEncode(t, v)
	got, _, err := Decode(data, 0)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !Equal(got, v) {
		t.Errorf("empty string round trip mismatch: got %+v", got)
	}
}

func TestDateAlwaysLiteral(t *testing.T) {
	// Two equal dates must both travel as literals.
	v := Dense(Date(1500000000000), Date(1500000000000))
	data := mustEncode(t, v)
	got, _, err := Decode(data, 0)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !Equal(got, v) {
		t.Errorf("date round trip mismatch: got %+v", got)
	}

	// A reference-form date handle is a protocol violation.
	_, _, err = Decode([]byte{MarkerDate, 0x00}, 0)
	var cerr *CodecError
	if !errors.As(err, &cerr) || cerr.Kind != InvalidReferenceIndex {
		t.Errorf("expected InvalidReferenceIndex for date reference, got %v", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		kind  ErrorKind
	}{
		{"empty input", []byte{}, TruncatedInput},
		{"truncated integer", []byte{MarkerInteger}, TruncatedInput},
		{"truncated u29 continuation", []byte{MarkerInteger, 0x80}, TruncatedInput},
		{"truncated double", []byte{MarkerDouble, 0x01, 0x02}, TruncatedInput},
		{"truncated string body", []byte{MarkerString, 0x09, 'a', 'b'}, TruncatedInput},
		{"unknown marker xml", []byte{0x07}, UnknownMarker},
		{"unknown marker vector", []byte{0x0D}, UnknownMarker},
		{"string ref out of range", []byte{MarkerString, 0x02}, InvalidReferenceIndex},
		{"object ref out of range", []byte{MarkerArray, 0x04}, InvalidReferenceIndex},
		{"oversized dense count", []byte{MarkerArray, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}, TruncatedInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.input, 0)
			var cerr *CodecError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected *CodecError, got %v", err)
			}
			if cerr.Kind != tt.kind {
				t.Errorf("error kind: got %s, want %s", cerr.Kind, tt.kind)
			}
		})
	}
}

func TestDepthLimit(t *testing.T) {
	v := Integer(1)
	for i := 0; i < 10; i++ {
		v = Dense(v)
	}

	if _, err := Encode(v, 4); err == nil {
		t.Fatal("expected encode depth limit error")
	} else {
		var cerr *CodecError
		if !errors.As(err, &cerr) || cerr.Kind != DepthLimitExceeded {
			t.Errorf("expected DepthLimitExceeded, got %v", err)
		}
	}

	data := mustEncode(t, v)
	if _, _, err := Decode(data, 4); err == nil {
		t.Fatal("expected decode depth limit error")
	} else {
		var cerr *CodecError
		if !errors.As(err, &cerr) || cerr.Kind != DepthLimitExceeded {
			t.Errorf("expected DepthLimitExceeded, got %v", err)
		}
	}

	// The same tree decodes fine with a generous limit.
	if _, _, err := Decode(data, 0); err != nil {
		t.Errorf("decode with default limit failed: %v", err)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	params := Assoc(
		Field{Name: "targetId", Value: Integer(80021)},
		Field{Name: "marchType", Value: String("siege")},
	)
	data, err := EncodeMessage("march.start", params, 0)
	if err != nil {
		t.Fatalf("EncodeMessage failed: %v", err)
	}

	action, got, consumed, err := DecodeMessage(data, 0)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	if action != "march.start" {
		t.Errorf("action: got %q", action)
	}
	if consumed != len(data) {
		t.Errorf("consumed %d of %d bytes", consumed, len(data))
	}
	if !Equal(got, params) {
		t.Errorf("params mismatch: got %+v", got)
	}
}

func TestMessageSharedStringTable(t *testing.T) {
	// A parameter repeating the action name must reuse the table entry the
	// action itself created.
	params := Assoc(Field{Name: "echo", Value: String("chat.send")})
	data, err := EncodeMessage("chat.send", params, 0)
	if err != nil {
		t.Fatalf("EncodeMessage failed: %v", err)
	}

	action, got, _, err := DecodeMessage(data, 0)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	if action != "chat.send" {
		t.Errorf("action: got %q", action)
	}
	echo, ok := got.FieldByName("echo")
	if !ok || echo.Str != "chat.send" {
		t.Errorf("shared table value mismatch: %+v", got)
	}
}

func TestConsumedOnTrailingBytes(t *testing.T) {
	data := append(mustEncode(t, Integer(5)), 0xAA, 0xBB)
	v, consumed, err := Decode(data, 0)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if v.Int != 5 {
		t.Errorf("value: got %d", v.Int)
	}
	if consumed != len(data)-2 {
		t.Errorf("consumed %d, want %d", consumed, len(data)-2)
	}
}
