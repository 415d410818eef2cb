package amf

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFromInterface(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want Value
	}{
		{"nil", nil, Null()},
		{"bool", true, Boolean(true)},
		{"integral float", float64(42), Integer(42)},
		{"fractional float", 1.5, Double(1.5)},
		{"float outside int29", float64(MaxInt29) + 1, Double(float64(MaxInt29) + 1)},
		{"int", 7, Integer(7)},
		{"string", "hi", String("hi")},
		{"bytes", []byte{1, 2}, ByteArray([]byte{1, 2})},
		{"slice", []interface{}{float64(1), "two"}, Dense(Integer(1), String("two"))},
		{
			"map sorts keys",
			map[string]interface{}{"b": float64(2), "a": float64(1)},
			Assoc(
				Field{Name: "a", Value: Integer(1)},
				Field{Name: "b", Value: Integer(2)},
			),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromInterface(tt.in)
			if err != nil {
				t.Fatalf("FromInterface failed: %v", err)
			}
			if !Equal(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFromInterfaceTime(t *testing.T) {
	ts := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	got, err := FromInterface(ts)
	if err != nil {
		t.Fatalf("FromInterface failed: %v", err)
	}
	if got.Kind != KindDate || got.Double != float64(ts.UnixMilli()) {
		t.Errorf("got %+v", got)
	}
}

func TestFromInterfaceRejectsUnknownTypes(t *testing.T) {
	if _, err := FromInterface(struct{}{}); err == nil {
		t.Error("struct accepted")
	}
	if _, err := FromInterface([]interface{}{make(chan int)}); err == nil {
		t.Error("nested channel accepted")
	}
}

func TestFromInterfaceHandlesDecodedJSON(t *testing.T) {
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(`{"targetId": 5, "flags": [true, null], "note": "go"}`), &parsed); err != nil {
		t.Fatal(err)
	}

	got, err := FromInterface(parsed)
	if err != nil {
		t.Fatalf("FromInterface failed: %v", err)
	}

	want := Assoc(
		Field{Name: "flags", Value: Dense(Boolean(true), Null())},
		Field{Name: "note", Value: String("go")},
		Field{Name: "targetId", Value: Integer(5)},
	)
	if !Equal(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestToInterface(t *testing.T) {
	v := Assoc(
		Field{Name: "n", Value: Integer(3)},
		Field{Name: "raw", Value: ByteArray([]byte{0xFF})},
		Field{Name: "when", Value: Date(1500000000000)},
	)

	out, ok := ToInterface(v).(map[string]interface{})
	if !ok {
		t.Fatalf("expected map, got %T", ToInterface(v))
	}
	if out["n"] != int32(3) {
		t.Errorf("n: got %v (%T)", out["n"], out["n"])
	}
	if out["raw"] != "/w==" {
		t.Errorf("raw: got %v", out["raw"])
	}
	when, ok := out["when"].(time.Time)
	if !ok || when.UnixMilli() != 1500000000000 {
		t.Errorf("when: got %v", out["when"])
	}

	// The result must be serializable as-is.
	if _, err := json.Marshal(out); err != nil {
		t.Errorf("ToInterface output not JSON-serializable: %v", err)
	}
}
