package synth

import (
	"errors"
	"testing"

	"github.com/protolens-project/protolens/internal/amf"
	"github.com/protolens-project/protolens/internal/classify"
	"github.com/protolens-project/protolens/internal/schema"
)

func learnedRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	r := schema.NewRegistry(schema.Options{MinSamples: 5})
	for i := 0; i < 5; i++ {
		r.Observe("march.start", amf.Assoc(
			amf.Field{Name: "targetId", Value: amf.Integer(int64(1000 + i))},
			amf.Field{Name: "marchType", Value: amf.String("raid")},
		), classify.CategoryMarch)
	}
	return r
}

func marchParams() amf.Value {
	return amf.Assoc(
		amf.Field{Name: "targetId", Value: amf.Integer(2000)},
		amf.Field{Name: "marchType", Value: amf.String("siege")},
	)
}

func TestSynthesizeLearnedAction(t *testing.T) {
	r := learnedRegistry(t)
	s := NewSynthesizer(r, Options{Strict: true})

	data, err := s.Synthesize("march.start", marchParams())
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	// The frame must decode back to exactly what was supplied.
	action, params, _, err := amf.DecodeMessage(data, 0)
	if err != nil {
		t.Fatalf("synthesized frame does not decode: %v", err)
	}
	if action != "march.start" {
		t.Errorf("action: got %q", action)
	}
	if !amf.Equal(params, marchParams()) {
		t.Errorf("params mismatch: %+v", params)
	}
}

func TestSynthesizeStrictRejectsUnknown(t *testing.T) {
	s := NewSynthesizer(schema.NewRegistry(schema.Options{}), Options{Strict: true})

	_, err := s.Synthesize("never.seen", amf.Null())
	var serr *SchemaError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SchemaError, got %v", err)
	}
	if serr.Kind != UnknownAction {
		t.Errorf("kind: got %s, want %s", serr.Kind, UnknownAction)
	}
}

func TestSynthesizeStrictRejectsUnlearned(t *testing.T) {
	r := schema.NewRegistry(schema.Options{MinSamples: 5})
	r.Observe("rare.op", amf.Null(), classify.CategoryUnknown) // one sample, below threshold

	s := NewSynthesizer(r, Options{Strict: true})
	_, err := s.Synthesize("rare.op", amf.Null())
	var serr *SchemaError
	if !errors.As(err, &serr) || serr.Kind != UnknownAction {
		t.Errorf("expected UnknownAction for unlearned schema, got %v", err)
	}
}

func TestSynthesizeLenientAllowsUnknown(t *testing.T) {
	r := schema.NewRegistry(schema.Options{})
	s := NewSynthesizer(r, Options{})

	data, err := s.Synthesize("probe.op", amf.Assoc(
		amf.Field{Name: "n", Value: amf.Integer(1)},
	))
	if err != nil {
		t.Fatalf("lenient synthesis failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty frame")
	}

	// Lenient synthesis creates a fresh low-confidence schema entry.
	sch := r.Lookup("probe.op")
	if sch == nil {
		t.Fatal("synthesized call not observed into registry")
	}
	if sch.Learned {
		t.Error("single synthetic sample should not be learned")
	}
	if sch.Category != classify.CategoryAutomationSignature {
		t.Errorf("category: got %s", sch.Category)
	}
}

func TestSynthesizeTypeMismatch(t *testing.T) {
	r := learnedRegistry(t)
	s := NewSynthesizer(r, Options{Strict: true})

	_, err := s.Synthesize("march.start", amf.Assoc(
		amf.Field{Name: "targetId", Value: amf.String("not-a-number")},
	))
	var serr *SchemaError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SchemaError, got %v", err)
	}
	if serr.Kind != TypeMismatch {
		t.Errorf("kind: got %s", serr.Kind)
	}
	if serr.Field != "targetId" {
		t.Errorf("field: got %q", serr.Field)
	}

	// The rejected call must not pollute the registry.
	tid, _ := r.Lookup("march.start").Param("targetId")
	if tid.Type.IsUnion() {
		t.Errorf("rejected sample widened the schema to %s", tid.Type)
	}
}

func TestSynthesizeUnionAcceptsEitherBranch(t *testing.T) {
	r := learnedRegistry(t)
	// Widen targetId to double|integer through observation.
	r.Observe("march.start", amf.Assoc(
		amf.Field{Name: "targetId", Value: amf.Double(5.5)},
	), classify.CategoryMarch)

	s := NewSynthesizer(r, Options{Strict: true})
	for _, v := range []amf.Value{amf.Integer(1), amf.Double(2.5)} {
		_, err := s.Synthesize("march.start", amf.Assoc(
			amf.Field{Name: "targetId", Value: v},
		))
		if err != nil {
			t.Errorf("union branch %s rejected: %v", schema.TypeOf(v), err)
		}
	}
}

func TestSynthesizeUnknownFieldAllowed(t *testing.T) {
	r := learnedRegistry(t)
	s := NewSynthesizer(r, Options{Strict: true})

	_, err := s.Synthesize("march.start", amf.Assoc(
		amf.Field{Name: "targetId", Value: amf.Integer(1)},
		amf.Field{Name: "banner", Value: amf.String("wolf")},
	))
	if err != nil {
		t.Fatalf("new field rejected: %v", err)
	}

	// The observe step learns it.
	if _, ok := r.Lookup("march.start").Param("banner"); !ok {
		t.Error("new field not learned after synthesis")
	}
}

func TestSynthesizeEmptyAction(t *testing.T) {
	s := NewSynthesizer(schema.NewRegistry(schema.Options{}), Options{})
	_, err := s.Synthesize("", amf.Null())
	var serr *SchemaError
	if !errors.As(err, &serr) || serr.Kind != UnknownAction {
		t.Errorf("expected UnknownAction for empty action, got %v", err)
	}
}

func TestSynthesisRefinesSchema(t *testing.T) {
	r := learnedRegistry(t)
	s := NewSynthesizer(r, Options{Strict: true})

	before := r.Lookup("march.start").Occurrences
	if _, err := s.Synthesize("march.start", marchParams()); err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	after := r.Lookup("march.start").Occurrences
	if after != before+1 {
		t.Errorf("occurrences: got %d, want %d", after, before+1)
	}
}
