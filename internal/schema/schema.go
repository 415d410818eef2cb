// Package schema maintains the canonical mapping from RPC action names to
// inferred call schemas. Schemas grow incrementally from observed samples
// under a type-widening merge rule: consistent samples raise confidence,
// conflicting samples widen the field type to a union and damp confidence.
package schema

import (
	"sort"
	"strconv"
	"time"

	"github.com/protolens-project/protolens/internal/amf"
	"github.com/protolens-project/protolens/internal/classify"
)

// Learner tuning defaults. These are starting values from the design
// documents, not verified constants; all are tunable via configuration.
const (
	DefaultMinSamples    = 5
	DefaultMaxExamples   = 8
	DefaultBasePenalty   = 4.0
	DefaultConflictBump  = 2.0
	conflictRecoveryStep = 1.0
)

// FieldType is the inferred type of one parameter. More than one kind means
// the field has been widened to a union after conflicting observations.
type FieldType struct {
	Kinds []string `json:"kinds"`
}

// TypeOf maps a wire value to its inferred type name.
func TypeOf(v amf.Value) string {
	switch v.Kind {
	case amf.KindDenseArray:
		return "array"
	case amf.KindAssocArray, amf.KindObject:
		return "object"
	default:
		return v.Kind.String()
	}
}

// Has reports whether the type already covers kind.
func (t FieldType) Has(kind string) bool {
	for _, k := range t.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// IsUnion reports whether the field has been widened.
func (t FieldType) IsUnion() bool { return len(t.Kinds) > 1 }

// String renders the type, unions as "a|b".
func (t FieldType) String() string {
	s := ""
	for i, k := range t.Kinds {
		if i > 0 {
			s += "|"
		}
		s += k
	}
	return s
}

// widen adds kind to the union, keeping Kinds sorted for stable comparison
// and serialization. Returns true if the type actually grew.
func (t *FieldType) widen(kind string) bool {
	if t.Has(kind) {
		return false
	}
	t.Kinds = append(t.Kinds, kind)
	sort.Strings(t.Kinds)
	return true
}

// ParamSpec is the inferred specification of one call parameter.
type ParamSpec struct {
	Name     string      `json:"name"`
	Type     FieldType   `json:"type"`
	Examples []amf.Value `json:"examples,omitempty"`
	Required bool        `json:"required"`
	Seen     int         `json:"seen"`
}

// CallSchema is the learned shape of one action. Published CallSchema
// values are immutable: the registry copies on write and hands out
// snapshots that must not be modified.
type CallSchema struct {
	Action         string            `json:"action"`
	Category       classify.Category `json:"category"`
	Params         []ParamSpec       `json:"params"`
	ResponseFields []string          `json:"response_fields,omitempty"`
	FirstSeenAt    time.Time         `json:"first_seen_at"`
	LastSeenAt     time.Time         `json:"last_seen_at"`
	Occurrences    int               `json:"occurrences"`
	Conflicts      int               `json:"conflicts"`
	Confidence     float64           `json:"confidence"`
	Learned        bool              `json:"learned"`

	// UnknownPenalty is the denominator damping term: confidence is
	// occurrences / (occurrences + penalty). Conflicts bump it, cleanly
	// resolved conflicts let it decay back toward the base.
	UnknownPenalty float64 `json:"unknown_penalty"`

	pendingConflicts int
}

// Param returns the spec for a named parameter.
func (s *CallSchema) Param(name string) (ParamSpec, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// clone deep-copies a schema so the stored value can be mutated while
// previously published snapshots stay frozen.
func (s *CallSchema) clone() *CallSchema {
	c := *s
	c.Params = make([]ParamSpec, len(s.Params))
	for i, p := range s.Params {
		cp := p
		cp.Type.Kinds = append([]string(nil), p.Type.Kinds...)
		cp.Examples = append([]amf.Value(nil), p.Examples...)
		c.Params[i] = cp
	}
	c.ResponseFields = append([]string(nil), s.ResponseFields...)
	return &c
}

// ParamFields flattens an observed parameter value into named fields:
// objects and associative arrays contribute their fields, dense arrays
// contribute positional names, and bare scalars become a single "value"
// parameter. The synthesizer uses the same flattening so validation and
// learning see identical shapes.
func ParamFields(v amf.Value) []amf.Field {
	switch v.Kind {
	case amf.KindObject, amf.KindAssocArray:
		return v.Fields
	case amf.KindDenseArray:
		fields := make([]amf.Field, len(v.Elems))
		for i, e := range v.Elems {
			fields[i] = amf.Field{Name: strconv.Itoa(i), Value: e}
		}
		return fields
	case amf.KindUndefined, amf.KindNull:
		return nil
	default:
		return []amf.Field{{Name: "value", Value: v}}
	}
}

// merge folds one observed sample into the schema and reports whether any
// field type had to be widened. Called only with the shard lock held.
func (s *CallSchema) merge(params amf.Value, category classify.Category, now time.Time, maxExamples int, conflictBump, basePenalty float64) bool {
	s.Occurrences++
	s.LastSeenAt = now
	if s.Category == classify.CategoryUnknown && category != classify.CategoryUnknown {
		s.Category = category
	}

	conflicted := false
	observed := ParamFields(params)

	for _, f := range observed {
		kind := TypeOf(f.Value)

		idx := -1
		for i := range s.Params {
			if s.Params[i].Name == f.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			s.Params = append(s.Params, ParamSpec{
				Name:     f.Name,
				Type:     FieldType{Kinds: []string{kind}},
				Examples: boundAppend(nil, f.Value, maxExamples),
				Seen:     1,
			})
			continue
		}

		p := &s.Params[idx]
		p.Seen++
		if p.Type.widen(kind) {
			conflicted = true
		}
		p.Examples = boundAppend(p.Examples, f.Value, maxExamples)
	}

	// Required means present in every sample seen so far.
	for i := range s.Params {
		s.Params[i].Required = s.Params[i].Seen == s.Occurrences
	}

	if conflicted {
		s.Conflicts++
		s.pendingConflicts++
		s.UnknownPenalty += conflictBump
	} else if s.pendingConflicts > 0 {
		// A clean sample after a conflict resolves it and lets the
		// penalty decay back toward the base.
		s.pendingConflicts--
		s.UnknownPenalty -= conflictRecoveryStep
		if s.UnknownPenalty < basePenalty {
			s.UnknownPenalty = basePenalty
		}
	}

	s.Confidence = float64(s.Occurrences) / (float64(s.Occurrences) + s.UnknownPenalty)
	return conflicted
}

// mergeResponse records response field names observed for this action.
func (s *CallSchema) mergeResponse(fields []string) {
	for _, f := range fields {
		found := false
		for _, existing := range s.ResponseFields {
			if existing == f {
				found = true
				break
			}
		}
		if !found {
			s.ResponseFields = append(s.ResponseFields, f)
		}
	}
	sort.Strings(s.ResponseFields)
}

// boundAppend appends an example unless the set is full or already holds a
// structurally identical value.
func boundAppend(examples []amf.Value, v amf.Value, max int) []amf.Value {
	if len(examples) >= max {
		return examples
	}
	for _, e := range examples {
		if amf.Equal(e, v) {
			return examples
		}
	}
	return append(examples, v)
}
