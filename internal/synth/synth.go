// Package synth builds injectable wire frames from an action name and
// parameter values, validated against the learned schema registry.
package synth

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/protolens-project/protolens/internal/amf"
	"github.com/protolens-project/protolens/internal/classify"
	"github.com/protolens-project/protolens/internal/schema"
	"github.com/protolens-project/protolens/internal/util"
)

// SchemaErrorKind discriminates synthesis failures.
type SchemaErrorKind int

const (
	// UnknownAction means no learned schema exists for the action and
	// strict mode is on.
	UnknownAction SchemaErrorKind = iota
	// TypeMismatch means a supplied value cannot be reconciled with the
	// schema's inferred type for that field.
	TypeMismatch
)

func (k SchemaErrorKind) String() string {
	switch k {
	case UnknownAction:
		return "unknown action"
	case TypeMismatch:
		return "type mismatch"
	default:
		return "invalid"
	}
}

// SchemaError is a caller-facing validation failure. It is returned
// synchronously and never swallowed.
type SchemaError struct {
	Kind   SchemaErrorKind
	Action string
	Field  string
	Detail string
}

func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("synth: %s for %q field %q: %s", e.Kind, e.Action, e.Field, e.Detail)
	}
	return fmt.Sprintf("synth: %s for %q: %s", e.Kind, e.Action, e.Detail)
}

// Options tunes the synthesizer.
type Options struct {
	// Strict rejects actions without a learned schema. Off by default for
	// exploratory injection; turn on for unattended automation.
	Strict bool
	// MaxDepth is passed through to the encoder; zero means the codec
	// default.
	MaxDepth int
}

// Synthesizer validates parameter values against the registry and encodes
// them into a wire frame. Successful synthesis feeds the call back into the
// registry as a fresh sample, so synthetic traffic keeps refining schemas.
type Synthesizer struct {
	registry *schema.Registry
	opts     Options
	logger   zerolog.Logger
}

// NewSynthesizer creates a synthesizer bound to a registry.
func NewSynthesizer(registry *schema.Registry, opts Options) *Synthesizer {
	return &Synthesizer{
		registry: registry,
		opts:     opts,
		logger:   util.ComponentLogger("synth"),
	}
}

// Synthesize builds the encoded message bytes for an action call.
func (s *Synthesizer) Synthesize(action string, params amf.Value) ([]byte, error) {
	if action == "" {
		return nil, &SchemaError{Kind: UnknownAction, Action: action, Detail: "empty action name"}
	}

	sch := s.registry.Lookup(action)
	if sch == nil || !sch.Learned {
		if s.opts.Strict {
			return nil, &SchemaError{
				Kind:   UnknownAction,
				Action: action,
				Detail: "no learned schema and strict mode is on",
			}
		}
	} else if err := s.check(sch, params); err != nil {
		return nil, err
	}

	data, err := amf.EncodeMessage(action, params, s.opts.MaxDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q: %w", action, err)
	}

	obs := s.registry.Observe(action, params, classify.CategoryAutomationSignature)
	s.logger.Debug().
		Str("action", action).
		Int("bytes", len(data)).
		Bool("new_schema", obs.Created).
		Msg("frame synthesized")
	return data, nil
}

// check validates supplied values against the learned schema. A value whose
// type is already part of the field's union passes; anything else is a
// mismatch, since widening is the learner's job, not the caller's.
func (s *Synthesizer) check(sch *schema.CallSchema, params amf.Value) error {
	for _, f := range schema.ParamFields(params) {
		spec, ok := sch.Param(f.Name)
		if !ok {
			continue // new fields are allowed, the observe step learns them
		}
		kind := schema.TypeOf(f.Value)
		if !spec.Type.Has(kind) {
			return &SchemaError{
				Kind:   TypeMismatch,
				Action: sch.Action,
				Field:  f.Name,
				Detail: fmt.Sprintf("got %s, schema expects %s", kind, spec.Type),
			}
		}
	}
	return nil
}
