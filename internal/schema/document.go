package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/protolens-project/protolens/internal/amf"
)

// DocumentVersion is bumped when the export format changes shape.
const DocumentVersion = 1

// Document is the whole-database export form of the registry: one entry per
// action name. Importing merges under the same widening rule as live
// observation, so importing a document twice leaves the registry exactly as
// importing it once would.
type Document struct {
	Version    int                    `json:"version"`
	ExportedAt time.Time              `json:"exported_at"`
	Schemas    map[string]*CallSchema `json:"schemas"`
}

// Export produces a document snapshot of every known schema.
func (r *Registry) Export() *Document {
	doc := &Document{
		Version:    DocumentVersion,
		ExportedAt: time.Now().UTC(),
		Schemas:    make(map[string]*CallSchema),
	}
	for _, s := range r.Snapshot() {
		doc.Schemas[s.Action] = s
	}
	return doc
}

// Import merges a document into the registry. Existing entries merge
// field-by-field: types union, counters take the larger value, example sets
// union up to the bound. The merge is idempotent.
func (r *Registry) Import(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("schema: nil document")
	}
	if doc.Version != DocumentVersion {
		return fmt.Errorf("schema: unsupported document version %d", doc.Version)
	}

	for action, incoming := range doc.Schemas {
		if incoming == nil || action == "" {
			continue
		}
		s := r.shard(action)
		s.mu.Lock()
		existing, ok := s.schemas[action]
		if !ok {
			c := incoming.clone()
			c.Action = action
			c.Learned = c.Occurrences >= r.opts.MinSamples
			s.schemas[action] = c
			s.mu.Unlock()
			continue
		}
		s.schemas[action] = mergeSchemas(existing, incoming, r.opts)
		s.mu.Unlock()
	}
	r.logger.Info().Int("entries", len(doc.Schemas)).Msg("schema document imported")
	return nil
}

// mergeSchemas combines two schemas for the same action using idempotent
// combinators: max for counters, union for types, examples, and response
// fields, earliest first-seen and latest last-seen.
func mergeSchemas(a, b *CallSchema, opts Options) *CallSchema {
	out := a.clone()

	if b.FirstSeenAt.Before(out.FirstSeenAt) && !b.FirstSeenAt.IsZero() {
		out.FirstSeenAt = b.FirstSeenAt
	}
	if b.LastSeenAt.After(out.LastSeenAt) {
		out.LastSeenAt = b.LastSeenAt
	}
	if b.Occurrences > out.Occurrences {
		out.Occurrences = b.Occurrences
	}
	if b.Conflicts > out.Conflicts {
		out.Conflicts = b.Conflicts
	}
	if b.UnknownPenalty > out.UnknownPenalty {
		out.UnknownPenalty = b.UnknownPenalty
	}

	for _, bp := range b.Params {
		idx := -1
		for i := range out.Params {
			if out.Params[i].Name == bp.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			cp := bp
			cp.Type.Kinds = append([]string(nil), bp.Type.Kinds...)
			cp.Examples = append([]amf.Value(nil), bp.Examples...)
			out.Params = append(out.Params, cp)
			continue
		}
		p := &out.Params[idx]
		for _, k := range bp.Type.Kinds {
			p.Type.widen(k)
		}
		for _, ex := range bp.Examples {
			p.Examples = boundAppend(p.Examples, ex, opts.MaxExamples)
		}
		if bp.Seen > p.Seen {
			p.Seen = bp.Seen
		}
		p.Required = p.Required && bp.Required
	}

	out.mergeResponse(b.ResponseFields)
	out.Confidence = float64(out.Occurrences) / (float64(out.Occurrences) + out.UnknownPenalty)
	out.Learned = out.Occurrences >= opts.MinSamples
	return out
}

// MarshalDocument serializes a document for whole-file persistence.
func MarshalDocument(doc *Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema document: %w", err)
	}
	return data, nil
}

// UnmarshalDocument parses a persisted document.
func UnmarshalDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema document: %w", err)
	}
	return &doc, nil
}
