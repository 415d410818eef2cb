package schema

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/protolens-project/protolens/internal/amf"
	"github.com/protolens-project/protolens/internal/classify"
	"github.com/protolens-project/protolens/internal/util"
)

const shardCount = 16

// Options tunes the learner. Zero values fall back to the shipped defaults.
type Options struct {
	MinSamples   int
	MaxExamples  int
	BasePenalty  float64
	ConflictBump float64
}

func (o Options) withDefaults() Options {
	if o.MinSamples <= 0 {
		o.MinSamples = DefaultMinSamples
	}
	if o.MaxExamples <= 0 {
		o.MaxExamples = DefaultMaxExamples
	}
	if o.BasePenalty <= 0 {
		o.BasePenalty = DefaultBasePenalty
	}
	if o.ConflictBump <= 0 {
		o.ConflictBump = DefaultConflictBump
	}
	return o
}

// Observation is the outcome of folding one sample into the registry,
// reported so callers can emit events without re-reading the schema.
type Observation struct {
	Schema     *CallSchema // immutable snapshot after the merge
	Created    bool
	Conflicted bool
	LearnedNow bool // crossed the minimum-sample threshold on this sample
}

// Registry is the shared action-name -> schema store. Writes are serialized
// per shard (hash of the action name), which guarantees at most one
// concurrent writer per action; reads return immutable snapshots and never
// block writers on other shards.
type Registry struct {
	opts   Options
	logger zerolog.Logger
	shards [shardCount]registryShard
}

type registryShard struct {
	mu      sync.RWMutex
	schemas map[string]*CallSchema
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		opts:   opts.withDefaults(),
		logger: util.ComponentLogger("registry"),
	}
	for i := range r.shards {
		r.shards[i].schemas = make(map[string]*CallSchema)
	}
	return r
}

func (r *Registry) shard(action string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(action))
	return &r.shards[h.Sum32()%shardCount]
}

// Lookup returns the schema snapshot for an action, or nil if the action
// has never been observed. The returned value must not be modified.
func (r *Registry) Lookup(action string) *CallSchema {
	s := r.shard(action)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schemas[action]
}

// Observe merges one observed call into the registry, creating a schema on
// first sight. Threshold evaluation happens inside the same serialized
// write path, so LearnedNow fires exactly once per action.
func (r *Registry) Observe(action string, params amf.Value, category classify.Category) Observation {
	now := time.Now().UTC()
	s := r.shard(action)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.schemas[action]
	if !ok {
		fresh := &CallSchema{
			Action:         action,
			Category:       category,
			FirstSeenAt:    now,
			UnknownPenalty: r.opts.BasePenalty,
		}
		fresh.merge(params, category, now, r.opts.MaxExamples, r.opts.ConflictBump, r.opts.BasePenalty)
		fresh.Learned = fresh.Occurrences >= r.opts.MinSamples
		s.schemas[action] = fresh
		r.logger.Debug().Str("action", action).Msg("new schema proposed")
		return Observation{Schema: fresh, Created: true, LearnedNow: fresh.Learned}
	}

	next := existing.clone()
	conflicted := next.merge(params, category, now, r.opts.MaxExamples, r.opts.ConflictBump, r.opts.BasePenalty)
	wasLearned := next.Learned
	next.Learned = next.Occurrences >= r.opts.MinSamples
	s.schemas[action] = next

	if conflicted {
		r.logger.Debug().
			Str("action", action).
			Int("conflicts", next.Conflicts).
			Float64("confidence", next.Confidence).
			Msg("schema shape conflict, type widened")
	}
	return Observation{
		Schema:     next,
		Conflicted: conflicted,
		LearnedNow: next.Learned && !wasLearned,
	}
}

// ObserveResponse records the field names seen in a response for an action.
// Responses observed before any request create no schema.
func (r *Registry) ObserveResponse(action string, fields []string) {
	s := r.shard(action)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.schemas[action]
	if !ok {
		return
	}
	next := existing.clone()
	next.mergeResponse(fields)
	s.schemas[action] = next
}

// Snapshot returns all schemas sorted by action name.
func (r *Registry) Snapshot() []*CallSchema {
	var out []*CallSchema
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, sch := range s.schemas {
			out = append(out, sch)
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out
}

// Len returns the number of known actions.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		n += len(s.schemas)
		s.mu.RUnlock()
	}
	return n
}
