// Package pipeline runs the frame processing path: a single producer pushes
// captured frames into a bounded queue, and a worker pool decodes,
// classifies, observes, and records each frame independently. Frame arrival
// order is fixed by the capture sequence assigned at ingest; workers share
// no mutable state beyond the registry, which serializes its own writes.
package pipeline

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/protolens-project/protolens/internal/amf"
	"github.com/protolens-project/protolens/internal/capture"
	"github.com/protolens-project/protolens/internal/classify"
	"github.com/protolens-project/protolens/internal/events"
	"github.com/protolens-project/protolens/internal/schema"
	"github.com/protolens-project/protolens/internal/session"
	"github.com/protolens-project/protolens/internal/util"
)

// Options tunes the pipeline.
type Options struct {
	QueueSize int // bounded ingest queue, default 4096
	Workers   int // default runtime.NumCPU()
	MaxDepth  int // codec depth limit, 0 = codec default
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 4096
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	return o
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Ingested  uint64 `json:"ingested"`
	Decoded   uint64 `json:"decoded"`
	Malformed uint64 `json:"malformed"`
	Dropped   uint64 `json:"dropped"`
	Queued    int    `json:"queued"`
	Workers   int    `json:"workers"`
}

// Pipeline wires the frame adapter, codec, classifier, registry, and
// recorder together.
type Pipeline struct {
	opts       Options
	logger     zerolog.Logger
	adapter    *capture.Adapter
	classifier *classify.Classifier
	registry   *schema.Registry
	recorder   *session.Recorder
	bus        *events.EventBus

	queue chan capture.Frame
	wg    sync.WaitGroup

	ingested  atomic.Uint64
	decoded   atomic.Uint64
	malformed atomic.Uint64
	dropped   atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a pipeline. The recorder and bus may be nil when recording or
// eventing is not wanted.
func New(opts Options, classifier *classify.Classifier, registry *schema.Registry, recorder *session.Recorder, bus *events.EventBus) *Pipeline {
	opts = opts.withDefaults()
	return &Pipeline{
		opts:       opts,
		logger:     util.ComponentLogger("pipeline"),
		adapter:    capture.NewAdapter(),
		classifier: classifier,
		registry:   registry,
		recorder:   recorder,
		bus:        bus,
		queue:      make(chan capture.Frame, opts.QueueSize),
	}
}

// Start launches the worker pool.
func (p *Pipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		for i := 0; i < p.opts.Workers; i++ {
			p.wg.Add(1)
			go p.worker(ctx)
		}
		p.logger.Info().
			Int("workers", p.opts.Workers).
			Int("queue_size", p.opts.QueueSize).
			Msg("pipeline started")
	})
}

// Stop closes the ingest queue and waits for the workers to drain it.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.queue)
		p.wg.Wait()
		p.logger.Info().
			Uint64("decoded", p.decoded.Load()).
			Uint64("malformed", p.malformed.Load()).
			Msg("pipeline stopped")
	})
}

// Ingest adapts one raw captured envelope and queues the resulting frame.
// The capture transport is the single producer; a full queue drops the
// frame rather than blocking the capture callback.
func (p *Pipeline) Ingest(direction capture.Direction, at time.Time, meta map[string]string, raw []byte) bool {
	frame, envErr := p.adapter.Adapt(raw, direction, at, meta)
	p.ingested.Add(1)
	if envErr != nil {
		// The flagged frame still flows through so diagnostics see it.
		p.logger.Debug().Err(envErr).Uint64("sequence", frame.Sequence).Msg("envelope error")
	}

	select {
	case p.queue <- frame:
		return true
	default:
		p.dropped.Add(1)
		p.logger.Warn().Uint64("sequence", frame.Sequence).Msg("ingest queue full, frame dropped")
		if p.bus != nil {
			p.bus.Emit(context.Background(), events.Event{
				Type:   events.EventFrameDropped,
				Source: "pipeline",
				Payload: events.FrameDroppedPayload{
					Sequence: frame.Sequence,
					Reason:   "queue full",
				},
			})
		}
		return false
	}
}

// Process runs one frame through decode, classify, observe, and record
// synchronously, returning the resulting call. Exposed for replay and for
// callers that bypass the queue.
func (p *Pipeline) Process(frame capture.Frame) classify.DecodedCall {
	call := p.decode(frame)
	call.Category = p.classifier.Classify(call)

	if call.Status == classify.StatusOk && call.Action != "" {
		obs := p.registry.Observe(call.Action, call.Params, call.Category)
		p.emitSchemaEvents(call.Action, obs)
	}

	if p.recorder != nil {
		p.recorder.Append(call)
	}

	if p.bus != nil {
		eventType := events.EventCallDecoded
		if call.Status == classify.StatusMalformed {
			eventType = events.EventCallMalformed
		}
		p.bus.Emit(context.Background(), events.Event{
			Type:    eventType,
			Source:  "pipeline",
			Payload: call,
		})
	}
	return call
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Ingested:  p.ingested.Load(),
		Decoded:   p.decoded.Load(),
		Malformed: p.malformed.Load(),
		Dropped:   p.dropped.Load(),
		Queued:    len(p.queue),
		Workers:   p.opts.Workers,
	}
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case frame, ok := <-p.queue:
			if !ok {
				return
			}
			p.Process(frame)
		case <-ctx.Done():
			return
		}
	}
}

// decode turns a frame into a call. Decode failures never propagate: the
// frame is surfaced as a malformed call and the pipeline moves on.
func (p *Pipeline) decode(frame capture.Frame) classify.DecodedCall {
	call := classify.DecodedCall{Frame: frame, Status: classify.StatusOk}

	if frame.Truncated {
		call.Status = classify.StatusPartial
	}

	action, params, consumed, err := amf.DecodeMessage(frame.Payload, p.opts.MaxDepth)
	if err != nil {
		p.malformed.Add(1)
		call.Status = classify.StatusMalformed
		call.Error = err.Error()
		return call
	}

	call.Action = action
	call.Params = params
	if consumed < len(frame.Payload) {
		call.Status = classify.StatusPartial
	}
	p.decoded.Add(1)
	return call
}

func (p *Pipeline) emitSchemaEvents(action string, obs schema.Observation) {
	if p.bus == nil {
		return
	}
	payload := events.SchemaEventPayload{
		Action:     action,
		Category:   string(obs.Schema.Category),
		Confidence: obs.Schema.Confidence,
		Conflicts:  obs.Schema.Conflicts,
		Samples:    obs.Schema.Occurrences,
	}
	ctx := context.Background()
	if obs.Created {
		p.bus.Emit(ctx, events.Event{Type: events.EventSchemaProposed, Source: "pipeline", Payload: payload})
	}
	if obs.Conflicted {
		p.bus.Emit(ctx, events.Event{Type: events.EventSchemaConflict, Source: "pipeline", Payload: payload})
	}
	if obs.LearnedNow {
		p.bus.Emit(ctx, events.Event{Type: events.EventSchemaLearned, Source: "pipeline", Payload: payload})
	}
}
