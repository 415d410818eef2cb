package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/protolens-project/protolens/internal/classify"
	"github.com/protolens-project/protolens/internal/events"
	"github.com/protolens-project/protolens/internal/schema"
	"github.com/protolens-project/protolens/internal/session"
	"github.com/protolens-project/protolens/internal/store"
	"github.com/protolens-project/protolens/internal/util"
)

// ReplayManager drives a replayer session and feeds the emitted calls back
// through the registry and event bus, the same side effects live traffic
// has. The replayer's single-session guarantee keeps those registry
// observations from racing a second replay.
type ReplayManager struct {
	logger   zerolog.Logger
	replayer *session.Replayer
	registry *schema.Registry
	store    *store.Store
	bus      *events.EventBus

	activeID atomic.Value // string
	emitted  atomic.Uint64
}

// NewReplayManager creates a replay manager.
func NewReplayManager(registry *schema.Registry, st *store.Store, bus *events.EventBus) *ReplayManager {
	m := &ReplayManager{
		logger:   util.ComponentLogger("replay"),
		replayer: session.NewReplayer(),
		registry: registry,
		store:    st,
		bus:      bus,
	}
	m.activeID.Store("")
	return m
}

// Start loads a persisted recording and begins replaying it. The emitted
// calls are observed into the registry and published on the bus; consumers
// follow the live stream as if the traffic were fresh.
func (m *ReplayManager) Start(ctx context.Context, recordingID string, speed float64) error {
	rec, err := m.store.LoadRecording(recordingID)
	if err != nil {
		return err
	}

	out, err := m.replayer.Start(ctx, rec, speed)
	if err != nil {
		return err
	}

	m.activeID.Store(recordingID)
	m.emitted.Store(0)

	if m.bus != nil {
		m.bus.Emit(ctx, events.Event{
			Type:   events.EventReplayStarted,
			Source: "replay",
			Payload: events.ReplayEventPayload{
				RecordingID: recordingID,
				Speed:       speed,
			},
		})
	}

	go m.drain(recordingID, speed, out)
	return nil
}

func (m *ReplayManager) drain(recordingID string, speed float64, out <-chan session.RecordedCall) {
	for rc := range out {
		m.emitted.Add(1)

		if rc.Call.Status == classify.StatusOk && rc.Call.Action != "" {
			m.registry.Observe(rc.Call.Action, rc.Call.Params, rc.Call.Category)
		}
		if m.bus != nil {
			m.bus.Emit(context.Background(), events.Event{
				Type:    events.EventCallDecoded,
				Source:  "replay",
				Payload: rc.Call,
			})
		}
	}

	m.activeID.Store("")
	if m.bus != nil {
		m.bus.Emit(context.Background(), events.Event{
			Type:   events.EventReplayFinished,
			Source: "replay",
			Payload: events.ReplayEventPayload{
				RecordingID: recordingID,
				Speed:       speed,
				Emitted:     int(m.emitted.Load()),
			},
		})
	}
	m.logger.Info().
		Str("recording_id", recordingID).
		Uint64("emitted", m.emitted.Load()).
		Msg("replay drained")
}

// Pause suspends the active replay.
func (m *ReplayManager) Pause() error { return m.replayer.Pause() }

// Resume continues a paused replay.
func (m *ReplayManager) Resume() error { return m.replayer.Resume() }

// Seek jumps the active replay to an ordinal.
func (m *ReplayManager) Seek(ordinal uint64) error { return m.replayer.Seek(ordinal) }

// Stop cancels the active replay.
func (m *ReplayManager) Stop() { m.replayer.Stop() }

// Status reports the replay state, the active recording, and progress.
func (m *ReplayManager) Status() (state string, recordingID string, position uint64, emitted uint64) {
	return m.replayer.State().String(),
		m.activeID.Load().(string),
		m.replayer.Position(),
		m.emitted.Load()
}
