// Package session records ordered streams of decoded calls and replays them
// with speed control, pause/resume, and seek. A recording is append-only
// while active and frozen read-only once stopped; replay never mutates it.
package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/protolens-project/protolens/internal/classify"
	"github.com/protolens-project/protolens/internal/util"
)

// RecordedCall is one entry of a recording: the decoded call plus its
// per-recording ordinal and arrival time. Ordinals are monotonic from 1.
type RecordedCall struct {
	Ordinal uint64               `json:"ordinal"`
	At      time.Time            `json:"at"`
	Call    classify.DecodedCall `json:"call"`
}

// Recording is an ordered capture session. Once returned by Stop it must be
// treated as read-only.
type Recording struct {
	ID        string         `json:"id"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Calls     []RecordedCall `json:"calls"`
}

// MarshalRecording serializes a recording for whole-file persistence.
func MarshalRecording(rec *Recording) ([]byte, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal recording: %w", err)
	}
	return data, nil
}

// UnmarshalRecording parses a persisted recording.
func UnmarshalRecording(data []byte) (*Recording, error) {
	var rec Recording
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse recording: %w", err)
	}
	return &rec, nil
}

// Recorder owns the active recording exclusively. Append is the only
// mutation and is serialized, preserving arrival order.
type Recorder struct {
	mu     sync.Mutex
	logger zerolog.Logger
	active *Recording
}

// NewRecorder creates an idle recorder.
func NewRecorder() *Recorder {
	return &Recorder{logger: util.ComponentLogger("recorder")}
}

// Start begins a new recording and returns its id. Fails if a recording is
// already active.
func (r *Recorder) Start() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return "", fmt.Errorf("session: recording %s already active", r.active.ID)
	}
	r.active = &Recording{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	r.logger.Info().Str("recording_id", r.active.ID).Msg("recording started")
	return r.active.ID, nil
}

// Append adds a decoded call to the active recording. Pipeline workers can
// finish out of capture order, so calls carrying a frame sequence are
// inserted by it; replay then follows the wire order, not completion order.
// Calls arriving while no recording is active are dropped silently; the
// pipeline runs whether or not anyone is recording.
func (r *Recorder) Append(call classify.DecodedCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return
	}
	at := call.Frame.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}

	calls := r.active.Calls
	i := len(calls)
	if seq := call.Frame.Sequence; seq != 0 {
		// Late arrivals are near the tail; walk back to the slot.
		for i > 0 && calls[i-1].Call.Frame.Sequence > seq {
			i--
		}
	}
	calls = append(calls, RecordedCall{})
	copy(calls[i+1:], calls[i:])
	calls[i] = RecordedCall{At: at, Call: call}
	for j := i; j < len(calls); j++ {
		calls[j].Ordinal = uint64(j + 1)
	}
	r.active.Calls = calls
}

// Stop ends the active recording and transfers ownership of the frozen
// recording to the caller.
func (r *Recorder) Stop() (*Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil, fmt.Errorf("session: no active recording")
	}
	rec := r.active
	rec.EndedAt = time.Now().UTC()
	r.active = nil
	r.logger.Info().
		Str("recording_id", rec.ID).
		Int("calls", len(rec.Calls)).
		Msg("recording stopped")
	return rec, nil
}

// Active reports the id of the running recording, if any.
func (r *Recorder) Active() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return "", false
	}
	return r.active.ID, true
}

// Len returns how many calls the active recording holds.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return 0
	}
	return len(r.active.Calls)
}
