// Package capture turns raw byte blobs handed in by the external capture
// transport into codec-ready frames. It only strips the transport envelope;
// payload bytes are passed through untouched and never interpreted here.
package capture

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/protolens-project/protolens/internal/util"
)

// Direction indicates which way a captured frame travelled.
type Direction uint8

const (
	Outbound Direction = iota // client -> server
	Inbound                   // server -> client
)

// String returns the lowercase direction name.
func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// MarshalJSON serializes Direction as a JSON string.
func (d Direction) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON parses the string form written by MarshalJSON. Persisted
// recordings depend on this surviving a round trip.
func (d *Direction) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"outbound"`:
		*d = Outbound
	case `"inbound"`:
		*d = Inbound
	default:
		return fmt.Errorf("capture: invalid direction %s", data)
	}
	return nil
}

// Envelope layout: 4-byte big-endian payload length followed by a 2-byte
// big-endian channel id, then the payload itself.
const (
	envelopeHeaderSize = 6
	// MaxFrameSize bounds a single captured payload. Anything larger is a
	// corrupt capture, not real traffic.
	MaxFrameSize = 1 << 20
)

// Frame is one captured wire frame after envelope stripping. Frames are
// immutable once created.
type Frame struct {
	Direction Direction         `json:"direction"`
	Timestamp time.Time         `json:"timestamp"`
	Sequence  uint64            `json:"sequence"`
	Payload   []byte            `json:"payload"`
	Meta      map[string]string `json:"meta,omitempty"`

	// Truncated marks frames whose envelope could not be fully parsed.
	// They are kept so diagnostics can show them instead of losing them.
	Truncated bool `json:"truncated,omitempty"`
}

// EnvelopeError reports an envelope too short or inconsistent to contain
// the payload it declares.
type EnvelopeError struct {
	Reason string
	Have   int
	Want   int
}

// Error implements the error interface.
func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("capture: %s (have %d bytes, want %d)", e.Reason, e.Have, e.Want)
}

// Adapter assigns monotonic sequence ordinals and strips envelopes. It is
// fed by a single producer (the transport callback), which is what keeps
// arrival order intact downstream.
type Adapter struct {
	logger zerolog.Logger
	seq    atomic.Uint64
}

// NewAdapter creates a frame adapter.
func NewAdapter() *Adapter {
	return &Adapter{logger: util.ComponentLogger("capture")}
}

// Adapt strips the transport envelope from a raw captured blob. On envelope
// errors the frame is still returned, flagged Truncated with the raw bytes
// as payload, alongside the error.
func (a *Adapter) Adapt(raw []byte, dir Direction, ts time.Time, meta map[string]string) (Frame, error) {
	frame := Frame{
		Direction: dir,
		Timestamp: ts,
		Sequence:  a.seq.Add(1),
		Meta:      meta,
	}

	if len(raw) < envelopeHeaderSize {
		frame.Truncated = true
		frame.Payload = append([]byte(nil), raw...)
		a.logger.Debug().Int("len", len(raw)).Msg("envelope shorter than header")
		return frame, &EnvelopeError{Reason: "envelope shorter than header", Have: len(raw), Want: envelopeHeaderSize}
	}

	declared := int(binary.BigEndian.Uint32(raw[:4]))
	channel := binary.BigEndian.Uint16(raw[4:6])

	if declared > MaxFrameSize {
		frame.Truncated = true
		frame.Payload = append([]byte(nil), raw[envelopeHeaderSize:]...)
		return frame, &EnvelopeError{Reason: "declared length exceeds frame cap", Have: declared, Want: MaxFrameSize}
	}
	if declared > len(raw)-envelopeHeaderSize {
		frame.Truncated = true
		frame.Payload = append([]byte(nil), raw[envelopeHeaderSize:]...)
		return frame, &EnvelopeError{Reason: "payload shorter than declared length", Have: len(raw) - envelopeHeaderSize, Want: declared}
	}

	if frame.Meta == nil {
		frame.Meta = make(map[string]string, 1)
	}
	frame.Meta["channel"] = strconv.Itoa(int(channel))
	frame.Payload = append([]byte(nil), raw[envelopeHeaderSize:envelopeHeaderSize+declared]...)
	return frame, nil
}
