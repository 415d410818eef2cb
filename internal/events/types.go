// Package events defines event types and payloads for the protolens event system.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Pipeline events
	EventCallDecoded   EventType = "call_decoded"
	EventCallMalformed EventType = "call_malformed"
	EventFrameDropped  EventType = "frame_dropped"

	// Learner events
	EventSchemaProposed EventType = "schema_proposed"
	EventSchemaLearned  EventType = "schema_learned"
	EventSchemaConflict EventType = "schema_conflict"

	// Session events
	EventRecordingStarted EventType = "recording_started"
	EventRecordingStopped EventType = "recording_stopped"
	EventReplayStarted    EventType = "replay_started"
	EventReplayFinished   EventType = "replay_finished"

	// Synthesis events
	EventFrameSynthesized EventType = "frame_synthesized"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventNotifyMQTT    EventType = "notify_mqtt"
	EventShutdown      EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// SchemaEventPayload describes a registry change.
type SchemaEventPayload struct {
	Action     string  `json:"action"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Conflicts  int     `json:"conflicts"`
	Samples    int     `json:"samples"`
}

// RecordingEventPayload describes a recording lifecycle change.
type RecordingEventPayload struct {
	RecordingID string    `json:"recording_id"`
	Calls       int       `json:"calls"`
	At          time.Time `json:"at"`
}

// ReplayEventPayload describes a replay lifecycle change.
type ReplayEventPayload struct {
	RecordingID string  `json:"recording_id"`
	Speed       float64 `json:"speed"`
	Emitted     int     `json:"emitted"`
}

// FrameDroppedPayload is emitted when the bounded ingest queue overflows.
type FrameDroppedPayload struct {
	Sequence uint64 `json:"sequence"`
	Reason   string `json:"reason"`
}

// SynthesizedPayload describes a synthesized outbound frame.
type SynthesizedPayload struct {
	Action string `json:"action"`
	Bytes  int    `json:"bytes"`
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}
