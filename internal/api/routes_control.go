package api

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/protolens-project/protolens/internal/amf"
	"github.com/protolens-project/protolens/internal/capture"
	"github.com/protolens-project/protolens/internal/events"
	"github.com/protolens-project/protolens/internal/synth"
)

// handleRecordStart begins a new recording session.
func (s *Server) handleRecordStart(c *gin.Context) {
	id, err := s.recorder.Start()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	s.eventBus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventRecordingStarted,
		Source: "api",
		Payload: events.RecordingEventPayload{
			RecordingID: id,
			At:          time.Now().UTC(),
		},
	})
	c.JSON(http.StatusOK, gin.H{"recording_id": id})
}

// handleRecordStop stops the active recording and persists it.
func (s *Server) handleRecordStop(c *gin.Context) {
	rec, err := s.recorder.Stop()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	if err := s.store.SaveRecording(rec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.eventBus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventRecordingStopped,
		Source: "api",
		Payload: events.RecordingEventPayload{
			RecordingID: rec.ID,
			Calls:       len(rec.Calls),
			At:          time.Now().UTC(),
		},
	})
	c.JSON(http.StatusOK, gin.H{"recording_id": rec.ID, "calls": len(rec.Calls)})
}

// handleRecordStatus reports whether a recording is active.
func (s *Server) handleRecordStatus(c *gin.Context) {
	id, active := s.recorder.Active()
	c.JSON(http.StatusOK, gin.H{
		"active":       active,
		"recording_id": id,
		"calls":        s.recorder.Len(),
	})
}

type replayStartRequest struct {
	RecordingID string  `json:"recording_id" binding:"required"`
	Speed       float64 `json:"speed"`
}

// handleReplayStart starts replaying a persisted recording.
func (s *Server) handleReplayStart(c *gin.Context) {
	var req replayStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Speed == 0 {
		req.Speed = s.cfg.GetEngine().DefaultSpeed
	}

	// The replay outlives this request; the request context dies with it.
	ctx := s.appCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.replay.Start(ctx, req.RecordingID, req.Speed); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recording_id": req.RecordingID, "speed": req.Speed})
}

// handleReplayPause suspends the active replay.
func (s *Server) handleReplayPause(c *gin.Context) {
	if err := s.replay.Pause(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": "paused"})
}

// handleReplayResume continues a paused replay.
func (s *Server) handleReplayResume(c *gin.Context) {
	if err := s.replay.Resume(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": "running"})
}

type replaySeekRequest struct {
	Ordinal uint64 `json:"ordinal"`
}

// handleReplaySeek jumps the active replay to an ordinal.
func (s *Server) handleReplaySeek(c *gin.Context) {
	var req replaySeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.replay.Seek(req.Ordinal); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ordinal": req.Ordinal})
}

// handleReplayStop cancels the active replay.
func (s *Server) handleReplayStop(c *gin.Context) {
	s.replay.Stop()
	c.JSON(http.StatusOK, gin.H{"state": "stopping"})
}

// handleReplayStatus reports the replay state and progress.
func (s *Server) handleReplayStatus(c *gin.Context) {
	state, recordingID, position, emitted := s.replay.Status()
	c.JSON(http.StatusOK, gin.H{
		"state":        state,
		"recording_id": recordingID,
		"position":     position,
		"emitted":      emitted,
	})
}

type synthesizeRequest struct {
	Action string                 `json:"action" binding:"required"`
	Params map[string]interface{} `json:"params"`
}

// handleSynthesize builds an injectable frame from an action and parameters.
func (s *Server) handleSynthesize(c *gin.Context) {
	var req synthesizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params, err := amf.FromInterface(req.Params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	data, err := s.synthesizer.Synthesize(req.Action, params)
	if err != nil {
		var schemaErr *synth.SchemaError
		if errors.As(err, &schemaErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":  schemaErr.Error(),
				"kind":   schemaErr.Kind.String(),
				"action": schemaErr.Action,
				"field":  schemaErr.Field,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"action": req.Action,
		"bytes":  len(data),
		"frame":  base64.StdEncoding.EncodeToString(data),
	})
}

type ingestRequest struct {
	Direction string            `json:"direction" binding:"required"`
	Timestamp time.Time         `json:"timestamp"`
	Meta      map[string]string `json:"meta"`
	Payload   string            `json:"payload" binding:"required"` // base64 raw envelope
}

// handleIngest feeds one captured envelope into the pipeline.
func (s *Server) handleIngest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	raw, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload is not valid base64"})
		return
	}

	dir := capture.Outbound
	if req.Direction == "inbound" {
		dir = capture.Inbound
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	queued := s.pipe.Ingest(dir, ts, req.Meta, raw)
	status := http.StatusOK
	if !queued {
		status = http.StatusTooManyRequests
	}
	c.JSON(status, gin.H{"queued": queued})
}
