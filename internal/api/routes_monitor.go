package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/protolens-project/protolens/internal/events"
	"github.com/protolens-project/protolens/internal/util"
)

// handlePing is a liveness check.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// handleDiagnostics reports pipeline counters, registry size, and host info.
func (s *Server) handleDiagnostics(c *gin.Context) {
	diag := gin.H{
		"pipeline":      s.pipe.Stats(),
		"known_actions": s.registry.Len(),
		"system":        util.GetSystemInfo(),
	}

	if cpu, err := util.GetCPUUsage(); err == nil {
		diag["cpu_percent"] = cpu
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		diag["memory"] = mem
	}

	c.JSON(http.StatusOK, diag)
}

// handleStream is a server-sent-events feed of decoded calls. Each client
// gets its own buffered subscription; slow clients drop events rather than
// stalling the bus.
func (s *Server) handleStream(c *gin.Context) {
	feed := make(chan events.Event, 256)
	name := "api.stream." + uuid.NewString()

	forward := func(ctx context.Context, event events.Event) error {
		select {
		case feed <- event:
		default:
		}
		return nil
	}
	s.eventBus.Subscribe(events.EventCallDecoded, name, forward)
	s.eventBus.Subscribe(events.EventCallMalformed, name, forward)
	defer func() {
		s.eventBus.Unsubscribe(events.EventCallDecoded, name)
		s.eventBus.Unsubscribe(events.EventCallMalformed, name)
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case event := <-feed:
			c.SSEvent(string(event.Type), event.Payload)
			return true
		case <-clientGone:
			return false
		case <-s.eventBus.StopCh():
			return false
		}
	})
}
