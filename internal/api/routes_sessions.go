package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// handleListSessions returns summaries of all persisted recordings.
func (s *Server) handleListSessions(c *gin.Context) {
	summaries, err := s.store.ListRecordings()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": summaries, "count": len(summaries)})
}

// handleGetSession exports one recording as its full ordered document.
func (s *Server) handleGetSession(c *gin.Context) {
	id := c.Param("id")
	rec, err := s.store.LoadRecording(id)
	if err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// handleDeleteSession removes a persisted recording.
func (s *Server) handleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := s.store.DeleteRecording(id); err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
