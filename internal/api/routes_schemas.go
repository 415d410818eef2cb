package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/protolens-project/protolens/internal/schema"
)

// schemaSummary is the listing row for a learned schema.
type schemaSummary struct {
	Action      string  `json:"action"`
	Category    string  `json:"category"`
	Params      int     `json:"params"`
	Occurrences int     `json:"occurrences"`
	Conflicts   int     `json:"conflicts"`
	Confidence  float64 `json:"confidence"`
	Learned     bool    `json:"learned"`
}

// handleListSchemas returns summaries of every known action schema.
func (s *Server) handleListSchemas(c *gin.Context) {
	snapshot := s.registry.Snapshot()
	out := make([]schemaSummary, 0, len(snapshot))
	for _, sch := range snapshot {
		out = append(out, schemaSummary{
			Action:      sch.Action,
			Category:    string(sch.Category),
			Params:      len(sch.Params),
			Occurrences: sch.Occurrences,
			Conflicts:   sch.Conflicts,
			Confidence:  sch.Confidence,
			Learned:     sch.Learned,
		})
	}
	c.JSON(http.StatusOK, gin.H{"schemas": out, "count": len(out)})
}

// handleGetSchema returns the full schema for one action.
func (s *Server) handleGetSchema(c *gin.Context) {
	action := c.Param("action")
	sch := s.registry.Lookup(action)
	if sch == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown action", "action": action})
		return
	}
	c.JSON(http.StatusOK, sch)
}

// handleExportSchemas returns the whole registry as a schema document.
func (s *Server) handleExportSchemas(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.Export())
}

// handleImportSchemas merges an uploaded schema document into the registry.
func (s *Server) handleImportSchemas(c *gin.Context) {
	var doc schema.Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schema document: " + err.Error()})
		return
	}

	if err := s.registry.Import(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"imported": len(doc.Schemas),
		"total":    s.registry.Len(),
	})
}
