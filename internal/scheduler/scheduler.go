// Package scheduler implements background task scheduling for protolens:
// periodic autosave of the schema document and pipeline stats reporting.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/protolens-project/protolens/internal/config"
	"github.com/protolens-project/protolens/internal/pipeline"
	"github.com/protolens-project/protolens/internal/schema"
	"github.com/protolens-project/protolens/internal/store"
)

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg      *config.Config
	registry *schema.Registry
	store    *store.Store
	pipe     *pipeline.Pipeline
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg *config.Config, registry *schema.Registry, st *store.Store, pipe *pipeline.Pipeline) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		registry: registry,
		store:    st,
		pipe:     pipe,
	}
}

// Start begins running all scheduled tasks and blocks until the context is
// cancelled. A final autosave runs on the way out.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	if s.store != nil {
		go s.runAutosaveLoop(ctx)
	}
	go s.runStatsLoop(ctx)

	<-ctx.Done()

	if s.store != nil {
		s.saveSchemas()
	}
	log.Info().Msg("scheduler stopped")
}

// runAutosaveLoop persists the schema document on the configured interval.
func (s *Scheduler) runAutosaveLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.GetApplication().Timers.AutosaveInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.saveSchemas()
		}
	}
}

// saveSchemas exports the registry and writes it to the store.
func (s *Scheduler) saveSchemas() {
	doc := s.registry.Export()
	if err := s.store.SaveSchemaDocument(doc); err != nil {
		log.Warn().Err(err).Msg("schema autosave failed")
		return
	}
	log.Debug().Int("entries", len(doc.Schemas)).Msg("schema document autosaved")
}

// runStatsLoop logs pipeline counters on the configured interval.
func (s *Scheduler) runStatsLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.GetApplication().Timers.StatsInterval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.pipe.Stats()
			log.Info().
				Uint64("ingested", stats.Ingested).
				Uint64("decoded", stats.Decoded).
				Uint64("malformed", stats.Malformed).
				Uint64("dropped", stats.Dropped).
				Int("queued", stats.Queued).
				Int("known_actions", s.registry.Len()).
				Msg("pipeline stats")
		}
	}
}
