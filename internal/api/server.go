package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/protolens-project/protolens/internal/config"
	"github.com/protolens-project/protolens/internal/events"
	intnet "github.com/protolens-project/protolens/internal/network"
	"github.com/protolens-project/protolens/internal/pipeline"
	"github.com/protolens-project/protolens/internal/schema"
	"github.com/protolens-project/protolens/internal/session"
	"github.com/protolens-project/protolens/internal/store"
	"github.com/protolens-project/protolens/internal/synth"
)

// Server is the REST API server for protolens. It exposes the schema
// registry, session recordings, replay control, synthesis, frame ingest,
// and a live SSE stream of decoded calls.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus

	registry    *schema.Registry
	store       *store.Store
	pipe        *pipeline.Pipeline
	recorder    *session.Recorder
	replay      *pipeline.ReplayManager
	synthesizer *synth.Synthesizer

	httpServer *http.Server
	router     *gin.Engine

	// appCtx is the server lifetime context. Work that outlives a single
	// request, like replay sessions, runs on it instead of the request
	// context, which net/http cancels when the handler returns.
	appCtx context.Context
}

// Deps bundles the runtime components the API serves.
type Deps struct {
	Registry    *schema.Registry
	Store       *store.Store
	Pipeline    *pipeline.Pipeline
	Recorder    *session.Recorder
	Replay      *pipeline.ReplayManager
	Synthesizer *synth.Synthesizer
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, eventBus *events.EventBus, deps Deps) *Server {
	if cfg.GetApplication().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:         cfg,
		eventBus:    eventBus,
		registry:    deps.Registry,
		store:       deps.Store,
		pipe:        deps.Pipeline,
		recorder:    deps.Recorder,
		replay:      deps.Replay,
		synthesizer: deps.Synthesizer,
	}
}

// Start initializes and starts the API server. Blocks until the context is
// cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.appCtx = ctx
	s.router = s.buildRouter()

	appCfg := s.cfg.GetApplication()
	addr := fmt.Sprintf(":%d", appCfg.API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// SO_REUSEADDR for immediate rebinding after restart
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	appCfg := s.cfg.GetApplication()
	allowedOrigins := appCfg.API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(appCfg.API.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/diagnostics", s.handleDiagnostics)
		api.GET("/stream", s.handleStream)

		schemas := api.Group("/schemas")
		{
			schemas.GET("", s.handleListSchemas)
			schemas.GET("/export", s.handleExportSchemas)
			schemas.POST("/import", s.handleImportSchemas)
			schemas.GET("/:action", s.handleGetSchema)
		}

		sessions := api.Group("/sessions")
		{
			sessions.GET("", s.handleListSessions)
			sessions.GET("/:id", s.handleGetSession)
			sessions.DELETE("/:id", s.handleDeleteSession)
		}

		record := api.Group("/record")
		{
			record.POST("/start", s.handleRecordStart)
			record.POST("/stop", s.handleRecordStop)
			record.GET("/status", s.handleRecordStatus)
		}

		replay := api.Group("/replay")
		{
			replay.POST("/start", s.handleReplayStart)
			replay.POST("/pause", s.handleReplayPause)
			replay.POST("/resume", s.handleReplayResume)
			replay.POST("/seek", s.handleReplaySeek)
			replay.POST("/stop", s.handleReplayStop)
			replay.GET("/status", s.handleReplayStatus)
		}

		api.POST("/synthesize", s.handleSynthesize)
		api.POST("/ingest", s.handleIngest)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
