// Protolens - Protocol Analysis Engine
//
// Protolens decodes, classifies, and replays the binary RPC protocol used
// by Flash-era strategy game clients. It learns per-action parameter
// schemas from observed traffic, records and replays capture sessions with
// original timing, and synthesizes schema-checked frames for injection.
// A REST API, an SSE stream, MQTT telemetry, and an interactive CLI sit on
// top of the decode pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/protolens-project/protolens/internal/api"
	"github.com/protolens-project/protolens/internal/classify"
	"github.com/protolens-project/protolens/internal/cli"
	"github.com/protolens-project/protolens/internal/config"
	"github.com/protolens-project/protolens/internal/events"
	"github.com/protolens-project/protolens/internal/pipeline"
	"github.com/protolens-project/protolens/internal/scheduler"
	"github.com/protolens-project/protolens/internal/schema"
	"github.com/protolens-project/protolens/internal/session"
	"github.com/protolens-project/protolens/internal/store"
	"github.com/protolens-project/protolens/internal/synth"
	"github.com/protolens-project/protolens/internal/telemetry"
	"github.com/protolens-project/protolens/internal/util"
)

const (
	AppName    = "Protolens"
	AppVersion = "1.0.0"
	Banner     = `
                 _        _
  _ __  _ __ ___| |_ ___ | | ___ _ __  ___
 | '_ \| '__/ _ \ __/ _ \| |/ _ \ '_ \/ __|
 | |_) | | | (_) | || (_) | |  __/ | | \__ \
 | .__/|_|  \___/ \__\___/|_|\___|_| |_|___/
 |_|                            v%s
 Protocol Analysis Engine
`
)

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "configuration directory")
	runSetup := flag.Bool("setup", false, "run the interactive setup wizard and exit")
	flag.Parse()

	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Protolens")

	// Load configuration
	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *runSetup {
		if err := config.RunSetupWizard(cfg); err != nil {
			log.Fatal().Err(err).Msg("setup wizard failed")
		}
		return
	}

	// Re-initialize logger with config-based settings
	appCfg := cfg.GetApplication()
	logCfg := util.LogConfig{
		Level:     appCfg.Logging.Level,
		Directory: appCfg.Logging.Directory,
		Console:   true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	// Validate configuration
	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, fix the errors above or rerun with -setup")
	}

	// Log system info
	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize core components
	eventBus := events.NewEventBus()

	engCfg := cfg.GetEngine()

	st, err := store.Open(appCfg.Storage.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}

	registry := schema.NewRegistry(schema.Options{
		MinSamples:   engCfg.MinSamples,
		MaxExamples:  engCfg.MaxExamples,
		BasePenalty:  engCfg.BasePenalty,
		ConflictBump: engCfg.ConflictBump,
	})

	// Restore schemas learned in previous runs
	if doc := st.LoadSchemaDocument(); doc != nil {
		if err := registry.Import(doc); err != nil {
			log.Warn().Err(err).Msg("failed to import persisted schemas, starting fresh")
		} else {
			log.Info().Int("actions", registry.Len()).Msg("restored learned schemas")
		}
	}

	rules, err := classify.LoadRules(engCfg.RulesFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", engCfg.RulesFile).Msg("failed to load classification rules")
	}
	classifier := classify.NewClassifier(rules)

	recorder := session.NewRecorder()

	pipe := pipeline.New(pipeline.Options{
		QueueSize: engCfg.QueueSize,
		Workers:   engCfg.Workers,
		MaxDepth:  engCfg.MaxDecodeDepth,
	}, classifier, registry, recorder, eventBus)

	replayMgr := pipeline.NewReplayManager(registry, st, eventBus)

	synthesizer := synth.NewSynthesizer(registry, synth.Options{
		Strict:   engCfg.StrictSynthesis,
		MaxDepth: engCfg.MaxDecodeDepth,
	})

	deps := api.Deps{
		Registry:    registry,
		Store:       st,
		Pipeline:    pipe,
		Recorder:    recorder,
		Replay:      replayMgr,
		Synthesizer: synthesizer,
	}

	var apiServer *api.Server
	if appCfg.API.Enabled {
		apiServer = api.NewServer(cfg, eventBus, deps)
	}

	var mqttHandler *telemetry.MQTTHandler
	if appCfg.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	sched := scheduler.NewScheduler(cfg, registry, st, pipe)

	cliHandler := cli.NewCLI(cfg, eventBus, cli.Deps{
		Registry:    registry,
		Store:       st,
		Pipeline:    pipe,
		Recorder:    recorder,
		Replay:      replayMgr,
		Synthesizer: synthesizer,
	})

	// ---------------------------------------------------------------
	// Launch all concurrent tasks
	// ---------------------------------------------------------------
	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Task 1: decode pipeline worker pool
	log.Info().Int("workers", pipe.Stats().Workers).Msg("starting decode pipeline")
	pipe.Start(ctx)

	// Task 2: REST API server
	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", appCfg.API.Port).Msg("starting REST API server")
			if err := apiServer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("API server failed")
				errCh <- fmt.Errorf("api server: %w", err)
			}
		}()
	}

	// Task 3: MQTT telemetry
	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// Task 4: scheduler (schema autosave, stats)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	// Task 5: interactive CLI
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting interactive CLI")
		cliHandler.Start(ctx)
	}()

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	shutdownCh := make(chan struct{})
	eventBus.Subscribe(events.EventShutdown, "main", func(ctx context.Context, e events.Event) error {
		select {
		case <-shutdownCh:
		default:
			close(shutdownCh)
		}
		return nil
	})

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	// Cancel the root context to signal all goroutines
	cancel()

	// Stop the replay and the pipeline; workers finish in-flight frames
	replayMgr.Stop()
	pipe.Stop()

	// Flush learned schemas and any active recording before exit
	if err := st.SaveSchemaDocument(registry.Export()); err != nil {
		log.Warn().Err(err).Msg("failed to save schemas on shutdown")
	}
	if rec, err := recorder.Stop(); err == nil {
		if err := st.SaveRecording(rec); err != nil {
			log.Warn().Err(err).Str("recording_id", rec.ID).Msg("failed to save active recording on shutdown")
		} else {
			log.Info().Str("recording_id", rec.ID).Int("calls", len(rec.Calls)).Msg("saved active recording")
		}
	}

	// Wait for all goroutines with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	// Stop the event bus last
	eventBus.Stop()

	if err := st.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close store")
	}

	log.Info().Msg("Protolens stopped")
}
