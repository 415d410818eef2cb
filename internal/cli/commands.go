// Package cli implements the interactive command-line interface for
// protolens: schema inspection, session recording and replay control,
// frame synthesis, and capture dump loading.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/protolens-project/protolens/internal/amf"
	"github.com/protolens-project/protolens/internal/capture"
	"github.com/protolens-project/protolens/internal/config"
	"github.com/protolens-project/protolens/internal/events"
	"github.com/protolens-project/protolens/internal/pipeline"
	"github.com/protolens-project/protolens/internal/schema"
	"github.com/protolens-project/protolens/internal/session"
	"github.com/protolens-project/protolens/internal/store"
	"github.com/protolens-project/protolens/internal/synth"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus

	registry    *schema.Registry
	store       *store.Store
	pipe        *pipeline.Pipeline
	recorder    *session.Recorder
	replay      *pipeline.ReplayManager
	synthesizer *synth.Synthesizer
}

// Deps bundles the runtime components the CLI drives.
type Deps struct {
	Registry    *schema.Registry
	Store       *store.Store
	Pipeline    *pipeline.Pipeline
	Recorder    *session.Recorder
	Replay      *pipeline.ReplayManager
	Synthesizer *synth.Synthesizer
}

// NewCLI creates a new CLI handler.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, deps Deps) *CLI {
	return &CLI{
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

// Start begins the interactive CLI loop.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nprotolens CLI ready. Type 'help' for available commands.")
	fmt.Println("─────────────────────────────────────────────────────")

	scanner := bufio.NewScanner(os.Stdin)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("protolens> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				log.Warn().Err(err).Msg("CLI input error")
			}
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(ctx, cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "schemas":
		c.printSchemas()
	case "schema":
		return c.cmdSchema(args)
	case "sessions":
		return c.cmdSessions()
	case "record":
		return c.cmdRecord(ctx, args)
	case "replay":
		return c.cmdReplay(ctx, args)
	case "pause":
		return c.replay.Pause()
	case "resume":
		return c.replay.Resume()
	case "seek":
		return c.cmdSeek(args)
	case "stop":
		c.replay.Stop()
		fmt.Println("Replay stop requested")
	case "synth":
		return c.cmdSynth(args)
	case "load":
		return c.cmdLoad(args)
	case "stats", "s":
		c.printStats()
	case "quit", "exit", "q":
		fmt.Println("Shutting down protolens...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Println("\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                    protolens CLI Commands                    ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════╣")
	fmt.Println("║  schemas             List learned action schemas            ║")
	fmt.Println("║  schema <action>     Show one schema in detail              ║")
	fmt.Println("║  sessions            List persisted recordings              ║")
	fmt.Println("║  record start|stop   Control the session recorder           ║")
	fmt.Println("║  replay <id> [speed] Replay a recording                     ║")
	fmt.Println("║  pause / resume      Suspend / continue the replay          ║")
	fmt.Println("║  seek <ordinal>      Jump the replay cursor                 ║")
	fmt.Println("║  stop                Cancel the replay                      ║")
	fmt.Println("║  synth <action> <j>  Synthesize a frame from JSON params    ║")
	fmt.Println("║  load <file>         Ingest a capture dump file             ║")
	fmt.Println("║  stats               Show pipeline statistics               ║")
	fmt.Println("║  quit                Shutdown protolens                     ║")
	fmt.Println("║  help                Show this help message                 ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

// printSchemas displays the registry snapshot in a formatted table.
func (c *CLI) printSchemas() {
	snapshot := c.registry.Snapshot()
	if len(snapshot) == 0 {
		fmt.Println("No schemas learned yet")
		return
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Action", "Category", "Params", "Samples", "Conflicts", "Confidence", "Learned"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, sch := range snapshot {
		learned := "no"
		if sch.Learned {
			learned = "yes"
		}
		tw.Append([]string{
			sch.Action,
			string(sch.Category),
			strconv.Itoa(len(sch.Params)),
			strconv.Itoa(sch.Occurrences),
			strconv.Itoa(sch.Conflicts),
			fmt.Sprintf("%.2f", sch.Confidence),
			learned,
		})
	}

	tw.Render()
	fmt.Println()
}

// cmdSchema prints detailed info for a single action schema.
func (c *CLI) cmdSchema(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: schema <action>")
	}

	sch := c.registry.Lookup(args[0])
	if sch == nil {
		return fmt.Errorf("unknown action %q", args[0])
	}

	fmt.Printf("\n  Action:      %s\n", sch.Action)
	fmt.Printf("  Category:    %s\n", sch.Category)
	fmt.Printf("  Samples:     %d\n", sch.Occurrences)
	fmt.Printf("  Conflicts:   %d\n", sch.Conflicts)
	fmt.Printf("  Confidence:  %.3f\n", sch.Confidence)
	fmt.Printf("  Learned:     %v\n", sch.Learned)
	fmt.Printf("  First seen:  %s\n", sch.FirstSeenAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Last seen:   %s\n", sch.LastSeenAt.Format("2006-01-02 15:04:05"))

	if len(sch.Params) > 0 {
		fmt.Println("  Parameters:")
		tw := tablewriter.NewWriter(os.Stdout)
		tw.SetHeader([]string{"Name", "Type", "Required", "Seen"})
		tw.SetBorder(false)
		for _, p := range sch.Params {
			required := ""
			if p.Required {
				required = "yes"
			}
			tw.Append([]string{p.Name, p.Type.String(), required, strconv.Itoa(p.Seen)})
		}
		tw.Render()
	}

	if len(sch.ResponseFields) > 0 {
		fmt.Printf("  Response fields: %s\n", strings.Join(sch.ResponseFields, ", "))
	}
	fmt.Println()
	return nil
}

// cmdSessions lists persisted recordings.
func (c *CLI) cmdSessions() error {
	summaries, err := c.store.ListRecordings()
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("No recordings persisted yet")
		return nil
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"ID", "Started", "Ended", "Calls"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, r := range summaries {
		tw.Append([]string{
			r.ID,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.EndedAt.Format("2006-01-02 15:04:05"),
			strconv.Itoa(r.Calls),
		})
	}

	tw.Render()
	fmt.Println()
	return nil
}

// cmdRecord controls the session recorder.
func (c *CLI) cmdRecord(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: record start|stop")
	}

	switch strings.ToLower(args[0]) {
	case "start":
		id, err := c.recorder.Start()
		if err != nil {
			return err
		}
		fmt.Printf("Recording started: %s\n", id)
	case "stop":
		rec, err := c.recorder.Stop()
		if err != nil {
			return err
		}
		if err := c.store.SaveRecording(rec); err != nil {
			return err
		}
		fmt.Printf("Recording stopped: %s (%d calls)\n", rec.ID, len(rec.Calls))
	default:
		return fmt.Errorf("usage: record start|stop")
	}
	return nil
}

// cmdReplay starts replaying a persisted recording.
func (c *CLI) cmdReplay(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: replay <recording-id> [speed]")
	}

	speed := c.cfg.GetEngine().DefaultSpeed
	if len(args) > 1 {
		parsed, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid speed: %s", args[1])
		}
		speed = parsed
	}

	if err := c.replay.Start(ctx, args[0], speed); err != nil {
		return err
	}
	fmt.Printf("Replay started: %s at %.1fx\n", args[0], speed)
	return nil
}

// cmdSeek jumps the replay cursor.
func (c *CLI) cmdSeek(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: seek <ordinal>")
	}
	ordinal, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid ordinal: %s", args[0])
	}
	return c.replay.Seek(ordinal)
}

// cmdSynth builds a frame from an action name and JSON parameters.
func (c *CLI) cmdSynth(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: synth <action> [json-params]")
	}

	var raw map[string]interface{}
	if len(args) > 1 {
		blob := strings.Join(args[1:], " ")
		if err := json.Unmarshal([]byte(blob), &raw); err != nil {
			return fmt.Errorf("invalid JSON params: %w", err)
		}
	}

	params, err := amf.FromInterface(raw)
	if err != nil {
		return err
	}

	data, err := c.synthesizer.Synthesize(args[0], params)
	if err != nil {
		return err
	}

	fmt.Printf("Synthesized %d bytes: %x\n", len(data), data)
	return nil
}

// cmdLoad ingests a capture dump file through the pipeline.
func (c *CLI) cmdLoad(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: load <dump-file>")
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open dump: %w", err)
	}
	defer f.Close()

	var total, queued int
	err = capture.ReadDump(f, func(rec capture.DumpRecord) error {
		total++
		if c.pipe.Ingest(rec.Direction, rec.Timestamp, nil, rec.Blob) {
			queued++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("dump read failed after %d records: %w", total, err)
	}

	fmt.Printf("Loaded %d records (%d queued)\n", total, queued)
	return nil
}

// printStats shows pipeline and registry statistics.
func (c *CLI) printStats() {
	stats := c.pipe.Stats()
	state, recordingID, position, emitted := c.replay.Status()

	fmt.Printf("\n  Ingested:       %d\n", stats.Ingested)
	fmt.Printf("  Decoded:        %d\n", stats.Decoded)
	fmt.Printf("  Malformed:      %d\n", stats.Malformed)
	fmt.Printf("  Dropped:        %d\n", stats.Dropped)
	fmt.Printf("  Queued:         %d\n", stats.Queued)
	fmt.Printf("  Workers:        %d\n", stats.Workers)
	fmt.Printf("  Known actions:  %d\n", c.registry.Len())
	fmt.Printf("  Replay:         %s", state)
	if recordingID != "" {
		fmt.Printf(" (%s, position %d, emitted %d)", recordingID, position, emitted)
	}
	fmt.Println()
	fmt.Println()
}
