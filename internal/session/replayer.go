package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/protolens-project/protolens/internal/util"
)

// ReplayState is the replayer lifecycle state.
type ReplayState int

const (
	ReplayIdle ReplayState = iota
	ReplayRunning
	ReplayPaused
)

func (s ReplayState) String() string {
	switch s {
	case ReplayIdle:
		return "idle"
	case ReplayRunning:
		return "running"
	case ReplayPaused:
		return "paused"
	default:
		return "invalid"
	}
}

// Replayer plays a frozen recording back through a channel, preserving call
// order and scaling the original inter-call gaps by a speed factor. Only one
// replay session runs at a time. Control requests (pause, resume, seek,
// stop) take effect at the next suspension point: while waiting out an
// inter-call gap or while paused. A call that has begun emitting is always
// delivered whole.
type Replayer struct {
	mu     sync.Mutex
	logger zerolog.Logger

	state   ReplayState
	rec     *Recording
	speed   float64
	cursor  int
	seekGen uint64

	wake chan struct{}
	stop chan struct{}
	out  chan RecordedCall
}

// NewReplayer creates an idle replayer.
func NewReplayer() *Replayer {
	return &Replayer{logger: util.ComponentLogger("replayer")}
}

// Start begins replaying a recording at the given speed. Speed 1.0 preserves
// the original timing, 2.0 halves every gap, 0 drains the recording as fast
// as the consumer reads it. The returned channel carries the calls in order
// and is closed when the replay finishes or is stopped. Start fails while a
// session is already active.
func (p *Replayer) Start(ctx context.Context, rec *Recording, speed float64) (<-chan RecordedCall, error) {
	if rec == nil {
		return nil, fmt.Errorf("session: nil recording")
	}
	if speed < 0 {
		return nil, fmt.Errorf("session: negative replay speed %v", speed)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != ReplayIdle {
		return nil, fmt.Errorf("session: replay already active (%s)", p.state)
	}
	p.state = ReplayRunning
	p.rec = rec
	p.speed = speed
	p.cursor = 0
	p.wake = make(chan struct{}, 1)
	p.stop = make(chan struct{})
	p.out = make(chan RecordedCall)

	p.logger.Info().
		Str("recording_id", rec.ID).
		Int("calls", len(rec.Calls)).
		Float64("speed", speed).
		Msg("replay started")

	go p.run(ctx, rec, p.wake, p.stop, p.out)
	return p.out, nil
}

// Pause suspends the replay before the next emission.
func (p *Replayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != ReplayRunning {
		return fmt.Errorf("session: cannot pause, replay is %s", p.state)
	}
	p.state = ReplayPaused
	p.poke()
	p.logger.Info().Msg("replay paused")
	return nil
}

// Resume continues a paused replay from the current cursor.
func (p *Replayer) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != ReplayPaused {
		return fmt.Errorf("session: cannot resume, replay is %s", p.state)
	}
	p.state = ReplayRunning
	p.poke()
	p.logger.Info().Msg("replay resumed")
	return nil
}

// Seek moves the cursor to the call with the given ordinal, or to the first
// call past it. Seeking past the end finishes the replay. Works while
// running or paused.
func (p *Replayer) Seek(ordinal uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == ReplayIdle {
		return fmt.Errorf("session: no active replay")
	}
	idx := len(p.rec.Calls)
	for i, rc := range p.rec.Calls {
		if rc.Ordinal >= ordinal {
			idx = i
			break
		}
	}
	p.cursor = idx
	p.seekGen++
	p.poke()
	p.logger.Info().Uint64("ordinal", ordinal).Int("cursor", idx).Msg("replay seek")
	return nil
}

// Stop ends the replay session. Safe to call in any state; stopping an idle
// replayer is a no-op.
func (p *Replayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == ReplayIdle {
		return
	}
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
}

// State reports the current lifecycle state.
func (p *Replayer) State() ReplayState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Position reports the ordinal of the next call to emit, or 0 when idle or
// finished.
func (p *Replayer) Position() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == ReplayIdle || p.cursor >= len(p.rec.Calls) {
		return 0
	}
	return p.rec.Calls[p.cursor].Ordinal
}

// poke wakes the replay goroutine out of a wait. Caller holds the lock.
func (p *Replayer) poke() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Replayer) run(ctx context.Context, rec *Recording, wake <-chan struct{}, stop <-chan struct{}, out chan<- RecordedCall) {
	defer func() {
		p.mu.Lock()
		p.state = ReplayIdle
		p.rec = nil
		p.mu.Unlock()
		close(out)
		p.logger.Info().Str("recording_id", rec.ID).Msg("replay finished")
	}()

	for {
		p.mu.Lock()
		state := p.state
		cursor := p.cursor
		speed := p.speed
		gen := p.seekGen
		p.mu.Unlock()

		if cursor >= len(rec.Calls) {
			return
		}

		if state == ReplayPaused {
			select {
			case <-wake:
				continue
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}

		if d := p.gap(rec, cursor, speed); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-timer.C:
			case <-wake:
				timer.Stop()
				continue
			case <-stop:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			}
			// A pause or seek may have landed while the timer fired.
			p.mu.Lock()
			interrupted := p.state == ReplayPaused || p.seekGen != gen
			p.mu.Unlock()
			if interrupted {
				continue
			}
		}

		select {
		case out <- rec.Calls[cursor]:
		case <-stop:
			return
		case <-ctx.Done():
			return
		}

		p.mu.Lock()
		if p.seekGen == gen {
			p.cursor = cursor + 1
		}
		p.mu.Unlock()
	}
}

// gap returns the scaled delay before emitting the call at cursor. The first
// call and speed 0 emit immediately.
func (p *Replayer) gap(rec *Recording, cursor int, speed float64) time.Duration {
	if cursor == 0 || speed == 0 {
		return 0
	}
	prev := rec.Calls[cursor-1].At
	next := rec.Calls[cursor].At
	if !next.After(prev) {
		return 0
	}
	return time.Duration(float64(next.Sub(prev)) / speed)
}
