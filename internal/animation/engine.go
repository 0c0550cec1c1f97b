package animation

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/slurmled/internal/comet"
	"github.com/Iron-Ham/slurmled/internal/errors"
	"github.com/Iron-Ham/slurmled/internal/event"
	"github.com/Iron-Ham/slurmled/internal/hardware"
	"github.com/Iron-Ham/slurmled/internal/logging"
)

// State is the lifecycle state of an Engine.
type State int

const (
	Stopped State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Engine runs the strip render loop.
//
// The activity flags are the only state shared with callers. They are held
// with a version counter behind flagsMu, which is only ever held to copy or
// overwrite the value. Phase counters belong to the render goroutine.
type Engine struct {
	renderer *comet.Renderer
	sink     hardware.StripWriter
	logger   *logging.Logger
	bus      *event.Bus
	names    []string

	frameInterval time.Duration
	idleInterval  time.Duration
	joinTimeout   time.Duration

	flagsMu sync.Mutex
	flags   comet.Flags
	version uint64

	// phases is a snapshot published by the render goroutine after each
	// frame, for observation only.
	phases atomic.Pointer[[]int]

	lifeMu sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an Engine that renders with r and writes to sink.
//
// The renderer and sink must be non-nil. Passing nil panics early to
// surface wiring bugs immediately.
func New(r *comet.Renderer, sink hardware.StripWriter, opts ...Option) *Engine {
	if r == nil {
		panic("animation: renderer must not be nil")
	}
	if sink == nil {
		panic("animation: StripWriter must not be nil")
	}

	cfg := &config{
		frameInterval: DefaultFrameInterval,
		idleInterval:  DefaultIdleInterval,
		joinTimeout:   DefaultJoinTimeout,
		logger:        logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.frameInterval <= 0 {
		cfg.frameInterval = DefaultFrameInterval
	}
	if cfg.idleInterval <= 0 {
		cfg.idleInterval = DefaultIdleInterval
	}
	if cfg.joinTimeout <= 0 {
		cfg.joinTimeout = DefaultJoinTimeout
	}
	if cfg.logger == nil {
		cfg.logger = logging.NopLogger()
	}

	e := &Engine{
		renderer:      r,
		sink:          sink,
		logger:        cfg.logger,
		bus:           cfg.bus,
		names:         cfg.names,
		frameInterval: cfg.frameInterval,
		idleInterval:  cfg.idleInterval,
		joinTimeout:   cfg.joinTimeout,
	}
	initial := make([]int, r.Comets())
	e.phases.Store(&initial)
	return e
}

// Start launches the render loop. It returns immediately and is a no-op
// unless the engine is Stopped.
func (e *Engine) Start(ctx context.Context) {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	if e.state != Stopped {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done
	e.state = Running

	phases := *e.phases.Load()
	go e.loop(ctx, done, phases)

	e.logger.Info("animation started",
		"leds", e.renderer.Length(),
		"frame_interval", e.frameInterval.String())
}

// Stop signals the render loop to exit, waits up to the join timeout for it
// and then writes one all-off frame, also bounded by the join timeout. A
// sink that stays hung is logged and abandoned, so Stop returns within two
// join timeouts. Stop is safe to call repeatedly and before Start.
func (e *Engine) Stop() {
	e.lifeMu.Lock()
	if e.state != Running {
		e.lifeMu.Unlock()
		return
	}
	e.state = Stopping
	cancel, done := e.cancel, e.done
	e.lifeMu.Unlock()

	cancel()

	if !e.await(done) {
		err := errors.NewTimeoutError("stop render loop", e.joinTimeout)
		e.logger.Warn("render loop did not exit in time", "error", err)
	}

	final := make(chan struct{})
	go func() {
		defer close(final)
		e.write(hardware.NewFrame(e.renderer.Length()))
	}()
	if !e.await(final) {
		err := errors.NewTimeoutError("write final frame", e.joinTimeout)
		e.logger.Warn("strip did not accept the final frame", "error", err)
	}

	e.lifeMu.Lock()
	e.state = Stopped
	e.cancel = nil
	e.done = nil
	e.lifeMu.Unlock()

	e.logger.Info("animation stopped")
}

// await waits up to the join timeout for done and reports whether it closed.
func (e *Engine) await(done <-chan struct{}) bool {
	timer := time.NewTimer(e.joinTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	return e.state
}

// UpdateState sets the normal and quantum categories (comets 0 and 1).
func (e *Engine) UpdateState(normal, quantum bool) {
	e.SetFlags(comet.FlagsOf(normal, quantum))
}

// SetFlags replaces the active category set. It logs and publishes only when
// the value differs from the current one, and reports whether it did.
func (e *Engine) SetFlags(f comet.Flags) bool {
	e.flagsMu.Lock()
	changed := f != e.flags
	if changed {
		e.flags = f
		e.version++
	}
	version := e.version
	e.flagsMu.Unlock()

	if !changed {
		return false
	}

	active := e.activeNames(f)
	e.logger.Info("strip activity changed",
		"active", active,
		"comets", f.Count(),
		"version", version)
	if e.bus != nil {
		e.bus.Publish(event.NewPartitionsChangedEvent(active, version))
	}
	return true
}

// Flags returns the current category set and its version.
func (e *Engine) Flags() (comet.Flags, uint64) {
	e.flagsMu.Lock()
	defer e.flagsMu.Unlock()
	return e.flags, e.version
}

// Phases returns the phase counters as of the last rendered frame.
func (e *Engine) Phases() []int {
	p := *e.phases.Load()
	out := make([]int, len(p))
	copy(out, p)
	return out
}

func (e *Engine) activeNames(f comet.Flags) []string {
	active := make([]string, 0, f.Count())
	for i := 0; i < e.renderer.Comets(); i++ {
		if !f.Has(i) {
			continue
		}
		if i < len(e.names) && e.names[i] != "" {
			active = append(active, e.names[i])
		} else {
			active = append(active, "comet"+strconv.Itoa(i))
		}
	}
	return active
}

func (e *Engine) loop(ctx context.Context, done chan struct{}, phases []int) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		e.flagsMu.Lock()
		flags := e.flags
		e.flagsMu.Unlock()

		wait := e.frameInterval
		var frame hardware.Frame
		if flags == 0 {
			frame = hardware.NewFrame(e.renderer.Length())
			wait = e.idleInterval
		} else {
			var drawn comet.Flags
			frame, drawn = e.renderer.Render(phases, flags)
			phases = comet.Advance(phases, drawn, e.renderer.Length())
			snapshot := phases
			e.phases.Store(&snapshot)
		}

		// Stop writes the final frame; a late write here would overwrite it.
		if ctx.Err() != nil {
			return
		}
		e.write(frame)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// write pushes one frame. Failures are logged at the severity the sink
// classified them with, unclassified failures and panics at debug level, and
// never leave the render loop.
func (e *Engine) write(frame hardware.Frame) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug("strip write panicked", "panic", r)
		}
	}()
	if err := e.sink.WriteFrame(frame); err != nil {
		e.logger.Log(severityOf(err).Level(), "strip write failed", "error", err)
	}
}

// severityOf classifies a sink failure. Errors that are not a HardwareError
// are treated as per-frame noise the next frame corrects.
func severityOf(err error) errors.Severity {
	var hwErr *errors.HardwareError
	if !errors.As(err, &hwErr) {
		return errors.SeverityDebug
	}
	return errors.GetSeverity(err)
}
