// Package monitor runs the poll loop that ties the scheduler to the lights.
//
// Each poll queries the activity source, diffs the active node set into the
// indicator bank and hands the partition flags to the animation engine. The
// engine renders on its own goroutine; the poll loop never waits on it.
package monitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/slurmled/internal/activity"
	"github.com/Iron-Ham/slurmled/internal/animation"
	"github.com/Iron-Ham/slurmled/internal/comet"
	"github.com/Iron-Ham/slurmled/internal/errors"
	"github.com/Iron-Ham/slurmled/internal/event"
	"github.com/Iron-Ham/slurmled/internal/hardware"
	"github.com/Iron-Ham/slurmled/internal/indicator"
	"github.com/Iron-Ham/slurmled/internal/logging"
)

// Defaults for the poll loop.
const (
	DefaultPollInterval   = 5 * time.Second
	DefaultDiagnosePause  = time.Second
	DefaultReleaseTimeout = time.Second
)

// Banner is the descriptive information logged when monitoring starts.
type Banner struct {
	Host      string
	Container string
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger. A nil logger is replaced with a no-op logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithBus publishes poll.completed events on bus.
func WithBus(bus *event.Bus) Option {
	return func(m *Monitor) {
		m.bus = bus
	}
}

// WithStrip attaches the animation engine and the strip it draws on.
// partitions[i] is the partition that lights comet i. The strip is released
// during shutdown after the engine has stopped.
func WithStrip(engine *animation.Engine, strip hardware.StripWriter, partitions []string) Option {
	return func(m *Monitor) {
		m.engine = engine
		m.strip = strip
		m.partitions = make([]string, len(partitions))
		for i, p := range partitions {
			m.partitions[i] = strings.ToLower(strings.TrimSpace(p))
		}
	}
}

// WithPollInterval sets the time between polls. Non-positive values are
// ignored.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithStartupTest controls whether Run plays the LED test sequence before
// the first poll.
func WithStartupTest(enabled bool) Option {
	return func(m *Monitor) {
		m.startupTest = enabled
	}
}

// WithDiagnosePause sets how long Diagnose waits between the test sequence
// and cleanup.
func WithDiagnosePause(d time.Duration) Option {
	return func(m *Monitor) {
		m.diagnosePause = d
	}
}

// WithReleaseTimeout bounds how long shutdown waits for the strip to be
// released. Non-positive values are ignored.
func WithReleaseTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.releaseTimeout = d
		}
	}
}

// WithBanner sets the scheduler details shown in the startup log.
func WithBanner(b Banner) Option {
	return func(m *Monitor) {
		m.banner = b
	}
}

// Monitor owns the source, the bank and, optionally, the strip engine for
// the duration of Run or Diagnose.
type Monitor struct {
	source     activity.Source
	bank       *indicator.Bank
	engine     *animation.Engine
	strip      hardware.StripWriter
	partitions []string

	logger         *logging.Logger
	bus            *event.Bus
	banner         Banner
	startupTest    bool
	diagnosePause  time.Duration
	releaseTimeout time.Duration

	mu       sync.Mutex
	interval time.Duration
	reset    chan struct{}

	seq      int
	shutdown sync.Once
}

// New creates a Monitor. The source and bank must be non-nil.
func New(source activity.Source, bank *indicator.Bank, opts ...Option) *Monitor {
	if source == nil {
		panic("monitor: activity source must not be nil")
	}
	if bank == nil {
		panic("monitor: indicator bank must not be nil")
	}

	m := &Monitor{
		source:         source,
		bank:           bank,
		logger:         logging.NopLogger(),
		interval:       DefaultPollInterval,
		startupTest:    true,
		diagnosePause:  DefaultDiagnosePause,
		releaseTimeout: DefaultReleaseTimeout,
		reset:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.NopLogger()
	}
	return m
}

// PollInterval returns the current time between polls.
func (m *Monitor) PollInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// SetPollInterval changes the time between polls. A running loop re-arms
// its wait with the new interval without polling early.
func (m *Monitor) SetPollInterval(d time.Duration) error {
	if d <= 0 {
		return errors.NewValidationError("poll interval must be positive").
			WithField("poll.interval_s").WithValue(d.String())
	}

	m.mu.Lock()
	changed := d != m.interval
	m.interval = d
	m.mu.Unlock()

	if changed {
		m.logger.Info("poll interval changed", "interval", d.String())
		select {
		case m.reset <- struct{}{}:
		default:
		}
	}
	return nil
}

// Run monitors until ctx is cancelled. An in-flight poll is allowed to
// finish. On return the engine is stopped, every LED is off and the source
// is closed, even if Run panics.
func (m *Monitor) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := m.Shutdown(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	m.logBanner()

	if m.startupTest {
		if err := m.bank.TestSequence(ctx); err != nil {
			return nil
		}
	}

	if m.engine != nil {
		m.engine.Start(ctx)
	}

	m.logger.Info("Monitoring started", "interval", m.PollInterval().String())

	for {
		m.Poll(context.WithoutCancel(ctx))

		if !m.wait(ctx) {
			m.logger.Info("Monitoring stopped")
			return nil
		}
	}
}

// Poll runs one poll cycle and returns its snapshot.
func (m *Monitor) Poll(ctx context.Context) activity.Snapshot {
	snap := activity.Poll(ctx, m.source)
	if snap.Failed() {
		m.logger.Debug("poll returned partial results", "error", snap.Err)
	}

	m.bank.Update(snap.Nodes)

	if m.engine != nil {
		m.engine.SetFlags(m.flagsFor(snap.Partitions))
	}

	m.seq++
	if m.bus != nil {
		m.bus.Publish(event.NewPollCompletedEvent(
			m.seq,
			snap.NodeList(),
			snap.PartitionList(),
			snap.Duration,
			snap.Failed(),
		))
	}
	return snap
}

// Diagnose plays the test sequence once, waits briefly with the LEDs off
// and shuts down.
func (m *Monitor) Diagnose(ctx context.Context) (err error) {
	defer func() {
		if cerr := m.Shutdown(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	m.logger.Info("Running LED diagnostic", "nodes", len(m.bank.Nodes()), "mode", string(m.bank.Mode()))

	if err := m.bank.TestSequence(ctx); err != nil {
		return err
	}

	timer := time.NewTimer(m.diagnosePause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	return nil
}

// Shutdown stops the engine, turns every LED off and releases the hardware
// and the source, in that order. Each hardware step is bounded, so a hung
// strip delays shutdown but never blocks it. Only the first call does any
// work.
func (m *Monitor) Shutdown() error {
	var err error
	m.shutdown.Do(func() {
		var errs []error

		if m.engine != nil {
			m.engine.Stop()
		}
		if m.strip != nil {
			if serr := m.releaseStrip(); serr != nil {
				m.logger.Warn("strip release failed", "error", serr)
				errs = append(errs, serr)
			}
		}
		if berr := m.bank.Cleanup(); berr != nil {
			errs = append(errs, berr)
		}
		if cerr := m.source.Close(); cerr != nil {
			m.logger.Warn("source close failed", "error", cerr)
			errs = append(errs, cerr)
		}

		err = errors.Join(errs...)
		m.logger.Info("Shutdown complete")
	})
	return err
}

// releaseStrip releases the strip, giving up after the release timeout so a
// wedged driver cannot keep the LEDs and the source from being cleaned up.
func (m *Monitor) releaseStrip() error {
	result := make(chan error, 1)
	go func() {
		result <- m.strip.Release()
	}()

	timer := time.NewTimer(m.releaseTimeout)
	defer timer.Stop()
	select {
	case err := <-result:
		return err
	case <-timer.C:
		return errors.NewTimeoutError("release strip", m.releaseTimeout)
	}
}

// flagsFor maps the active partitions onto comet categories.
func (m *Monitor) flagsFor(active map[string]bool) comet.Flags {
	var f comet.Flags
	for i, p := range m.partitions {
		f = f.With(i, active[p])
	}
	return f
}

// wait blocks for one poll interval. It returns false if ctx was cancelled.
func (m *Monitor) wait(ctx context.Context) bool {
	timer := time.NewTimer(m.PollInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-m.reset:
			timer.Reset(m.PollInterval())
		}
	}
}

func (m *Monitor) logBanner() {
	host := m.banner.Host
	if host == "" {
		host = "local"
	}
	container := m.banner.Container
	if container == "" {
		container = "none"
	}

	strip := "disabled"
	if m.engine != nil {
		strip = strings.Join(m.partitions, ",")
		if m.strip != nil {
			strip += " (" + string(m.strip.Mode()) + ")"
		}
	}

	m.logger.Info("Starting SLURM LED monitor",
		"host", host,
		"container", container,
		"nodes", strings.ToUpper(strings.Join(m.bank.Nodes(), ",")),
		"strip", strip,
		"interval", m.PollInterval().String(),
		"mode", string(m.bank.Mode()),
	)
}
