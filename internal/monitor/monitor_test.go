package monitor_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/slurmled/internal/activity"
	"github.com/Iron-Ham/slurmled/internal/animation"
	"github.com/Iron-Ham/slurmled/internal/comet"
	"github.com/Iron-Ham/slurmled/internal/errors"
	"github.com/Iron-Ham/slurmled/internal/event"
	"github.com/Iron-Ham/slurmled/internal/hardware"
	"github.com/Iron-Ham/slurmled/internal/indicator"
	"github.com/Iron-Ham/slurmled/internal/logging"
	"github.com/Iron-Ham/slurmled/internal/monitor"
	"github.com/Iron-Ham/slurmled/internal/testutil"
)

var testPins = map[string]int{"c1": 17, "c2": 27, "q1": 24}

var fastDelays = indicator.Delays{
	Step:    time.Millisecond,
	Pause:   time.Millisecond,
	Reverse: time.Millisecond,
	Flash:   time.Millisecond,
}

type rig struct {
	gpio   *hardware.SimulatedGPIO
	strip  *hardware.SimulatedStrip
	source *activity.StaticSource
	bank   *indicator.Bank
	engine *animation.Engine
	bus    *event.Bus
	logs   *testutil.SyncBuffer
	logger *logging.Logger
}

func newRig(t *testing.T, nodes, partitions []string) *rig {
	t.Helper()

	r := &rig{
		gpio:   hardware.NewSimulatedGPIO(nil),
		strip:  hardware.NewSimulatedStrip(30, nil),
		source: activity.NewStaticSource(nodes, partitions),
		bus:    event.NewBus(nil),
		logs:   &testutil.SyncBuffer{},
	}
	r.logger = logging.NewWriterLogger(r.logs, "debug")

	bank, err := indicator.New(r.gpio, testPins,
		indicator.WithDelays(fastDelays),
		indicator.WithLogger(r.logger),
	)
	if err != nil {
		t.Fatalf("indicator.New() error = %v", err)
	}
	r.bank = bank

	r.engine = animation.New(
		comet.NewRenderer(30, 5, hardware.Green, hardware.Blue),
		r.strip,
		animation.WithFrameInterval(2*time.Millisecond),
		animation.WithIdleInterval(5*time.Millisecond),
		animation.WithJoinTimeout(200*time.Millisecond),
	)
	return r
}

func (r *rig) monitor(opts ...monitor.Option) *monitor.Monitor {
	base := []monitor.Option{
		monitor.WithStrip(r.engine, r.strip, []string{"normal", "quantum"}),
		monitor.WithBus(r.bus),
		monitor.WithLogger(r.logger),
		monitor.WithStartupTest(false),
		monitor.WithPollInterval(10 * time.Millisecond),
	}
	return monitor.New(r.source, r.bank, append(base, opts...)...)
}

func TestNew_NilArgumentsPanic(t *testing.T) {
	r := newRig(t, nil, nil)

	for name, fn := range map[string]func(){
		"nil source": func() { monitor.New(nil, r.bank) },
		"nil bank":   func() { monitor.New(r.source, nil) },
	} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			fn()
		})
	}
}

func TestPoll_DrivesLEDsAndFlags(t *testing.T) {
	r := newRig(t, []string{"C1", "q1", "gpu9"}, []string{"quantum"})
	m := r.monitor()

	snap := m.Poll(context.Background())

	if snap.Failed() {
		t.Fatalf("unexpected poll error: %v", snap.Err)
	}
	if !r.gpio.State(17) || r.gpio.State(27) || !r.gpio.State(24) {
		t.Errorf("LED state c1=%v c2=%v q1=%v, want on/off/on",
			r.gpio.State(17), r.gpio.State(27), r.gpio.State(24))
	}
	flags, version := r.engine.Flags()
	if flags != comet.FlagsOf(false, true) {
		t.Errorf("Flags() = %b, want quantum only", flags)
	}
	if version != 1 {
		t.Errorf("version = %d, want 1", version)
	}
}

func TestPoll_RepeatedSnapshotIsIdempotent(t *testing.T) {
	r := newRig(t, []string{"c1"}, []string{"normal"})
	m := r.monitor()

	m.Poll(context.Background())
	writes := r.gpio.Writes()
	_, version := r.engine.Flags()

	m.Poll(context.Background())
	m.Poll(context.Background())

	if got := r.gpio.Writes(); got != writes {
		t.Errorf("Writes() = %d after identical polls, want %d", got, writes)
	}
	if _, v := r.engine.Flags(); v != version {
		t.Errorf("version = %d after identical polls, want %d", v, version)
	}
}

func TestPoll_FailureReadsAsIdle(t *testing.T) {
	r := newRig(t, []string{"c1", "c2"}, []string{"normal"})
	m := r.monitor()

	m.Poll(context.Background())
	if !r.gpio.State(17) {
		t.Fatal("c1 should be lit after the first poll")
	}

	r.source.Fail(errors.New("ssh: connection refused"))
	snap := m.Poll(context.Background())

	if !snap.Failed() {
		t.Error("snapshot should report the failure")
	}
	if r.gpio.State(17) || r.gpio.State(27) {
		t.Error("a failed poll should turn the LEDs off")
	}
	if flags, _ := r.engine.Flags(); flags != 0 {
		t.Errorf("Flags() = %b, want none", flags)
	}
}

func TestPoll_PublishesPollCompleted(t *testing.T) {
	r := newRig(t, []string{"q1", "c2"}, []string{"normal", "debug"})
	m := r.monitor()

	var (
		mu  sync.Mutex
		got []event.PollCompletedEvent
	)
	r.bus.Subscribe(event.TypePollCompleted, func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.(event.PollCompletedEvent))
	})

	m.Poll(context.Background())
	m.Poll(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Seq != 1 || got[1].Seq != 2 {
		t.Errorf("Seq = %d, %d, want 1, 2", got[0].Seq, got[1].Seq)
	}
	if strings.Join(got[0].ActiveNodes, ",") != "c2,q1" {
		t.Errorf("ActiveNodes = %v, want sorted [c2 q1]", got[0].ActiveNodes)
	}
	if strings.Join(got[0].Partitions, ",") != "debug,normal" {
		t.Errorf("Partitions = %v", got[0].Partitions)
	}
	if got[0].Failed {
		t.Error("Failed = true, want false")
	}
}

func TestPoll_WithoutStrip(t *testing.T) {
	r := newRig(t, []string{"c2"}, []string{"normal"})
	m := monitor.New(r.source, r.bank, monitor.WithStartupTest(false))

	m.Poll(context.Background())

	if !r.gpio.State(27) {
		t.Error("c2 should be lit")
	}
	if err := m.Shutdown(); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if r.strip.Released() {
		t.Error("an unattached strip must not be touched")
	}
}

func TestRun_CancelCleansUp(t *testing.T) {
	r := newRig(t, []string{"c1"}, []string{"normal"})
	m := r.monitor()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	testutil.WaitFor(t, "c1 lit", func() bool { return r.gpio.State(17) })
	testutil.WaitFor(t, "strip lit", func() bool { return !r.strip.Last().IsDark() })
	testutil.WaitFor(t, "several polls", func() bool { return r.source.Calls() >= 6 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if r.engine.State() != animation.Stopped {
		t.Errorf("engine state = %v, want stopped", r.engine.State())
	}
	if !r.strip.Released() || !r.strip.Last().IsDark() {
		t.Error("strip should be dark and released")
	}
	if !r.gpio.Released() || r.gpio.State(17) {
		t.Error("GPIO should be off and released")
	}
	if !r.source.Closed() {
		t.Error("source should be closed")
	}

	logs := r.logs.String()
	for _, want := range []string{"Starting SLURM LED monitor", "Monitoring stopped", "Shutdown complete"} {
		if !strings.Contains(logs, want) {
			t.Errorf("logs missing %q", want)
		}
	}
}

// gatedSource holds its first ActiveNodes call until gate is closed.
type gatedSource struct {
	*activity.StaticSource
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (s *gatedSource) ActiveNodes(ctx context.Context) (map[string]bool, error) {
	s.once.Do(func() {
		close(s.entered)
		<-s.gate
	})
	return s.StaticSource.ActiveNodes(ctx)
}

func TestRun_InFlightPollCompletesAfterCancel(t *testing.T) {
	r := newRig(t, []string{"c1"}, []string{"normal"})
	src := &gatedSource{
		StaticSource: r.source,
		entered:      make(chan struct{}),
		gate:         make(chan struct{}),
	}
	m := monitor.New(src, r.bank,
		monitor.WithStrip(r.engine, r.strip, []string{"normal", "quantum"}),
		monitor.WithBus(r.bus),
		monitor.WithLogger(r.logger),
		monitor.WithStartupTest(false),
		monitor.WithPollInterval(10*time.Millisecond),
	)

	type observed struct{ lit, closed, failed bool }
	var (
		mu   sync.Mutex
		seen []observed
	)
	r.bus.Subscribe(event.TypePollCompleted, func(e event.Event) {
		ev := e.(event.PollCompletedEvent)
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, observed{lit: r.gpio.State(17), closed: r.source.Closed(), failed: ev.Failed})
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-src.entered:
	case <-time.After(testutil.WaitTimeout):
		t.Fatal("first poll never started")
	}
	cancel()

	time.Sleep(20 * time.Millisecond)
	if r.source.Closed() || r.gpio.Released() {
		t.Fatal("cleanup ran while a poll was still in flight")
	}
	close(src.gate)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the poll finished")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Fatalf("got %d completed polls, want exactly the in-flight one", len(seen))
	}
	if got := seen[0]; got.failed || !got.lit || got.closed {
		t.Errorf("in-flight poll = %+v, want a successful update applied before cleanup", got)
	}
	if !r.source.Closed() || !r.gpio.Released() || r.gpio.State(17) {
		t.Error("cleanup should run after the poll")
	}
}

func TestRun_StartupTestRunsFirst(t *testing.T) {
	r := newRig(t, []string{"c1"}, nil)
	m := r.monitor(monitor.WithStartupTest(true))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	testutil.WaitFor(t, "first poll", func() bool { return r.source.Calls() >= 2 })
	cancel()
	<-done

	logs := r.logs.String()
	testIdx := strings.Index(logs, "Test sequence complete")
	startIdx := strings.Index(logs, "Monitoring started")
	if testIdx < 0 || startIdx < 0 || testIdx > startIdx {
		t.Errorf("test sequence should complete before monitoring starts:\n%s", logs)
	}
}

func TestRun_CancelledDuringStartupTest(t *testing.T) {
	r := newRig(t, []string{"c1"}, []string{"normal"})
	m := r.monitor(monitor.WithStartupTest(true))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.Run(ctx); err != nil {
		t.Errorf("Run() error = %v, want nil on cancellation", err)
	}
	if r.source.Calls() != 0 {
		t.Errorf("source queried %d times, want 0", r.source.Calls())
	}
	if !r.gpio.Released() || !r.source.Closed() {
		t.Error("cleanup should still run")
	}
}

func TestRun_IntervalReloadRearmsWait(t *testing.T) {
	r := newRig(t, []string{"c1"}, nil)
	m := r.monitor(monitor.WithPollInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	testutil.WaitFor(t, "first poll", func() bool { return r.source.Calls() >= 2 })

	if err := m.SetPollInterval(5 * time.Millisecond); err != nil {
		t.Fatalf("SetPollInterval() error = %v", err)
	}
	testutil.WaitFor(t, "polls at the new interval", func() bool { return r.source.Calls() >= 8 })

	cancel()
	<-done
}

func TestSetPollInterval(t *testing.T) {
	r := newRig(t, nil, nil)
	m := r.monitor()

	if err := m.SetPollInterval(0); err == nil {
		t.Error("SetPollInterval(0) should fail")
	}
	if err := m.SetPollInterval(-time.Second); err == nil {
		t.Error("negative interval should fail")
	}
	if got := m.PollInterval(); got != 10*time.Millisecond {
		t.Errorf("PollInterval() = %v, rejected values must not apply", got)
	}

	if err := m.SetPollInterval(3 * time.Second); err != nil {
		t.Fatalf("SetPollInterval() error = %v", err)
	}
	if got := m.PollInterval(); got != 3*time.Second {
		t.Errorf("PollInterval() = %v, want 3s", got)
	}
	// A second call with no loop running must not block.
	if err := m.SetPollInterval(4 * time.Second); err != nil {
		t.Fatalf("SetPollInterval() error = %v", err)
	}
}

func TestDiagnose(t *testing.T) {
	r := newRig(t, []string{"c1"}, []string{"normal"})
	m := r.monitor(monitor.WithDiagnosePause(2 * time.Millisecond))

	if err := m.Diagnose(context.Background()); err != nil {
		t.Fatalf("Diagnose() error = %v", err)
	}

	// 3 nodes on, 3 off, 2 flashes of 3 on + 3 off, then 3 forced offs.
	if got := r.gpio.Writes(); got != 3+3+12+3 {
		t.Errorf("Writes() = %d, want 21", got)
	}
	if r.source.Calls() != 0 {
		t.Error("Diagnose must not query the scheduler")
	}
	if !r.gpio.Released() || !r.source.Closed() {
		t.Error("Diagnose should clean up")
	}
}

func TestDiagnose_Cancelled(t *testing.T) {
	r := newRig(t, nil, nil)
	m := r.monitor()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.Diagnose(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Diagnose() error = %v, want context.Canceled", err)
	}
	if !r.gpio.Released() {
		t.Error("cleanup should run after cancellation")
	}
}

type failingSource struct {
	*activity.StaticSource
}

func (failingSource) Close() error { return errors.New("ssh master stuck") }

func TestShutdown_RunsOnceAndReportsErrors(t *testing.T) {
	r := newRig(t, nil, nil)
	m := monitor.New(failingSource{r.source}, r.bank, monitor.WithStrip(r.engine, r.strip, []string{"normal"}))

	err := m.Shutdown()
	if err == nil || !strings.Contains(err.Error(), "ssh master stuck") {
		t.Errorf("Shutdown() error = %v, want the close failure", err)
	}
	writes := r.gpio.Writes()

	if err := m.Shutdown(); err != nil {
		t.Errorf("second Shutdown() error = %v, want nil", err)
	}
	if r.gpio.Writes() != writes {
		t.Error("second Shutdown should do nothing")
	}
}

// wedgedStrip accepts frames but never finishes Release.
type wedgedStrip struct {
	*hardware.SimulatedStrip
	unblock chan struct{}
}

func (s wedgedStrip) Release() error {
	<-s.unblock
	return nil
}

func TestShutdown_HungStripReleaseIsBounded(t *testing.T) {
	r := newRig(t, []string{"c1"}, nil)
	strip := wedgedStrip{SimulatedStrip: r.strip, unblock: make(chan struct{})}
	defer close(strip.unblock)

	m := monitor.New(r.source, r.bank,
		monitor.WithStrip(r.engine, strip, []string{"normal"}),
		monitor.WithReleaseTimeout(20*time.Millisecond),
	)
	m.Poll(context.Background())

	result := make(chan error, 1)
	go func() { result <- m.Shutdown() }()

	select {
	case err := <-result:
		if !errors.Is(err, errors.ErrTimeout) {
			t.Errorf("Shutdown() error = %v, want a release timeout", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Shutdown blocked on a hung strip release")
	}
	if !r.gpio.Released() || r.gpio.State(17) {
		t.Error("LEDs should still be cleaned up")
	}
	if !r.source.Closed() {
		t.Error("source should still be closed")
	}
}
