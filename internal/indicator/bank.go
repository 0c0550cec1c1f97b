// Package indicator drives one discrete LED per compute node.
//
// A [Bank] remembers the last value it successfully wrote to each LED and
// only issues writes for nodes whose desired state differs, so repeated
// polls with unchanged activity cause no I/O and no log noise.
package indicator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/slurmled/internal/errors"
	"github.com/Iron-Ham/slurmled/internal/event"
	"github.com/Iron-Ham/slurmled/internal/hardware"
	"github.com/Iron-Ham/slurmled/internal/logging"
)

// Delays times the LED test sequence.
type Delays struct {
	Step    time.Duration // after each LED turns on
	Pause   time.Duration // with every LED lit
	Reverse time.Duration // after each LED turns off
	Flash   time.Duration // on and off phase of each flash
}

// DefaultDelays returns the wiring-check timing used at startup.
func DefaultDelays() Delays {
	return Delays{
		Step:    300 * time.Millisecond,
		Pause:   500 * time.Millisecond,
		Reverse: 200 * time.Millisecond,
		Flash:   300 * time.Millisecond,
	}
}

// Option configures a Bank.
type Option func(*Bank)

// WithLogger sets the logger for the bank.
func WithLogger(logger *logging.Logger) Option {
	return func(b *Bank) {
		b.logger = logger
	}
}

// WithBus publishes nodes.changed events on bus.
func WithBus(bus *event.Bus) Option {
	return func(b *Bank) {
		b.bus = bus
	}
}

// WithGroups replaces DefaultGroups.
func WithGroups(groups []Group) Option {
	return func(b *Bank) {
		b.rawGroups = groups
	}
}

// WithDelays replaces DefaultDelays.
func WithDelays(d Delays) Option {
	return func(b *Bank) {
		b.delays = d
	}
}

// Bank owns the node LEDs and their last applied state.
type Bank struct {
	writer hardware.DiscreteWriter
	logger *logging.Logger
	bus    *event.Bus
	delays Delays

	nodes     []string // sorted
	pins      map[string]int
	rawGroups []Group
	groups    []compiledGroup

	mu    sync.Mutex
	state map[string]bool
}

// New creates a Bank for the given node-to-pin mapping. Node IDs are
// normalized to lowercase. The writer is owned by the bank from here on and
// released by Cleanup.
func New(writer hardware.DiscreteWriter, pins map[string]int, opts ...Option) (*Bank, error) {
	if writer == nil {
		panic("indicator: DiscreteWriter must not be nil")
	}

	b := &Bank{
		writer:    writer,
		logger:    logging.NopLogger(),
		delays:    DefaultDelays(),
		pins:      make(map[string]int, len(pins)),
		rawGroups: DefaultGroups(),
		state:     make(map[string]bool, len(pins)),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.NopLogger()
	}

	for node, pin := range pins {
		id := strings.ToLower(strings.TrimSpace(node))
		if id == "" {
			return nil, errors.NewValidationError("node id must not be empty").WithField("nodes.pins")
		}
		if _, dup := b.pins[id]; dup {
			return nil, errors.NewValidationError("duplicate node id").WithField("nodes.pins").WithValue(id)
		}
		b.pins[id] = pin
		b.state[id] = false
		b.nodes = append(b.nodes, id)
	}
	sort.Strings(b.nodes)

	groups, err := compileGroups(b.rawGroups)
	if err != nil {
		return nil, err
	}
	b.groups = groups

	return b, nil
}

// Nodes returns the configured node IDs in sorted order.
func (b *Bank) Nodes() []string {
	out := make([]string, len(b.nodes))
	copy(out, b.nodes)
	return out
}

// Mode reports whether the LEDs are physical or simulated.
func (b *Bank) Mode() hardware.Mode {
	return b.writer.Mode()
}

// Lit returns a copy of the last applied state of every node.
func (b *Bank) Lit() map[string]bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]bool, len(b.state))
	for k, v := range b.state {
		out[k] = v
	}
	return out
}

// Update lights exactly the configured nodes present in active and returns
// the transitions it applied. Nodes in active that are not configured are
// ignored.
func (b *Bank) Update(active map[string]bool) []event.NodeChange {
	var changes []event.NodeChange
	for _, node := range b.nodes {
		want := active[node]
		if b.set(node, want) {
			changes = append(changes, event.NodeChange{Node: node, On: want})
		}
	}

	if len(changes) > 0 {
		labels := make([]string, len(changes))
		for i, c := range changes {
			labels[i] = b.changeLabel(c)
		}
		b.logger.Info("LED changes", "changes", strings.Join(labels, ", "))
		if b.bus != nil {
			b.bus.Publish(event.NewNodesChangedEvent(changes, b.Lit()))
		}
	}

	if summary := b.summary(); summary != "" {
		b.logger.Info("Active", "nodes", summary)
	} else {
		b.logger.Debug("All nodes idle")
	}

	return changes
}

// AllOn lights every node LED.
func (b *Bank) AllOn() {
	for _, node := range b.nodes {
		b.set(node, true)
	}
}

// AllOff turns every node LED off.
func (b *Bank) AllOff() {
	for _, node := range b.nodes {
		b.set(node, false)
	}
}

// TestSequence lights each LED in node order, pauses, turns them off in
// reverse order and flashes all of them twice. If ctx is cancelled the
// sequence stops early with every LED off and ctx.Err() is returned.
func (b *Bank) TestSequence(ctx context.Context) error {
	b.logger.Info("Running LED test sequence")

	err := b.runSequence(ctx)
	if err != nil {
		b.AllOff()
		b.logger.Info("LED test sequence interrupted")
		return err
	}

	b.logger.Info("Test sequence complete")
	return nil
}

func (b *Bank) runSequence(ctx context.Context) error {
	for _, node := range b.nodes {
		b.logger.Info("test LED on", "node", strings.ToUpper(node), "color", strings.ToUpper(b.ColorOf(node)))
		b.set(node, true)
		if err := sleep(ctx, b.delays.Step); err != nil {
			return err
		}
	}

	if err := sleep(ctx, b.delays.Pause); err != nil {
		return err
	}

	for i := len(b.nodes) - 1; i >= 0; i-- {
		b.set(b.nodes[i], false)
		if err := sleep(ctx, b.delays.Reverse); err != nil {
			return err
		}
	}

	for range 2 {
		b.AllOn()
		if err := sleep(ctx, b.delays.Flash); err != nil {
			return err
		}
		b.AllOff()
		if err := sleep(ctx, b.delays.Flash); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup drives every LED off, ignoring the recorded state, and releases
// the writer. It is safe to call more than once.
func (b *Bank) Cleanup() error {
	var errs []error
	for _, node := range b.nodes {
		if err := b.writer.WriteDiscrete(b.pins[node], false); err != nil {
			errs = append(errs, err)
			continue
		}
		b.mu.Lock()
		b.state[node] = false
		b.mu.Unlock()
	}
	if err := b.writer.Release(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		b.logger.Warn("GPIO cleanup incomplete", "error", err)
		return err
	}
	b.logger.Info("GPIO cleanup complete")
	return nil
}

// set writes on to node if it differs from the last applied value and
// reports whether a write succeeded. A failed write leaves the recorded
// state unchanged so the next Update retries it.
func (b *Bank) set(node string, on bool) bool {
	pin, ok := b.pins[node]
	if !ok {
		return false
	}

	b.mu.Lock()
	current := b.state[node]
	b.mu.Unlock()
	if current == on {
		return false
	}

	if err := b.writer.WriteDiscrete(pin, on); err != nil {
		b.logger.Warn("LED write failed", "node", node, "pin", pin, "error", err)
		return false
	}

	b.mu.Lock()
	b.state[node] = on
	b.mu.Unlock()
	return true
}

// ColorOf returns the color label of the first group matching node, or "".
func (b *Bank) ColorOf(node string) string {
	if i := groupOf(b.groups, node); i >= 0 {
		return b.groups[i].Color
	}
	return ""
}

// changeLabel formats a transition as "C1(ON/green)".
func (b *Bank) changeLabel(c event.NodeChange) string {
	status := "OFF"
	if c.On {
		status = "ON"
	}
	if color := b.ColorOf(c.Node); color != "" {
		status += "/" + color
	}
	return strings.ToUpper(c.Node) + "(" + status + ")"
}

// summary lists lit nodes by group, e.g. "Classical: C1, C3 | Quantum: Q2".
// Lit nodes outside every group are listed under "Other".
func (b *Bank) summary() string {
	lit := b.Lit()
	byGroup := make([][]string, len(b.groups)+1)
	for _, node := range b.nodes {
		if !lit[node] {
			continue
		}
		i := groupOf(b.groups, node)
		if i < 0 {
			i = len(b.groups)
		}
		byGroup[i] = append(byGroup[i], strings.ToUpper(node))
	}

	var parts []string
	for i, nodes := range byGroup {
		if len(nodes) == 0 {
			continue
		}
		name := "Other"
		if i < len(b.groups) {
			name = b.groups[i].Name
		}
		parts = append(parts, name+": "+strings.Join(nodes, ", "))
	}
	return strings.Join(parts, " | ")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
