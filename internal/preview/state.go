// Package preview mirrors the node LEDs and the strip in the terminal.
//
// The preview is fed entirely from the event bus. Bus handlers only copy the
// event into a mutex-guarded State; the bubbletea program reads that state
// on its own tick, so a slow terminal never holds up the poll or render loop.
package preview

import (
	"sync"
	"time"

	"github.com/Iron-Ham/slurmled/internal/event"
	"github.com/Iron-Ham/slurmled/internal/hardware"
)

// Node describes one node LED for display.
type Node struct {
	ID    string
	Color string // group color label or hex, empty for ungrouped nodes
}

// PollSummary is the last poll as seen by the preview.
type PollSummary struct {
	Seq      int
	Duration time.Duration
	Failed   bool
	At       time.Time
}

// State is the latest observed hardware state.
type State struct {
	nodes []Node

	mu         sync.RWMutex
	lit        map[string]bool
	frame      hardware.Frame
	partitions []string
	poll       PollSummary
}

// NewState returns a State for the given nodes and strip length, all off.
func NewState(nodes []Node, stripLength int) *State {
	cp := make([]Node, len(nodes))
	copy(cp, nodes)
	return &State{
		nodes: cp,
		lit:   make(map[string]bool, len(nodes)),
		frame: hardware.NewFrame(stripLength),
	}
}

// Attach subscribes the state to bus and returns a function that removes
// the subscriptions.
func (s *State) Attach(bus *event.Bus) (detach func()) {
	ids := []string{
		bus.Subscribe(event.TypeNodesChanged, func(e event.Event) {
			if ev, ok := e.(event.NodesChangedEvent); ok {
				s.setLit(ev.Lit)
			}
		}),
		bus.Subscribe(event.TypeFrameRendered, func(e event.Event) {
			if ev, ok := e.(event.FrameRenderedEvent); ok {
				s.setFrame(ev.Frame)
			}
		}),
		bus.Subscribe(event.TypePartitionsChanged, func(e event.Event) {
			if ev, ok := e.(event.PartitionsChangedEvent); ok {
				s.setPartitions(ev.Active)
			}
		}),
		bus.Subscribe(event.TypePollCompleted, func(e event.Event) {
			if ev, ok := e.(event.PollCompletedEvent); ok {
				s.setPoll(PollSummary{
					Seq:      ev.Seq,
					Duration: ev.Duration,
					Failed:   ev.Failed,
					At:       ev.Timestamp(),
				})
			}
		}),
	}
	return func() {
		for _, id := range ids {
			bus.Unsubscribe(id)
		}
	}
}

// Nodes returns the configured nodes in display order.
func (s *State) Nodes() []Node {
	return s.nodes
}

// Snapshot returns copies of the current values.
func (s *State) Snapshot() (lit map[string]bool, frame hardware.Frame, partitions []string, poll PollSummary) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lit = make(map[string]bool, len(s.lit))
	for k, v := range s.lit {
		lit[k] = v
	}
	frame = make(hardware.Frame, len(s.frame))
	copy(frame, s.frame)
	partitions = append([]string(nil), s.partitions...)
	return lit, frame, partitions, s.poll
}

func (s *State) setLit(lit map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lit = make(map[string]bool, len(lit))
	for k, v := range lit {
		s.lit[k] = v
	}
}

func (s *State) setFrame(frame hardware.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frame) != len(frame) {
		s.frame = hardware.NewFrame(len(frame))
	}
	copy(s.frame, frame)
}

func (s *State) setPartitions(active []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partitions = append([]string(nil), active...)
}

func (s *State) setPoll(p PollSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poll = p
}
