package event

import (
	"time"

	"github.com/Iron-Ham/slurmled/internal/hardware"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a "category.action" identifier such as "nodes.changed".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypePollCompleted     = "poll.completed"
	TypeNodesChanged      = "nodes.changed"
	TypePartitionsChanged = "partitions.changed"
	TypeFrameRendered     = "frame.rendered"
)

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Poll Events
// -----------------------------------------------------------------------------

// PollCompletedEvent is emitted by the monitor after every poll tick, whether
// or not the scheduler query succeeded.
type PollCompletedEvent struct {
	baseEvent
	Seq         int           // 1-based tick number
	ActiveNodes []string      // sorted node IDs with running work
	Partitions  []string      // sorted partitions with running jobs
	Duration    time.Duration // wall time spent querying
	Failed      bool          // true when the source reported an error
}

// NewPollCompletedEvent creates a PollCompletedEvent.
func NewPollCompletedEvent(seq int, nodes, partitions []string, duration time.Duration, failed bool) PollCompletedEvent {
	return PollCompletedEvent{
		baseEvent:   newBaseEvent(TypePollCompleted),
		Seq:         seq,
		ActiveNodes: nodes,
		Partitions:  partitions,
		Duration:    duration,
		Failed:      failed,
	}
}

// -----------------------------------------------------------------------------
// Indicator Events
// -----------------------------------------------------------------------------

// NodeChange is one applied transition of a node LED.
type NodeChange struct {
	Node string
	On   bool
}

// NodesChangedEvent is emitted when at least one node LED was written.
type NodesChangedEvent struct {
	baseEvent
	Changes []NodeChange
	Lit     map[string]bool // full indicator state after the update
}

// NewNodesChangedEvent creates a NodesChangedEvent.
func NewNodesChangedEvent(changes []NodeChange, lit map[string]bool) NodesChangedEvent {
	return NodesChangedEvent{
		baseEvent: newBaseEvent(TypeNodesChanged),
		Changes:   changes,
		Lit:       lit,
	}
}

// -----------------------------------------------------------------------------
// Animation Events
// -----------------------------------------------------------------------------

// PartitionsChangedEvent is emitted when the set of animated partition
// categories changes.
type PartitionsChangedEvent struct {
	baseEvent
	Active  []string // category names in comet order
	Version uint64
}

// NewPartitionsChangedEvent creates a PartitionsChangedEvent.
func NewPartitionsChangedEvent(active []string, version uint64) PartitionsChangedEvent {
	return PartitionsChangedEvent{
		baseEvent: newBaseEvent(TypePartitionsChanged),
		Active:    active,
		Version:   version,
	}
}

// FrameRenderedEvent carries a frame after it was handed to the strip writer.
// Frame is owned by the receiver.
type FrameRenderedEvent struct {
	baseEvent
	Frame hardware.Frame
}

// NewFrameRenderedEvent creates a FrameRenderedEvent.
func NewFrameRenderedEvent(frame hardware.Frame) FrameRenderedEvent {
	return FrameRenderedEvent{
		baseEvent: newBaseEvent(TypeFrameRendered),
		Frame:     frame,
	}
}
