// Package event provides a pub-sub event bus that lets the monitor, the
// animation engine and the terminal preview observe each other without
// direct dependencies.
//
// # Event Categories
//
//   - [PollCompletedEvent] (poll.completed): one per poll tick
//   - [NodesChangedEvent] (nodes.changed): node LEDs were written
//   - [PartitionsChangedEvent] (partitions.changed): the comet set changed
//   - [FrameRenderedEvent] (frame.rendered): a strip frame was written
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers run synchronously on the
// publisher's goroutine and are protected against panics.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//	id := bus.Subscribe(event.TypeNodesChanged, func(e event.Event) {
//	    changed := e.(event.NodesChangedEvent)
//	    ...
//	})
//	defer bus.Unsubscribe(id)
package event
