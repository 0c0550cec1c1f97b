// Package animation owns the strip render loop.
//
// An [Engine] renders comet frames at a fixed interval on its own goroutine,
// independent of how long scheduler polls take. The poll side hands over the
// active partition categories through [Engine.UpdateState] or
// [Engine.SetFlags], which never block on rendering.
//
// Lifecycle:
//
//	e := animation.New(renderer, strip, animation.WithLogger(logger))
//	e.Start(ctx)        // Stopped -> Running
//	e.UpdateState(true, false)
//	e.Stop()            // Running -> Stopping -> Stopped, strip left dark
package animation
