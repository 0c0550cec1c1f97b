// Package comet renders the partition-activity animation for the pixel strip.
//
// Each partition category owns one comet: a full-brightness head pixel with a
// tail whose brightness falls off quadratically. Rendering is a pure function
// of the activity flags and the per-comet phase counters; the caller owns the
// counters and advances them after each frame.
package comet

import (
	"math/bits"

	"github.com/Iron-Ham/slurmled/internal/hardware"
)

// DefaultTail is the comet length used when none is configured.
const DefaultTail = 10

// Flags is the set of active partition categories; bit i belongs to comet i.
// It is a plain value so it can be copied out of a lock in one assignment.
type Flags uint64

// MaxComets is the number of categories a Flags value can carry.
const MaxComets = 64

// FlagsOf builds a Flags value from per-category booleans in comet order.
func FlagsOf(active ...bool) Flags {
	var f Flags
	for i, on := range active {
		f = f.With(i, on)
	}
	return f
}

// Has reports whether category i is active.
func (f Flags) Has(i int) bool {
	if i < 0 || i >= MaxComets {
		return false
	}
	return f&(1<<uint(i)) != 0
}

// With returns f with category i set to on.
func (f Flags) With(i int, on bool) Flags {
	if i < 0 || i >= MaxComets {
		return f
	}
	if on {
		return f | 1<<uint(i)
	}
	return f &^ (1 << uint(i))
}

// Count returns the number of active categories.
func (f Flags) Count() int {
	return bits.OnesCount64(uint64(f))
}

// Brightness is the tail intensity at distance d from the head of a comet of
// the given length: (1 - d/length)^2 inside the tail, 0 outside it.
func Brightness(d, length int) float64 {
	if length <= 0 || d < 0 || d >= length {
		return 0
	}
	x := 1 - float64(d)/float64(length)
	return x * x
}

// Renderer draws frames for a fixed strip and comet palette.
type Renderer struct {
	colors []hardware.Color
	length int
	tail   int
}

// NewRenderer returns a Renderer for a strip of length pixels. colors[i] is
// the color of comet i; at most MaxComets are used.
func NewRenderer(length, tail int, colors ...hardware.Color) *Renderer {
	if len(colors) > MaxComets {
		colors = colors[:MaxComets]
	}
	cp := make([]hardware.Color, len(colors))
	copy(cp, colors)
	return &Renderer{colors: cp, length: length, tail: tail}
}

// Length returns the strip length in pixels.
func (r *Renderer) Length() int { return r.length }

// Comets returns the number of configured comets.
func (r *Renderer) Comets() int { return len(r.colors) }

// Render builds one frame from scratch and reports which comets it drew.
//
// Active comets are drawn in configuration order. The k-th active comet runs
// forward (head at its phase) when k is even and mirrored (head at
// length-1-phase, travelling toward index 0) when k is odd, so two active
// comets always pass each other. Overlapping pixels add with saturation.
// phases shorter than the palette are treated as zero.
func (r *Renderer) Render(phases []int, active Flags) (hardware.Frame, Flags) {
	frame := hardware.NewFrame(r.length)
	if r.length == 0 {
		return frame, 0
	}

	var drawn Flags
	k := 0
	for i, color := range r.colors {
		if !active.Has(i) {
			continue
		}
		phase := 0
		if i < len(phases) {
			phase = phases[i]
		}
		r.draw(frame, Head(phase, r.length, k%2 == 1), k%2 == 1, color)
		drawn = drawn.With(i, true)
		k++
	}

	return frame, drawn
}

// draw paints one comet into frame. A forward comet's tail extends toward
// lower indices; a mirrored comet's tail extends toward higher indices.
func (r *Renderer) draw(frame hardware.Frame, head int, mirrored bool, color hardware.Color) {
	for d := 0; d < r.tail; d++ {
		pos := head - d
		if mirrored {
			pos = head + d
		}
		pos = mod(pos, r.length)
		frame[pos] = frame[pos].Add(color.Scale(Brightness(d, r.tail)))
	}
}

// Head returns the pixel index of a comet head for the given phase.
func Head(phase, length int, mirrored bool) int {
	if length <= 0 {
		return 0
	}
	p := mod(phase, length)
	if mirrored {
		return length - 1 - p
	}
	return p
}

// Advance returns phases with every drawn comet moved one step, wrapping at
// length. The input slice is not modified.
func Advance(phases []int, drawn Flags, length int) []int {
	out := make([]int, len(phases))
	copy(out, phases)
	if length <= 0 {
		return out
	}
	for i := range out {
		if drawn.Has(i) {
			out[i] = (out[i] + 1) % length
		}
	}
	return out
}

func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
