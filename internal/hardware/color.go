package hardware

import "fmt"

// Color is an 8-bit-per-channel RGB value.
type Color struct {
	R, G, B uint8
}

// Named colors used by the default comet configuration.
var (
	Off   = Color{}
	Green = Color{G: 255}
	Blue  = Color{B: 255}
)

// Add returns the channel-wise sum of c and o, each channel capped at 255.
// Overlapping comets therefore only ever get brighter.
func (c Color) Add(o Color) Color {
	return Color{
		R: addSat(c.R, o.R),
		G: addSat(c.G, o.G),
		B: addSat(c.B, o.B),
	}
}

func addSat(a, b uint8) uint8 {
	s := uint16(a) + uint16(b)
	if s > 255 {
		return 255
	}
	return uint8(s)
}

// Scale multiplies every channel by f and floors the result.
// f is clamped to [0, 1].
func (c Color) Scale(f float64) Color {
	if f <= 0 {
		return Off
	}
	if f >= 1 {
		return c
	}
	return Color{
		R: uint8(float64(c.R) * f),
		G: uint8(float64(c.G) * f),
		B: uint8(float64(c.B) * f),
	}
}

// IsOff reports whether all channels are zero.
func (c Color) IsOff() bool {
	return c == Off
}

// Hex returns the color as #rrggbb.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Frame is one full set of strip pixels, index 0 nearest the data input.
type Frame []Color

// NewFrame returns an all-off frame of length n.
func NewFrame(n int) Frame {
	if n < 0 {
		n = 0
	}
	return make(Frame, n)
}

// IsDark reports whether every pixel is off.
func (f Frame) IsDark() bool {
	for _, c := range f {
		if !c.IsOff() {
			return false
		}
	}
	return true
}

// Bytes encodes the frame as packed RGB triplets after applying brightness.
func (f Frame) Bytes(brightness float64) []byte {
	out := make([]byte, 0, len(f)*3)
	for _, c := range f {
		s := c.Scale(brightness)
		out = append(out, s.R, s.G, s.B)
	}
	return out
}
