// Package hardware drives the monitor's two output devices: individually
// addressed GPIO lines (one LED per node) and an addressable WS2812 pixel
// strip. Each device has a physical implementation and a simulation variant
// that performs the same calls but only logs them. Callers hold the
// interfaces and never learn which variant is active unless they ask via
// Mode.
package hardware

// Mode reports whether a writer drives real hardware.
type Mode string

const (
	// ModeHardware means writes reach physical outputs.
	ModeHardware Mode = "hardware"
	// ModeSimulation means writes are logged instead of issued.
	ModeSimulation Mode = "simulation"
)

// DiscreteWriter drives on/off outputs addressed by GPIO line offset.
type DiscreteWriter interface {
	// WriteDiscrete sets the line to on or off.
	WriteDiscrete(pin int, on bool) error
	// Release drives every claimed line low and frees the device.
	// Release is idempotent.
	Release() error
	// Mode reports which variant is active.
	Mode() Mode
}

// StripWriter pushes full frames to a pixel strip.
type StripWriter interface {
	// WriteFrame displays frame. Frames shorter than the strip leave the
	// remaining pixels off; longer frames are truncated.
	WriteFrame(frame Frame) error
	// Release blanks the strip and frees the device. Release is idempotent.
	Release() error
	// Mode reports which variant is active.
	Mode() Mode
}

// mirroredStrip forwards frames to an observer after the underlying write.
type mirroredStrip struct {
	StripWriter
	observe func(Frame)
}

// Mirror wraps w so that observe receives a copy of every frame written,
// whether or not the hardware write succeeded. observe must not block.
func Mirror(w StripWriter, observe func(Frame)) StripWriter {
	if observe == nil {
		return w
	}
	return &mirroredStrip{StripWriter: w, observe: observe}
}

func (m *mirroredStrip) WriteFrame(frame Frame) error {
	err := m.StripWriter.WriteFrame(frame)
	cp := make(Frame, len(frame))
	copy(cp, frame)
	m.observe(cp)
	return err
}
