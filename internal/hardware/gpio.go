package hardware

import (
	"sort"
	"sync"

	"github.com/warthog618/go-gpiocdev"

	"github.com/Iron-Ham/slurmled/internal/errors"
	"github.com/Iron-Ham/slurmled/internal/logging"
)

// consumerLabel is shown by gpioinfo next to every line we hold.
const consumerLabel = "slurmled"

// GPIO drives LEDs through the Linux GPIO character device.
type GPIO struct {
	chip string

	mu    sync.Mutex
	lines map[int]*gpiocdev.Line
}

// OpenGPIO claims every pin on chip as an output driven low. On any failure
// the lines claimed so far are released and a HardwareError is returned.
func OpenGPIO(chip string, pins []int) (*GPIO, error) {
	g := &GPIO{
		chip:  chip,
		lines: make(map[int]*gpiocdev.Line, len(pins)),
	}

	for _, pin := range pins {
		line, err := gpiocdev.RequestLine(chip, pin,
			gpiocdev.AsOutput(0),
			gpiocdev.WithConsumer(consumerLabel),
		)
		if err != nil {
			_ = g.Release()
			return nil, errors.NewHardwareError("claim output line", err).WithDevice(chip).WithPin(pin)
		}
		g.lines[pin] = line
	}

	return g, nil
}

// WriteDiscrete sets the line to 1 when on, 0 otherwise.
func (g *GPIO) WriteDiscrete(pin int, on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.lines == nil {
		return errors.NewHardwareError("write line", errors.ErrReleased).WithDevice(g.chip).WithPin(pin)
	}
	line, ok := g.lines[pin]
	if !ok {
		return errors.NewHardwareError("write unclaimed line", errors.ErrInvalidInput).WithDevice(g.chip).WithPin(pin)
	}

	v := 0
	if on {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return errors.NewHardwareError("write line", err).WithDevice(g.chip).WithPin(pin)
	}
	return nil
}

// Release drives all lines low and closes them.
func (g *GPIO) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.lines == nil {
		return nil
	}

	pins := make([]int, 0, len(g.lines))
	for pin := range g.lines {
		pins = append(pins, pin)
	}
	sort.Ints(pins)

	var errs []error
	for _, pin := range pins {
		line := g.lines[pin]
		if err := line.SetValue(0); err != nil {
			errs = append(errs, errors.NewHardwareError("drive line low", err).WithDevice(g.chip).WithPin(pin))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, errors.NewHardwareError("close line", err).WithDevice(g.chip).WithPin(pin))
		}
	}
	g.lines = nil

	return errors.Join(errs...)
}

// Mode always reports ModeHardware.
func (g *GPIO) Mode() Mode { return ModeHardware }

// OpenDiscrete returns a GPIO writer for pins, or a SimulatedGPIO when
// simulate is set or the chip cannot be claimed. A claim failure is logged
// once here and never surfaces to the caller.
func OpenDiscrete(chip string, pins []int, simulate bool, logger *logging.Logger) DiscreteWriter {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if simulate {
		logger.Info("GPIO running in simulation mode")
		return NewSimulatedGPIO(logger)
	}

	g, err := OpenGPIO(chip, pins)
	if err != nil {
		logger.Error("failed to initialize GPIO, falling back to simulation", "chip", chip, "error", err)
		return NewSimulatedGPIO(logger)
	}

	logger.Info("GPIO initialized", "chip", chip, "pins", pins)
	return g
}
