package hardware

import (
	"sync"

	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/host/v3"

	"github.com/Iron-Ham/slurmled/internal/errors"
	"github.com/Iron-Ham/slurmled/internal/logging"
)

// Strip drives a WS2812B strip by NRZ-encoding pixels onto an SPI MOSI line.
type Strip struct {
	port       string
	length     int
	brightness float64

	mu  sync.Mutex
	bus spi.PortCloser
	dev *nrzled.Dev
}

// OpenStrip initializes periph host drivers, opens the SPI port (empty name
// selects the first available) and blanks the strip.
func OpenStrip(port string, length int, brightness float64) (*Strip, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.NewHardwareError("initialize host drivers", err).WithDevice(port)
	}

	bus, err := spireg.Open(port)
	if err != nil {
		return nil, errors.NewHardwareError("open spi port", err).WithDevice(port)
	}

	opts := nrzled.DefaultOpts
	opts.NumPixels = length
	opts.Channels = 3
	dev, err := nrzled.NewSPI(bus, &opts)
	if err != nil {
		_ = bus.Close()
		return nil, errors.NewHardwareError("attach ws2812 strip", err).WithDevice(port)
	}

	s := &Strip{
		port:       port,
		length:     length,
		brightness: brightness,
		bus:        bus,
		dev:        dev,
	}
	if err := s.WriteFrame(NewFrame(length)); err != nil {
		_ = s.Release()
		return nil, err
	}
	return s, nil
}

// WriteFrame scales frame by the configured brightness and shows it.
func (s *Strip) WriteFrame(frame Frame) error {
	buf := s.fit(frame).Bytes(s.brightness)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		return errors.NewHardwareError("write frame", errors.ErrReleased).WithDevice(s.port).WithSeverity(errors.SeverityWarning)
	}
	if _, err := s.dev.Write(buf); err != nil {
		return errors.NewHardwareError("write frame", err).WithDevice(s.port).WithSeverity(errors.SeverityDebug)
	}
	return nil
}

// fit pads or truncates frame to the strip length.
func (s *Strip) fit(frame Frame) Frame {
	if len(frame) == s.length {
		return frame
	}
	out := NewFrame(s.length)
	copy(out, frame)
	return out
}

// Release blanks the strip, halts the device and closes the SPI port.
func (s *Strip) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		return nil
	}

	var errs []error
	if _, err := s.dev.Write(make([]byte, s.length*3)); err != nil {
		errs = append(errs, errors.NewHardwareError("blank strip", err).WithDevice(s.port))
	}
	if err := s.dev.Halt(); err != nil {
		errs = append(errs, errors.NewHardwareError("halt strip", err).WithDevice(s.port))
	}
	if err := s.bus.Close(); err != nil {
		errs = append(errs, errors.NewHardwareError("close spi port", err).WithDevice(s.port))
	}
	s.dev = nil
	s.bus = nil

	return errors.Join(errs...)
}

// Mode always reports ModeHardware.
func (s *Strip) Mode() Mode { return ModeHardware }

// OpenStripWriter returns a Strip, or a SimulatedStrip when simulate is set
// or the strip cannot be opened. A failure is logged once here.
func OpenStripWriter(port string, length int, brightness float64, simulate bool, logger *logging.Logger) StripWriter {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if simulate {
		logger.Info("LED strip running in simulation mode", "leds", length)
		return NewSimulatedStrip(length, logger)
	}

	s, err := OpenStrip(port, length, brightness)
	if err != nil {
		logger.Error("failed to initialize LED strip, falling back to simulation", "port", port, "error", err)
		return NewSimulatedStrip(length, logger)
	}

	logger.Info("LED strip initialized", "port", port, "leds", length, "brightness", brightness)
	return s
}
