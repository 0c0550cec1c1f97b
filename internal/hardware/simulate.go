package hardware

import (
	"sync"

	"github.com/Iron-Ham/slurmled/internal/logging"
)

// SimulatedGPIO records discrete writes and logs them at debug level.
type SimulatedGPIO struct {
	logger *logging.Logger

	mu       sync.Mutex
	state    map[int]bool
	writes   int
	released bool
}

// NewSimulatedGPIO returns a DiscreteWriter that performs no I/O.
func NewSimulatedGPIO(logger *logging.Logger) *SimulatedGPIO {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &SimulatedGPIO{
		logger: logger,
		state:  make(map[int]bool),
	}
}

// WriteDiscrete records the write.
func (s *SimulatedGPIO) WriteDiscrete(pin int, on bool) error {
	s.mu.Lock()
	s.state[pin] = on
	s.writes++
	s.mu.Unlock()

	status := "OFF"
	if on {
		status = "ON"
	}
	s.logger.Debug("[SIM] gpio write", "pin", pin, "state", status)
	return nil
}

// Release marks every recorded line off.
func (s *SimulatedGPIO) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for pin := range s.state {
		s.state[pin] = false
	}
	s.released = true
	return nil
}

// Mode always reports ModeSimulation.
func (s *SimulatedGPIO) Mode() Mode { return ModeSimulation }

// State returns the last value written to pin.
func (s *SimulatedGPIO) State(pin int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[pin]
}

// Writes returns the number of WriteDiscrete calls so far.
func (s *SimulatedGPIO) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Released reports whether Release has been called.
func (s *SimulatedGPIO) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// SimulatedStrip keeps the most recent frame in memory instead of showing it.
// Frames arrive every few tens of milliseconds, so only transitions between
// a dark and a lit strip are logged.
type SimulatedStrip struct {
	length int
	logger *logging.Logger

	mu       sync.Mutex
	last     Frame
	frames   int
	lit      bool
	released bool
}

// NewSimulatedStrip returns a StripWriter of the given length that performs no I/O.
func NewSimulatedStrip(length int, logger *logging.Logger) *SimulatedStrip {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &SimulatedStrip{
		length: length,
		logger: logger,
		last:   NewFrame(length),
	}
}

// WriteFrame stores a copy of frame, padded or truncated to the strip length.
func (s *SimulatedStrip) WriteFrame(frame Frame) error {
	cp := NewFrame(s.length)
	copy(cp, frame)
	lit := !cp.IsDark()

	s.mu.Lock()
	changed := lit != s.lit
	s.last = cp
	s.frames++
	s.lit = lit
	s.mu.Unlock()

	if changed {
		s.logger.Debug("[SIM] strip", "lit", lit)
	}
	return nil
}

// Release blanks the stored frame.
func (s *SimulatedStrip) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = NewFrame(s.length)
	s.lit = false
	s.released = true
	return nil
}

// Mode always reports ModeSimulation.
func (s *SimulatedStrip) Mode() Mode { return ModeSimulation }

// Last returns a copy of the most recently written frame.
func (s *SimulatedStrip) Last() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make(Frame, len(s.last))
	copy(cp, s.last)
	return cp
}

// Frames returns the number of frames written so far.
func (s *SimulatedStrip) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Released reports whether Release has been called.
func (s *SimulatedStrip) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
