package animation

import (
	"time"

	"github.com/Iron-Ham/slurmled/internal/event"
	"github.com/Iron-Ham/slurmled/internal/logging"
)

// Defaults for the render loop timing.
const (
	DefaultFrameInterval = 30 * time.Millisecond
	DefaultIdleInterval  = 100 * time.Millisecond
	DefaultJoinTimeout   = time.Second
)

// Option configures an Engine.
type Option func(*config)

type config struct {
	frameInterval time.Duration
	idleInterval  time.Duration
	joinTimeout   time.Duration
	names         []string
	logger        *logging.Logger
	bus           *event.Bus
}

// WithFrameInterval sets the sleep between rendered frames.
// A zero or negative value is replaced with the default (30ms).
func WithFrameInterval(d time.Duration) Option {
	return func(c *config) {
		c.frameInterval = d
	}
}

// WithIdleInterval sets the sleep between checks while nothing is active.
// A zero or negative value is replaced with the default (100ms).
func WithIdleInterval(d time.Duration) Option {
	return func(c *config) {
		c.idleInterval = d
	}
}

// WithJoinTimeout bounds how long Stop waits for the render loop to exit.
// A zero or negative value is replaced with the default (1s).
func WithJoinTimeout(d time.Duration) Option {
	return func(c *config) {
		c.joinTimeout = d
	}
}

// WithNames sets the category names used in logs and events, in comet
// order. Unnamed categories are reported by index.
func WithNames(names ...string) Option {
	return func(c *config) {
		c.names = names
	}
}

// WithLogger sets the logger for the engine.
func WithLogger(logger *logging.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithBus publishes partitions.changed events on bus.
func WithBus(bus *event.Bus) Option {
	return func(c *config) {
		c.bus = bus
	}
}
