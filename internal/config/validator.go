package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gobwas/glob"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/Iron-Ham/slurmled/internal/comet"
	"github.com/Iron-Ham/slurmled/internal/hardware"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "strip.length")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ParseColor parses a hex color such as "#00ff00" or "#0f0".
func ParseColor(hex string) (hardware.Color, error) {
	c, err := colorful.Hex(strings.TrimSpace(hex))
	if err != nil {
		return hardware.Color{}, err
	}
	r, g, b := c.RGB255()
	return hardware.Color{R: r, G: g, B: b}, nil
}

// CometColors returns the parsed comet colors and partition names in
// render order. Call it only on a validated Config.
func (c *StripConfig) CometColors() ([]hardware.Color, []string) {
	colors := make([]hardware.Color, 0, len(c.Comets))
	names := make([]string, 0, len(c.Comets))
	for _, cc := range c.Comets {
		color, err := ParseColor(cc.Color)
		if err != nil {
			continue
		}
		colors = append(colors, color)
		names = append(names, strings.ToLower(cc.Partition))
	}
	return colors, names
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateSlurm()...)
	errors = append(errors, c.validateNodes()...)
	errors = append(errors, c.validatePoll()...)
	errors = append(errors, c.validateStrip()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateSlurm() []ValidationError {
	var errors []ValidationError

	if c.Slurm.QueryTimeoutMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "slurm.query_timeout_ms",
			Value:   c.Slurm.QueryTimeoutMs,
			Message: "must be positive",
		})
	}

	if c.Slurm.ConnectTimeoutS <= 0 {
		errors = append(errors, ValidationError{
			Field:   "slurm.connect_timeout_s",
			Value:   c.Slurm.ConnectTimeoutS,
			Message: "must be positive",
		})
	}

	// The ssh connect phase has to fit inside the query bound
	if c.Slurm.Host != "" && c.Slurm.ConnectTimeoutS > 0 && c.Slurm.QueryTimeoutMs > 0 &&
		c.Slurm.ConnectTimeoutS*1000 > c.Slurm.QueryTimeoutMs {
		errors = append(errors, ValidationError{
			Field:   "slurm.connect_timeout_s",
			Value:   c.Slurm.ConnectTimeoutS,
			Message: fmt.Sprintf("must not exceed slurm.query_timeout_ms (%dms)", c.Slurm.QueryTimeoutMs),
		})
	}

	if c.Slurm.Host != "" && strings.TrimSpace(c.Slurm.SSHCommand) == "" {
		errors = append(errors, ValidationError{
			Field:   "slurm.ssh_command",
			Value:   c.Slurm.SSHCommand,
			Message: "must be set when slurm.host is set",
		})
	}

	return errors
}

func (c *Config) validateNodes() []ValidationError {
	var errors []ValidationError

	if len(c.Nodes.Pins) == 0 {
		errors = append(errors, ValidationError{
			Field:   "nodes.pins",
			Value:   c.Nodes.Pins,
			Message: "must map at least one node to a GPIO line",
		})
	}

	owner := make(map[int]string, len(c.Nodes.Pins))
	for _, node := range sortedNodes(c.Nodes.Pins) {
		pin := c.Nodes.Pins[node]
		field := "nodes.pins." + node
		if strings.TrimSpace(node) == "" {
			errors = append(errors, ValidationError{Field: "nodes.pins", Value: node, Message: "node id must not be empty"})
			continue
		}
		if pin < 0 {
			errors = append(errors, ValidationError{Field: field, Value: pin, Message: "must be non-negative"})
			continue
		}
		if other, dup := owner[pin]; dup {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   pin,
				Message: fmt.Sprintf("line already used by node %q", other),
			})
			continue
		}
		owner[pin] = node
	}

	if strings.TrimSpace(c.Nodes.GPIOChip) == "" {
		errors = append(errors, ValidationError{
			Field:   "nodes.gpio_chip",
			Value:   c.Nodes.GPIOChip,
			Message: "must not be empty",
		})
	}

	for i, g := range c.Nodes.Groups {
		field := fmt.Sprintf("nodes.groups[%d]", i)
		if strings.TrimSpace(g.Name) == "" {
			errors = append(errors, ValidationError{Field: field + ".name", Value: g.Name, Message: "must not be empty"})
		}
		if _, err := glob.Compile(strings.ToLower(g.Pattern)); err != nil || g.Pattern == "" {
			errors = append(errors, ValidationError{Field: field + ".pattern", Value: g.Pattern, Message: "must be a valid glob pattern"})
		}
	}

	return errors
}

func (c *Config) validatePoll() []ValidationError {
	var errors []ValidationError

	if c.Poll.IntervalS < 1 {
		errors = append(errors, ValidationError{
			Field:   "poll.interval_s",
			Value:   c.Poll.IntervalS,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateStrip() []ValidationError {
	var errors []ValidationError
	s := c.Strip

	if s.Length < 0 || (s.Enabled && s.Length == 0) {
		errors = append(errors, ValidationError{
			Field:   "strip.length",
			Value:   s.Length,
			Message: "must be positive when the strip is enabled",
		})
	}

	if s.Brightness < 0 || s.Brightness > 1 {
		errors = append(errors, ValidationError{
			Field:   "strip.brightness",
			Value:   s.Brightness,
			Message: "must be between 0.0 and 1.0",
		})
	}

	if s.CometLength < 1 {
		errors = append(errors, ValidationError{
			Field:   "strip.comet_length",
			Value:   s.CometLength,
			Message: "must be at least 1",
		})
	}

	for _, d := range []struct {
		field string
		value int
	}{
		{"strip.frame_interval_ms", s.FrameIntervalMs},
		{"strip.idle_interval_ms", s.IdleIntervalMs},
		{"strip.join_timeout_ms", s.JoinTimeoutMs},
	} {
		if d.value <= 0 {
			errors = append(errors, ValidationError{Field: d.field, Value: d.value, Message: "must be positive"})
		}
	}

	if len(s.Comets) > comet.MaxComets {
		errors = append(errors, ValidationError{
			Field:   "strip.comets",
			Value:   len(s.Comets),
			Message: fmt.Sprintf("at most %d comets are supported", comet.MaxComets),
		})
	}

	seen := make(map[string]bool, len(s.Comets))
	for i, cc := range s.Comets {
		field := fmt.Sprintf("strip.comets[%d]", i)
		name := strings.ToLower(strings.TrimSpace(cc.Partition))
		switch {
		case name == "":
			errors = append(errors, ValidationError{Field: field + ".partition", Value: cc.Partition, Message: "must not be empty"})
		case seen[name]:
			errors = append(errors, ValidationError{Field: field + ".partition", Value: cc.Partition, Message: "duplicate partition"})
		}
		seen[name] = true

		if _, err := ParseColor(cc.Color); err != nil {
			errors = append(errors, ValidationError{Field: field + ".color", Value: cc.Color, Message: "must be a hex color like #00ff00"})
		}
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func sortedNodes(pins map[string]int) []string {
	nodes := make([]string, 0, len(pins))
	for n := range pins {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)
	return nodes
}
