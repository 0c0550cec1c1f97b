package config

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/viper"
)

// AppName names the config directory and environment prefix.
const AppName = "slurmled"

// Config represents the complete slurmled configuration
type Config struct {
	Slurm    SlurmConfig    `mapstructure:"slurm" yaml:"slurm"`
	Nodes    NodesConfig    `mapstructure:"nodes" yaml:"nodes"`
	Poll     PollConfig     `mapstructure:"poll" yaml:"poll"`
	Strip    StripConfig    `mapstructure:"strip" yaml:"strip"`
	Hardware HardwareConfig `mapstructure:"hardware" yaml:"hardware"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Preview  PreviewConfig  `mapstructure:"preview" yaml:"preview"`
}

// SlurmConfig locates the scheduler controller
type SlurmConfig struct {
	// Host is the SSH target running the controller. Empty queries locally.
	Host string `mapstructure:"host" yaml:"host"`
	// User is the SSH login on Host
	User string `mapstructure:"user" yaml:"user"`
	// Container is the docker container the scheduler commands run in.
	// Empty runs them directly on Host.
	Container string `mapstructure:"container" yaml:"container"`
	// SSHCommand is the ssh binary (default: "ssh")
	SSHCommand string `mapstructure:"ssh_command" yaml:"ssh_command"`
	// QueryTimeoutMs bounds each sinfo/squeue call (default: 10000)
	QueryTimeoutMs int `mapstructure:"query_timeout_ms" yaml:"query_timeout_ms"`
	// ConnectTimeoutS is passed to ssh as ConnectTimeout (default: 5)
	ConnectTimeoutS int `mapstructure:"connect_timeout_s" yaml:"connect_timeout_s"`
}

// NodesConfig maps compute nodes to their discrete LEDs
type NodesConfig struct {
	// GPIOChip is the character device holding the LED lines (default: "gpiochip0")
	GPIOChip string `mapstructure:"gpio_chip" yaml:"gpio_chip"`
	// Pins maps node ID to BCM line offset
	Pins map[string]int `mapstructure:"pins" yaml:"pins"`
	// Groups label nodes by glob pattern for logs and summaries
	Groups []NodeGroupConfig `mapstructure:"groups" yaml:"groups"`
}

// NodeGroupConfig is one labelled set of nodes
type NodeGroupConfig struct {
	Name    string `mapstructure:"name" yaml:"name"`
	Pattern string `mapstructure:"pattern" yaml:"pattern"`
	Color   string `mapstructure:"color" yaml:"color"`
}

// PollConfig controls the scheduler poll loop
type PollConfig struct {
	// IntervalS is the time between polls in seconds (default: 5)
	IntervalS int `mapstructure:"interval_s" yaml:"interval_s"`
	// StartupTest runs the LED test sequence before monitoring (default: true)
	StartupTest bool `mapstructure:"startup_test" yaml:"startup_test"`
}

// StripConfig controls the WS2812 strip and its comets
type StripConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Length is the number of pixels (default: 60)
	Length int `mapstructure:"length" yaml:"length"`
	// Brightness scales every pixel, 0.0-1.0 (default: 1.0)
	Brightness float64 `mapstructure:"brightness" yaml:"brightness"`
	// CometLength is the head plus tail length in pixels (default: 10)
	CometLength     int `mapstructure:"comet_length" yaml:"comet_length"`
	FrameIntervalMs int `mapstructure:"frame_interval_ms" yaml:"frame_interval_ms"`
	IdleIntervalMs  int `mapstructure:"idle_interval_ms" yaml:"idle_interval_ms"`
	JoinTimeoutMs   int `mapstructure:"join_timeout_ms" yaml:"join_timeout_ms"`
	// SPIPort names the periph SPI port; empty picks the first one
	SPIPort string `mapstructure:"spi_port" yaml:"spi_port"`
	// Comets lists one comet per partition, in render order
	Comets []CometConfig `mapstructure:"comets" yaml:"comets"`
}

// CometConfig binds a partition name to a comet color
type CometConfig struct {
	Partition string `mapstructure:"partition" yaml:"partition"`
	// Color is a hex RGB value such as "#00ff00"
	Color string `mapstructure:"color" yaml:"color"`
}

// HardwareConfig controls physical device access
type HardwareConfig struct {
	// Simulate forces simulation mode even when devices are present
	Simulate bool `mapstructure:"simulate" yaml:"simulate"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// File writes logs to this path instead of stderr
	File string `mapstructure:"file" yaml:"file"`
	// MaxSizeMB is the maximum log file size before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
}

// PreviewConfig controls the terminal preview
type PreviewConfig struct {
	// Enabled shows a live terminal rendering of the LEDs when stdout is a TTY
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Slurm: SlurmConfig{
			Host:            "192.168.4.160",
			User:            "rasqberry",
			Container:       "login",
			SSHCommand:      "ssh",
			QueryTimeoutMs:  10000,
			ConnectTimeoutS: 5,
		},
		Nodes: NodesConfig{
			GPIOChip: "gpiochip0",
			Pins:     DefaultPins(),
			Groups: []NodeGroupConfig{
				{Name: "Classical", Pattern: "c*", Color: "green"},
				{Name: "Quantum", Pattern: "q*", Color: "blue"},
			},
		},
		Poll: PollConfig{
			IntervalS:   5,
			StartupTest: true,
		},
		Strip: StripConfig{
			Enabled:         true,
			Length:          60,
			Brightness:      1.0,
			CometLength:     10,
			FrameIntervalMs: 30,
			IdleIntervalMs:  100,
			JoinTimeoutMs:   1000,
			SPIPort:         "",
			Comets: []CometConfig{
				{Partition: "normal", Color: "#00ff00"},
				{Partition: "quantum", Color: "#0000ff"},
			},
		},
		Hardware: HardwareConfig{
			Simulate: false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Preview: PreviewConfig{
			Enabled: false,
		},
	}
}

// DefaultPins is the reference wiring: classical nodes c1-c4 and quantum
// nodes q1-q2 on BCM lines.
func DefaultPins() map[string]int {
	return map[string]int{
		"c1": 17,
		"c2": 27,
		"c3": 22,
		"c4": 23,
		"q1": 24,
		"q2": 25,
	}
}

// PollInterval returns the poll interval as a time.Duration
func (c *PollConfig) PollInterval() time.Duration {
	return time.Duration(c.IntervalS) * time.Second
}

// QueryTimeout returns the per-query timeout as a time.Duration
func (c *SlurmConfig) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutMs) * time.Millisecond
}

// ConnectTimeout returns the ssh connect timeout as a time.Duration
func (c *SlurmConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutS) * time.Second
}

// FrameInterval returns the render interval as a time.Duration
func (c *StripConfig) FrameInterval() time.Duration {
	return time.Duration(c.FrameIntervalMs) * time.Millisecond
}

// IdleInterval returns the idle re-check interval as a time.Duration
func (c *StripConfig) IdleInterval() time.Duration {
	return time.Duration(c.IdleIntervalMs) * time.Millisecond
}

// JoinTimeout returns the render loop shutdown bound as a time.Duration
func (c *StripConfig) JoinTimeout() time.Duration {
	return time.Duration(c.JoinTimeoutMs) * time.Millisecond
}

// PinList returns the configured line offsets in node order.
func (c *NodesConfig) PinList() []int {
	nodes := make([]string, 0, len(c.Pins))
	for n := range c.Pins {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	pins := make([]int, len(nodes))
	for i, n := range nodes {
		pins[i] = c.Pins[n]
	}
	return pins
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Slurm defaults
	viper.SetDefault("slurm.host", defaults.Slurm.Host)
	viper.SetDefault("slurm.user", defaults.Slurm.User)
	viper.SetDefault("slurm.container", defaults.Slurm.Container)
	viper.SetDefault("slurm.ssh_command", defaults.Slurm.SSHCommand)
	viper.SetDefault("slurm.query_timeout_ms", defaults.Slurm.QueryTimeoutMs)
	viper.SetDefault("slurm.connect_timeout_s", defaults.Slurm.ConnectTimeoutS)

	// Node defaults. Pins are filled in by Load rather than registered here:
	// viper flattens map defaults into per-key entries, which would merge the
	// reference wiring into a user's own pin map.
	viper.SetDefault("nodes.gpio_chip", defaults.Nodes.GPIOChip)
	viper.SetDefault("nodes.groups", defaults.Nodes.Groups)

	// Poll defaults
	viper.SetDefault("poll.interval_s", defaults.Poll.IntervalS)
	viper.SetDefault("poll.startup_test", defaults.Poll.StartupTest)

	// Strip defaults
	viper.SetDefault("strip.enabled", defaults.Strip.Enabled)
	viper.SetDefault("strip.length", defaults.Strip.Length)
	viper.SetDefault("strip.brightness", defaults.Strip.Brightness)
	viper.SetDefault("strip.comet_length", defaults.Strip.CometLength)
	viper.SetDefault("strip.frame_interval_ms", defaults.Strip.FrameIntervalMs)
	viper.SetDefault("strip.idle_interval_ms", defaults.Strip.IdleIntervalMs)
	viper.SetDefault("strip.join_timeout_ms", defaults.Strip.JoinTimeoutMs)
	viper.SetDefault("strip.spi_port", defaults.Strip.SPIPort)
	viper.SetDefault("strip.comets", defaults.Strip.Comets)

	// Hardware defaults
	viper.SetDefault("hardware.simulate", defaults.Hardware.Simulate)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.file", defaults.Logging.File)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// Preview defaults
	viper.SetDefault("preview.enabled", defaults.Preview.Enabled)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if len(cfg.Nodes.Pins) == 0 {
		cfg.Nodes.Pins = DefaultPins()
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	// Fall back to ~/.config/slurmled
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + AppName
	}
	return filepath.Join(home, ".config", AppName)
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
