package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Iron-Ham/slurmled/internal/activity"
	"github.com/Iron-Ham/slurmled/internal/animation"
	"github.com/Iron-Ham/slurmled/internal/comet"
	"github.com/Iron-Ham/slurmled/internal/config"
	"github.com/Iron-Ham/slurmled/internal/event"
	"github.com/Iron-Ham/slurmled/internal/filelock"
	"github.com/Iron-Ham/slurmled/internal/hardware"
	"github.com/Iron-Ham/slurmled/internal/indicator"
	"github.com/Iron-Ham/slurmled/internal/logging"
	"github.com/Iron-Ham/slurmled/internal/monitor"
	"github.com/Iron-Ham/slurmled/internal/preview"
)

// app is everything one invocation builds from the configuration.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	bus     *event.Bus
	monitor *monitor.Monitor
	state   *preview.State // nil unless the preview is shown
}

type appOptions struct {
	demo    bool // answer polls from a fixed all-active cluster
	preview bool
}

// CreateLogger builds the run logger. When the terminal is taken by the
// preview and no log file is configured, logs go to a file in the config
// directory instead of stderr.
func CreateLogger(cfg *config.Config, previewing bool) (*logging.Logger, error) {
	path := cfg.Logging.File
	if path == "" && previewing {
		path = filepath.Join(config.ConfigDir(), "slurmled.log")
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	rotation := logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	}
	logger, err := logging.NewLogger(path, cfg.Logging.Level, rotation)
	if err != nil {
		return nil, err
	}
	return logger.WithRun(uuid.NewString()), nil
}

// newApp claims the hardware and assembles the monitor. Hardware that cannot
// be claimed is replaced by its simulation.
func newApp(cfg *config.Config, logger *logging.Logger, opts appOptions) (*app, error) {
	bus := event.NewBus(logger.WithComponent("event"))
	a := &app{cfg: cfg, logger: logger, bus: bus}

	gpio := hardware.OpenDiscrete(
		cfg.Nodes.GPIOChip,
		cfg.Nodes.PinList(),
		cfg.Hardware.Simulate,
		logger.WithComponent("gpio"),
	)

	groups := make([]indicator.Group, len(cfg.Nodes.Groups))
	for i, g := range cfg.Nodes.Groups {
		groups[i] = indicator.Group{Name: g.Name, Pattern: g.Pattern, Color: g.Color}
	}
	bank, err := indicator.New(gpio, cfg.Nodes.Pins,
		indicator.WithLogger(logger.WithComponent("indicator")),
		indicator.WithBus(bus),
		indicator.WithGroups(groups),
	)
	if err != nil {
		_ = gpio.Release()
		return nil, err
	}

	var source activity.Source
	if opts.demo {
		source = activity.NewStaticSource(bank.Nodes(), cometPartitions(cfg))
	} else {
		source = activity.NewSlurmSource(activity.SlurmConfig{
			Host:           cfg.Slurm.Host,
			User:           cfg.Slurm.User,
			Container:      cfg.Slurm.Container,
			SSHCommand:     cfg.Slurm.SSHCommand,
			QueryTimeout:   cfg.Slurm.QueryTimeout(),
			ConnectTimeout: cfg.Slurm.ConnectTimeout(),
		}, activity.WithLogger(logger.WithComponent("source")))
	}

	monitorOpts := []monitor.Option{
		monitor.WithLogger(logger.WithComponent("monitor")),
		monitor.WithBus(bus),
		monitor.WithPollInterval(cfg.Poll.PollInterval()),
		monitor.WithStartupTest(cfg.Poll.StartupTest),
		monitor.WithBanner(monitor.Banner{Host: cfg.Slurm.Host, Container: cfg.Slurm.Container}),
	}

	if cfg.Strip.Enabled {
		colors, names := cfg.Strip.CometColors()
		strip := hardware.OpenStripWriter(
			cfg.Strip.SPIPort,
			cfg.Strip.Length,
			cfg.Strip.Brightness,
			cfg.Hardware.Simulate,
			logger.WithComponent("strip"),
		)

		sink := strip
		if opts.preview {
			sink = hardware.Mirror(strip, func(f hardware.Frame) {
				bus.Publish(event.NewFrameRenderedEvent(f))
			})
		}

		engine := animation.New(
			comet.NewRenderer(cfg.Strip.Length, cfg.Strip.CometLength, colors...),
			sink,
			animation.WithFrameInterval(cfg.Strip.FrameInterval()),
			animation.WithIdleInterval(cfg.Strip.IdleInterval()),
			animation.WithJoinTimeout(cfg.Strip.JoinTimeout()),
			animation.WithNames(names...),
			animation.WithLogger(logger.WithComponent("animation")),
			animation.WithBus(bus),
		)
		monitorOpts = append(monitorOpts,
			monitor.WithStrip(engine, strip, names),
			monitor.WithReleaseTimeout(cfg.Strip.JoinTimeout()),
		)
	}

	a.monitor = monitor.New(source, bank, monitorOpts...)

	if opts.preview {
		nodes := make([]preview.Node, 0, len(bank.Nodes()))
		for _, n := range bank.Nodes() {
			nodes = append(nodes, preview.Node{ID: n, Color: bank.ColorOf(n)})
		}
		length := 0
		if cfg.Strip.Enabled {
			length = cfg.Strip.Length
		}
		a.state = preview.NewState(nodes, length)
		a.state.Attach(bus)
	}

	return a, nil
}

// claimHardware takes the per-chip lock so a second monitor cannot fight
// over the same LEDs. Simulated runs touch no hardware and return a nil lock.
func claimHardware(cfg *config.Config) (*filelock.FileLock, error) {
	if cfg.Hardware.Simulate {
		return nil, nil
	}
	lock := filelock.ForChip("", cfg.Nodes.GPIOChip)
	if err := lock.TryLock(); err != nil {
		if errors.Is(err, filelock.ErrHeld) {
			return nil, fmt.Errorf("another slurmled is driving %s (%w)", cfg.Nodes.GPIOChip, err)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", cfg.Nodes.GPIOChip, err)
	}
	return lock, nil
}

func cometPartitions(cfg *config.Config) []string {
	_, names := cfg.Strip.CometColors()
	return names
}
