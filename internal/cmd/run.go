package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/Iron-Ham/slurmled/internal/config"
	"github.com/Iron-Ham/slurmled/internal/preview"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Monitor the cluster and drive the LEDs",
	Long: `Poll the SLURM scheduler and mirror its activity on the node LEDs and
the LED strip until interrupted with Ctrl+C or SIGTERM.

Hardware that cannot be claimed is simulated and the monitor keeps running.
Changes to poll.interval_s in the config file apply without a restart.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	addHardwareFlags(runCmd)
	runCmd.Flags().IntP("interval", "i", 0, "poll interval in seconds (default 5)")
	runCmd.Flags().String("host", "", "SLURM controller host reached over SSH (empty runs locally)")
	runCmd.Flags().StringP("user", "u", "", "SSH user")
	runCmd.Flags().String("container", "", "docker container running the SLURM commands")
	runCmd.Flags().Bool("no-strip", false, "disable the LED strip")
	runCmd.Flags().Int("strip-leds", 0, "number of LEDs on the strip (default 60)")
	runCmd.Flags().Float64("strip-brightness", 0, "strip brightness 0.0-1.0 (default 1.0)")
	runCmd.Flags().Bool("no-test", false, "skip the LED test sequence at startup")
	runCmd.Flags().Bool("preview", false, "show a live terminal preview of the LEDs")
	runCmd.Flags().Bool("demo", false, "light every node and partition instead of querying SLURM")

	_ = viper.BindPFlag("poll.interval_s", runCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("slurm.host", runCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("slurm.user", runCmd.Flags().Lookup("user"))
	_ = viper.BindPFlag("slurm.container", runCmd.Flags().Lookup("container"))
	_ = viper.BindPFlag("strip.length", runCmd.Flags().Lookup("strip-leds"))
	_ = viper.BindPFlag("strip.brightness", runCmd.Flags().Lookup("strip-brightness"))
	_ = viper.BindPFlag("preview.enabled", runCmd.Flags().Lookup("preview"))
}

// addHardwareFlags registers the flags shared by run and test.
func addHardwareFlags(c *cobra.Command) {
	c.Flags().BoolP("simulate", "s", false, "simulate GPIO and strip output")
	c.Flags().BoolP("verbose", "v", false, "enable debug logging")
}

// loadConfig loads the configuration and applies the flags that only ever
// relax it.
func loadConfig(c *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if simulate, _ := c.Flags().GetBool("simulate"); simulate {
		cfg.Hardware.Simulate = true
	}
	if verbose, _ := c.Flags().GetBool("verbose"); verbose {
		cfg.Logging.Level = "debug"
	}
	if f := c.Flags().Lookup("no-strip"); f != nil && f.Changed {
		cfg.Strip.Enabled = false
	}
	if f := c.Flags().Lookup("no-test"); f != nil && f.Changed {
		cfg.Poll.StartupTest = false
	}
	return cfg, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	previewing := cfg.Preview.Enabled
	if previewing && !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: stdout is not a terminal, preview disabled")
		previewing = false
	}

	logger, err := CreateLogger(cfg, previewing)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	lock, err := claimHardware(cfg)
	if err != nil {
		return err
	}
	if lock != nil {
		defer func() { _ = lock.Unlock() }()
	}

	demo, _ := cmd.Flags().GetBool("demo")
	a, err := newApp(cfg, logger, appOptions{demo: demo, preview: previewing})
	if err != nil {
		return err
	}

	if path := viper.ConfigFileUsed(); path != "" {
		viper.OnConfigChange(func(e fsnotify.Event) {
			next, err := config.Load()
			if err != nil {
				logger.Warn("ignoring invalid config change", "file", e.Name, "error", err)
				return
			}
			if err := a.monitor.SetPollInterval(next.Poll.PollInterval()); err != nil {
				logger.Warn("ignoring poll interval change", "error", err)
			}
		})
		viper.WatchConfig()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !previewing {
		return a.monitor.Run(ctx)
	}

	// Quitting the preview stops the monitor and vice versa.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var runErr error
	var wg conc.WaitGroup
	wg.Go(func() {
		defer cancel()
		runErr = a.monitor.Run(ctx)
	})

	previewErr := preview.Run(ctx, a.state, "slurmled "+Version, os.Stdin, os.Stdout)
	cancel()
	wg.Wait()

	if runErr != nil {
		return runErr
	}
	return previewErr
}
