package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run the LED test sequence once and exit",
	Long: `Light each node LED in turn, turn them off in reverse order, flash all
of them twice and switch everything off. Use it to check the wiring.`,
	RunE: runTest,
}

func init() {
	rootCmd.AddCommand(testCmd)
	addHardwareFlags(testCmd)
}

func runTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// The strip is not part of the diagnostic.
	cfg.Strip.Enabled = false

	logger, err := CreateLogger(cfg, false)
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

	a, err := newApp(cfg, logger, appOptions{demo: true})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.monitor.Diagnose(ctx)
}
