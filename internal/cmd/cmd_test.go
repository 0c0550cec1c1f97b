package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/slurmled/internal/config"
	"github.com/Iron-Ham/slurmled/internal/filelock"
	"github.com/Iron-Ham/slurmled/internal/logging"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err = root.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "slurmled" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "slurmled")
	}

	expectedCmds := []string{"run", "test", "config", "version"}
	cmdMap := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		cmdMap[cmd.Name()] = true
	}

	for _, expected := range expectedCmds {
		if !cmdMap[expected] {
			t.Errorf("expected subcommand %q not found", expected)
		}
	}
}

func TestRunCommandFlags(t *testing.T) {
	for _, name := range []string{
		"simulate", "interval", "host", "user", "container", "verbose",
		"no-strip", "strip-leds", "strip-brightness", "no-test", "preview", "demo",
	} {
		if runCmd.Flags().Lookup(name) == nil {
			t.Errorf("run is missing --%s", name)
		}
	}
	if runCmd.Flags().ShorthandLookup("s") == nil || runCmd.Flags().ShorthandLookup("i") == nil {
		t.Error("run should accept -s and -i")
	}
}

func TestVersionCommand(t *testing.T) {
	output, err := executeCommand(rootCmd, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(output, "slurmled "+Version) {
		t.Errorf("output = %q", output)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "slurmled.yaml")

	output, err := executeCommand(rootCmd, "config", "init", "--path", path)
	if err != nil {
		t.Fatalf("config init error = %v\n%s", err, output)
	}
	if !strings.Contains(output, "Created config file at "+path) {
		t.Errorf("output = %q", output)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	if _, err := executeCommand(rootCmd, "config", "init", "--path", path); err == nil {
		t.Error("second config init should refuse to overwrite")
	}

	output, err = executeCommand(rootCmd, "config", "show")
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	for _, want := range []string{"interval_s: 5", "comet_length: 10", "partition: quantum"} {
		if !strings.Contains(output, want) {
			t.Errorf("config show missing %q:\n%s", want, output)
		}
	}
}

func TestConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	output, err := executeCommand(rootCmd, "config", "path")
	if err != nil {
		t.Fatalf("config path error = %v", err)
	}
	if !strings.Contains(output, filepath.Join(dir, "slurmled", "config.yaml")) {
		t.Errorf("output should mention the XDG path:\n%s", output)
	}
	if !strings.Contains(output, "SLURMLED_") {
		t.Error("output should mention the environment prefix")
	}
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	config.SetDefaults()

	c := &cobra.Command{Use: "x"}
	addHardwareFlags(c)
	c.Flags().Bool("no-strip", false, "")
	c.Flags().Bool("no-test", false, "")
	if err := c.Flags().Parse([]string{"-s", "-v", "--no-strip", "--no-test"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if !cfg.Hardware.Simulate || cfg.Logging.Level != "debug" || cfg.Strip.Enabled || cfg.Poll.StartupTest {
		t.Errorf("flags not applied: %+v %+v %+v %+v", cfg.Hardware, cfg.Logging, cfg.Strip.Enabled, cfg.Poll)
	}
}

func TestCreateLogger_PreviewLogsToFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	cfg := config.Default()
	logger, err := CreateLogger(cfg, true)
	if err != nil {
		t.Fatalf("CreateLogger() error = %v", err)
	}
	logger.Info("hello")
	_ = logger.Close()

	data, err := os.ReadFile(filepath.Join(dir, "slurmled", "slurmled.log"))
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), `"run_id"`) || !strings.Contains(string(data), "hello") {
		t.Errorf("log file = %s", data)
	}
}

func TestNewApp_DemoDrivesPreviewState(t *testing.T) {
	cfg := config.Default()
	cfg.Hardware.Simulate = true
	cfg.Strip.Length = 10

	a, err := newApp(cfg, logging.NopLogger(), appOptions{demo: true, preview: true})
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer func() { _ = a.monitor.Shutdown() }()

	snap := a.monitor.Poll(context.Background())
	if len(snap.Nodes) != len(cfg.Nodes.Pins) {
		t.Errorf("demo source reported %d nodes, want %d", len(snap.Nodes), len(cfg.Nodes.Pins))
	}

	lit, frame, partitions, poll := a.state.Snapshot()
	for node := range cfg.Nodes.Pins {
		if !lit[node] {
			t.Errorf("preview shows %s off", node)
		}
	}
	if len(frame) != 10 {
		t.Errorf("len(frame) = %d, want 10", len(frame))
	}
	if strings.Join(partitions, ",") != "normal,quantum" {
		t.Errorf("partitions = %v", partitions)
	}
	if poll.Seq != 1 {
		t.Errorf("poll.Seq = %d, want 1", poll.Seq)
	}
}

func TestNewApp_RejectsBadGroups(t *testing.T) {
	cfg := config.Default()
	cfg.Hardware.Simulate = true
	cfg.Nodes.Groups = []config.NodeGroupConfig{{Name: "Broken", Pattern: "c["}}

	if _, err := newApp(cfg, logging.NopLogger(), appOptions{demo: true}); err == nil {
		t.Error("newApp should fail on an invalid group pattern")
	}
}

func TestClaimHardware(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	cfg := config.Default()
	cfg.Hardware.Simulate = true
	lock, err := claimHardware(cfg)
	if err != nil || lock != nil {
		t.Fatalf("simulated claimHardware = %v, %v; want nil, nil", lock, err)
	}

	cfg.Hardware.Simulate = false
	lock, err = claimHardware(cfg)
	if err != nil {
		t.Fatalf("claimHardware: %v", err)
	}
	defer func() { _ = lock.Unlock() }()

	_, err = claimHardware(cfg)
	if !errors.Is(err, filelock.ErrHeld) {
		t.Fatalf("second claimHardware error = %v, want ErrHeld", err)
	}
	if !strings.Contains(err.Error(), "another slurmled is driving gpiochip0") {
		t.Errorf("error = %q", err.Error())
	}
}
