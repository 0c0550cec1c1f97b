package activity

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/slurmled/internal/errors"
	"github.com/Iron-Ham/slurmled/internal/logging"
)

// Scheduler commands, run inside the controller container.
const (
	sinfoCommand  = `sinfo -N -h -o "%N %T"`
	squeueCommand = `squeue -h -t RUNNING -o "%P"`
)

// SlurmConfig locates the scheduler.
type SlurmConfig struct {
	Host           string        // SSH target host; empty runs locally
	User           string        // SSH user; empty uses the ssh default
	Container      string        // docker container running the controller; empty runs on the host
	SSHCommand     string        // ssh binary, default "ssh"
	QueryTimeout   time.Duration // bound on each query, default 10s
	ConnectTimeout time.Duration // ssh ConnectTimeout, default 5s
}

// Runner executes a command and returns its stdout and stderr.
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// SlurmSource queries sinfo and squeue, over SSH and docker exec when
// configured.
type SlurmSource struct {
	cfg    SlurmConfig
	run    Runner
	logger *logging.Logger

	// closed is cancelled by Close and aborts in-flight queries.
	closed context.Context
	close  context.CancelFunc
	once   sync.Once
}

// SlurmOption configures a SlurmSource.
type SlurmOption func(*SlurmSource)

// WithRunner replaces ExecRunner.
func WithRunner(r Runner) SlurmOption {
	return func(s *SlurmSource) {
		s.run = r
	}
}

// WithLogger sets the logger for the source.
func WithLogger(logger *logging.Logger) SlurmOption {
	return func(s *SlurmSource) {
		s.logger = logger
	}
}

// NewSlurmSource creates a SlurmSource.
func NewSlurmSource(cfg SlurmConfig, opts ...SlurmOption) *SlurmSource {
	if cfg.SSHCommand == "" {
		cfg.SSHCommand = "ssh"
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	s := &SlurmSource{
		cfg:    cfg,
		run:    ExecRunner,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NopLogger()
	}
	s.closed, s.close = context.WithCancel(context.Background())
	return s
}

// ActiveNodes runs sinfo and returns nodes whose state is neither idle,
// down nor drained.
func (s *SlurmSource) ActiveNodes(ctx context.Context) (map[string]bool, error) {
	out, err := s.query(ctx, "sinfo", sinfoCommand)
	if err != nil {
		return map[string]bool{}, err
	}
	s.logger.Debug("sinfo output", "stdout", strings.TrimSpace(out))
	return ParseNodeStates(out), nil
}

// ActivePartitions runs squeue for running jobs and returns their
// partitions.
func (s *SlurmSource) ActivePartitions(ctx context.Context) (map[string]bool, error) {
	out, err := s.query(ctx, "squeue", squeueCommand)
	if err != nil {
		return map[string]bool{}, err
	}
	partitions := ParsePartitions(out)
	s.logger.Debug("active partitions", "partitions", sortedKeys(partitions))
	return partitions, nil
}

// Close aborts in-flight queries; later queries fail immediately.
func (s *SlurmSource) Close() error {
	s.once.Do(s.close)
	return nil
}

// Command returns the argv used to run remote, for logging and tests.
func (s *SlurmSource) Command(remote string) []string {
	if s.cfg.Container != "" {
		remote = "docker exec " + s.cfg.Container + " " + remote
	}
	if s.cfg.Host == "" {
		return []string{"sh", "-c", remote}
	}

	target := s.cfg.Host
	if s.cfg.User != "" {
		target = s.cfg.User + "@" + s.cfg.Host
	}
	connect := int(s.cfg.ConnectTimeout / time.Second)
	if connect < 1 {
		connect = 1
	}
	return []string{
		s.cfg.SSHCommand,
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=" + strconv.Itoa(connect),
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		target,
		remote,
	}
}

func (s *SlurmSource) query(ctx context.Context, name, remote string) (string, error) {
	if s.closed.Err() != nil {
		return "", errors.NewSourceError(name+" on closed source", errors.ErrReleased).WithHost(s.cfg.Host)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	stop := context.AfterFunc(s.closed, cancel)
	defer stop()

	argv := s.Command(remote)
	stdout, stderr, err := s.run(ctx, argv[0], argv[1:]...)
	if err == nil {
		return string(stdout), nil
	}

	var qerr error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		qerr = errors.NewTimeoutError(name, s.cfg.QueryTimeout).WithCause(err)
		s.logger.Warn("scheduler query timed out", "query", name, "host", s.cfg.Host, "timeout", s.cfg.QueryTimeout.String())
	} else {
		qerr = errors.NewSourceError(name+" failed", err).
			WithHost(s.cfg.Host).
			WithCommand(remote).
			WithStderr(strings.TrimSpace(string(stderr)))
		s.logger.Warn("scheduler query failed", "query", name, "host", s.cfg.Host, "error", qerr)
	}
	return "", qerr
}

// ParseNodeStates parses `sinfo -N -h -o "%N %T"` output into the set of
// active nodes.
func ParseNodeStates(out string) map[string]bool {
	active := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if IsActiveState(fields[1]) {
			active[strings.ToLower(fields[0])] = true
		}
	}
	return active
}

// IsActiveState reports whether a sinfo node state means work is running.
// Allocated, mixed and completing nodes are active; anything idle, down or
// draining is not, including flagged variants such as "idle~" or "drained*".
func IsActiveState(state string) bool {
	state = strings.ToLower(state)
	for _, inactive := range []string{"idle", "down", "drain"} {
		if strings.Contains(state, inactive) {
			return false
		}
	}
	return state != ""
}

// ParsePartitions parses `squeue -h -t RUNNING -o "%P"` output.
func ParsePartitions(out string) map[string]bool {
	partitions := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		p := strings.ToLower(strings.TrimSpace(line))
		if p != "" {
			partitions[p] = true
		}
	}
	return partitions
}
