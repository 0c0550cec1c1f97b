package activity

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/slurmled/internal/errors"
	"github.com/Iron-Ham/slurmled/internal/logging"
	"github.com/Iron-Ham/slurmled/internal/testutil"
)

const sinfoSample = `c1 allocated
c2 idle
Q1 mixed
q2 drained*
c3 down~

c4 completing
garbage
`

func TestParseNodeStates(t *testing.T) {
	got := ParseNodeStates(sinfoSample)

	want := map[string]bool{"c1": true, "q1": true, "c4": true}
	if len(got) != len(want) {
		t.Fatalf("ParseNodeStates() = %v, want %v", got, want)
	}
	for node := range want {
		if !got[node] {
			t.Errorf("%s should be active", node)
		}
	}
}

func TestIsActiveState(t *testing.T) {
	tests := []struct {
		state string
		want  bool
	}{
		{"allocated", true},
		{"mixed", true},
		{"completing", true},
		{"ALLOCATED+", true},
		{"idle", false},
		{"idle~", false},
		{"down*", false},
		{"drained", false},
		{"draining", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			if got := IsActiveState(tt.state); got != tt.want {
				t.Errorf("IsActiveState(%q) = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

func TestParsePartitions(t *testing.T) {
	got := ParsePartitions("normal\n  Quantum \nnormal\n\n")
	if len(got) != 2 || !got["normal"] || !got["quantum"] {
		t.Errorf("ParsePartitions() = %v", got)
	}
	if len(ParsePartitions("")) != 0 {
		t.Error("empty output should yield no partitions")
	}
}

func TestSlurmSource_Command(t *testing.T) {
	tests := []struct {
		name string
		cfg  SlurmConfig
		want string
	}{
		{
			name: "ssh and docker",
			cfg:  SlurmConfig{Host: "rasqberry", User: "pi", Container: "slurmctld"},
			want: "ssh -o BatchMode=yes -o ConnectTimeout=5 -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null pi@rasqberry docker exec slurmctld sinfo",
		},
		{
			name: "ssh without user",
			cfg:  SlurmConfig{Host: "head", ConnectTimeout: 2 * time.Second},
			want: "ssh -o BatchMode=yes -o ConnectTimeout=2 -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null head sinfo",
		},
		{
			name: "local container",
			cfg:  SlurmConfig{Container: "slurmctld"},
			want: "sh -c docker exec slurmctld sinfo",
		},
		{
			name: "local host",
			cfg:  SlurmConfig{},
			want: "sh -c sinfo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(NewSlurmSource(tt.cfg).Command("sinfo"), " ")
			if got != tt.want {
				t.Errorf("Command() =\n  %s\nwant\n  %s", got, tt.want)
			}
		})
	}
}

// fakeRunner answers by matching the remote command.
type fakeRunner struct {
	mu       sync.Mutex
	argv     [][]string
	outputs  map[string]string
	err      error
	stderr   string
	blocking bool
}

func (f *fakeRunner) run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.argv = append(f.argv, append([]string{name}, args...))
	blocking, err, stderr := f.blocking, f.err, f.stderr
	f.mu.Unlock()

	if blocking {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}
	if err != nil {
		return nil, []byte(stderr), err
	}
	remote := args[len(args)-1]
	for prefix, out := range f.outputs {
		if strings.Contains(remote, prefix) {
			return []byte(out), nil, nil
		}
	}
	return nil, nil, nil
}

func TestSlurmSource_Queries(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{
		"sinfo":  sinfoSample,
		"squeue": "quantum\n",
	}}
	src := NewSlurmSource(SlurmConfig{Host: "rasqberry", User: "pi", Container: "slurmctld"}, WithRunner(r.run))

	nodes, err := src.ActiveNodes(context.Background())
	if err != nil {
		t.Fatalf("ActiveNodes() error = %v", err)
	}
	if !nodes["c1"] || nodes["c2"] {
		t.Errorf("ActiveNodes() = %v", nodes)
	}

	partitions, err := src.ActivePartitions(context.Background())
	if err != nil {
		t.Fatalf("ActivePartitions() error = %v", err)
	}
	if !partitions["quantum"] || partitions["normal"] {
		t.Errorf("ActivePartitions() = %v", partitions)
	}

	remote := r.argv[0][len(r.argv[0])-1]
	if remote != `docker exec slurmctld sinfo -N -h -o "%N %T"` {
		t.Errorf("remote command = %q", remote)
	}
}

func TestSlurmSource_FailureYieldsEmptyResult(t *testing.T) {
	var buf bytes.Buffer
	r := &fakeRunner{err: errors.New("exit status 255"), stderr: "Connection refused\n"}
	src := NewSlurmSource(SlurmConfig{Host: "rasqberry"},
		WithRunner(r.run),
		WithLogger(logging.NewWriterLogger(&buf, "WARN")))

	nodes, err := src.ActiveNodes(context.Background())
	if nodes == nil || len(nodes) != 0 {
		t.Errorf("ActiveNodes() = %v, want empty non-nil set", nodes)
	}

	var srcErr *errors.SourceError
	if !errors.As(err, &srcErr) {
		t.Fatalf("error = %T %v, want *SourceError", err, err)
	}
	if !errors.Is(err, errors.ErrQueryFailed) {
		t.Error("source errors should match ErrQueryFailed")
	}
	if !strings.Contains(err.Error(), "Connection refused") {
		t.Errorf("error should carry stderr: %v", err)
	}
	if !errors.IsRetryable(err) {
		t.Error("transport failures are retryable")
	}
	if !strings.Contains(buf.String(), "scheduler query failed") {
		t.Errorf("failure should be logged as a warning: %s", buf.String())
	}
}

func TestSlurmSource_Timeout(t *testing.T) {
	r := &fakeRunner{blocking: true}
	src := NewSlurmSource(SlurmConfig{QueryTimeout: 10 * time.Millisecond}, WithRunner(r.run))

	start := time.Now()
	partitions, err := src.ActivePartitions(context.Background())
	if time.Since(start) > time.Second {
		t.Error("query was not bounded by its timeout")
	}
	if len(partitions) != 0 {
		t.Errorf("ActivePartitions() = %v, want empty", partitions)
	}
	if !errors.Is(err, errors.ErrTimeout) {
		t.Errorf("error = %v, want a timeout", err)
	}
}

func TestSlurmSource_CloseAbortsQueries(t *testing.T) {
	r := &fakeRunner{blocking: true}
	src := NewSlurmSource(SlurmConfig{QueryTimeout: time.Minute}, WithRunner(r.run))

	done := make(chan error, 1)
	go func() {
		_, err := src.ActiveNodes(context.Background())
		done <- err
	}()

	// Wait for the query to be in flight.
	for {
		r.mu.Lock()
		n := len(r.argv)
		r.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := src.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case err := <-done:
		if err == nil {
			t.Error("aborted query should fail")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not abort the in-flight query")
	}

	_, err := src.ActiveNodes(context.Background())
	if !errors.Is(err, errors.ErrReleased) {
		t.Errorf("query after Close error = %v, want ErrReleased", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

type panickingSource struct{ StaticSource }

func (p *panickingSource) ActivePartitions(context.Context) (map[string]bool, error) {
	panic("parser bug")
}

func TestPoll(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		src := NewStaticSource([]string{"C2", "c1"}, []string{"normal"})
		snap := Poll(context.Background(), src)

		if snap.Failed() {
			t.Fatalf("unexpected error: %v", snap.Err)
		}
		if got := strings.Join(snap.NodeList(), ","); got != "c1,c2" {
			t.Errorf("NodeList() = %s, want c1,c2", got)
		}
		if got := strings.Join(snap.PartitionList(), ","); got != "normal" {
			t.Errorf("PartitionList() = %s", got)
		}
		if src.Calls() != 2 {
			t.Errorf("Calls() = %d, want 2", src.Calls())
		}
	})

	t.Run("failure is empty not nil", func(t *testing.T) {
		src := NewStaticSource([]string{"c1"}, nil)
		src.Fail(errors.ErrQueryFailed)

		snap := Poll(context.Background(), src)
		if !snap.Failed() {
			t.Error("expected Failed()")
		}
		if snap.Nodes == nil || snap.Partitions == nil || len(snap.Nodes) != 0 {
			t.Errorf("expected empty sets, got %v %v", snap.Nodes, snap.Partitions)
		}
	})

	t.Run("panic is recovered", func(t *testing.T) {
		src := &panickingSource{}
		src.Set([]string{"q1"}, nil)

		snap := Poll(context.Background(), src)
		if !snap.Failed() || !strings.Contains(snap.Err.Error(), "parser bug") {
			t.Errorf("expected recovered panic in error, got %v", snap.Err)
		}
		if !snap.Nodes["q1"] {
			t.Error("the healthy query's result should survive")
		}
		if snap.Partitions == nil {
			t.Error("partitions should be an empty set")
		}
	})
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource(nil, nil)
	src.Fail(errors.New("down"))
	src.Set([]string{"q1"}, []string{"quantum"})

	nodes, err := src.ActiveNodes(context.Background())
	if err != nil || !nodes["q1"] {
		t.Errorf("Set should clear the failure: %v %v", nodes, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.ActivePartitions(ctx); err == nil {
		t.Error("cancelled context should fail the query")
	}

	_ = src.Close()
	if !src.Closed() {
		t.Error("Closed() = false after Close")
	}
}

func TestExecRunner_LocalShell(t *testing.T) {
	testutil.SkipIfNoCommand(t, "sh")

	src := NewSlurmSource(SlurmConfig{QueryTimeout: time.Second})
	defer src.Close()

	argv := src.Command("echo 'c1 allocated'; echo 'c2 idle'; echo warn >&2")
	stdout, stderr, err := ExecRunner(context.Background(), argv[0], argv[1:]...)
	if err != nil {
		t.Fatalf("ExecRunner() error = %v", err)
	}
	if got := ParseNodeStates(string(stdout)); !got["c1"] || got["c2"] {
		t.Errorf("ParseNodeStates(stdout) = %v", got)
	}
	if strings.TrimSpace(string(stderr)) != "warn" {
		t.Errorf("stderr = %q, want warn", stderr)
	}
}
