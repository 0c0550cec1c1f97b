// Package testutil provides testing utilities for slurmled tests.
package testutil

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"
)

// WaitTimeout bounds every WaitFor call.
const WaitTimeout = 2 * time.Second

// SyncBuffer is a bytes.Buffer that a logger and a test can share across
// goroutines.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer.
func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything written so far.
func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Count returns how many times substr occurs in the buffer.
func (b *SyncBuffer) Count(substr string) int {
	return strings.Count(b.String(), substr)
}

// Records decodes the buffer as JSON log lines. Lines that are not JSON
// objects are skipped.
func (b *SyncBuffer) Records() []map[string]any {
	var records []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(b.String()))
	for scanner.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err == nil {
			records = append(records, rec)
		}
	}
	return records
}

// WaitFor polls cond until it holds or WaitTimeout passes, failing the test
// with what on timeout.
func WaitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(WaitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// SkipIfNoCommand skips the test if name is not installed.
func SkipIfNoCommand(t *testing.T, name string) {
	t.Helper()

	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not found in PATH, skipping test", name)
	}
}
