package testutil

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestSyncBuffer_ConcurrentWrites(t *testing.T) {
	var buf SyncBuffer
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fmt.Fprintf(&buf, "{\"msg\":\"line\",\"n\":%d}\n", i)
		}()
	}
	wg.Wait()

	if got := buf.Count(`"msg":"line"`); got != 10 {
		t.Errorf("Count() = %d, want 10", got)
	}
	if got := len(buf.Records()); got != 10 {
		t.Errorf("len(Records()) = %d, want 10", got)
	}
}

func TestSyncBuffer_RecordsSkipsNonJSON(t *testing.T) {
	var buf SyncBuffer
	_, _ = buf.Write([]byte("plain text\n{\"level\":\"INFO\",\"msg\":\"ok\"}\n"))

	recs := buf.Records()
	if len(recs) != 1 || recs[0]["msg"] != "ok" {
		t.Errorf("Records() = %v", recs)
	}
}

func TestWaitFor(t *testing.T) {
	start := time.Now()
	calls := 0
	WaitFor(t, "three calls", func() bool {
		calls++
		return calls >= 3
	})
	if time.Since(start) > WaitTimeout {
		t.Error("WaitFor should return as soon as cond holds")
	}
}
