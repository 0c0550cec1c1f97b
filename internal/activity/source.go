// Package activity reports what the cluster scheduler is doing: which nodes
// have running work and which partitions have running jobs.
//
// Sources never fail loudly. Every query returns a usable (possibly empty)
// set alongside its error, so a broken transport reads as "no activity" for
// one poll and corrects itself on the next.
package activity

import (
	"context"
	"sort"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/slurmled/internal/errors"
)

// Source yields scheduler facts.
type Source interface {
	// ActiveNodes returns the lowercase IDs of nodes with running work.
	ActiveNodes(ctx context.Context) (map[string]bool, error)
	// ActivePartitions returns the lowercase names of partitions that have
	// at least one running job.
	ActivePartitions(ctx context.Context) (map[string]bool, error)
	// Close releases the transport and aborts in-flight queries.
	Close() error
}

// Snapshot is the result of one poll.
type Snapshot struct {
	Nodes      map[string]bool
	Partitions map[string]bool
	Duration   time.Duration
	Err        error // joined query errors, nil on success
}

// Failed reports whether any query in the poll failed.
func (s Snapshot) Failed() bool { return s.Err != nil }

// NodeList returns the active node IDs sorted.
func (s Snapshot) NodeList() []string { return sortedKeys(s.Nodes) }

// PartitionList returns the active partitions sorted.
func (s Snapshot) PartitionList() []string { return sortedKeys(s.Partitions) }

// Poll runs both queries concurrently. A panicking source is converted into
// an error and an empty result; Poll itself never panics and never returns
// nil maps.
func Poll(ctx context.Context, src Source) Snapshot {
	start := time.Now()

	var (
		nodes, partitions       map[string]bool
		nodesErr, partitionsErr error
	)

	var wg conc.WaitGroup
	wg.Go(func() {
		nodes, nodesErr = src.ActiveNodes(ctx)
	})
	wg.Go(func() {
		partitions, partitionsErr = src.ActivePartitions(ctx)
	})

	var panicErr error
	if r := wg.WaitAndRecover(); r != nil {
		panicErr = errors.NewSourceError("query panicked", r.AsError())
	}

	if nodes == nil {
		nodes = map[string]bool{}
	}
	if partitions == nil {
		partitions = map[string]bool{}
	}

	return Snapshot{
		Nodes:      nodes,
		Partitions: partitions,
		Duration:   time.Since(start),
		Err:        errors.Join(nodesErr, partitionsErr, panicErr),
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
