package activity

import (
	"context"
	"strings"
	"sync"
)

// StaticSource reports a fixed, settable activity. It backs the simulated
// demo cluster and tests.
type StaticSource struct {
	mu         sync.Mutex
	nodes      map[string]bool
	partitions map[string]bool
	err        error
	calls      int
	closed     bool
}

// NewStaticSource creates a StaticSource with the given active nodes and
// partitions.
func NewStaticSource(nodes, partitions []string) *StaticSource {
	s := &StaticSource{}
	s.Set(nodes, partitions)
	return s
}

// Set replaces the reported activity and clears any error.
func (s *StaticSource) Set(nodes, partitions []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = toSet(nodes)
	s.partitions = toSet(partitions)
	s.err = nil
}

// Fail makes every query return err with an empty result until Set.
func (s *StaticSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// ActiveNodes implements Source.
func (s *StaticSource) ActiveNodes(ctx context.Context) (map[string]bool, error) {
	return s.get(ctx, false)
}

// ActivePartitions implements Source.
func (s *StaticSource) ActivePartitions(ctx context.Context) (map[string]bool, error) {
	return s.get(ctx, true)
}

func (s *StaticSource) get(ctx context.Context, partitions bool) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.nodes
	if partitions {
		m = s.partitions
	}

	s.calls++
	if err := ctx.Err(); err != nil {
		return map[string]bool{}, err
	}
	if s.err != nil {
		return map[string]bool{}, s.err
	}
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, nil
}

// Close implements Source.
func (s *StaticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Calls returns the number of queries answered.
func (s *StaticSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Closed reports whether Close was called.
func (s *StaticSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			out[item] = true
		}
	}
	return out
}
