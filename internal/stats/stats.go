// Package stats accumulates per-pass-identity counters over the life of a
// run, printed as a summary table once reduction finishes.
package stats

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Counters are the accumulated numbers for one pass identity.
type Counters struct {
	Attempts     int
	Successes    int
	Failures     int
	BytesRemoved int64
	Elapsed      time.Duration
}

// Stats accumulates Counters keyed by pass identity across the whole run.
type Stats struct {
	mu   sync.Mutex
	byID map[string]*Counters
	// order preserves first-seen order for Report, matching the sequence
	// passes ran in rather than an arbitrary map iteration order.
	order []string
}

// New creates an empty Stats accumulator.
func New() *Stats {
	return &Stats{byID: make(map[string]*Counters)}
}

// RecordAttempt tallies one attempt for identity. success indicates whether
// the attempt committed a smaller test case; bytesRemoved is 0 on failure.
func (s *Stats) RecordAttempt(identity string, success bool, bytesRemoved int64, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[identity]
	if !ok {
		c = &Counters{}
		s.byID[identity] = c
		s.order = append(s.order, identity)
	}

	c.Attempts++
	c.Elapsed += elapsed

	if success {
		c.Successes++
		c.BytesRemoved += bytesRemoved
	} else {
		c.Failures++
	}
}

// Snapshot returns a defensive copy of the Counters for identity.
func (s *Stats) Snapshot(identity string) Counters {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.byID[identity]; ok {
		return *c
	}

	return Counters{}
}

// Report renders a fixed-width table of every pass identity's counters, in
// first-seen order.
func (s *Stats) Report() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	identities := make([]string, len(s.order))
	copy(identities, s.order)

	var b strings.Builder

	fmt.Fprintf(&b, "%-28s %8s %8s %8s %14s %10s\n", "pass", "attempts", "success", "failure", "bytes removed", "elapsed")

	for _, id := range identities {
		c := s.byID[id]
		fmt.Fprintf(&b, "%-28s %8d %8d %8d %14d %10s\n",
			id, c.Attempts, c.Successes, c.Failures, c.BytesRemoved, c.Elapsed.Round(time.Millisecond))
	}

	return b.String()
}
