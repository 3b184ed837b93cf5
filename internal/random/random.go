// Package random provides the randomness used for delays, amounts and proxy selection.
// Everything random in the bot goes through a Source so tests can supply fixed sequences.
package random

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Source returns integers in [0, n).
type Source interface {
	IntN(n int) int
}

// Rand is the default Source backed by math/rand/v2, which is seeded
// automatically and safe for concurrent use.
type Rand struct{}

// IntN returns a random int in [0, n).
func (Rand) IntN(n int) int {
	return rand.IntN(n)
}

// Default returns the process-wide Source.
func Default() Source {
	return Rand{}
}

// Between returns a uniformly chosen integer in [lo, hi], inclusive on both ends.
func Between(src Source, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + src.IntN(hi-lo+1)
}

// Duration returns a uniformly chosen duration in [lo, hi] at millisecond granularity.
func Duration(src Source, lo, hi time.Duration) time.Duration {
	ms := Between(src, int(lo/time.Millisecond), int(hi/time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}

// Sequence replays fixed values, cycling when exhausted. Each value is
// reduced modulo n. Used by tests.
type Sequence struct {
	mu     sync.Mutex
	values []int
	next   int
}

// NewSequence creates a Sequence over values.
func NewSequence(values ...int) *Sequence {
	return &Sequence{values: values}
}

// IntN returns the next value modulo n.
func (s *Sequence) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 || n <= 0 {
		return 0
	}
	v := s.values[s.next%len(s.values)]
	s.next++
	if v < 0 {
		v = -v
	}
	return v % n
}
