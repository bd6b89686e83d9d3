package logging

import (
	"strings"
	"sync"
)

// ProgressSampler suppresses repetitive progress logs while preserving signal
// when a transfer crosses a percentage bucket. Buckets are tracked per key
// (typically an accession), so concurrent transfers do not mask each other.
type ProgressSampler struct {
	bucketSize float64

	mu      sync.Mutex
	buckets map[string]int
}

// NewProgressSampler constructs a sampler that emits when the percent crosses
// bucket boundaries (default 5%) or when a key is seen for the first time.
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	return &ProgressSampler{bucketSize: bucketSize, buckets: make(map[string]int)}
}

// ShouldLog reports whether a progress event for key should be logged.
// Percent can be negative to indicate "unknown"; such events only log the
// first time a key is seen. Safe for concurrent use.
func (s *ProgressSampler) ShouldLog(key string, percent float64) bool {
	if s == nil {
		return true
	}
	key = strings.TrimSpace(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	last, seen := s.buckets[key]
	if !seen {
		last = -1
	}
	emit := !seen
	if percent >= 0 {
		bucket := int(percent / s.bucketSize)
		if percent >= 100 {
			bucket = int(100 / s.bucketSize)
		}
		if bucket > last {
			last = bucket
			emit = true
		}
	}
	s.buckets[key] = last
	return emit
}

// Forget drops the state for key (e.g. when its transfer finishes).
func (s *ProgressSampler) Forget(key string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.buckets, strings.TrimSpace(key))
	s.mu.Unlock()
}

// Reset clears all sampler state.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.buckets = make(map[string]int)
	s.mu.Unlock()
}
