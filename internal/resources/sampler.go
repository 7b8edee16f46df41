package resources

import (
	"sync"
	"time"
)

// Sampler caches snapshots so that several reporters sharing one interval do
// not each pay for a full sample.
type Sampler struct {
	started time.Time
	ttl     time.Duration
	gather  func(time.Time) *Snapshot

	mu   sync.Mutex
	last *Snapshot
}

// NewSampler returns a sampler whose snapshots stay fresh for ttl.
func NewSampler(started time.Time, ttl time.Duration) *Sampler {
	return &Sampler{started: started, ttl: ttl, gather: Gather}
}

// Snapshot returns the cached sample or takes a new one.
func (s *Sampler) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last != nil && time.Since(s.last.Timestamp) < s.ttl {
		return s.last
	}
	s.last = s.gather(s.started)
	return s.last
}
