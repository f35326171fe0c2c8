package filter

import "sync"

// DigestSet is a concurrency-safe set of content digests scoped to one crawl
// job. The orchestrator owns the set and injects it into the filter so that
// cross-source duplicates within a job collapse to a single record.
type DigestSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDigestSet returns an empty set.
func NewDigestSet() *DigestSet {
	return &DigestSet{seen: make(map[string]struct{})}
}

// Add inserts the digest and reports whether it was already present.
func (s *DigestSet) Add(digest string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[digest]; ok {
		return true
	}
	s.seen[digest] = struct{}{}
	return false
}

// Len returns the number of distinct digests seen.
func (s *DigestSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
