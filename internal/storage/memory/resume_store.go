// Package memory contains in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"sync"

	"github.com/snapradar/archive-crawler/internal/archive"
)

type resumeKey struct {
	domainID string
	source   archive.Source
}

// ResumeStore keeps pagination cursors in a map. Durable only for the
// process lifetime; production uses the Postgres store.
type ResumeStore struct {
	mu     sync.RWMutex
	states map[resumeKey]archive.ResumeState

	// SaveErr, when set, is returned by Save. Lets tests simulate a
	// persistence outage.
	SaveErr error
}

// NewResumeStore constructs a ResumeStore.
func NewResumeStore() *ResumeStore {
	return &ResumeStore{states: make(map[resumeKey]archive.ResumeState)}
}

// Load returns the saved state or archive.ErrNotFound.
func (s *ResumeStore) Load(_ context.Context, domainID string, source archive.Source) (*archive.ResumeState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[resumeKey{domainID: domainID, source: source}]
	if !ok {
		return nil, archive.ErrNotFound
	}
	out := state
	return &out, nil
}

// Save upserts the state keyed by (domainID, source).
func (s *ResumeStore) Save(_ context.Context, state archive.ResumeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.states[resumeKey{domainID: state.DomainID, source: state.Source}] = state
	return nil
}

// States returns a copy of everything saved, for test assertions.
func (s *ResumeStore) States() []archive.ResumeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]archive.ResumeState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	return out
}
