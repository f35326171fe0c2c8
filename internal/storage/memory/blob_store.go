package memory

import (
	"context"
	"fmt"
	"sync"
)

// BlobStore keeps raw snapshot bodies in memory for tests.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	// PutErr, when set, is returned by PutObject.
	PutErr error
}

// NewBlobStore constructs a BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string][]byte)}
}

// PutObject stores the data and returns a mem:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PutErr != nil {
		return "", s.PutErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.blobs[path] = buf
	return fmt.Sprintf("mem://%s", path), nil
}

// Get returns a stored blob, for test assertions.
func (s *BlobStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[path]
	return data, ok
}

// Len returns the number of stored blobs.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
