// Package artifact holds binary job outputs in process memory.
//
// Each (job, item index) slot is written exactly once by the worker that
// owned the item and is read-only afterwards. Nothing is ever persisted to
// disk; artifacts live exactly as long as the owning job record.
package artifact

import (
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned when no artifact exists for the requested slot.
	ErrNotFound = errors.New("artifact not found")
	// ErrAlreadyStored is returned on a second write to the same slot.
	ErrAlreadyStored = errors.New("artifact slot already written")
)

type key struct {
	jobID string
	index int
}

// Store maps (job id, item index) to a binary payload.
type Store struct {
	mu         sync.RWMutex
	blobs      map[key][]byte
	totalBytes int64
}

// NewStore creates an empty artifact store.
func NewStore() *Store {
	return &Store{blobs: make(map[key][]byte)}
}

// Put stores the payload for a slot. Each slot may be written once.
func (s *Store) Put(jobID string, index int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{jobID: jobID, index: index}
	if _, ok := s.blobs[k]; ok {
		return ErrAlreadyStored
	}
	s.blobs[k] = data
	s.totalBytes += int64(len(data))
	return nil
}

// Get returns the payload for a slot.
func (s *Store) Get(jobID string, index int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key{jobID: jobID, index: index}]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

// DeleteJob releases every artifact owned by the job and returns the number
// of bytes freed.
func (s *Store) DeleteJob(jobID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var freed int64
	for k, data := range s.blobs {
		if k.jobID == jobID {
			freed += int64(len(data))
			delete(s.blobs, k)
		}
	}
	s.totalBytes -= freed
	return freed
}

// TotalBytes reports how much payload memory the store currently holds.
func (s *Store) TotalBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalBytes
}

// Count reports the number of stored artifacts.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
