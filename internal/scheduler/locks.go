package scheduler

import (
	"sync"
)

// SourceLocks provides per-source mutual exclusion for result delivery.
// Uses a keyed mutex pattern: each source image gets its own mutex, allowing
// concurrent delivery for different sources while serialising deliveries
// for the same source.
type SourceLocks struct {
	mu    sync.Mutex              // Guards the locks map itself
	locks map[string]*sourceMutex // Per-source mutexes
}

type sourceMutex struct {
	sync.Mutex
	refs int // Holders and waiters; the entry is dropped at zero
}

// NewSourceLocks creates a new SourceLocks.
func NewSourceLocks() *SourceLocks {
	return &SourceLocks{
		locks: make(map[string]*sourceMutex),
	}
}

// Lock acquires the mutex for sourceID.
// Creates the mutex on first access if it doesn't exist.
func (s *SourceLocks) Lock(sourceID string) {
	s.mu.Lock()
	m, exists := s.locks[sourceID]
	if !exists {
		m = &sourceMutex{}
		s.locks[sourceID] = m
	}
	m.refs++
	s.mu.Unlock()

	// Acquire outside the map lock to avoid contention
	m.Lock()
}

// Unlock releases the mutex for sourceID.
func (s *SourceLocks) Unlock(sourceID string) {
	s.mu.Lock()
	m, exists := s.locks[sourceID]
	if !exists {
		s.mu.Unlock()
		return
	}
	m.refs--
	if m.refs == 0 {
		delete(s.locks, sourceID)
	}
	s.mu.Unlock()

	m.Unlock()
}

// Len returns the number of sources currently locked or waited on.
func (s *SourceLocks) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
