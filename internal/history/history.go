package history

import (
	"sync"

	"autoheal/internal/domain"
)

// Store keeps a bounded in-memory window of completed recovery attempts.
// Attempts are not persisted anywhere else; this window exists for the
// read-only operations endpoint and tests.
// Params: capacity bound and RWMutex-guarded ring.
// Returns: newest-first attempt snapshots.
type Store struct {
	mu       sync.RWMutex
	capacity int
	attempts []domain.RecoveryAttempt
	next     int
	filled   bool
}

// New creates an attempt history store.
// Params: capacity; zero or negative disables recording.
// Returns: initialized store.
func New(capacity int) *Store {
	if capacity < 0 {
		capacity = 0
	}
	return &Store{
		capacity: capacity,
		attempts: make([]domain.RecoveryAttempt, capacity),
	}
}

// Record appends one terminal attempt, evicting the oldest when full.
// Params: completed attempt snapshot (copied by value).
// Returns: none.
func (s *Store) Record(attempt domain.RecoveryAttempt) {
	if s.capacity == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[s.next] = attempt
	s.next++
	if s.next == s.capacity {
		s.next = 0
		s.filled = true
	}
}

// Recent returns up to limit attempts, newest first.
// Params: limit; non-positive or oversized limits return the full window.
// Returns: attempt snapshot slice owned by the caller.
func (s *Store) Recent(limit int) []domain.RecoveryAttempt {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.next
	if s.filled {
		size = s.capacity
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]domain.RecoveryAttempt, 0, limit)
	for i := 0; i < limit; i++ {
		index := s.next - 1 - i
		if index < 0 {
			index += s.capacity
		}
		out = append(out, s.attempts[index])
	}
	return out
}

// Len returns the number of recorded attempts currently held.
// Params: none.
// Returns: window size between 0 and capacity.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.filled {
		return s.capacity
	}
	return s.next
}
