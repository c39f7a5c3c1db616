// Package progress holds the in-memory status of running download
// sessions. Jobs write into it as they advance; the progress endpoint
// reads the latest snapshot per session.
package progress

import (
	"sync"
	"time"
)

// Snapshot is the last reported state of one download session
type Snapshot struct {
	Message   string    `json:"message"`
	Progress  float64   `json:"progress"`
	Error     string    `json:"error,omitempty"`
	Completed bool      `json:"completed"`
	FilePath  string    `json:"-"`
	Timestamp time.Time `json:"-"`
}

// Store is a concurrency-safe map of session ID to latest snapshot
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{snapshots: make(map[string]Snapshot)}
}

// Update records a non-terminal progress snapshot for a session
func (s *Store) Update(sessionID, message string, progress float64) {
	s.set(sessionID, Snapshot{Message: message, Progress: progress})
}

// Complete marks a session as finished, recording the artifact path
func (s *Store) Complete(sessionID, message, filePath string) {
	s.set(sessionID, Snapshot{
		Message:   message,
		Progress:  100,
		Completed: true,
		FilePath:  filePath,
	})
}

// Fail marks a session as failed with an explanatory error
func (s *Store) Fail(sessionID, message, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.snapshots[sessionID]
	s.snapshots[sessionID] = Snapshot{
		Message:   message,
		Progress:  prev.Progress,
		Error:     errMsg,
		Timestamp: time.Now(),
	}
}

// Get returns the latest snapshot for a session
func (s *Store) Get(sessionID string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[sessionID]
	return snap, ok
}

// Delete removes a session's snapshot
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, sessionID)
}

// Prune removes snapshots older than maxAge and returns how many were
// dropped. Terminal snapshots linger so late pollers still see them;
// the caller decides the retention window.
func (s *Store) Prune(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, snap := range s.snapshots {
		if snap.Timestamp.Before(cutoff) {
			delete(s.snapshots, id)
			removed++
		}
	}
	return removed
}

func (s *Store) set(sessionID string, snap Snapshot) {
	snap.Timestamp = time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[sessionID] = snap
}
