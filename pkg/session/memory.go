package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStoreFull is returned by Put when the store is at its session cap and
// the caller does not already hold a session.
var ErrStoreFull = errors.New("session store full")

// MemoryStore implements Store using an in-memory map keyed by caller ID.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// maxSessions caps concurrent sessions; zero means unlimited.
	maxSessions int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMemoryStore creates a new in-memory session store. maxSessions of zero
// disables the cap.
func NewMemoryStore(maxSessions int) *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
	}
}

// Put inserts or replaces the session for its UserID.
func (s *MemoryStore) Put(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.UserID]; !exists && s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		// Expired entries do not count against the cap.
		now := time.Now()
		for id, old := range s.sessions {
			if now.After(old.ExpiresAt) {
				delete(s.sessions, id)
			}
		}
		if len(s.sessions) >= s.maxSessions {
			return ErrStoreFull
		}
	}

	s.sessions[sess.UserID] = sess
	return nil
}

// Get retrieves a session by caller ID. Returns nil, nil if absent or
// expired; an expired entry is removed before returning.
func (s *MemoryStore) Get(_ context.Context, userID string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[userID]
	s.mu.RUnlock()

	if !ok {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if sess.Expired() {
		s.evict(userID)
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for expired
	}
	return sess, nil
}

// Delete removes a session. Deleting an absent session is not an error.
func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, userID)
	return nil
}

// List returns all non-expired sessions.
func (s *MemoryStore) List(_ context.Context) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if !sess.Expired() {
			result = append(result, sess)
		}
	}
	return result, nil
}

// Cleanup removes expired sessions. The scan snapshots candidate IDs under
// the read lock and takes the write lock per removal, so a long sweep never
// blocks concurrent authentication.
func (s *MemoryStore) Cleanup(_ context.Context) error {
	s.mu.RLock()
	var expired []string
	for id, sess := range s.sessions {
		if sess.Expired() {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range expired {
		s.evict(id)
	}
	return nil
}

// evict removes the session only if it is still expired, so a concurrent
// refresh is never clobbered.
func (s *MemoryStore) evict(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[userID]; ok && sess.Expired() {
		delete(s.sessions, userID)
	}
}

// StartSweep starts a background goroutine that periodically removes expired
// sessions. The goroutine is stopped when Close is called.
func (s *MemoryStore) StartSweep(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.Cleanup(ctx)
			}
		}
	}()
}

// Close stops the sweep goroutine and waits for it to exit.
// It is safe to call Close even if StartSweep was never called.
func (s *MemoryStore) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
