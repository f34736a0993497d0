package memory

import (
	"sort"
	"sync"

	"streamrelay/internal/core/domain"
	"streamrelay/internal/core/ports"
)

// SessionRegistry is the in-process relay registry. A single lock covers the
// whole map; command traffic is human-paced so contention is not a concern.
type SessionRegistry struct {
	sessions map[domain.UserID]*domain.RelaySession
	mu       sync.RWMutex
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[domain.UserID]*domain.RelaySession),
	}
}

var _ ports.SessionRegistry = (*SessionRegistry)(nil)

func (r *SessionRegistry) Get(userID domain.UserID) (*domain.RelaySession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[userID]
	return session, exists
}

func (r *SessionRegistry) Put(userID domain.UserID, session *domain.RelaySession) *domain.RelaySession {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.sessions[userID]
	r.sessions[userID] = session
	return previous
}

func (r *SessionRegistry) Remove(userID domain.UserID, expected *domain.RelaySession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.sessions[userID]
	if !exists || current != expected {
		return false
	}

	delete(r.sessions, userID)
	return true
}

// List returns a snapshot ordered by start time, oldest first.
func (r *SessionRegistry) List() []*domain.RelaySession {
	r.mu.RLock()
	sessions := make([]*domain.RelaySession, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
	return sessions
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
