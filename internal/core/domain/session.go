package domain

import (
	"fmt"
	"sync"
	"time"
)

type SessionID string

type SessionState int

const (
	SessionStarting SessionState = iota
	SessionRunning
	SessionFailed
	SessionStopped
)

func (s SessionState) String() string {
	switch s {
	case SessionStarting:
		return "starting"
	case SessionRunning:
		return "running"
	case SessionFailed:
		return "failed"
	case SessionStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s SessionState) Terminal() bool {
	return s == SessionFailed || s == SessionStopped
}

// RelaySession ties a user to the relay process currently running on their behalf.
// Sessions are compared by pointer identity.
type RelaySession struct {
	ID          SessionID
	Owner       UserID
	SourceURL   string
	Destination string // without stream key
	Handle      ProcessHandle
	StartedAt   time.Time

	mu      sync.Mutex
	state   SessionState
	endedAt time.Time
}

func NewRelaySession(id SessionID, owner UserID, req StreamRequest, handle ProcessHandle) *RelaySession {
	return &RelaySession{
		ID:          id,
		Owner:       owner,
		SourceURL:   req.SourceURL,
		Destination: req.DestinationURL,
		Handle:      handle,
		StartedAt:   time.Now(),
		state:       SessionStarting,
	}
}

func (s *RelaySession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EndedAt is zero until the session reaches a terminal state.
func (s *RelaySession) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// Transition moves the session to next if the edge is legal and reports whether it did.
func (s *RelaySession) Transition(next SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !canTransition(s.state, next) {
		return false
	}
	s.state = next
	if next.Terminal() {
		s.endedAt = time.Now()
	}
	return true
}

func canTransition(from, to SessionState) bool {
	switch from {
	case SessionStarting:
		return to == SessionRunning || to == SessionFailed || to == SessionStopped
	case SessionRunning:
		return to == SessionFailed || to == SessionStopped
	default:
		return false
	}
}

func (s *RelaySession) String() string {
	return fmt.Sprintf("session %s (user %s, %s)", s.ID, s.Owner, s.State())
}

// RelayInfo is a read-only view of a session, safe to serialize.
type RelayInfo struct {
	SessionID   SessionID `json:"session_id"`
	UserID      UserID    `json:"user_id"`
	SourceURL   string    `json:"source_url"`
	Destination string    `json:"destination"`
	State       string    `json:"state"`
	PID         int       `json:"pid"`
	StartedAt   time.Time `json:"started_at"`
	Uptime      string    `json:"uptime"`
}

func (s *RelaySession) Info() RelayInfo {
	info := RelayInfo{
		SessionID:   s.ID,
		UserID:      s.Owner,
		SourceURL:   s.SourceURL,
		Destination: s.Destination,
		State:       s.State().String(),
		StartedAt:   s.StartedAt,
		Uptime:      time.Since(s.StartedAt).Truncate(time.Second).String(),
	}
	if s.Handle != nil {
		info.PID = s.Handle.PID()
	}
	return info
}
