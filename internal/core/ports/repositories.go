package ports

import (
	"streamrelay/internal/core/domain"
)

// SessionRegistry stores at most one relay session per user. None of its
// operations fail.
type SessionRegistry interface {
	Get(userID domain.UserID) (*domain.RelaySession, bool)
	// Put installs session and returns the one it replaced, or nil.
	Put(userID domain.UserID, session *domain.RelaySession) *domain.RelaySession
	// Remove deletes the entry only if it is still expected.
	Remove(userID domain.UserID, expected *domain.RelaySession) bool
	List() []*domain.RelaySession
	Len() int
}
