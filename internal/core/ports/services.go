package ports

import (
	"context"
	"time"

	"streamrelay/internal/core/domain"
)

// StartResult is returned by a successful StartRelay.
type StartResult struct {
	Session  *domain.RelaySession
	Replaced *domain.RelaySession
}

type RelayService interface {
	StartRelay(ctx context.Context, userID domain.UserID, req domain.StreamRequest) (*StartResult, error)
	StopRelay(ctx context.Context, userID domain.UserID) (*domain.RelaySession, error)
	Status(ctx context.Context, userID domain.UserID) (*domain.RelaySession, error)
	ListRelays(ctx context.Context) []*domain.RelaySession
	Shutdown(ctx context.Context) error
}

type ProcessLauncher interface {
	Launch(ctx context.Context, cmd domain.CommandLine, sessionID domain.SessionID) (domain.ProcessHandle, error)
}

// Notifier delivers out-of-band text to a user, for example after a relay fails.
type Notifier interface {
	Notify(ctx context.Context, userID domain.UserID, text string) error
}

// EventPublisher broadcasts relay lifecycle events to other instances.
type EventPublisher interface {
	PublishRelayEvent(ctx context.Context, event domain.RelayEvent) error
}

type RelayMetrics interface {
	RelayStarted()
	RelaySpawnFailed()
	RelaySuperseded()
	RelayStopped()
	RelayExited(success bool, lifetime time.Duration)
	SetActiveRelays(n int)
	CommandHandled(command, result string)
}
