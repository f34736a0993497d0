package domain

import "time"

type RelayEventType string

const (
	EventRelayStarted    RelayEventType = "relay.started"
	EventRelaySuperseded RelayEventType = "relay.superseded"
	EventRelayStopped    RelayEventType = "relay.stopped"
	EventRelayFailed     RelayEventType = "relay.failed"
	EventRelayExited     RelayEventType = "relay.exited"
)

// RelayEvent is emitted on every session state change. It never carries the stream key.
type RelayEvent struct {
	Type        RelayEventType `json:"type"`
	UserID      UserID         `json:"user_id"`
	SessionID   SessionID      `json:"session_id"`
	Timestamp   time.Time      `json:"timestamp"`
	ExitCode    *int           `json:"exit_code,omitempty"`
	Diagnostics string         `json:"diagnostics,omitempty"`
}
