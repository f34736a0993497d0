package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest       = errors.New("invalid stream request")
	ErrSpawnFailed          = errors.New("failed to start relay")
	ErrRelayExited          = errors.New("relay exited with non-zero status")
	ErrNoActiveSession      = errors.New("no active stream")
	ErrRecipientUnavailable = errors.New("recipient unavailable")
	ErrShuttingDown         = errors.New("relay service is shutting down")
)

// Request fields named by ValidationError.
const (
	FieldSourceURL      = "source_url"
	FieldDestinationURL = "destination_url"
	FieldStreamKey      = "stream_key"
	FieldUserID         = "user_id"
)

// ValidationError reports which part of a StreamRequest was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// SpawnError wraps whatever prevented the relay binary from starting.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawnFailed, e.Err}
}
