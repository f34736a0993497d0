package domain

import (
	"context"
	"errors"
	"fmt"
)

// ExitOutcome describes how a relay process ended.
type ExitOutcome struct {
	// Code is the process exit status; -1 when the process was killed by a signal.
	Code int
	// Diagnostics is the captured standard error, possibly truncated.
	Diagnostics string
	Truncated   bool
	// Err is the error returned by the wait, if any.
	Err error
}

func (o ExitOutcome) Success() bool {
	return o.Code == 0 && o.Err == nil
}

// AsError is nil on success and otherwise wraps ErrRelayExited.
func (o ExitOutcome) AsError() error {
	if o.Success() {
		return nil
	}
	return errors.Join(fmt.Errorf("%w: code %d", ErrRelayExited, o.Code), o.Err)
}

// Preview returns at most n runes of the diagnostics.
func (o ExitOutcome) Preview(n int) string {
	runes := []rune(o.Diagnostics)
	if n <= 0 || len(runes) <= n {
		return o.Diagnostics
	}
	return string(runes[:n])
}

// ProcessHandle is a launched relay process. It is owned by exactly one RelaySession.
type ProcessHandle interface {
	PID() int
	// Terminate asks the process to stop. Calling it on an exited or already
	// terminated process is a no-op.
	Terminate() error
	// AwaitExit blocks until the process exits or ctx is done.
	AwaitExit(ctx context.Context) (ExitOutcome, error)
	Done() <-chan struct{}
}
