package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"streamrelay/internal/core/domain"

	"go.uber.org/zap"
)

// Handle owns one relay process started by a Launcher.
type Handle struct {
	cmd    *exec.Cmd
	stderr *RingBuffer
	grace  time.Duration
	logger *zap.SugaredLogger

	done    chan struct{}
	outcome domain.ExitOutcome

	terminateOnce sync.Once
}

var _ domain.ProcessHandle = (*Handle)(nil)

func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// wait reaps the process. It runs in its own goroutine for the life of the handle.
func (h *Handle) wait() {
	err := h.cmd.Wait()

	outcome := domain.ExitOutcome{
		Diagnostics: h.stderr.String(),
		Truncated:   h.stderr.Truncated(),
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		outcome.Code = 0
	case errors.As(err, &exitErr):
		outcome.Code = exitErr.ExitCode()
	default:
		outcome.Code = -1
		outcome.Err = err
	}
	h.outcome = outcome

	if outcome.Success() {
		h.logger.Infow("relay process exited", "pid", h.PID())
	} else {
		h.logger.Infow("relay process exited with error", "pid", h.PID(), "code", outcome.Code, "error", err)
	}
	close(h.done)
}

// Terminate sends SIGTERM once and escalates to SIGKILL after the grace period.
func (h *Handle) Terminate() error {
	var err error
	h.terminateOnce.Do(func() {
		select {
		case <-h.done:
			return
		default:
		}

		sigErr := h.cmd.Process.Signal(syscall.SIGTERM)
		if sigErr == nil {
			h.logger.Debugw("sent SIGTERM to relay", "pid", h.PID())
			if h.grace > 0 {
				go h.killAfter(h.grace)
			}
			return
		}
		if errors.Is(sigErr, os.ErrProcessDone) {
			return
		}

		// Platforms without SIGTERM delivery fall back to an immediate kill.
		if killErr := h.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			err = fmt.Errorf("terminate relay %d: %w", h.PID(), killErr)
		}
	})
	return err
}

func (h *Handle) killAfter(grace time.Duration) {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.C:
		h.logger.Warnw("relay ignored SIGTERM, killing", "pid", h.PID(), "grace_period", grace)
		if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			h.logger.Errorw("failed to kill relay", "pid", h.PID(), "error", err)
		}
	}
}

func (h *Handle) AwaitExit(ctx context.Context) (domain.ExitOutcome, error) {
	select {
	case <-h.done:
		return h.outcome, nil
	case <-ctx.Done():
		return domain.ExitOutcome{}, ctx.Err()
	}
}
