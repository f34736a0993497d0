package process

import (
	"context"
	"io"
	"os/exec"
	"time"

	"streamrelay/internal/core/domain"
	"streamrelay/internal/core/ports"

	"go.uber.org/zap"
)

type Config struct {
	StopGracePeriod        time.Duration
	DiagnosticsBufferBytes int
}

func DefaultConfig() Config {
	return Config{
		StopGracePeriod:        10 * time.Second,
		DiagnosticsBufferBytes: 64 * 1024,
	}
}

// Launcher starts relay processes as children of this service.
type Launcher struct {
	config Config
	logger *zap.SugaredLogger
}

func NewLauncher(config Config, logger *zap.SugaredLogger) *Launcher {
	return &Launcher{
		config: config,
		logger: logger,
	}
}

var _ ports.ProcessLauncher = (*Launcher)(nil)

// Launch starts cmd and returns without waiting for it. The process is not tied
// to ctx: it outlives the command that started it.
func (l *Launcher) Launch(ctx context.Context, cmd domain.CommandLine, sessionID domain.SessionID) (domain.ProcessHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.SpawnError{Binary: cmd.Binary, Err: err}
	}

	logger := l.logger.With("session_id", sessionID)
	stderr := NewRingBuffer(l.config.DiagnosticsBufferBytes)

	execCmd := exec.Command(cmd.Binary, cmd.Args...)
	execCmd.Stdout = newLineLogger(logger, "stdout")
	execCmd.Stderr = io.MultiWriter(stderr, newLineLogger(logger, "stderr"))

	if err := execCmd.Start(); err != nil {
		return nil, &domain.SpawnError{Binary: cmd.Binary, Err: err}
	}

	h := &Handle{
		cmd:    execCmd,
		stderr: stderr,
		grace:  l.config.StopGracePeriod,
		logger: logger,
		done:   make(chan struct{}),
	}
	go h.wait()

	logger.Infow("relay process started", "pid", h.PID(), "command", cmd.Redacted())
	return h, nil
}

// CheckBinary reports whether binary resolves on PATH.
func CheckBinary(binary string) error {
	_, err := exec.LookPath(binary)
	return err
}
