package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"streamrelay/internal/core/domain"
	"streamrelay/internal/core/ports"
	"streamrelay/pkg/retry"
	"streamrelay/pkg/validation"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type RelayConfig struct {
	Profile                   domain.RelayProfile
	AllowedSourceSchemes      []string
	AllowedDestinationSchemes []string
	DiagnosticsPreviewChars   int
	NotifyTimeout             time.Duration
	NotifyRetry               retry.Config
	EventTimeout              time.Duration
}

func DefaultRelayConfig() RelayConfig {
	notifyRetry := retry.DefaultConfig()
	notifyRetry.MaxAttempts = 2
	notifyRetry.InitialDelay = 500 * time.Millisecond

	return RelayConfig{
		Profile: domain.RelayProfile{
			Binary:     "ffmpeg",
			VideoCodec: "libx264",
			AudioCodec: "aac",
			Format:     "flv",
		},
		AllowedSourceSchemes:      []string{"http", "https"},
		AllowedDestinationSchemes: []string{"rtmp", "rtmps"},
		DiagnosticsPreviewChars:   200,
		NotifyTimeout:             10 * time.Second,
		NotifyRetry:               notifyRetry,
		EventTimeout:              5 * time.Second,
	}
}

// RelayManager owns the lifecycle of every user's relay: it validates requests,
// spawns replacements before retiring the old process, and reacts to exits.
// It is the only writer of the session registry.
type RelayManager struct {
	registry ports.SessionRegistry
	launcher ports.ProcessLauncher
	events   ports.EventPublisher
	metrics  ports.RelayMetrics
	config   RelayConfig
	logger   *zap.SugaredLogger
	tracer   trace.Tracer

	notifierMu sync.RWMutex
	notifier   ports.Notifier

	// Starts hold lifecycle for reading from spawn until the observer is
	// registered, so Shutdown sees every relay that was ever spawned.
	lifecycle sync.RWMutex
	closed    bool
	observers sync.WaitGroup
}

type Option func(*RelayManager)

func WithEventPublisher(events ports.EventPublisher) Option {
	return func(m *RelayManager) {
		m.events = events
	}
}

func WithMetrics(metrics ports.RelayMetrics) Option {
	return func(m *RelayManager) {
		m.metrics = metrics
	}
}

func WithNotifier(notifier ports.Notifier) Option {
	return func(m *RelayManager) {
		m.notifier = notifier
	}
}

func NewRelayManager(
	registry ports.SessionRegistry,
	launcher ports.ProcessLauncher,
	config RelayConfig,
	logger *zap.SugaredLogger,
	opts ...Option,
) *RelayManager {
	m := &RelayManager{
		registry: registry,
		launcher: launcher,
		events:   noopPublisher{},
		metrics:  noopMetrics{},
		config:   config,
		logger:   logger,
		tracer:   otel.Tracer("streamrelay/services"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ ports.RelayService = (*RelayManager)(nil)

// SetNotifier installs the asynchronous notification path. The chat transport
// is built after the manager, so it is wired here rather than in the constructor.
func (m *RelayManager) SetNotifier(notifier ports.Notifier) {
	m.notifierMu.Lock()
	defer m.notifierMu.Unlock()
	m.notifier = notifier
}

func (m *RelayManager) StartRelay(ctx context.Context, userID domain.UserID, req domain.StreamRequest) (*ports.StartResult, error) {
	ctx, span := m.tracer.Start(ctx, "relay.start", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
	))
	defer span.End()

	if err := m.validate(userID, req); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()
	if m.closed {
		span.SetStatus(codes.Error, domain.ErrShuttingDown.Error())
		return nil, domain.ErrShuttingDown
	}

	sessionID := domain.SessionID(uuid.NewString())
	cmd := BuildCommandLine(m.config.Profile, req)

	handle, err := m.launcher.Launch(ctx, cmd, sessionID)
	if err != nil {
		m.metrics.RelaySpawnFailed()
		if !errors.Is(err, domain.ErrSpawnFailed) {
			err = &domain.SpawnError{Binary: cmd.Binary, Err: err}
		}
		m.logger.Warnw("failed to start relay",
			"user_id", userID,
			"session_id", sessionID,
			"error", err,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "spawn failed")
		return nil, err
	}

	session := domain.NewRelaySession(sessionID, userID, req, handle)
	previous := m.registry.Put(userID, session)
	session.Transition(domain.SessionRunning)

	m.metrics.RelayStarted()
	m.metrics.SetActiveRelays(m.registry.Len())
	m.logger.Infow("relay started",
		"user_id", userID,
		"session_id", sessionID,
		"pid", handle.PID(),
		"source", req.SourceURL,
		"destination", req.DestinationURL,
	)

	if previous != nil {
		m.retire(ctx, userID, previous)
	}

	m.observers.Add(1)
	go m.observe(userID, session)

	m.publish(ctx, domain.RelayEvent{
		Type:      domain.EventRelayStarted,
		UserID:    userID,
		SessionID: sessionID,
	})

	span.SetAttributes(
		attribute.String("session_id", string(sessionID)),
		attribute.Bool("replaced", previous != nil),
	)
	return &ports.StartResult{Session: session, Replaced: previous}, nil
}

func (m *RelayManager) StopRelay(ctx context.Context, userID domain.UserID) (*domain.RelaySession, error) {
	ctx, span := m.tracer.Start(ctx, "relay.stop", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
	))
	defer span.End()

	session, ok := m.registry.Get(userID)
	if !ok {
		return nil, domain.ErrNoActiveSession
	}

	// Losing this race to the exit observer or to a newer start is fine:
	// either way the session we looked up is gone and must be terminated.
	m.registry.Remove(userID, session)
	session.Transition(domain.SessionStopped)
	if err := session.Handle.Terminate(); err != nil {
		m.logger.Errorw("failed to terminate relay",
			"user_id", userID,
			"session_id", session.ID,
			"error", err,
		)
	}

	m.metrics.RelayStopped()
	m.metrics.SetActiveRelays(m.registry.Len())
	m.logger.Infow("relay stopped", "user_id", userID, "session_id", session.ID)
	m.publish(ctx, domain.RelayEvent{
		Type:      domain.EventRelayStopped,
		UserID:    userID,
		SessionID: session.ID,
	})

	return session, nil
}

func (m *RelayManager) Status(ctx context.Context, userID domain.UserID) (*domain.RelaySession, error) {
	session, ok := m.registry.Get(userID)
	if !ok {
		return nil, domain.ErrNoActiveSession
	}
	return session, nil
}

func (m *RelayManager) ListRelays(ctx context.Context) []*domain.RelaySession {
	return m.registry.List()
}

// Shutdown refuses further starts, stops every registered relay and waits for
// all exit observers, including those of already superseded sessions.
func (m *RelayManager) Shutdown(ctx context.Context) error {
	m.lifecycle.Lock()
	m.closed = true
	m.lifecycle.Unlock()

	for _, session := range m.registry.List() {
		if !m.registry.Remove(session.Owner, session) {
			continue
		}
		session.Transition(domain.SessionStopped)
		if err := session.Handle.Terminate(); err != nil {
			m.logger.Errorw("failed to terminate relay during shutdown",
				"user_id", session.Owner,
				"session_id", session.ID,
				"error", err,
			)
		}
	}
	m.metrics.SetActiveRelays(m.registry.Len())

	done := make(chan struct{})
	go func() {
		m.observers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for relays to exit: %w", ctx.Err())
	}
}

func (m *RelayManager) validate(userID domain.UserID, req domain.StreamRequest) error {
	if err := validation.ValidateUserID(userID.String()); err != nil {
		return &domain.ValidationError{Field: domain.FieldUserID, Reason: err.Error()}
	}
	if err := validation.ValidateURLScheme(req.SourceURL, m.config.AllowedSourceSchemes); err != nil {
		return &domain.ValidationError{Field: domain.FieldSourceURL, Reason: err.Error()}
	}
	if err := validation.ValidateURLScheme(req.DestinationURL, m.config.AllowedDestinationSchemes); err != nil {
		return &domain.ValidationError{Field: domain.FieldDestinationURL, Reason: err.Error()}
	}
	if err := validation.ValidateStreamKey(req.DestinationURL, req.StreamKey); err != nil {
		return &domain.ValidationError{Field: domain.FieldStreamKey, Reason: err.Error()}
	}
	return nil
}

// retire terminates a session that was just replaced in the registry. Its own
// observer reaps the exit and, finding it superseded, stays quiet.
func (m *RelayManager) retire(ctx context.Context, userID domain.UserID, previous *domain.RelaySession) {
	previous.Transition(domain.SessionStopped)
	if err := previous.Handle.Terminate(); err != nil {
		m.logger.Errorw("failed to terminate superseded relay",
			"user_id", userID,
			"session_id", previous.ID,
			"error", err,
		)
	}

	m.metrics.RelaySuperseded()
	m.logger.Infow("relay superseded", "user_id", userID, "session_id", previous.ID)
	m.publish(ctx, domain.RelayEvent{
		Type:      domain.EventRelaySuperseded,
		UserID:    userID,
		SessionID: previous.ID,
	})
}

func (m *RelayManager) observe(userID domain.UserID, session *domain.RelaySession) {
	defer m.observers.Done()

	outcome, err := session.Handle.AwaitExit(context.Background())
	if err != nil {
		m.logger.Errorw("lost track of relay process", "user_id", userID, "session_id", session.ID, "error", err)
		return
	}
	m.metrics.RelayExited(outcome.Success(), time.Since(session.StartedAt))

	if !m.registry.Remove(userID, session) {
		m.logger.Debugw("relay exit observed for retired session",
			"user_id", userID,
			"session_id", session.ID,
			"code", outcome.Code,
		)
		return
	}
	m.metrics.SetActiveRelays(m.registry.Len())

	code := outcome.Code
	if outcome.Success() {
		session.Transition(domain.SessionStopped)
		m.logger.Infow("relay finished", "user_id", userID, "session_id", session.ID)
		m.publish(context.Background(), domain.RelayEvent{
			Type:      domain.EventRelayExited,
			UserID:    userID,
			SessionID: session.ID,
			ExitCode:  &code,
		})
		m.notify(userID, "Stream ended.")
		return
	}

	session.Transition(domain.SessionFailed)
	preview := outcome.Preview(m.config.DiagnosticsPreviewChars)
	m.logger.Errorw("relay failed",
		"user_id", userID,
		"session_id", session.ID,
		"code", code,
		"truncated", outcome.Truncated,
		"diagnostics", outcome.Diagnostics,
		"error", outcome.AsError(),
	)
	m.publish(context.Background(), domain.RelayEvent{
		Type:        domain.EventRelayFailed,
		UserID:      userID,
		SessionID:   session.ID,
		ExitCode:    &code,
		Diagnostics: preview,
	})
	m.notify(userID, FailureMessage(preview))
}

// FailureMessage is the text sent to a user whose relay died.
func FailureMessage(preview string) string {
	return fmt.Sprintf("Stream failed: %s... Check logs for details.", preview)
}

func (m *RelayManager) notify(userID domain.UserID, text string) {
	m.notifierMu.RLock()
	notifier := m.notifier
	m.notifierMu.RUnlock()
	if notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.config.NotifyTimeout)
	defer cancel()

	err := retry.Retry(ctx, m.config.NotifyRetry, func() error {
		return notifier.Notify(ctx, userID, text)
	})
	if err != nil {
		m.logger.Warnw("could not notify user", "user_id", userID, "error", err)
	}
}

func (m *RelayManager) publish(ctx context.Context, event domain.RelayEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if m.config.EventTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.EventTimeout)
		defer cancel()
	}
	if err := m.events.PublishRelayEvent(ctx, event); err != nil {
		m.logger.Debugw("failed to publish relay event", "type", event.Type, "error", err)
	}
}

// BuildCommandLine renders the relay invocation. Destination and stream key are
// concatenated as given.
func BuildCommandLine(profile domain.RelayProfile, req domain.StreamRequest) domain.CommandLine {
	return domain.CommandLine{
		Binary: profile.Binary,
		Args: []string{
			"-i", req.SourceURL,
			"-c:v", profile.VideoCodec,
			"-c:a", profile.AudioCodec,
			"-f", profile.Format,
			req.PublishURL(),
		},
	}
}

type noopPublisher struct{}

func (noopPublisher) PublishRelayEvent(context.Context, domain.RelayEvent) error { return nil }

type noopMetrics struct{}

func (noopMetrics) RelayStarted() {}
func (noopMetrics) RelaySpawnFailed() {}
func (noopMetrics) RelaySuperseded() {}
func (noopMetrics) RelayStopped() {}
func (noopMetrics) RelayExited(bool, time.Duration) {}
func (noopMetrics) SetActiveRelays(int) {}
func (noopMetrics) CommandHandled(string, string) {}
