// Package chat turns chat command lines into relay operations and reply text.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"streamrelay/internal/core/domain"
	"streamrelay/internal/core/ports"
	"streamrelay/pkg/logger"
	"streamrelay/pkg/ratelimit"
	"streamrelay/pkg/tracing"
	"streamrelay/pkg/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	WelcomeText        = "Welcome! Use /stream <m3u8_link> <rtmp_url> <stream_key> to start streaming."
	StreamUsageText    = "Usage: /stream <m3u8_link> <rtmp_url> <stream_key>"
	StartedText        = "Streaming started successfully!"
	ReplacedText       = "Previous stream stopped."
	StoppedText        = "Stream stopped."
	NothingToStopText  = "No active stream to stop."
	NoActiveStreamText = "No active stream."
	UnknownCommandText = "Unknown command. Use /help to see available commands."
	RateLimitedText    = "Too many commands, slow down."

	commandsText = "Commands:\n" +
		"/stream <m3u8_link> <rtmp_url> <stream_key> - start or replace your stream\n" +
		"/stop - stop your stream\n" +
		"/status - show your current stream\n" +
		"/help - show this message"
)

// Command results, used as metric labels.
const (
	resultOK          = "ok"
	resultUsage       = "usage"
	resultInvalid     = "invalid"
	resultSpawnFailed = "spawn_failed"
	resultNoSession   = "no_session"
	resultRateLimited = "rate_limited"
	resultError       = "error"
	resultUnknown     = "unknown"
)

type Config struct {
	RateLimitEnabled          bool
	CommandsPerSecond         float64
	CommandBurst              int
	AllowedSourceSchemes      []string
	AllowedDestinationSchemes []string
}

func DefaultConfig() Config {
	return Config{
		RateLimitEnabled:          true,
		CommandsPerSecond:         1,
		CommandBurst:              5,
		AllowedSourceSchemes:      []string{"http", "https"},
		AllowedDestinationSchemes: []string{"rtmp", "rtmps"},
	}
}

// Dispatcher parses one command line per call and replies with zero or more
// lines of text. It never returns an error: every failure becomes a reply.
type Dispatcher struct {
	relays  ports.RelayService
	metrics ports.RelayMetrics
	limiter *ratelimit.KeyedLimiter
	log     *logger.ContextLogger

	invalidSourceText      string
	invalidDestinationText string
}

func NewDispatcher(relays ports.RelayService, config Config, metrics ports.RelayMetrics, log *zap.SugaredLogger) *Dispatcher {
	d := &Dispatcher{
		relays:  relays,
		metrics: metrics,
		log:     logger.NewContextLogger(log.Desugar()),
		invalidSourceText: fmt.Sprintf("Invalid M3U8 link (must start with %s).",
			validation.DescribeSchemes(config.AllowedSourceSchemes)),
		invalidDestinationText: fmt.Sprintf("Invalid RTMP URL (must start with %s).",
			validation.DescribeSchemes(config.AllowedDestinationSchemes)),
	}
	if config.RateLimitEnabled {
		d.limiter = ratelimit.NewKeyedLimiter(config.CommandsPerSecond, config.CommandBurst)
	}
	return d
}

var _ ports.CommandHandler = (*Dispatcher)(nil)

func (d *Dispatcher) Dispatch(ctx context.Context, userID domain.UserID, text string) []string {
	name, args := parseCommand(text)
	label := metricLabel(name)

	ctx = logger.WithUserID(ctx, userID.String())
	ctx = logger.WithCommandID(ctx, uuid.NewString())
	ctx, span := tracing.TraceCommand(ctx, label, userID.String())
	defer span.End()

	var (
		replies []string
		result  string
	)
	if d.limiter != nil && !d.limiter.Allow(userID.String()) {
		replies, result = []string{RateLimitedText}, resultRateLimited
	} else {
		replies, result = d.handle(ctx, userID, name, args)
	}

	span.SetAttributes(tracing.ResultKey.String(result))
	d.metrics.CommandHandled(label, result)
	d.log.LogDebug(ctx, "command handled",
		zap.String("command", label),
		zap.String("result", result),
	)
	return replies
}

func (d *Dispatcher) handle(ctx context.Context, userID domain.UserID, name string, args []string) ([]string, string) {
	switch name {
	case "start":
		return []string{WelcomeText}, resultOK
	case "help":
		return []string{WelcomeText, commandsText}, resultOK
	case "stream":
		return d.stream(ctx, userID, args)
	case "stop":
		return d.stop(ctx, userID)
	case "status":
		return d.status(ctx, userID)
	default:
		return []string{UnknownCommandText}, resultUnknown
	}
}

func (d *Dispatcher) stream(ctx context.Context, userID domain.UserID, args []string) ([]string, string) {
	if len(args) != 3 {
		return []string{StreamUsageText}, resultUsage
	}
	req := domain.StreamRequest{
		SourceURL:      args[0],
		DestinationURL: args[1],
		StreamKey:      args[2],
	}

	result, err := d.relays.StartRelay(ctx, userID, req)
	if err != nil {
		var verr *domain.ValidationError
		switch {
		case errors.As(err, &verr):
			return []string{d.validationText(verr)}, resultInvalid
		case errors.Is(err, domain.ErrSpawnFailed):
			d.log.LogError(ctx, err, "relay failed to start")
			return []string{fmt.Sprintf("Failed to start stream: %v", err)}, resultSpawnFailed
		default:
			d.log.LogError(ctx, err, "stream command failed")
			return []string{fmt.Sprintf("Failed to start stream: %v", err)}, resultError
		}
	}

	ctx = logger.WithSessionID(ctx, string(result.Session.ID))
	d.log.LogInfo(ctx, "stream command started relay", zap.Bool("replaced", result.Replaced != nil))
	if result.Replaced != nil {
		return []string{ReplacedText, StartedText}, resultOK
	}
	return []string{StartedText}, resultOK
}

func (d *Dispatcher) validationText(verr *domain.ValidationError) string {
	switch verr.Field {
	case domain.FieldSourceURL:
		return d.invalidSourceText
	case domain.FieldDestinationURL:
		return d.invalidDestinationText
	case domain.FieldStreamKey:
		return fmt.Sprintf("Invalid stream key: %s.", verr.Reason)
	default:
		return fmt.Sprintf("Invalid request: %s.", verr.Reason)
	}
}

func (d *Dispatcher) stop(ctx context.Context, userID domain.UserID) ([]string, string) {
	session, err := d.relays.StopRelay(ctx, userID)
	if errors.Is(err, domain.ErrNoActiveSession) {
		return []string{NothingToStopText}, resultNoSession
	}
	if err != nil {
		d.log.LogError(ctx, err, "stop command failed")
		return []string{fmt.Sprintf("Failed to stop stream: %v", err)}, resultError
	}

	d.log.LogInfo(logger.WithSessionID(ctx, string(session.ID)), "stop command stopped relay")
	return []string{StoppedText}, resultOK
}

func (d *Dispatcher) status(ctx context.Context, userID domain.UserID) ([]string, string) {
	session, err := d.relays.Status(ctx, userID)
	if errors.Is(err, domain.ErrNoActiveSession) {
		return []string{NoActiveStreamText}, resultNoSession
	}
	if err != nil {
		return []string{fmt.Sprintf("Failed to get status: %v", err)}, resultError
	}
	return []string{StatusText(session)}, resultOK
}

// StatusText describes a running session to its owner.
func StatusText(session *domain.RelaySession) string {
	return fmt.Sprintf("Streaming since %s (session %s).",
		session.StartedAt.UTC().Format(time.RFC3339), session.ID)
}

// Run drops idle per-user limiters until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	if d.limiter == nil {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.limiter.Prune(interval)
		}
	}
}

// parseCommand splits "/Stream@relaybot a b c" into ("stream", [a b c]).
// The leading slash is optional and the name is case-insensitive.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), fields[1:]
}

func metricLabel(name string) string {
	switch name {
	case "start", "help", "stream", "stop", "status":
		return name
	default:
		return "unknown"
	}
}
