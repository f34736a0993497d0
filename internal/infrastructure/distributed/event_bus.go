package distributed

import (
	"context"
	"encoding/json"
	"fmt"

	"streamrelay/internal/core/domain"
	"streamrelay/internal/core/ports"
	"streamrelay/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "streamrelay:events"

// Event is a relay lifecycle event as it travels between instances.
type Event struct {
	domain.RelayEvent
	InstanceID string `json:"instance_id"`
}

// EventBus publishes relay events on a Redis channel and lets instances
// observe each other's relays.
type EventBus struct {
	client     redis.UniversalClient
	instanceID string
	channel    string
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.SugaredLogger
}

// NewEventBus creates a new event bus
func NewEventBus(
	client redis.UniversalClient,
	channel string,
	instanceID string,
	breaker *circuitbreaker.CircuitBreaker,
	logger *zap.SugaredLogger,
) *EventBus {
	if channel == "" {
		channel = DefaultChannel
	}
	eb := &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		breaker:    breaker,
		logger:     logger,
	}
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("event bus circuit breaker changed state", "from", from, "to", to)
	})
	return eb
}

var _ ports.EventPublisher = (*EventBus)(nil)

// PublishRelayEvent publishes event unless the breaker is open.
func (eb *EventBus) PublishRelayEvent(ctx context.Context, event domain.RelayEvent) error {
	data, err := json.Marshal(Event{RelayEvent: event, InstanceID: eb.instanceID})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = eb.breaker.Execute(func() error {
		return eb.client.Publish(ctx, eb.channel, data).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"user_id", event.UserID,
		"session_id", event.SessionID,
	)
	return nil
}

// Subscribe calls handler for every event published by other instances until
// ctx is done.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", eb.channel, err)
	}
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			event, err := eb.decode(msg.Payload)
			if err != nil {
				eb.logger.Warnw("failed to unmarshal event", "error", err, "payload", msg.Payload)
				continue
			}
			if event == nil {
				continue
			}
			if err := handler(event); err != nil {
				eb.logger.Warnw("error handling event", "type", event.Type, "error", err)
			}
		}
	}
}

// decode returns nil for events that originated on this instance.
func (eb *EventBus) decode(payload string) (*Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, err
	}
	if event.InstanceID == eb.instanceID {
		return nil, nil
	}
	return &event, nil
}

// NoopPublisher drops events. It is used when Redis is disabled or unreachable.
type NoopPublisher struct{}

func (NoopPublisher) PublishRelayEvent(context.Context, domain.RelayEvent) error { return nil }
