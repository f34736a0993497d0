package repositories

import (
	"context"
	"time"

	"streamrelay/internal/core/ports"
	"streamrelay/internal/infrastructure/distributed"
	"streamrelay/internal/infrastructure/monitoring"
	"streamrelay/internal/infrastructure/repositories/memory"
	redisrepo "streamrelay/internal/infrastructure/repositories/redis"
	"streamrelay/pkg/circuitbreaker"
	"streamrelay/pkg/config"
	"streamrelay/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory builds the session registry and the event publisher,
// falling back to in-process implementations when Redis is unavailable.
type RepositoryFactory struct {
	redisClient *redis.Client
	channel     string
	instanceID  string
	logger      *zap.SugaredLogger

	eventBus *distributed.EventBus
}

// NewRepositoryFactory connects to Redis if enabled. A failed connection is
// logged and the factory falls back; it never fails startup.
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, instanceID string, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		channel:    cfg.Redis.Channel,
		instanceID: instanceID,
		logger:     logger,
	}

	if !cfg.Redis.Enabled {
		logger.Info("redis disabled, relay events stay local")
		return factory
	}

	connectRetry := retry.DefaultConfig()
	connectRetry.MaxAttempts = 2

	client, err := redisrepo.NewRedisClient(ctx, redisrepo.Options{
		Address:        cfg.Redis.Address,
		Password:       cfg.Redis.Password,
		DB:             cfg.Redis.DB,
		PoolSize:       cfg.Redis.PoolSize,
		ConnectTimeout: 2 * time.Second,
		Retry:          connectRetry,
	}, logger)
	if err != nil {
		logger.Warnw("failed to connect to Redis, relay events stay local", "error", err)
		return factory
	}
	factory.redisClient = client
	return factory
}

// CreateSessionRegistry returns the in-process registry. Relay processes are
// children of this instance, so their registry cannot live anywhere else.
func (f *RepositoryFactory) CreateSessionRegistry() ports.SessionRegistry {
	return memory.NewSessionRegistry()
}

// CreateEventBus returns nil when Redis is not in use. Publisher and
// subscriber share one bus, and so one circuit breaker.
func (f *RepositoryFactory) CreateEventBus() *distributed.EventBus {
	if f.redisClient == nil {
		return nil
	}
	if f.eventBus == nil {
		f.eventBus = distributed.NewEventBus(f.redisClient, f.channel, f.instanceID,
			circuitbreaker.New(circuitbreaker.DefaultConfig()), f.logger)
	}
	return f.eventBus
}

// CreateEventPublisher returns the Redis event bus or a no-op publisher.
func (f *RepositoryFactory) CreateEventPublisher() ports.EventPublisher {
	if bus := f.CreateEventBus(); bus != nil {
		return bus
	}
	return distributed.NoopPublisher{}
}

// RegisterHealthChecks adds a Redis ping when Redis is in use.
func (f *RepositoryFactory) RegisterHealthChecks(h *monitoring.HealthChecker) {
	if f.redisClient != nil {
		h.AddRedisCheck(f.redisClient, 2*time.Second)
	}
}

func (f *RepositoryFactory) UsingRedis() bool {
	return f.redisClient != nil
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}
