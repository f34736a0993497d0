package repositories

import (
	"context"
	"testing"

	"streamrelay/internal/core/domain"
	"streamrelay/internal/infrastructure/distributed"
	"streamrelay/internal/infrastructure/monitoring"
	"streamrelay/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRepositoryFactory_RedisDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = false

	f := NewRepositoryFactory(context.Background(), cfg, "instance-a", zap.NewNop().Sugar())
	defer f.Close()

	assert.False(t, f.UsingRedis())
	assert.IsType(t, distributed.NoopPublisher{}, f.CreateEventPublisher())
	assert.Nil(t, f.CreateEventBus())

	registry := f.CreateSessionRegistry()
	require.NotNil(t, registry)
	assert.Equal(t, 0, registry.Len())

	h := monitoring.NewHealthChecker()
	f.RegisterHealthChecks(h)
	assert.Empty(t, h.CheckAll(context.Background()).Checks)
}

func TestRepositoryFactory_FallsBackWhenRedisIsUnreachable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"

	f := NewRepositoryFactory(context.Background(), cfg, "instance-a", zap.NewNop().Sugar())
	defer f.Close()

	assert.False(t, f.UsingRedis())
	publisher := f.CreateEventPublisher()
	assert.NoError(t, publisher.PublishRelayEvent(context.Background(), domain.RelayEvent{Type: domain.EventRelayStarted}))
}
