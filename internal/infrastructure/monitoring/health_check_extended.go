package monitoring

import (
	"context"
	"time"

	"streamrelay/internal/infrastructure/process"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client redis.UniversalClient, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, timeout)
}

// AddRelayBinaryCheck fails while the relay binary cannot be found.
func (h *HealthChecker) AddRelayBinaryCheck(binary string) {
	h.AddCheck("relay_binary", func(ctx context.Context) error {
		return process.CheckBinary(binary)
	}, time.Second)
}
