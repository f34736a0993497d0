package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector_RecordsRelayLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.RelayStarted()
	c.RelayStarted()
	c.RelaySpawnFailed()
	c.RelaySuperseded()
	c.RelayStopped()
	c.RelayExited(true, 3*time.Second)
	c.RelayExited(false, time.Second)
	c.RelayExited(false, time.Second)
	c.SetActiveRelays(4)
	c.CommandHandled("stream", "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.relaysStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.spawnFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.relaysSuperseded))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.relaysStopped))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.relayExits.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.relayExits.WithLabelValues("failure")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.relaysActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commands.WithLabelValues("stream", "ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.sessionDuration))
}

func TestPrometheusCollector_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewPrometheusCollector(prometheus.NewRegistry())
		NewPrometheusCollector(prometheus.NewRegistry())
	})
}

func TestHealthChecker_AllHealthy(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("a", func(ctx context.Context) error { return nil }, time.Second)
	h.AddCheck("b", func(ctx context.Context) error { return nil }, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, map[string]string{"a": "healthy", "b": "healthy"}, status.Checks)
	assert.True(t, h.IsReady(context.Background()))
}

func TestHealthChecker_FailingCheck(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("ok", func(ctx context.Context) error { return nil }, time.Second)
	h.AddCheck("redis", func(ctx context.Context) error { return errors.New("connection refused") }, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "connection refused", status.Checks["redis"])
	assert.False(t, h.IsReady(context.Background()))
}

func TestHealthChecker_CheckTimeout(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	require.Equal(t, "unhealthy", status.Status)
	assert.Contains(t, status.Checks["slow"], "deadline exceeded")
}

func TestHealthChecker_RelayBinaryCheck(t *testing.T) {
	h := NewHealthChecker()
	h.AddRelayBinaryCheck("definitely-not-a-relay-binary-5b1f")

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Contains(t, status.Checks, "relay_binary")
}
