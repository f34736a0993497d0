package monitoring

import (
	"time"

	"streamrelay/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Gauges
	relaysActive prometheus.Gauge

	// Counters
	relaysStarted    prometheus.Counter
	spawnFailures    prometheus.Counter
	relaysSuperseded prometheus.Counter
	relaysStopped    prometheus.Counter
	relayExits       *prometheus.CounterVec
	commands         *prometheus.CounterVec

	// Histograms
	sessionDuration prometheus.Histogram
}

// NewPrometheusCollector registers the relay metrics with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		relaysActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamrelay_relays_active",
			Help: "Number of relay sessions currently registered",
		}),

		relaysStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamrelay_relays_started_total",
			Help: "Total number of relay processes started",
		}),

		spawnFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamrelay_relay_spawn_failures_total",
			Help: "Total number of relay processes that could not be started",
		}),

		relaysSuperseded: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamrelay_relays_superseded_total",
			Help: "Total number of relays terminated because the user started a new one",
		}),

		relaysStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamrelay_relays_stopped_total",
			Help: "Total number of relays stopped on request",
		}),

		relayExits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamrelay_relay_exits_total",
			Help: "Relay process exits by outcome",
		}, []string{"outcome"}),

		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamrelay_commands_total",
			Help: "Chat commands handled by command and result",
		}, []string{"command", "result"}),

		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamrelay_relay_session_duration_seconds",
			Help:    "Lifetime of relay processes from start to exit",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}
}

var _ ports.RelayMetrics = (*PrometheusCollector)(nil)

func (p *PrometheusCollector) RelayStarted() {
	p.relaysStarted.Inc()
}

func (p *PrometheusCollector) RelaySpawnFailed() {
	p.spawnFailures.Inc()
}

func (p *PrometheusCollector) RelaySuperseded() {
	p.relaysSuperseded.Inc()
}

func (p *PrometheusCollector) RelayStopped() {
	p.relaysStopped.Inc()
}

func (p *PrometheusCollector) RelayExited(success bool, lifetime time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	p.relayExits.WithLabelValues(outcome).Inc()
	p.sessionDuration.Observe(lifetime.Seconds())
}

func (p *PrometheusCollector) SetActiveRelays(n int) {
	p.relaysActive.Set(float64(n))
}

func (p *PrometheusCollector) CommandHandled(command, result string) {
	p.commands.WithLabelValues(command, result).Inc()
}
