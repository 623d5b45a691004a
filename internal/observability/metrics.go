package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions     prometheus.Gauge
	sessionsTotal      *prometheus.CounterVec
	sessionTransitions *prometheus.CounterVec

	storeOpDuration *prometheus.HistogramVec

	sweepDuration      prometheus.Histogram
	sweepExpiredTotal  prometheus.Counter
	sweepFailuresTotal prometheus.Counter

	wsConnections prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current number of sessions cached in-process.",
				},
			),
			sessionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sessions_total",
					Help: "Total sessions created by owner kind.",
				},
				[]string{"owner"},
			),
			sessionTransitions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "session_transitions_total",
					Help: "Total session state transitions by target state.",
				},
				[]string{"state"},
			),
			storeOpDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "store_operation_duration_seconds",
					Help:    "Session store operation duration in seconds by operation.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"operation"},
			),
			sweepDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "cleanup_sweep_duration_seconds",
					Help:    "Cleanup sweep pass duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sweepExpiredTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "cleanup_sweep_expired_total",
					Help: "Total sessions expired by the cleanup sweep.",
				},
			),
			sweepFailuresTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "cleanup_sweep_failures_total",
					Help: "Total per-session failures during cleanup sweeps.",
				},
			),
			wsConnections: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "websocket_connections",
					Help: "Current number of open WebSocket connections.",
				},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionsTotal,
			m.sessionTransitions,
			m.storeOpDuration,
			m.sweepDuration,
			m.sweepExpiredTotal,
			m.sweepFailuresTotal,
			m.wsConnections,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetActiveSessions(n int) {
	getMetrics().activeSessions.Set(float64(n))
}

func RecordSessionCreated(authenticated bool) {
	owner := "anonymous"
	if authenticated {
		owner = "user"
	}
	getMetrics().sessionsTotal.WithLabelValues(owner).Inc()
}

func RecordSessionTransition(state string) {
	getMetrics().sessionTransitions.WithLabelValues(state).Inc()
}

func RecordStoreOp(operation string, duration time.Duration) {
	getMetrics().storeOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func RecordSweep(duration time.Duration, expired, failures int) {
	m := getMetrics()
	m.sweepDuration.Observe(duration.Seconds())
	m.sweepExpiredTotal.Add(float64(expired))
	m.sweepFailuresTotal.Add(float64(failures))
}

func IncWebsocketConnections() {
	getMetrics().wsConnections.Inc()
}

func DecWebsocketConnections() {
	getMetrics().wsConnections.Dec()
}
