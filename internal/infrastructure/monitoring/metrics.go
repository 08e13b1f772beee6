package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
//
// Every method is safe on a nil *Metrics so components can run without
// instrumentation in tests.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Terminal session metrics
	SessionsActive   prometheus.Gauge
	SessionsSpawned  prometheus.Counter
	SpawnFailures    *prometheus.CounterVec
	SpawnDuration    prometheus.Histogram
	Terminations     *prometheus.CounterVec
	TerminalBytes    *prometheus.CounterVec
	ControlsDropped  *prometheus.CounterVec
	BreakerState     prometheus.Gauge

	// Stream metrics
	StreamConnections prometheus.Gauge
	StreamMessages    *prometheus.CounterVec

	startTime time.Time

	// Snapshot for the JSON health endpoint
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON health endpoint.
type Snapshot struct {
	TotalRequests     int64   `json:"totalRequests"`
	TotalErrors       int64   `json:"totalErrors"`
	ActiveSessions    int64   `json:"activeSessions"`
	ActiveConnections int64   `json:"activeConnections"`
	UptimeSeconds     float64 `json:"uptimeSeconds"`
}

// NewMetrics creates a metrics collector on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetricsWith(reg)
}

// NewMetricsWith registers the collectors on reg.
func NewMetricsWith(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termbroker_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termbroker_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termbroker_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "termbroker_sessions_active",
			Help: "Number of registered terminal sessions",
		}),
		SessionsSpawned: factory.NewCounter(prometheus.CounterOpts{
			Name: "termbroker_sessions_spawned_total",
			Help: "Total number of terminal sessions spawned",
		}),
		SpawnFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termbroker_spawn_failures_total",
				Help: "Total number of failed spawns",
			},
			[]string{"reason"},
		),
		SpawnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "termbroker_spawn_duration_seconds",
			Help:    "Time taken to start a shell",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		Terminations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termbroker_session_terminations_total",
				Help: "Terminal sessions ended, by outcome",
			},
			[]string{"outcome"},
		),
		TerminalBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termbroker_terminal_bytes_total",
				Help: "Bytes moved between clients and shells",
			},
			[]string{"direction"},
		),
		ControlsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termbroker_controls_dropped_total",
				Help: "Control messages addressed to unknown sessions",
			},
			[]string{"kind"},
		),
		BreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "termbroker_spawn_breaker_state",
			Help: "Spawn circuit breaker state (0 closed, 1 half-open, 2 open)",
		}),

		StreamConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "termbroker_stream_connections",
			Help: "Number of active stream connections",
		}),
		StreamMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termbroker_stream_messages_total",
				Help: "Total number of stream messages",
			},
			[]string{"direction", "kind"},
		),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "termbroker_uptime_seconds",
		Help: "Service uptime in seconds",
	}, func() float64 {
		return time.Since(m.startTime).Seconds()
	})

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// SetSessionsActive sets the number of registered sessions
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(count)
	m.mu.Unlock()
}

// RecordSpawn records a successful spawn
func (m *Metrics) RecordSpawn(duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsSpawned.Inc()
	m.SpawnDuration.Observe(duration.Seconds())
}

// RecordSpawnFailure records a failed spawn
func (m *Metrics) RecordSpawnFailure(reason string) {
	if m == nil {
		return
	}
	m.SpawnFailures.WithLabelValues(reason).Inc()
}

// RecordTermination records how a session ended: "exit" or "error".
func (m *Metrics) RecordTermination(outcome string) {
	if m == nil {
		return
	}
	m.Terminations.WithLabelValues(outcome).Inc()
}

// AddBytes counts terminal traffic; direction is "in" (to the shell) or "out".
func (m *Metrics) AddBytes(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TerminalBytes.WithLabelValues(direction).Add(float64(n))
}

// RecordDroppedControl records a control message for an unknown session
func (m *Metrics) RecordDroppedControl(kind string) {
	if m == nil {
		return
	}
	m.ControlsDropped.WithLabelValues(kind).Inc()
}

// SetBreakerState publishes the spawn breaker state
func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(state))
}

// RecordStreamMessage records a stream message
func (m *Metrics) RecordStreamMessage(direction, kind string) {
	if m == nil {
		return
	}
	m.StreamMessages.WithLabelValues(direction, kind).Inc()
}

// IncStreamConnections increments stream connections
func (m *Metrics) IncStreamConnections() {
	if m == nil {
		return
	}
	m.StreamConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecStreamConnections decrements stream connections
func (m *Metrics) DecStreamConnections() {
	if m == nil {
		return
	}
	m.StreamConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// Snapshot returns the current values for the JSON health endpoint.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
