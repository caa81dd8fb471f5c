package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   prometheus.Counter
	SessionsResumed prometheus.Counter

	// Script run metrics
	RunsTotal   *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
	RunsActive  prometheus.Gauge

	// Message queue metrics
	DeltasEnqueued   prometheus.Counter
	DeltasCoalesced  *prometheus.CounterVec
	DeltasDropped    prometheus.Counter
	MessagesFlushed  prometheus.Counter
	ScriptReloads    prometheus.Counter
	CacheClearsTotal prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current metric values for the JSON API
type Snapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	ActiveSessions    int64   `json:"active_sessions"`
	ActiveConnections int64   `json:"active_connections"`
	TotalRuns         int64   `json:"total_runs"`
	FailedRuns        int64   `json:"failed_runs"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// NewMetrics creates a collector with its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scriptflow_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scriptflow_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scriptflow_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		// Session metrics
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "scriptflow_sessions_active",
				Help: "Number of live sessions, attached or within the reconnect grace period",
			},
		),
		SessionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "scriptflow_sessions_total",
				Help: "Total number of sessions created",
			},
		),
		SessionsResumed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "scriptflow_sessions_resumed_total",
				Help: "Total number of reconnects that reattached to a session",
			},
		),

		// Script run metrics
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scriptflow_runs_total",
				Help: "Total number of script runs by final status",
			},
			[]string{"status"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scriptflow_run_duration_seconds",
				Help:    "Script run duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"status"},
		),
		RunsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "scriptflow_runs_active",
				Help: "Number of scripts currently running",
			},
		),

		// Message queue metrics
		DeltasEnqueued: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "scriptflow_deltas_enqueued_total",
				Help: "Total number of deltas handed to session queues",
			},
		),
		DeltasCoalesced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scriptflow_deltas_coalesced_total",
				Help: "Total number of deltas folded into a queued message",
			},
			[]string{"mode"},
		),
		DeltasDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "scriptflow_deltas_dropped_total",
				Help: "Total number of undelivered deltas discarded by a new run",
			},
		),
		MessagesFlushed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "scriptflow_messages_flushed_total",
				Help: "Total number of messages handed to transports",
			},
		),
		ScriptReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "scriptflow_script_reloads_total",
				Help: "Total number of script changes detected on disk",
			},
		),
		CacheClearsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "scriptflow_cache_clears_total",
				Help: "Total number of clear_cache commands",
			},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "scriptflow_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scriptflow_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "scriptflow_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry backing these metrics
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordRunStarted marks a script run as in progress
func (m *Metrics) RecordRunStarted() {
	m.RunsActive.Inc()
}

// RecordRunFinished records a completed script run
func (m *Metrics) RecordRunFinished(status string, duration time.Duration) {
	m.RunsActive.Dec()
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(status).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRuns++
	if status == "exception" || status == "compile_error" {
		m.snapshot.FailedRuns++
	}
	m.mu.Unlock()
}

// RecordQueue adds queue counters accumulated since the previous call
func (m *Metrics) RecordQueue(enqueued, replaced, merged, dropped, flushed uint64) {
	m.DeltasEnqueued.Add(float64(enqueued))
	m.DeltasCoalesced.WithLabelValues("replace").Add(float64(replaced))
	m.DeltasCoalesced.WithLabelValues("merge").Add(float64(merged))
	m.DeltasDropped.Add(float64(dropped))
	m.MessagesFlushed.Add(float64(flushed))
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// SetSessionsActive sets the number of live sessions
func (m *Metrics) SetSessionsActive(count int) {
	m.SessionsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(count)
	m.mu.Unlock()
}

// IncSessionsTotal increments the created sessions counter
func (m *Metrics) IncSessionsTotal() {
	m.SessionsTotal.Inc()
}

// IncSessionsResumed increments the reattached sessions counter
func (m *Metrics) IncSessionsResumed() {
	m.SessionsResumed.Inc()
}

// IncScriptReloads counts a script change detected on disk
func (m *Metrics) IncScriptReloads() {
	m.ScriptReloads.Inc()
}

// IncCacheClears counts a clear_cache command
func (m *Metrics) IncCacheClears() {
	m.CacheClearsTotal.Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// Snapshot returns current values for the JSON API
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
