package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
	WSDisconnects *prometheus.CounterVec

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsCreated prometheus.Counter
	MembersActive   prometheus.Gauge
	CodeCollisions  prometheus.Counter

	// Broadcast metrics
	Deliveries *prometheus.CounterVec
	Drops      *prometheus.CounterVec

	// Sandbox metrics
	Executions         *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	EnvironmentsActive *prometheus.GaugeVec
	ProvisionRetries   *prometheus.CounterVec
	ExecutionsInFlight prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with its own registry, including
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := newMetrics(reg)
	m.registry = reg
	return m
}

// NewMetricsWith registers the collectors on reg. Tests pass a fresh
// registry so repeated construction never collides.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	startTime := time.Now()

	m := &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codesync_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codesync_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codesync_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "codesync_ws_connections",
				Help: "Number of open websocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codesync_ws_messages_total",
				Help: "Total number of websocket messages",
			},
			[]string{"direction", "type"},
		),
		WSDisconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codesync_ws_disconnects_total",
				Help: "Websocket disconnections by reason",
			},
			[]string{"reason"},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "codesync_sessions_active",
				Help: "Number of live sessions",
			},
		),
		SessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "codesync_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		MembersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "codesync_session_members",
				Help: "Number of members attached to a session",
			},
		),
		CodeCollisions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "codesync_session_code_collisions_total",
				Help: "Generated session codes rejected because a live session already used them",
			},
		),

		Deliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codesync_broadcast_deliveries_total",
				Help: "Frames handed to member send queues",
			},
			[]string{"kind"},
		),
		Drops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codesync_broadcast_drops_total",
				Help: "Frames that could not be queued for a member",
			},
			[]string{"kind"},
		),

		Executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codesync_executions_total",
				Help: "Executions by language, backend and final status",
			},
			[]string{"language", "backend", "status"},
		),
		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codesync_execution_duration_seconds",
				Help:    "Wall-clock execution time including provisioning",
				Buckets: []float64{.05, .1, .25, .5, 1, 2, 3, 5, 10, 30},
			},
			[]string{"language", "backend"},
		),
		EnvironmentsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "codesync_sandbox_environments",
				Help: "Provisioned sandbox environments not yet reclaimed",
			},
			[]string{"backend"},
		),
		ProvisionRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codesync_sandbox_provision_retries_total",
				Help: "Provisioning attempts retried after a transient failure",
			},
			[]string{"backend"},
		),
		ExecutionsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "codesync_executions_in_flight",
				Help: "Executions holding a worker slot",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "codesync_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)

	return m
}

// Registry returns the registry created by NewMetrics, or nil.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
}

// RecordWSMessage records a websocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments websocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements websocket connections and records the reason
func (m *Metrics) DecWSConnections(reason string) {
	m.WSConnections.Dec()
	m.WSDisconnects.WithLabelValues(reason).Inc()
}

// SetSessions sets the number of live sessions and attached members
func (m *Metrics) SetSessions(sessions, members int) {
	m.SessionsActive.Set(float64(sessions))
	m.MembersActive.Set(float64(members))
}

// IncSessionsCreated increments the created sessions counter
func (m *Metrics) IncSessionsCreated() {
	m.SessionsCreated.Inc()
}

// IncCodeCollisions counts a rejected session code
func (m *Metrics) IncCodeCollisions() {
	m.CodeCollisions.Inc()
}

// RecordDelivery records queued and dropped frames for one fan-out
func (m *Metrics) RecordDelivery(kind string, delivered, dropped int) {
	if delivered > 0 {
		m.Deliveries.WithLabelValues(kind).Add(float64(delivered))
	}
	if dropped > 0 {
		m.Drops.WithLabelValues(kind).Add(float64(dropped))
	}
}

// RecordExecution records a finished execution
func (m *Metrics) RecordExecution(language, backend, status string, duration time.Duration) {
	m.Executions.WithLabelValues(language, backend, status).Inc()
	m.ExecutionDuration.WithLabelValues(language, backend).Observe(duration.Seconds())
}

// EnvironmentProvisioned tracks a live sandbox environment
func (m *Metrics) EnvironmentProvisioned(backend string) {
	m.EnvironmentsActive.WithLabelValues(backend).Inc()
}

// EnvironmentReclaimed tracks a released sandbox environment
func (m *Metrics) EnvironmentReclaimed(backend string) {
	m.EnvironmentsActive.WithLabelValues(backend).Dec()
}

// IncProvisionRetries counts a retried provisioning attempt
func (m *Metrics) IncProvisionRetries(backend string) {
	m.ProvisionRetries.WithLabelValues(backend).Inc()
}
