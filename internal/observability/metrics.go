// Package observability holds the process-wide Prometheus metrics and the
// localhost debug server (pprof, /metrics, /health).
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics with bounded cardinality (no per-agent labels)
var (
	// Universe engine metrics
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "universe_tick_duration_seconds",
		Help:    "Time spent in a universe tick",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.016, 0.033, 0.1},
	})

	ticksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "universe_ticks_skipped_total",
		Help: "Ticks skipped because the previous tick was still running",
	})

	stepErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "universe_physics_step_errors_total",
		Help: "Physics steps that failed and were abandoned",
	})

	agentCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "universe_agent_count",
		Help: "Current number of registered agents",
	})

	busDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "universe_bus_dropped_total",
		Help: "Notifications dropped because the bus queue was full",
	})

	// Journal metrics
	journalTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "journal_records_total",
		Help: "Total records accepted by the event journal",
	})

	journalDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "journal_dropped_total",
		Help: "Records dropped due to rate limiting or buffer full",
	})

	// Connection metrics - use ONLY bounded label values
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected at the gateway",
	}, []string{"reason"}) // Bounded: "no_credential", "invalid_credential", "origin", "ip_limit", "capacity", "rate_limit"

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_frames_dropped_total",
		Help: "Outbound frames dropped because a client send queue was full",
	})

	// Routing metrics
	messagesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_messages_total",
		Help: "Inbound messages routed, by message type",
	}, []string{"type"}) // Bounded: protocol.MessageType values

	deliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "router_deliveries_total",
		Help: "Frames delivered to client send queues",
	})

	routingNoOps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "router_noop_total",
		Help: "Routed messages that reached no recipient",
	})

	malformedPayloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "router_malformed_payloads_total",
		Help: "Inbound frames rejected at the protocol boundary",
	})

	// HTTP metrics with bounded labels
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is the route pattern, not the full URL

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})
)

// RecordTick records tick timing.
func RecordTick(duration time.Duration) {
	tickDuration.Observe(duration.Seconds())
}

// IncrementTicksSkipped counts a tick skipped by the re-entrancy guard.
func IncrementTicksSkipped() {
	ticksSkipped.Inc()
}

// IncrementStepErrors counts a failed physics step.
func IncrementStepErrors() {
	stepErrors.Inc()
}

// UpdateAgentCount updates the agent gauge.
func UpdateAgentCount(count int) {
	agentCount.Set(float64(count))
}

// IncrementBusDropped counts a notification the bus could not queue.
func IncrementBusDropped() {
	busDropped.Inc()
}

// RecordJournal records journal acceptance or drop.
func RecordJournal(accepted bool) {
	if accepted {
		journalTotal.Inc()
		return
	}
	journalDropped.Inc()
}

// RecordConnectionRejected increments the rejection counter.
// reason must be one of: "no_credential", "invalid_credential", "origin",
// "ip_limit", "capacity", "rate_limit"
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// UpdateWSConnections updates the WebSocket connection gauge.
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementFramesDropped counts a frame dropped on a full send queue.
func IncrementFramesDropped() {
	wsFramesDropped.Inc()
}

// RecordRouted records one routed message and how many queues it reached.
func RecordRouted(messageType string, delivered int) {
	messagesRouted.WithLabelValues(messageType).Inc()
	deliveries.Add(float64(delivered))
	if delivered == 0 {
		routingNoOps.Inc()
	}
}

// IncrementMalformed counts an inbound frame rejected at decode time.
func IncrementMalformed() {
	malformedPayloads.Inc()
}

// RecordRequest records HTTP request metrics.
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}
