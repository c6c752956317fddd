package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the signalling server.
//
// num_connected_clients, num_ongoing_sessions, and session_duration_sec are
// the external metrics contract and are registered unprefixed so their wire
// name matches exactly. Everything else follows the namespace_subsystem_name
// convention:
// - namespace: signalling (application-level grouping)
// - subsystem: ws, ice, rate_limit (feature-level grouping)
//
// Metric Types:
// - Gauge: Current state (connected clients, ongoing sessions)
// - Counter: Cumulative events (messages dispatched, broker requests)
// - Histogram: Distributions (session duration)

var (
	// NumConnectedClients is num_connected_clients, one of the three metrics
	// named verbatim by the external metrics contract: current number of
	// connected WebSocket clients, by hashed remote IP. Registered with no
	// namespace/subsystem prefix so the exposed name matches that contract
	// literally, as are the other two contract metrics that follow; the
	// remaining collectors are additive domain-stack instrumentation and do
	// carry the signalling_* prefix.
	NumConnectedClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "num_connected_clients",
		Help: "Current number of connected WebSocket clients, by hashed remote IP",
	}, []string{"hashed_ip"})

	// NumOngoingSessions is num_ongoing_sessions: current number of rooms
	// that have a sharer.
	NumOngoingSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "num_ongoing_sessions",
		Help: "Current number of ongoing signalling sessions (rooms)",
	})

	// SessionDurationSec is session_duration_sec: how long a session lived,
	// sampled at teardown.
	SessionDurationSec = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "session_duration_sec",
		Help:    "Duration of a signalling session from start to close, in seconds",
		Buckets: sessionDurationBuckets(),
	})

	// MessagesTotal counts dispatcher outcomes per message type.
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalling",
		Subsystem: "ws",
		Name:      "messages_total",
		Help:      "Total signalling messages processed by the dispatcher",
	}, []string{"type", "outcome"})

	// CircuitBreakerState tracks a named circuit breaker's state.
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signalling",
		Subsystem: "ice",
		Name:      "circuit_breaker_state",
		Help:      "Current state of a circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// ICEBrokerRequestsTotal counts ice_servers requests handled by the broker.
	ICEBrokerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalling",
		Subsystem: "ice",
		Name:      "broker_requests_total",
		Help:      "Total ice_servers requests handled by the ICE broker",
	}, []string{"status"})

	// RateLimitRejectionsTotal counts connection attempts rejected at admission.
	RateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalling",
		Subsystem: "rate_limit",
		Name:      "rejections_total",
		Help:      "Total connection attempts rejected by the admission rate limiter",
	}, []string{"endpoint"})
)

// IncConnection records a newly admitted WebSocket connection from the given
// hashed client IP.
func IncConnection(hashedIP string) {
	NumConnectedClients.WithLabelValues(hashedIP).Inc()
}

// DecConnection records a closed WebSocket connection from the given hashed
// client IP.
func DecConnection(hashedIP string) {
	NumConnectedClients.WithLabelValues(hashedIP).Dec()
}

// CircuitBreakerStateValue maps a gobreaker state name to the numeric value
// CircuitBreakerState expects.
func CircuitBreakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 1
	case "half-open":
		return 2
	default:
		return 0
	}
}

// sessionDurationBuckets spans 1 second to 24 hours.
func sessionDurationBuckets() []float64 {
	return []float64{
		1, 5, 15, 30,
		time.Minute.Seconds(),
		(5 * time.Minute).Seconds(),
		(15 * time.Minute).Seconds(),
		(30 * time.Minute).Seconds(),
		time.Hour.Seconds(),
		(2 * time.Hour).Seconds(),
		(6 * time.Hour).Seconds(),
		(12 * time.Hour).Seconds(),
		(24 * time.Hour).Seconds(),
	}
}
