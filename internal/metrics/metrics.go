package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Failure outcomes.
const (
	OutcomeConflict = "conflict"
	OutcomeRetry    = "retry"
	OutcomeTerminal = "terminal"
)

var (
	// ConnectAttempts counts transport connect attempts, retries included.
	ConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spot_tv_connect_attempts_total",
			Help: "Total number of remote control connect attempts",
		},
		[]string{"retry"},
	)

	// ConnectFailures counts classified disconnects by outcome.
	ConnectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spot_tv_connection_failures_total",
			Help: "Total number of classified connection failures",
		},
		[]string{"outcome"},
	)

	// ReconnectDelay tracks the jittered delay before each reconnect.
	ReconnectDelay = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spot_tv_reconnect_delay_seconds",
			Help:    "Delay before a scheduled reconnect",
			Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
		},
	)

	// StateTransitions tracks connection manager state changes.
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spot_tv_state_transitions_total",
			Help: "Total number of connection manager state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	// Connected is 1 while a remote control session is established.
	Connected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spot_tv_connected",
			Help: "Whether a remote control session is established",
		},
	)

	// CodeRefreshes counts long lived pairing code generations by result.
	CodeRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spot_tv_long_lived_code_refreshes_total",
			Help: "Total number of long lived pairing code generations",
		},
		[]string{"result"},
	)

	// SessionEvents counts session events routed to the manager.
	SessionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spot_tv_session_events_total",
			Help: "Total number of session events handled",
		},
		[]string{"event"},
	)
)

// RecordConnectAttempt increments the attempt counter.
func RecordConnectAttempt(retry bool) {
	label := "false"
	if retry {
		label = "true"
	}
	ConnectAttempts.WithLabelValues(label).Inc()
}

// RecordFailure records a classified disconnect.
func RecordFailure(outcome string) {
	ConnectFailures.WithLabelValues(outcome).Inc()
}

// RecordReconnectScheduled records the delay of a scheduled reconnect.
func RecordReconnectScheduled(delay time.Duration) {
	ReconnectDelay.Observe(delay.Seconds())
}

// RecordStateTransition records a state change and keeps the connected gauge
// in sync.
func RecordStateTransition(fromState, toState string) {
	StateTransitions.WithLabelValues(fromState, toState).Inc()
	if toState == "connected" {
		Connected.Set(1)
	} else {
		Connected.Set(0)
	}
}

// RecordCodeRefresh records a long lived code generation.
func RecordCodeRefresh(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	CodeRefreshes.WithLabelValues(result).Inc()
}

// RecordSessionEvent records a routed session event.
func RecordSessionEvent(name string) {
	SessionEvents.WithLabelValues(name).Inc()
}
