// Package metrics exposes Prometheus collectors for the workflow engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values
const (
	OutcomeApplied  = "applied"
	OutcomeNoop     = "noop"
	OutcomeIllegal  = "illegal"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_maintenance_transitions_total",
			Help: "Workflow transitions attempted, by outcome",
		},
		[]string{"action", "decision", "outcome"},
	)

	transitionRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_maintenance_transition_retries_total",
			Help: "Transitions retried after losing a concurrent write",
		},
	)

	billingPushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_maintenance_billing_pushes_total",
			Help: "Billing bridge calls by result (created, existing, not_approved, unavailable)",
		},
		[]string{"result"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_maintenance_notifications_total",
			Help: "Notification side effects by channel and result",
		},
		[]string{"channel", "result"},
	)

	dispatcherDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_maintenance_dispatcher_dropped_total",
			Help: "Async handler runs dropped because the dispatcher queue was full",
		},
		[]string{"event_type", "handler"},
	)

	tokenVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_maintenance_link_token_verifications_total",
			Help: "Link token verifications by result",
		},
		[]string{"result"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_maintenance_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleet_maintenance_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	pendingItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleet_maintenance_pending_items",
			Help: "Open requests waiting at each stage",
		},
		[]string{"stage"},
	)
)

// RecordTransition counts one apply attempt
func RecordTransition(action, decision, outcome string) {
	transitionsTotal.WithLabelValues(action, decision, outcome).Inc()
}

// RecordTransitionRetry counts an internal retry after a version conflict
func RecordTransitionRetry() {
	transitionRetries.Inc()
}

// RecordBillingPush counts one billing bridge call
func RecordBillingPush(result string) {
	billingPushes.WithLabelValues(result).Inc()
}

// RecordNotification counts one notification side effect
func RecordNotification(channel string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	notificationsTotal.WithLabelValues(channel, result).Inc()
}

// RecordDispatchDropped counts one handler run lost to a full queue
func RecordDispatchDropped(eventType, handler string) {
	dispatcherDropped.WithLabelValues(eventType, handler).Inc()
}

// RecordTokenVerification counts one link token check
func RecordTokenVerification(ok bool) {
	result := "valid"
	if !ok {
		result = "invalid"
	}
	tokenVerifications.WithLabelValues(result).Inc()
}

// SetPending publishes the latest badge counts
func SetPending(stage string, n int) {
	pendingItems.WithLabelValues(stage).Set(float64(n))
}

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}
