// Package metrics provides Prometheus instrumentation for the payout core.
package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path pattern, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clearhold",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clearhold",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AssessmentsTotal counts risk assessments by decision.
	AssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clearhold",
			Name:      "risk_assessments_total",
			Help:      "Total risk assessments by decision (cleared, review).",
		},
		[]string{"decision"},
	)

	// AssessmentDuration observes end-to-end assessment latency.
	AssessmentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clearhold",
			Name:      "risk_assessment_duration_seconds",
			Help:      "Risk assessment duration in seconds.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// WebhookEventsTotal counts inbound processor events by result.
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clearhold",
			Name:      "webhook_events_total",
			Help:      "Inbound processor events by result (processed, duplicate, unhandled, rejected, failed).",
		},
		[]string{"result"},
	)

	// StateTransitionsTotal counts money-state transitions by lane and target status.
	StateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clearhold",
			Name:      "state_transitions_total",
			Help:      "Applied money-state transitions by lane (payout, escrow) and target status.",
		},
		[]string{"lane", "status"},
	)

	// TransitionsRejectedTotal counts compare-and-set mismatches (benign, logged).
	TransitionsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clearhold",
			Name:      "state_transitions_rejected_total",
			Help:      "Transition attempts discarded because the record was not in the expected state.",
		},
		[]string{"lane"},
	)

	// WithdrawalsTotal counts withdrawal requests by outcome.
	WithdrawalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clearhold",
			Name:      "withdrawals_total",
			Help:      "Withdrawal requests by outcome (initiated, review, rejected, duplicate).",
		},
		[]string{"outcome"},
	)

	// ActiveStreamClients gauges connected websocket clients.
	ActiveStreamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clearhold",
			Name:      "active_stream_clients",
			Help:      "Currently connected event-stream websocket clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AssessmentsTotal,
		AssessmentDuration,
		WebhookEventsTotal,
		StateTransitionsTotal,
		TransitionsRejectedTotal,
		WithdrawalsTotal,
		ActiveStreamClients,
	)
}

// Handler returns the /metrics endpoint handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Middleware instruments HTTP requests with count and latency metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := statusLabel(c.Writer.Status())

		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
