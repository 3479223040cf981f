package httpapi

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	relayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	relayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	relayManifestsValidatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_manifests_validated_total",
		Help: "Total manifests validated, by decision.",
	}, []string{"decision"})

	relaySealsExecutedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_seals_executed_total",
		Help: "Total seals marked executed.",
	})

	relayPolicyEngineErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_policy_engine_errors_total",
		Help: "Total manifest validations that failed closed due to a policy engine error.",
	})

	relayAuthEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_auth_events_total",
		Help: "Total auth gate decisions, by event type and outcome.",
	}, []string{"event_type", "success"})
)

// PrometheusMiddleware records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		relayRequestsTotal.WithLabelValues(method, path, status).Inc()
		relayRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler serves the Prometheus exposition format.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordManifestDecision records an approved/denied manifest outcome.
func RecordManifestDecision(approved bool) {
	if approved {
		relayManifestsValidatedTotal.WithLabelValues("approved").Inc()
	} else {
		relayManifestsValidatedTotal.WithLabelValues("denied").Inc()
	}
}

// RecordPolicyEngineError records a fail-closed policy evaluation.
func RecordPolicyEngineError() {
	relayPolicyEngineErrorsTotal.Inc()
}

// RecordSealExecuted records a successful mark-executed call.
func RecordSealExecuted() {
	relaySealsExecutedTotal.Inc()
}

// RecordAuthEvent records an auth gate decision.
func RecordAuthEvent(eventType string, success bool) {
	relayAuthEventsTotal.WithLabelValues(eventType, strconv.FormatBool(success)).Inc()
}
