package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	digipinRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "digipin_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	digipinRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "digipin_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	digipinResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "digipin_resolutions_total",
		Help: "Resolution attempts by method and outcome.",
	}, []string{"method", "outcome"})

	digipinResolutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "digipin_resolution_duration_seconds",
		Help:    "Resolution latency including the audit append.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"method"})

	digipinAuditAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "digipin_audit_appends_total",
		Help: "Audit appends attempted on the request path by result.",
	}, []string{"result"})

	digipinHealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "digipin_health_checks_total",
		Help: "Total dependency health probes by probe and result.",
	}, []string{"probe", "result"})

	digipinRateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "digipin_rate_limited_total",
		Help: "Requests rejected by a rate limiter.",
	}, []string{"limiter"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		digipinRequestsTotal.WithLabelValues(method, path, status).Inc()
		digipinRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordResolution records one resolution attempt.
func RecordResolution(method, outcome string, d time.Duration) {
	digipinResolutionsTotal.WithLabelValues(method, outcome).Inc()
	digipinResolutionDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordAuditAppend records whether an audit append on the request path succeeded.
func RecordAuditAppend(logged bool) {
	if logged {
		digipinAuditAppendsTotal.WithLabelValues("logged").Inc()
	} else {
		digipinAuditAppendsTotal.WithLabelValues("dropped").Inc()
	}
}

// RecordHealthCheck records a dependency probe result.
func RecordHealthCheck(probe string, success bool) {
	if success {
		digipinHealthChecksTotal.WithLabelValues(probe, "success").Inc()
	} else {
		digipinHealthChecksTotal.WithLabelValues(probe, "failure").Inc()
	}
}
