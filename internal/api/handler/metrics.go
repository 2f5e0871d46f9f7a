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
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docanchor_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docanchor_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	anchorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docanchor_anchors_total",
		Help: "Anchor operations by result.",
	}, []string{"result"})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docanchor_verifications_total",
		Help: "Verifications by outcome.",
	}, []string{"outcome"})

	orphansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docanchor_orphans_total",
		Help: "Ledger accounts found or left without an index record.",
	})

	signerBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docanchor_signer_balance_lamports",
		Help: "Last observed balance of the fee payer.",
	})

	healthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docanchor_health_checks_total",
		Help: "Total health check probes by probe and result.",
	}, []string{"probe", "result"})
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

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// MetricsObserver feeds anchor.Service outcomes into Prometheus.
type MetricsObserver struct{}

// AnchorCompleted implements anchor.Observer.
func (MetricsObserver) AnchorCompleted(result string) {
	anchorsTotal.WithLabelValues(result).Inc()
}

// VerificationCompleted implements anchor.Observer.
func (MetricsObserver) VerificationCompleted(outcome string) {
	verificationsTotal.WithLabelValues(outcome).Inc()
}

// OrphanDetected implements anchor.Observer.
func (MetricsObserver) OrphanDetected() {
	orphansTotal.Inc()
}

// RecordHealthCheck records a health check probe result.
func RecordHealthCheck(probe string, success bool) {
	if success {
		healthChecksTotal.WithLabelValues(probe, "success").Inc()
	} else {
		healthChecksTotal.WithLabelValues(probe, "failure").Inc()
	}
}

// SetSignerBalance records the fee payer balance.
func SetSignerBalance(lamports uint64) {
	signerBalance.Set(float64(lamports))
}
