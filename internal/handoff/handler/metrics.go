package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/handoff/internal/handoff/model"
	"github.com/jmerrifield20/handoff/internal/handoff/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	handoffRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "handoff_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	handoffRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "handoff_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	handoffSessionsActivated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "handoff_sessions_activated_total",
		Help: "Sessions activated by secret kind.",
	}, []string{"secret_kind"})

	handoffChallengesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "handoff_challenges_issued_total",
		Help: "Challenges issued.",
	})

	handoffProofsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "handoff_proofs_total",
		Help: "Proof submissions by outcome (verified or the failure kind).",
	}, []string{"outcome"})

	handoffAnchorAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "handoff_anchor_attempts_total",
		Help: "Ledger anchoring attempts by result.",
	}, []string{"result"})

	handoffDependencyChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "handoff_dependency_checks_total",
		Help: "Dependency health probes by probe and result.",
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

		handoffRequestsTotal.WithLabelValues(method, path, status).Inc()
		handoffRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Recorder feeds service events into the Prometheus counters. Install it on
// the services with SetRecorder.
type Recorder struct{}

var _ service.Recorder = Recorder{}

func (Recorder) SessionActivated(kind model.SecretKind) {
	handoffSessionsActivated.WithLabelValues(string(kind)).Inc()
}

func (Recorder) ChallengeIssued() { handoffChallengesIssued.Inc() }

func (Recorder) ProofResult(outcome string) {
	handoffProofsTotal.WithLabelValues(outcome).Inc()
}

func (Recorder) AnchorAttempt(result string) {
	handoffAnchorAttempts.WithLabelValues(result).Inc()
}

// DependencyCheck records one health probe result; it matches
// health.MetricsRecordFunc.
func (Recorder) DependencyCheck(probe string, success bool) {
	result := "ok"
	if !success {
		result = "failed"
	}
	handoffDependencyChecks.WithLabelValues(probe, result).Inc()
}
