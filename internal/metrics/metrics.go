// Package metrics provides Prometheus metrics for the job engine and its HTTP surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the namespace for all rank-tracker metrics.
	Namespace = "rank_tracker"

	jobsSubsystem = "jobs"
	httpSubsystem = "http"
)

// Outcome labels for executed jobs.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeTimedOut  = "timed_out"
	// OutcomeDiscarded marks a job whose result lost to a concurrent cancellation.
	OutcomeDiscarded = "discarded"
)

// Metrics holds the Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	JobsEnqueuedTotal    *prometheus.CounterVec
	JobsConflictsTotal   *prometheus.CounterVec
	JobsCancelledTotal   *prometheus.CounterVec
	JobsExecutedTotal    *prometheus.CounterVec
	JobDurationSeconds   *prometheus.HistogramVec
	JobsCurrentlyRunning prometheus.Gauge
	DispatchBatchSize    prometheus.Histogram

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all metrics on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.initJobMetrics(factory)
	m.initHTTPMetrics(factory)

	return m
}

func (m *Metrics) initJobMetrics(factory promauto.Factory) {
	m.JobsEnqueuedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: jobsSubsystem,
			Name:      "enqueued_total",
			Help:      "Total number of jobs enqueued",
		},
		[]string{"type", "priority"},
	)

	m.JobsConflictsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: jobsSubsystem,
			Name:      "conflicts_total",
			Help:      "Total number of enqueue attempts rejected by an active duplicate",
		},
		[]string{"type"},
	)

	m.JobsCancelledTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: jobsSubsystem,
			Name:      "cancelled_total",
			Help:      "Total number of jobs cancelled",
		},
		[]string{"type"},
	)

	m.JobsExecutedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: jobsSubsystem,
			Name:      "executed_total",
			Help:      "Total number of job executions by outcome",
		},
		[]string{"type", "outcome"},
	)

	m.JobDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: jobsSubsystem,
			Name:      "duration_seconds",
			Help:      "Duration of job execution in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 13), // 0.1s to ~7min
		},
		[]string{"type"},
	)

	m.JobsCurrentlyRunning = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: jobsSubsystem,
			Name:      "currently_running",
			Help:      "Number of jobs currently running",
		},
	)

	m.DispatchBatchSize = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: jobsSubsystem,
			Name:      "dispatch_batch_size",
			Help:      "Number of jobs picked per dispatcher pass",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		},
	)
}

func (m *Metrics) initHTTPMetrics(factory promauto.Factory) {
	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: httpSubsystem,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: httpSubsystem,
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
}

func (m *Metrics) RecordEnqueued(jobType string, priority int) {
	if m == nil {
		return
	}
	m.JobsEnqueuedTotal.WithLabelValues(jobType, strconv.Itoa(priority)).Inc()
}

func (m *Metrics) RecordConflict(jobType string) {
	if m == nil {
		return
	}
	m.JobsConflictsTotal.WithLabelValues(jobType).Inc()
}

func (m *Metrics) RecordCancelled(jobType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.JobsCancelledTotal.WithLabelValues(jobType).Add(float64(n))
}

func (m *Metrics) RecordJobStarted() {
	if m == nil {
		return
	}
	m.JobsCurrentlyRunning.Inc()
}

func (m *Metrics) RecordJobFinished(jobType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.JobsCurrentlyRunning.Dec()
	m.JobsExecutedTotal.WithLabelValues(jobType, outcome).Inc()
	m.JobDurationSeconds.WithLabelValues(jobType).Observe(duration.Seconds())
}

func (m *Metrics) RecordBatch(size int) {
	if m == nil {
		return
	}
	m.DispatchBatchSize.Observe(float64(size))
}

// GinMiddleware records request counts and latency per matched route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
