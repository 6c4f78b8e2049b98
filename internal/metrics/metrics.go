// Package metrics registers and serves the coordinator's Prometheus
// metrics. New returns a process-wide singleton so every component
// records into the same registry.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the coordinator.
type Metrics struct {
	// Task metrics
	TasksCreated      prometheus.Counter
	TaskTransitions   *prometheus.CounterVec
	TasksExpired      prometheus.Counter
	AssignmentLatency prometheus.Histogram

	// Connection metrics
	ConnectedBots prometheus.Gauge
	FramesPushed  *prometheus.CounterVec
	FramesDropped prometheus.Counter

	// Sweeper metrics
	SweepsTotal   prometheus.Counter
	SweepFailures prometheus.Counter

	// System metrics
	EventsPublished     *prometheus.CounterVec
	CacheHits           prometheus.Counter
	CacheMisses         prometheus.Counter
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// New creates and registers all coordinator metrics. Safe to call from
// every component; registration happens once.
func New() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			TasksCreated: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "clawbot_tasks_created_total",
					Help: "Total number of tasks created",
				},
			),
			TaskTransitions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "clawbot_task_transitions_total",
					Help: "Total number of task status transitions",
				},
				[]string{"to_status"},
			),
			TasksExpired: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "clawbot_tasks_expired_total",
					Help: "Total number of tasks failed by the timeout sweeper",
				},
			),
			AssignmentLatency: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "clawbot_assignment_duration_seconds",
					Help:    "Time spent claiming a bot and committing an assignment",
					Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to 2s
				},
			),

			ConnectedBots: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "clawbot_connected_bots",
					Help: "Number of bots with a live WebSocket connection",
				},
			),
			FramesPushed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "clawbot_frames_pushed_total",
					Help: "Total number of frames queued to bot connections",
				},
				[]string{"type"},
			),
			FramesDropped: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "clawbot_frames_dropped_total",
					Help: "Total number of frames dropped from full send queues",
				},
			),

			SweepsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "clawbot_sweeps_total",
					Help: "Total number of timeout sweep passes",
				},
			),
			SweepFailures: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "clawbot_sweep_failures_total",
					Help: "Total number of sweep passes that hit a store error",
				},
			),

			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "clawbot_events_published_total",
					Help: "Total number of lifecycle events published",
				},
				[]string{"event_type"},
			),
			CacheHits: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "clawbot_cache_hits_total",
					Help: "Total number of result cache hits",
				},
			),
			CacheMisses: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "clawbot_cache_misses_total",
					Help: "Total number of result cache misses",
				},
			),
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "clawbot_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "clawbot_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
		}
	})

	return sharedMetrics
}

// RecordTransition records a task moving into a status.
func (m *Metrics) RecordTransition(toStatus string) {
	m.TaskTransitions.WithLabelValues(toStatus).Inc()
}

// RecordPush records a frame queued (or dropped) for a bot connection.
func (m *Metrics) RecordPush(frameType string, dropped bool) {
	m.FramesPushed.WithLabelValues(frameType).Inc()
	if dropped {
		m.FramesDropped.Inc()
	}
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, seconds float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(seconds)
}
