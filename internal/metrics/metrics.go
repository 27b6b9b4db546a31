package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counter metrics (monotonically increasing)
var (
	// UploadsTotal counts finished upload sessions by outcome (completed or an error kind)
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_uploads_total",
			Help: "Total number of upload sessions by outcome",
		},
		[]string{"outcome"},
	)

	// SessionsStartedTotal counts sessions created by the registry
	SessionsStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_sessions_started_total",
			Help: "Total number of upload sessions started",
		},
	)

	// ChunksTotal counts chunk envelopes by result (accepted, duplicate, empty, rejected)
	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_chunks_total",
			Help: "Total number of chunk envelopes processed",
		},
		[]string{"result"},
	)

	// BytesWrittenTotal counts payload bytes written to temp storage
	BytesWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_bytes_written_total",
			Help: "Total payload bytes written to temporary storage",
		},
	)

	// SinkBackpressureTotal counts writes that had to wait for the sink buffer to drain
	SinkBackpressureTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_sink_backpressure_total",
			Help: "Total number of writes suspended until the sink buffer drained",
		},
	)

	// ChunkQueueFullTotal counts chunk offers that blocked on a full session queue
	ChunkQueueFullTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_chunk_queue_full_total",
			Help: "Total number of chunk offers that waited for a full session queue",
		},
	)

	// EventsDroppedTotal counts notifier events dropped for slow or closed connections
	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_dropped_total",
			Help: "Total number of client events dropped",
		},
		[]string{"event"},
	)

	// ContentRejectedTotal counts validator rejections by detected MIME type
	ContentRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_content_rejected_total",
			Help: "Total number of uploads rejected by content sniffing",
		},
		[]string{"mime"},
	)

	// CleanupJobsTotal counts cleanup jobs by status (enqueued, duplicate, done, retried, failed)
	CleanupJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_cleanup_jobs_total",
			Help: "Total number of file cleanup jobs",
		},
		[]string{"status"},
	)

	// TempFilesSweptTotal counts orphaned temp files removed by the sweeper
	TempFilesSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_temp_files_swept_total",
			Help: "Total number of orphaned temporary files removed",
		},
	)

	// HTTPRequestsTotal counts total HTTP requests by method, path, and status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HealthChecksTotal counts health checks by endpoint and resulting status
	HealthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_health_checks_total",
			Help: "Total number of health checks by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)
)

// Gauge metrics
var (
	// ActiveSessions is the number of upload sessions currently held by the registry
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_active_sessions",
			Help: "Number of upload sessions in progress",
		},
	)

	// ActiveConnections is the number of open WebSocket connections
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_active_connections",
			Help: "Number of open upload channel connections",
		},
	)

	// HealthStatus is a gauge representing current health status
	// Values: 0 = unhealthy, 1 = degraded, 2 = healthy
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_health_status",
			Help: "Current health status (0=unhealthy, 1=degraded, 2=healthy)",
		},
	)
)

// Histogram metrics (distributions)
var (
	// HTTPRequestDuration tracks HTTP request latency by method and path
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// FinalizeDuration tracks validation plus publish plus record upsert
	FinalizeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_finalize_duration_seconds",
			Help:    "Time spent validating, publishing and recording an upload",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// UploadSizeBytes tracks distribution of published file sizes
	UploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "ingest_upload_size_bytes",
			Help: "Distribution of published file sizes in bytes",
			Buckets: []float64{
				1024,         // 1 KB
				10240,        // 10 KB
				102400,       // 100 KB
				1048576,      // 1 MB
				10485760,     // 10 MB
				104857600,    // 100 MB
				1073741824,   // 1 GB
				10737418240,  // 10 GB
				107374182400, // 100 GB
			},
		},
	)

	// HealthCheckDuration tracks health check execution time
	HealthCheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_health_check_duration_seconds",
			Help:    "Health check execution time in seconds",
			Buckets: []float64{.001, .002, .005, .01, .025, .05, .1, .5, 1},
		},
	)
)
