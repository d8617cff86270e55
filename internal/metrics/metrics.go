package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewarden_requests_total",
			Help: "Total number of ingestion requests processed",
		},
		[]string{"kind", "status"},
	)

	RequestBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatewarden_request_bytes_total",
			Help: "Total bytes of accepted payload data",
		},
	)

	// Gate metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewarden_rate_limit_hits_total",
			Help: "Total number of admission denials",
		},
		[]string{"source_id"},
	)

	ValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewarden_validation_failures_total",
			Help: "Total number of threat validation failures",
		},
		[]string{"code"},
	)

	ComplianceFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatewarden_compliance_failures_total",
			Help: "Total number of compliance policy rejections",
		},
	)

	// Collaborator metrics
	StorageWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatewarden_storage_write_duration_seconds",
			Help:    "Duration of collaborator write operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"store"},
	)

	StorageWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewarden_storage_write_errors_total",
			Help: "Total number of collaborator write failures",
		},
		[]string{"store"},
	)

	// Audit metrics
	AuditBufferDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatewarden_audit_buffer_depth",
			Help: "Current number of buffered audit entries",
		},
	)

	AuditFlushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatewarden_audit_flushes_total",
			Help: "Total number of audit buffer flushes",
		},
	)
)
