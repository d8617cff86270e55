package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gatewarden/gatewarden/internal/handlers"
	"github.com/gatewarden/gatewarden/internal/middleware"
)

// NewRouter constructs a ServeMux with the ingestion API routes registered.
func NewRouter(h *handlers.IngestHandler) http.Handler {
	mux := http.NewServeMux()

	// Ingestion endpoints
	mux.HandleFunc("/services/ingest/metrics", h.HandleMetrics)
	mux.HandleFunc("/services/ingest/logs", h.HandleLogs)
	mux.HandleFunc("/services/ingest/events", h.HandleEvents)
	mux.HandleFunc("/services/ingest/batch", h.HandleBatch)
	mux.HandleFunc("/services/ingest/security-test", h.HandleSecurityTest)

	// Operational endpoints
	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/stats", h.Stats)
	mux.HandleFunc("/compliance/report", h.ComplianceReport)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}
