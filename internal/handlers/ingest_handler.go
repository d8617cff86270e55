package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gatewarden/gatewarden/internal/gateway"
	"github.com/gatewarden/gatewarden/internal/models"
)

// IngestHandler exposes the gateway over HTTP. It is a thin shim: all
// decisions live in the gateway, the handler only decodes, dispatches and
// maps statuses to HTTP codes.
type IngestHandler struct {
	gw *gateway.Gateway
}

// NewIngestHandler creates the handler set for the given gateway.
func NewIngestHandler(gw *gateway.Gateway) *IngestHandler {
	return &IngestHandler{gw: gw}
}

func (h *IngestHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, models.KindMetrics)
}

func (h *IngestHandler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, models.KindLogs)
}

func (h *IngestHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, models.KindEvents)
}

func (h *IngestHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, models.KindBatch)
}

func (h *IngestHandler) HandleSecurityTest(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, models.KindSecurityTest)
}

func (h *IngestHandler) handle(w http.ResponseWriter, r *http.Request, kind models.RequestKind) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	defer r.Body.Close()

	var req models.IngestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.Kind = kind

	resp := h.gw.Process(r.Context(), &req)

	status := http.StatusOK
	switch resp.Status {
	case models.StatusRateLimited:
		status = http.StatusTooManyRequests
		if resp.RetryAfter > 0 {
			w.Header().Set("Retry-After", retryAfterSeconds(resp.RetryAfter))
		}
	case models.StatusFailed:
		status = http.StatusBadRequest
	case models.StatusPartial:
		status = http.StatusMultiStatus
	}

	writeJSON(w, status, resp)
}

// Health reports aggregated collaborator reachability.
func (h *IngestHandler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.gw.HealthCheck(r.Context())

	healthy := true
	detail := make(map[string]string, len(health))
	for name, err := range health {
		if err != nil {
			healthy = false
			detail[name] = err.Error()
		} else {
			detail[name] = "ok"
		}
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":        overall,
		"collaborators": detail,
	})
}

// Stats returns the process-wide ingestion counters.
func (h *IngestHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gw.GetStats())
}

// ComplianceReport returns the policy engine's rolling aggregate report.
func (h *IngestHandler) ComplianceReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gw.ComplianceReport())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
