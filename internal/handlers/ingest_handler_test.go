package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewarden/gatewarden/internal/admission"
	"github.com/gatewarden/gatewarden/internal/compliance"
	"github.com/gatewarden/gatewarden/internal/gateway"
	"github.com/gatewarden/gatewarden/internal/models"
	"github.com/gatewarden/gatewarden/internal/threat"
)

type memTimeSeries struct{ written int }

func (m *memTimeSeries) WriteMetrics(ctx context.Context, sourceID string, points []models.MetricPoint) error {
	m.written += len(points)
	return nil
}

func (m *memTimeSeries) Ping(ctx context.Context) error { return nil }

type rejectingController struct{}

func (rejectingController) Check(ctx context.Context, sourceID string, bytes int64) (models.RateLimitResult, error) {
	return models.RateLimitResult{
		Allowed:    false,
		RetryAfter: 7 * time.Second,
		Reason:     admission.ReasonSourceRequests,
	}, nil
}

func (rejectingController) Close() error { return nil }

func newTestHandler(t *testing.T, ctrl admission.Controller) (*IngestHandler, *memTimeSeries) {
	t.Helper()
	lib, err := threat.NewLibrary()
	require.NoError(t, err)

	ts := &memTimeSeries{}
	gw := gateway.New(gateway.Options{
		Admission:  ctrl,
		Detector:   threat.NewDetector(lib, true),
		Policy:     compliance.NewEngine(0),
		TimeSeries: ts,
	})
	t.Cleanup(gw.Stop)
	return NewIngestHandler(gw), ts
}

func postBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	req := models.IngestionRequest{
		Metadata: models.IngestionMetadata{
			SourceID:    "svc-api-prod",
			Source:      "api",
			Environment: "production",
			Timestamp:   time.Now(),
		},
		Envelope: models.ComplianceEnvelope{
			DataCategory:    models.CategoryTelemetry,
			Sensitivity:     models.SensitivityInternal,
			RetentionPolicy: models.RetentionStandard,
		},
		Metrics: []models.MetricPoint{{Name: "cpu_usage", Value: 0.5, Timestamp: time.Now()}},
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return bytes.NewBuffer(data)
}

func TestHandleMetrics_Success(t *testing.T) {
	h, ts := newTestHandler(t, admission.NoOpController{})

	rec := httptest.NewRecorder()
	h.HandleMetrics(rec, httptest.NewRequest(http.MethodPost, "/services/ingest/metrics", postBody(t)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ts.written)

	var resp models.IngestionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.StatusSuccess, resp.Status)
	assert.Equal(t, 1, resp.MetricsProcessed)
}

func TestHandleMetrics_RateLimited(t *testing.T) {
	h, _ := newTestHandler(t, rejectingController{})

	rec := httptest.NewRecorder()
	h.HandleMetrics(rec, httptest.NewRequest(http.MethodPost, "/services/ingest/metrics", postBody(t)))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "7", rec.Header().Get("Retry-After"))
}

func TestHandleMetrics_ValidationFailure(t *testing.T) {
	h, _ := newTestHandler(t, admission.NoOpController{})

	req := models.IngestionRequest{
		Metadata: models.IngestionMetadata{
			SourceID:  "svc-api-prod",
			Timestamp: time.Now(),
		},
		Envelope: models.ComplianceEnvelope{
			DataCategory:    models.CategoryTelemetry,
			Sensitivity:     models.SensitivityInternal,
			RetentionPolicy: models.RetentionStandard,
		},
		Metrics: []models.MetricPoint{{Name: "<script>alert(1)</script>", Value: 1, Timestamp: time.Now()}},
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.HandleMetrics(rec, httptest.NewRequest(http.MethodPost, "/services/ingest/metrics", bytes.NewBuffer(data)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleMetrics_RejectsBadMethod(t *testing.T) {
	h, _ := newTestHandler(t, admission.NoOpController{})

	rec := httptest.NewRecorder()
	h.HandleMetrics(rec, httptest.NewRequest(http.MethodGet, "/services/ingest/metrics", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleMetrics_RejectsMalformedBody(t *testing.T) {
	h, _ := newTestHandler(t, admission.NoOpController{})

	rec := httptest.NewRecorder()
	h.HandleMetrics(rec, httptest.NewRequest(http.MethodPost, "/services/ingest/metrics", bytes.NewBufferString("{not json")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth_DegradedWhenCollaboratorDown(t *testing.T) {
	lib, err := threat.NewLibrary()
	require.NoError(t, err)

	// No stores configured: nothing to ping, so the service reports healthy.
	gw := gateway.New(gateway.Options{
		Admission: admission.NoOpController{},
		Detector:  threat.NewDetector(lib, true),
		Policy:    compliance.NewEngine(0),
	})
	t.Cleanup(gw.Stop)
	h := NewIngestHandler(gw)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStats(t *testing.T) {
	h, _ := newTestHandler(t, admission.NoOpController{})

	rec := httptest.NewRecorder()
	h.HandleMetrics(rec, httptest.NewRequest(http.MethodPost, "/services/ingest/metrics", postBody(t)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var stats models.IngestionStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.SuccessfulRequests)
}

func TestComplianceReport(t *testing.T) {
	h, _ := newTestHandler(t, admission.NoOpController{})

	rec := httptest.NewRecorder()
	h.HandleMetrics(rec, httptest.NewRequest(http.MethodPost, "/services/ingest/metrics", postBody(t)))

	rec = httptest.NewRecorder()
	h.ComplianceReport(rec, httptest.NewRequest(http.MethodGet, "/compliance/report", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var report compliance.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.TotalChecks)
}
