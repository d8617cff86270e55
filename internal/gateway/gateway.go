// Package gateway orchestrates the ingestion front door: admission control,
// threat detection, compliance verification, and forwarding to the storage
// collaborators, in increasing cost order with short-circuiting.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gatewarden/gatewarden/internal/admission"
	"github.com/gatewarden/gatewarden/internal/audit"
	"github.com/gatewarden/gatewarden/internal/compliance"
	"github.com/gatewarden/gatewarden/internal/metrics"
	"github.com/gatewarden/gatewarden/internal/models"
	"github.com/gatewarden/gatewarden/internal/sourcestats"
	"github.com/gatewarden/gatewarden/internal/storage"
	"github.com/gatewarden/gatewarden/internal/threat"
	"github.com/gatewarden/gatewarden/pkg/logging"
)

// Audit actions recorded by the gateway.
const (
	actionIngest       = "ingest"
	actionSecurityTest = "security_test"
)

// CodeSecurityTestUnauthorized rejects security-test requests without an
// authorization trail.
const CodeSecurityTestUnauthorized = "SECURITY_TEST_UNAUTHORIZED"

// Options wires the gateway's collaborators. Admission, Detector and Policy
// are required; nil stores disable forwarding for their kind (the write then
// fails as unavailable). Recorder is optional.
type Options struct {
	Admission  admission.Controller
	Detector   *threat.Detector
	Policy     *compliance.Engine
	TimeSeries storage.TimeSeriesStore
	Logs       storage.LogStore
	Events     storage.EventBus
	AuditSink  storage.AuditSink
	Signer     *audit.Signer
	Recorder   *sourcestats.Recorder
	Logger     *logging.Logger

	// WriteTimeout bounds each collaborator write.
	WriteTimeout time.Duration

	// FlushThreshold and FlushInterval control audit batching.
	FlushThreshold int
	FlushInterval  time.Duration
}

// Gateway is the ingestion security-and-compliance gateway. Safe for
// concurrent use by many producer goroutines.
type Gateway struct {
	opts Options

	statsMu sync.RWMutex
	stats   models.IngestionStats

	buffer *auditBuffer
}

// New creates a gateway and starts the audit flush loop.
func New(opts Options) *Gateway {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.AuditSink == nil {
		opts.AuditSink = storage.NoOpAuditSink{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	g := &Gateway{
		opts:  opts,
		stats: models.IngestionStats{StartedAt: time.Now()},
	}
	g.buffer = newAuditBuffer(opts.AuditSink, opts.Signer, opts.Logger, opts.FlushThreshold, opts.FlushInterval)
	return g
}

// Process runs one request through the three gates and, when admitted,
// forwards its payloads to the relevant collaborators. Rejections are policy
// decisions and are never retried internally.
func (g *Gateway) Process(ctx context.Context, req *models.IngestionRequest) *models.IngestionResponse {
	resp := &models.IngestionResponse{
		AuditID:         uuid.New().String(),
		MetricsReceived: len(req.Metrics),
		LogsReceived:    len(req.Logs),
		EventsReceived:  len(req.Events),
	}

	size := estimateSize(req)

	// Gate 1: admission. Cheapest check first; a denial stops everything.
	limit, err := g.opts.Admission.Check(ctx, req.Metadata.SourceID, size)
	if err != nil {
		// Admission infrastructure failure (distributed strategy only).
		// Fail open: dropping telemetry over a limiter outage is worse than
		// briefly exceeding a budget.
		g.opts.Logger.WarnContext(ctx, "admission check failed, allowing request",
			logging.SourceID(req.Metadata.SourceID), logging.Error(err))
		limit = models.RateLimitResult{Allowed: true, RemainingRequests: -1, RemainingBytes: -1}
	}
	resp.RateLimitRemaining = limit.RemainingRequests
	resp.RateLimitReset = limit.ResetTime

	if !limit.Allowed {
		resp.Status = models.StatusRateLimited
		resp.RetryAfter = limit.RetryAfter
		resp.Errors = append(resp.Errors, models.ResponseError{
			Code:    models.CodeRateLimitExceeded,
			Message: limit.Reason,
		})
		metrics.RateLimitHits.WithLabelValues(req.Metadata.SourceID).Inc()
		g.recordOutcome(req, resp, size, statRateLimited)
		return resp
	}

	// Gate 2: threat detection. Security-test payloads are expected attacks
	// and skip the content scan, but must carry an authorization trail.
	// Batch requests are filtered per item: an invalid item is dropped with
	// one error while the rest stay forwardable; single-kind requests fail
	// wholesale.
	droppedItems := 0
	switch req.Kind {
	case models.KindSecurityTest:
		if req.AuthorizedBy == "" || req.AuthorizationTicket == "" {
			resp.Status = models.StatusFailed
			resp.Errors = append(resp.Errors, models.ResponseError{
				Code:    CodeSecurityTestUnauthorized,
				Message: "security-test requests require authorized_by and authorization_ticket",
			})
			g.recordOutcome(req, resp, size, statFailed)
			return resp
		}
	case models.KindBatch:
		filter := g.opts.Detector.FilterItems(req)
		resp.Warnings = append(resp.Warnings, filter.Warnings...)
		if len(filter.Structure) > 0 {
			resp.Status = models.StatusFailed
			for _, issue := range filter.Structure {
				resp.Errors = append(resp.Errors, models.ResponseError{
					Code:    issue.Code,
					Message: issue.Message,
					Field:   issue.Field,
				})
				metrics.ValidationFailures.WithLabelValues(issue.Code).Inc()
			}
			g.recordOutcome(req, resp, size, statValidationFailed)
			return resp
		}
		for _, issue := range filter.Dropped {
			resp.Errors = append(resp.Errors, models.ResponseError{
				Code:    issue.Code,
				Message: issue.Message,
				Field:   issue.Field,
			})
			metrics.ValidationFailures.WithLabelValues(issue.Code).Inc()
		}
		droppedItems = len(filter.Dropped)
		req.Metrics, req.Logs, req.Events = filter.Metrics, filter.Logs, filter.Events
		if droppedItems > 0 && req.ItemCount() == 0 {
			resp.Status = models.StatusFailed
			g.recordOutcome(req, resp, size, statValidationFailed)
			return resp
		}
	default:
		result := g.opts.Detector.Validate(req)
		resp.Warnings = append(resp.Warnings, result.Warnings()...)
		if !result.IsValid {
			resp.Status = models.StatusFailed
			for _, issue := range result.Blocking() {
				resp.Errors = append(resp.Errors, models.ResponseError{
					Code:    issue.Code,
					Message: issue.Message,
					Field:   issue.Field,
				})
				metrics.ValidationFailures.WithLabelValues(issue.Code).Inc()
			}
			g.recordOutcome(req, resp, size, statValidationFailed)
			return resp
		}
	}

	// Gate 3: compliance policy.
	compliant, issues := g.opts.Policy.Verify(&req.Envelope)
	for _, issue := range issues {
		if !issue.Severity.Blocking() {
			resp.Warnings = append(resp.Warnings, issue.Message)
		}
	}
	if !compliant {
		resp.Status = models.StatusFailed
		for _, issue := range issues {
			if issue.Severity.Blocking() {
				resp.Errors = append(resp.Errors, models.ResponseError{
					Code:    issue.Code,
					Message: issue.Message,
					Field:   issue.Field,
				})
			}
		}
		metrics.ComplianceFailures.Inc()
		g.recordOutcome(req, resp, size, statComplianceFailed)
		return resp
	}

	// Forward. Security-test dry runs are audited but never reach storage.
	if req.Kind == models.KindSecurityTest && req.DryRun {
		resp.Status = models.StatusSuccess
		g.audit(actionSecurityTest, req, resp)
		g.recordOutcome(req, resp, size, statSuccess)
		return resp
	}

	g.forward(ctx, req, resp)
	if droppedItems > 0 && resp.Status == models.StatusSuccess {
		resp.Status = models.StatusPartial
	}

	action := actionIngest
	if req.Kind == models.KindSecurityTest {
		action = actionSecurityTest
	}
	if resp.Status == models.StatusSuccess || resp.Status == models.StatusPartial {
		g.audit(action, req, resp)
		if g.opts.Recorder != nil {
			g.opts.Recorder.Record(req.Metadata.SourceID, req.ItemCount(), size)
		}
		metrics.RequestBytesTotal.Add(float64(size))
	}

	switch resp.Status {
	case models.StatusSuccess, models.StatusPartial:
		g.recordOutcome(req, resp, size, statSuccess)
	default:
		g.recordOutcome(req, resp, size, statFailed)
	}
	return resp
}

// forward writes each payload kind to its collaborator. Destinations are
// independent: one failing kind yields PARTIAL with per-kind counts, never a
// cross-kind rollback.
func (g *Gateway) forward(ctx context.Context, req *models.IngestionRequest, resp *models.IngestionResponse) {
	type kindResult struct {
		name      string
		attempted int
		err       error
	}
	var results []kindResult

	if len(req.Metrics) > 0 {
		err := g.write(ctx, "timeseries", func(ctx context.Context) error {
			if g.opts.TimeSeries == nil {
				return fmt.Errorf("%w: time-series store unavailable", models.ErrWriteError)
			}
			return g.opts.TimeSeries.WriteMetrics(ctx, req.Metadata.SourceID, req.Metrics)
		})
		if err == nil {
			resp.MetricsProcessed = len(req.Metrics)
		}
		results = append(results, kindResult{"metrics", len(req.Metrics), err})
	}

	if len(req.Logs) > 0 {
		err := g.write(ctx, "logstore", func(ctx context.Context) error {
			if g.opts.Logs == nil {
				return fmt.Errorf("%w: log store unavailable", models.ErrWriteError)
			}
			return g.opts.Logs.WriteLogs(ctx, req.Metadata.SourceID, req.Logs)
		})
		if err == nil {
			resp.LogsProcessed = len(req.Logs)
		}
		results = append(results, kindResult{"logs", len(req.Logs), err})
	}

	if len(req.Events) > 0 {
		err := g.write(ctx, "eventbus", func(ctx context.Context) error {
			if g.opts.Events == nil {
				return fmt.Errorf("%w: event bus unavailable", models.ErrWriteError)
			}
			return g.opts.Events.PublishEvents(ctx, req.Metadata.SourceID, req.Events)
		})
		if err == nil {
			resp.EventsProcessed = len(req.Events)
		}
		results = append(results, kindResult{"events", len(req.Events), err})
	}

	succeeded, failed := 0, 0
	for _, r := range results {
		if r.err != nil {
			failed++
			resp.Errors = append(resp.Errors, models.ResponseError{
				Code:    models.CodeWriteError,
				Message: r.err.Error(),
				Field:   r.name,
			})
			metrics.StorageWriteErrors.WithLabelValues(r.name).Inc()
		} else {
			succeeded++
		}
	}

	switch {
	case failed == 0:
		resp.Status = models.StatusSuccess
	case succeeded > 0:
		resp.Status = models.StatusPartial
	default:
		resp.Status = models.StatusFailed
	}
}

// write runs one collaborator write under the configured timeout and records
// its duration.
func (g *Gateway) write(ctx context.Context, store string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.opts.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	metrics.StorageWriteDuration.WithLabelValues(store).Observe(time.Since(start).Seconds())
	return err
}

func (g *Gateway) audit(action string, req *models.IngestionRequest, resp *models.IngestionResponse) {
	entry := models.AuditEntry{
		Timestamp: time.Now(),
		Action:    action,
		SourceID:  req.Metadata.SourceID,
		Count:     req.ItemCount(),
		Details: map[string]string{
			"kind":     string(req.Kind),
			"status":   string(resp.Status),
			"audit_id": resp.AuditID,
		},
	}
	if req.Kind == models.KindSecurityTest {
		entry.Details["authorized_by"] = req.AuthorizedBy
		entry.Details["authorization_ticket"] = req.AuthorizationTicket
	}
	if g.opts.Signer != nil {
		entry.Signature = g.opts.Signer.Sign(entry.Action, entry.SourceID, entry.Count, entry.Timestamp)
		resp.IntegrityHash = entry.Signature
	}
	g.buffer.append(entry)
}

// HealthCheck pings every configured collaborator concurrently and reports
// aggregated reachability.
func (g *Gateway) HealthCheck(ctx context.Context) map[string]error {
	type pinger struct {
		name string
		fn   func(context.Context) error
	}
	var pingers []pinger
	if g.opts.TimeSeries != nil {
		pingers = append(pingers, pinger{"timeseries", g.opts.TimeSeries.Ping})
	}
	if g.opts.Logs != nil {
		pingers = append(pingers, pinger{"logstore", g.opts.Logs.Ping})
	}
	if g.opts.Events != nil {
		pingers = append(pingers, pinger{"eventbus", g.opts.Events.Ping})
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	health := make(map[string]error, len(pingers))
	for _, p := range pingers {
		wg.Add(1)
		go func(p pinger) {
			defer wg.Done()
			err := p.fn(ctx)
			mu.Lock()
			health[p.name] = err
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return health
}

// Stop flushes the audit buffer and halts background work. Call on shutdown.
func (g *Gateway) Stop() {
	g.buffer.stop()
}

// ComplianceReport exposes the policy engine's rolling report.
func (g *Gateway) ComplianceReport() compliance.Report {
	return g.opts.Policy.Report()
}

// estimateSize approximates the wire size of the request for byte budgeting.
func estimateSize(req *models.IngestionRequest) int64 {
	data, err := json.Marshal(req)
	if err != nil {
		return 0
	}
	return int64(len(data))
}
