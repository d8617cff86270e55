package models

import "time"

// IssueSeverity grades a validation finding.
type IssueSeverity string

const (
	SeverityInfo     IssueSeverity = "info"
	SeverityWarning  IssueSeverity = "warning"
	SeverityError    IssueSeverity = "error"
	SeverityCritical IssueSeverity = "critical"
)

// Blocking reports whether this severity invalidates a request.
func (s IssueSeverity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// ValidationIssue is a single finding raised during threat or compliance
// checks. Field is a dotted path into the request (e.g. "metrics[2].name").
type ValidationIssue struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Severity IssueSeverity     `json:"severity"`
	Field    string            `json:"field,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
}

// ValidationResult aggregates the findings for one request. AuditTrail is a
// truncated correlation hash tying the result to the audit log.
type ValidationResult struct {
	IsValid    bool              `json:"is_valid"`
	Issues     []ValidationIssue `json:"issues"`
	AuditTrail string            `json:"audit_trail"`
}

// Blocking returns the error/critical issues from the result.
func (r *ValidationResult) Blocking() []ValidationIssue {
	var out []ValidationIssue
	for _, issue := range r.Issues {
		if issue.Severity.Blocking() {
			out = append(out, issue)
		}
	}
	return out
}

// Warnings returns the non-blocking issue messages from the result.
func (r *ValidationResult) Warnings() []string {
	var out []string
	for _, issue := range r.Issues {
		if !issue.Severity.Blocking() {
			out = append(out, issue.Message)
		}
	}
	return out
}

// RateLimitResult reports an admission decision for one request.
type RateLimitResult struct {
	Allowed           bool          `json:"allowed"`
	RemainingRequests int64         `json:"remaining_requests"`
	RemainingBytes    int64         `json:"remaining_bytes"`
	ResetTime         time.Time     `json:"reset_time"`
	RetryAfter        time.Duration `json:"retry_after,omitempty"`
	Reason            string        `json:"reason,omitempty"`
}

// IngestionStatus is the overall outcome of a gateway call.
type IngestionStatus string

const (
	StatusSuccess     IngestionStatus = "SUCCESS"
	StatusPartial     IngestionStatus = "PARTIAL"
	StatusFailed      IngestionStatus = "FAILED"
	StatusRateLimited IngestionStatus = "RATE_LIMITED"
)

// ResponseError is a single error surfaced to the caller.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// IngestionResponse is returned for every gateway call regardless of outcome.
type IngestionResponse struct {
	Status IngestionStatus `json:"status"`

	MetricsReceived  int `json:"metrics_received"`
	MetricsProcessed int `json:"metrics_processed"`
	LogsReceived     int `json:"logs_received"`
	LogsProcessed    int `json:"logs_processed"`
	EventsReceived   int `json:"events_received"`
	EventsProcessed  int `json:"events_processed"`

	Errors   []ResponseError `json:"errors,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`

	AuditID            string        `json:"audit_id"`
	RateLimitRemaining int64         `json:"rate_limit_remaining"`
	RateLimitReset     time.Time     `json:"rate_limit_reset,omitempty"`
	RetryAfter         time.Duration `json:"retry_after,omitempty"`
	IntegrityHash      string        `json:"integrity_hash,omitempty"`
}

// IngestionStats holds process-wide counters. Reset only on restart.
type IngestionStats struct {
	TotalRequests       int64     `json:"total_requests"`
	SuccessfulRequests  int64     `json:"successful_requests"`
	FailedRequests      int64     `json:"failed_requests"`
	RateLimited         int64     `json:"rate_limited"`
	ValidationFailures  int64     `json:"validation_failures"`
	ComplianceFailures  int64     `json:"compliance_failures"`
	MetricsIngested     int64     `json:"metrics_ingested"`
	LogsIngested        int64     `json:"logs_ingested"`
	EventsIngested      int64     `json:"events_ingested"`
	BytesIngested       int64     `json:"bytes_ingested"`
	StartedAt           time.Time `json:"started_at"`
	LastRequest         time.Time `json:"last_request,omitempty"`
	SuccessRate         float64   `json:"success_rate"`
	UptimeSeconds       float64   `json:"uptime_seconds"`
}

// AuditEntry records one processing decision. Entries are buffered by the
// gateway and flushed to the audit sink in batches. Signature is an HMAC
// over the entry fields for tamper evidence.
type AuditEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action"`
	SourceID  string            `json:"source_id"`
	Count     int               `json:"count"`
	Details   map[string]string `json:"details,omitempty"`
	Signature string            `json:"signature,omitempty"`
}
