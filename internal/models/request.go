package models

import "time"

// RequestKind identifies the ingestion request type.
type RequestKind string

const (
	KindMetrics      RequestKind = "metrics"
	KindLogs         RequestKind = "logs"
	KindEvents       RequestKind = "events"
	KindBatch        RequestKind = "batch"
	KindSecurityTest RequestKind = "security-test"
)

// IngestionMetadata identifies the producer of a request.
// SourceID must match the identifier pattern enforced by the threat detector;
// Timestamp is required and must fall within [-7 days, +5 minutes] of the
// gateway clock.
type IngestionMetadata struct {
	SourceID    string    `json:"source_id"`
	Source      string    `json:"source"`
	Environment string    `json:"environment"`
	Timestamp   time.Time `json:"timestamp"`
}

// MetricPoint is a single numeric sample destined for the time-series store.
type MetricPoint struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// LogRecord is a structured log line destined for the log store.
type LogRecord struct {
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
	Exception string         `json:"exception,omitempty"`
}

// EventRecord is a discrete event published to the event bus.
type EventRecord struct {
	Type        string         `json:"type"`
	Severity    string         `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// IngestionRequest is the typed envelope entering the gateway. A batch
// request may carry any combination of the three payload lists; the other
// kinds carry only their own list.
//
// Security-test requests carry expected attack payloads and therefore skip
// the content scan; they must name who authorized the test and under which
// ticket, and are never forwarded to production storage when DryRun is set.
type IngestionRequest struct {
	Kind     RequestKind        `json:"kind"`
	Metadata IngestionMetadata  `json:"metadata"`
	Envelope ComplianceEnvelope `json:"envelope"`

	Metrics []MetricPoint `json:"metrics,omitempty"`
	Logs    []LogRecord   `json:"logs,omitempty"`
	Events  []EventRecord `json:"events,omitempty"`

	AuthorizedBy        string `json:"authorized_by,omitempty"`
	AuthorizationTicket string `json:"authorization_ticket,omitempty"`
	DryRun              bool   `json:"dry_run,omitempty"`
}

// ItemCount returns the total number of payload items across all kinds.
func (r *IngestionRequest) ItemCount() int {
	return len(r.Metrics) + len(r.Logs) + len(r.Events)
}
