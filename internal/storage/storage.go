// Package storage defines the downstream collaborator interfaces the
// gateway forwards accepted payloads to, plus their production
// implementations. Each destination is independent: a failure in one never
// rolls back writes to another.
package storage

import (
	"context"

	"github.com/gatewarden/gatewarden/internal/models"
)

// TimeSeriesStore persists metric points.
type TimeSeriesStore interface {
	WriteMetrics(ctx context.Context, sourceID string, points []models.MetricPoint) error
	Ping(ctx context.Context) error
}

// LogStore persists structured log records per source stream.
type LogStore interface {
	WriteLogs(ctx context.Context, sourceID string, records []models.LogRecord) error
	Ping(ctx context.Context) error
}

// EventBus publishes events and retains a bounded recent-events buffer.
type EventBus interface {
	PublishEvents(ctx context.Context, sourceID string, events []models.EventRecord) error
	Ping(ctx context.Context) error
}

// AuditSink receives batched audit entries.
type AuditSink interface {
	WriteAudit(ctx context.Context, entries []models.AuditEntry) error
}

// NoOpAuditSink discards audit batches. Used when the sink is disabled and
// in tests.
type NoOpAuditSink struct{}

func (NoOpAuditSink) WriteAudit(ctx context.Context, entries []models.AuditEntry) error {
	return nil
}
