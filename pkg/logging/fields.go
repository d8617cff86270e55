package logging

import "log/slog"

// Common field names for consistent logging across the gateway.
const (
	FieldService  = "service"
	FieldSourceID = "source_id"
	FieldKind     = "kind"
	FieldStatus   = "status"
	FieldAuditID  = "audit_id"
	FieldDuration = "duration_ms"
	FieldError    = "error"
	FieldStrategy = "strategy"
	FieldCount    = "count"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// SourceID returns a slog attribute for the telemetry source ID.
func SourceID(id string) slog.Attr {
	return slog.String(FieldSourceID, id)
}

// Kind returns a slog attribute for the request kind.
func Kind(kind string) slog.Attr {
	return slog.String(FieldKind, kind)
}

// Status returns a slog attribute for a processing status.
func Status(status string) slog.Attr {
	return slog.String(FieldStatus, status)
}

// AuditID returns a slog attribute for an audit correlation ID.
func AuditID(id string) slog.Attr {
	return slog.String(FieldAuditID, id)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}

// Strategy returns a slog attribute for the admission strategy in use.
func Strategy(name string) slog.Attr {
	return slog.String(FieldStrategy, name)
}

// Count returns a slog attribute for an item count.
func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}
