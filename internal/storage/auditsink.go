package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/gatewarden/gatewarden/internal/models"
)

// AuditSubject is the JetStream subject audit batches are published to.
const AuditSubject = "gatewarden.audit"

// auditStream is the JetStream stream retaining audit batches.
const auditStream = "GATEWARDEN_AUDIT"

// NATSAuditSink publishes signed audit batches to JetStream, giving the
// audit trail at-least-once delivery and broker-side retention.
type NATSAuditSink struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewNATSAuditSink connects to NATS and ensures the audit stream exists.
func NewNATSAuditSink(natsURL string) (*NATSAuditSink, error) {
	conn, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connection failed: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream init failed: %w", err)
	}

	_, err = js.StreamInfo(auditStream)
	if err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      auditStream,
			Subjects:  []string{AuditSubject},
			Retention: nats.LimitsPolicy,
			MaxAge:    30 * 24 * time.Hour,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("create audit stream: %w", err)
		}
	}

	return &NATSAuditSink{conn: conn, js: js}, nil
}

// WriteAudit publishes one batch as a single message.
func (s *NATSAuditSink) WriteAudit(ctx context.Context, entries []models.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("%w: marshal audit batch: %v", models.ErrWriteError, err)
	}
	if _, err := s.js.Publish(AuditSubject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("%w: publish audit batch: %v", models.ErrWriteError, err)
	}
	return nil
}

// Close drains the connection, allowing in-flight publishes to complete.
func (s *NATSAuditSink) Close() error {
	return s.conn.Drain()
}
