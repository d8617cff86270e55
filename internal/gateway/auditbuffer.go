package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gatewarden/gatewarden/internal/audit"
	"github.com/gatewarden/gatewarden/internal/metrics"
	"github.com/gatewarden/gatewarden/internal/models"
	"github.com/gatewarden/gatewarden/internal/storage"
	"github.com/gatewarden/gatewarden/pkg/logging"
)

// auditBuffer batches audit entries and flushes them to the sink when the
// size threshold is reached, on an interval, and on shutdown. Flushes run in
// a background goroutine so admitted requests never block on the sink.
type auditBuffer struct {
	sink      storage.AuditSink
	signer    *audit.Signer
	logger    *logging.Logger
	threshold int

	mu      sync.Mutex
	entries []models.AuditEntry

	flushCh  chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newAuditBuffer(sink storage.AuditSink, signer *audit.Signer, logger *logging.Logger, threshold int, interval time.Duration) *auditBuffer {
	if threshold <= 0 {
		threshold = 100
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	b := &auditBuffer{
		sink:      sink,
		signer:    signer,
		logger:    logger,
		threshold: threshold,
		flushCh:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
	b.wg.Add(1)
	go b.loop(interval)
	return b
}

// append adds one entry and signals a flush once the threshold is reached.
// The signal is non-blocking; the hot path never waits on the sink.
func (b *auditBuffer) append(entry models.AuditEntry) {
	b.mu.Lock()
	b.entries = append(b.entries, entry)
	depth := len(b.entries)
	b.mu.Unlock()

	metrics.AuditBufferDepth.Set(float64(depth))
	if depth >= b.threshold {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
}

func (b *auditBuffer) loop(interval time.Duration) {
	defer b.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.flushCh:
			b.flush()
		case <-ticker.C:
			b.flush()
		case <-b.stopCh:
			b.flush()
			return
		}
	}
}

// flush swaps the buffer out under the lock and writes the batch outside it.
func (b *auditBuffer) flush() {
	b.mu.Lock()
	batch := b.entries
	b.entries = nil
	b.mu.Unlock()

	metrics.AuditBufferDepth.Set(0)
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := b.sink.WriteAudit(ctx, batch); err != nil {
		// Audit writes are best effort; the entries are dropped after one
		// failed attempt rather than growing the buffer without bound.
		b.logger.Warn("audit flush failed",
			logging.Count(len(batch)), logging.Error(err))
		return
	}
	metrics.AuditFlushesTotal.Inc()

	// Log a rolling checkpoint over the flushed entry signatures so the
	// service log and the sink can be cross-verified.
	if b.signer != nil {
		sigs := make([]string, 0, len(batch))
		for _, e := range batch {
			sigs = append(sigs, e.Signature)
		}
		b.logger.Info("audit batch flushed",
			logging.Count(len(batch)),
			slog.String("batch_signature", b.signer.SignBatch(sigs)))
	}
}

// depth returns the current number of buffered entries.
func (b *auditBuffer) depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// stop flushes remaining entries and halts the loop. Safe to call twice.
func (b *auditBuffer) stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}
