// Package sourcestats provides redis-backed per-source ingestion statistics.
//
// Designed for multiple gateway instances writing concurrently; counters are
// accumulated locally and flushed on a ticker rather than per request.
//
// Redis key structure:
//
//	ingest:stats:{source_id}               - hash with current stats
//	ingest:hourly:{source_id}:{YYYYMMDDHH} - item count for the hour (expires 48h)
package sourcestats

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stats is a point-in-time view of one source's usage.
type Stats struct {
	SourceID     string     `json:"source_id"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
	TotalItems   int64      `json:"total_items"`
	TotalBytes   int64      `json:"total_bytes"`
	ItemsLast24h int64      `json:"items_last_24h"`
	RetrievedAt  time.Time  `json:"retrieved_at"`
}

type pending struct {
	items int64
	bytes int64
}

// Recorder accumulates per-source counters and flushes them to redis on an
// interval.
type Recorder struct {
	client   *redis.Client
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*pending

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRecorder starts a recorder flushing at the given interval.
func NewRecorder(client *redis.Client, interval time.Duration, logger *slog.Logger) *Recorder {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	r := &Recorder{
		client:   client,
		interval: interval,
		logger:   logger,
		pending:  make(map[string]*pending),
		stopCh:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.flushLoop()
	return r
}

// Record accumulates one accepted request's usage. Cheap: a map update
// under a mutex, no redis round trip.
func (r *Recorder) Record(sourceID string, items int, bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[sourceID]
	if !ok {
		p = &pending{}
		r.pending[sourceID] = p
	}
	p.items += int64(items)
	p.bytes += bytes
}

func (r *Recorder) flushLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.flush()
		case <-r.stopCh:
			r.flush()
			return
		}
	}
}

func (r *Recorder) flush() {
	r.mu.Lock()
	batch := r.pending
	r.pending = make(map[string]*pending)
	r.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now()
	hourKey := now.Format("2006010215")
	nowUnix := strconv.FormatInt(now.Unix(), 10)

	pipe := r.client.Pipeline()
	for sourceID, p := range batch {
		statsKey := "ingest:stats:" + sourceID
		pipe.HSet(ctx, statsKey, "last_seen_at", nowUnix)
		pipe.HIncrBy(ctx, statsKey, "total_items", p.items)
		pipe.HIncrBy(ctx, statsKey, "total_bytes", p.bytes)

		hourlyKey := fmt.Sprintf("ingest:hourly:%s:%s", sourceID, hourKey)
		pipe.IncrBy(ctx, hourlyKey, p.items)
		pipe.Expire(ctx, hourlyKey, 48*time.Hour)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("source stats flush failed", slog.String("error", err.Error()))
	}
}

// GetStats retrieves the current view for one source.
func (r *Recorder) GetStats(ctx context.Context, sourceID string) (*Stats, error) {
	now := time.Now()

	pipe := r.client.Pipeline()
	statsCmd := pipe.HGetAll(ctx, "ingest:stats:"+sourceID)
	hourlyCmds := make([]*redis.StringCmd, 24)
	for i := range hourlyCmds {
		t := now.Add(-time.Duration(i) * time.Hour)
		hourlyCmds[i] = pipe.Get(ctx, fmt.Sprintf("ingest:hourly:%s:%s", sourceID, t.Format("2006010215")))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to get source stats: %w", err)
	}

	stats := &Stats{SourceID: sourceID, RetrievedAt: now}
	if m, err := statsCmd.Result(); err == nil {
		if v, ok := m["last_seen_at"]; ok {
			if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
				t := time.Unix(unix, 0)
				stats.LastSeenAt = &t
			}
		}
		if v, ok := m["total_items"]; ok {
			stats.TotalItems, _ = strconv.ParseInt(v, 10, 64)
		}
		if v, ok := m["total_bytes"]; ok {
			stats.TotalBytes, _ = strconv.ParseInt(v, 10, 64)
		}
	}
	for _, cmd := range hourlyCmds {
		if v, err := cmd.Int64(); err == nil {
			stats.ItemsLast24h += v
		}
	}
	return stats, nil
}

// Stop flushes remaining counters and halts the loop.
func (r *Recorder) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}
