package sourcestats

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecorder(t *testing.T) (*Recorder, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRecorder(client, time.Hour, slog.Default())
	t.Cleanup(func() { client.Close() })
	return r, mr
}

func TestRecordAndFlush(t *testing.T) {
	r, mr := newTestRecorder(t)

	r.Record("svc-api-prod", 10, 2048)
	r.Record("svc-api-prod", 5, 512)
	r.Record("svc-worker", 3, 100)

	// Stop forces the final flush.
	r.Stop()

	assert.Equal(t, "15", mr.HGet("ingest:stats:svc-api-prod", "total_items"))
	assert.Equal(t, "2560", mr.HGet("ingest:stats:svc-api-prod", "total_bytes"))
	assert.Equal(t, "3", mr.HGet("ingest:stats:svc-worker", "total_items"))
}

func TestGetStats(t *testing.T) {
	r, _ := newTestRecorder(t)
	defer r.Stop()

	r.Record("svc-api-prod", 7, 700)
	r.flush()

	stats, err := r.GetStats(context.Background(), "svc-api-prod")
	require.NoError(t, err)
	assert.Equal(t, "svc-api-prod", stats.SourceID)
	assert.Equal(t, int64(7), stats.TotalItems)
	assert.Equal(t, int64(700), stats.TotalBytes)
	assert.Equal(t, int64(7), stats.ItemsLast24h)
	require.NotNil(t, stats.LastSeenAt)
	assert.WithinDuration(t, time.Now(), *stats.LastSeenAt, time.Minute)
}

func TestGetStats_UnknownSource(t *testing.T) {
	r, _ := newTestRecorder(t)
	defer r.Stop()

	stats, err := r.GetStats(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalItems)
	assert.Nil(t, stats.LastSeenAt)
}

func TestHourlyCountersExpire(t *testing.T) {
	r, mr := newTestRecorder(t)

	r.Record("svc-api-prod", 1, 10)
	r.Stop()

	mr.FastForward(49 * time.Hour)
	for _, key := range mr.Keys() {
		assert.NotContains(t, key, "ingest:hourly:", "hourly counters must expire")
	}
}
