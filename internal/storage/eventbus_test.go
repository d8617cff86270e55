package storage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewarden/gatewarden/internal/models"
)

func newTestEventBus(t *testing.T, ringSize int64) (*RedisEventBus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := NewRedisEventBusFromClient(client, ringSize)
	t.Cleanup(func() { bus.Close() })
	return bus, mr
}

func TestPublishEvents(t *testing.T) {
	bus, mr := newTestEventBus(t, 10)
	ctx := context.Background()

	events := []models.EventRecord{
		{Type: "deploy", Severity: "info", Title: "release v1.2 rolled out"},
		{Type: "alert", Severity: "high", Title: "error rate spike"},
	}
	require.NoError(t, bus.PublishEvents(ctx, "svc-api-prod", events))

	items, err := mr.List("events:recent:svc-api-prod")
	require.NoError(t, err)
	require.Len(t, items, 2)

	// Newest first.
	var published publishedEvent
	require.NoError(t, json.Unmarshal([]byte(items[0]), &published))
	assert.Equal(t, "svc-api-prod", published.SourceID)
	assert.Equal(t, "alert", published.Event.Type)
	assert.False(t, published.At.IsZero())
}

func TestPublishEvents_RingIsCapped(t *testing.T) {
	bus, mr := newTestEventBus(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.PublishEvents(ctx, "src", []models.EventRecord{
			{Type: "tick", Title: "event"},
		}))
	}

	items, err := mr.List("events:recent:src")
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestPublishEvents_EmptyBatchIsNoOp(t *testing.T) {
	bus, mr := newTestEventBus(t, 10)
	require.NoError(t, bus.PublishEvents(context.Background(), "src", nil))
	assert.Empty(t, mr.Keys())
}
