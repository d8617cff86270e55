package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatewarden/gatewarden/internal/models"
)

// RedisEventBus pushes events onto a capped recent-events list and publishes
// each one on a channel for live subscribers.
//
// Key structure:
//
//	events:recent:{source_id}  - list of recent events, newest first (capped)
//	events:live                - pub/sub channel carrying every event
type RedisEventBus struct {
	client    *redis.Client
	ringSize  int64
	channel   string
	keyPrefix string
}

// NewRedisEventBus connects to redis and verifies reachability. ringSize
// caps the per-source recent-events list.
func NewRedisEventBus(redisURL string, ringSize int64) (*RedisEventBus, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisEventBusFromClient(client, ringSize), nil
}

// NewRedisEventBusFromClient wraps an existing redis connection.
func NewRedisEventBusFromClient(client *redis.Client, ringSize int64) *RedisEventBus {
	if ringSize <= 0 {
		ringSize = 1000
	}
	return &RedisEventBus{
		client:    client,
		ringSize:  ringSize,
		channel:   "events:live",
		keyPrefix: "events:recent:",
	}
}

type publishedEvent struct {
	SourceID string             `json:"source_id"`
	Event    models.EventRecord `json:"event"`
	At       time.Time          `json:"at"`
}

// PublishEvents pushes and publishes the batch in a single pipeline.
func (b *RedisEventBus) PublishEvents(ctx context.Context, sourceID string, events []models.EventRecord) error {
	if len(events) == 0 {
		return nil
	}

	listKey := b.keyPrefix + sourceID
	pipe := b.client.Pipeline()
	for _, ev := range events {
		data, err := json.Marshal(publishedEvent{SourceID: sourceID, Event: ev, At: time.Now()})
		if err != nil {
			return fmt.Errorf("%w: marshal event: %v", models.ErrWriteError, err)
		}
		pipe.LPush(ctx, listKey, data)
		pipe.Publish(ctx, b.channel, data)
	}
	pipe.LTrim(ctx, listKey, 0, b.ringSize-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: publish events: %v", models.ErrWriteError, err)
	}
	return nil
}

// Ping reports redis reachability for health checks.
func (b *RedisEventBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close releases the redis connection.
func (b *RedisEventBus) Close() error {
	return b.client.Close()
}
