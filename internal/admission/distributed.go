package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatewarden/gatewarden/internal/models"
)

// distributedWindow is fixed at one minute. Simpler and fair across
// instances at the cost of boundary bursts and per-request latency; a
// deployment picks either this or a local strategy, never both.
const distributedWindow = time.Minute

// DistributedController enforces budgets against a shared redis counter
// store so multiple gateway instances admit fairly. Counters are atomic
// INCRBY + EXPIRE per fixed window.
type DistributedController struct {
	client *redis.Client
	cfg    Config
	now    func() time.Time
}

// NewDistributedController connects to redis and verifies reachability.
func NewDistributedController(cfg Config) (*DistributedController, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid redis URL: %v", models.ErrConfiguration, err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &DistributedController{client: client, cfg: cfg, now: time.Now}, nil
}

// NewDistributedControllerFromClient wraps an existing redis client. Used by
// tests and by deployments sharing one connection pool.
func NewDistributedControllerFromClient(client *redis.Client, cfg Config) *DistributedController {
	return &DistributedController{client: client, cfg: cfg, now: time.Now}
}

// Check consumes from the per-source and global windows. A redis failure is
// returned to the caller; the gateway decides whether to fail open.
func (c *DistributedController) Check(ctx context.Context, sourceID string, bytes int64) (models.RateLimitResult, error) {
	now := c.now()
	windowStart := now.Truncate(distributedWindow)
	reset := windowStart.Add(distributedWindow)
	stamp := windowStart.Unix()

	reqLimit := int64(c.cfg.RequestsPerSecond * distributedWindow.Seconds())
	byteLimit := c.cfg.BytesPerMinute
	globalReqLimit := int64(c.cfg.GlobalRequestsPerSecond * distributedWindow.Seconds())
	globalByteLimit := c.cfg.GlobalBytesPerMinute

	pipe := c.client.Pipeline()
	reqCmd := pipe.IncrBy(ctx, fmt.Sprintf("admission:req:%s:%d", sourceID, stamp), 1)
	byteCmd := pipe.IncrBy(ctx, fmt.Sprintf("admission:bytes:%s:%d", sourceID, stamp), bytes)
	gReqCmd := pipe.IncrBy(ctx, fmt.Sprintf("admission:req:_global:%d", stamp), 1)
	gByteCmd := pipe.IncrBy(ctx, fmt.Sprintf("admission:bytes:_global:%d", stamp), bytes)
	pipe.Expire(ctx, fmt.Sprintf("admission:req:%s:%d", sourceID, stamp), 2*distributedWindow)
	pipe.Expire(ctx, fmt.Sprintf("admission:bytes:%s:%d", sourceID, stamp), 2*distributedWindow)
	pipe.Expire(ctx, fmt.Sprintf("admission:req:_global:%d", stamp), 2*distributedWindow)
	pipe.Expire(ctx, fmt.Sprintf("admission:bytes:_global:%d", stamp), 2*distributedWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return models.RateLimitResult{}, fmt.Errorf("distributed admission check failed: %w", err)
	}

	res := models.RateLimitResult{
		Allowed:           true,
		RemainingRequests: max64(reqLimit-reqCmd.Val(), 0),
		RemainingBytes:    max64(byteLimit-byteCmd.Val(), 0),
		ResetTime:         reset,
	}

	deny := func(reason string) (models.RateLimitResult, error) {
		res.Allowed = false
		res.Reason = reason
		res.RetryAfter = reset.Sub(now)
		return res, nil
	}

	switch {
	case reqCmd.Val() > reqLimit:
		return deny(ReasonSourceRequests)
	case byteCmd.Val() > byteLimit:
		return deny(ReasonSourceBytes)
	case globalReqLimit > 0 && gReqCmd.Val() > globalReqLimit:
		return deny(ReasonGlobalRequests)
	case globalByteLimit > 0 && gByteCmd.Val() > globalByteLimit:
		return deny(ReasonGlobalBytes)
	}
	return res, nil
}

// Close releases the redis connection.
func (c *DistributedController) Close() error {
	return c.client.Close()
}
