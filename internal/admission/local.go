package admission

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/gatewarden/gatewarden/internal/models"
)

const shardCount = 32

// byteWindow is the fixed reset interval for the parallel byte budget.
const byteWindow = time.Minute

// bucket holds per-source rate limit state. Created lazily on the first
// request from a source and evicted by the sweep after BucketTTL idle.
// Each bucket has its own mutex so unrelated sources never serialize.
type bucket struct {
	mu sync.Mutex

	tokens     float64
	lastUpdate time.Time

	requestCount int64
	windowStart  time.Time
	timestamps   []time.Time

	bytesCount      int64
	byteWindowStart time.Time

	violations int
	lastSeen   time.Time
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// LocalController implements admission over in-process buckets. Buckets are
// advanced lazily at check time; no background ticking is needed beyond the
// eviction sweep.
type LocalController struct {
	cfg    Config
	shards [shardCount]*shard
	global *bucket

	// loadFn, when set, scales the effective refill rate by external load
	// (the adaptive variant).
	loadFn LoadFactorFunc

	now    func() time.Time
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewLocalController builds a controller for the token_bucket,
// sliding_window or fixed_window strategy and starts the eviction sweep.
func NewLocalController(cfg Config) (*LocalController, error) {
	c := &LocalController{
		cfg:    cfg,
		global: &bucket{},
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &shard{buckets: make(map[string]*bucket)}
	}

	if cfg.SweepInterval > 0 && cfg.BucketTTL > 0 {
		c.wg.Add(1)
		go c.sweepLoop()
	}
	return c, nil
}

// Check admits or denies one request of the given size. The per-source
// budget is consumed first, then the global budget; a denial from either
// produces a backoff hint derived from the source bucket's violation count.
func (c *LocalController) Check(ctx context.Context, sourceID string, bytes int64) (models.RateLimitResult, error) {
	now := c.now()
	rps, capacity := c.effectiveRate(c.cfg.RequestsPerSecond)

	b := c.bucketFor(sourceID, now)
	res := c.take(b, now, rps, capacity, bytes, c.cfg.BytesPerMinute, ReasonSourceRequests, ReasonSourceBytes)
	if !res.Allowed {
		return res, nil
	}

	if c.cfg.GlobalRequestsPerSecond > 0 {
		grps, gcap := c.effectiveRate(c.cfg.GlobalRequestsPerSecond)
		gres := c.take(c.global, now, grps, gcap, bytes, c.cfg.GlobalBytesPerMinute, ReasonGlobalRequests, ReasonGlobalBytes)
		if !gres.Allowed {
			// Give the source its budget back: a global throttle must not
			// also drain every source's own budget.
			c.refund(b, capacity, bytes)
			return gres, nil
		}
		// Surface the tighter of the two remaining budgets.
		if gres.RemainingRequests < res.RemainingRequests {
			res.RemainingRequests = gres.RemainingRequests
		}
		if gres.RemainingBytes < res.RemainingBytes {
			res.RemainingBytes = gres.RemainingBytes
		}
	}
	return res, nil
}

// take advances one bucket under its own lock and applies the configured
// strategy plus the parallel byte budget.
func (c *LocalController) take(b *bucket, now time.Time, rps, capacity float64, bytes, bytesBudget int64, reqReason, byteReason string) models.RateLimitResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSeen = now

	// Byte budget: fixed 60s reset, shared across strategies.
	if b.byteWindowStart.IsZero() || now.Sub(b.byteWindowStart) >= byteWindow {
		b.byteWindowStart = now
		b.bytesCount = 0
	}
	remainingBytes := bytesBudget - b.bytesCount - bytes

	var (
		allowed   bool
		remaining int64
		reset     time.Time
	)
	switch c.cfg.Strategy {
	case StrategySlidingWindow:
		allowed, remaining, reset = c.takeSliding(b, now, rps, capacity)
	case StrategyFixedWindow:
		allowed, remaining, reset = c.takeFixed(b, now, rps, capacity)
	default:
		allowed, remaining, reset = c.takeToken(b, now, rps, capacity)
	}

	reason := ""
	if !allowed {
		reason = reqReason
	} else if remainingBytes < 0 {
		allowed = false
		reason = byteReason
		remainingBytes = bytesBudget - b.bytesCount
	}

	if !allowed {
		b.violations++
		return models.RateLimitResult{
			Allowed:           false,
			RemainingRequests: max64(remaining, 0),
			RemainingBytes:    max64(remainingBytes, 0),
			ResetTime:         reset,
			RetryAfter:        c.backoff(b.violations),
			Reason:            reason,
		}
	}

	b.bytesCount += bytes
	b.violations = 0
	return models.RateLimitResult{
		Allowed:           true,
		RemainingRequests: max64(remaining, 0),
		RemainingBytes:    max64(remainingBytes, 0),
		ResetTime:         reset,
	}
}

// refund reverses one admitted request on a source bucket after the global
// bucket denied it.
func (c *LocalController) refund(b *bucket, capacity float64, bytes int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bytesCount -= bytes
	if b.bytesCount < 0 {
		b.bytesCount = 0
	}
	switch c.cfg.Strategy {
	case StrategySlidingWindow:
		if n := len(b.timestamps); n > 0 {
			b.timestamps = b.timestamps[:n-1]
		}
	case StrategyFixedWindow:
		if b.requestCount > 0 {
			b.requestCount--
		}
	default:
		b.tokens = math.Min(capacity, b.tokens+1)
	}
}

// takeToken is the default strategy: capacity accrues continuously at rps up
// to the burst ceiling, each admitted request consumes one token.
func (c *LocalController) takeToken(b *bucket, now time.Time, rps, capacity float64) (bool, int64, time.Time) {
	if b.lastUpdate.IsZero() {
		b.tokens = capacity
	} else {
		b.tokens = math.Min(capacity, b.tokens+now.Sub(b.lastUpdate).Seconds()*rps)
	}
	b.lastUpdate = now

	if b.tokens < 1 {
		deficit := (1 - b.tokens) / rps
		return false, int64(b.tokens), now.Add(time.Duration(deficit * float64(time.Second)))
	}
	b.tokens--
	full := (capacity - b.tokens) / rps
	return true, int64(b.tokens), now.Add(time.Duration(full * float64(time.Second)))
}

// takeSliding smooths admission across a rolling window sized to hold the
// burst capacity at the configured rate.
func (c *LocalController) takeSliding(b *bucket, now time.Time, rps, capacity float64) (bool, int64, time.Time) {
	window := time.Duration(capacity / rps * float64(time.Second))
	cutoff := now.Add(-window)

	keep := b.timestamps[:0]
	for _, ts := range b.timestamps {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	b.timestamps = keep

	limit := int64(capacity)
	if int64(len(b.timestamps)) >= limit {
		reset := b.timestamps[0].Add(window)
		return false, 0, reset
	}
	b.timestamps = append(b.timestamps, now)
	reset := b.timestamps[0].Add(window)
	return true, limit - int64(len(b.timestamps)), reset
}

// takeFixed resets exactly at window boundaries; bursts across a boundary
// are an accepted property of this strategy.
func (c *LocalController) takeFixed(b *bucket, now time.Time, rps, capacity float64) (bool, int64, time.Time) {
	window := time.Duration(capacity / rps * float64(time.Second))
	start := now.Truncate(window)
	if !b.windowStart.Equal(start) {
		b.windowStart = start
		b.requestCount = 0
	}
	reset := start.Add(window)

	limit := int64(capacity)
	if b.requestCount >= limit {
		return false, 0, reset
	}
	b.requestCount++
	return true, limit - b.requestCount, reset
}

// backoff computes the retry hint: min(base * multiplier^violations, max).
func (c *LocalController) backoff(violations int) time.Duration {
	d := float64(c.cfg.BackoffBase) * math.Pow(c.cfg.BackoffMultiplier, float64(violations-1))
	if d > float64(c.cfg.BackoffMax) {
		return c.cfg.BackoffMax
	}
	return time.Duration(d)
}

// effectiveRate applies the adaptive load scaling when configured.
func (c *LocalController) effectiveRate(rps float64) (float64, float64) {
	if c.loadFn != nil {
		switch load := c.loadFn(); {
		case load < 0.3:
			rps *= 1.5
		case load > 0.7:
			rps *= 0.5
		}
	}
	return rps, rps * c.cfg.BurstMultiplier
}

func (c *LocalController) bucketFor(sourceID string, now time.Time) *bucket {
	h := fnv.New32a()
	h.Write([]byte(sourceID))
	s := c.shards[h.Sum32()%shardCount]

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[sourceID]
	if !ok {
		b = &bucket{lastSeen: now}
		s.buckets[sourceID] = b
	}
	return b
}

// sweepLoop evicts buckets idle past BucketTTL, holding each shard lock only
// briefly.
func (c *LocalController) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stopCh:
			return
		}
	}
}

// Sweep removes idle buckets immediately. Exposed for tests and for manual
// maintenance endpoints.
func (c *LocalController) Sweep() int {
	cutoff := c.now().Add(-c.cfg.BucketTTL)
	evicted := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for id, b := range s.buckets {
			b.mu.Lock()
			idle := b.lastSeen.Before(cutoff)
			b.mu.Unlock()
			if idle {
				delete(s.buckets, id)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

// BucketCount returns the number of live per-source buckets.
func (c *LocalController) BucketCount() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.buckets)
		s.mu.Unlock()
	}
	return n
}

// Close stops the eviction sweep.
func (c *LocalController) Close() error {
	close(c.stopCh)
	c.wg.Wait()
	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
