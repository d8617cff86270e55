// Package admission implements per-source and global request/byte budgets
// behind pluggable strategies. The default token bucket refills continuously;
// sliding and fixed window strategies are selected by configuration, and a
// redis-backed distributed strategy serves multi-instance deployments.
package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/gatewarden/gatewarden/internal/models"
)

// Strategy names accepted in configuration.
const (
	StrategyTokenBucket   = "token_bucket"
	StrategySlidingWindow = "sliding_window"
	StrategyFixedWindow   = "fixed_window"
	StrategyDistributed   = "distributed"
)

// Denial reasons surfaced in RateLimitResult.Reason.
const (
	ReasonSourceRequests = "source request budget exceeded"
	ReasonSourceBytes    = "source byte budget exceeded"
	ReasonGlobalRequests = "global request budget exceeded"
	ReasonGlobalBytes    = "global byte budget exceeded"
)

// Controller is the admission decision point. Check consumes one request and
// the given byte count from both the per-source and the global budget; both
// must pass. A non-nil error means the decision infrastructure itself failed
// (only possible for the distributed strategy), not that the request was
// denied.
type Controller interface {
	Check(ctx context.Context, sourceID string, bytes int64) (models.RateLimitResult, error)
	Close() error
}

// Config holds admission controller tuning. Validate rejects configurations
// that cannot produce a working controller.
type Config struct {
	Strategy          string  `mapstructure:"strategy"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstMultiplier   float64 `mapstructure:"burst_multiplier"`
	BytesPerMinute    int64   `mapstructure:"bytes_per_minute"`

	GlobalRequestsPerSecond float64 `mapstructure:"global_requests_per_second"`
	GlobalBytesPerMinute    int64   `mapstructure:"global_bytes_per_minute"`

	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`

	BucketTTL     time.Duration `mapstructure:"bucket_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	RedisURL string `mapstructure:"redis_url"`
}

// DefaultConfig returns production defaults for the local token bucket.
func DefaultConfig() Config {
	return Config{
		Strategy:                StrategyTokenBucket,
		RequestsPerSecond:       100,
		BurstMultiplier:         2,
		BytesPerMinute:          64 << 20,
		GlobalRequestsPerSecond: 5000,
		GlobalBytesPerMinute:    1 << 30,
		BackoffBase:             time.Second,
		BackoffMultiplier:       2,
		BackoffMax:              5 * time.Minute,
		BucketTTL:               10 * time.Minute,
		SweepInterval:           time.Minute,
	}
}

// Validate checks the configuration for values that would break admission
// math. Failures are configuration errors and block startup.
func (c Config) Validate() error {
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("%w: requests_per_second must be positive", models.ErrConfiguration)
	}
	if c.BurstMultiplier < 1 {
		return fmt.Errorf("%w: burst_multiplier must be >= 1", models.ErrConfiguration)
	}
	if c.BytesPerMinute <= 0 {
		return fmt.Errorf("%w: bytes_per_minute must be positive", models.ErrConfiguration)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: backoff_multiplier must be >= 1", models.ErrConfiguration)
	}
	switch c.Strategy {
	case StrategyTokenBucket, StrategySlidingWindow, StrategyFixedWindow:
	case StrategyDistributed:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: distributed strategy requires redis_url", models.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown admission strategy %q", models.ErrConfiguration, c.Strategy)
	}
	return nil
}

// New builds a controller for the configured strategy. The caller owns Close.
func New(cfg Config) (Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Strategy == StrategyDistributed {
		return NewDistributedController(cfg)
	}
	return NewLocalController(cfg)
}

// NoOpController always admits. Used when admission is disabled and in tests.
type NoOpController struct{}

func (NoOpController) Check(ctx context.Context, sourceID string, bytes int64) (models.RateLimitResult, error) {
	return models.RateLimitResult{Allowed: true, RemainingRequests: -1, RemainingBytes: -1}, nil
}

func (NoOpController) Close() error { return nil }
