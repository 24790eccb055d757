package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/latency-dashboard/internal/logging"
	"github.com/example/latency-dashboard/internal/retry"
)

// SummaryCache keeps recent-window responses close to the API.
type SummaryCache interface {
	// GetRecent also returns the generation the lookup ran under. An empty generation
	// means the cache is unavailable.
	GetRecent(ctx context.Context, metricType string, days int, endDate string) (*RecentWindow, string, bool)
	// PutRecent stores window under the generation returned by the lookup that missed,
	// so a window read before an invalidation is never filed under the newer generation.
	PutRecent(ctx context.Context, generation string, window *RecentWindow, days int)
	// Invalidate drops every cached window of metricType.
	Invalidate(ctx context.Context, metricType string)
}

// NopSummaryCache caches nothing. Used when Redis is not configured.
type NopSummaryCache struct{}

// GetRecent always misses.
func (NopSummaryCache) GetRecent(context.Context, string, int, string) (*RecentWindow, string, bool) {
	return nil, "", false
}

// PutRecent does nothing.
func (NopSummaryCache) PutRecent(context.Context, string, *RecentWindow, int) {}

// Invalidate does nothing.
func (NopSummaryCache) Invalidate(context.Context, string) {}

// RedisSummaryCache stores windows under a per-type generation number; invalidation bumps
// the generation so stale keys are never read again and simply expire.
type RedisSummaryCache struct {
	cache  Cache
	codec  *payloadCodec
	ttl    time.Duration
	policy retry.Policy
	logger *zap.Logger
}

// NewRedisSummaryCache builds a cache over the given Redis adapter.
func NewRedisSummaryCache(cache Cache, ttl time.Duration, logger *zap.Logger) (*RedisSummaryCache, error) {
	codec, err := newPayloadCodec()
	if err != nil {
		return nil, err
	}
	return &RedisSummaryCache{
		cache:  cache,
		codec:  codec,
		ttl:    ttl,
		policy: retry.Default,
		logger: logger.Named("summary_cache"),
	}, nil
}

func generationKey(metricType string) string {
	return "latency:summary-gen:" + metricType
}

func recentKey(metricType, generation string, days int, endDate string) string {
	return fmt.Sprintf("latency:recent:%s:%s:%d:%s", metricType, generation, days, endDate)
}

// GetRecent returns a cached window. Every cache failure is a miss.
func (c *RedisSummaryCache) GetRecent(ctx context.Context, metricType string, days int, endDate string) (*RecentWindow, string, bool) {
	generation, err := c.generation(ctx, metricType)
	if err != nil {
		return nil, "", false
	}

	var payload string
	err = c.withRetry(ctx, "cache.get.recent", func() error {
		value, err := c.cache.Get(ctx, recentKey(metricType, generation, days, endDate))
		if err != nil {
			return err
		}
		payload = value
		return nil
	})
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("failed to read cache", zap.Error(err))
		}
		return nil, generation, false
	}

	var window RecentWindow
	if err := c.codec.decode([]byte(payload), &window); err != nil {
		c.logger.Warn("failed to decode cached window", zap.Error(err))
		return nil, generation, false
	}
	return &window, generation, true
}

// PutRecent stores a window under generation; failures are logged and otherwise ignored.
func (c *RedisSummaryCache) PutRecent(ctx context.Context, generation string, window *RecentWindow, days int) {
	if window == nil || generation == "" {
		return
	}
	encoded, err := c.codec.encode(window)
	if err != nil {
		c.logger.Warn("failed to encode window", zap.Error(err))
		return
	}
	key := recentKey(window.MetricType, generation, days, window.DateRange.EndDate)
	if err := c.withRetry(ctx, "cache.set.recent", func() error {
		return c.cache.Set(ctx, key, encoded, c.ttl)
	}); err != nil {
		c.logger.Warn("failed to cache window", zap.Error(err))
	}
}

// Invalidate bumps the type's generation.
func (c *RedisSummaryCache) Invalidate(ctx context.Context, metricType string) {
	if err := c.withRetry(ctx, "cache.invalidate", func() error {
		_, err := c.cache.Incr(ctx, generationKey(metricType))
		return err
	}); err != nil {
		c.logger.Warn("failed to invalidate summary cache", zap.String("type", metricType), zap.Error(err))
	}
}

func (c *RedisSummaryCache) generation(ctx context.Context, metricType string) (string, error) {
	var generation string
	err := c.withRetry(ctx, "cache.get.generation", func() error {
		value, err := c.cache.Get(ctx, generationKey(metricType))
		if errors.Is(err, redis.Nil) {
			generation = "0"
			return nil
		}
		if err != nil {
			return err
		}
		if _, convErr := strconv.ParseInt(value, 10, 64); convErr != nil {
			return fmt.Errorf("corrupt cache generation %q", value)
		}
		generation = value
		return nil
	})
	if err != nil {
		c.logger.Warn("failed to read cache generation", zap.Error(err))
		return "", err
	}
	return generation, nil
}

func (c *RedisSummaryCache) withRetry(ctx context.Context, operation string, fn func() error) error {
	runID := logging.RunIDFromContext(ctx)
	opLogger := logging.WithOperation(c.logger, operation, runID)
	_, err := c.policy.Do(ctx, retry.IsTransient, func(attempt int, err error) {
		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt))
	}, fn)
	return logging.NewOperationError(operation, runID, err)
}
