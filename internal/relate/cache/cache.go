// Package cache is a read-through Redis cache for per-entry related lists.
// Keys embed the run fingerprint, so a new run naturally stops hitting the
// previous run's keys and stale ones age out with the TTL. The cache is
// strictly an accelerator: with no Redis client, or with the circuit open,
// every lookup falls through to the compute function.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate/ranker"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/config"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/logger"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/metrics"
	pkgredis "github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/redis"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/resilience"
)

const keyPrefix = "related:"

const breakerName = "related-cache"

// ListCache caches serialized related lists in Redis, deduplicating
// concurrent computes for the same key with singleflight.
type ListCache struct {
	client  *pkgredis.Client
	cfg     config.RedisConfig
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
	metrics *metrics.Metrics
	hits    atomic.Int64
	misses  atomic.Int64
}

// Option customizes a ListCache.
type Option func(*ListCache)

// WithMetrics attaches Prometheus collectors to the cache.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *ListCache) { c.metrics = m }
}

// New creates a ListCache. A nil client disables Redis entirely while
// keeping the compute-deduplication behavior.
func New(client *pkgredis.Client, cfg config.RedisConfig, opts ...Option) *ListCache {
	c := &ListCache{
		client:  client,
		cfg:     cfg,
		breaker: resilience.NewCircuitBreaker(breakerName, resilience.CircuitBreakerConfig{}),
		logger:  logger.WithComponent("related-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether the cache has a Redis backend.
func (c *ListCache) Enabled() bool {
	return c.client != nil
}

// Get returns the cached related list for one entry of one run.
func (c *ListCache) Get(ctx context.Context, fingerprint, id string) ([]ranker.Result, bool) {
	if c.client == nil {
		c.miss()
		return nil, false
	}
	key := c.buildKey(fingerprint, id)
	var data string
	found := false
	err := c.breaker.Execute(func() error {
		v, err := c.client.Get(ctx, key)
		if err != nil {
			if pkgredis.IsNilError(err) {
				return nil
			}
			return err
		}
		data = v
		found = true
		return nil
	})
	c.observeBreaker()
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Debug("cache bypassed, circuit open", "key", key)
		} else {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	if !found {
		c.miss()
		return nil, false
	}
	var results []ranker.Result
	if err := json.Unmarshal([]byte(data), &results); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hit()
	c.logger.Debug("cache hit", "key", key)
	return results, true
}

// Set stores a related list best-effort; failures only cost future hits.
func (c *ListCache) Set(ctx context.Context, fingerprint, id string, results []ranker.Result) {
	if c.client == nil {
		return
	}
	key := c.buildKey(fingerprint, id)
	data, err := json.Marshal(results)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.client.Set(ctx, key, data, c.cfg.CacheTTL)
	})
	c.observeBreaker()
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached list or computes and stores it. The bool
// result reports whether the value came from the cache. Concurrent callers
// for the same key share a single compute.
func (c *ListCache) GetOrCompute(
	ctx context.Context,
	fingerprint, id string,
	computeFn func() ([]ranker.Result, error),
) ([]ranker.Result, bool, error) {
	key := c.buildKey(fingerprint, id)
	if c.client == nil {
		val, err, _ := c.group.Do(key, func() (interface{}, error) {
			return computeFn()
		})
		if err != nil {
			return nil, false, err
		}
		return val.([]ranker.Result), false, nil
	}
	if results, ok := c.Get(ctx, fingerprint, id); ok {
		return results, true, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if results, ok := c.Get(ctx, fingerprint, id); ok {
			return results, nil
		}
		results, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, fingerprint, id, results)
		return results, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]ranker.Result), false, nil
}

// Invalidate removes every cached list belonging to one run fingerprint.
func (c *ListCache) Invalidate(ctx context.Context, fingerprint string) error {
	if c.client == nil {
		return nil
	}
	pattern := keyPrefix + fingerprint + ":*"
	deleted, err := c.client.FlushByPattern(ctx, pattern)
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "fingerprint", fingerprint, "keys_deleted", deleted)
	return nil
}

// Stats returns lifetime hit and miss counts.
func (c *ListCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *ListCache) buildKey(fingerprint, id string) string {
	return keyPrefix + fingerprint + ":" + id
}

func (c *ListCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *ListCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func (c *ListCache) observeBreaker() {
	if c.metrics != nil {
		c.metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(float64(c.breaker.GetState()))
	}
}
