// Package cache provides the scrape result cache: a deterministic key
// scheme, pluggable storage backends, and a single-flight wrapper that
// collapses concurrent fetches for the same key.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// keyLength is the number of hex characters kept from the digest.
const keyLength = 16

// Store is a byte-oriented cache backend with per-entry TTL.
type Store interface {
	// Get returns the value for key and whether a live entry existed.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Key derives a cache key from request parameters. Parameters are
// serialized in sorted order, so equal parameter sets always map to
// the same key regardless of insertion order.
func Key(params map[string]string) string {
	pairs := make([]string, 0, len(params))
	for k, v := range params {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)

	sum := sha256.Sum256([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(sum[:])[:keyLength]
}

// Cache wraps a Store with a TTL and single-flight fetching.
type Cache struct {
	store  Store
	ttl    time.Duration
	logger *zap.Logger
	group  singleflight.Group
}

// New creates a Cache over store with the given entry TTL.
func New(store Store, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{store: store, ttl: ttl, logger: logger}
}

// GetOrFetch returns the cached value for key, or runs fetch and caches
// its result. Concurrent callers with the same key share one fetch.
// Fetch failures are returned to every waiter and never cached. The
// second return reports whether the value came from the cache.
func (c *Cache) GetOrFetch(ctx context.Context, key string, fetch func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	type result struct {
		value []byte
		hit   bool
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if value, ok, err := c.store.Get(ctx, key); err != nil {
			c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			return result{value: value, hit: true}, nil
		}

		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.store.Set(ctx, key, value, c.ttl); err != nil {
			c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		}
		return result{value: value}, nil
	})
	if err != nil {
		return nil, false, err
	}

	r := v.(result)
	return r.value, r.hit, nil
}
