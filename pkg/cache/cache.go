// Package cache provides a typed read-through/write-through cache over a
// shared Redis connection pool. Each cache namespaces its keys so many logical
// caches can share one backend.
package cache

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// ErrConnectionTimeout is returned when a pooled connection could not be
// acquired within the pool's bounded wait.
var ErrConnectionTimeout = errors.New("could not acquire a connection in time")

// Cache is a typed key/value cache. Values are stored JSON-encoded under
// "<namespace>_<key>". Entries have no TTL; cached values are
// content-addressable, so last-writer-wins is acceptable.
type Cache[T any] struct {
	rdb       *redis.Client
	namespace string
}

// New creates a cache over the given client, partitioned by namespace.
func New[T any](rdb *redis.Client, namespace string) *Cache[T] {
	return &Cache[T]{rdb: rdb, namespace: namespace}
}

func (c *Cache[T]) formatKey(key string) string {
	return c.namespace + "_" + key
}

// Get returns the cached value for key. The second return reports whether the
// key was present; decode failures surface as errors.
func (c *Cache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T

	raw, err := c.rdb.Get(ctx, c.formatKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, translateErr(err)
	}

	var decoded T
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return zero, false, fmt.Errorf("decoding cache entry %q: %w", key, err)
	}

	return decoded, true, nil
}

// GetBulk returns the cached values for keys. Missing keys are simply absent
// from the result. Two or more keys are fetched with a single MGET; exactly
// one key defers to the singular Get, since a one-element multi-get and a
// scalar get are indistinguishable at the protocol level.
func (c *Cache[T]) GetBulk(ctx context.Context, keys []string) (map[string]T, error) {
	switch len(keys) {
	case 0:
		return map[string]T{}, nil
	case 1:
		only := keys[0]
		v, ok, err := c.Get(ctx, only)
		if err != nil {
			return nil, err
		}
		if !ok {
			return map[string]T{}, nil
		}
		return map[string]T{only: v}, nil
	}

	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = c.formatKey(k)
	}

	raw, err := c.rdb.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, translateErr(err)
	}

	results := make(map[string]T, len(keys))
	for i, r := range raw {
		if r == nil {
			continue
		}
		s, ok := r.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected value type %T for cache entry %q", r, keys[i])
		}
		var decoded T
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return nil, fmt.Errorf("decoding cache entry %q: %w", keys[i], err)
		}
		results[keys[i]] = decoded
	}

	return results, nil
}

// Set writes a value through to the backend with no TTL.
func (c *Cache[T]) Set(ctx context.Context, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding cache entry %q: %w", key, err)
	}

	if err := c.rdb.Set(ctx, c.formatKey(key), data, 0).Err(); err != nil {
		return translateErr(err)
	}

	return nil
}

// SetBulk writes all entries with a single MSET.
func (c *Cache[T]) SetBulk(ctx context.Context, entries map[string]T) error {
	if len(entries) == 0 {
		return nil
	}

	pairs := make([]interface{}, 0, len(entries)*2)
	for k, v := range entries {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding cache entry %q: %w", k, err)
		}
		pairs = append(pairs, c.formatKey(k), data)
	}

	if err := c.rdb.MSet(ctx, pairs...).Err(); err != nil {
		return translateErr(err)
	}

	return nil
}

func translateErr(err error) error {
	if errors.Is(err, redis.ErrPoolTimeout) {
		return ErrConnectionTimeout
	}
	return err
}
