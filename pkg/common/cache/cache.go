// Package cache provides the shared key-value layer used by the embedding
// cache, the query-result cache, and the rate limiter. Implementations can
// be Redis-backed, in-memory, or a test double.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is not found in the cache
var ErrNotFound = errors.New("key not found in cache")

// Cache is the narrow interface every shared backing must satisfy.
// Values are JSON-encoded by implementations.
type Cache interface {
	Get(ctx context.Context, key string, value any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Close() error
}
