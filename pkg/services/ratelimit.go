package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/developer-mesh/code-search/pkg/common/cache"
	"github.com/developer-mesh/code-search/pkg/observability"
)

// ErrRateLimited is returned when a caller exceeds its per-minute budget
var ErrRateLimited = errors.New("rate limit exceeded")

type rateBucket struct {
	minute int64
	count  int
}

// RateLimiter enforces a fixed per-minute window, keyed by API key or
// client address. With a shared layer the count is a shared atomic
// increment; on any shared failure the limiter falls back to local
// counters for the remainder of the process.
type RateLimiter struct {
	limit  int
	now    func() time.Time
	shared cache.Cache
	logger observability.Logger

	mu            sync.Mutex
	buckets       map[string]*rateBucket
	sharedEnabled bool
	sharedWarned  bool
}

// NewRateLimiter creates a limiter allowing limit calls per minute.
// shared may be nil; now is injectable for tests (nil means time.Now).
func NewRateLimiter(limit int, shared cache.Cache, now func() time.Time, logger observability.Logger) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		limit:         limit,
		now:           now,
		shared:        shared,
		logger:        logger,
		buckets:       make(map[string]*rateBucket),
		sharedEnabled: shared != nil,
	}
}

func (r *RateLimiter) disableShared(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.sharedWarned {
		r.logger.Warn("shared rate limiter failed; falling back to local counters", map[string]interface{}{
			"error": err.Error(),
		})
		r.sharedWarned = true
	}
	r.sharedEnabled = false
}

func (r *RateLimiter) sharedOK() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sharedEnabled
}

// checkShared returns handled=false when the shared layer is absent or
// just failed, in which case the caller falls through to local counting.
func (r *RateLimiter) checkShared(ctx context.Context, key string) (handled bool, err error) {
	if !r.sharedOK() {
		return false, nil
	}
	sharedKey := "rate-limit:" + key
	count, err := r.shared.Incr(ctx, sharedKey)
	if err != nil {
		r.disableShared(err)
		return false, nil
	}
	if count == 1 {
		if err := r.shared.Expire(ctx, sharedKey, 60*time.Second); err != nil {
			r.disableShared(err)
			return false, nil
		}
	}
	if count > int64(r.limit) {
		return true, ErrRateLimited
	}
	return true, nil
}

// Check counts one call for key and returns ErrRateLimited past the limit
func (r *RateLimiter) Check(ctx context.Context, key string) error {
	if handled, err := r.checkShared(ctx, key); handled {
		return err
	}

	minute := r.now().Unix() / 60
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket := r.buckets[key]
	if bucket == nil || bucket.minute != minute {
		bucket = &rateBucket{minute: minute}
		r.buckets[key] = bucket
	}
	bucket.count++
	if bucket.count > r.limit {
		return ErrRateLimited
	}
	return nil
}

// Clear drops all local counters; used by tests
func (r *RateLimiter) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buckets = make(map[string]*rateBucket)
}
