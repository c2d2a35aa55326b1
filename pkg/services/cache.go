// Package services holds the request-path supporting services: the
// embedding and search-result caches, the rate limiter, API key
// enforcement, and the stats tracker.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/developer-mesh/code-search/pkg/common/cache"
	"github.com/developer-mesh/code-search/pkg/models"
	"github.com/developer-mesh/code-search/pkg/observability"
	"github.com/developer-mesh/code-search/pkg/search"
	"github.com/developer-mesh/code-search/pkg/search/providers"
)

// EmbeddingCache layers a bounded LRU over the embedding provider, with
// an optional shared key-value layer keyed by sha256 of the text. Shared
// failures are logged once and the layer stays disabled for the rest of
// the process; they are never user-visible.
type EmbeddingCache struct {
	provider providers.EmbeddingProvider
	local    *lru.Cache[string, []float32]
	shared   cache.Cache
	ttl      time.Duration
	logger   observability.Logger

	mu            sync.Mutex
	sharedEnabled bool
	sharedWarned  bool
}

// NewEmbeddingCache creates the layered cache. shared may be nil.
func NewEmbeddingCache(provider providers.EmbeddingProvider, maxSize int, shared cache.Cache, ttl time.Duration, logger observability.Logger) (*EmbeddingCache, error) {
	local, err := lru.New[string, []float32](maxSize)
	if err != nil {
		return nil, err
	}
	return &EmbeddingCache{
		provider:      provider,
		local:         local,
		shared:        shared,
		ttl:           ttl,
		logger:        logger,
		sharedEnabled: shared != nil,
	}, nil
}

func embeddingKey(text string) string {
	digest := sha256.Sum256([]byte(text))
	return "embeddings:" + hex.EncodeToString(digest[:])
}

func (c *EmbeddingCache) disableShared(msg string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sharedWarned {
		c.logger.Warn(msg+"; falling back to local embedding cache", map[string]interface{}{
			"error": err.Error(),
		})
		c.sharedWarned = true
	}
	c.sharedEnabled = false
}

func (c *EmbeddingCache) sharedOK() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sharedEnabled
}

// Encode returns the vector for text, consulting the LRU, then the
// shared layer, then the provider (with normalize_embeddings set).
func (c *EmbeddingCache) Encode(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.local.Get(text); ok {
		return v, nil
	}

	if c.sharedOK() {
		var vector []float32
		err := c.shared.Get(ctx, embeddingKey(text), &vector)
		switch {
		case err == nil:
			c.local.Add(text, vector)
			return vector, nil
		case !errors.Is(err, cache.ErrNotFound):
			c.disableShared("shared embedding cache read failed", err)
		}
	}

	vectors, err := c.provider.Encode(ctx, []string{text}, true)
	if err != nil {
		return nil, err
	}
	vector := vectors[0]
	c.local.Add(text, vector)

	if c.sharedOK() {
		if err := c.shared.Set(ctx, embeddingKey(text), vector, c.ttl); err != nil {
			c.disableShared("shared embedding cache write failed", err)
		}
	}
	return vector, nil
}

// SearchCacheKey identifies one cacheable search request shape
type SearchCacheKey struct {
	Tenant       string `json:"tenant"`
	Repo         string `json:"repo"`
	Query        string `json:"query"`
	Lang         string `json:"lang"`
	DirHint      string `json:"dir_hint"`
	ExcludeTests bool   `json:"exclude_tests"`
	TopK         int    `json:"top_k"`
}

// SearchCacheEntry is a cached hybrid response. Bucket and SearchID are
// reused verbatim so a cached hit never re-buckets the caller.
type SearchCacheEntry struct {
	Hits      []models.SearchHit  `json:"hits"`
	Debug     []search.DebugEntry `json:"debug"`
	Bucket    string              `json:"bucket"`
	SearchID  string              `json:"search_id"`
	Timestamp float64             `json:"timestamp"`
}

// SearchCache is a TTL cache of full search responses, with an optional
// shared layer carrying the same TTL.
type SearchCache struct {
	ttl    time.Duration
	now    func() time.Time
	shared cache.Cache
	logger observability.Logger

	mu            sync.Mutex
	store         map[SearchCacheKey]SearchCacheEntry
	sharedEnabled bool
	sharedWarned  bool
}

// NewSearchCache creates the cache. shared may be nil. now is injectable
// for tests; nil means time.Now.
func NewSearchCache(ttl time.Duration, shared cache.Cache, now func() time.Time, logger observability.Logger) *SearchCache {
	if now == nil {
		now = time.Now
	}
	return &SearchCache{
		ttl:           ttl,
		now:           now,
		shared:        shared,
		logger:        logger,
		store:         make(map[SearchCacheKey]SearchCacheEntry),
		sharedEnabled: shared != nil,
	}
}

func (c *SearchCache) sharedKey(key SearchCacheKey) string {
	serialized, _ := json.Marshal(key)
	digest := sha256.Sum256(serialized)
	return "search-cache:" + hex.EncodeToString(digest[:])
}

func (c *SearchCache) disableShared(msg string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sharedWarned {
		c.logger.Warn(msg+"; falling back to local search cache", map[string]interface{}{
			"error": err.Error(),
		})
		c.sharedWarned = true
	}
	c.sharedEnabled = false
}

func (c *SearchCache) sharedOK() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sharedEnabled
}

// Get returns the cached entry for key, or nil on miss or expiry
func (c *SearchCache) Get(ctx context.Context, key SearchCacheKey) *SearchCacheEntry {
	if c.sharedOK() {
		var entry SearchCacheEntry
		err := c.shared.Get(ctx, c.sharedKey(key), &entry)
		switch {
		case err == nil:
			return &entry
		case !errors.Is(err, cache.ErrNotFound):
			c.disableShared("shared search cache read failed", err)
		}
	}

	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.store[key]
	if !ok {
		return nil
	}
	if now.Sub(time.Unix(0, int64(entry.Timestamp*float64(time.Second)))) > c.ttl {
		delete(c.store, key)
		return nil
	}
	return &entry
}

// Set records a fresh entry in both layers
func (c *SearchCache) Set(ctx context.Context, key SearchCacheKey, hits []models.SearchHit, debug []search.DebugEntry, bucket, searchID string) {
	entry := SearchCacheEntry{
		Hits:      hits,
		Debug:     debug,
		Bucket:    bucket,
		SearchID:  searchID,
		Timestamp: float64(c.now().UnixNano()) / float64(time.Second),
	}
	c.mu.Lock()
	c.store[key] = entry
	c.mu.Unlock()

	if c.sharedOK() {
		if err := c.shared.Set(ctx, c.sharedKey(key), entry, c.ttl); err != nil {
			c.disableShared("shared search cache write failed", err)
		}
	}
}

// Clear drops the local layer; used by tests
func (c *SearchCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = make(map[SearchCacheKey]SearchCacheEntry)
}
