package cache

import (
	"time"

	"github.com/developer-mesh/code-search/pkg/observability"
)

// Connect initialises the shared cache layer if a Redis URL is configured.
// When the URL is empty or Redis is unreachable after the given number of
// attempts, it returns nil so callers fall back to in-memory behaviour.
func Connect(url string, attempts int, retryInterval time.Duration, logger observability.Logger) Cache {
	if url == "" {
		logger.Info("no shared cache configured; using in-memory services", nil)
		return nil
	}
	if attempts <= 0 {
		attempts = 3
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		c, err := NewRedisCache(url)
		if err == nil {
			logger.Info("connected to shared cache", map[string]interface{}{"url": url})
			return c
		}
		lastErr = err
		logger.Warn("shared cache connection attempt failed", map[string]interface{}{
			"attempt": i,
			"max":     attempts,
			"error":   err.Error(),
		})
		time.Sleep(retryInterval)
	}

	logger.Warn("shared cache unavailable; continuing with in-memory services", map[string]interface{}{
		"url":   url,
		"error": lastErr.Error(),
	})
	return nil
}
