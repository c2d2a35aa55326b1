// Package api wires the HTTP surface: routing, middleware, and the
// handlers for search, ingestion, feedback, tenant salts, and metrics.
package api

import (
	"context"

	"github.com/developer-mesh/code-search/pkg/config"
	"github.com/developer-mesh/code-search/pkg/index"
	"github.com/developer-mesh/code-search/pkg/models"
	"github.com/developer-mesh/code-search/pkg/observability"
	"github.com/developer-mesh/code-search/pkg/search"
	"github.com/developer-mesh/code-search/pkg/secrets"
	"github.com/developer-mesh/code-search/pkg/services"
	"github.com/developer-mesh/code-search/pkg/storage"
	"github.com/developer-mesh/code-search/pkg/utils"
)

// Searcher runs the hybrid retrieval pipeline
type Searcher interface {
	Search(ctx context.Context, tenant, repoID, query string, topK int, filters index.SearchFilters, w search.Weights) ([]models.SearchHit, []search.DebugEntry, error)
}

// Reranker scores (query, passage) pairs for the fetch-lines path
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []string) ([]float64, error)
}

// VectorIndex is the ingestion-side view of the vector store
type VectorIndex interface {
	Upsert(ctx context.Context, tenant string, points []index.Point) error
}

// LexicalIndex is the ingestion-side view of the lexical store
type LexicalIndex interface {
	BulkUpsert(ctx context.Context, tenant string, docs []index.Document) error
}

// AppContext carries the shared services every handler needs
type AppContext struct {
	Config      *config.Settings
	Vector      VectorIndex
	Lexical     LexicalIndex
	Searcher    Searcher
	Reranker    Reranker
	Embedder    search.Embedder
	SearchCache *services.SearchCache
	RateLimiter *services.RateLimiter
	APIKeys     *services.APIKeyValidator
	Stats       *services.StatsTracker
	Salts       secrets.SaltProvider
	Blobs       storage.ObjectFetcher
	SearchLog   *utils.JSONLWriter
	FeedbackLog *utils.JSONLWriter
	Logger      observability.Logger
}
