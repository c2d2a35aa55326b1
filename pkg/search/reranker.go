package search

import (
	"context"
	"fmt"

	"github.com/developer-mesh/code-search/pkg/search/providers"
)

// CrossEncoderReranker scores (query, passage) pairs through a model
// provider. Used by the fetch-lines path, where privacy-mode clients send
// back raw line ranges for post-fetch reranking.
type CrossEncoderReranker struct {
	provider providers.CrossEncoderProvider
}

// NewCrossEncoderReranker wraps a provider
func NewCrossEncoderReranker(provider providers.CrossEncoderProvider) (*CrossEncoderReranker, error) {
	if provider == nil {
		return nil, fmt.Errorf("cross-encoder provider is required")
	}
	return &CrossEncoderReranker{provider: provider}, nil
}

// Rerank returns one score per passage, in input order
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, passages []string) ([]float64, error) {
	return r.provider.Rerank(ctx, query, passages)
}
