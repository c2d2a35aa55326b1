package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/developer-mesh/code-search/pkg/observability"
)

const (
	defaultVectorSize = 1024
	hnswM             = 32
	hnswEfConstruct   = 128
)

// QdrantStore is a minimal Qdrant HTTP client with per-tenant collections
type QdrantStore struct {
	base       string
	collection string
	http       *http.Client
	logger     observability.Logger
}

// NewQdrantStore creates a vector-store adapter. collection is the base
// name; the per-tenant collection is "<base>_<tenant>".
func NewQdrantStore(baseURL, collection string, logger observability.Logger) *QdrantStore {
	return &QdrantStore{
		base:       baseURL,
		collection: collection,
		http:       &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (s *QdrantStore) collectionFor(tenant string) string {
	return fmt.Sprintf("%s_%s", s.collection, tenant)
}

// Ensure creates the tenant collection when it does not exist yet.
// Collections use cosine distance with HNSW m=32, ef_construct=128.
func (s *QdrantStore) Ensure(ctx context.Context, tenant string, vectorSize int) error {
	if vectorSize <= 0 {
		vectorSize = defaultVectorSize
	}
	coll := s.collectionFor(tenant)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/collections/%s", s.base, coll), nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVectorUnavailable, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     vectorSize,
			"distance": "Cosine",
		},
		"hnsw_config": map[string]interface{}{
			"m":            hnswM,
			"ef_construct": hnswEfConstruct,
		},
	}
	buf, _ := json.Marshal(body)
	req, err = http.NewRequestWithContext(ctx, http.MethodPut, fmt.Sprintf("%s/collections/%s", s.base, coll), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err = s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVectorUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: create collection status %d", ErrVectorUnavailable, resp.StatusCode)
	}

	s.logger.Info("created vector collection", map[string]interface{}{
		"collection": coll,
		"size":       vectorSize,
	})
	return nil
}

// Upsert writes points into the tenant collection, creating it on demand
func (s *QdrantStore) Upsert(ctx context.Context, tenant string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := s.Ensure(ctx, tenant, len(points[0].Vector)); err != nil {
		return err
	}

	coll := s.collectionFor(tenant)
	buf, _ := json.Marshal(map[string]interface{}{"points": points})

	url := fmt.Sprintf("%s/collections/%s/points", s.base, coll)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVectorUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: upsert status %d", ErrVectorUnavailable, resp.StatusCode)
	}
	return nil
}

type qdrantSearchRequest struct {
	Vector      []float32              `json:"vector"`
	Limit       int                    `json:"limit"`
	WithPayload bool                   `json:"with_payload"`
	Filter      map[string]interface{} `json:"filter,omitempty"`
	Params      map[string]interface{} `json:"params,omitempty"`
}

type qdrantScoredPoint struct {
	ID      interface{} `json:"id"`
	Score   float64     `json:"score"`
	Payload Document    `json:"payload"`
}

type qdrantSearchResponse struct {
	Result []qdrantScoredPoint `json:"result"`
	Status string              `json:"status"`
}

// Search runs a filtered ANN query against the tenant collection.
// hnswEf follows the max(64, 2*top_k) rule when left at zero.
func (s *QdrantStore) Search(ctx context.Context, tenant string, vector []float32, repoID string, topK int, filters SearchFilters, hnswEf int) ([]ScoredDocument, error) {
	if hnswEf <= 0 {
		hnswEf = 64
		if 2*topK > hnswEf {
			hnswEf = 2 * topK
		}
	}

	must := []map[string]interface{}{
		{"key": "repo_id", "match": map[string]interface{}{"value": repoID}},
	}
	if filters.Lang != "" {
		must = append(must, map[string]interface{}{
			"key": "lang", "match": map[string]interface{}{"value": filters.Lang},
		})
	}
	if filters.DirHint != "" {
		must = append(must, map[string]interface{}{
			"key": "rel_path", "match": map[string]interface{}{"text": filters.DirHint},
		})
	}
	filter := map[string]interface{}{"must": must}
	if filters.ExcludeTests {
		filter["must_not"] = []map[string]interface{}{
			{"key": "rel_path", "match": map[string]interface{}{"text": "test"}},
		}
	}

	reqBody := qdrantSearchRequest{
		Vector:      vector,
		Limit:       topK,
		WithPayload: true,
		Filter:      filter,
		Params:      map[string]interface{}{"hnsw_ef": hnswEf},
	}
	buf, _ := json.Marshal(reqBody)

	url := fmt.Sprintf("%s/collections/%s/points/search", s.base, s.collectionFor(tenant))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVectorUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: search status %d", ErrVectorUnavailable, resp.StatusCode)
	}

	var body qdrantSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVectorUnavailable, err)
	}

	out := make([]ScoredDocument, 0, len(body.Result))
	for _, p := range body.Result {
		out = append(out, ScoredDocument{Score: p.Score, Document: p.Payload})
	}
	return out, nil
}
