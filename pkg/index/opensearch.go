package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/developer-mesh/code-search/pkg/observability"
)

// codeSearchMapping is the tenant index definition. The analyzer chain is
// load-bearing for result reproducibility: edge_ngram(2,20) at index time
// with a plain standard search analyzer, and path_hierarchy for rel_path.
const codeSearchMapping = `{
  "settings": {
    "index": {"number_of_shards": 1, "number_of_replicas": 0},
    "analysis": {
      "analyzer": {
        "code_text": {"type": "custom", "tokenizer": "standard", "filter": ["lowercase", "word_delimiter_graph", "asciifolding", "edge_2_20"]},
        "path_analyzer": {"type": "custom", "tokenizer": "path_hierarchy", "filter": ["lowercase"]}
      },
      "filter": {"edge_2_20": {"type": "edge_ngram", "min_gram": 2, "max_gram": 20}}
    }
  },
  "mappings": {
    "properties": {
      "repo_id": {"type": "keyword"},
      "chunk_id": {"type": "keyword"},
      "path_tokens": {"type": "keyword"},
      "rel_path": {"type": "text", "analyzer": "path_analyzer", "fields": {"keyword": {"type": "keyword"}}},
      "lang": {"type": "keyword"},
      "line_start": {"type": "integer"},
      "line_end": {"type": "integer"},
      "text": {"type": "text", "analyzer": "code_text", "search_analyzer": "standard"}
    }
  }
}`

// OpenSearchStore is a minimal OpenSearch HTTP client with per-tenant
// indices. Queries run through a circuit breaker so a flapping lexical
// backend degrades searches to vector-only instead of slowing them down.
type OpenSearchStore struct {
	base    string
	index   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
}

// NewOpenSearchStore creates a lexical-store adapter. index is the base
// name; the per-tenant index is "<base>_<tenant>".
func NewOpenSearchStore(baseURL, index string, logger observability.Logger) *OpenSearchStore {
	s := &OpenSearchStore{
		base:   baseURL,
		index:  index,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "opensearch",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("lexical breaker state change", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
	return s
}

func (s *OpenSearchStore) indexFor(tenant string) string {
	return fmt.Sprintf("%s_%s", s.index, tenant)
}

func (s *OpenSearchStore) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rd *bytes.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.http.Do(req)
}

// Ensure creates the tenant index when it does not exist yet
func (s *OpenSearchStore) Ensure(ctx context.Context, tenant string) error {
	idx := s.indexFor(tenant)

	resp, err := s.do(ctx, http.MethodHead, "/"+idx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLexicalUnavailable, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	resp, err = s.do(ctx, http.MethodPut, "/"+idx, []byte(codeSearchMapping))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLexicalUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: create index status %d", ErrLexicalUnavailable, resp.StatusCode)
	}

	s.logger.Info("created lexical index", map[string]interface{}{"index": idx})
	return nil
}

// BulkUpsert indexes documents into the tenant index, creating it on
// demand. Document IDs are chunk IDs, so re-ingesting is idempotent.
func (s *OpenSearchStore) BulkUpsert(ctx context.Context, tenant string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := s.Ensure(ctx, tenant); err != nil {
		return err
	}

	idx := s.indexFor(tenant)
	var buf bytes.Buffer
	for _, d := range docs {
		action, _ := json.Marshal(map[string]interface{}{
			"index": map[string]interface{}{"_index": idx, "_id": d.ChunkID},
		})
		source, _ := json.Marshal(d)
		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(source)
		buf.WriteByte('\n')
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/_bulk", bytes.NewReader(buf.Bytes()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLexicalUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: bulk status %d", ErrLexicalUnavailable, resp.StatusCode)
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("%w: %v", ErrLexicalUnavailable, err)
	}
	if bulkResp.Errors {
		return fmt.Errorf("%w: bulk reported item failures", ErrLexicalUnavailable)
	}
	return nil
}

type osHit struct {
	Score  float64  `json:"_score"`
	Source Document `json:"_source"`
}

type osSearchResponse struct {
	Hits struct {
		Hits []osHit `json:"hits"`
	} `json:"hits"`
}

// BM25 runs a filtered full-text query against the tenant index
func (s *OpenSearchStore) BM25(ctx context.Context, tenant, repoID, query string, topK int, filters SearchFilters) ([]ScoredDocument, error) {
	filterClauses := []map[string]interface{}{
		{"term": map[string]interface{}{"repo_id.keyword": repoID}},
	}
	if filters.Lang != "" {
		filterClauses = append(filterClauses, map[string]interface{}{
			"term": map[string]interface{}{"lang": filters.Lang},
		})
	}
	if filters.DirHint != "" {
		filterClauses = append(filterClauses, map[string]interface{}{
			"prefix": map[string]interface{}{"rel_path": filters.DirHint},
		})
	}
	mustNot := []map[string]interface{}{}
	if filters.ExcludeTests {
		mustNot = append(mustNot, map[string]interface{}{
			"wildcard": map[string]interface{}{"rel_path": "*test*"},
		})
	}

	body, _ := json.Marshal(map[string]interface{}{
		"size": topK,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":     []map[string]interface{}{{"match": map[string]interface{}{"text": query}}},
				"filter":   filterClauses,
				"must_not": mustNot,
			},
		},
		"_source": []string{"chunk_id", "path_tokens", "rel_path", "line_start", "line_end", "repo_id", "text"},
	})

	result, err := s.breaker.Execute(func() (interface{}, error) {
		resp, err := s.do(ctx, http.MethodPost, "/"+s.indexFor(tenant)+"/_search", body)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("search status %d", resp.StatusCode)
		}
		var decoded osSearchResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLexicalUnavailable, err)
	}

	decoded := result.(osSearchResponse)
	out := make([]ScoredDocument, 0, len(decoded.Hits.Hits))
	for _, h := range decoded.Hits.Hits {
		out = append(out, ScoredDocument{Score: h.Score, Document: h.Source})
	}
	return out, nil
}
