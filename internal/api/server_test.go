package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/code-search/pkg/config"
	"github.com/developer-mesh/code-search/pkg/index"
	"github.com/developer-mesh/code-search/pkg/models"
	"github.com/developer-mesh/code-search/pkg/observability"
	"github.com/developer-mesh/code-search/pkg/search"
	"github.com/developer-mesh/code-search/pkg/secrets"
	"github.com/developer-mesh/code-search/pkg/services"
	"github.com/developer-mesh/code-search/pkg/utils"
)

type stubSearcher struct {
	hits  []models.SearchHit
	debug []search.DebugEntry
	err   error
	calls int
}

func (s *stubSearcher) Search(ctx context.Context, tenant, repoID, query string, topK int, filters index.SearchFilters, w search.Weights) ([]models.SearchHit, []search.DebugEntry, error) {
	s.calls++
	return s.hits, s.debug, s.err
}

type stubReranker struct {
	scores []float64
	err    error
}

func (s *stubReranker) Rerank(ctx context.Context, query string, passages []string) ([]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.scores[:len(passages)], nil
}

type stubEmbedder struct {
	calls int
}

func (s *stubEmbedder) Encode(ctx context.Context, text string) ([]float32, error) {
	s.calls++
	return []float32{1, 0}, nil
}

type recordingVector struct {
	points []index.Point
	err    error
}

func (r *recordingVector) Upsert(ctx context.Context, tenant string, points []index.Point) error {
	if r.err != nil {
		return r.err
	}
	r.points = append(r.points, points...)
	return nil
}

type recordingLexical struct {
	docs []index.Document
}

func (r *recordingLexical) BulkUpsert(ctx context.Context, tenant string, docs []index.Document) error {
	r.docs = append(r.docs, docs...)
	return nil
}

type stubSalts struct {
	salt *secrets.Salt
}

func (s *stubSalts) CurrentSalt(ctx context.Context, tenant string) (*secrets.Salt, error) {
	return s.salt, nil
}

type stubBlobs struct {
	text string
	keys []string
}

func (s *stubBlobs) GetObjectText(ctx context.Context, key string) (string, error) {
	s.keys = append(s.keys, key)
	return s.text, nil
}

type testEnv struct {
	server   *Server
	ctx      *AppContext
	searcher *stubSearcher
	embedder *stubEmbedder
	vector   *recordingVector
	lexical  *recordingLexical
	blobs    *stubBlobs
}

func newTestEnv(t *testing.T, mutate func(*AppContext)) *testEnv {
	t.Helper()
	logger := observability.NewNoopLogger()

	preview := "def foo(): return 1"
	searcher := &stubSearcher{
		hits: []models.SearchHit{
			{ChunkID: "c1", Score: 0.9, PathTokens: []string{"A"}, LineSpan: [2]int{1, 1}, RepoID: "r", Preview: &preview},
		},
		debug: []search.DebugEntry{
			{ChunkID: "c1", Fused: 0.9, VNorm: 1, BNorm: 0.5, Span: 0, Depth: 1},
		},
	}
	embedder := &stubEmbedder{}
	vector := &recordingVector{}
	lexical := &recordingLexical{}
	blobs := &stubBlobs{text: "committed chunk body"}

	dir := t.TempDir()
	cfg := &config.Settings{
		FinalK:               12,
		AlphaVec:             0.6,
		BetaBM25:             0.4,
		ABVariantAlpha:       0.9,
		ABVariantBeta:        0.1,
		PrivacyRepoIDs:       []string{"secret"},
		LimitSearchPerMinute: 1000,
	}

	appCtx := &AppContext{
		Config:      cfg,
		Vector:      vector,
		Lexical:     lexical,
		Searcher:    searcher,
		Reranker:    &stubReranker{scores: []float64{0.5, 0.5, 0.5, 0.5}},
		Embedder:    embedder,
		SearchCache: services.NewSearchCache(30*time.Second, nil, nil, logger),
		RateLimiter: services.NewRateLimiter(cfg.LimitSearchPerMinute, nil, nil, logger),
		APIKeys:     services.NewAPIKeyValidator(nil, false),
		Stats:       services.NewStatsTracker(),
		Salts:       &stubSalts{},
		Blobs:       blobs,
		SearchLog:   utils.NewJSONLWriter(filepath.Join(dir, "search_log.jsonl")),
		FeedbackLog: utils.NewJSONLWriter(filepath.Join(dir, "feedback_log.jsonl")),
		Logger:      logger,
	}
	if mutate != nil {
		mutate(appCtx)
	}

	return &testEnv{
		server:   NewServer(appCtx),
		ctx:      appCtx,
		searcher: searcher,
		embedder: embedder,
		vector:   vector,
		lexical:  lexical,
		blobs:    blobs,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func countLogLines(t *testing.T, path string) int {
	t.Helper()
	n := 0
	require.NoError(t, utils.IterJSONL(path, func(json.RawMessage) { n++ }))
	return n
}

func TestNewSearchIDShape(t *testing.T) {
	id := newSearchID()
	assert.Len(t, id, 16)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{16}$`), id)
}

func TestBucketAssignment(t *testing.T) {
	assert.Equal(t, "control", bucketFor("abcdef0123456780"))
	assert.Equal(t, "variant", bucketFor("abcdef012345678f"))
	assert.Equal(t, "control", bucketFor("aaaaaaaaaaaaaaa2"))
	assert.Equal(t, "variant", bucketFor("aaaaaaaaaaaaaaa1"))
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/v1/search", models.SearchRequest{
		RepoID: "r", Query: "foo", TopK: 5,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.SearchID, 16)
	assert.Contains(t, []string{"control", "variant"}, resp.Bucket)
	assert.Equal(t, bucketFor(resp.SearchID), resp.Bucket)
	assert.False(t, resp.NeedFetchLines)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "c1", resp.Hits[0].ChunkID)

	assert.Equal(t, 1, env.searcher.calls)
	assert.Equal(t, 1, countLogLines(t, env.ctx.SearchLog.Path()))
	assert.Equal(t, int64(1), env.ctx.Stats.Snapshot().SearchTotal)
}

func TestSearchCachedResponseReusesIDAndBucket(t *testing.T) {
	env := newTestEnv(t, nil)
	body := models.SearchRequest{RepoID: "r", Query: "foo", TopK: 5}

	w1 := env.do(t, http.MethodPost, "/v1/search", body, nil)
	w2 := env.do(t, http.MethodPost, "/v1/search", body, nil)
	require.Equal(t, http.StatusOK, w1.Code)
	require.Equal(t, http.StatusOK, w2.Code)

	var r1, r2 models.SearchResponse
	require.NoError(t, json.Unmarshal(w1.Body.Bytes(), &r1))
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &r2))

	assert.Equal(t, r1.SearchID, r2.SearchID)
	assert.Equal(t, r1.Bucket, r2.Bucket)
	assert.Equal(t, 1, env.searcher.calls)
	assert.Equal(t, 1, countLogLines(t, env.ctx.SearchLog.Path()))
}

func TestSearchPrivacyRepoNeedsFetchLines(t *testing.T) {
	env := newTestEnv(t, func(c *AppContext) {
		c.Searcher.(*stubSearcher).hits[0].Preview = nil
	})
	w := env.do(t, http.MethodPost, "/v1/search", models.SearchRequest{
		RepoID: "secret", Query: "foo",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.NeedFetchLines)
	assert.Nil(t, resp.Hits[0].Preview)
}

func TestSearchRateLimited(t *testing.T) {
	env := newTestEnv(t, func(c *AppContext) {
		c.RateLimiter = services.NewRateLimiter(2, nil, nil, observability.NewNoopLogger())
	})
	body := models.SearchRequest{RepoID: "r", Query: "foo"}

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/search", body, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/search", body, nil).Code)

	w := env.do(t, http.MethodPost, "/v1/search", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limited")
}

func TestSearchAPIKeyEnforcement(t *testing.T) {
	env := newTestEnv(t, func(c *AppContext) {
		c.APIKeys = services.NewAPIKeyValidator(map[string][]string{"default": {"good"}}, true)
	})
	body := models.SearchRequest{RepoID: "r", Query: "foo"}

	w := env.do(t, http.MethodPost, "/v1/search", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "auth_missing")

	w = env.do(t, http.MethodPost, "/v1/search", body, map[string]string{"x-api-key": "bad"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "auth_invalid")

	w = env.do(t, http.MethodPost, "/v1/search", body, map[string]string{"x-api-key": "good"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSearchValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/v1/search", map[string]string{"repo_id": "r"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "bad_request")
}

func TestSearchBackendFailure(t *testing.T) {
	env := newTestEnv(t, func(c *AppContext) {
		c.Searcher.(*stubSearcher).err = fmt.Errorf("%w: connection refused", index.ErrVectorUnavailable)
	})
	w := env.do(t, http.MethodPost, "/v1/search", models.SearchRequest{RepoID: "r", Query: "foo"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "backend_vector_unavailable")
	assert.Equal(t, int64(1), env.ctx.Stats.Snapshot().SearchErr)
	assert.Equal(t, 0, countLogLines(t, env.ctx.SearchLog.Path()))
}

func TestSearchRequestIDEcho(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/v1/search", models.SearchRequest{RepoID: "r", Query: "foo"},
		map[string]string{"X-Request-ID": "req-123"})
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))

	w = env.do(t, http.MethodGet, "/v1/metrics", nil, nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestFetchLines(t *testing.T) {
	env := newTestEnv(t, func(c *AppContext) {
		c.Reranker = &stubReranker{scores: []float64{0.1, 0.9, 0.5}}
	})
	w := env.do(t, http.MethodPost, "/v1/search/fetch-lines", models.FetchLinesRequest{
		RepoID: "secret",
		Query:  "foo",
		Items: []models.FetchLinesItem{
			{ChunkID: "c1", RawLines: "line a"},
			{ChunkID: "c2", RawLines: "line b"},
			{ChunkID: "c3", RawLines: "line c"},
		},
		TopK: 2,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.FetchLinesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Hits, 2)
	assert.Equal(t, "c2", resp.Hits[0].ChunkID)
	assert.InDelta(t, 0.9, resp.Hits[0].Score, 1e-9)
	assert.Equal(t, "c3", resp.Hits[1].ChunkID)
	assert.Equal(t, []string{}, resp.Hits[0].PathTokens)
	assert.Equal(t, [2]int{0, 0}, resp.Hits[0].LineSpan)
	assert.Equal(t, "secret", resp.Hits[0].RepoID)
	assert.Nil(t, resp.Hits[0].Preview)
}

func strPtr(s string) *string { return &s }

func TestUpload(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/v1/index/upload", models.UploadRequest{
		Chunks: []models.ChunkMeta{
			{
				ChunkID: "c1", RepoID: "r", Lang: "py",
				PathTokens: []string{"A"}, RelPath: strPtr("a.py"),
				LineStart: 1, LineEnd: 1,
				Text: strPtr("def foo(): return 1"),
			},
			{
				ChunkID: "c2", RepoID: "secret", Lang: "py",
				PathTokens: []string{"B"},
				LineStart:  1, LineEnd: 2,
				PrivacyMode: true, Vector: []float32{1, 0},
			},
		},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Qdrant)
	assert.Equal(t, 1, resp.OpenSearch)

	require.Len(t, env.vector.points, 2)
	assert.Equal(t, "c1", env.vector.points[0].ID)
	assert.Equal(t, []float32{1, 0}, env.vector.points[1].Vector)

	require.Len(t, env.lexical.docs, 1)
	assert.Equal(t, "c1", env.lexical.docs[0].ChunkID)
	assert.Equal(t, "def foo(): return 1", env.lexical.docs[0].Text)

	assert.Equal(t, 1, env.embedder.calls)
	assert.Equal(t, int64(2), env.ctx.Stats.Snapshot().IndexTotal)
}

func TestUploadPrivacyRepoSkipsLexical(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/v1/index/upload", models.UploadRequest{
		Chunks: []models.ChunkMeta{
			{
				ChunkID: "c1", RepoID: "secret",
				PathTokens: []string{"A"}, LineStart: 1, LineEnd: 1,
				Text: strPtr("plaintext that stays vector-only"),
			},
		},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Qdrant)
	assert.Equal(t, 0, resp.OpenSearch)
	assert.Empty(t, env.lexical.docs)
}

func TestUploadPrivacyModeRequiresVector(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/v1/index/upload", models.UploadRequest{
		Chunks: []models.ChunkMeta{
			{ChunkID: "c1", RepoID: "secret", PrivacyMode: true},
		},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadRequiresText(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/v1/index/upload", models.UploadRequest{
		Chunks: []models.ChunkMeta{
			{ChunkID: "c1", RepoID: "r"},
		},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCommitTus(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/v1/index/commit_tus", models.CommitTusRequest{
		RepoID: "r",
		Chunk:  models.ChunkMeta{ChunkID: "c9", RepoID: "r", PathTokens: []string{"A"}},
		TusKey: "abc123",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.CommitTusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "c9", resp.ChunkID)

	assert.Equal(t, []string{"uploads/abc123"}, env.blobs.keys)
	require.Len(t, env.vector.points, 1)
	assert.Equal(t, 1, env.vector.points[0].Payload.LineStart)
	assert.Equal(t, 1, env.vector.points[0].Payload.LineEnd)

	require.Len(t, env.lexical.docs, 1)
	assert.Equal(t, "committed chunk body", env.lexical.docs[0].Text)
}

func TestCommitTusPrivacyRepo(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/v1/index/commit_tus", models.CommitTusRequest{
		RepoID: "secret",
		Chunk:  models.ChunkMeta{ChunkID: "c9", RepoID: "secret", PathTokens: []string{"A"}},
		TusKey: "abc123",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, env.lexical.docs)
}

func TestFeedback(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/v1/feedback", models.FeedbackRequest{
		SearchID:       "abcdef0123456789",
		ClickedChunkID: "c1",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var grade int
	require.NoError(t, utils.IterJSONL(env.ctx.FeedbackLog.Path(), func(raw json.RawMessage) {
		var rec struct {
			Grade int `json:"grade"`
		}
		require.NoError(t, json.Unmarshal(raw, &rec))
		grade = rec.Grade
	}))
	assert.Equal(t, 1, grade)
	assert.Equal(t, int64(1), env.ctx.Stats.Snapshot().FeedbackTotal)
}

func TestTenantSalt(t *testing.T) {
	env := newTestEnv(t, func(c *AppContext) {
		c.Salts = &stubSalts{salt: &secrets.Salt{Ver: 3, Value: "s3"}}
	})
	w := env.do(t, http.MethodGet, "/v1/tenant/salt?tenant_id=acme", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.SaltResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "acme", resp.TenantID)
	assert.Equal(t, 3, resp.SaltVer)
	assert.Equal(t, "s3", resp.Salt)
}

func TestTenantSaltEmpty(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/v1/tenant/salt", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.SaltResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "default", resp.TenantID)
	assert.Equal(t, 0, resp.SaltVer)
	assert.Equal(t, "", resp.Salt)
}

func TestMetricsSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/v1/search", models.SearchRequest{RepoID: "r", Query: "foo"}, nil)

	w := env.do(t, http.MethodGet, "/v1/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats services.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.SearchTotal)
}
