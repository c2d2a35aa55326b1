package api

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/developer-mesh/code-search/pkg/index"
	"github.com/developer-mesh/code-search/pkg/models"
	"github.com/developer-mesh/code-search/pkg/observability"
	"github.com/developer-mesh/code-search/pkg/search"
	"github.com/developer-mesh/code-search/pkg/services"
)

const apiKeyHeader = "x-api-key"

// newSearchID issues a 16-hex-char search identifier
func newSearchID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}

// bucketFor assigns the A/B bucket from the search id's last hex digit
func bucketFor(searchID string) string {
	last, err := strconv.ParseUint(searchID[len(searchID)-1:], 16, 8)
	if err != nil || last%2 == 0 {
		return "control"
	}
	return "variant"
}

func (s *Server) handleSearch(c *gin.Context) {
	var req models.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, errBadRequest, err.Error())
		return
	}
	if req.TenantID == "" {
		req.TenantID = "default"
	}
	if req.TopK <= 0 {
		req.TopK = s.ctx.Config.FinalK
	}

	apiKey := c.GetHeader(apiKeyHeader)
	if err := s.ctx.APIKeys.Enforce(req.TenantID, apiKey); err != nil {
		respondMappedError(c, err)
		return
	}

	limitKey := apiKey
	if limitKey == "" {
		limitKey = c.ClientIP()
	}
	if err := s.ctx.RateLimiter.Check(c.Request.Context(), limitKey); err != nil {
		respondMappedError(c, err)
		return
	}

	start := time.Now()
	s.ctx.Logger.Info("search_started", observability.RequestFields(c.Request.Context(), map[string]interface{}{
		"tenant_id": req.TenantID,
		"repo_id":   req.RepoID,
		"query":     req.Query,
		"lang":      req.Lang,
		"top_k":     req.TopK,
	}))

	cacheKey := services.SearchCacheKey{
		Tenant:       req.TenantID,
		Repo:         req.RepoID,
		Query:        req.Query,
		Lang:         req.Lang,
		DirHint:      req.DirHint,
		ExcludeTests: req.ExcludeTests,
		TopK:         req.TopK,
	}

	var (
		hits     []models.SearchHit
		debug    []search.DebugEntry
		bucket   string
		searchID string
		cacheHit bool
	)

	if entry := s.ctx.SearchCache.Get(c.Request.Context(), cacheKey); entry != nil {
		hits, debug = entry.Hits, entry.Debug
		bucket, searchID = entry.Bucket, entry.SearchID
		cacheHit = true
	} else {
		searchID = newSearchID()
		bucket = bucketFor(searchID)

		// Effective weights are request-local; the engine holds none
		weights := search.Weights{Alpha: s.ctx.Config.AlphaVec, Beta: s.ctx.Config.BetaBM25}
		if bucket == "variant" {
			weights = search.Weights{Alpha: s.ctx.Config.ABVariantAlpha, Beta: s.ctx.Config.ABVariantBeta}
		}

		filters := index.SearchFilters{
			Lang:         req.Lang,
			DirHint:      req.DirHint,
			ExcludeTests: req.ExcludeTests,
		}
		var err error
		hits, debug, err = s.ctx.Searcher.Search(c.Request.Context(), req.TenantID, req.RepoID, req.Query, req.TopK, filters, weights)
		if err != nil {
			s.ctx.Stats.RecordSearchError()
			respondMappedError(c, err)
			return
		}

		s.ctx.SearchCache.Set(c.Request.Context(), cacheKey, hits, debug, bucket, searchID)

		if err := s.ctx.SearchLog.Append(map[string]interface{}{
			"search_id":  searchID,
			"tenant_id":  req.TenantID,
			"repo_id":    req.RepoID,
			"query":      req.Query,
			"timestamp":  float64(time.Now().UnixNano()) / float64(time.Second),
			"candidates": debug,
			"bucket":     bucket,
		}); err != nil {
			s.ctx.Logger.Warn("search log append failed", map[string]interface{}{
				"search_id": searchID,
				"error":     err.Error(),
			})
		}
	}

	durationMS := float64(time.Since(start).Microseconds()) / 1000.0

	s.ctx.Logger.Info("search_completed", observability.RequestFields(c.Request.Context(), map[string]interface{}{
		"tenant_id":    req.TenantID,
		"repo_id":      req.RepoID,
		"query":        req.Query,
		"top_k":        req.TopK,
		"cache_hit":    cacheHit,
		"variant":      bucket,
		"duration_ms":  durationMS,
		"result_count": len(hits),
		"search_id":    searchID,
	}))
	if len(debug) > 0 {
		s.ctx.Logger.Debug("search_candidates", observability.RequestFields(c.Request.Context(), map[string]interface{}{
			"tenant_id":  req.TenantID,
			"repo_id":    req.RepoID,
			"query":      req.Query,
			"variant":    bucket,
			"cache_hit":  cacheHit,
			"search_id":  searchID,
			"candidates": debug,
		}))
	}

	s.ctx.Stats.RecordSearch(durationMS)

	if hits == nil {
		hits = []models.SearchHit{}
	}
	c.JSON(http.StatusOK, models.SearchResponse{
		SearchID:       searchID,
		Bucket:         bucket,
		NeedFetchLines: s.ctx.Config.IsPrivacyRepo(req.RepoID),
		Hits:           hits,
	})
}

func (s *Server) handleFetchLines(c *gin.Context) {
	var req models.FetchLinesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, errBadRequest, err.Error())
		return
	}
	if req.TenantID == "" {
		req.TenantID = "default"
	}
	if req.TopK <= 0 {
		req.TopK = s.ctx.Config.FinalK
	}

	if err := s.ctx.APIKeys.Enforce(req.TenantID, c.GetHeader(apiKeyHeader)); err != nil {
		respondMappedError(c, err)
		return
	}

	passages := make([]string, len(req.Items))
	for i, item := range req.Items {
		passages[i] = item.RawLines
	}

	scores, err := s.ctx.Reranker.Rerank(c.Request.Context(), req.Query, passages)
	if err != nil {
		respondError(c, http.StatusBadGateway, errModel, err.Error())
		return
	}

	order := make([]int, len(req.Items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	if len(order) > req.TopK {
		order = order[:req.TopK]
	}

	hits := make([]models.SearchHit, 0, len(order))
	for _, i := range order {
		hits = append(hits, models.SearchHit{
			ChunkID:    req.Items[i].ChunkID,
			Score:      scores[i],
			PathTokens: []string{},
			LineSpan:   [2]int{0, 0},
			RepoID:     req.RepoID,
			Preview:    nil,
		})
	}
	c.JSON(http.StatusOK, models.FetchLinesResponse{Hits: hits})
}
