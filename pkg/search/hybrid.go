package search

import (
	"context"
	"sort"

	"golang.org/x/sync/semaphore"

	"github.com/developer-mesh/code-search/pkg/index"
	"github.com/developer-mesh/code-search/pkg/models"
	"github.com/developer-mesh/code-search/pkg/observability"
)

// VectorSearcher is the vector backend as the engine sees it
type VectorSearcher interface {
	Search(ctx context.Context, tenant string, vector []float32, repoID string, topK int, filters index.SearchFilters, hnswEf int) ([]index.ScoredDocument, error)
}

// LexicalSearcher is the lexical backend as the engine sees it
type LexicalSearcher interface {
	BM25(ctx context.Context, tenant, repoID, query string, topK int, filters index.SearchFilters) ([]index.ScoredDocument, error)
}

// Embedder produces the query vector; the caching layer sits behind it
type Embedder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// DebugEntry is the per-candidate trace recorded in the search log
type DebugEntry struct {
	ChunkID string  `json:"chunk_id"`
	Fused   float64 `json:"fused"`
	VNorm   float64 `json:"vnorm"`
	BNorm   float64 `json:"bnorm"`
	Span    int     `json:"span"`
	Depth   int     `json:"depth"`
}

// EngineOptions is the read-only engine configuration
type EngineOptions struct {
	TopKVector    int
	TopKBM25      int
	RRFK          int
	FinalK        int
	MaxConcurrent int64
	IsPrivacyRepo func(repoID string) bool
}

// Engine fans a query out to both backends, fuses the scores, and
// optionally reranks with the learned model. The engine holds no fusion
// weights; each request passes its effective pair, so A/B variants never
// touch shared state.
type Engine struct {
	vector   VectorSearcher
	lexical  LexicalSearcher
	embedder Embedder
	ranker   *LearnedRanker
	sem      *semaphore.Weighted
	opts     EngineOptions
	logger   observability.Logger
}

// NewEngine creates a hybrid search engine
func NewEngine(vector VectorSearcher, lexical LexicalSearcher, embedder Embedder, ranker *LearnedRanker, opts EngineOptions, logger observability.Logger) *Engine {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 32
	}
	if opts.IsPrivacyRepo == nil {
		opts.IsPrivacyRepo = func(string) bool { return false }
	}
	return &Engine{
		vector:   vector,
		lexical:  lexical,
		embedder: embedder,
		ranker:   ranker,
		sem:      semaphore.NewWeighted(opts.MaxConcurrent),
		opts:     opts,
		logger:   logger,
	}
}

type backendResult struct {
	docs []index.ScoredDocument
	err  error
}

// Search runs the hybrid retrieval pipeline. A lexical failure degrades
// the search to vector-only; a vector failure is fatal. Privacy repos
// skip the lexical backend entirely.
func (e *Engine) Search(ctx context.Context, tenant, repoID, query string, topK int, filters index.SearchFilters, w Weights) ([]models.SearchHit, []DebugEntry, error) {
	if topK <= 0 {
		topK = e.opts.FinalK
	}

	qvec, err := e.embedder.Encode(ctx, query)
	if err != nil {
		return nil, nil, err
	}

	privacy := e.opts.IsPrivacyRepo(repoID)
	hnswEf := 64
	if 2*e.opts.TopKVector > hnswEf {
		hnswEf = 2 * e.opts.TopKVector
	}

	vectorCh := make(chan backendResult, 1)
	lexicalCh := make(chan backendResult, 1)

	go func() {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			vectorCh <- backendResult{err: err}
			return
		}
		defer e.sem.Release(1)
		docs, err := e.vector.Search(ctx, tenant, qvec, repoID, e.opts.TopKVector, filters, hnswEf)
		vectorCh <- backendResult{docs: docs, err: err}
	}()

	go func() {
		if privacy {
			lexicalCh <- backendResult{}
			return
		}
		if err := e.sem.Acquire(ctx, 1); err != nil {
			lexicalCh <- backendResult{err: err}
			return
		}
		defer e.sem.Release(1)
		docs, err := e.lexical.BM25(ctx, tenant, repoID, query, e.opts.TopKBM25, filters)
		lexicalCh <- backendResult{docs: docs, err: err}
	}()

	vres := <-vectorCh
	lres := <-lexicalCh

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if vres.err != nil {
		return nil, nil, vres.err
	}
	if lres.err != nil {
		e.logger.Warn("lexical search failed, degrading to vector-only", map[string]interface{}{
			"tenant_id": tenant,
			"repo_id":   repoID,
			"error":     lres.err.Error(),
		})
		lres.docs = nil
	}

	// Candidate union, vector order first so ties stay deterministic
	vScores := make(map[string]float64, len(vres.docs))
	vDocs := make(map[string]index.Document, len(vres.docs))
	bScores := make(map[string]float64, len(lres.docs))
	bDocs := make(map[string]index.Document, len(lres.docs))
	var idList []string

	for _, d := range vres.docs {
		cid := d.Document.ChunkID
		if _, seen := vScores[cid]; !seen {
			idList = append(idList, cid)
		}
		vScores[cid] = d.Score
		vDocs[cid] = d.Document
	}
	for _, d := range lres.docs {
		cid := d.Document.ChunkID
		if _, inV := vScores[cid]; !inV {
			if _, seen := bScores[cid]; !seen {
				idList = append(idList, cid)
			}
		}
		bScores[cid] = d.Score
		bDocs[cid] = d.Document
	}

	rawV := make([]float64, len(idList))
	rawB := make([]float64, len(idList))
	for i, cid := range idList {
		rawV[i] = vScores[cid]
		rawB[i] = bScores[cid]
	}
	// A side that contributed nothing (privacy skip, degraded lexical, or
	// an empty result set) scores zero everywhere; the 0.5 degenerate rule
	// in Normalize is only for score sets that are present but flat.
	vnorm := make([]float64, len(idList))
	if len(vScores) > 0 {
		vnorm = Normalize(rawV)
	}
	bnorm := make([]float64, len(idList))
	if len(bScores) > 0 {
		bnorm = Normalize(rawB)
	}

	fused := make(map[string]float64, len(idList))
	normIdx := make(map[string]int, len(idList))
	for i, cid := range idList {
		fused[cid] = Fuse(w, vnorm[i], bnorm[i])
		normIdx[cid] = i
	}
	if len(fused) == 0 {
		sets := [][]RankedID{toRanked(vres.docs)}
		if len(lres.docs) > 0 {
			sets = append(sets, toRanked(lres.docs))
		}
		fused = RRF(sets, e.opts.RRFK, 1.0)
	}

	ranked := make([]string, 0, len(fused))
	ranked = append(ranked, idList...)
	sort.SliceStable(ranked, func(i, j int) bool { return fused[ranked[i]] > fused[ranked[j]] })
	keep := topK
	if keep < 30 {
		keep = 30
	}
	if len(ranked) > keep {
		ranked = ranked[:keep]
	}

	type candidate struct {
		chunkID string
		doc     index.Document
	}
	candidates := make([]candidate, 0, len(ranked))
	passages := make([]string, 0, len(ranked))
	debug := make([]DebugEntry, 0, len(ranked))
	anyPassage := false

	for _, cid := range ranked {
		doc, ok := bDocs[cid]
		if !ok {
			doc = vDocs[cid]
		}
		span := doc.LineEnd - doc.LineStart
		if span < 0 {
			span = 0
		}
		entry := DebugEntry{
			ChunkID: cid,
			Fused:   fused[cid],
			Span:    span,
			Depth:   len(doc.PathTokens),
		}
		if i, ok := normIdx[cid]; ok {
			entry.VNorm = vnorm[i]
			entry.BNorm = bnorm[i]
		}
		debug = append(debug, entry)
		candidates = append(candidates, candidate{chunkID: cid, doc: doc})

		passage := bDocs[cid].Text
		passages = append(passages, passage)
		if passage != "" {
			anyPassage = true
		}
	}

	makeHit := func(c candidate, score float64) models.SearchHit {
		hit := models.SearchHit{
			ChunkID:    c.chunkID,
			Score:      score,
			PathTokens: c.doc.PathTokens,
			LineSpan:   [2]int{c.doc.LineStart, c.doc.LineEnd},
			RepoID:     c.doc.RepoID,
		}
		if hit.PathTokens == nil {
			hit.PathTokens = []string{}
		}
		if text := bDocs[c.chunkID].Text; text != "" {
			hit.Preview = &text
		}
		return hit
	}

	if e.ranker != nil && e.ranker.Available() && anyPassage {
		feats := make([][]float64, len(debug))
		for i, d := range debug {
			feats[i] = []float64{d.Fused, d.VNorm, d.BNorm, float64(d.Span), float64(d.Depth)}
		}
		scores, err := e.ranker.Score(feats)
		if err != nil {
			return nil, nil, err
		}
		order := make([]int, len(candidates))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
		if len(order) > topK {
			order = order[:topK]
		}
		hits := make([]models.SearchHit, 0, len(order))
		for _, i := range order {
			hits = append(hits, makeHit(candidates[i], scores[i]))
		}
		return hits, debug, nil
	}

	n := topK
	if n > len(candidates) {
		n = len(candidates)
	}
	hits := make([]models.SearchHit, 0, n)
	for _, c := range candidates[:n] {
		hits = append(hits, makeHit(c, fused[c.chunkID]))
	}
	return hits, debug, nil
}

func toRanked(docs []index.ScoredDocument) []RankedID {
	out := make([]RankedID, 0, len(docs))
	for _, d := range docs {
		out = append(out, RankedID{ID: d.Document.ChunkID, Score: d.Score})
	}
	return out
}
