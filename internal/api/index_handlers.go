package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/developer-mesh/code-search/pkg/index"
	"github.com/developer-mesh/code-search/pkg/models"
)

func (s *Server) handleUpload(c *gin.Context) {
	var req models.UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, errBadRequest, err.Error())
		return
	}

	tenant := "default"
	if len(req.Chunks) > 0 && req.Chunks[0].TenantID != "" {
		tenant = req.Chunks[0].TenantID
	}
	if err := s.ctx.APIKeys.Enforce(tenant, c.GetHeader(apiKeyHeader)); err != nil {
		respondMappedError(c, err)
		return
	}

	var points []index.Point
	var lexicalDocs []index.Document

	for _, chunk := range req.Chunks {
		doc := index.Document{
			ChunkID:    chunk.ChunkID,
			RepoID:     chunk.RepoID,
			PathTokens: chunk.PathTokens,
			Lang:       chunk.Lang,
			LineStart:  chunk.LineStart,
			LineEnd:    chunk.LineEnd,
		}
		if chunk.RelPath != nil {
			doc.RelPath = *chunk.RelPath
		}

		var vector []float32
		if chunk.PrivacyMode {
			if len(chunk.Vector) == 0 {
				respondError(c, http.StatusBadRequest, errBadRequest, "privacy_mode chunks require a precomputed vector")
				return
			}
			vector = chunk.Vector
		} else {
			if chunk.Text == nil || *chunk.Text == "" {
				respondError(c, http.StatusBadRequest, errBadRequest, "non-privacy chunks require text")
				return
			}
			var err error
			vector, err = s.ctx.Embedder.Encode(c.Request.Context(), *chunk.Text)
			if err != nil {
				respondError(c, http.StatusBadGateway, errModel, err.Error())
				return
			}
			if !s.ctx.Config.IsPrivacyRepo(chunk.RepoID) {
				lexDoc := doc
				lexDoc.Text = *chunk.Text
				lexicalDocs = append(lexicalDocs, lexDoc)
			}
		}

		points = append(points, index.Point{ID: chunk.ChunkID, Vector: vector, Payload: doc})
	}

	if len(points) > 0 {
		if err := s.ctx.Vector.Upsert(c.Request.Context(), tenant, points); err != nil {
			respondMappedError(c, err)
			return
		}
	}
	if len(lexicalDocs) > 0 {
		if err := s.ctx.Lexical.BulkUpsert(c.Request.Context(), tenant, lexicalDocs); err != nil {
			respondMappedError(c, err)
			return
		}
	}

	s.ctx.Stats.IncrementIndex(len(req.Chunks))

	c.JSON(http.StatusOK, models.UploadResponse{
		Status:     "ok",
		Qdrant:     len(points),
		OpenSearch: len(lexicalDocs),
	})
}

func (s *Server) handleCommitTus(c *gin.Context) {
	var req models.CommitTusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, errBadRequest, err.Error())
		return
	}
	if req.TenantID == "" {
		req.TenantID = "default"
	}
	if err := s.ctx.APIKeys.Enforce(req.TenantID, c.GetHeader(apiKeyHeader)); err != nil {
		respondMappedError(c, err)
		return
	}

	text, err := s.ctx.Blobs.GetObjectText(c.Request.Context(), "uploads/"+req.TusKey)
	if err != nil {
		respondMappedError(c, err)
		return
	}

	vector, err := s.ctx.Embedder.Encode(c.Request.Context(), text)
	if err != nil {
		respondError(c, http.StatusBadGateway, errModel, err.Error())
		return
	}

	doc := index.Document{
		ChunkID:    req.Chunk.ChunkID,
		RepoID:     req.RepoID,
		PathTokens: req.Chunk.PathTokens,
		Lang:       req.Chunk.Lang,
		LineStart:  req.Chunk.LineStart,
		LineEnd:    req.Chunk.LineEnd,
	}
	if doc.LineStart == 0 {
		doc.LineStart = 1
	}
	if doc.LineEnd == 0 {
		doc.LineEnd = 1
	}
	if req.Chunk.RelPath != nil {
		doc.RelPath = *req.Chunk.RelPath
	}

	if err := s.ctx.Vector.Upsert(c.Request.Context(), req.TenantID, []index.Point{
		{ID: req.Chunk.ChunkID, Vector: vector, Payload: doc},
	}); err != nil {
		respondMappedError(c, err)
		return
	}

	if !s.ctx.Config.IsPrivacyRepo(req.RepoID) {
		lexDoc := doc
		lexDoc.Text = text
		if err := s.ctx.Lexical.BulkUpsert(c.Request.Context(), req.TenantID, []index.Document{lexDoc}); err != nil {
			respondMappedError(c, err)
			return
		}
	}

	s.ctx.Stats.IncrementIndex(1)

	c.JSON(http.StatusOK, models.CommitTusResponse{Status: "ok", ChunkID: req.Chunk.ChunkID})
}
