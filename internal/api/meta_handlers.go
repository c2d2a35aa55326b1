package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/developer-mesh/code-search/pkg/models"
)

func (s *Server) handleFeedback(c *gin.Context) {
	var req models.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, errBadRequest, err.Error())
		return
	}
	grade := 1
	if req.Grade != nil {
		grade = *req.Grade
	}

	if err := s.ctx.FeedbackLog.Append(map[string]interface{}{
		"search_id":        req.SearchID,
		"clicked_chunk_id": req.ClickedChunkID,
		"grade":            grade,
		"timestamp":        float64(time.Now().UnixNano()) / float64(time.Second),
	}); err != nil {
		respondMappedError(c, err)
		return
	}

	s.ctx.Stats.IncrementFeedback()
	c.JSON(http.StatusOK, models.FeedbackResponse{Status: "ok"})
}

func (s *Server) handleTenantSalt(c *gin.Context) {
	tenantID := c.DefaultQuery("tenant_id", "default")

	salt, err := s.ctx.Salts.CurrentSalt(c.Request.Context(), tenantID)
	if err != nil {
		s.ctx.Logger.Warn("salt lookup failed", map[string]interface{}{
			"tenant_id": tenantID,
			"error":     err.Error(),
		})
	}
	if salt == nil {
		c.JSON(http.StatusOK, models.SaltResponse{TenantID: tenantID, SaltVer: 0, Salt: ""})
		return
	}
	c.JSON(http.StatusOK, models.SaltResponse{
		TenantID: tenantID,
		SaltVer:  salt.Ver,
		Salt:     salt.Value,
	})
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctx.Stats.Snapshot())
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
