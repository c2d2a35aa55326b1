package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/developer-mesh/code-search/pkg/index"
	"github.com/developer-mesh/code-search/pkg/observability"
	"github.com/developer-mesh/code-search/pkg/services"
)

// Error taxonomy surfaced in responses
const (
	errAuthMissing        = "auth_missing"
	errAuthInvalid        = "auth_invalid"
	errRateLimited        = "rate_limited"
	errBadRequest         = "bad_request"
	errVectorUnavailable  = "backend_vector_unavailable"
	errLexicalUnavailable = "backend_lexical_unavailable"
	errModel              = "model_error"
	errInternal           = "internal"
)

type errorResponse struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func respondError(c *gin.Context, status int, code, detail string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Error:     code,
		Detail:    detail,
		RequestID: observability.RequestIDFrom(c.Request.Context()),
	})
}

// respondMappedError translates a service error into its HTTP shape
func respondMappedError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrMissingAPIKey):
		respondError(c, http.StatusUnauthorized, errAuthMissing, err.Error())
	case errors.Is(err, services.ErrInvalidAPIKey):
		respondError(c, http.StatusForbidden, errAuthInvalid, err.Error())
	case errors.Is(err, services.ErrRateLimited):
		respondError(c, http.StatusTooManyRequests, errRateLimited, err.Error())
	case errors.Is(err, index.ErrVectorUnavailable):
		respondError(c, http.StatusServiceUnavailable, errVectorUnavailable, err.Error())
	case errors.Is(err, index.ErrLexicalUnavailable):
		respondError(c, http.StatusServiceUnavailable, errLexicalUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusGatewayTimeout, errInternal, err.Error())
	default:
		respondError(c, http.StatusInternalServerError, errInternal, err.Error())
	}
}
