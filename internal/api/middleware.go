package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/developer-mesh/code-search/pkg/observability"
)

const requestIDHeader = "X-Request-ID"

// RequestID echoes the caller's X-Request-ID, generating one when absent,
// and stores it on the request context for handlers and error responses.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(requestIDHeader, requestID)
		c.Request = c.Request.WithContext(observability.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}

// Tracing opens one server span per request. With tracing disabled the
// global provider is a noop, so the middleware costs nothing.
func Tracing() gin.HandlerFunc {
	tracer := observability.Tracer("code-search-http")
	return func(c *gin.Context) {
		spanName := c.Request.Method + " " + c.FullPath()
		ctx, span := tracer.Start(c.Request.Context(), spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", c.FullPath()),
				attribute.String("request.id", observability.RequestIDFrom(c.Request.Context())),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

// RequestLogger emits one request_started and one request_completed or
// request_failed event per request.
func RequestLogger(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := observability.RequestIDFrom(c.Request.Context())

		logger.Info("request_started", map[string]interface{}{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"client_ip":  c.ClientIP(),
		})

		c.Next()

		fields := map[string]interface{}{
			"request_id":  requestID,
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if c.Writer.Status() >= 500 {
			if len(c.Errors) > 0 {
				fields["error"] = c.Errors.String()
			}
			logger.Error("request_failed", fields)
		} else {
			logger.Info("request_completed", fields)
		}
	}
}

// Recovery converts panics into a JSON 500 carrying the request id
func Recovery(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				requestID := observability.RequestIDFrom(c.Request.Context())
				logger.Error("panic recovered", map[string]interface{}{
					"request_id": requestID,
					"panic":      r,
				})
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{
					Error:     errInternal,
					RequestID: requestID,
				})
			}
		}()
		c.Next()
	}
}
