package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/developer-mesh/code-search/pkg/observability"
)

// Server is the HTTP API server
type Server struct {
	router *gin.Engine
	server *http.Server
	ctx    *AppContext
	logger observability.Logger
}

// NewServer builds the router and registers all routes under /v1
func NewServer(appCtx *AppContext) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		router: router,
		ctx:    appCtx,
		logger: appCtx.Logger,
	}

	router.Use(Recovery(appCtx.Logger))
	router.Use(RequestID())
	router.Use(Tracing())
	router.Use(RequestLogger(appCtx.Logger))

	router.GET("/healthz", s.handleHealth)

	v1 := router.Group("/v1")
	{
		v1.GET("/tenant/salt", s.handleTenantSalt)
		v1.POST("/index/upload", s.handleUpload)
		v1.POST("/index/commit_tus", s.handleCommitTus)
		v1.POST("/search", s.handleSearch)
		v1.POST("/search/fetch-lines", s.handleFetchLines)
		v1.POST("/feedback", s.handleFeedback)
		v1.GET("/metrics", s.handleMetrics)
	}

	return s
}

// Router exposes the gin engine; used by tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving on addr and blocks until the listener fails
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("server listening", map[string]interface{}{"addr": addr})
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
