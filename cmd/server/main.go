// Command server runs the hybrid code-search HTTP service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/developer-mesh/code-search/internal/api"
	"github.com/developer-mesh/code-search/pkg/common/cache"
	"github.com/developer-mesh/code-search/pkg/config"
	"github.com/developer-mesh/code-search/pkg/index"
	"github.com/developer-mesh/code-search/pkg/observability"
	"github.com/developer-mesh/code-search/pkg/search"
	"github.com/developer-mesh/code-search/pkg/search/providers"
	"github.com/developer-mesh/code-search/pkg/secrets"
	"github.com/developer-mesh/code-search/pkg/services"
	"github.com/developer-mesh/code-search/pkg/storage"
	"github.com/developer-mesh/code-search/pkg/utils"
)

func main() {
	logger := observability.NewLogger("code-search")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", map[string]interface{}{"error": err.Error()})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopTracing, err := observability.InitTracing(observability.TracingConfig{
		Enabled:     cfg.TracingEnabled,
		ServiceName: "code-search",
		Environment: cfg.Environment,
		Endpoint:    cfg.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize tracing", map[string]interface{}{"error": err.Error()})
	}
	defer stopTracing()

	appCtx, err := buildContext(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize services", map[string]interface{}{"error": err.Error()})
	}

	server := api.NewServer(appCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ListenAddress)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received", nil)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", map[string]interface{}{"error": err.Error()})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown did not complete cleanly", map[string]interface{}{"error": err.Error()})
	}
}

func buildContext(ctx context.Context, cfg *config.Settings, logger observability.Logger) (*api.AppContext, error) {
	shared := cache.Connect(cfg.RedisURL, 3, 2*time.Second, logger)

	qdrant := index.NewQdrantStore(cfg.QdrantURL, cfg.QdrantCollection, logger.WithPrefix("qdrant"))
	opensearch := index.NewOpenSearchStore(cfg.OpenSearchURL, cfg.OpenSearchIndex, logger.WithPrefix("opensearch"))

	embedProvider, resolvedKey, fallbackFrom, err := providers.BuildEmbeddingProvider(cfg.EmbedProvider, providers.Config{
		RuntimeURL: cfg.EmbedRuntimeURL,
		Model:      cfg.EmbedModel,
	})
	if err != nil {
		return nil, err
	}
	if fallbackFrom != "" {
		logger.Warn("unknown embedding provider, using default", map[string]interface{}{
			"requested": fallbackFrom,
			"resolved":  resolvedKey,
		})
	}

	rerankProvider, resolvedKey, fallbackFrom, err := providers.BuildRerankerProvider(cfg.RerankerProvider, providers.Config{
		RuntimeURL: cfg.EmbedRuntimeURL,
		Model:      cfg.RerankerModel,
	})
	if err != nil {
		return nil, err
	}
	if fallbackFrom != "" {
		logger.Warn("unknown reranker provider, using default", map[string]interface{}{
			"requested": fallbackFrom,
			"resolved":  resolvedKey,
		})
	}

	embedCache, err := services.NewEmbeddingCache(embedProvider, cfg.EmbedCacheSize, shared, time.Hour, logger)
	if err != nil {
		return nil, err
	}

	ranker, err := search.NewLearnedRanker(cfg.LearnedRankerPath)
	if err != nil {
		return nil, err
	}

	engine := search.NewEngine(qdrant, opensearch, embedCache, ranker, search.EngineOptions{
		TopKVector:    cfg.TopKVector,
		TopKBM25:      cfg.TopKBM25,
		RRFK:          cfg.RRFK,
		FinalK:        cfg.FinalK,
		IsPrivacyRepo: cfg.IsPrivacyRepo,
	}, logger.WithPrefix("engine"))

	reranker, err := search.NewCrossEncoderReranker(rerankProvider)
	if err != nil {
		return nil, err
	}

	tenantKeys, err := services.LoadTenantKeys(cfg.TenantKeysPath)
	if err != nil {
		return nil, err
	}

	blobs, err := storage.NewS3Client(ctx, storage.S3Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		return nil, err
	}

	salts := secrets.NewVaultSaltProvider(secrets.VaultConfig{
		Addr:           cfg.VaultAddr,
		Token:          cfg.VaultToken,
		SecretTemplate: cfg.VaultSecretTemplate,
		FallbackJSON:   cfg.FallbackSaltsJSON,
	}, logger.WithPrefix("vault"))

	return &api.AppContext{
		Config:      cfg,
		Vector:      qdrant,
		Lexical:     opensearch,
		Searcher:    engine,
		Reranker:    reranker,
		Embedder:    embedCache,
		SearchCache: services.NewSearchCache(time.Duration(cfg.SearchCacheTTLS)*time.Second, shared, nil, logger),
		RateLimiter: services.NewRateLimiter(cfg.LimitSearchPerMinute, shared, nil, logger),
		APIKeys:     services.NewAPIKeyValidator(tenantKeys, cfg.RequireAPIKey),
		Stats:       services.NewStatsTracker(),
		Salts:       salts,
		Blobs:       blobs,
		SearchLog:   utils.NewJSONLWriter(cfg.SearchLogPath),
		FeedbackLog: utils.NewJSONLWriter(cfg.FeedbackLogPath),
		Logger:      logger,
	}, nil
}
