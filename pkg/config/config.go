// Package config loads the service configuration from the environment.
// The resulting Settings value is constructed once at startup and treated
// as read-only by every component.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Settings holds the complete application configuration
type Settings struct {
	ListenAddress string `mapstructure:"listen_address"`

	QdrantURL        string `mapstructure:"qdrant_url"`
	QdrantCollection string `mapstructure:"qdrant_collection"`
	OpenSearchURL    string `mapstructure:"opensearch_url"`
	OpenSearchIndex  string `mapstructure:"opensearch_index"`

	EmbedProvider    string `mapstructure:"embed_provider"`
	EmbedModel       string `mapstructure:"embed_model"`
	EmbedRuntimeURL  string `mapstructure:"embed_runtime_url"`
	RerankerProvider string `mapstructure:"reranker_provider"`
	RerankerModel    string `mapstructure:"reranker_model"`

	TopKVector        int     `mapstructure:"top_k_vector"`
	TopKBM25          int     `mapstructure:"top_k_bm25"`
	FinalK            int     `mapstructure:"final_k"`
	AlphaVec          float64 `mapstructure:"alpha_vec"`
	BetaBM25          float64 `mapstructure:"beta_bm25"`
	RRFK              int     `mapstructure:"rrf_k"`
	LearnedRankerPath string  `mapstructure:"learned_ranker_path"`

	PrivacyRepos   string   `mapstructure:"privacy_repos"`
	PrivacyRepoIDs []string `mapstructure:"-"`

	RequireAPIKey        bool   `mapstructure:"require_api_key"`
	TenantKeysPath       string `mapstructure:"tenant_keys_path"`
	LimitSearchPerMinute int    `mapstructure:"limit_search_per_minute"`

	EmbedCacheSize   int     `mapstructure:"embed_cache_size"`
	SearchCacheTTLS  int     `mapstructure:"search_cache_ttl_s"`
	ABVariantAlpha   float64 `mapstructure:"ab_variant_alpha"`
	ABVariantBeta    float64 `mapstructure:"ab_variant_beta"`

	VaultAddr           string `mapstructure:"vault_addr"`
	VaultToken          string `mapstructure:"vault_token"`
	VaultSecretTemplate string `mapstructure:"vault_secret_template"`
	FallbackSaltsJSON   string `mapstructure:"fallback_salts_json"`

	RedisURL string `mapstructure:"redis_url"`

	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Region    string `mapstructure:"s3_region"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3UseSSL    bool   `mapstructure:"s3_use_ssl"`

	SearchLogPath   string `mapstructure:"search_log_path"`
	FeedbackLogPath string `mapstructure:"feedback_log_path"`

	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	Environment    string `mapstructure:"environment"`
}

// Load reads the configuration from environment variables with defaults
func Load() (*Settings, error) {
	v := viper.New()
	v.AutomaticEnv()

	setDefaults(v)

	// Environment variable bindings. AutomaticEnv only resolves keys that
	// have been touched, so bind each one explicitly.
	for key, env := range envBindings {
		_ = v.BindEnv(key, env) // Best effort - viper handles errors internally
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	// PRIVACY_REPOS is a comma-separated list
	for _, id := range strings.Split(s.PrivacyRepos, ",") {
		if id = strings.TrimSpace(id); id != "" {
			s.PrivacyRepoIDs = append(s.PrivacyRepoIDs, id)
		}
	}

	if s.AlphaVec < 0 || s.BetaBM25 < 0 {
		return nil, fmt.Errorf("fusion weights must be non-negative (alpha=%v beta=%v)", s.AlphaVec, s.BetaBM25)
	}
	if s.FinalK <= 0 {
		return nil, fmt.Errorf("final_k must be positive, got %d", s.FinalK)
	}

	return &s, nil
}

var envBindings = map[string]string{
	"listen_address":          "LISTEN_ADDRESS",
	"qdrant_url":              "QDRANT_URL",
	"qdrant_collection":       "QDRANT_COLLECTION",
	"opensearch_url":          "OPENSEARCH_URL",
	"opensearch_index":        "OPENSEARCH_INDEX",
	"embed_provider":          "EMBED_PROVIDER",
	"embed_model":             "EMBED_MODEL",
	"embed_runtime_url":       "EMBED_RUNTIME_URL",
	"reranker_provider":       "RERANKER_PROVIDER",
	"reranker_model":          "RERANKER_MODEL",
	"top_k_vector":            "TOP_K_VECTOR",
	"top_k_bm25":              "TOP_K_BM25",
	"final_k":                 "FINAL_K",
	"alpha_vec":               "ALPHA_VEC",
	"beta_bm25":               "BETA_BM25",
	"rrf_k":                   "RRF_K",
	"learned_ranker_path":     "LEARNED_RANKER_PATH",
	"privacy_repos":           "PRIVACY_REPOS",
	"require_api_key":         "REQUIRE_API_KEY",
	"tenant_keys_path":        "TENANT_KEYS_PATH",
	"limit_search_per_minute": "LIMIT_SEARCH_PER_MINUTE",
	"embed_cache_size":        "EMBED_CACHE_SIZE",
	"search_cache_ttl_s":      "SEARCH_CACHE_TTL_S",
	"ab_variant_alpha":        "AB_VARIANT_ALPHA",
	"ab_variant_beta":         "AB_VARIANT_BETA",
	"vault_addr":              "VAULT_ADDR",
	"vault_token":             "VAULT_TOKEN",
	"vault_secret_template":   "VAULT_SECRET_TEMPLATE",
	"fallback_salts_json":     "FALLBACK_SALTS_JSON",
	"redis_url":               "REDIS_URL",
	"s3_endpoint":             "S3_ENDPOINT",
	"s3_access_key":           "S3_ACCESS_KEY",
	"s3_secret_key":           "S3_SECRET_KEY",
	"s3_region":               "S3_REGION",
	"s3_bucket":               "S3_BUCKET",
	"s3_use_ssl":              "S3_USE_SSL",
	"search_log_path":         "SEARCH_LOG_PATH",
	"feedback_log_path":       "FEEDBACK_LOG_PATH",
	"tracing_enabled":         "TRACING_ENABLED",
	"otlp_endpoint":           "OTLP_ENDPOINT",
	"environment":             "ENVIRONMENT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_address", ":8080")

	v.SetDefault("qdrant_url", "http://localhost:6333")
	v.SetDefault("qdrant_collection", "code_chunks")
	v.SetDefault("opensearch_url", "http://localhost:9200")
	v.SetDefault("opensearch_index", "code_chunks")

	v.SetDefault("embed_model", "BAAI/bge-large-en-v1.5")
	v.SetDefault("embed_runtime_url", "http://localhost:8090")
	v.SetDefault("reranker_model", "BAAI/bge-reranker-large")

	v.SetDefault("top_k_vector", 50)
	v.SetDefault("top_k_bm25", 50)
	v.SetDefault("final_k", 12)
	v.SetDefault("alpha_vec", 0.6)
	v.SetDefault("beta_bm25", 0.4)
	v.SetDefault("rrf_k", 60)
	v.SetDefault("learned_ranker_path", "")

	v.SetDefault("privacy_repos", "")

	v.SetDefault("require_api_key", false)
	v.SetDefault("tenant_keys_path", "data/tenants.json")
	v.SetDefault("limit_search_per_minute", 120)

	v.SetDefault("embed_cache_size", 10000)
	v.SetDefault("search_cache_ttl_s", 30)
	v.SetDefault("ab_variant_alpha", 0.6)
	v.SetDefault("ab_variant_beta", 0.4)

	v.SetDefault("vault_secret_template", "kv/data/codeindexing/{tenant}/salts")

	v.SetDefault("s3_endpoint", "http://localhost:9000")
	v.SetDefault("s3_access_key", "minioadmin")
	v.SetDefault("s3_secret_key", "minioadmin")
	v.SetDefault("s3_region", "us-east-1")
	v.SetDefault("s3_bucket", "tus")
	v.SetDefault("s3_use_ssl", false)

	v.SetDefault("search_log_path", "data/search_log.jsonl")
	v.SetDefault("feedback_log_path", "data/feedback_log.jsonl")

	v.SetDefault("tracing_enabled", false)
	v.SetDefault("otlp_endpoint", "localhost:4317")
	v.SetDefault("environment", "development")
}

// IsPrivacyRepo reports whether the repository is registered for privacy mode
func (s *Settings) IsPrivacyRepo(repoID string) bool {
	for _, id := range s.PrivacyRepoIDs {
		if id == repoID {
			return true
		}
	}
	return false
}
