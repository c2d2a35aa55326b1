package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// EmbeddingProvider turns text into L2-normalized vectors
type EmbeddingProvider interface {
	Encode(ctx context.Context, texts []string, normalize bool) ([][]float32, error)
}

type embedRequest struct {
	Texts     []string `json:"texts"`
	Model     string   `json:"model"`
	Normalize bool     `json:"normalize"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	ModelUsed  string      `json:"model_used"`
}

// RuntimeEmbeddingProvider calls the external model runtime over HTTP.
// The first call probes the runtime once; the probe result is latched so
// concurrent first users share a single initialization.
type RuntimeEmbeddingProvider struct {
	baseURL string
	model   string
	http    *http.Client

	initOnce sync.Once
	initErr  error
}

// NewRuntimeEmbeddingProvider creates a provider for the runtime at baseURL
func NewRuntimeEmbeddingProvider(baseURL, model string) *RuntimeEmbeddingProvider {
	return &RuntimeEmbeddingProvider{
		baseURL: baseURL,
		model:   model,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *RuntimeEmbeddingProvider) ensureReady(ctx context.Context) error {
	p.initOnce.Do(func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
		if err != nil {
			p.initErr = err
			return
		}
		resp, err := p.http.Do(req)
		if err != nil {
			p.initErr = fmt.Errorf("embedding runtime unreachable: %w", err)
			return
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			p.initErr = fmt.Errorf("embedding runtime health status %d", resp.StatusCode)
		}
	})
	return p.initErr
}

// Encode embeds a batch of texts, retrying transient runtime failures
// with exponential backoff.
func (p *RuntimeEmbeddingProvider) Encode(ctx context.Context, texts []string, normalize bool) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := p.ensureReady(ctx); err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(embedRequest{Texts: texts, Model: p.model, Normalize: normalize})

	var out [][]float32
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embed", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.http.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("embed status %d: %s", resp.StatusCode, string(body))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}

		var decoded embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return backoff.Permanent(err)
		}
		if len(decoded.Embeddings) != len(texts) {
			return backoff.Permanent(fmt.Errorf("embed returned %d vectors for %d texts", len(decoded.Embeddings), len(texts)))
		}
		out = decoded.Embeddings
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return out, nil
}

var embeddingRegistry = NewRegistry[EmbeddingProvider]("huggingface")

func init() {
	embeddingRegistry.Register("huggingface", func(cfg Config) EmbeddingProvider {
		return NewRuntimeEmbeddingProvider(cfg.RuntimeURL, cfg.Model)
	}, "hf", "sentence-transformers")
}

// BuildEmbeddingProvider resolves a provider key (empty means default)
// and constructs the provider. fallbackFrom names the unknown key when a
// default substitution happened, so the caller can log it.
func BuildEmbeddingProvider(key string, cfg Config) (EmbeddingProvider, string, string, error) {
	return embeddingRegistry.Create(key, cfg)
}
