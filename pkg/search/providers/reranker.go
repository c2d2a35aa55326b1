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

// CrossEncoderProvider scores (query, passage) pairs
type CrossEncoderProvider interface {
	Rerank(ctx context.Context, query string, passages []string) ([]float64, error)
}

type rerankRequest struct {
	Query    string   `json:"query"`
	Passages []string `json:"passages"`
	Model    string   `json:"model"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// RuntimeCrossEncoderProvider calls the external model runtime over HTTP
type RuntimeCrossEncoderProvider struct {
	baseURL string
	model   string
	http    *http.Client

	initOnce sync.Once
	initErr  error
}

// NewRuntimeCrossEncoderProvider creates a provider for the runtime at baseURL
func NewRuntimeCrossEncoderProvider(baseURL, model string) *RuntimeCrossEncoderProvider {
	return &RuntimeCrossEncoderProvider{
		baseURL: baseURL,
		model:   model,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *RuntimeCrossEncoderProvider) ensureReady(ctx context.Context) error {
	p.initOnce.Do(func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
		if err != nil {
			p.initErr = err
			return
		}
		resp, err := p.http.Do(req)
		if err != nil {
			p.initErr = fmt.Errorf("reranker runtime unreachable: %w", err)
			return
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			p.initErr = fmt.Errorf("reranker runtime health status %d", resp.StatusCode)
		}
	})
	return p.initErr
}

// Rerank returns one score per passage, in input order
func (p *RuntimeCrossEncoderProvider) Rerank(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	if err := p.ensureReady(ctx); err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(rerankRequest{Query: query, Passages: passages, Model: p.model})

	var out []float64
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/rerank", bytes.NewReader(payload))
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
			err := fmt.Errorf("rerank status %d: %s", resp.StatusCode, string(body))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}

		var decoded rerankResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return backoff.Permanent(err)
		}
		if len(decoded.Scores) != len(passages) {
			return backoff.Permanent(fmt.Errorf("rerank returned %d scores for %d passages", len(decoded.Scores), len(passages)))
		}
		out = decoded.Scores
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return out, nil
}

var rerankerRegistry = NewRegistry[CrossEncoderProvider]("huggingface")

func init() {
	rerankerRegistry.Register("huggingface", func(cfg Config) CrossEncoderProvider {
		return NewRuntimeCrossEncoderProvider(cfg.RuntimeURL, cfg.Model)
	}, "hf", "cross-encoder")
}

// BuildRerankerProvider resolves a provider key (empty means default)
// and constructs the provider. fallbackFrom names the unknown key when a
// default substitution happened, so the caller can log it.
func BuildRerankerProvider(key string, cfg Config) (CrossEncoderProvider, string, string, error) {
	return rerankerRegistry.Create(key, cfg)
}
