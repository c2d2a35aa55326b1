package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry[string] {
	r := NewRegistry[string]("huggingface")
	r.Register("huggingface", func(cfg Config) string { return "hf:" + cfg.Model }, "hf", "sentence-transformers")
	return r
}

func TestRegistryResolvesAliases(t *testing.T) {
	r := newTestRegistry()
	for _, key := range []string{"huggingface", "hf", "sentence-transformers", "HF", " hf "} {
		p, resolved, fallbackFrom, err := r.Create(key, Config{Model: "m"})
		require.NoError(t, err)
		assert.Equal(t, "hf:m", p)
		assert.Equal(t, "huggingface", resolved)
		assert.Empty(t, fallbackFrom)
	}
}

func TestRegistryEmptyKeyUsesDefault(t *testing.T) {
	r := newTestRegistry()
	_, resolved, fallbackFrom, err := r.Create("", Config{})
	require.NoError(t, err)
	assert.Equal(t, "huggingface", resolved)
	assert.Empty(t, fallbackFrom)
}

func TestRegistryUnknownKeyFallsBack(t *testing.T) {
	r := newTestRegistry()
	_, resolved, fallbackFrom, err := r.Create("openai", Config{})
	require.NoError(t, err)
	assert.Equal(t, "huggingface", resolved)
	assert.Equal(t, "openai", fallbackFrom)
}

func TestBuildEmbeddingProviderAliases(t *testing.T) {
	p, resolved, fallbackFrom, err := BuildEmbeddingProvider("sentence-transformers", Config{RuntimeURL: "http://localhost", Model: "m"})
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.Equal(t, "huggingface", resolved)
	assert.Empty(t, fallbackFrom)
}

func TestBuildRerankerProviderAliases(t *testing.T) {
	p, resolved, _, err := BuildRerankerProvider("cross-encoder", Config{RuntimeURL: "http://localhost", Model: "m"})
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.Equal(t, "huggingface", resolved)
}
