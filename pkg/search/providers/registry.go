// Package providers contains the model-provider registry and the HTTP
// clients for the external embedding and cross-encoder runtimes.
package providers

import (
	"fmt"
	"strings"
)

// Config is passed to provider factories at build time
type Config struct {
	RuntimeURL string
	Model      string
}

// Factory builds a provider instance from configuration
type Factory[P any] func(cfg Config) P

// Registry resolves provider keys, including aliases, with a default
// fallback: an unknown key resolves to the default provider and the
// caller gets the original key back so it can log the substitution.
type Registry[P any] struct {
	defaultKey string
	factories  map[string]Factory[P]
	canonical  map[string]string
}

// NewRegistry creates a registry with the given default provider key
func NewRegistry[P any](defaultKey string) *Registry[P] {
	return &Registry[P]{
		defaultKey: strings.ToLower(strings.TrimSpace(defaultKey)),
		factories:  make(map[string]Factory[P]),
		canonical:  make(map[string]string),
	}
}

// Register adds a factory under a canonical key plus any aliases
func (r *Registry[P]) Register(key string, factory Factory[P], aliases ...string) {
	canonical := strings.ToLower(strings.TrimSpace(key))
	r.factories[canonical] = factory
	r.canonical[canonical] = canonical
	for _, a := range aliases {
		r.canonical[strings.ToLower(strings.TrimSpace(a))] = canonical
	}
}

// Create resolves key (empty means default) and builds the provider.
// fallbackFrom is non-empty when an unknown key fell back to the default.
func (r *Registry[P]) Create(key string, cfg Config) (provider P, resolvedKey string, fallbackFrom string, err error) {
	requested := strings.ToLower(strings.TrimSpace(key))
	if requested == "" {
		requested = r.defaultKey
	}

	canonical, ok := r.canonical[requested]
	if !ok {
		canonical = r.defaultKey
		fallbackFrom = requested
	}

	factory, ok := r.factories[canonical]
	if !ok {
		err = fmt.Errorf("no provider registered for %q", canonical)
		return
	}
	return factory(cfg), canonical, fallbackFrom, nil
}
