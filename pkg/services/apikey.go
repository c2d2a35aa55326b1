package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// API key enforcement errors, mapped to 401 and 403 by the API layer
var (
	ErrMissingAPIKey = errors.New("missing x-api-key")
	ErrInvalidAPIKey = errors.New("invalid api key")
)

// APIKeyValidator checks tenant key-set membership. Enforcement can be
// switched off entirely for local development.
type APIKeyValidator struct {
	tenantKeys map[string]map[string]struct{}
	require    bool
}

// NewAPIKeyValidator builds a validator from a tenant→keys mapping
func NewAPIKeyValidator(tenantKeys map[string][]string, require bool) *APIKeyValidator {
	keys := make(map[string]map[string]struct{}, len(tenantKeys))
	for tenant, list := range tenantKeys {
		set := make(map[string]struct{}, len(list))
		for _, k := range list {
			set[k] = struct{}{}
		}
		keys[tenant] = set
	}
	return &APIKeyValidator{tenantKeys: keys, require: require}
}

// LoadTenantKeys reads the tenant→keys mapping from a JSON file. An empty
// path yields an empty mapping.
func LoadTenantKeys(path string) (map[string][]string, error) {
	if path == "" {
		return map[string][]string{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]string{}, nil
		}
		return nil, fmt.Errorf("failed to read tenant keys: %w", err)
	}
	var keys map[string][]string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("invalid tenant keys file: %w", err)
	}
	return keys, nil
}

// Enforce validates the supplied key for tenant. A disabled validator
// accepts everything.
func (v *APIKeyValidator) Enforce(tenantID, apiKey string) error {
	if !v.require {
		return nil
	}
	if apiKey == "" {
		return ErrMissingAPIKey
	}
	if _, ok := v.tenantKeys[tenantID][apiKey]; !ok {
		return ErrInvalidAPIKey
	}
	return nil
}
