// Package secrets resolves per-tenant path-obfuscation salts from Vault,
// with an environment-supplied JSON fallback for deployments without a
// secret store.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/developer-mesh/code-search/pkg/observability"
)

// Salt is one rotation entry; the current salt is the highest Ver.
type Salt struct {
	Ver   int    `json:"ver"`
	Value string `json:"value"`
}

// SaltProvider looks up rotation salts for a tenant
type SaltProvider interface {
	CurrentSalt(ctx context.Context, tenant string) (*Salt, error)
}

// VaultConfig configures the Vault-backed provider
type VaultConfig struct {
	Addr           string
	Token          string
	SecretTemplate string
	FallbackJSON   string
	Timeout        time.Duration
}

// VaultSaltProvider reads salts from a Vault KV v2 mount, falling back to
// a static JSON mapping when Vault is not configured or unreachable.
type VaultSaltProvider struct {
	cfg    VaultConfig
	http   *http.Client
	logger observability.Logger
}

// NewVaultSaltProvider creates a salt provider
func NewVaultSaltProvider(cfg VaultConfig, logger observability.Logger) *VaultSaltProvider {
	if cfg.SecretTemplate == "" {
		cfg.SecretTemplate = "kv/data/codeindexing/{tenant}/salts"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &VaultSaltProvider{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// vault KV v2 wraps the payload twice: {"data": {"data": {"salts": [...]}}}
type vaultSecretResponse struct {
	Data struct {
		Data struct {
			Salts []Salt `json:"salts"`
		} `json:"data"`
	} `json:"data"`
}

func (p *VaultSaltProvider) saltsFromVault(ctx context.Context, tenant string) ([]Salt, error) {
	path := strings.ReplaceAll(p.cfg.SecretTemplate, "{tenant}", tenant)
	url := strings.TrimRight(p.cfg.Addr, "/") + "/" + strings.TrimLeft(path, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Vault-Token", p.cfg.Token)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vault status %d", resp.StatusCode)
	}

	var body vaultSecretResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Data.Data.Salts, nil
}

func (p *VaultSaltProvider) saltsFromFallback(tenant string) []Salt {
	if p.cfg.FallbackJSON == "" {
		return nil
	}
	var mapping map[string][]Salt
	if err := json.Unmarshal([]byte(p.cfg.FallbackJSON), &mapping); err != nil {
		p.logger.Warn("invalid fallback salts JSON", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return mapping[tenant]
}

func (p *VaultSaltProvider) saltsForTenant(ctx context.Context, tenant string) []Salt {
	if p.cfg.Addr != "" && p.cfg.Token != "" {
		salts, err := p.saltsFromVault(ctx, tenant)
		if err == nil {
			return salts
		}
		p.logger.Warn("vault salt lookup failed", map[string]interface{}{
			"tenant_id": tenant,
			"error":     err.Error(),
		})
	}
	return p.saltsFromFallback(tenant)
}

// CurrentSalt returns the highest-version salt for the tenant, or nil
// when the tenant has none.
func (p *VaultSaltProvider) CurrentSalt(ctx context.Context, tenant string) (*Salt, error) {
	salts := p.saltsForTenant(ctx, tenant)
	if len(salts) == 0 {
		return nil, nil
	}
	sort.Slice(salts, func(i, j int) bool { return salts[i].Ver > salts[j].Ver })
	current := salts[0]
	return &current, nil
}
