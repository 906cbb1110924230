// Package tenantconfig resolves each tenant's LLM routing configuration:
// active provider, model, optional fallback provider/model, and per-provider
// encrypted API key ciphertexts so switching the active provider never loses
// a previously entered key (spec.md §4.7, §9 "Config switching").
//
// Grounded on original_source's services/tenant_llm_config_service.py (read
// only for its write/read contract, per SPEC_FULL.md §4.12 — the method
// shapes below are built directly from spec.md §4.7's prose) and on
// internal/secrets.Cipher for the ciphertext format.
package tenantconfig

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ontoreason.app/engine/internal/apperr"
	"ontoreason.app/engine/internal/llmclient"
	"ontoreason.app/engine/internal/secrets"
)

// cipherKey is the reserved key inside extra_json under which the
// per-provider ciphertext map is stored. User-supplied extra_json must never
// carry this key — Upsert strips it from incoming input before merging.
const cipherKey = "__api_key_cipher_by_provider"

// Config is one tenant's durable LLM routing row.
type Config struct {
	TenantID         string
	Provider         string
	Model            string
	FallbackProvider string
	FallbackModel    string
	BaseURLOverride  string
	ExtraJSON        map[string]any
	TimeoutMs        int
	EnableThinking   *bool

	// ciphers holds api_key_cipher_by_provider, decoded out of ExtraJSON.
	ciphers map[string]string
}

// ProviderDefault is a process-wide fallback base URL for a known provider
// (deepseek, qwen); a tenant's BaseURLOverride, if set, always wins.
type ProviderDefault struct {
	Provider string
	BaseURL  string
}

// Resolver persists and resolves TenantLLMConfig rows.
type Resolver struct {
	pool     *pgxpool.Pool
	cipher   *secrets.Cipher
	defaults map[string]string
}

func New(pool *pgxpool.Pool, cipher *secrets.Cipher, defaults []ProviderDefault) *Resolver {
	m := make(map[string]string, len(defaults))
	for _, d := range defaults {
		m[d.Provider] = d.BaseURL
	}
	return &Resolver{pool: pool, cipher: cipher, defaults: m}
}

// Get loads a tenant's config, or nil if none has been set yet.
func (r *Resolver) Get(ctx context.Context, tenantID string) (*Config, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT tenant_id, provider, model, fallback_provider, fallback_model,
		       base_url_override, extra_json, timeout_ms, enable_thinking
		FROM tenant_llm_configs WHERE tenant_id = $1
	`, tenantID)

	var cfg Config
	var fallbackProvider, fallbackModel, baseURLOverride *string
	var extraJSON []byte
	var enableThinking *bool
	if err := row.Scan(&cfg.TenantID, &cfg.Provider, &cfg.Model, &fallbackProvider, &fallbackModel,
		&baseURLOverride, &extraJSON, &cfg.TimeoutMs, &enableThinking); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get tenant llm config: %w", err)
	}
	if fallbackProvider != nil {
		cfg.FallbackProvider = *fallbackProvider
	}
	if fallbackModel != nil {
		cfg.FallbackModel = *fallbackModel
	}
	if baseURLOverride != nil {
		cfg.BaseURLOverride = *baseURLOverride
	}
	cfg.EnableThinking = enableThinking

	full := map[string]any{}
	if len(extraJSON) > 0 {
		_ = json.Unmarshal(extraJSON, &full)
	}
	cfg.ciphers = extractCiphers(full)
	delete(full, cipherKey)
	cfg.ExtraJSON = full

	return &cfg, nil
}

// UpsertInput is the write-side request from spec.md §4.7: the caller
// supplies a provider to activate, optionally a new api_key for it, optional
// fallback routing, and optional extra_json overrides.
type UpsertInput struct {
	Provider         string
	APIKey           string // empty means "keep existing ciphertext for Provider"
	Model            string
	FallbackProvider string
	FallbackModel    string
	BaseURLOverride  string
	ExtraJSON        map[string]any
	TimeoutMs        int
	EnableThinking   *bool
}

// Upsert stores or updates a tenant's LLM config. Per spec.md §4.7: merge
// incoming extra_json (stripping the reserved cipher key from user input so
// it can never be overwritten), encrypt a newly supplied api_key under the
// selected provider, and require that some ciphertext exists for the active
// provider — switching providers without a new key is allowed iff a
// ciphertext for that provider already exists from a prior write.
func (r *Resolver) Upsert(ctx context.Context, tenantID string, in UpsertInput) (*Config, error) {
	if in.Provider == "" {
		return nil, apperr.Validationf("provider is required")
	}
	if in.Model == "" {
		return nil, apperr.Validationf("model is required")
	}

	existing, err := r.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	ciphers := map[string]string{}
	if existing != nil {
		for k, v := range existing.ciphers {
			ciphers[k] = v
		}
	}

	if in.APIKey != "" {
		ciphertext, err := r.cipher.Encrypt(in.APIKey)
		if err != nil {
			return nil, apperr.Internalf(err, "encrypt tenant api key")
		}
		ciphers[in.Provider] = ciphertext
	}
	if _, ok := ciphers[in.Provider]; !ok {
		return nil, apperr.Validationf("no api key on file for provider %q; supply one", in.Provider)
	}

	extra := map[string]any{}
	for k, v := range in.ExtraJSON {
		if k == cipherKey {
			continue
		}
		extra[k] = v
	}
	stored := map[string]any{}
	for k, v := range extra {
		stored[k] = v
	}
	stored[cipherKey] = ciphers
	extraJSON, err := json.Marshal(stored)
	if err != nil {
		return nil, apperr.Internalf(err, "marshal tenant llm config extra_json")
	}

	timeoutMs := in.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 30000
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO tenant_llm_configs
			(tenant_id, provider, model, fallback_provider, fallback_model, base_url_override, extra_json, timeout_ms, enable_thinking, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, now(), now())
		ON CONFLICT (tenant_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			fallback_provider = EXCLUDED.fallback_provider,
			fallback_model = EXCLUDED.fallback_model,
			base_url_override = EXCLUDED.base_url_override,
			extra_json = EXCLUDED.extra_json,
			timeout_ms = EXCLUDED.timeout_ms,
			enable_thinking = EXCLUDED.enable_thinking,
			updated_at = now()
	`, tenantID, in.Provider, in.Model, in.FallbackProvider, in.FallbackModel, in.BaseURLOverride,
		extraJSON, timeoutMs, in.EnableThinking)
	if err != nil {
		return nil, apperr.Internalf(err, "upsert tenant llm config")
	}

	return r.Get(ctx, tenantID)
}

// MaskedPreviews decrypts every stored ciphertext and masks it, for display
// in config-read responses — raw API keys are never returned once written.
func (r *Resolver) MaskedPreviews(cfg *Config) map[string]string {
	out := make(map[string]string, len(cfg.ciphers))
	for provider, ciphertext := range cfg.ciphers {
		plaintext, err := r.cipher.Decrypt(ciphertext)
		if err != nil {
			out[provider] = ""
			continue
		}
		out[provider] = secrets.Mask(plaintext)
	}
	return out
}

// RuntimeConfig resolves cfg's active provider into an llmclient.RuntimeConfig
// with the decrypted API key and a base URL (tenant override, else process
// default for the provider). It never falls back to the fallback provider —
// that selection belongs to the caller, which can call RuntimeConfig again
// with the fallback provider/model after a primary failure, since the
// engine does not retry automatically (spec.md §1 non-goals).
func (r *Resolver) RuntimeConfig(cfg *Config, provider, model string) (llmclient.RuntimeConfig, error) {
	ciphertext, ok := cfg.ciphers[provider]
	if !ok {
		return llmclient.RuntimeConfig{}, apperr.Validationf("no api key on file for provider %q", provider)
	}
	apiKey, err := r.cipher.Decrypt(ciphertext)
	if err != nil {
		return llmclient.RuntimeConfig{}, apperr.Internalf(err, "decrypt tenant api key for provider %q", provider)
	}

	baseURL := cfg.BaseURLOverride
	if baseURL == "" {
		baseURL = r.defaults[provider]
	}

	return llmclient.RuntimeConfig{
		Provider:       provider,
		Model:          model,
		BaseURL:        baseURL,
		APIKey:         apiKey,
		TimeoutMs:      cfg.TimeoutMs,
		ExtraJSON:      cfg.ExtraJSON,
		EnableThinking: cfg.EnableThinking,
	}, nil
}

// PrimaryRuntimeConfig resolves cfg's active provider/model.
func (r *Resolver) PrimaryRuntimeConfig(cfg *Config) (llmclient.RuntimeConfig, error) {
	return r.RuntimeConfig(cfg, cfg.Provider, cfg.Model)
}

// HasFallback reports whether cfg declares a usable fallback route, for the
// `llm_route:{provider, model, has_fallback}` metadata recorded at finalize.
func (r *Resolver) HasFallback(cfg *Config) bool {
	if cfg.FallbackProvider == "" || cfg.FallbackModel == "" {
		return false
	}
	_, ok := cfg.ciphers[cfg.FallbackProvider]
	return ok
}

func extractCiphers(full map[string]any) map[string]string {
	out := map[string]string{}
	raw, ok := full[cipherKey]
	if !ok {
		return out
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return out
	}
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
