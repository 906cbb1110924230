// Package config loads process configuration from environment variables,
// following the teacher's getEnv/getEnvInt pattern.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"ontoreason.app/engine/internal/platform/db"
)

// ProviderDefault is a per-LLM-provider base URL default, used when a
// tenant's config names a known provider without supplying its own
// base_url (spec §6: "base URLs are per-provider defaults ... or
// tenant-supplied").
type ProviderDefault struct {
	BaseURL string
	Model   string
}

// OTelConfig configures OTLP trace/log export. Ported unchanged in shape
// from the teacher's common/otel package.
type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

// Enabled reports whether OTel export is configured at all.
func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

// Config holds all process configuration.
type Config struct {
	Env  string
	Port string

	DB   db.Config
	OTel OTelConfig

	NodeID int64

	// SecretKey is the process-wide symmetric key backing internal/secrets.Cipher.
	SecretKey string

	// LLMProviderDefaults maps a provider name ("deepseek", "qwen") to its
	// default base URL/model, used when a tenant hasn't supplied its own.
	LLMProviderDefaults map[string]ProviderDefault

	GraphServiceURL     string
	DataServiceURL      string
	EmbeddingServiceURL string

	// RedisURL backs the trace sink's process-wide observability runtime
	// config cache (spec.md §5 "Shared resources"). Optional: an empty
	// value leaves the sink's external fan-out permanently disabled rather
	// than failing startup, since the fan-out itself is best-effort.
	RedisURL string

	TraceHeaderName  string
	AdminBearerToken string
}

// Load loads configuration from environment variables, with sensible
// development defaults. In development it also loads a local .env file if
// present (godotenv.Load is a no-op when the file is missing).
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:  getEnv("ENGINE_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		DB: db.Config{
			DSN:      buildDSN(),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "ontoreason-engine"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		NodeID:    int64(getEnvInt("NODE_ID", 1)),
		SecretKey: getEnv("ENGINE_SECRET_KEY", ""),
		LLMProviderDefaults: map[string]ProviderDefault{
			"deepseek": {
				BaseURL: getEnv("DEEPSEEK_BASE_URL", "https://api.deepseek.com/v1"),
				Model:   getEnv("DEEPSEEK_DEFAULT_MODEL", "deepseek-reasoner"),
			},
			"qwen": {
				BaseURL: getEnv("QWEN_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1"),
				Model:   getEnv("QWEN_DEFAULT_MODEL", "qwen-max"),
			},
			"anthropic": {
				BaseURL: getEnv("ANTHROPIC_BASE_URL", ""),
				Model:   getEnv("ANTHROPIC_DEFAULT_MODEL", "claude-sonnet-4-5"),
			},
		},
		GraphServiceURL:     getEnv("GRAPH_SERVICE_URL", "http://localhost:9001"),
		DataServiceURL:      getEnv("DATA_SERVICE_URL", "http://localhost:9002"),
		EmbeddingServiceURL: getEnv("EMBEDDING_SERVICE_URL", ""),
		RedisURL:            getEnv("REDIS_URL", ""),
		TraceHeaderName:     getEnv("TRACE_HEADER_NAME", "X-Trace-Id"),
		AdminBearerToken:    getEnv("ADMIN_BEARER_TOKEN", ""),
	}

	if cfg.IsProduction() && len(cfg.SecretKey) < 16 {
		return Config{}, fmt.Errorf("ENGINE_SECRET_KEY must be at least 16 characters in production")
	}
	if cfg.SecretKey == "" {
		cfg.SecretKey = "development-only-insecure-secret-key"
	}

	return cfg, nil
}

func buildDSN() string {
	host := getEnv("DATABASE_HOST", "localhost")
	port := getEnv("DATABASE_PORT", "5432")
	user := getEnv("DATABASE_USER", "postgres")
	password := getEnv("DATABASE_PASSWORD", "postgres")
	name := getEnv("DATABASE_NAME", "ontoreason")
	sslMode := getEnv("DATABASE_SSLMODE", "disable")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, name, sslMode,
	)
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}
