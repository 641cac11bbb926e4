// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override, secrets)
//  2. Config file (./config.yaml or /etc/care-companion/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Server: HTTP listen address and per-step timeouts
//   - Postgres: vector index backing store connection
//   - ObjectStore: S3-compatible bucket holding conversation history
//   - Embedder: OpenAI-compatible embedding endpoint and model
//   - Generator: chat-completion endpoint, model, sampling parameters
//   - Retrieval: namespace, top-k, score threshold, rerank toggle
//
// Security: secrets (API keys, store credentials, DB password) are never
// logged and are masked in MarshalJSON.
// Validation: comprehensive range checks with sentinel errors, fail-fast.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidListenAddr indicates the HTTP listen address is invalid.
	ErrInvalidListenAddr = errors.New("invalid listen address")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidBucket indicates the object store bucket name is invalid.
	ErrInvalidBucket = errors.New("invalid object store bucket")

	// ErrMissingStoreCredentials indicates object store credentials are not set.
	ErrMissingStoreCredentials = errors.New("missing object store credentials")

	// ErrInvalidDimension indicates the embedding dimension is invalid.
	ErrInvalidDimension = errors.New("invalid embedding dimension")

	// ErrInvalidTopK indicates the retrieval top-k is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidThreshold indicates the score threshold is out of [0,1].
	ErrInvalidThreshold = errors.New("invalid score threshold")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidHistoryBudget indicates the history truncation budget is invalid.
	ErrInvalidHistoryBudget = errors.New("invalid history budget")

	// ErrInvalidReadyTimeout indicates the index readiness timeout is invalid.
	ErrInvalidReadyTimeout = errors.New("invalid readiness timeout")
)

const (
	// DefaultNamespace is the vector index namespace holding the
	// health-care knowledge base.
	DefaultNamespace = "health-care-dataset"

	// DefaultEmbedderModel is the sentence-embedding model served by the
	// OpenAI-compatible embedding endpoint. It outputs 384 dimensions,
	// which must match the knowledge_entries vector column.
	DefaultEmbedderModel = "all-MiniLM-L6-v2"

	// DefaultGeneratorModel is the Groq-hosted chat model.
	DefaultGeneratorModel = "llama-3.3-70b-versatile"

	// DefaultScoreThreshold is the minimum retrieval similarity for a
	// knowledge entry to be used as context.
	DefaultScoreThreshold = 0.47

	// DefaultTopK is the number of candidates fetched per query.
	DefaultTopK = 3

	// DefaultHistoryBudget is the history truncation budget in runes.
	DefaultHistoryBudget = 6000
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update
// MarshalJSON.
type Config struct {
	// HTTP server
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`

	// PostgreSQL (vector index backing store)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Object store (conversation history)
	StoreEndpoint  string `mapstructure:"store_endpoint" json:"store_endpoint"`
	StoreAccessKey string `mapstructure:"store_access_key" json:"store_access_key"` // SENSITIVE: masked in MarshalJSON
	StoreSecretKey string `mapstructure:"store_secret_key" json:"store_secret_key"` // SENSITIVE: masked in MarshalJSON
	StoreBucket    string `mapstructure:"store_bucket" json:"store_bucket"`
	StoreUseSSL    bool   `mapstructure:"store_use_ssl" json:"store_use_ssl"`

	// Embedding endpoint (OpenAI-compatible, e.g. text-embeddings-inference)
	EmbedderBaseURL string `mapstructure:"embedder_base_url" json:"embedder_base_url"`
	EmbedderAPIKey  string `mapstructure:"embedder_api_key" json:"embedder_api_key"` // SENSITIVE: masked in MarshalJSON
	EmbedderModel   string `mapstructure:"embedder_model" json:"embedder_model"`
	Dimension       int    `mapstructure:"dimension" json:"dimension"`

	// Generator (Groq, OpenAI-compatible)
	GeneratorBaseURL string  `mapstructure:"generator_base_url" json:"generator_base_url"`
	GroqAPIKey       string  `mapstructure:"groq_api_key" json:"groq_api_key"` // SENSITIVE: masked in MarshalJSON
	GeneratorModel   string  `mapstructure:"generator_model" json:"generator_model"`
	MaxTokens        int     `mapstructure:"max_tokens" json:"max_tokens"`
	Temperature      float32 `mapstructure:"temperature" json:"temperature"`

	// Retrieval
	Namespace      string  `mapstructure:"namespace" json:"namespace"`
	TopK           int     `mapstructure:"top_k" json:"top_k"`
	ScoreThreshold float64 `mapstructure:"score_threshold" json:"score_threshold"`
	RerankEnabled  bool    `mapstructure:"rerank_enabled" json:"rerank_enabled"`
	RerankURL      string  `mapstructure:"rerank_url" json:"rerank_url"`

	// Conversation history
	HistoryBudget int    `mapstructure:"history_budget" json:"history_budget"`
	Language      string `mapstructure:"language" json:"language"`

	// Index readiness (seconds); the poll interval itself is fixed at 1s.
	ReadyTimeoutSeconds int `mapstructure:"ready_timeout_seconds" json:"ready_timeout_seconds"`

	// Per-call timeout for embedding/generation/store I/O (seconds).
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds" json:"request_timeout_seconds"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/care-companion")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults plus env apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{".", "/etc/care-companion"})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", "127.0.0.1:8000")

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "care")
	v.SetDefault("postgres_password", "care_dev_password")
	v.SetDefault("postgres_db_name", "care_companion")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("store_endpoint", "localhost:9000")
	v.SetDefault("store_bucket", "care-companion-history")
	v.SetDefault("store_use_ssl", false)

	v.SetDefault("embedder_base_url", "http://localhost:8080/v1")
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("dimension", 384)

	v.SetDefault("generator_base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("generator_model", DefaultGeneratorModel)
	v.SetDefault("max_tokens", 1024)
	v.SetDefault("temperature", 0.7)

	v.SetDefault("namespace", DefaultNamespace)
	v.SetDefault("top_k", DefaultTopK)
	v.SetDefault("score_threshold", DefaultScoreThreshold)
	v.SetDefault("rerank_enabled", false)
	v.SetDefault("rerank_url", "http://localhost:8081/rerank")

	v.SetDefault("history_budget", DefaultHistoryBudget)
	v.SetDefault("language", "en")

	v.SetDefault("ready_timeout_seconds", 120)
	v.SetDefault("request_timeout_seconds", 30)
}

// bindEnvVariables binds sensitive environment variables explicitly.
// Secrets are only ever provided through the environment, never the file.
func bindEnvVariables(v *viper.Viper) {
	_ = v.BindEnv("groq_api_key", "GROQ_API_KEY")
	_ = v.BindEnv("embedder_api_key", "EMBEDDER_API_KEY")
	_ = v.BindEnv("store_access_key", "STORE_ACCESS_KEY")
	_ = v.BindEnv("store_secret_key", "STORE_SECRET_KEY")
	_ = v.BindEnv("postgres_password", "POSTGRES_PASSWORD")
	_ = v.BindEnv("postgres_host", "POSTGRES_HOST")
	_ = v.BindEnv("store_endpoint", "STORE_ENDPOINT")
	_ = v.BindEnv("listen_addr", "LISTEN_ADDR")
}

// Validate checks value ranges. It does not require secrets; serve mode
// additionally calls ValidateServe before touching external services.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}
	if c.ListenAddr == "" {
		return ErrInvalidListenAddr
	}
	if c.PostgresHost == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return ErrInvalidPostgresDBName
	}
	if c.StoreBucket == "" {
		return ErrInvalidBucket
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDimension, c.Dimension)
	}
	if c.TopK < 1 || c.TopK > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidTopK, c.TopK)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, c.ScoreThreshold)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxTokens < 1 || c.MaxTokens > 32768 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxTokens, c.MaxTokens)
	}
	if c.HistoryBudget < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidHistoryBudget, c.HistoryBudget)
	}
	if c.ReadyTimeoutSeconds < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidReadyTimeout, c.ReadyTimeoutSeconds)
	}
	return nil
}

// ValidateServe checks requirements that only apply when running the HTTP
// service against real backends.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.GroqAPIKey == "" {
		return fmt.Errorf("%w: GROQ_API_KEY", ErrMissingAPIKey)
	}
	if c.StoreAccessKey == "" || c.StoreSecretKey == "" {
		return ErrMissingStoreCredentials
	}
	return nil
}

// PostgresURL returns the connection string in URL form, suitable for both
// pgxpool and golang-migrate.
func (c *Config) PostgresURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   c.PostgresDBName,
	}
	q := url.Values{}
	q.Set("sslmode", c.PostgresSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// ReadyTimeout returns the index readiness timeout as a duration.
func (c *Config) ReadyTimeout() time.Duration {
	return time.Duration(c.ReadyTimeoutSeconds) * time.Second
}

// RequestTimeout returns the per-call I/O timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// MarshalJSON masks sensitive fields so a Config can be logged safely.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(*c)
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = "***"
	}
	if masked.GroqAPIKey != "" {
		masked.GroqAPIKey = "***"
	}
	if masked.EmbedderAPIKey != "" {
		masked.EmbedderAPIKey = "***"
	}
	if masked.StoreAccessKey != "" {
		masked.StoreAccessKey = "***"
	}
	if masked.StoreSecretKey != "" {
		masked.StoreSecretKey = "***"
	}
	return json.Marshal(masked)
}
