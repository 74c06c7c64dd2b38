// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.docquery/config.yaml or ./config.yaml)
//  3. Default values
//
// Security: sensitive values (API keys, Postgres password) are masked in
// MarshalJSON. Validation is fail-fast with sentinel errors so callers can
// use errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidDocsRoot indicates the documentation root is not usable.
	ErrInvalidDocsRoot = errors.New("invalid docs root")

	// ErrInvalidChunking indicates chunk size/overlap values are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidTopK indicates the retrieval top-K value is out of range.
	ErrInvalidTopK = errors.New("invalid top_k")

	// ErrInvalidRelevanceFloor indicates the relevance floor is out of range.
	ErrInvalidRelevanceFloor = errors.New("invalid relevance floor")

	// ErrInvalidEmbedderDimension indicates the embedder dimension is out of range.
	ErrInvalidEmbedderDimension = errors.New("invalid embedder dimension")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidSessionTTL indicates the session inactivity window is invalid.
	ErrInvalidSessionTTL = errors.New("invalid session TTL")

	// ErrInvalidHistoryLimit indicates max_history_messages is out of range.
	ErrInvalidHistoryLimit = errors.New("invalid history limit")
)

// Defaults mirroring the documented deployment.
const (
	// DefaultEmbedderModel is the Gemini embedding model used at both
	// ingestion and query time. The vector schema dimension must match
	// the model's output dimension; see vecindex.
	DefaultEmbedderModel = "text-embedding-004"

	// DefaultEmbedderDimension is text-embedding-004's output dimension.
	DefaultEmbedderDimension = 768

	// DefaultGenerationModel is the default generation model selector.
	DefaultGenerationModel = "gemini"

	// DefaultChunkSize is the maximum chunk length in characters.
	DefaultChunkSize = 2000

	// DefaultChunkOverlap is the overlap carried between adjacent chunks.
	DefaultChunkOverlap = 200

	// DefaultTopK is the number of chunks retrieved per query.
	DefaultTopK = 5

	// DefaultRelevanceFloor is the similarity below which retrieval is
	// considered ungrounded.
	DefaultRelevanceFloor = 0.35

	// DefaultMaxHistoryMessages bounds the conversation turns included in
	// the prompt. Oldest turns are dropped first.
	DefaultMaxHistoryMessages = 10

	// DefaultSessionTTL is the inactivity window after which a session expires.
	DefaultSessionTTL = 24 * time.Hour
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// Corpus
	DocsRoot string `mapstructure:"docs_root" json:"docs_root"`

	// Chunking
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Retrieval
	TopK           int     `mapstructure:"top_k" json:"top_k"`
	RelevanceFloor float32 `mapstructure:"relevance_floor" json:"relevance_floor"`

	// Models
	EmbedderModel     string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int    `mapstructure:"embedder_dimension" json:"embedder_dimension"`
	GenerationModel   string `mapstructure:"generation_model" json:"generation_model"`

	// Conversation history
	MaxHistoryMessages int           `mapstructure:"max_history_messages" json:"max_history_messages"`
	SessionTTL         time.Duration `mapstructure:"session_ttl" json:"session_ttl"`
	SessionDBPath      string        `mapstructure:"session_db_path" json:"session_db_path"`

	// Vector index storage (PostgreSQL + pgvector)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HTTP server
	Addr        string   `mapstructure:"addr" json:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".docquery")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
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
	v.SetDefault("docs_root", "./docs")
	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("chunk_overlap", DefaultChunkOverlap)

	v.SetDefault("top_k", DefaultTopK)
	v.SetDefault("relevance_floor", DefaultRelevanceFloor)

	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embedder_dimension", DefaultEmbedderDimension)
	v.SetDefault("generation_model", DefaultGenerationModel)

	v.SetDefault("max_history_messages", DefaultMaxHistoryMessages)
	v.SetDefault("session_ttl", DefaultSessionTTL)
	v.SetDefault("session_db_path", "./data/sessions.db")

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "docquery")
	v.SetDefault("postgres_password", "docquery_dev_password")
	v.SetDefault("postgres_db_name", "docquery")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("addr", "localhost:8080")
	v.SetDefault("cors_origins", []string{"http://localhost:8000"})
	v.SetDefault("rate_burst", 60)
	v.SetDefault("trust_proxy", false)
}

// bindEnvVariables binds environment overrides explicitly.
// GEMINI_API_KEY is read directly by the Genkit plugin, not via viper;
// Validate() only checks its presence.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("docs_root", "DOCQUERY_DOCS_ROOT")
	mustBind("generation_model", "DOCQUERY_MODEL")
	mustBind("addr", "DOCQUERY_ADDR")
	mustBind("cors_origins", "DOCQUERY_CORS_ORIGINS")
	mustBind("trust_proxy", "DOCQUERY_TRUST_PROXY")
	mustBind("rate_burst", "DOCQUERY_RATE_BURST")
	mustBind("session_db_path", "DOCQUERY_SESSION_DB")
	mustBind("postgres_host", "DOCQUERY_POSTGRES_HOST")
	mustBind("postgres_port", "DOCQUERY_POSTGRES_PORT")
	mustBind("postgres_user", "DOCQUERY_POSTGRES_USER")
	mustBind("postgres_password", "DOCQUERY_POSTGRES_PASSWORD")
	mustBind("postgres_db_name", "DOCQUERY_POSTGRES_DB")
	mustBind("postgres_ssl_mode", "DOCQUERY_POSTGRES_SSL_MODE")
}

// PostgresURL returns the pgx connection string for the vector index.
func (c *Config) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort,
		c.PostgresDBName, c.PostgresSSLMode)
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 chars or fewer are fully masked to prevent substring leaks;
// longer secrets keep the first and last two characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
