package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration used across the service.
type Config struct {
	HTTP HTTPConfig `yaml:"http"`
	LLM  LLMConfig  `yaml:"llm"`
	Auth AuthConfig `yaml:"auth"`
	RAG  RAGConfig  `yaml:"rag"`
}

// HTTPConfig controls server level behavior.
type HTTPConfig struct {
	Address        string          `yaml:"address"`
	ReadTimeout    time.Duration   `yaml:"readTimeout"`
	WriteTimeout   time.Duration   `yaml:"writeTimeout"`
	AllowedOrigins []string        `yaml:"allowedOrigins"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`
	Retry          RetryConfig     `yaml:"retry"`
}

// RateLimitConfig drives the request limiting middleware.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
	Burst             int  `yaml:"burst"`
}

// RetryConfig configures best-effort retries for idempotent requests.
type RetryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseBackoff time.Duration `yaml:"baseBackoff"`
	Exclude     []string      `yaml:"exclude"`
}

// LLMConfig contains ChatGPT/OpenAI settings.
// TODO : support other LLM providers and for different features, use different LLMs.
type LLMConfig struct {
	APIKey         string  `yaml:"apiKey"`
	BaseURL        string  `yaml:"baseUrl"`
	Model          string  `yaml:"model"`
	EmbeddingModel string  `yaml:"embeddingModel"`
	Temperature    float32 `yaml:"temperature"`
}

// RAGConfig controls the multi-tenant retrieval-augmented Q&A service:
// chunking, retrieval bounds, prompt versioning, retry policy and the
// storage/queue/cache backends behind it (spec.md §6's enumerated keys).
type RAGConfig struct {
	ChunkSize               int    `yaml:"chunkSize"`
	ChunkOverlap            int    `yaml:"chunkOverlap"`
	TextChunkerMode         string `yaml:"textChunkerMode"`
	MaxContextChars         int    `yaml:"maxContextChars"`
	MaxTopK                 int    `yaml:"maxTopK"`
	MaxConversationMessages int    `yaml:"maxConversationMessages"`
	PromptPolicyName        string `yaml:"promptPolicyName"`
	PromptVersion           string `yaml:"promptVersion"`
	PromptDir               string `yaml:"promptDir"`
	DefaultUseMMR           bool   `yaml:"defaultUseMmr"`

	VectorDim            int    `yaml:"vectorDim"`
	MaxUploadBytes        int64  `yaml:"maxUploadBytes"`
	EmbeddingCacheBackend string `yaml:"embeddingCacheBackend"`
	EmbeddingCacheTTL     time.Duration `yaml:"embeddingCacheTtl"`

	FakeLLM        bool `yaml:"fakeLlm"`
	FakeEmbeddings bool `yaml:"fakeEmbeddings"`

	Retry    RAGRetryConfig `yaml:"retry"`
	Storage  ObjectStorageConfig `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Worker   RAGWorkerConfig `yaml:"worker"`
}

// RAGRetryConfig configures the Retry/Resilience Helper's backoff schedule
// (retry_max_attempts, retry_base_delay_seconds, retry_max_delay_seconds).
type RAGRetryConfig struct {
	MaxAttempts      int `yaml:"maxAttempts"`
	BaseDelaySeconds int `yaml:"baseDelaySeconds"`
	MaxDelaySeconds  int `yaml:"maxDelaySeconds"`
}

// ObjectStorageConfig configures the document object store.
type ObjectStorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
}

// RAGWorkerConfig toggles the background document-processing worker.
type RAGWorkerConfig struct {
	Enabled bool `yaml:"enabled"`
}

// AuthConfig controls authentication settings.
type AuthConfig struct {
	JWTSecret       string         `yaml:"jwtSecret"`
	AccessTokenTTL  time.Duration  `yaml:"accessTokenTtl"`
	RefreshTokenTTL time.Duration  `yaml:"refreshTokenTtl"`
	AdminEmails     []string       `yaml:"adminEmails"`
	Postgres        PostgresConfig `yaml:"postgres"`
	Google          GoogleOAuthConfig `yaml:"google"`
}

// GoogleOAuthConfig carries the Google sign-in client settings.
type GoogleOAuthConfig struct {
	ClientID             string `yaml:"clientId"`
	ClientSecret         string `yaml:"clientSecret"`
	RedirectURL          string `yaml:"redirectUrl"`
	TokenEncryptionKey   string `yaml:"tokenEncryptionKey"`
	PostLoginRedirectURL string `yaml:"postLoginRedirectUrl"`
}

// RedisConfig contains connection information for cache storage.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// PostgresConfig contains DSN and pooling settings.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
	MinConns int32  `yaml:"minConns"`
}

// Load reads configuration from a YAML file and environment variables.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := hydrateFromFile(cfg, "configs/config.yaml"); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HTTP_ADDRESS"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("HTTP_READ_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.ReadTimeout = parsed
		}
	}
	if v := os.Getenv("HTTP_WRITE_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.WriteTimeout = parsed
		}
	}
	if v := os.Getenv("HTTP_ALLOWED_ORIGINS"); v != "" {
		cfg.HTTP.AllowedOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_EMBEDDING_MODEL"); v != "" {
		cfg.LLM.EmbeddingModel = v
	}
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.LLM.Temperature = float32(parsed)
		}
	}
	if v := os.Getenv("RAG_CHUNK_SIZE"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.RAG.ChunkSize = parsed
		}
	}
	if v := os.Getenv("RAG_CHUNK_OVERLAP"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.RAG.ChunkOverlap = parsed
		}
	}
	if v := os.Getenv("RAG_TEXT_CHUNKER_MODE"); v != "" {
		cfg.RAG.TextChunkerMode = v
	}
	if v := os.Getenv("RAG_MAX_CONTEXT_CHARS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.RAG.MaxContextChars = parsed
		}
	}
	if v := os.Getenv("RAG_MAX_TOP_K"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.RAG.MaxTopK = parsed
		}
	}
	if v := os.Getenv("RAG_MAX_CONVERSATION_MESSAGES"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.RAG.MaxConversationMessages = parsed
		}
	}
	if v := os.Getenv("RAG_PROMPT_POLICY_NAME"); v != "" {
		cfg.RAG.PromptPolicyName = v
	}
	if v := os.Getenv("RAG_PROMPT_VERSION"); v != "" {
		cfg.RAG.PromptVersion = v
	}
	if v := os.Getenv("RAG_PROMPT_DIR"); v != "" {
		cfg.RAG.PromptDir = v
	}
	if v := os.Getenv("RAG_DEFAULT_USE_MMR"); v != "" {
		cfg.RAG.DefaultUseMMR = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("RAG_VECTOR_DIM"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.RAG.VectorDim = parsed
		}
	}
	if v := os.Getenv("RAG_MAX_UPLOAD_BYTES"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.RAG.MaxUploadBytes = parsed
		}
	}
	if v := os.Getenv("RAG_EMBEDDING_CACHE_BACKEND"); v != "" {
		cfg.RAG.EmbeddingCacheBackend = v
	}
	if v := os.Getenv("RAG_EMBEDDING_CACHE_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.RAG.EmbeddingCacheTTL = parsed
		}
	}
	if v := os.Getenv("RAG_FAKE_LLM"); v != "" {
		cfg.RAG.FakeLLM = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("RAG_FAKE_EMBEDDINGS"); v != "" {
		cfg.RAG.FakeEmbeddings = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("RAG_RETRY_MAX_ATTEMPTS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.RAG.Retry.MaxAttempts = parsed
		}
	}
	if v := os.Getenv("RAG_RETRY_BASE_DELAY_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.RAG.Retry.BaseDelaySeconds = parsed
		}
	}
	if v := os.Getenv("RAG_RETRY_MAX_DELAY_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.RAG.Retry.MaxDelaySeconds = parsed
		}
	}
	if v := os.Getenv("RAG_STORAGE_ENDPOINT"); v != "" {
		cfg.RAG.Storage.Endpoint = v
	}
	if v := os.Getenv("RAG_STORAGE_ACCESS_KEY"); v != "" {
		cfg.RAG.Storage.AccessKey = v
	}
	if v := os.Getenv("RAG_STORAGE_SECRET_KEY"); v != "" {
		cfg.RAG.Storage.SecretKey = v
	}
	if v := os.Getenv("RAG_STORAGE_BUCKET"); v != "" {
		cfg.RAG.Storage.Bucket = v
	}
	if v := os.Getenv("RAG_STORAGE_REGION"); v != "" {
		cfg.RAG.Storage.Region = v
	}
	if v := os.Getenv("RAG_POSTGRES_DSN"); v != "" {
		cfg.RAG.Postgres.DSN = v
	}
	if v := os.Getenv("RAG_POSTGRES_MAX_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.RAG.Postgres.MaxConns = int32(parsed)
		}
	}
	if v := os.Getenv("RAG_POSTGRES_MIN_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.RAG.Postgres.MinConns = int32(parsed)
		}
	}
	if v := os.Getenv("RAG_WORKER_ENABLED"); v != "" {
		cfg.RAG.Worker.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("RAG_REDIS_ENABLED"); v != "" {
		cfg.RAG.Redis.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("RAG_REDIS_ADDR"); v != "" {
		cfg.RAG.Redis.Addr = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("AUTH_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("AUTH_ACCESS_TOKEN_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Auth.AccessTokenTTL = parsed
		}
	}
	if v := os.Getenv("AUTH_REFRESH_TOKEN_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Auth.RefreshTokenTTL = parsed
		}
	}
	if v := os.Getenv("AUTH_POSTGRES_DSN"); v != "" {
		cfg.Auth.Postgres.DSN = v
	}
	if v := os.Getenv("AUTH_POSTGRES_MAX_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Auth.Postgres.MaxConns = int32(parsed)
		}
	}
	if v := os.Getenv("AUTH_POSTGRES_MIN_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Auth.Postgres.MinConns = int32(parsed)
		}
	}
	if v := os.Getenv("AUTH_ADMIN_EMAILS"); v != "" {
		cfg.Auth.AdminEmails = splitAndTrim(v)
	}
	if v := os.Getenv("AUTH_GOOGLE_CLIENT_ID"); v != "" {
		cfg.Auth.Google.ClientID = v
	}
	if v := os.Getenv("AUTH_GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Auth.Google.ClientSecret = v
	}
	if v := os.Getenv("AUTH_GOOGLE_REDIRECT_URL"); v != "" {
		cfg.Auth.Google.RedirectURL = v
	}
	if v := os.Getenv("AUTH_GOOGLE_TOKEN_ENCRYPTION_KEY"); v != "" {
		cfg.Auth.Google.TokenEncryptionKey = v
	}
	if v := os.Getenv("AUTH_GOOGLE_POST_LOGIN_REDIRECT_URL"); v != "" {
		cfg.Auth.Google.PostLoginRedirectURL = v
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_ENABLED"); v != "" {
		cfg.HTTP.RateLimit.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_RPM"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.RequestsPerMinute = parsed
		}
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.Burst = parsed
		}
	}
	if v := os.Getenv("HTTP_RETRY_ENABLED"); v != "" {
		cfg.HTTP.Retry.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("HTTP_RETRY_MAX_ATTEMPTS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Retry.MaxAttempts = parsed
		}
	}
	if v := os.Getenv("HTTP_RETRY_BASE_BACKOFF"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.Retry.BaseBackoff = parsed
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address: ":8080",
			AllowedOrigins: []string{
				"*",
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				Burst:             20,
			},
			Retry: RetryConfig{
				Enabled:     true,
				MaxAttempts: 3,
				BaseBackoff: 150 * time.Millisecond,
				Exclude: []string{
					"/api/v1/workspaces/*/ask/stream",
					"/api/v1/auth/login",
					"/api/v1/auth/register",
					"/api/v1/auth/refresh",
					"/api/v1/workspaces",
				},
			},
		},
		LLM: LLMConfig{
			Model:          "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			Temperature:    0.2,
		},
		Auth: AuthConfig{
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 24 * time.Hour,
			AdminEmails:     []string{},
			Postgres: PostgresConfig{
				DSN:      "",
				MaxConns: 5,
				MinConns: 1,
			},
			Google: GoogleOAuthConfig{},
		},
		RAG: RAGConfig{
			ChunkSize:               1200,
			ChunkOverlap:            200,
			TextChunkerMode:         "simple",
			MaxContextChars:         12000,
			MaxTopK:                 20,
			MaxConversationMessages: 12,
			PromptPolicyName:        "default",
			PromptVersion:           "v1",
			DefaultUseMMR:           true,
			VectorDim:               1536,
			MaxUploadBytes:          20 * 1024 * 1024,
			EmbeddingCacheBackend:   "memory",
			EmbeddingCacheTTL:       24 * time.Hour,
			Retry: RAGRetryConfig{
				MaxAttempts:      3,
				BaseDelaySeconds: 1,
				MaxDelaySeconds:  30,
			},
			Storage: ObjectStorageConfig{},
			Redis: RedisConfig{
				Enabled: false,
				Addr:    "",
			},
			Postgres: PostgresConfig{
				DSN:      "",
				MaxConns: 5,
				MinConns: 1,
			},
			Worker: RAGWorkerConfig{
				Enabled: true,
			},
		},
	}
}

// Validate ensures the configuration is safe to use.
func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		return errors.New("http.address cannot be empty")
	}
	if strings.TrimSpace(c.LLM.EmbeddingModel) == "" {
		return errors.New("llm.embeddingModel cannot be empty")
	}
	if c.HTTP.RateLimit.Enabled {
		if c.HTTP.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("http.rateLimit.requestsPerMinute must be positive")
		}
		if c.HTTP.RateLimit.Burst <= 0 {
			return errors.New("http.rateLimit.burst must be positive")
		}
	}
	if c.HTTP.Retry.Enabled {
		if c.HTTP.Retry.MaxAttempts <= 0 {
			return errors.New("http.retry.maxAttempts must be positive")
		}
		if c.HTTP.Retry.BaseBackoff <= 0 {
			return errors.New("http.retry.baseBackoff must be positive")
		}
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret cannot be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return errors.New("auth.accessTokenTtl must be positive")
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		return errors.New("auth.refreshTokenTtl must be positive")
	}
	if c.RAG.ChunkSize <= 0 {
		return errors.New("rag.chunkSize must be positive")
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return errors.New("rag.chunkOverlap must be non-negative and smaller than rag.chunkSize")
	}
	if c.RAG.TextChunkerMode != "simple" && c.RAG.TextChunkerMode != "structured" {
		return errors.New("rag.textChunkerMode must be 'simple' or 'structured'")
	}
	if c.RAG.MaxContextChars <= 0 {
		return errors.New("rag.maxContextChars must be positive")
	}
	if c.RAG.MaxTopK <= 0 {
		return errors.New("rag.maxTopK must be positive")
	}
	if c.RAG.MaxConversationMessages <= 0 {
		return errors.New("rag.maxConversationMessages must be positive")
	}
	if c.RAG.PromptPolicyName == "" {
		return errors.New("rag.promptPolicyName cannot be empty")
	}
	if c.RAG.VectorDim <= 0 {
		return errors.New("rag.vectorDim must be positive")
	}
	if c.RAG.MaxUploadBytes <= 0 {
		return errors.New("rag.maxUploadBytes must be positive")
	}
	if c.RAG.EmbeddingCacheBackend != "memory" && c.RAG.EmbeddingCacheBackend != "redis" {
		return errors.New("rag.embeddingCacheBackend must be 'memory' or 'redis'")
	}
	if c.RAG.Retry.MaxAttempts <= 0 {
		return errors.New("rag.retry.maxAttempts must be positive")
	}
	if c.RAG.Retry.BaseDelaySeconds <= 0 {
		return errors.New("rag.retry.baseDelaySeconds must be positive")
	}
	if c.RAG.Retry.MaxDelaySeconds <= 0 {
		return errors.New("rag.retry.maxDelaySeconds must be positive")
	}
	if c.RAG.Redis.Enabled && strings.TrimSpace(c.RAG.Redis.Addr) == "" {
		return errors.New("rag.redis.addr cannot be empty when rag.redis is enabled")
	}
	if c.RAG.EmbeddingCacheBackend == "redis" && !c.RAG.Redis.Enabled {
		return errors.New("rag.embeddingCacheBackend=redis requires rag.redis to be enabled")
	}
	return nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var result []string
	for _, part := range parts {
		val := strings.TrimSpace(part)
		if val != "" {
			result = append(result, val)
		}
	}
	return result
}
