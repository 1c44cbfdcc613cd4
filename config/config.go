package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Blob     BlobConfig     `json:"blob"`
	AI       AIConfig       `json:"ai"`
	Pipeline PipelineConfig `json:"pipeline"`
	Search   SearchConfig   `json:"search"`
	Session  SessionConfig  `json:"session"`
	Auth     AuthConfig     `json:"auth"`
	Logging  LoggingConfig  `json:"logging"`
}

type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
	IdleTimeout  int    `json:"idle_timeout"`
	// RequestTimeout bounds a single HTTP request end to end, in seconds.
	RequestTimeout int `json:"request_timeout"`
}

type DatabaseConfig struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	User             string `json:"user"`
	Password         string `json:"password"`
	Name             string `json:"name"`
	SSLMode          string `json:"ssl_mode"`
	MaxOpenConns     int    `json:"max_open_conns"`
	MaxIdleConns     int    `json:"max_idle_conns"`
	MaxLifetime      int    `json:"max_lifetime"`
	StatementTimeout int    `json:"statement_timeout"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// BlobConfig holds configuration for the S3-compatible object store.
// Endpoint is optional; when set, path-style addressing is used (MinIO).
type BlobConfig struct {
	Endpoint  string `json:"endpoint"`
	Region    string `json:"region"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	// UsePathStyle forces path-style addressing; required for MinIO.
	UsePathStyle bool `json:"use_path_style"`
	// PresignTTL is the lifetime of presigned download URLs in seconds.
	PresignTTL int `json:"presign_ttl"`
}

// AIConfig holds the provider chain and reliability knobs for the AI gateway.
type AIConfig struct {
	// Providers is the ordered fallback chain, e.g. ["anthropic","openai","gemini"].
	Providers []string `json:"providers"`

	AnthropicAPIKey string `json:"anthropic_api_key"`
	AnthropicModel  string `json:"anthropic_model"`
	OpenAIAPIKey    string `json:"openai_api_key"`
	OpenAIBaseURL   string `json:"openai_base_url"`
	OpenAIModel     string `json:"openai_model"`
	OpenAIEmbedModel string `json:"openai_embed_model"`
	GeminiAPIKey    string `json:"gemini_api_key"`
	GeminiModel     string `json:"gemini_model"`
	GeminiEmbedModel string `json:"gemini_embed_model"`

	VectorDim int `json:"vector_dim"`

	RequestTimeout   int     `json:"request_timeout"`
	RetryMaxAttempts int     `json:"retry_max_attempts"`
	RetryBaseSeconds float64 `json:"retry_base_seconds"`
	RetryCapSeconds  float64 `json:"retry_cap_seconds"`
	BreakerFailures  int     `json:"breaker_failures"`
	BreakerCooldown  int     `json:"breaker_cooldown"`

	// OCRThreshold is the minimum average characters per page a native PDF
	// extraction must yield before an OCR pass is skipped.
	OCRThreshold int `json:"ocr_threshold"`
}

type PipelineConfig struct {
	WorkerConcurrency    int  `json:"worker_concurrency"`
	UploadBatchStaggerS  int  `json:"upload_batch_stagger_s"`
	JobVisibilityTimeout int  `json:"job_visibility_timeout_s"`
	JobMaxAttempts       int  `json:"job_max_attempts"`
	RetryBaseSeconds     int  `json:"retry_base_s"`
	RetryCapSeconds      int  `json:"retry_cap_s"`
	QueueHighWatermark   int  `json:"queue_high_watermark"`
	StuckThresholdS      int  `json:"stuck_threshold_s"`
	SchedulerIntervalS   int  `json:"scheduler_interval_s"`
	ShutdownGraceS       int  `json:"shutdown_grace_s"`
	RequireEmbedding     bool `json:"require_embedding"`
	MaxFileSizeBytes     int64 `json:"max_file_size_bytes"`
}

type SearchConfig struct {
	UseEnhancedRelevance bool `json:"use_enhanced_relevance"`
	CacheTTLSeconds      int  `json:"search_cache_ttl_s"`
	FacetCacheTTLSeconds int  `json:"facet_cache_ttl_s"`
	CandidateK           int  `json:"candidate_k"`
	DefaultPerPage       int  `json:"default_per_page"`
	MaxPerPage           int  `json:"max_per_page"`
}

type SessionConfig struct {
	Secret       string `json:"secret"`
	TTLSeconds   int    `json:"session_ttl_s"`
	CookieSecure bool   `json:"session_cookie_secure"`
	// TouchInterval suppresses session rewrites more frequent than this, in seconds.
	TouchInterval int `json:"touch_interval_s"`
}

type AuthConfig struct {
	RequireAuth bool   `json:"require_auth"`
	AppPassword string `json:"app_password"`
	// AllowUnauthenticatedOnSessionFailure disables auth checks when the
	// session backend is completely unavailable. Insecure; off by default.
	AllowUnauthenticatedOnSessionFailure bool     `json:"allow_unauthenticated_on_session_failure"`
	AllowedOrigins                       []string `json:"allowed_origins"`
	LoginRatePerMinute                   int      `json:"login_rate_per_minute"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

func LoadConfig() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:    getEnvAsInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:   getEnvAsInt("SERVER_WRITE_TIMEOUT", 60),
			IdleTimeout:    getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
			RequestTimeout: getEnvAsInt("SERVER_REQUEST_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Host:             getEnv("DB_HOST", "localhost"),
			Port:             getEnvAsInt("DB_PORT", 5432),
			User:             getEnv("DB_USER", "catalog"),
			Password:         getEnv("DB_PASSWORD", ""),
			Name:             getEnv("DB_NAME", "doc_catalog"),
			SSLMode:          getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:      getEnvAsInt("DB_MAX_LIFETIME", 3600),
			StatementTimeout: getEnvAsInt("DB_STATEMENT_TIMEOUT", 30),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Blob: BlobConfig{
			Endpoint:   getEnv("BLOB_ENDPOINT", ""),
			Region:     getEnv("BLOB_REGION", "us-east-1"),
			Bucket:     getEnv("BLOB_BUCKET", "documents"),
			AccessKey:    getEnv("BLOB_ACCESS_KEY", ""),
			SecretKey:    getEnv("BLOB_SECRET_KEY", ""),
			UsePathStyle: getEnvAsBool("BLOB_USE_PATH_STYLE", true),
			PresignTTL:   getEnvAsInt("BLOB_PRESIGN_TTL", 300),
		},
		AI: AIConfig{
			Providers:        getEnvAsSlice("AI_PROVIDERS", []string{"anthropic", "openai", "gemini"}),
			AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicModel:   getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
			OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com"),
			OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIEmbedModel: getEnv("OPENAI_EMBED_MODEL", "text-embedding-3-small"),
			GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
			GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			GeminiEmbedModel: getEnv("GEMINI_EMBED_MODEL", "text-embedding-004"),
			VectorDim:        getEnvAsInt("VECTOR_DIM", 1536),
			RequestTimeout:   getEnvAsInt("AI_REQUEST_TIMEOUT", 120),
			RetryMaxAttempts: getEnvAsInt("AI_RETRY_MAX_ATTEMPTS", 3),
			RetryBaseSeconds: getEnvAsFloat("AI_RETRY_BASE_S", 1.0),
			RetryCapSeconds:  getEnvAsFloat("AI_RETRY_CAP_S", 15.0),
			BreakerFailures:  getEnvAsInt("AI_BREAKER_FAILURES", 5),
			BreakerCooldown:  getEnvAsInt("AI_BREAKER_COOLDOWN", 60),
			OCRThreshold:     getEnvAsInt("AI_OCR_THRESHOLD", 50),
		},
		Pipeline: PipelineConfig{
			WorkerConcurrency:    getEnvAsInt("WORKER_CONCURRENCY", 4),
			UploadBatchStaggerS:  getEnvAsInt("UPLOAD_BATCH_STAGGER_S", 30),
			JobVisibilityTimeout: getEnvAsInt("JOB_VISIBILITY_TIMEOUT_S", 300),
			JobMaxAttempts:       getEnvAsInt("JOB_MAX_ATTEMPTS", 5),
			RetryBaseSeconds:     getEnvAsInt("RETRY_BASE_S", 5),
			RetryCapSeconds:      getEnvAsInt("RETRY_CAP_S", 300),
			QueueHighWatermark:   getEnvAsInt("QUEUE_HIGH_WATERMARK", 1000),
			StuckThresholdS:      getEnvAsInt("STUCK_THRESHOLD_S", 600),
			SchedulerIntervalS:   getEnvAsInt("SCHEDULER_INTERVAL_S", 120),
			ShutdownGraceS:       getEnvAsInt("SHUTDOWN_GRACE_S", 30),
			RequireEmbedding:     getEnvAsBool("REQUIRE_EMBEDDING", true),
			MaxFileSizeBytes:     int64(getEnvAsInt("MAX_FILE_SIZE_BYTES", 104857600)),
		},
		Search: SearchConfig{
			UseEnhancedRelevance: getEnvAsBool("USE_ENHANCED_RELEVANCE", true),
			CacheTTLSeconds:      getEnvAsInt("SEARCH_CACHE_TTL_S", 1800),
			FacetCacheTTLSeconds: getEnvAsInt("FACET_CACHE_TTL_S", 86400),
			CandidateK:           getEnvAsInt("SEARCH_CANDIDATE_K", 100),
			DefaultPerPage:       getEnvAsInt("SEARCH_DEFAULT_PER_PAGE", 12),
			MaxPerPage:           getEnvAsInt("SEARCH_MAX_PER_PAGE", 50),
		},
		Session: SessionConfig{
			Secret:        getEnv("SESSION_SECRET", ""),
			TTLSeconds:    getEnvAsInt("SESSION_TTL_S", 86400),
			CookieSecure:  getEnvAsBool("SESSION_COOKIE_SECURE", true),
			TouchInterval: getEnvAsInt("SESSION_TOUCH_INTERVAL_S", 60),
		},
		Auth: AuthConfig{
			RequireAuth:                          getEnvAsBool("REQUIRE_AUTH", true),
			AppPassword:                          getEnv("APP_PASSWORD", ""),
			AllowUnauthenticatedOnSessionFailure: getEnvAsBool("ALLOW_UNAUTHENTICATED_ON_SESSION_FAILURE", false),
			AllowedOrigins:                       getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			LoginRatePerMinute:                   getEnvAsInt("LOGIN_RATE_PER_MINUTE", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) GetDatabaseDSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
	if c.Database.StatementTimeout > 0 {
		dsn += fmt.Sprintf(" statement_timeout=%d", c.Database.StatementTimeout*1000)
	}
	return dsn
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) GetRedisAddress() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func validateConfig(config *Config) error {
	if config.Database.Password == "" {
		return fmt.Errorf("database password is required (DB_PASSWORD)")
	}

	if config.Session.Secret == "" {
		return fmt.Errorf("session secret is required (SESSION_SECRET)")
	}

	if config.Auth.RequireAuth && config.Auth.AppPassword == "" {
		return fmt.Errorf("app password is required when auth is enabled (APP_PASSWORD)")
	}

	if config.AI.VectorDim <= 0 {
		return fmt.Errorf("vector dimension must be positive (VECTOR_DIM)")
	}

	if len(config.AI.Providers) == 0 {
		return fmt.Errorf("at least one AI provider is required (AI_PROVIDERS)")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
