// Package config loads agencyhub configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment constants
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Auth      AuthConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Analysis  AnalysisConfig
	LLM       LLMConfig
	Archive   ArchiveConfig
	Schedule  ScheduleConfig
	Demo      DemoConfig
	Audit     AuditConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name  string
	Env   string
	Debug bool
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	MaxBodySize     int64
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TLSEnabled   bool
	MaxRetries   int
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level             string
	Format            string
	SamplingEnabled   bool
	SamplingThreshold int
	SamplingRate      float64
	ErrorSamplingRate float64
	SkipHealthLogs    bool
}

// AuthConfig holds token settings. Tokens are HS256 JWTs carrying the
// principal's user id, agency id and the unrestricted flag.
type AuthConfig struct {
	JWTSecret           string
	JWTIssuer           string
	AccessTokenDuration time.Duration
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string
	MaxAge         int
}

// RateLimitConfig holds the per-client request limiter and the per-agency
// analysis submission quota.
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int

	SubmissionLimit  int
	SubmissionWindow time.Duration
}

// AnalysisConfig controls the analysis job pipeline.
type AnalysisConfig struct {
	EnqueueDelay time.Duration
	MaxAttempts  int
	Backoff      time.Duration
	Timeout      time.Duration

	Concurrency    int
	StrictPriority bool
	QueueWeights   map[string]int

	RecoveryEnabled   bool
	RecoveryInterval  time.Duration
	RecoveryGrace     time.Duration
	RecoveryBatchSize int
}

// LLMConfig selects the provider used for analysis narratives.
type LLMConfig struct {
	Provider    string // "openai" or "" to disable
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// IsConfigured reports whether a narrative provider is available.
func (c *LLMConfig) IsConfigured() bool {
	return c.Provider != "" && c.APIKey != ""
}

// ArchiveConfig selects where completed results are archived.
type ArchiveConfig struct {
	Backend   string // "s3", "minio" or "none"
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Prefix    string

	// RoleARN switches the s3 backend to assumed-role credentials.
	RoleARN    string
	ExternalID string
}

// ScheduleConfig maps analysis kinds to cron specs for recurring runs.
type ScheduleConfig struct {
	Enabled bool
	Specs   map[string]string
}

// DemoConfig enables the unauthenticated demo dashboard for one agency.
type DemoConfig struct {
	Enabled  bool
	AgencyID string
}

// AuditConfig controls audit log retention.
type AuditConfig struct {
	RetentionDays     int
	RetentionInterval time.Duration
}

// Load loads configuration from the environment. Values from a .env file in
// the working directory are applied first without overriding real variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:  getEnv("APP_NAME", "agencyhub"),
			Env:   getEnv("APP_ENV", EnvDevelopment),
			Debug: getEnvBool("APP_DEBUG", false),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 35*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			RequestTimeout:  getEnvDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			MaxBodySize:     getEnvInt64("SERVER_MAX_BODY_SIZE", 1<<20),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "agencyhub"),
			Password:        getEnv("DB_PASSWORD", "secret"),
			Name:            getEnv("DB_NAME", "agencyhub"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			TLSEnabled:   getEnvBool("REDIS_TLS_ENABLED", false),
			MaxRetries:   getEnvInt("REDIS_MAX_RETRIES", 3),
		},
		Log: LogConfig{
			Level:             getEnv("LOG_LEVEL", "info"),
			Format:            getEnv("LOG_FORMAT", "json"),
			SamplingEnabled:   getEnvBool("LOG_SAMPLING_ENABLED", false),
			SamplingThreshold: getEnvInt("LOG_SAMPLING_THRESHOLD", 100),
			SamplingRate:      getEnvFloat("LOG_SAMPLING_RATE", 0.1),
			ErrorSamplingRate: getEnvFloat("LOG_ERROR_SAMPLING_RATE", 1.0),
			SkipHealthLogs:    getEnvBool("LOG_SKIP_HEALTH", true),
		},
		Auth: AuthConfig{
			JWTSecret:           getEnv("AUTH_JWT_SECRET", ""),
			JWTIssuer:           getEnv("AUTH_JWT_ISSUER", "agencyhub"),
			AccessTokenDuration: getEnvDuration("AUTH_ACCESS_TOKEN_DURATION", 15*time.Minute),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			MaxAge:         getEnvInt("CORS_MAX_AGE", 300),
		},
		RateLimit: RateLimitConfig{
			Enabled:          getEnvBool("RATE_LIMIT_ENABLED", true),
			RPS:              getEnvFloat("RATE_LIMIT_RPS", 10),
			Burst:            getEnvInt("RATE_LIMIT_BURST", 30),
			SubmissionLimit:  getEnvInt("RATE_LIMIT_SUBMISSIONS", 60),
			SubmissionWindow: getEnvDuration("RATE_LIMIT_SUBMISSION_WINDOW", time.Hour),
		},
		Analysis: AnalysisConfig{
			EnqueueDelay:      getEnvDuration("ANALYSIS_ENQUEUE_DELAY", 5*time.Second),
			MaxAttempts:       getEnvInt("ANALYSIS_MAX_ATTEMPTS", 3),
			Backoff:           getEnvDuration("ANALYSIS_BACKOFF", 60*time.Second),
			Timeout:           getEnvDuration("ANALYSIS_TIMEOUT", 300*time.Second),
			Concurrency:       getEnvInt("ANALYSIS_CONCURRENCY", 10),
			StrictPriority:    getEnvBool("ANALYSIS_STRICT_PRIORITY", false),
			QueueWeights:      getEnvWeights("ANALYSIS_QUEUE_WEIGHTS", map[string]int{"high": 6, "normal": 3, "low": 1}),
			RecoveryEnabled:   getEnvBool("ANALYSIS_RECOVERY_ENABLED", true),
			RecoveryInterval:  getEnvDuration("ANALYSIS_RECOVERY_INTERVAL", 5*time.Minute),
			RecoveryGrace:     getEnvDuration("ANALYSIS_RECOVERY_GRACE", 5*time.Minute),
			RecoveryBatchSize: getEnvInt("ANALYSIS_RECOVERY_BATCH_SIZE", 50),
		},
		LLM: LLMConfig{
			Provider:    getEnv("LLM_PROVIDER", ""),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			APIKey:      getEnv("LLM_API_KEY", ""),
			BaseURL:     getEnv("LLM_BASE_URL", ""),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 800),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
			Timeout:     getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		},
		Archive: ArchiveConfig{
			Backend:    strings.ToLower(getEnv("ARCHIVE_BACKEND", "none")),
			Bucket:     getEnv("ARCHIVE_BUCKET", "agencyhub-analyses"),
			Region:     getEnv("ARCHIVE_REGION", "eu-west-1"),
			Endpoint:   getEnv("ARCHIVE_ENDPOINT", ""),
			AccessKey:  getEnv("ARCHIVE_ACCESS_KEY", ""),
			SecretKey:  getEnv("ARCHIVE_SECRET_KEY", ""),
			UseSSL:     getEnvBool("ARCHIVE_USE_SSL", true),
			Prefix:     getEnv("ARCHIVE_PREFIX", "analyses"),
			RoleARN:    getEnv("ARCHIVE_ROLE_ARN", ""),
			ExternalID: getEnv("ARCHIVE_EXTERNAL_ID", ""),
		},
		Schedule: ScheduleConfig{
			Enabled: getEnvBool("ANALYSIS_SCHEDULE_ENABLED", false),
			Specs:   getEnvPrefixed("ANALYSIS_SCHEDULE_"),
		},
		Demo: DemoConfig{
			Enabled:  getEnvBool("DEMO_MODE", false),
			AgencyID: getEnv("DEMO_AGENCY_ID", ""),
		},
		Audit: AuditConfig{
			RetentionDays:     getEnvInt("AUDIT_RETENTION_DAYS", 365),
			RetentionInterval: getEnvDuration("AUDIT_RETENTION_INTERVAL", 24*time.Hour),
		},
	}

	return cfg, nil
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the HTTP server address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment returns true if the application is in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == EnvDevelopment
}

// IsProduction returns true if the application is in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}
