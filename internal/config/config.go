package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env      string
	HTTPPort string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTIssuer        string
	JWTAudience      string
	JWTAccessSecret  string
	JWTRefreshSecret string
	JWTAccessTTL     time.Duration
	JWTRefreshTTL    time.Duration

	FlagCacheTTL         time.Duration
	FlagCachePrefix      string
	EvalRateLimitPerMin  int
	AdminRateLimitPerMin int
	IdempotencyTTL       time.Duration

	ArchiveEnabled   bool
	ArchiveEndpoint  string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveBucket    string
	ArchiveUseSSL    bool

	LogLevel  string
	LogFormat string

	OTELServiceName          string
	OTELEnvironment          string
	OTELLogsEnabled          bool
	OTELMetricsEnabled       bool
	OTELTracingEnabled       bool
	OTELExporterOTLPEndpoint string
	OTELExporterOTLPInsecure bool
	OTELTraceSamplingRatio   float64
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:                  getEnv("APP_ENV", "development"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		JWTIssuer:            getEnv("JWT_ISSUER", "feature-flag-service"),
		JWTAudience:          getEnv("JWT_AUDIENCE", "feature-flag-service-api"),
		JWTAccessSecret:      os.Getenv("JWT_ACCESS_SECRET"),
		JWTRefreshSecret:     os.Getenv("JWT_REFRESH_SECRET"),
		FlagCachePrefix:      getEnv("FLAG_CACHE_PREFIX", "feature_flag"),
		EvalRateLimitPerMin:  getEnvInt("EVAL_RATE_LIMIT_PER_MIN", 600),
		AdminRateLimitPerMin: getEnvInt("ADMIN_RATE_LIMIT_PER_MIN", 120),
		ArchiveEnabled:       getEnvBool("ARCHIVE_ENABLED", false),
		ArchiveEndpoint:      os.Getenv("ARCHIVE_S3_ENDPOINT"),
		ArchiveAccessKey:     os.Getenv("ARCHIVE_S3_ACCESS_KEY"),
		ArchiveSecretKey:     os.Getenv("ARCHIVE_S3_SECRET_KEY"),
		ArchiveBucket:        getEnv("ARCHIVE_S3_BUCKET", "feature-flag-archives"),
		ArchiveUseSSL:        getEnvBool("ARCHIVE_S3_USE_SSL", true),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            strings.ToLower(getEnv("LOG_FORMAT", "json")),

		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", "feature-flag-service"),
		OTELEnvironment:          getEnv("OTEL_ENVIRONMENT", getEnv("APP_ENV", "development")),
		OTELLogsEnabled:          getEnvBool("OTEL_LOGS_ENABLED", false),
		OTELMetricsEnabled:       getEnvBool("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:       getEnvBool("OTEL_TRACING_ENABLED", false),
		OTELExporterOTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure: getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
	}

	accessTTL, err := time.ParseDuration(getEnv("JWT_ACCESS_TTL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("parse JWT_ACCESS_TTL: %w", err)
	}
	cfg.JWTAccessTTL = accessTTL

	refreshTTL, err := time.ParseDuration(getEnv("JWT_REFRESH_TTL", "168h"))
	if err != nil {
		return nil, fmt.Errorf("parse JWT_REFRESH_TTL: %w", err)
	}
	cfg.JWTRefreshTTL = refreshTTL

	cacheTTL, err := time.ParseDuration(getEnv("FLAG_CACHE_TTL", "300s"))
	if err != nil {
		return nil, fmt.Errorf("parse FLAG_CACHE_TTL: %w", err)
	}
	cfg.FlagCacheTTL = cacheTTL

	idemTTL, err := time.ParseDuration(getEnv("IDEMPOTENCY_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("parse IDEMPOTENCY_TTL: %w", err)
	}
	cfg.IdempotencyTTL = idemTTL

	ratio, err := strconv.ParseFloat(getEnv("OTEL_TRACE_SAMPLING_RATIO", "1.0"), 64)
	if err != nil {
		return nil, fmt.Errorf("parse OTEL_TRACE_SAMPLING_RATIO: %w", err)
	}
	cfg.OTELTraceSamplingRatio = ratio

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if len(c.JWTAccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 chars")
	}
	if len(c.JWTRefreshSecret) < 32 {
		errs = append(errs, "JWT_REFRESH_SECRET must be at least 32 chars")
	}
	if c.JWTAccessSecret != "" && c.JWTAccessSecret == c.JWTRefreshSecret {
		errs = append(errs, "JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if c.JWTAccessTTL <= 0 || c.JWTAccessTTL > time.Hour {
		errs = append(errs, "JWT_ACCESS_TTL must be between 1s and 1h")
	}
	if c.JWTRefreshTTL < c.JWTAccessTTL || c.JWTRefreshTTL > 90*24*time.Hour {
		errs = append(errs, "JWT_REFRESH_TTL must be between JWT_ACCESS_TTL and 90 days")
	}
	if c.FlagCacheTTL < 0 || c.FlagCacheTTL > time.Hour {
		errs = append(errs, "FLAG_CACHE_TTL must be between 0 (caching disabled) and 1h")
	}
	if c.EvalRateLimitPerMin <= 0 {
		errs = append(errs, "EVAL_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.AdminRateLimitPerMin <= 0 {
		errs = append(errs, "ADMIN_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, "IDEMPOTENCY_TTL must be > 0")
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, "OTEL_TRACE_SAMPLING_RATIO must be between 0 and 1")
	}
	if c.ArchiveEnabled {
		if c.ArchiveEndpoint == "" {
			errs = append(errs, "ARCHIVE_S3_ENDPOINT is required when ARCHIVE_ENABLED")
		}
		if c.ArchiveAccessKey == "" || c.ArchiveSecretKey == "" {
			errs = append(errs, "ARCHIVE_S3_ACCESS_KEY and ARCHIVE_S3_SECRET_KEY are required when ARCHIVE_ENABLED")
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
