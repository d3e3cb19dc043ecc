// Package config loads application settings from environment variables,
// applying defaults, normalization and validation. It covers the HTTP server,
// logging, persistence, quota policy, batch limits, the image provider,
// object storage, Redis, maintenance jobs and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Quota backends.
const (
	QuotaBackendMemory = "memory"
	QuotaBackendDB     = "db"
	QuotaBackendRedis  = "redis"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	Driver string // DB_DRIVER: sqlite|postgres
	DSN    string // DB_DSN; for sqlite defaults to DB_PATH
}

// QuotaConfig is the default per-user generation policy.
type QuotaConfig struct {
	MonthlyLimit int
	DailyLimit   int
	Backend      string // memory|db|redis
	Location     *time.Location
}

// ProviderConfig configures the external image provider.
type ProviderConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	Timeout         time.Duration
	PlaceholderSize int
}

// StorageConfig configures the filesystem object store.
type StorageConfig struct {
	Path            string
	BaseURL         string
	RetryMaxElapsed time.Duration
}

// RedisConfig is used when the quota backend is redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MaintenanceConfig schedules background cleanup.
type MaintenanceConfig struct {
	Enabled  bool
	Schedule string // standard 5-field cron spec
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 60s; must outlive a batch
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test
	GzipEnabled       bool

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Persistence
	DBPath   string // SQLite path
	Database DatabaseConfig

	// Generation
	Quota           QuotaConfig
	BatchMaxSize    int
	Provider        ProviderConfig
	Storage         StorageConfig
	Redis           RedisConfig
	PromptCacheSize int

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	Maintenance MaintenanceConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 120*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		GzipEnabled:       getbool("GZIP_ENABLED", true),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Persistence
		DBPath: getenv("DB_PATH", "patterns.db"),
		Database: DatabaseConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			DSN:    getenv("DB_DSN", ""),
		},

		// Generation
		Quota: QuotaConfig{
			MonthlyLimit: getint("QUOTA_MONTHLY_LIMIT", 100),
			DailyLimit:   getint("QUOTA_DAILY_LIMIT", 10),
			Backend:      strings.ToLower(getenv("QUOTA_BACKEND", QuotaBackendDB)),
		},
		BatchMaxSize: getint("BATCH_MAX_SIZE", 3),
		Provider: ProviderConfig{
			APIKey:          getenv("GENAI_API_KEY", ""),
			BaseURL:         getenv("GENAI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
			Model:           getenv("GENAI_MODEL", "gemini-2.0-flash-preview-image-generation"),
			Timeout:         getdur("GENAI_TIMEOUT", 30*time.Second),
			PlaceholderSize: getint("PLACEHOLDER_SIZE", 512),
		},
		Storage: StorageConfig{
			Path:            getenv("STORAGE_PATH", "./data/assets"),
			BaseURL:         strings.TrimRight(getenv("STORAGE_BASE_URL", "/assets"), "/"),
			RetryMaxElapsed: getdur("STORAGE_RETRY_MAX_ELAPSED", 3*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},
		PromptCacheSize: getint("PROMPT_CACHE_SIZE", 512),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		Maintenance: MaintenanceConfig{
			Enabled:  getbool("MAINTENANCE_ENABLED", true),
			Schedule: getenv("MAINTENANCE_SCHEDULE", "*/15 * * * *"),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-pattern-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.Database.Driver == "sqlite3" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = cfg.DBPath
	}
	if cfg.Storage.BaseURL == "" {
		cfg.Storage.BaseURL = "/assets"
	}
	loc, err := time.LoadLocation(getenv("QUOTA_TIMEZONE", "UTC"))
	if err != nil {
		return cfg, fmt.Errorf("QUOTA_TIMEZONE: %w", err)
	}
	cfg.Quota.Location = loc

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return cfg, errors.New("DB_DSN must not be empty")
	}
	if cfg.Quota.MonthlyLimit < 1 || cfg.Quota.DailyLimit < 1 {
		return cfg, errors.New("QUOTA_MONTHLY_LIMIT and QUOTA_DAILY_LIMIT must be >= 1")
	}
	switch cfg.Quota.Backend {
	case QuotaBackendMemory, QuotaBackendDB:
	case QuotaBackendRedis:
		if cfg.Redis.Addr == "" {
			return cfg, errors.New("REDIS_ADDR is required when QUOTA_BACKEND=redis")
		}
	default:
		return cfg, errors.New("QUOTA_BACKEND must be one of: memory, db, redis")
	}
	if cfg.BatchMaxSize < 1 {
		return cfg, errors.New("BATCH_MAX_SIZE must be >= 1")
	}
	if cfg.Provider.Timeout <= 0 {
		return cfg, errors.New("GENAI_TIMEOUT must be > 0")
	}
	if cfg.Provider.PlaceholderSize < 16 || cfg.Provider.PlaceholderSize > 4096 {
		return cfg, errors.New("PLACEHOLDER_SIZE must be between 16 and 4096")
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return cfg, errors.New("STORAGE_PATH must not be empty")
	}
	if cfg.Storage.RetryMaxElapsed < 0 {
		return cfg, errors.New("STORAGE_RETRY_MAX_ELAPSED must be >= 0")
	}
	if cfg.PromptCacheSize < 0 {
		return cfg, errors.New("PROMPT_CACHE_SIZE must be >= 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.Maintenance.Enabled && strings.TrimSpace(cfg.Maintenance.Schedule) == "" {
		return cfg, errors.New("MAINTENANCE_SCHEDULE must not be empty")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
