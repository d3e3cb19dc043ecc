package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose")
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.APIBasePath != "/api/v1" {
		t.Fatalf("API_BASE_PATH default expected '/api/v1', got %q", cfg.APIBasePath)
	}
}

// --- Load defaults ---

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Quota.MonthlyLimit != 100 || cfg.Quota.DailyLimit != 10 || cfg.Quota.Backend != QuotaBackendDB {
		t.Fatalf("quota defaults unexpected: %+v", cfg.Quota)
	}
	if cfg.Quota.Location != time.UTC {
		t.Fatalf("quota location default should be UTC, got %v", cfg.Quota.Location)
	}
	if cfg.BatchMaxSize != 3 {
		t.Fatalf("batch max size default expected 3, got %d", cfg.BatchMaxSize)
	}
	if cfg.Provider.APIKey != "" || cfg.Provider.Timeout != 30*time.Second || cfg.Provider.PlaceholderSize != 512 {
		t.Fatalf("provider defaults unexpected: %+v", cfg.Provider)
	}
	if cfg.Storage.BaseURL != "/assets" || cfg.Storage.RetryMaxElapsed != 3*time.Second {
		t.Fatalf("storage defaults unexpected: %+v", cfg.Storage)
	}
	// sqlite DSN falls back to DB_PATH
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN != cfg.DBPath {
		t.Fatalf("database defaults unexpected: %+v (DBPath %q)", cfg.Database, cfg.DBPath)
	}
	if !cfg.Maintenance.Enabled || cfg.Maintenance.Schedule != "*/15 * * * *" {
		t.Fatalf("maintenance defaults unexpected: %+v", cfg.Maintenance)
	}
	if !cfg.GzipEnabled || cfg.PromptCacheSize != 512 {
		t.Fatalf("misc defaults unexpected: gzip=%v cache=%d", cfg.GzipEnabled, cfg.PromptCacheSize)
	}
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	// Server
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // normalizes to "release"
	t.Setenv("GZIP_ENABLED", "off")

	// Logging / Docs
	t.Setenv("LOG_LEVEL", "warning") // normalizes to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("SWAGGER_ENABLED", "on")
	t.Setenv("API_BASE_PATH", "api/v1/")

	// Persistence
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DB_DSN", "postgres://u:p@db:5432/patterns")

	// Generation
	t.Setenv("QUOTA_MONTHLY_LIMIT", "50")
	t.Setenv("QUOTA_DAILY_LIMIT", "5")
	t.Setenv("QUOTA_BACKEND", "REDIS")
	t.Setenv("QUOTA_TIMEZONE", "Asia/Jakarta")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("BATCH_MAX_SIZE", "4")
	t.Setenv("GENAI_API_KEY", "k")
	t.Setenv("GENAI_TIMEOUT", "5s")
	t.Setenv("PLACEHOLDER_SIZE", "256")
	t.Setenv("STORAGE_PATH", "/srv/assets")
	t.Setenv("STORAGE_BASE_URL", "https://cdn.example.com/p/")

	// Rate limiting (invalid values fall back to defaults)
	t.Setenv("RATE_RPS", "x")
	t.Setenv("RATE_BURST", "nope")

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	t.Setenv("IDEMPOTENCY_TTL", "48h")
	t.Setenv("MAINTENANCE_SCHEDULE", "@hourly")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" ||
		cfg.GzipEnabled {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty || !cfg.SwaggerEnabled || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging/docs unexpected: %+v", cfg)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.DSN != "postgres://u:p@db:5432/patterns" {
		t.Fatalf("database unexpected: %+v", cfg.Database)
	}
	if cfg.Quota.MonthlyLimit != 50 || cfg.Quota.DailyLimit != 5 || cfg.Quota.Backend != QuotaBackendRedis {
		t.Fatalf("quota unexpected: %+v", cfg.Quota)
	}
	if cfg.Quota.Location.String() != "Asia/Jakarta" {
		t.Fatalf("quota location unexpected: %v", cfg.Quota.Location)
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.Redis.DB != 2 {
		t.Fatalf("redis unexpected: %+v", cfg.Redis)
	}
	if cfg.BatchMaxSize != 4 {
		t.Fatalf("batch max size unexpected: %d", cfg.BatchMaxSize)
	}
	if cfg.Provider.APIKey != "k" || cfg.Provider.Timeout != 5*time.Second || cfg.Provider.PlaceholderSize != 256 {
		t.Fatalf("provider unexpected: %+v", cfg.Provider)
	}
	if cfg.Storage.Path != "/srv/assets" || cfg.Storage.BaseURL != "https://cdn.example.com/p" {
		t.Fatalf("storage unexpected: %+v", cfg.Storage)
	}
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}
	if cfg.IdempotencyTTL != 48*time.Hour || cfg.Maintenance.Schedule != "@hourly" {
		t.Fatalf("idempotency/maintenance unexpected: %v %+v", cfg.IdempotencyTTL, cfg.Maintenance)
	}
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"invalid LOG_LEVEL", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"empty PORT via spaces", map[string]string{"PORT": "   "}, "PORT must not be empty"},
		{"non-positive timeouts", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts must be positive"},
		{"max header bytes <= 0", map[string]string{"MAX_HEADER_BYTES": "0"}, "MAX_HEADER_BYTES"},
		{"unknown driver", map[string]string{"DB_DRIVER": "mysql"}, "DB_DRIVER"},
		{"postgres without dsn", map[string]string{"DB_DRIVER": "postgres"}, "DB_DSN"},
		{"bad timezone", map[string]string{"QUOTA_TIMEZONE": "Mars/Olympus"}, "QUOTA_TIMEZONE"},
		{"zero monthly limit", map[string]string{"QUOTA_MONTHLY_LIMIT": "0"}, "QUOTA_MONTHLY_LIMIT"},
		{"unknown quota backend", map[string]string{"QUOTA_BACKEND": "etcd"}, "QUOTA_BACKEND"},
		{"redis without addr", map[string]string{"QUOTA_BACKEND": "redis"}, "REDIS_ADDR"},
		{"batch size < 1", map[string]string{"BATCH_MAX_SIZE": "0"}, "BATCH_MAX_SIZE"},
		{"provider timeout", map[string]string{"GENAI_TIMEOUT": "-1s"}, "GENAI_TIMEOUT"},
		{"placeholder size", map[string]string{"PLACEHOLDER_SIZE": "8"}, "PLACEHOLDER_SIZE"},
		{"empty storage path", map[string]string{"STORAGE_PATH": "  "}, "STORAGE_PATH"},
		{"negative prompt cache", map[string]string{"PROMPT_CACHE_SIZE": "-1"}, "PROMPT_CACHE_SIZE"},
		{"rate rps negative", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"rate burst < 1", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"hsts max age negative", map[string]string{"HSTS_MAX_AGE": "-1s"}, "HSTS_MAX_AGE"},
		{"idempotency ttl non-positive", map[string]string{"IDEMPOTENCY_TTL": "0s"}, "IDEMPOTENCY_TTL"},
		{"otel sample ratio out of range", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); !containsErr(err, tc.want) {
				t.Fatalf("expected %s validation error, got: %v", tc.want, err)
			}
		})
	}
}

// --- helpers ---

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}

	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}

	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	for i, v := range []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"} {
		k := "B_T_" + string(rune('a'+i))
		t.Setenv(k, v)
		if !getbool(k, false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	for i, v := range []string{"0", "false", "FALSE", " no ", "N", "off", "Off"} {
		k := "B_F_" + string(rune('a'+i))
		t.Setenv(k, v)
		if getbool(k, true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_splitCSV_and_normalizeBasePath(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	want := []string{"a", "b", "c"}
	if got := splitCSV(" a, ,b ,  c  ,"); !reflect.DeepEqual(got, want) {
		t.Fatalf("splitCSV mismatch: got %#v want %#v", got, want)
	}

	for in, want := range map[string]string{"": "/", "v1": "/v1", "/v1/": "/v1", " / ": "/"} {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMain(m *testing.M) {
	os.Unsetenv("PORT")
	os.Exit(m.Run())
}

func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}
