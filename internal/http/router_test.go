package httpapi

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-pattern-backend/internal/config"
	"github.com/tbourn/go-pattern-backend/internal/generation"
	"github.com/tbourn/go-pattern-backend/internal/http/middleware"
	"github.com/tbourn/go-pattern-backend/internal/prompt"
	"github.com/tbourn/go-pattern-backend/internal/quota"
	"github.com/tbourn/go-pattern-backend/internal/repo"
	"github.com/tbourn/go-pattern-backend/internal/services"
	"github.com/tbourn/go-pattern-backend/internal/storage"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   50,
		CORS:        config.CORSConfig{AllowedOrigins: nil}, // allow-all branch
		Security:    config.SecurityConfig{EnableHSTS: false},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
		Storage:     config.StorageConfig{BaseURL: "/assets"},
	}
}

// newDeps wires real services over db with a placeholder-only generator.
func newDeps(t *testing.T, db *gorm.DB, monthly, daily int) Deps {
	t.Helper()
	tracker := quota.NewTracker(quota.NewGormStore(db), quota.Limits{Monthly: monthly, Daily: daily})
	gen := generation.NewClient(nil, storage.NewMemoryStore("/assets"), generation.Options{PlaceholderSize: 32})
	patterns := services.NewGenerationService(db, prompt.Standard{}, tracker, gen, time.Hour)
	return Deps{
		DB:          db,
		Patterns:    patterns,
		Batch:       services.NewBatchOrchestrator(patterns, 3),
		Gallery:     services.NewGalleryService(db),
		Collections: services.NewCollectionService(db),
	}
}

func newRouter(t *testing.T, cfg config.Config, deps Deps) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, deps, cfg)
	return r
}

func send(r http.Handler, method, path, user string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

var generateBody = map[string]string{
	"motif": "lotus", "style": "batik", "color_palette": "indigo and gold", "region": "Java", "complexity": "moderate",
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	db := newTestDB(t)
	r := newRouter(t, testConfig(), newDeps(t, db, 10, 5))

	w := send(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" || w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing baseline headers: %v", w.Header())
	}

	w = send(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	if w = send(r, http.MethodGet, "/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"not_found"`) {
		t.Fatalf("404 body should carry the error envelope: %s", w.Body.String())
	}
	if w = send(r, http.MethodPost, "/health", "", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_HealthDegradedWhenDBClosed(t *testing.T) {
	db := newTestDB(t)
	r := newRouter(t, testConfig(), newDeps(t, db, 10, 5))

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	_ = sqlDB.Close()

	if w := send(r, http.MethodGet, "/health", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with closed DB, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"http://example.com"}
	r := newRouter(t, cfg, newDeps(t, newTestDB(t), 10, 5))

	w := send(r, http.MethodGet, "/health", "", nil, "Origin", "http://example.com")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	w = send(r, http.MethodGet, "/health", "", nil, "Origin", "http://evil.test")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got == "http://evil.test" {
		t.Fatalf("unlisted origin must not be echoed")
	}
}

func TestRegisterRoutes_Gzip(t *testing.T) {
	cfg := testConfig()
	cfg.GzipEnabled = true
	r := newRouter(t, cfg, newDeps(t, newTestDB(t), 10, 5))

	w := send(r, http.MethodGet, "/health", "", nil, "Accept-Encoding", "gzip")
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, headers=%v", w.Header())
	}
	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	raw, _ := io.ReadAll(zr)
	if !strings.Contains(string(raw), `"ok"`) {
		t.Fatalf("unexpected body %q", raw)
	}
}

func TestRegisterRoutes_StaticAssetsImmutable(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "abc.png"), []byte("png-bytes"), 0o644); err != nil {
		t.Fatalf("write asset: %v", err)
	}
	deps := newDeps(t, newTestDB(t), 10, 5)
	deps.AssetsDir = dir
	r := newRouter(t, testConfig(), deps)

	w := send(r, http.MethodGet, "/assets/abc.png", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "png-bytes" {
		t.Fatalf("GET asset -> %d %q", w.Code, w.Body.String())
	}
	if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "immutable") {
		t.Fatalf("asset Cache-Control=%q", cc)
	}
}

func TestRegisterRoutes_Swagger(t *testing.T) {
	cfg := testConfig()
	cfg.SwaggerEnabled = true
	r := newRouter(t, cfg, newDeps(t, newTestDB(t), 10, 5))

	w := send(r, http.MethodGet, "/swagger/doc.json", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/patterns/generate") {
		t.Fatalf("GET /swagger/doc.json -> %d %.200s", w.Code, w.Body.String())
	}

	cfg.SwaggerEnabled = false
	r = newRouter(t, cfg, newDeps(t, newTestDB(t), 10, 5))
	if w := send(r, http.MethodGet, "/swagger/doc.json", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger disabled should 404, got %d", w.Code)
	}
}

func TestRegisterRoutes_GenerateReplayPromoteLikeList(t *testing.T) {
	db := newTestDB(t)
	r := newRouter(t, testConfig(), newDeps(t, db, 10, 5))
	const base = "/api/v1"

	w := send(r, http.MethodPost, base+"/patterns/generate", "alice", generateBody, middleware.HeaderIdempotencyKey, "gen-1")
	if w.Code != http.StatusCreated {
		t.Fatalf("generate -> %d %s", w.Code, w.Body.String())
	}
	var p struct {
		ID       string `json:"id"`
		Source   string `json:"source"`
		ImageURL string `json:"image_url"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &p)
	if p.ID == "" || p.Source != "fallback" || !strings.HasPrefix(p.ImageURL, "/assets/") {
		t.Fatalf("unexpected pattern %+v", p)
	}

	// Same key replays: same pattern, no extra quota.
	w = send(r, http.MethodPost, base+"/patterns/generate", "alice", generateBody, middleware.HeaderIdempotencyKey, "gen-1")
	if w.Code != http.StatusOK || w.Header().Get(middleware.HeaderIdempotencyReplayed) != "true" {
		t.Fatalf("replay -> %d replayed=%q", w.Code, w.Header().Get(middleware.HeaderIdempotencyReplayed))
	}
	var again struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &again)
	if again.ID != p.ID {
		t.Fatalf("replay returned %q want %q", again.ID, p.ID)
	}

	w = send(r, http.MethodGet, base+"/quota", "alice", nil)
	var q struct {
		Daily struct {
			Used int `json:"used"`
		} `json:"daily"`
		Remaining int `json:"remaining"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &q)
	if w.Code != http.StatusOK || q.Daily.Used != 1 || q.Remaining != 4 {
		t.Fatalf("quota -> %d %s", w.Code, w.Body.String())
	}

	// Promote, then like from another user.
	w = send(r, http.MethodPost, base+"/gallery", "alice", map[string]any{"pattern_id": p.ID, "tags": []string{"batik"}})
	if w.Code != http.StatusCreated {
		t.Fatalf("promote -> %d %s", w.Code, w.Body.String())
	}
	var entry struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &entry)

	w = send(r, http.MethodPost, base+"/gallery/"+entry.ID+"/like", "bob", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"liked":true`) {
		t.Fatalf("like -> %d %s", w.Code, w.Body.String())
	}

	w = send(r, http.MethodPost, base+"/gallery/"+entry.ID+"/comments", "bob", map[string]string{"content": "lovely"})
	if w.Code != http.StatusCreated {
		t.Fatalf("comment -> %d %s", w.Code, w.Body.String())
	}

	w = send(r, http.MethodGet, base+"/gallery?sort=popular", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("gallery -> %d %s", w.Code, w.Body.String())
	}
	var list struct {
		Entries []struct {
			ID string `json:"id"`
		} `json:"entries"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Entries) != 1 || list.Entries[0].ID != entry.ID {
		t.Fatalf("gallery list %s", w.Body.String())
	}

	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("gallery list should carry an ETag")
	}
	if w = send(r, http.MethodGet, base+"/gallery?sort=popular", "", nil, "If-None-Match", etag); w.Code != http.StatusNotModified {
		t.Fatalf("conditional gallery GET -> %d", w.Code)
	}

	w = send(r, http.MethodPost, base+"/patterns/"+p.ID+"/download", "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("download -> %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_BatchAndCollections(t *testing.T) {
	db := newTestDB(t)
	r := newRouter(t, testConfig(), newDeps(t, db, 10, 2))
	const base = "/api/v1"

	// Three items against a daily limit of two are refused up front.
	batch := map[string]any{"requests": []map[string]string{generateBody, generateBody, generateBody}}
	w := send(r, http.MethodPost, base+"/patterns/generate/batch", "carol", batch)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
		t.Fatalf("oversubscribed batch -> %d %s", w.Code, w.Body.String())
	}

	batch = map[string]any{"requests": []map[string]string{generateBody, generateBody}}
	w = send(r, http.MethodPost, base+"/patterns/generate/batch", "carol", batch)
	if w.Code != http.StatusOK {
		t.Fatalf("batch -> %d %s", w.Code, w.Body.String())
	}

	w = send(r, http.MethodGet, base+"/patterns?page_size=10", "carol", nil)
	var hist struct {
		Patterns []struct {
			ID string `json:"id"`
		} `json:"patterns"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &hist)
	if w.Code != http.StatusOK || len(hist.Patterns) != 2 {
		t.Fatalf("history -> %d %s", w.Code, w.Body.String())
	}

	w = send(r, http.MethodPost, base+"/collections", "carol", map[string]any{"name": "Favorites"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create collection -> %d %s", w.Code, w.Body.String())
	}
	var col struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &col)

	w = send(r, http.MethodPost, base+"/collections/"+col.ID+"/items", "carol", map[string]string{"pattern_id": hist.Patterns[0].ID})
	if w.Code != http.StatusCreated {
		t.Fatalf("add item -> %d %s", w.Code, w.Body.String())
	}
	w = send(r, http.MethodGet, base+"/collections/"+col.ID+"/items", "carol", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), hist.Patterns[0].ID) {
		t.Fatalf("list items -> %d %s", w.Code, w.Body.String())
	}
	w = send(r, http.MethodDelete, base+"/collections/"+col.ID+"/items/"+hist.Patterns[0].ID, "carol", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("remove item -> %d %s", w.Code, w.Body.String())
	}
	if w = send(r, http.MethodGet, base+"/collections", "carol", nil); w.Code != http.StatusOK {
		t.Fatalf("list collections -> %d", w.Code)
	}
}

func TestRegisterRoutes_IdempotencyLookup(t *testing.T) {
	db := newTestDB(t)
	lookup := idempotencyLookup(db)
	now := time.Now().UTC()

	exists, err := lookup(context.Background(), "u1", repo.ScopeGenerate, "k1", now)
	if err != nil || exists {
		t.Fatalf("miss -> exists=%v err=%v", exists, err)
	}
	if _, err := repo.CreateIdempotency(context.Background(), db, "u1", repo.ScopeGenerate, "k1", uuid.NewString(), http.StatusCreated, time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}
	exists, err = lookup(context.Background(), "u1", repo.ScopeGenerate, "k1", now)
	if err != nil || !exists {
		t.Fatalf("hit -> exists=%v err=%v", exists, err)
	}

	if idempotencyLookup(nil) != nil {
		t.Fatalf("nil DB should disable the lookup")
	}
}

func TestRegisterRoutes_BadIdempotencyKey(t *testing.T) {
	r := newRouter(t, testConfig(), newDeps(t, newTestDB(t), 10, 5))
	w := send(r, http.MethodPost, "/api/v1/patterns/generate", "alice", generateBody, middleware.HeaderIdempotencyKey, "bad key!")
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "bad_idempotency_key") {
		t.Fatalf("expected 400 bad_idempotency_key, got %d %s", w.Code, w.Body.String())
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}

func Test_normalizePrefix(t *testing.T) {
	cases := map[string]string{"": "", "/": "", "api": "/api", "/api/v1/": "/api/v1", " /x ": "/x"}
	for in, want := range cases {
		if got := normalizePrefix(in); got != want {
			t.Errorf("normalizePrefix(%q)=%q want %q", in, got, want)
		}
	}
}
