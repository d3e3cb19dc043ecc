// Package httpapi wires the HTTP transport (Gin) to the pattern studio
// services. It owns middleware ordering, CORS and security posture, static
// asset serving, API docs, and the versioned route table.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-pattern-backend/docs"
	"github.com/tbourn/go-pattern-backend/internal/config"
	"github.com/tbourn/go-pattern-backend/internal/http/handlers"
	"github.com/tbourn/go-pattern-backend/internal/http/middleware"
	"github.com/tbourn/go-pattern-backend/internal/repo"
)

// maxBodyBytes caps request bodies; a full batch of prompts is far below it.
const maxBodyBytes = 1 << 20

// Deps are the collaborators RegisterRoutes mounts.
type Deps struct {
	// DB backs the idempotency lookup and /health readiness.
	DB          *gorm.DB
	Patterns    handlers.PatternService
	Batch       handlers.BatchRunner
	Gallery     handlers.GalleryService
	Collections handlers.CollectionService
	// AssetsDir is served under cfg.Storage.BaseURL when that is a path.
	AssetsDir string
}

// RegisterRoutes attaches all middleware and HTTP endpoints to r.
//
// Middleware order matters:
//  1. OpenTelemetry
//  2. RequestID, then Identity
//  3. Logger (scrubbed), then Recovery
//  4. Body size limit, gzip
//  5. Metrics
//  6. Idempotency validator (before the limiter so replays bypass it)
//  7. Rate limiter
//  8. CORS and security headers
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	apiBase := normalizePrefix(cfg.APIBasePath)

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID(), middleware.Identity())
	r.Use(middleware.Logger(), middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	if cfg.GzipEnabled {
		r.Use(gzip.Gzip(gzip.DefaultCompression,
			gzip.WithExcludedExtensions([]string{".png", ".jpg", ".jpeg", ".webp"}),
			gzip.WithExcludedPaths([]string{"/metrics"}),
		))
	}

	r.Use(middleware.Metrics())
	r.GET("/metrics", middleware.MetricsHandler())

	generatePath := apiBase + "/patterns/generate"
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
			Scope: func(c *gin.Context) string {
				if c.Request.Method == http.MethodPost && c.FullPath() == generatePath {
					return repo.ScopeGenerate
				}
				return ""
			},
		},
		idempotencyLookup(deps.DB),
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", healthHandler(deps.DB))

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = apiBase
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	if deps.AssetsDir != "" && strings.HasPrefix(cfg.Storage.BaseURL, "/") {
		assets := r.Group(cfg.Storage.BaseURL, middleware.ImmutableAssets(0))
		assets.Static("/", deps.AssetsDir)
	}

	h := handlers.New(deps.Patterns, deps.Batch, deps.Gallery, deps.Collections)

	api := groupWithPrefix(r, apiBase)
	{
		// Patterns
		api.POST("/patterns/generate", h.GeneratePattern)
		api.POST("/patterns/generate/batch", h.GenerateBatch)
		api.GET("/patterns", h.ListPatterns)
		api.POST("/patterns/:id/download", h.DownloadPattern)

		// Quota
		api.GET("/quota", h.GetQuota)

		// Gallery
		api.POST("/gallery", h.PromoteToGallery)
		api.GET("/gallery", h.ListGallery)
		api.GET("/gallery/:id", h.GetGalleryEntry)
		api.POST("/gallery/:id/like", h.ToggleLike)
		api.GET("/gallery/:id/comments", h.ListComments)
		api.POST("/gallery/:id/comments", h.AddComment)

		// Collections
		api.POST("/collections", h.CreateCollection)
		api.GET("/collections", h.ListCollections)
		api.GET("/collections/:id/items", h.ListCollectionItems)
		api.POST("/collections/:id/items", h.AddCollectionItem)
		api.DELETE("/collections/:id/items/:patternId", h.RemoveCollectionItem)
	}
}

// idempotencyLookup reports live records; any lookup failure reads as a miss.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	if db == nil {
		return nil
	}
	return func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return rec != nil, nil
	}
}

func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match",
			middleware.HeaderUserID, middleware.HeaderIdempotencyKey,
		},
		ExposeHeaders:    []string{"X-Request-ID", "ETag", "Retry-After", middleware.HeaderIdempotencyReplayed},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}

	if len(origins) == 0 {
		base.AllowAllOrigins = true
		// ACAO: * even without an Origin header (plain health checks).
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}

	base.AllowOrigins = origins
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(base),
	}
}

// healthHandler reports "ok", or 503 when the database does not answer a ping.
func healthHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
				err = sqlDB.PingContext(ctx)
				cancel()
			}
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// limitBody caps the request body at maxBytes via http.MaxBytesReader.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func normalizePrefix(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
