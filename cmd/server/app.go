package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-pattern-backend/internal/config"
	"github.com/tbourn/go-pattern-backend/internal/generation"
	"github.com/tbourn/go-pattern-backend/internal/jobs"
	"github.com/tbourn/go-pattern-backend/internal/prompt"
	"github.com/tbourn/go-pattern-backend/internal/quota"
	"github.com/tbourn/go-pattern-backend/internal/repo"
	"github.com/tbourn/go-pattern-backend/internal/services"
	"github.com/tbourn/go-pattern-backend/internal/storage"

	httpapi "github.com/tbourn/go-pattern-backend/internal/http"
)

// app is the wired object graph shared by the subcommands.
type app struct {
	DB      *gorm.DB
	Redis   redis.UniversalClient
	Sweeper jobs.QuotaSweeper

	assetsDir   string
	patterns    *services.GenerationService
	batch       *services.BatchOrchestrator
	gallery     *services.GalleryService
	collections *services.CollectionService
}

func build(ctx context.Context, cfg config.Config) (*app, error) {
	db, err := repo.OpenDatabase(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		_ = closeDB(db)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a := &app{DB: db}

	var store quota.Store
	switch cfg.Quota.Backend {
	case config.QuotaBackendMemory:
		store = quota.NewMemoryStore()
	case config.QuotaBackendRedis:
		a.Redis = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		store = quota.NewRedisStore(a.Redis)
	default:
		gs := quota.NewGormStore(db)
		store, a.Sweeper = gs, gs
	}
	tracker := quota.NewTracker(store,
		quota.Limits{Monthly: cfg.Quota.MonthlyLimit, Daily: cfg.Quota.DailyLimit},
		quota.WithLocation(cfg.Quota.Location),
		quota.WithLogger(log.Logger),
	)

	fs, err := storage.NewFileStore(cfg.Storage.Path, cfg.Storage.BaseURL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.assetsDir = fs.BasePath()

	var provider generation.Provider
	if cfg.Provider.APIKey != "" {
		provider = generation.NewHTTPProvider(generation.HTTPOptions{
			APIKey:  cfg.Provider.APIKey,
			BaseURL: cfg.Provider.BaseURL,
			Model:   cfg.Provider.Model,
		})
	} else {
		log.Warn().Msg("GENAI_API_KEY not set; every image will be a placeholder")
	}
	logger := log.With().Str("component", "generation").Logger()
	gen := generation.NewClient(provider,
		storage.NewRetrying(fs, cfg.Storage.RetryMaxElapsed, nil),
		generation.Options{
			Timeout:         cfg.Provider.Timeout,
			PlaceholderSize: cfg.Provider.PlaceholderSize,
			Logger:          &logger,
		},
	)

	composer, err := prompt.NewCached(prompt.Standard{}, cfg.PromptCacheSize)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("prompt cache: %w", err)
	}

	a.patterns = services.NewGenerationService(db, composer, tracker, gen, cfg.IdempotencyTTL)
	a.batch = services.NewBatchOrchestrator(a.patterns, cfg.BatchMaxSize)
	a.gallery = services.NewGalleryService(db)
	a.collections = services.NewCollectionService(db)
	return a, nil
}

// Deps exposes the services to the HTTP layer.
func (a *app) Deps() httpapi.Deps {
	return httpapi.Deps{
		DB:          a.DB,
		Patterns:    a.patterns,
		Batch:       a.batch,
		Gallery:     a.gallery,
		Collections: a.collections,
		AssetsDir:   a.assetsDir,
	}
}

// Close releases the database and Redis connections.
func (a *app) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.Warn().Err(err).Msg("redis close")
		}
	}
	if err := closeDB(a.DB); err != nil {
		log.Warn().Err(err).Msg("database close")
	}
}

func closeDB(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
