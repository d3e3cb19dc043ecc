package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-pattern-backend/internal/domain"
	"github.com/tbourn/go-pattern-backend/internal/generation"
	"github.com/tbourn/go-pattern-backend/internal/quota"
	"github.com/tbourn/go-pattern-backend/internal/repo"
	"github.com/tbourn/go-pattern-backend/internal/storage"
)

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
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
	t.Cleanup(func() { _ = sqlDB.Close() })
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

// stubGenerator fails with a StorageError for prompts containing failOn and
// records call counts and peak concurrency.
type stubGenerator struct {
	failOn string
	delay  time.Duration

	calls    atomic.Int32
	inflight atomic.Int32

	mu   sync.Mutex
	peak int32
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (generation.ImageRef, error) {
	g.calls.Add(1)
	n := g.inflight.Add(1)
	defer g.inflight.Add(-1)
	g.mu.Lock()
	if n > g.peak {
		g.peak = n
	}
	g.mu.Unlock()

	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return generation.ImageRef{}, ctx.Err()
		}
	}
	if g.failOn != "" && strings.Contains(prompt, g.failOn) {
		return generation.ImageRef{}, &domain.StorageError{Op: "store", Err: fmt.Errorf("disk full")}
	}
	digest := storage.Digest([]byte(prompt))
	return generation.ImageRef{
		URL:    "/assets/" + storage.KeyFor([]byte(prompt)),
		Digest: digest,
		Kind:   domain.GenerationReal,
	}, nil
}

func (g *stubGenerator) Peak() int32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

type pipelineFixture struct {
	db      *gorm.DB
	store   *quota.MemoryStore
	tracker *quota.Tracker
	gen     *stubGenerator
	svc     *GenerationService
}

func newPipeline(t *testing.T, limits quota.Limits, gen ImageGenerator) *pipelineFixture {
	t.Helper()
	db := newServiceDB(t)
	store := quota.NewMemoryStore()
	tracker := quota.NewTracker(store, limits, quota.WithLogger(zerolog.Nop()))
	svc := NewGenerationService(db, nil, tracker, gen, time.Hour)
	svc.Logger = zerolog.Nop()
	f := &pipelineFixture{db: db, store: store, tracker: tracker, svc: svc}
	if sg, ok := gen.(*stubGenerator); ok {
		f.gen = sg
	}
	return f
}

func request(motif, freeText string) domain.GenerationRequest {
	return domain.GenerationRequest{
		Fields: domain.PromptFields{
			Motif:        motif,
			Style:        "traditional",
			ColorPalette: "indigo and gold",
			Region:       "Java",
			Complexity:   "moderate",
		},
		FreeText: freeText,
	}
}

func seedPattern(t *testing.T, db *gorm.DB, owner, motif string) *domain.GeneratedPattern {
	t.Helper()
	now := time.Now().UTC()
	p := &domain.GeneratedPattern{
		ID:               uuid.NewString(),
		RequesterID:      owner,
		FinalPrompt:      "prompt for " + motif,
		Motif:            motif,
		Style:            "traditional",
		Region:           "Java",
		StructuredFields: datatypes.JSON(`{"motif":"` + motif + `"}`),
		ImageURL:         "/assets/" + motif + ".png",
		ImageDigest:      strings.Repeat("a", 64),
		Source:           domain.GenerationFallback,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := repo.CreatePattern(context.Background(), db, p); err != nil {
		t.Fatalf("seed pattern: %v", err)
	}
	return p
}
