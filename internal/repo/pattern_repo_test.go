package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-pattern-backend/internal/domain"
)

func TestCreatePattern_Error_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	err := CreatePattern(context.Background(), db, &domain.GeneratedPattern{ID: "p1"})
	if err == nil {
		t.Fatalf("expected error creating without table")
	}
}

func TestGetPattern_NotFound(t *testing.T) {
	db := newMigratedDB(t)
	if _, err := GetPattern(context.Background(), db, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListPatternsPage_FiltersAndOrder(t *testing.T) {
	db := newMigratedDB(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	seedPattern(t, db, "p1", "u1", "Lotus", "modern", "Java", base)
	seedPattern(t, db, "p2", "u1", "lotus", "traditional", "Bali", base.Add(time.Hour))
	seedPattern(t, db, "p3", "u1", "kawung", "modern", "Java", base.Add(2*time.Hour))
	seedPattern(t, db, "p4", "u2", "lotus", "modern", "Java", base.Add(3*time.Hour))
	if err := MarkInGallery(ctx, db, "p2"); err != nil {
		t.Fatalf("MarkInGallery: %v", err)
	}

	all, total, err := ListPatternsPage(ctx, db, "u1", HistoryFilter{}, 0, 10)
	if err != nil {
		t.Fatalf("ListPatternsPage: %v", err)
	}
	if total != 3 || len(all) != 3 {
		t.Fatalf("expected 3 for u1, got total=%d len=%d", total, len(all))
	}
	if all[0].ID != "p3" || all[2].ID != "p1" {
		t.Fatalf("expected newest first, got %s..%s", all[0].ID, all[2].ID)
	}

	lotus, total, err := ListPatternsPage(ctx, db, "u1", HistoryFilter{Motif: " LOTUS "}, 0, 10)
	if err != nil || total != 2 || len(lotus) != 2 {
		t.Fatalf("motif filter: total=%d len=%d err=%v", total, len(lotus), err)
	}

	yes := true
	promoted, total, err := ListPatternsPage(ctx, db, "u1", HistoryFilter{InGallery: &yes}, 0, 10)
	if err != nil || total != 1 || promoted[0].ID != "p2" {
		t.Fatalf("in_gallery filter: total=%d got=%v err=%v", total, promoted, err)
	}

	page2, total, err := ListPatternsPage(ctx, db, "u1", HistoryFilter{Style: "MODERN", Region: "java"}, 1, 1)
	if err != nil || total != 2 || len(page2) != 1 || page2[0].ID != "p1" {
		t.Fatalf("paged style/region filter: total=%d got=%v err=%v", total, page2, err)
	}
}

func TestIncrementDownloads(t *testing.T) {
	db := newMigratedDB(t)
	ctx := context.Background()
	seedPattern(t, db, "p1", "u1", "lotus", "modern", "Java", time.Now().UTC())

	for want := 1; want <= 3; want++ {
		got, err := IncrementDownloads(ctx, db, "p1")
		if err != nil || got != want {
			t.Fatalf("IncrementDownloads #%d: got=%d err=%v", want, got, err)
		}
	}
	if _, err := IncrementDownloads(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkInGallery_NotFound(t *testing.T) {
	db := newMigratedDB(t)
	if err := MarkInGallery(context.Background(), db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
