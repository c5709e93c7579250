package canvas

import (
	"context"
	"testing"
	"time"
)

func TestMemoryWatermarkStartsUnset(t *testing.T) {
	store := NewMemoryWatermarkStore()
	got, err := store.Get(context.Background())
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected unset watermark, got %v", got)
	}
}

func TestMemoryWatermarkNeverRewinds(t *testing.T) {
	store := NewMemoryWatermarkStore()
	ctx := context.Background()

	later := time.Unix(1700000100, 0).UTC()
	earlier := time.Unix(1700000000, 0).UTC()

	if err := store.Set(ctx, later); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Set(ctx, earlier); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	got, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || !got.Equal(later) {
		t.Fatalf("expected watermark to stay at %v, got %v", later, got)
	}

	latest := time.Unix(1700000200, 0).UTC()
	if err := store.Set(ctx, latest); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err = store.Get(ctx)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || !got.Equal(latest) {
		t.Fatalf("expected watermark to advance to %v, got %v", latest, got)
	}
}

func TestGormWatermarkSetThenGet(t *testing.T) {
	db := openTestDB(t)
	store, err := NewGormWatermarkStore(db, nil)
	if err != nil {
		t.Fatalf("failed to build watermark store: %v", err)
	}
	ctx := context.Background()

	got, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected unset watermark on fresh database, got %v", got)
	}

	clearedAt := time.Unix(1700000000, 0).UTC()
	if err := store.Set(ctx, clearedAt); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err = store.Get(ctx)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || !got.Equal(clearedAt) {
		t.Fatalf("expected %v back, got %v", clearedAt, got)
	}
}

func TestGormWatermarkReloadedAfterRestart(t *testing.T) {
	db := openTestDB(t)
	first, err := NewGormWatermarkStore(db, nil)
	if err != nil {
		t.Fatalf("failed to build watermark store: %v", err)
	}
	ctx := context.Background()

	clearedAt := time.Unix(1700000000, 0).UTC()
	if err := first.Set(ctx, clearedAt); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	// A new store over the same database stands in for a process restart.
	second, err := NewGormWatermarkStore(db, nil)
	if err != nil {
		t.Fatalf("failed to rebuild watermark store: %v", err)
	}
	got, err := second.Get(ctx)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || !got.Equal(clearedAt) {
		t.Fatalf("expected reloaded watermark %v, got %v", clearedAt, got)
	}
}

func TestGormWatermarkNeverRewinds(t *testing.T) {
	db := openTestDB(t)
	store, err := NewGormWatermarkStore(db, nil)
	if err != nil {
		t.Fatalf("failed to build watermark store: %v", err)
	}
	ctx := context.Background()

	later := time.Unix(1700000100, 0).UTC()
	earlier := time.Unix(1700000000, 0).UTC()

	if err := store.Set(ctx, later); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Set(ctx, earlier); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	got, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || !got.Equal(later) {
		t.Fatalf("expected watermark to stay at %v, got %v", later, got)
	}
}
