package canvas

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"
)

func newTestGormStore(t *testing.T) (*GormStore, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	clock := newStepClock(time.Unix(1700000000, 0).UTC())
	store, err := NewGormStore(GormStoreConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build gorm store: %v", err)
	}
	return store, db
}

func TestGormStoreAppendAssignsIdentity(t *testing.T) {
	store, _ := newTestGormStore(t)
	ctx := context.Background()

	record, err := store.AppendMessage(ctx, mustText(t, "hello"))
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if record.ID == "" {
		t.Fatalf("expected store-assigned id")
	}
	if record.CreatedAt.IsZero() {
		t.Fatalf("expected store-assigned creation instant")
	}

	recent, err := store.RecentMessages(ctx, 10, nil)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != record.ID || recent[0].Text != "hello" {
		t.Fatalf("unexpected stored row: %#v", recent)
	}
}

func TestGormStorePruneDeletesOldestBatch(t *testing.T) {
	store, _ := newTestGormStore(t)
	ctx := context.Background()

	for index := 1; index <= 18; index++ {
		if _, err := store.AppendMessage(ctx, mustText(t, fmt.Sprintf("message %d", index))); err != nil {
			t.Fatalf("append %d failed: %v", index, err)
		}
	}
	if err := store.PruneMessages(ctx, 15); err != nil {
		t.Fatalf("prune failed: %v", err)
	}

	counts, err := store.Counts(ctx, nil)
	if err != nil {
		t.Fatalf("counts failed: %v", err)
	}
	if counts.TotalMessages != 15 {
		t.Fatalf("expected exactly 15 after one prune pass, got %d", counts.TotalMessages)
	}

	recent, err := store.RecentMessages(ctx, 100, nil)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	oldest := recent[len(recent)-1]
	if oldest.Text != "message 4" {
		t.Fatalf("expected the 3 oldest deleted, oldest retained is %q", oldest.Text)
	}
}

func TestGormStorePruneBelowLimitIsNoop(t *testing.T) {
	store, _ := newTestGormStore(t)
	ctx := context.Background()

	for index := 1; index <= 5; index++ {
		if _, err := store.AppendMessage(ctx, mustText(t, fmt.Sprintf("m%d", index))); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	if err := store.PruneMessages(ctx, 15); err != nil {
		t.Fatalf("prune failed: %v", err)
	}

	counts, err := store.Counts(ctx, nil)
	if err != nil {
		t.Fatalf("counts failed: %v", err)
	}
	if counts.TotalMessages != 5 {
		t.Fatalf("expected all 5 retained, got %d", counts.TotalMessages)
	}
}

func TestGormStoreRecentNewestFirstWithSince(t *testing.T) {
	store, _ := newTestGormStore(t)
	ctx := context.Background()

	var watermark time.Time
	for index := 1; index <= 6; index++ {
		record, err := store.AppendMessage(ctx, mustText(t, fmt.Sprintf("m%d", index)))
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if index == 4 {
			watermark = record.CreatedAt
		}
	}

	recent, err := store.RecentMessages(ctx, 10, &watermark)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 messages strictly after since, got %d", len(recent))
	}
	if recent[0].Text != "m6" || recent[1].Text != "m5" {
		t.Fatalf("expected newest first, got %q then %q", recent[0].Text, recent[1].Text)
	}

	capped, err := store.RecentMessages(ctx, 3, nil)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(capped) != 3 || capped[0].Text != "m6" {
		t.Fatalf("expected limit applied to newest rows, got %#v", capped)
	}
}

func TestGormStoreCountsRespectWatermark(t *testing.T) {
	store, _ := newTestGormStore(t)
	ctx := context.Background()

	var watermark time.Time
	for index := 1; index <= 4; index++ {
		record, err := store.AppendMessage(ctx, mustText(t, fmt.Sprintf("m%d", index)))
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if index == 2 {
			watermark = record.CreatedAt
		}
	}
	position := mustPosition(t, 10, 10, 1)
	if _, err := store.AppendDrawing(ctx, mustImage(t, "data:image/png;base64,AAAA"), &position); err != nil {
		t.Fatalf("append drawing failed: %v", err)
	}

	counts, err := store.Counts(ctx, &watermark)
	if err != nil {
		t.Fatalf("counts failed: %v", err)
	}
	if counts.TotalMessages != 4 || counts.VisibleMessages != 2 {
		t.Fatalf("unexpected message counts: %+v", counts)
	}
	if counts.TotalDrawings != 1 || counts.VisibleDrawings != 1 {
		t.Fatalf("unexpected drawing counts: %+v", counts)
	}
}

func TestGormStoreDrawingPositionSurvivesStorage(t *testing.T) {
	store, _ := newTestGormStore(t)
	ctx := context.Background()

	position := mustPosition(t, 33.5, 66.5, 0.75)
	record, err := store.AppendDrawing(ctx, mustImage(t, "data:image/png;base64,AAAA"), &position)
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, err := store.AppendDrawing(ctx, mustImage(t, "data:image/png;base64,BBBB"), nil); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	recent, err := store.RecentDrawings(ctx, 10, nil)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 drawings, got %d", len(recent))
	}
	if recent[0].Position() != nil {
		t.Fatalf("expected newest drawing to have no position")
	}
	stored := recent[1]
	if stored.ID != record.ID {
		t.Fatalf("unexpected ordering: %#v", recent)
	}
	got := stored.Position()
	if got == nil || got.X != 33.5 || got.Y != 66.5 || got.Scale != 0.75 {
		t.Fatalf("position not preserved: %#v", got)
	}
}

func TestGormStorePingSucceedsOnOpenDatabase(t *testing.T) {
	store, _ := newTestGormStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("expected ping to succeed: %v", err)
	}
}
