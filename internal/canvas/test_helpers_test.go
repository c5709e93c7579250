package canvas

import (
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustText(t *testing.T, value string) MessageText {
	t.Helper()
	text, err := NewMessageText(value, 100)
	if err != nil {
		t.Fatalf("unexpected message text error: %v", err)
	}
	return text
}

func mustImage(t *testing.T, value string) ImageData {
	t.Helper()
	image, err := NewImageData(value, 2<<20)
	if err != nil {
		t.Fatalf("unexpected image data error: %v", err)
	}
	return image
}

func mustPosition(t *testing.T, x, y, scale float64) Position {
	t.Helper()
	position, err := NewPosition(x, y, scale)
	if err != nil {
		t.Fatalf("unexpected position error: %v", err)
	}
	return position
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&Message{}, &Drawing{}, &ClearWatermark{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

// stepClock hands out strictly increasing instants one second apart so
// created-at ordering is deterministic in tests.
type stepClock struct {
	mu      sync.Mutex
	current time.Time
}

func newStepClock(start time.Time) *stepClock {
	return &stepClock{current: start}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}
