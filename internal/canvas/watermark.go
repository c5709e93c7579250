package canvas

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const watermarkRowID = 1

// ClearWatermark is the durable singleton row recording the last screen clear.
type ClearWatermark struct {
	ID        int64     `gorm:"column:id;primaryKey"`
	ClearedAt time.Time `gorm:"column:cleared_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ClearWatermark) TableName() string {
	return "clear_watermarks"
}

// GormWatermarkStore persists the watermark and keeps an in-process cached
// copy so reads after a clear see the new value without a round trip.
type GormWatermarkStore struct {
	db     *gorm.DB
	logger *zap.Logger

	mu     sync.RWMutex
	cached *time.Time
}

// NewGormWatermarkStore reloads the persisted watermark so a process restart
// does not silently reveal previously cleared history.
func NewGormWatermarkStore(db *gorm.DB, logger *zap.Logger) (*GormWatermarkStore, error) {
	if db == nil {
		return nil, fmt.Errorf("canvas: new watermark store: %w", errMissingDatabase)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	store := &GormWatermarkStore{db: db, logger: logger}

	var record ClearWatermark
	err := db.Where("id = ?", watermarkRowID).First(&record).Error
	switch {
	case err == nil:
		clearedAt := record.ClearedAt.UTC()
		store.cached = &clearedAt
		logger.Info("clear watermark reloaded", zap.Time("cleared_at", clearedAt))
	case errors.Is(err, gorm.ErrRecordNotFound):
		// No clear has ever occurred; all history stays visible.
	default:
		return nil, fmt.Errorf("canvas: new watermark store: %w", err)
	}

	return store, nil
}

// Get implements WatermarkStore using the cached copy.
func (s *GormWatermarkStore) Get(_ context.Context) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cached == nil {
		return nil, nil
	}
	copied := *s.cached
	return &copied, nil
}

// Set implements WatermarkStore. The watermark never rewinds; an instant
// older than the current value is ignored. Concurrent clears resolve as
// last write wins.
func (s *GormWatermarkStore) Set(ctx context.Context, clearedAt time.Time) error {
	clearedAt = clearedAt.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil && clearedAt.Before(*s.cached) {
		return nil
	}

	record := ClearWatermark{ID: watermarkRowID, ClearedAt: clearedAt}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"cleared_at"}),
	}).Create(&record).Error; err != nil {
		return fmt.Errorf("canvas: set watermark: %w", err)
	}

	s.cached = &clearedAt
	return nil
}

// MemoryWatermarkStore keeps the watermark in process memory only, for use
// alongside the in-memory fallback store.
type MemoryWatermarkStore struct {
	mu     sync.RWMutex
	cached *time.Time
}

// NewMemoryWatermarkStore constructs an empty in-memory watermark store.
func NewMemoryWatermarkStore() *MemoryWatermarkStore {
	return &MemoryWatermarkStore{}
}

// Get implements WatermarkStore.
func (s *MemoryWatermarkStore) Get(_ context.Context) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cached == nil {
		return nil, nil
	}
	copied := *s.cached
	return &copied, nil
}

// Set implements WatermarkStore with the same no-rewind rule as the durable store.
func (s *MemoryWatermarkStore) Set(_ context.Context, clearedAt time.Time) error {
	clearedAt = clearedAt.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil && clearedAt.Before(*s.cached) {
		return nil
	}
	s.cached = &clearedAt
	return nil
}
