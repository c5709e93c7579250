package canvas

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// GormStoreConfig carries dependencies for the durable store.
type GormStoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// GormStore persists submissions in the relational document store.
type GormStore struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewGormStore validates dependencies and constructs the durable store.
func NewGormStore(cfg GormStoreConfig) (*GormStore, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("canvas: new gorm store: %w", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("canvas: new gorm store: %w", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GormStore{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// AppendMessage implements Store.
func (s *GormStore) AppendMessage(ctx context.Context, text MessageText) (Message, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		return Message{}, fmt.Errorf("canvas: append message: %w", err)
	}
	record := Message{
		ID:        id,
		Text:      text.String(),
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return Message{}, fmt.Errorf("canvas: append message: %w", err)
	}
	return record, nil
}

// AppendDrawing implements Store.
func (s *GormStore) AppendDrawing(ctx context.Context, image ImageData, position *Position) (Drawing, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		return Drawing{}, fmt.Errorf("canvas: append drawing: %w", err)
	}
	x, y, scale := positionColumns(position)
	record := Drawing{
		ID:            id,
		ImageData:     image.String(),
		PositionX:     x,
		PositionY:     y,
		PositionScale: scale,
		CreatedAt:     s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return Drawing{}, fmt.Errorf("canvas: append drawing: %w", err)
	}
	return record, nil
}

// PruneMessages implements Store.
func (s *GormStore) PruneMessages(ctx context.Context, limit int) error {
	return s.pruneOverflow(ctx, &Message{}, limit)
}

// PruneDrawings implements Store.
func (s *GormStore) PruneDrawings(ctx context.Context, limit int) error {
	return s.pruneOverflow(ctx, &Drawing{}, limit)
}

// pruneOverflow deletes the oldest excess rows in a single batch inside one
// transaction, so a burst of appends settles to exactly the cap.
func (s *GormStore) pruneOverflow(ctx context.Context, model interface{}, limit int) error {
	if limit < 0 {
		limit = 0
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var total int64
		if err := tx.Model(model).Count(&total).Error; err != nil {
			return fmt.Errorf("canvas: prune: %w", err)
		}
		excess := total - int64(limit)
		if excess <= 0 {
			return nil
		}

		var oldestIDs []string
		if err := tx.Model(model).
			Order("created_at ASC").
			Limit(int(excess)).
			Pluck("id", &oldestIDs).Error; err != nil {
			return fmt.Errorf("canvas: prune: %w", err)
		}
		if err := tx.Delete(model, "id IN ?", oldestIDs).Error; err != nil {
			return fmt.Errorf("canvas: prune: %w", err)
		}
		return nil
	})
}

// RecentMessages implements Store.
func (s *GormStore) RecentMessages(ctx context.Context, limit int, since *time.Time) ([]Message, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if since != nil {
		query = query.Where("created_at > ?", since.UTC())
	}
	messages := make([]Message, 0, limit)
	if err := query.Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("canvas: recent messages: %w", err)
	}
	return messages, nil
}

// RecentDrawings implements Store.
func (s *GormStore) RecentDrawings(ctx context.Context, limit int, since *time.Time) ([]Drawing, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if since != nil {
		query = query.Where("created_at > ?", since.UTC())
	}
	drawings := make([]Drawing, 0, limit)
	if err := query.Find(&drawings).Error; err != nil {
		return nil, fmt.Errorf("canvas: recent drawings: %w", err)
	}
	return drawings, nil
}

// Counts implements Store.
func (s *GormStore) Counts(ctx context.Context, watermark *time.Time) (Counts, error) {
	var counts Counts
	db := s.db.WithContext(ctx)

	if err := db.Model(&Message{}).Count(&counts.TotalMessages).Error; err != nil {
		return Counts{}, fmt.Errorf("canvas: counts: %w", err)
	}
	if err := db.Model(&Drawing{}).Count(&counts.TotalDrawings).Error; err != nil {
		return Counts{}, fmt.Errorf("canvas: counts: %w", err)
	}

	if watermark == nil {
		counts.VisibleMessages = counts.TotalMessages
		counts.VisibleDrawings = counts.TotalDrawings
		return counts, nil
	}

	if err := db.Model(&Message{}).Where("created_at > ?", watermark.UTC()).Count(&counts.VisibleMessages).Error; err != nil {
		return Counts{}, fmt.Errorf("canvas: counts: %w", err)
	}
	if err := db.Model(&Drawing{}).Where("created_at > ?", watermark.UTC()).Count(&counts.VisibleDrawings).Error; err != nil {
		return Counts{}, fmt.Errorf("canvas: counts: %w", err)
	}
	return counts, nil
}

// Ping implements Store.
func (s *GormStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		return fmt.Errorf("canvas: ping: %w", err)
	}
	return nil
}
