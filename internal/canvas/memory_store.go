package canvas

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is the in-process fallback used when the durable store is
// unreachable at startup. Contents are lost on process restart. Each kind is
// a fixed-capacity sequence evicting oldest on push-over-capacity.
type MemoryStore struct {
	mu         sync.Mutex
	capacity   int
	messages   []Message
	drawings   []Drawing
	clock      func() time.Time
	idProvider IDProvider
}

// MemoryStoreConfig carries dependencies for the in-memory fallback store.
type MemoryStoreConfig struct {
	Capacity   int
	Clock      func() time.Time
	IDProvider IDProvider
}

// NewMemoryStore constructs the fallback store.
func NewMemoryStore(cfg MemoryStoreConfig) (*MemoryStore, error) {
	if cfg.Capacity < 1 {
		return nil, fmt.Errorf("canvas: new memory store: capacity must be at least 1")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("canvas: new memory store: %w", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &MemoryStore{
		capacity:   cfg.Capacity,
		messages:   make([]Message, 0, cfg.Capacity),
		drawings:   make([]Drawing, 0, cfg.Capacity),
		clock:      clock,
		idProvider: cfg.IDProvider,
	}, nil
}

// AppendMessage implements Store.
func (s *MemoryStore) AppendMessage(_ context.Context, text MessageText) (Message, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		return Message{}, fmt.Errorf("canvas: append message: %w", err)
	}
	record := Message{
		ID:        id,
		Text:      text.String(),
		CreatedAt: s.clock().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, record)
	if len(s.messages) > s.capacity {
		s.messages = s.messages[len(s.messages)-s.capacity:]
	}
	return record, nil
}

// AppendDrawing implements Store.
func (s *MemoryStore) AppendDrawing(_ context.Context, image ImageData, position *Position) (Drawing, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	s.drawings = append(s.drawings, record)
	if len(s.drawings) > s.capacity {
		s.drawings = s.drawings[len(s.drawings)-s.capacity:]
	}
	return record, nil
}

// PruneMessages implements Store.
func (s *MemoryStore) PruneMessages(_ context.Context, limit int) error {
	if limit < 0 {
		limit = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) > limit {
		s.messages = s.messages[len(s.messages)-limit:]
	}
	return nil
}

// PruneDrawings implements Store.
func (s *MemoryStore) PruneDrawings(_ context.Context, limit int) error {
	if limit < 0 {
		limit = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.drawings) > limit {
		s.drawings = s.drawings[len(s.drawings)-limit:]
	}
	return nil
}

// RecentMessages implements Store.
func (s *MemoryStore) RecentMessages(_ context.Context, limit int, since *time.Time) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Message, 0, limit)
	for index := len(s.messages) - 1; index >= 0 && len(result) < limit; index-- {
		candidate := s.messages[index]
		if since != nil && !candidate.CreatedAt.After(*since) {
			continue
		}
		result = append(result, candidate)
	}
	return result, nil
}

// RecentDrawings implements Store.
func (s *MemoryStore) RecentDrawings(_ context.Context, limit int, since *time.Time) ([]Drawing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Drawing, 0, limit)
	for index := len(s.drawings) - 1; index >= 0 && len(result) < limit; index-- {
		candidate := s.drawings[index]
		if since != nil && !candidate.CreatedAt.After(*since) {
			continue
		}
		result = append(result, candidate)
	}
	return result, nil
}

// Counts implements Store.
func (s *MemoryStore) Counts(_ context.Context, watermark *time.Time) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := Counts{
		TotalMessages: int64(len(s.messages)),
		TotalDrawings: int64(len(s.drawings)),
	}
	for _, message := range s.messages {
		if watermark == nil || message.CreatedAt.After(*watermark) {
			counts.VisibleMessages++
		}
	}
	for _, drawing := range s.drawings {
		if watermark == nil || drawing.CreatedAt.After(*watermark) {
			counts.VisibleDrawings++
		}
	}
	return counts, nil
}

// Ping implements Store. The in-process store is always reachable.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}
