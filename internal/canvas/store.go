package canvas

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Store is the persistence adapter for visitor submissions. One implementation
// is selected at startup and used for the process lifetime.
type Store interface {
	// AppendMessage durably stores validated text and returns the full record
	// with its store-assigned identifier and creation instant.
	AppendMessage(ctx context.Context, text MessageText) (Message, error)
	// AppendDrawing durably stores a validated drawing, preserving the
	// optional submission-time position.
	AppendDrawing(ctx context.Context, image ImageData, position *Position) (Drawing, error)
	// PruneMessages deletes oldest-first overflow in one pass so that at most
	// limit messages remain.
	PruneMessages(ctx context.Context, limit int) error
	// PruneDrawings is the drawing counterpart of PruneMessages.
	PruneDrawings(ctx context.Context, limit int) error
	// RecentMessages returns up to limit messages newest-first, restricted to
	// those created strictly after since when since is non-nil.
	RecentMessages(ctx context.Context, limit int, since *time.Time) ([]Message, error)
	// RecentDrawings is the drawing counterpart of RecentMessages.
	RecentDrawings(ctx context.Context, limit int, since *time.Time) ([]Drawing, error)
	// Counts reports totals per kind plus the subset created after watermark.
	// A nil watermark means everything is visible.
	Counts(ctx context.Context, watermark *time.Time) (Counts, error)
	// Ping verifies store connectivity with a trivial query.
	Ping(ctx context.Context) error
}

// WatermarkStore holds the single mutable instant marking the last screen
// clear. The zero state (never cleared) is reported as a nil instant.
type WatermarkStore interface {
	Get(ctx context.Context) (*time.Time, error)
	// Set overwrites the watermark. Instants older than the current value are
	// ignored so the watermark never rewinds.
	Set(ctx context.Context, clearedAt time.Time) error
}

// SelectStore probes the durable store within probeTimeout and returns it when
// reachable, otherwise the in-memory fallback. The decision is permanent for
// the process lifetime; there is no later promotion back to the durable store.
func SelectStore(ctx context.Context, durable Store, fallback Store, probeTimeout time.Duration, logger *zap.Logger) Store {
	if durable == nil {
		return fallback
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := durable.Ping(probeCtx); err != nil {
		logger.Warn("durable store unreachable, falling back to in-memory storage",
			zap.Duration("probe_timeout", probeTimeout),
			zap.Error(err))
		return fallback
	}
	return durable
}
