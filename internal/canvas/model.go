package canvas

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	// ErrInvalidMessageText indicates that a submitted message is empty or exceeds the length cap.
	ErrInvalidMessageText = errors.New("canvas: invalid message text")
	// ErrInvalidImageData indicates that a submitted drawing payload is empty, malformed, or oversized.
	ErrInvalidImageData = errors.New("canvas: invalid image data")
	// ErrInvalidPosition indicates that a drawing position is outside the normalized bounds.
	ErrInvalidPosition = errors.New("canvas: invalid position")
)

const (
	dataURIPrefix = "data:"
	maxPercent    = 100
	maxScale      = 10
)

// MessageText represents validated visitor-submitted text.
type MessageText string

// NewMessageText validates raw input against the configured rune cap.
func NewMessageText(rawInput string, maxChars int) (MessageText, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidMessageText)
	}
	if utf8.RuneCountInString(trimmed) > maxChars {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidMessageText, maxChars)
	}
	return MessageText(trimmed), nil
}

// String returns the underlying text.
func (t MessageText) String() string {
	return string(t)
}

// ImageData represents a validated self-contained raster image encoded as a data URI.
// The encoded pixels are opaque to the backend; only framing and size are checked.
type ImageData string

// NewImageData validates raw input against the configured byte cap.
func NewImageData(rawInput string, maxBytes int) (ImageData, error) {
	if rawInput == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidImageData)
	}
	if !strings.HasPrefix(rawInput, dataURIPrefix) {
		return "", fmt.Errorf("%w: not a data URI", ErrInvalidImageData)
	}
	if len(rawInput) > maxBytes {
		return "", fmt.Errorf("%w: exceeds %d bytes", ErrInvalidImageData, maxBytes)
	}
	return ImageData(rawInput), nil
}

// String returns the underlying data URI.
func (d ImageData) String() string {
	return string(d)
}

// Position locks in normalized placement for a drawing at submission time so
// replays reproduce identical placement on every display.
type Position struct {
	X     float64
	Y     float64
	Scale float64
}

// NewPosition validates normalized percentage coordinates and a display-size factor.
func NewPosition(x, y, scale float64) (Position, error) {
	if x < 0 || x > maxPercent || y < 0 || y > maxPercent {
		return Position{}, fmt.Errorf("%w: coordinates out of range", ErrInvalidPosition)
	}
	if scale <= 0 || scale > maxScale {
		return Position{}, fmt.Errorf("%w: scale out of range", ErrInvalidPosition)
	}
	return Position{X: x, Y: y, Scale: scale}, nil
}

// Message models a persisted visitor text submission.
type Message struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	Text      string    `gorm:"column:text;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_messages_created"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "messages"
}

// Drawing models a persisted visitor drawing submission. Position columns are
// nullable because older protocol variants submitted drawings without one.
type Drawing struct {
	ID            string    `gorm:"column:id;primaryKey;size:190;not null"`
	ImageData     string    `gorm:"column:image_data;type:text;not null"`
	PositionX     *float64  `gorm:"column:position_x"`
	PositionY     *float64  `gorm:"column:position_y"`
	PositionScale *float64  `gorm:"column:position_scale"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;index:idx_drawings_created"`
}

// TableName provides the explicit table binding for GORM.
func (Drawing) TableName() string {
	return "drawings"
}

// Position reconstructs the optional submission-time placement.
func (d Drawing) Position() *Position {
	if d.PositionX == nil || d.PositionY == nil || d.PositionScale == nil {
		return nil
	}
	return &Position{X: *d.PositionX, Y: *d.PositionY, Scale: *d.PositionScale}
}

func positionColumns(position *Position) (x, y, scale *float64) {
	if position == nil {
		return nil, nil, nil
	}
	xValue, yValue, scaleValue := position.X, position.Y, position.Scale
	return &xValue, &yValue, &scaleValue
}

// Counts aggregates stored-item totals alongside the subset still visible
// past the current clear watermark.
type Counts struct {
	TotalMessages   int64
	TotalDrawings   int64
	VisibleMessages int64
	VisibleDrawings int64
}
