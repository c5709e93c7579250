package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/lumenfloor/backend/internal/canvas"
	"go.uber.org/zap"
)

const screenClearedMessage = "screen cleared"
const connectionAliveMessage = "connection alive"

var (
	errMissingStore      = errors.New("canvas store dependency required")
	errMissingWatermarks = errors.New("watermark store dependency required")
	errMissingIDProvider = errors.New("id provider dependency required")
)

// session is one connected client. Implementations must tolerate Send being
// called from any goroutine.
type session interface {
	ID() string
	Send(Envelope) error
}

// HubConfig carries dependencies for the fan-out hub.
type HubConfig struct {
	Store           canvas.Store
	Watermarks      canvas.WatermarkStore
	RetentionCap    int
	MessageMaxChars int
	DrawingMaxBytes int
	Clock           func() time.Time
	IDProvider      canvas.IDProvider
	Logger          *zap.Logger
}

// Hub owns the connection registry and routes every installation event:
// replay on connect, validation and persistence of submissions, fan-out of
// new content, screen clears, and admin count queries.
type Hub struct {
	store           canvas.Store
	watermarks      canvas.WatermarkStore
	retentionCap    int
	messageMaxChars int
	drawingMaxBytes int
	clock           func() time.Time
	idProvider      canvas.IDProvider
	logger          *zap.Logger

	mu       sync.RWMutex
	sessions map[string]session
}

// NewHub validates dependencies and constructs the hub.
func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Watermarks == nil {
		return nil, errMissingWatermarks
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retentionCap := cfg.RetentionCap
	if retentionCap < 1 {
		retentionCap = 15
	}
	messageMaxChars := cfg.MessageMaxChars
	if messageMaxChars < 1 {
		messageMaxChars = 100
	}
	drawingMaxBytes := cfg.DrawingMaxBytes
	if drawingMaxBytes < 1 {
		drawingMaxBytes = 2 << 20
	}

	return &Hub{
		store:           cfg.Store,
		watermarks:      cfg.Watermarks,
		retentionCap:    retentionCap,
		messageMaxChars: messageMaxChars,
		drawingMaxBytes: drawingMaxBytes,
		clock:           clock,
		idProvider:      cfg.IDProvider,
		logger:          logger,
		sessions:        make(map[string]session),
	}, nil
}

// HandleOpen registers the session for broadcasts and replays visible history
// to it. The session joins the broadcast set before the replay queries run,
// so events arriving during replay are not lost.
func (h *Hub) HandleOpen(ctx context.Context, sess session) {
	h.mu.Lock()
	h.sessions[sess.ID()] = sess
	connected := len(h.sessions)
	h.mu.Unlock()

	h.logger.Info("client connected",
		zap.String("session_id", sess.ID()),
		zap.Int("connected", connected))

	h.sendReplay(ctx, sess)
}

// HandleClose removes the session from the broadcast set.
func (h *Hub) HandleClose(sessionID string) {
	h.mu.Lock()
	delete(h.sessions, sessionID)
	connected := len(h.sessions)
	h.mu.Unlock()

	h.logger.Info("client disconnected",
		zap.String("session_id", sessionID),
		zap.Int("connected", connected))
}

// Dispatch routes one inbound envelope to its handler. Unknown events and
// malformed payloads are rejected with an error event to the sender; nothing
// reaches core logic unvalidated and no failure crosses back as a fatal one.
func (h *Hub) Dispatch(ctx context.Context, sess session, envelope Envelope) {
	switch envelope.Event {
	case EventSendMessage:
		h.handleSendMessage(ctx, sess, envelope.Data)
	case EventSendDrawing:
		h.handleSendDrawing(ctx, sess, envelope.Data)
	case EventClearScreen:
		h.handleClearScreen(ctx)
	case EventGetDataCount:
		h.handleGetDataCount(ctx, sess)
	case EventTestConnection:
		h.handleTestConnection(sess)
	default:
		h.reject(sess, envelope.Event, "unknown event")
	}
}

func (h *Hub) handleSendMessage(ctx context.Context, sess session, data json.RawMessage) {
	var payload sendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.reject(sess, EventSendMessage, "malformed payload")
		return
	}
	text, err := canvas.NewMessageText(payload.Text, h.messageMaxChars)
	if err != nil {
		h.reject(sess, EventSendMessage, err.Error())
		return
	}

	record, err := h.store.AppendMessage(ctx, text)
	if err != nil {
		// Accepted lossy behavior: broadcast live, gone after reconnect.
		h.logger.Error("message append failed", zap.Error(err))
		record = canvas.Message{
			ID:        h.fallbackID(),
			Text:      text.String(),
			CreatedAt: h.clock().UTC(),
		}
	} else if err := h.store.PruneMessages(ctx, h.retentionCap); err != nil {
		h.logger.Error("message prune failed", zap.Error(err))
	}

	h.broadcastPayload(EventNewMessage, messagePayload{
		ID:        record.ID,
		Text:      record.Text,
		Timestamp: formatTimestamp(record.CreatedAt),
	})
}

func (h *Hub) handleSendDrawing(ctx context.Context, sess session, data json.RawMessage) {
	var payload sendDrawingPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.reject(sess, EventSendDrawing, "malformed payload")
		return
	}
	image, err := canvas.NewImageData(payload.ImageData, h.drawingMaxBytes)
	if err != nil {
		h.reject(sess, EventSendDrawing, err.Error())
		return
	}
	var position *canvas.Position
	if payload.Position != nil {
		validated, err := canvas.NewPosition(payload.Position.X, payload.Position.Y, payload.Position.Scale)
		if err != nil {
			h.reject(sess, EventSendDrawing, err.Error())
			return
		}
		position = &validated
	}

	record, err := h.store.AppendDrawing(ctx, image, position)
	if err != nil {
		h.logger.Error("drawing append failed", zap.Error(err))
		x, y, scale := positionValues(position)
		record = canvas.Drawing{
			ID:            h.fallbackID(),
			ImageData:     image.String(),
			PositionX:     x,
			PositionY:     y,
			PositionScale: scale,
			CreatedAt:     h.clock().UTC(),
		}
	} else if err := h.store.PruneDrawings(ctx, h.retentionCap); err != nil {
		h.logger.Error("drawing prune failed", zap.Error(err))
	}

	h.broadcastPayload(EventNewDrawing, drawingPayload{
		ID:        record.ID,
		ImageData: record.ImageData,
		Position:  toPositionPayload(record.Position()),
		Timestamp: formatTimestamp(record.CreatedAt),
	})
}

// TODO: clear-screen and get-data-count carry no operator authentication;
// add a shared admin token before exposing the hub beyond the installation LAN.
func (h *Hub) handleClearScreen(ctx context.Context) {
	clearedAt := h.clock().UTC()
	if err := h.watermarks.Set(ctx, clearedAt); err != nil {
		// Displays are still cleared live; history reappears on reconnect.
		h.logger.Error("watermark update failed", zap.Error(err))
	}

	h.broadcastPayload(EventScreenCleared, screenClearedPayload{
		Timestamp: formatTimestamp(clearedAt),
		Message:   screenClearedMessage,
	})
}

func (h *Hub) handleGetDataCount(ctx context.Context, sess session) {
	result := dataCountResultPayload{}

	watermark, err := h.watermarks.Get(ctx)
	if err != nil {
		h.logger.Error("watermark read failed", zap.Error(err))
		result.Error = "watermark unavailable"
		h.sendPayload(sess, EventDataCountResult, result)
		return
	}
	if watermark != nil {
		formatted := formatTimestamp(*watermark)
		result.ScreenClearTimestamp = &formatted
	}

	counts, err := h.store.Counts(ctx, watermark)
	if err != nil {
		// The admin client arms a timeout on this request; it must always be
		// resolved by a real reply, zeroed on failure.
		h.logger.Error("count query failed", zap.Error(err))
		result.Error = "count query failed"
		h.sendPayload(sess, EventDataCountResult, result)
		return
	}

	result.Total = kindCountsPayload{Messages: counts.TotalMessages, Drawings: counts.TotalDrawings}
	result.Visible = kindCountsPayload{Messages: counts.VisibleMessages, Drawings: counts.VisibleDrawings}
	h.sendPayload(sess, EventDataCountResult, result)
}

func (h *Hub) handleTestConnection(sess session) {
	h.sendPayload(sess, EventTestConnectionResult, testConnectionResultPayload{
		Message:   connectionAliveMessage,
		Timestamp: formatTimestamp(h.clock()),
		SocketID:  sess.ID(),
	})
}

// sendReplay sends visible history to one session: up to the retention cap of
// messages and drawings newer than the watermark, reordered oldest-first so
// render-on-arrival clients reconstruct a chronologically sensible scene.
func (h *Hub) sendReplay(ctx context.Context, sess session) {
	watermark, err := h.watermarks.Get(ctx)
	if err != nil {
		h.logger.Error("watermark read failed", zap.Error(err))
		watermark = nil
	}

	messages, err := h.store.RecentMessages(ctx, h.retentionCap, watermark)
	if err != nil {
		h.logger.Error("message replay query failed", zap.Error(err))
		messages = nil
	}
	messagePayloads := make([]messagePayload, 0, len(messages))
	for index := len(messages) - 1; index >= 0; index-- {
		messagePayloads = append(messagePayloads, messagePayload{
			ID:        messages[index].ID,
			Text:      messages[index].Text,
			Timestamp: formatTimestamp(messages[index].CreatedAt),
		})
	}
	h.sendPayload(sess, EventExistingMessages, messagePayloads)

	drawings, err := h.store.RecentDrawings(ctx, h.retentionCap, watermark)
	if err != nil {
		h.logger.Error("drawing replay query failed", zap.Error(err))
		drawings = nil
	}
	drawingPayloads := make([]drawingPayload, 0, len(drawings))
	for index := len(drawings) - 1; index >= 0; index-- {
		drawingPayloads = append(drawingPayloads, drawingPayload{
			ID:        drawings[index].ID,
			ImageData: drawings[index].ImageData,
			Position:  toPositionPayload(drawings[index].Position()),
			Timestamp: formatTimestamp(drawings[index].CreatedAt),
		})
	}
	h.sendPayload(sess, EventExistingDrawings, drawingPayloads)
}

// broadcastPayload delivers one event to every session open at this moment.
func (h *Hub) broadcastPayload(event string, payload interface{}) {
	envelope, err := newEnvelope(event, payload)
	if err != nil {
		h.logger.Error("broadcast encode failed", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	recipients := make([]session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		recipients = append(recipients, sess)
	}
	h.mu.RUnlock()

	for _, recipient := range recipients {
		if err := recipient.Send(envelope); err != nil {
			h.logger.Warn("broadcast delivery failed",
				zap.String("event", event),
				zap.String("session_id", recipient.ID()),
				zap.Error(err))
		}
	}
}

func (h *Hub) sendPayload(sess session, event string, payload interface{}) {
	envelope, err := newEnvelope(event, payload)
	if err != nil {
		h.logger.Error("reply encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	if err := sess.Send(envelope); err != nil {
		h.logger.Warn("reply delivery failed",
			zap.String("event", event),
			zap.String("session_id", sess.ID()),
			zap.Error(err))
	}
}

func (h *Hub) reject(sess session, event, reason string) {
	h.logger.Warn("rejected inbound event",
		zap.String("event", event),
		zap.String("session_id", sess.ID()),
		zap.String("reason", reason))
	h.sendPayload(sess, EventError, errorPayload{Event: event, Message: reason})
}

func (h *Hub) fallbackID() string {
	id, err := h.idProvider.NewID()
	if err != nil {
		h.logger.Error("fallback id generation failed", zap.Error(err))
		return formatTimestamp(h.clock())
	}
	return id
}

func toPositionPayload(position *canvas.Position) *positionPayload {
	if position == nil {
		return nil
	}
	return &positionPayload{X: position.X, Y: position.Y, Scale: position.Scale}
}

func positionValues(position *canvas.Position) (x, y, scale *float64) {
	if position == nil {
		return nil, nil, nil
	}
	xValue, yValue, scaleValue := position.X, position.Y, position.Scale
	return &xValue, &yValue, &scaleValue
}
