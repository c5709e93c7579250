package server

import (
	"encoding/json"
	"time"
)

// Inbound event names, preserved from the original installation protocol.
const (
	EventSendMessage    = "send-message"
	EventSendDrawing    = "send-drawing"
	EventClearScreen    = "clear-screen"
	EventGetDataCount   = "get-data-count"
	EventTestConnection = "test-connection"
)

// Outbound event names.
const (
	EventExistingMessages     = "existing-messages"
	EventExistingDrawings     = "existing-drawings"
	EventNewMessage           = "new-message"
	EventNewDrawing           = "new-drawing"
	EventScreenCleared        = "screen-cleared"
	EventDataCountResult      = "data-count-result"
	EventTestConnectionResult = "test-connection-result"
	EventError                = "error"
)

// timestampLayout matches the ISO-8601 strings the display clients parse.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// Envelope frames every event on the wire as {"event": name, "data": payload}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func newEnvelope(event string, payload interface{}) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

type sendMessagePayload struct {
	Text string `json:"text"`
}

type positionPayload struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale"`
}

type sendDrawingPayload struct {
	ImageData string           `json:"imageData"`
	Position  *positionPayload `json:"position"`
}

type messagePayload struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

type drawingPayload struct {
	ID        string           `json:"id"`
	ImageData string           `json:"imageData"`
	Position  *positionPayload `json:"position"`
	Timestamp string           `json:"timestamp"`
}

type screenClearedPayload struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

type kindCountsPayload struct {
	Messages int64 `json:"messages"`
	Drawings int64 `json:"drawings"`
}

type dataCountResultPayload struct {
	Total                kindCountsPayload `json:"total"`
	Visible              kindCountsPayload `json:"visible"`
	ScreenClearTimestamp *string           `json:"screenClearTimestamp"`
	Error                string            `json:"error,omitempty"`
}

type testConnectionResultPayload struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	SocketID  string `json:"socketId"`
}

type errorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
