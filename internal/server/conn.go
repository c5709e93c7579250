package server

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const outboundBufferSize = 32

var (
	errSessionClosed = errors.New("session closed")
	errSlowConsumer  = errors.New("outbound buffer full")
)

// wsSession adapts one websocket connection to the hub's session interface.
// Writes are serialized through a buffered channel drained by a single writer
// goroutine; a session that cannot keep up misses events and recovers them on
// reconnect through replay.
type wsSession struct {
	id       string
	conn     *websocket.Conn
	outbound chan Envelope
	logger   *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newWSSession(id string, conn *websocket.Conn, logger *zap.Logger) *wsSession {
	return &wsSession{
		id:       id,
		conn:     conn,
		outbound: make(chan Envelope, outboundBufferSize),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

func (s *wsSession) ID() string {
	return s.id
}

func (s *wsSession) Send(envelope Envelope) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.outbound <- envelope:
		return nil
	default:
		return errSlowConsumer
	}
}

func (s *wsSession) writePump() {
	for {
		select {
		case <-s.done:
			return
		case envelope := <-s.outbound:
			if err := s.conn.WriteJSON(envelope); err != nil {
				s.logger.Debug("websocket write failed",
					zap.String("session_id", s.id),
					zap.Error(err))
				s.close()
				return
			}
		}
	}
}

func (s *wsSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// serveConnection runs one websocket connection to completion: register with
// the hub, pump outbound events, dispatch inbound events until the peer goes
// away, then deregister.
func serveConnection(ctx context.Context, hub *Hub, sess *wsSession, readLimit int64) {
	if readLimit > 0 {
		sess.conn.SetReadLimit(readLimit)
	}

	go sess.writePump()
	hub.HandleOpen(ctx, sess)

	for {
		var envelope Envelope
		if err := sess.conn.ReadJSON(&envelope); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.logger.Debug("websocket read failed",
					zap.String("session_id", sess.id),
					zap.Error(err))
			}
			break
		}
		hub.Dispatch(ctx, sess, envelope)
	}

	hub.HandleClose(sess.id)
	sess.close()
}
