package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var errMissingHub = errors.New("hub dependency required")

// Dependencies wires the HTTP front to the fan-out hub.
type Dependencies struct {
	Hub    *Hub
	Logger *zap.Logger
	// ReadLimit bounds inbound websocket frames; 0 leaves the library default.
	ReadLimit int64
}

// NewHTTPHandler builds the gin router serving the health probe and the
// websocket upgrade endpoint.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Touch and display pages are served from arbitrary hosts around the
		// installation, matching the permissive CORS policy above.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	handler := &httpHandler{
		hub:       deps.Hub,
		upgrader:  upgrader,
		readLimit: deps.ReadLimit,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/ws", handler.handleWebsocket)

	return router, nil
}

type httpHandler struct {
	hub       *Hub
	upgrader  websocket.Upgrader
	readLimit int64
	logger    *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleWebsocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := newWSSession(uuid.NewString(), conn, h.logger)
	serveConnection(c.Request.Context(), h.hub, sess, h.readLimit)
}
