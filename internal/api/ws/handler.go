package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/stratlab/stratlab-be/internal/auth"
)

const (
	typeConnectionEstablished = "connection.established"
	typePing                  = "ping"
	typePong                  = "pong"
)

// clientMessage is what clients may send us. Timestamp is opaque and
// echoed back verbatim on pings.
type clientMessage struct {
	Type      string `json:"type"`
	Timestamp any    `json:"timestamp,omitempty"`
}

// Handler upgrades HTTP requests to WebSocket connections and keeps
// them registered for push delivery until the peer goes away.
type Handler struct {
	registry  *Registry
	verifier  auth.Verifier
	logger    *slog.Logger
	readLimit int64
	upgrader  websocket.Upgrader
}

func NewHandler(registry *Registry, verifier auth.Verifier, readLimit int64, logger *slog.Logger) *Handler {
	return &Handler{
		registry:  registry,
		verifier:  verifier,
		logger:    logger,
		readLimit: readLimit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

// Serve handles GET /ws?token=...
// The token is checked after the upgrade so rejected clients receive a
// proper close frame instead of a bare HTTP error.
func (h *Handler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", slog.Any("error", err))
		return
	}

	claims, err := h.verifier.Verify(c.Query("token"))
	if err != nil {
		h.logger.Warn("WebSocket auth failed", slog.Any("error", err))
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token"),
			deadline,
		)
		_ = conn.Close()
		return
	}

	connectionID := uuid.New().String()
	h.registry.Connect(connectionID, claims.UserID, conn)
	defer h.registry.Disconnect(connectionID)

	if err := h.sendEstablished(connectionID, claims.UserID); err != nil {
		h.logger.Warn("Failed to send connection acknowledgement",
			slog.String("connection_id", connectionID),
			slog.Any("error", err),
		)
		return
	}

	if h.readLimit > 0 {
		conn.SetReadLimit(h.readLimit)
	}
	h.readLoop(connectionID, conn)
}

func (h *Handler) sendEstablished(connectionID, userID string) error {
	payload, err := json.Marshal(map[string]any{
		"type":      typeConnectionEstablished,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"client_id": connectionID,
			"user_id":   userID,
		},
	})
	if err != nil {
		return err
	}
	return h.registry.Send(connectionID, payload)
}

// readLoop consumes client messages until the connection drops. Pings
// get a pong through the registry, everything else is ignored.
func (h *Handler) readLoop(connectionID string, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("WebSocket read ended",
					slog.String("connection_id", connectionID),
					slog.Any("error", err),
				)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("Ignoring malformed client message",
				slog.String("connection_id", connectionID),
			)
			continue
		}

		switch msg.Type {
		case typePing:
			h.handlePing(connectionID, msg)
		default:
			h.logger.Debug("Ignoring client message",
				slog.String("connection_id", connectionID),
				slog.String("type", msg.Type),
			)
		}
	}
}

func (h *Handler) handlePing(connectionID string, msg clientMessage) {
	payload, err := json.Marshal(clientMessage{
		Type:      typePong,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		return
	}
	if err := h.registry.Send(connectionID, payload); err != nil {
		h.logger.Debug("Failed to answer ping",
			slog.String("connection_id", connectionID),
			slog.Any("error", err),
		)
	}
}
