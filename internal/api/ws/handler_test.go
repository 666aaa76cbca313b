package ws

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratlab/stratlab-be/internal/auth"
	"github.com/stratlab/stratlab-be/shared/logger"
)

type fakeVerifier struct{}

func (fakeVerifier) Verify(token string) (*auth.Claims, error) {
	if token != "good-token" {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{UserID: "user-1"}, nil
}

type serverEvent struct {
	Type      string         `json:"type"`
	Timestamp any            `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

func startWSServer(t *testing.T) (*Registry, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := newTestRegistry()
	handler := NewHandler(registry, fakeVerifier{}, 4096, logger.NewNop().Logger)

	router := gin.New()
	router.GET("/ws", handler.Serve)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return registry, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) serverEvent {
	t.Helper()
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev serverEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHandler_EstablishedThenPingPong(t *testing.T) {
	_, url := startWSServer(t)

	conn := dialWS(t, url+"?token=good-token")

	established := readEvent(t, conn)
	assert.Equal(t, "connection.established", established.Type)
	assert.Equal(t, "user-1", established.Data["user_id"])
	assert.NotEmpty(t, established.Data["client_id"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","timestamp":12345}`)))

	pong := readEvent(t, conn)
	assert.Equal(t, "pong", pong.Type)
	assert.Equal(t, float64(12345), pong.Timestamp)
}

func TestHandler_UnknownMessagesIgnored(t *testing.T) {
	_, url := startWSServer(t)

	conn := dialWS(t, url+"?token=good-token")
	readEvent(t, conn) // connection.established

	// Neither junk nor unknown types should break the connection.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","timestamp":"later"}`)))

	pong := readEvent(t, conn)
	assert.Equal(t, "pong", pong.Type)
	assert.Equal(t, "later", pong.Timestamp)
}

func TestHandler_RejectsBadToken(t *testing.T) {
	_, url := startWSServer(t)

	// The upgrade itself succeeds; the rejection arrives as a close frame.
	conn, _, err := websocket.DefaultDialer.Dial(url+"?token=wrong", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)

	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestHandler_PushReachesClient(t *testing.T) {
	registry, url := startWSServer(t)

	conn := dialWS(t, url+"?token=good-token")
	readEvent(t, conn) // connection.established

	payload, err := json.Marshal(map[string]any{
		"type":      "document.processing.completed",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      map[string]any{"document_id": "doc-9"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return registry.SendToUser("user-1", payload) == 1
	}, 2*time.Second, 20*time.Millisecond)

	ev := readEvent(t, conn)
	assert.Equal(t, "document.processing.completed", ev.Type)
	assert.Equal(t, "doc-9", ev.Data["document_id"])
}

func TestHandler_DisconnectCleansRegistry(t *testing.T) {
	registry, url := startWSServer(t)

	conn := dialWS(t, url+fmt.Sprintf("?token=%s", "good-token"))
	readEvent(t, conn)

	require.Eventually(t, func() bool {
		connections, _ := registry.Counts()
		return connections == 1
	}, 2*time.Second, 20*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		connections, users := registry.Counts()
		return connections == 0 && users == 0
	}, 2*time.Second, 20*time.Millisecond)
}
