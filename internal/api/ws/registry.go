package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stratlab/stratlab-be/shared/metrics"
)

var errConnClosed = errors.New("connection closed")

// Conn is the write side of a WebSocket connection. *websocket.Conn
// satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// client pairs a connection with its owner. All writes go through
// send, so the single-writer rule of the underlying connection holds
// regardless of how many goroutines push messages.
type client struct {
	id     string
	userID string
	conn   Conn

	mu     sync.Mutex
	closed bool
}

func (c *client) send(payload []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errConnClosed
	}
	if timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// close shuts the underlying connection exactly once.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	_ = c.conn.Close()
}

// Registry tracks live WebSocket connections by connection id and by
// user, so one user with three tabs open gets three copies of every
// message addressed to them.
type Registry struct {
	logger       *slog.Logger
	writeTimeout time.Duration

	mu      sync.RWMutex
	clients map[string]*client
	users   map[string]map[string]struct{}
}

func NewRegistry(writeTimeout time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		logger:       logger,
		writeTimeout: writeTimeout,
		clients:      make(map[string]*client),
		users:        make(map[string]map[string]struct{}),
	}
}

// Connect registers conn under connectionID for userID. Reusing a
// connection id closes the previous connection first.
func (r *Registry) Connect(connectionID, userID string, conn Conn) {
	r.mu.Lock()
	old := r.clients[connectionID]
	if old != nil {
		r.removeLocked(connectionID)
	}

	r.clients[connectionID] = &client{
		id:     connectionID,
		userID: userID,
		conn:   conn,
	}
	if r.users[userID] == nil {
		r.users[userID] = make(map[string]struct{})
	}
	r.users[userID][connectionID] = struct{}{}

	connections, users := len(r.clients), len(r.users)
	r.mu.Unlock()

	if old != nil {
		old.close()
	}

	metrics.WSConnectionsActive.Set(float64(connections))
	metrics.WSUsersActive.Set(float64(users))

	r.logger.Info("WebSocket client connected",
		slog.String("connection_id", connectionID),
		slog.String("user_id", userID),
		slog.Int("total_connections", connections),
	)
}

// Disconnect removes the connection and closes it. Calling it for an
// unknown or already-removed id is a no-op.
func (r *Registry) Disconnect(connectionID string) {
	r.mu.Lock()
	cl := r.clients[connectionID]
	if cl == nil {
		r.mu.Unlock()
		return
	}
	r.removeLocked(connectionID)
	connections, users := len(r.clients), len(r.users)
	r.mu.Unlock()

	cl.close()

	metrics.WSConnectionsActive.Set(float64(connections))
	metrics.WSUsersActive.Set(float64(users))

	r.logger.Info("WebSocket client disconnected",
		slog.String("connection_id", connectionID),
		slog.String("user_id", cl.userID),
		slog.Int("total_connections", connections),
	)
}

// removeLocked drops the connection from both maps. Caller holds r.mu.
func (r *Registry) removeLocked(connectionID string) {
	cl := r.clients[connectionID]
	if cl == nil {
		return
	}
	delete(r.clients, connectionID)

	if set := r.users[cl.userID]; set != nil {
		delete(set, connectionID)
		if len(set) == 0 {
			delete(r.users, cl.userID)
		}
	}
}

// Send writes payload to a single connection.
func (r *Registry) Send(connectionID string, payload []byte) error {
	r.mu.RLock()
	cl := r.clients[connectionID]
	r.mu.RUnlock()

	if cl == nil {
		return errConnClosed
	}
	return cl.send(payload, r.writeTimeout)
}

// SendToUser delivers payload to every connection the user has open
// and returns how many deliveries succeeded. Failed connections are
// dropped, but only after the loop so one dead tab cannot starve the
// others.
func (r *Registry) SendToUser(userID string, payload []byte) int {
	r.mu.RLock()
	var targets []*client
	for connectionID := range r.users[userID] {
		if cl := r.clients[connectionID]; cl != nil {
			targets = append(targets, cl)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	var failed []string
	for _, cl := range targets {
		if err := cl.send(payload, r.writeTimeout); err != nil {
			metrics.WSSendFailures.Inc()
			r.logger.Warn("WebSocket send failed",
				slog.String("connection_id", cl.id),
				slog.String("user_id", userID),
				slog.Any("error", err),
			)
			failed = append(failed, cl.id)
			continue
		}
		delivered++
	}

	for _, connectionID := range failed {
		r.Disconnect(connectionID)
	}

	return delivered
}

// Broadcast delivers payload to every open connection. A failing
// connection is dropped without affecting the rest.
func (r *Registry) Broadcast(payload []byte) int {
	r.mu.RLock()
	targets := make([]*client, 0, len(r.clients))
	for _, cl := range r.clients {
		targets = append(targets, cl)
	}
	r.mu.RUnlock()

	delivered := 0
	var failed []string
	for _, cl := range targets {
		if err := cl.send(payload, r.writeTimeout); err != nil {
			metrics.WSSendFailures.Inc()
			r.logger.Warn("WebSocket broadcast send failed",
				slog.String("connection_id", cl.id),
				slog.Any("error", err),
			)
			failed = append(failed, cl.id)
			continue
		}
		delivered++
	}

	for _, connectionID := range failed {
		r.Disconnect(connectionID)
	}

	return delivered
}

// Counts reports how many connections and distinct users are online.
func (r *Registry) Counts() (connections, users int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients), len(r.users)
}

// CloseAll disconnects every client, for shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Disconnect(id)
	}
}
