package gateway

import (
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/victorivanov/backchannel/internal/auth"
	"github.com/victorivanov/backchannel/internal/feed"
	"github.com/victorivanov/backchannel/internal/metrics"
)

// Options tunes the gateway's timers.
type Options struct {
	// HeartbeatInterval is how often the server asks the client for a
	// heartbeat. It is announced in HELLO.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is the slack past an interval before a silent
	// connection is closed.
	HeartbeatTimeout time.Duration
	// PresenceGrace is how long a user may be fully disconnected before
	// being marked offline.
	PresenceGrace time.Duration
}

// DefaultOptions returns the production timer settings.
func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: 41250 * time.Millisecond,
		HeartbeatTimeout:  10 * time.Second,
		PresenceGrace:     10 * time.Second,
	}
}

// Manager manages all active WebSocket connections and event routing.
// A user may hold several connections at once; each has its own filters.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Connection // sessionID → connection
	users    map[int64]int          // userID → open connection count

	tokens   *auth.TokenService
	presence PresenceSetter

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	presenceGrace     time.Duration
}

// NewManager creates a new gateway Manager. presence may be nil, in which
// case disconnects do not touch profile status.
func NewManager(tokens *auth.TokenService, presence PresenceSetter, opts Options) *Manager {
	def := DefaultOptions()
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = def.HeartbeatInterval
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if opts.PresenceGrace <= 0 {
		opts.PresenceGrace = def.PresenceGrace
	}
	return &Manager{
		sessions:          make(map[string]*Connection),
		users:             make(map[int64]int),
		tokens:            tokens,
		presence:          presence,
		heartbeatInterval: opts.HeartbeatInterval,
		heartbeatTimeout:  opts.HeartbeatTimeout,
		presenceGrace:     opts.PresenceGrace,
	}
}

// register adds an identified connection to the manager.
func (m *Manager) register(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[c.SessionID] = c
	m.users[c.UserID]++
	metrics.GatewayConnections.Inc()
}

// unregister removes a connection from the manager. When it was the user's
// last connection, presence is cleared after the grace period.
func (m *Manager) unregister(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.sessions[c.SessionID]
	if !ok || existing != c {
		return
	}
	delete(m.sessions, c.SessionID)
	metrics.GatewayConnections.Dec()

	m.users[c.UserID]--
	if m.users[c.UserID] <= 0 {
		delete(m.users, c.UserID)
		userID := c.UserID
		time.AfterFunc(m.presenceGrace, func() { m.clearPresence(userID) })
	}
}

// Connected reports whether the user has at least one identified connection.
func (m *Manager) Connected(userID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.users[userID] > 0
}

// ConnectionCount returns the number of identified connections.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Dispatch sends ev to every connection with a matching filter. The
// envelope is encoded once and shared.
func (m *Manager) Dispatch(ev feed.Event) {
	raw, err := feed.Encode(ev)
	if err != nil {
		slog.Error("failed to encode change event", "table", ev.Table(), "error", err)
		return
	}

	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.sessions))
	for _, c := range m.sessions {
		if c.wants(ev) {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range conns {
		c.sendRaw(EventChange, raw)
	}
	if len(conns) > 0 {
		metrics.GatewayDispatched.WithLabelValues(string(ev.Table())).Add(float64(len(conns)))
	}
}

// ReconnectAll tells every client to reconnect and closes its connection.
// Used when the upstream feed was lost and clients must resync. It returns
// the number of connections closed.
func (m *Manager) ReconnectAll() int {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.sessions))
	for _, c := range m.sessions {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		c.SendPayload(GatewayPayload{Op: OpReconnect})
		c.Close()
	}
	return len(conns)
}

// handleIdentify processes an IDENTIFY payload from a client.
func (m *Manager) handleIdentify(c *Connection, data json.RawMessage) {
	if c.Identified() {
		return
	}

	var identify IdentifyData
	if err := json.Unmarshal(data, &identify); err != nil {
		slog.Error("invalid identify data", "error", err)
		m.rejectSession(c)
		return
	}

	claims, err := m.tokens.ValidateAccessToken(identify.Token)
	if err != nil {
		slog.Warn("invalid token in identify", "error", err)
		m.rejectSession(c)
		return
	}

	c.UserID = claims.UserID
	c.SessionID = uuid.NewString()
	m.register(c)

	c.SendEvent(EventReady, ReadyData{
		SessionID: c.SessionID,
		UserID:    c.UserID,
	})
}

// handleSubscribe registers a filter on the connection and acknowledges it.
func (m *Manager) handleSubscribe(c *Connection, data json.RawMessage) {
	if !c.Identified() {
		m.rejectSession(c)
		return
	}

	var sub SubscribeData
	if err := json.Unmarshal(data, &sub); err != nil || sub.ID == "" {
		slog.Warn("invalid subscribe data", "userID", c.UserID, "error", err)
		return
	}
	if !c.addFilter(sub.ID, sub.Filter()) {
		slog.Warn("too many subscriptions", "userID", c.UserID, "sessionID", c.SessionID)
		return
	}

	c.SendEvent(EventSubscribed, SubscribedData{ID: sub.ID})
}

func (m *Manager) handleUnsubscribe(c *Connection, data json.RawMessage) {
	if !c.Identified() {
		m.rejectSession(c)
		return
	}

	var unsub UnsubscribeData
	if err := json.Unmarshal(data, &unsub); err != nil {
		return
	}
	c.removeFilter(unsub.ID)
}

func (m *Manager) rejectSession(c *Connection) {
	c.SendPayload(GatewayPayload{Op: OpInvalidSession})
	c.Close()
}
