package gateway

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/victorivanov/backchannel/internal/feed"
	"github.com/victorivanov/backchannel/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 256
	maxFilters     = 16
)

// Connection represents a single WebSocket client connection.
type Connection struct {
	UserID    int64
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	manager   *Manager
	sequence  atomic.Int64

	filtersMu sync.RWMutex
	filters   map[string]feed.Filter

	closeOnce sync.Once
	done      chan struct{}

	lastHeartbeat atomic.Int64 // unix millis of last heartbeat from client
}

func newConnection(conn *websocket.Conn, manager *Manager) *Connection {
	c := &Connection{
		Conn:    conn,
		Send:    make(chan []byte, sendBufferSize),
		manager: manager,
		filters: make(map[string]feed.Filter),
		done:    make(chan struct{}),
	}
	c.lastHeartbeat.Store(time.Now().UnixMilli())
	return c
}

// NextSequence increments and returns the next sequence number.
func (c *Connection) NextSequence() int64 {
	return c.sequence.Add(1)
}

// Identified reports whether the connection completed IDENTIFY.
func (c *Connection) Identified() bool {
	return c.SessionID != ""
}

// SendPayload marshals and queues a payload to be sent.
func (c *Connection) SendPayload(p GatewayPayload) {
	data, err := json.Marshal(p)
	if err != nil {
		slog.Error("marshal error", "userID", c.UserID, "error", err)
		return
	}
	select {
	case c.Send <- data:
	default:
		metrics.GatewayDroppedSends.Inc()
		slog.Warn("send buffer full, dropping message", "userID", c.UserID)
	}
}

// SendEvent sends a dispatch event with a sequence number.
func (c *Connection) SendEvent(name string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("marshal event error", "event", name, "error", err)
		return
	}
	c.sendRaw(name, raw)
}

func (c *Connection) sendRaw(name string, raw json.RawMessage) {
	seq := c.NextSequence()
	c.SendPayload(GatewayPayload{
		Op:       OpDispatch,
		Data:     raw,
		Sequence: &seq,
		Event:    &name,
	})
}

// addFilter registers a subscription filter under id, replacing any filter
// with the same id.
func (c *Connection) addFilter(id string, f feed.Filter) bool {
	c.filtersMu.Lock()
	defer c.filtersMu.Unlock()
	if _, ok := c.filters[id]; !ok && len(c.filters) >= maxFilters {
		return false
	}
	c.filters[id] = f
	return true
}

func (c *Connection) removeFilter(id string) {
	c.filtersMu.Lock()
	defer c.filtersMu.Unlock()
	delete(c.filters, id)
}

// wants reports whether any of the connection's filters selects ev.
func (c *Connection) wants(ev feed.Event) bool {
	c.filtersMu.RLock()
	defer c.filtersMu.RUnlock()
	for _, f := range c.filters {
		if f.Match(ev) {
			return true
		}
	}
	return false
}

// Close terminates the connection. The write pump flushes payloads queued
// before Close and then closes the socket.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// readPump reads messages from the WebSocket and handles them.
func (c *Connection) readPump() {
	defer func() {
		c.manager.unregister(c)
		c.Close()
	}()

	readWait := c.manager.heartbeatInterval + c.manager.heartbeatTimeout
	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(readWait))

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("read error", "userID", c.UserID, "error", err)
			}
			return
		}
		_ = c.Conn.SetReadDeadline(time.Now().Add(readWait))
		c.handleMessage(message)
	}
}

// writePump writes messages from the Send channel to the WebSocket,
// and sends heartbeats on a timer.
func (c *Connection) writePump() {
	interval := c.manager.heartbeatInterval
	heartbeatTicker := time.NewTicker(interval)
	defer func() {
		heartbeatTicker.Stop()
		c.Close()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-heartbeatTicker.C:
			// Check if client responded to last heartbeat.
			lastAck := c.lastHeartbeat.Load()
			if time.Since(time.UnixMilli(lastAck)) > interval+c.manager.heartbeatTimeout {
				slog.Warn("heartbeat timeout", "userID", c.UserID, "sessionID", c.SessionID)
				return
			}
			c.SendPayload(GatewayPayload{Op: OpHeartbeat})

		case <-c.done:
			// Flush what is already queued, such as a RECONNECT.
			for {
				select {
				case message := <-c.Send:
					_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
						return
					}
				default:
					_ = c.Conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

// handleMessage processes an incoming gateway payload from the client.
func (c *Connection) handleMessage(data []byte) {
	var payload GatewayPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		slog.Error("invalid payload", "userID", c.UserID, "error", err)
		return
	}

	switch payload.Op {
	case OpHeartbeat:
		c.lastHeartbeat.Store(time.Now().UnixMilli())
		c.SendPayload(GatewayPayload{Op: OpHeartbeatAck})

	case OpHeartbeatAck:
		c.lastHeartbeat.Store(time.Now().UnixMilli())

	case OpIdentify:
		c.manager.handleIdentify(c, payload.Data)

	case OpSubscribe:
		c.manager.handleSubscribe(c, payload.Data)

	case OpUnsubscribe:
		c.manager.handleUnsubscribe(c, payload.Data)
	}
}
