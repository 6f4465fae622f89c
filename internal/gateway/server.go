package gateway

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// HandleWebSocket handles GET /gateway by upgrading to WebSocket.
func (m *Manager) HandleWebSocket(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("gateway upgrade error", "error", err)
		return nil
	}

	m.Serve(ws)
	return nil
}

// Serve runs the gateway protocol on an upgraded socket. It returns
// immediately; the pumps run until the connection closes.
func (m *Manager) Serve(ws *websocket.Conn) {
	conn := newConnection(ws, m)

	// Send HELLO with heartbeat interval.
	conn.SendPayload(GatewayPayload{
		Op: OpHello,
		Data: mustMarshal(HelloData{
			HeartbeatInterval: int(m.heartbeatInterval.Milliseconds()),
		}),
	})

	go conn.writePump()
	go conn.readPump()
}
