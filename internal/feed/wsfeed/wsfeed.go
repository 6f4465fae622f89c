// Package wsfeed subscribes to the change feed through the server's
// WebSocket gateway. Subscriptions share one connection; when it is lost
// every open subscription ends with feed.ErrDropped and the next Subscribe
// dials again.
package wsfeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/victorivanov/backchannel/internal/feed"
	"github.com/victorivanov/backchannel/internal/gateway"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	streamBuffer     = 64
)

// ErrInvalidSession is returned when the gateway rejects the token.
var ErrInvalidSession = errors.New("wsfeed: invalid session")

// Client is a feed.Subscriber backed by the gateway.
type Client struct {
	url    string
	token  string
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *conn
}

func New(url, token string) *Client {
	return &Client{url: url, token: token, dialer: websocket.DefaultDialer}
}

// Subscribe opens a filtered stream, dialing the gateway if no connection
// is live. It returns once the gateway has acknowledged the filter.
func (c *Client) Subscribe(ctx context.Context, f feed.Filter) (feed.Subscription, error) {
	cn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	stream := feed.NewStream(streamBuffer, func() error {
		if s := cn.remove(id); s != nil {
			s.finish(nil)
			_ = cn.write(gateway.OpUnsubscribe, gateway.UnsubscribeData{ID: id})
		}
		return nil
	})
	ack := cn.add(id, f, stream)

	data := gateway.SubscribeData{ID: id, ChannelID: f.ChannelID, Tables: f.Tables}
	if err := cn.write(gateway.OpSubscribe, data); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("%w: %v", feed.ErrDropped, err)
	}

	select {
	case <-ack:
		return stream, nil
	case <-cn.done:
		return nil, fmt.Errorf("%w: %v", feed.ErrDropped, cn.cause())
	case <-ctx.Done():
		_ = stream.Close()
		return nil, ctx.Err()
	}
}

// Close closes the live connection, ending every subscription.
func (c *Client) Close() error {
	c.mu.Lock()
	cn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if cn != nil {
		cn.shutdown(nil)
	}
	return nil
}

func (c *Client) connect(ctx context.Context) (*conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		select {
		case <-c.conn.done:
			c.conn = nil
		default:
			return c.conn, nil
		}
	}

	cn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = cn
	go cn.readLoop()
	return cn, nil
}

// dial opens the socket and runs HELLO / IDENTIFY / READY.
func (c *Client) dial(ctx context.Context) (*conn, error) {
	ws, _, err := c.dialer.DialContext(ctx, c.url, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dialing gateway: %w", err)
	}
	cn := &conn{
		ws:   ws,
		subs: make(map[string]*subscription),
		done: make(chan struct{}),
	}

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetReadDeadline(deadline)

	hello, err := cn.read()
	if err != nil || hello.Op != gateway.OpHello {
		_ = ws.Close()
		return nil, fmt.Errorf("reading HELLO: %w", errOr(err, "unexpected op"))
	}
	var hd gateway.HelloData
	if err := json.Unmarshal(hello.Data, &hd); err != nil || hd.HeartbeatInterval <= 0 {
		_ = ws.Close()
		return nil, fmt.Errorf("decoding HELLO: %w", errOr(err, "missing heartbeat interval"))
	}
	cn.heartbeat = time.Duration(hd.HeartbeatInterval) * time.Millisecond

	if err := cn.write(gateway.OpIdentify, gateway.IdentifyData{Token: c.token}); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("sending IDENTIFY: %w", err)
	}

	for {
		p, err := cn.read()
		if err != nil {
			_ = ws.Close()
			return nil, fmt.Errorf("waiting for READY: %w", err)
		}
		switch {
		case p.Op == gateway.OpInvalidSession:
			_ = ws.Close()
			return nil, ErrInvalidSession
		case p.Op == gateway.OpHeartbeat:
			_ = cn.write(gateway.OpHeartbeat, nil)
		case p.Op == gateway.OpDispatch && p.Event != nil && *p.Event == gateway.EventReady:
			var ready gateway.ReadyData
			_ = json.Unmarshal(p.Data, &ready)
			slog.Debug("gateway ready", "sessionID", ready.SessionID, "userID", ready.UserID)
			return cn, nil
		}
	}
}

func errOr(err error, msg string) error {
	if err != nil {
		return err
	}
	return errors.New(msg)
}

type subscription struct {
	filter feed.Filter
	stream *feed.Stream
	ack    chan struct{}
	acked  bool

	// mu serializes delivery with Finish so nothing is sent on a finished
	// stream.
	mu       sync.Mutex
	finished bool
}

func (s *subscription) deliver(ev feed.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		s.stream.Send(ev)
	}
}

func (s *subscription) finish(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	s.stream.Finish(cause)
}

// conn is one gateway connection and the subscriptions multiplexed on it.
type conn struct {
	ws        *websocket.Conn
	heartbeat time.Duration
	writeMu   sync.Mutex

	mu   sync.Mutex
	subs map[string]*subscription
	err  error

	done     chan struct{}
	doneOnce sync.Once
}

func (cn *conn) read() (gateway.GatewayPayload, error) {
	var p gateway.GatewayPayload
	_, raw, err := cn.ws.ReadMessage()
	if err != nil {
		return p, err
	}
	err = json.Unmarshal(raw, &p)
	return p, err
}

func (cn *conn) write(op int, d any) error {
	p := gateway.GatewayPayload{Op: op}
	if d != nil {
		raw, err := json.Marshal(d)
		if err != nil {
			return err
		}
		p.Data = raw
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	cn.writeMu.Lock()
	defer cn.writeMu.Unlock()
	_ = cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return cn.ws.WriteMessage(websocket.TextMessage, data)
}

func (cn *conn) add(id string, f feed.Filter, stream *feed.Stream) <-chan struct{} {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	s := &subscription{filter: f, stream: stream, ack: make(chan struct{})}
	cn.subs[id] = s
	return s.ack
}

// remove forgets a subscription, returning it if it was present.
func (cn *conn) remove(id string) *subscription {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	s := cn.subs[id]
	delete(cn.subs, id)
	return s
}

func (cn *conn) cause() error {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return cn.err
}

// readLoop owns the socket's read side until the connection ends.
func (cn *conn) readLoop() {
	// The server asks for a heartbeat every interval; silence for two of
	// them means the connection is gone.
	readWait := 2*cn.heartbeat + handshakeTimeout
	for {
		_ = cn.ws.SetReadDeadline(time.Now().Add(readWait))
		p, err := cn.read()
		if err != nil {
			cn.shutdown(err)
			return
		}

		switch p.Op {
		case gateway.OpHeartbeat:
			if err := cn.write(gateway.OpHeartbeat, nil); err != nil {
				cn.shutdown(err)
				return
			}
		case gateway.OpReconnect:
			cn.shutdown(errors.New("gateway requested reconnect"))
			return
		case gateway.OpInvalidSession:
			cn.shutdown(ErrInvalidSession)
			return
		case gateway.OpDispatch:
			if p.Event == nil {
				continue
			}
			switch *p.Event {
			case gateway.EventSubscribed:
				cn.handleAck(p.Data)
			case gateway.EventChange:
				cn.handleChange(p.Data)
			}
		}
	}
}

func (cn *conn) handleAck(data json.RawMessage) {
	var ack gateway.SubscribedData
	if err := json.Unmarshal(data, &ack); err != nil {
		return
	}
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if s, ok := cn.subs[ack.ID]; ok && !s.acked {
		s.acked = true
		close(s.ack)
	}
}

func (cn *conn) handleChange(data json.RawMessage) {
	ev, err := feed.Decode(data)
	if err != nil {
		slog.Warn("dropping undecodable change event", "error", err)
		return
	}

	cn.mu.Lock()
	targets := make([]*subscription, 0, len(cn.subs))
	for _, s := range cn.subs {
		if s.acked && s.filter.Match(ev) {
			targets = append(targets, s)
		}
	}
	cn.mu.Unlock()

	for _, s := range targets {
		s.deliver(ev)
	}
}

// shutdown closes the socket and ends every subscription. A nil cause is a
// deliberate close.
func (cn *conn) shutdown(cause error) {
	cn.doneOnce.Do(func() {
		cn.mu.Lock()
		cn.err = cause
		subs := cn.subs
		cn.subs = make(map[string]*subscription)
		cn.mu.Unlock()

		close(cn.done)
		_ = cn.ws.Close()

		for _, s := range subs {
			s.finish(cause)
		}
	})
}
