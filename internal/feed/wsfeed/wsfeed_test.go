package wsfeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/victorivanov/backchannel/internal/auth"
	"github.com/victorivanov/backchannel/internal/feed"
	"github.com/victorivanov/backchannel/internal/gateway"
	"github.com/victorivanov/backchannel/internal/models"
)

const testSecret = "test-secret"

func newTestGateway(t *testing.T) (*gateway.Manager, string) {
	t.Helper()
	m := gateway.NewManager(auth.NewTokenService(testSecret), nil, gateway.Options{})
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.Serve(ws)
	}))
	t.Cleanup(srv.Close)
	return m, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestClient(t *testing.T, url string, userID int64) *Client {
	t.Helper()
	tok, err := auth.NewTokenService(testSecret).GenerateAccessToken(userID)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	c := New(url, tok)
	t.Cleanup(func() { c.Close() })
	return c
}

func recv(t *testing.T, sub feed.Subscription) feed.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatalf("subscription ended: %v", sub.Err())
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func waitEnded(t *testing.T, sub feed.Subscription) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription did not end")
		}
	}
}

func msg(id, channelID int64) feed.Event {
	return feed.MessageInserted{Message: models.Message{ID: id, ChannelID: channelID, AuthorID: 1, Content: "x"}}
}

func TestSubscribe_FilteredDelivery(t *testing.T) {
	m, url := newTestGateway(t)
	c := newTestClient(t, url, 1)
	ctx := context.Background()

	sub, err := c.Subscribe(ctx, feed.ChannelFilter(10))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	m.Dispatch(msg(1, 11))
	m.Dispatch(feed.ProfileUpdated{Profile: models.Profile{ID: 3}})
	m.Dispatch(msg(2, 10))

	ev := recv(t, sub)
	if ins, ok := ev.(feed.MessageInserted); !ok || ins.Message.ID != 2 {
		t.Errorf("event = %#v, want message 2", ev)
	}
}

func TestSubscribe_SharesConnection(t *testing.T) {
	m, url := newTestGateway(t)
	c := newTestClient(t, url, 1)
	ctx := context.Background()

	chat, err := c.Subscribe(ctx, feed.ChannelFilter(10))
	if err != nil {
		t.Fatalf("Subscribe chat: %v", err)
	}
	profiles, err := c.Subscribe(ctx, feed.Filter{Tables: []feed.Table{feed.TableProfiles}})
	if err != nil {
		t.Fatalf("Subscribe profiles: %v", err)
	}
	if n := m.ConnectionCount(); n != 1 {
		t.Fatalf("ConnectionCount = %d, want 1", n)
	}

	m.Dispatch(feed.ProfileUpdated{Profile: models.Profile{ID: 3, Status: models.StatusBusy}})
	m.Dispatch(msg(5, 10))

	if _, ok := recv(t, profiles).(feed.ProfileUpdated); !ok {
		t.Error("profiles subscription got the wrong event")
	}
	if _, ok := recv(t, chat).(feed.MessageInserted); !ok {
		t.Error("chat subscription got the wrong event")
	}
}

func TestClose_IsClean(t *testing.T) {
	m, url := newTestGateway(t)
	c := newTestClient(t, url, 1)

	a, err := c.Subscribe(context.Background(), feed.ChannelFilter(10))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b, err := c.Subscribe(context.Background(), feed.ChannelFilter(10))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitEnded(t, a)
	if err := a.Err(); err != nil {
		t.Errorf("Err after Close = %v, want nil", err)
	}

	// The other subscription on the same connection keeps working.
	m.Dispatch(msg(1, 10))
	recv(t, b)
}

func TestReconnect_DropsAndRedials(t *testing.T) {
	m, url := newTestGateway(t)
	c := newTestClient(t, url, 1)
	ctx := context.Background()

	sub, err := c.Subscribe(ctx, feed.ChannelFilter(10))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	m.ReconnectAll()
	waitEnded(t, sub)
	if !errors.Is(sub.Err(), feed.ErrDropped) {
		t.Fatalf("Err = %v, want ErrDropped", sub.Err())
	}

	again, err := c.Subscribe(ctx, feed.ChannelFilter(10))
	if err != nil {
		t.Fatalf("Subscribe after drop: %v", err)
	}
	defer again.Close()

	m.Dispatch(msg(7, 10))
	if ins, ok := recv(t, again).(feed.MessageInserted); !ok || ins.Message.ID != 7 {
		t.Errorf("resubscribed stream got %#v", ins)
	}
}

func TestSubscribe_InvalidToken(t *testing.T) {
	_, url := newTestGateway(t)
	c := New(url, "not-a-token")
	defer c.Close()

	_, err := c.Subscribe(context.Background(), feed.ChannelFilter(10))
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("err = %v, want ErrInvalidSession", err)
	}
}

func TestSubscribe_Unreachable(t *testing.T) {
	c := New("ws://127.0.0.1:1/gateway", "t")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.Subscribe(ctx, feed.Filter{}); err == nil {
		t.Fatal("Subscribe to an unreachable gateway succeeded")
	}
}
