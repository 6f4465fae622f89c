// Package natsfeed carries change events over core NATS subjects.
package natsfeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/victorivanov/backchannel/internal/feed"
)

// Bus maps feed topics to NATS subjects ("changes.messages.42"). Core NATS
// does not replay, so a disconnect ends every open subscription with
// feed.ErrDropped and subscribers resync.
type Bus struct {
	nc *nats.Conn

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// Connect dials url and returns a Bus owning the connection.
func Connect(url string) (*Bus, error) {
	b := &Bus{subs: make(map[*subscription]struct{})}
	nc, err := nats.Connect(url,
		nats.Name("backchannel"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
			b.dropAll(fmt.Errorf("nats disconnected: %v", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			b.dropAll(errors.New("nats connection closed"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	b.nc = nc
	return b, nil
}

// Subject converts a ':'-separated feed topic to a NATS subject.
func Subject(topic string) string {
	return strings.ReplaceAll(topic, ":", ".")
}

func (b *Bus) Publish(_ context.Context, ev feed.Event) error {
	data, err := feed.Encode(ev)
	if err != nil {
		return err
	}
	if err := b.nc.Publish(Subject(feed.Topic(ev)), data); err != nil {
		return fmt.Errorf("publishing %s: %w", ev.Table(), err)
	}
	return nil
}

func (b *Bus) Subscribe(_ context.Context, f feed.Filter) (feed.Subscription, error) {
	if !b.nc.IsConnected() {
		return nil, fmt.Errorf("subscribing: %w", nats.ErrConnectionClosed)
	}

	s := &subscription{
		msgs:    make(chan *nats.Msg, 64),
		dropped: make(chan error, 1),
	}
	for _, topic := range f.Topics() {
		ns, err := b.nc.ChanSubscribe(Subject(topic), s.msgs)
		if err != nil {
			s.unsubscribe()
			return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		s.natsSubs = append(s.natsSubs, ns)
	}
	if err := b.nc.Flush(); err != nil {
		s.unsubscribe()
		return nil, fmt.Errorf("flushing subscriptions: %w", err)
	}

	s.stream = feed.NewStream(64, func() error {
		b.forget(s)
		return s.unsubscribe()
	})

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.run(f)
	return s.stream, nil
}

// Close drains and closes the connection.
func (b *Bus) Close() error {
	if b.nc == nil || b.nc.IsClosed() {
		return nil
	}
	return b.nc.Drain()
}

// Conn exposes the underlying connection for health checks.
func (b *Bus) Conn() *nats.Conn { return b.nc }

func (b *Bus) forget(s *subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

func (b *Bus) dropAll(cause error) {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
		delete(b.subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.dropped <- cause:
		default:
		}
	}
}

type subscription struct {
	natsSubs []*nats.Subscription
	msgs     chan *nats.Msg
	dropped  chan error
	stream   *feed.Stream
}

func (s *subscription) run(f feed.Filter) {
	for {
		select {
		case <-s.stream.Done():
			s.stream.Finish(nil)
			return
		case err := <-s.dropped:
			_ = s.unsubscribe()
			s.stream.Finish(err)
			return
		case msg := <-s.msgs:
			ev, err := feed.Decode(msg.Data)
			if err != nil {
				slog.Warn("dropping undecodable change event", "subject", msg.Subject, "error", err)
				continue
			}
			if !f.Match(ev) {
				continue
			}
			if !s.stream.Send(ev) {
				s.stream.Finish(nil)
				return
			}
		}
	}
}

func (s *subscription) unsubscribe() error {
	var firstErr error
	for _, ns := range s.natsSubs {
		if err := ns.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) &&
			!errors.Is(err, nats.ErrBadSubscription) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
