package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/victorivanov/backchannel/internal/feed"
	"github.com/victorivanov/backchannel/internal/metrics"
)

// Relay forwards every event on the change bus to the Manager. It
// implements suture.Service: when the bus subscription drops, connected
// clients are told to reconnect (they missed events and must resync) and
// Serve returns so the supervisor restarts it.
type Relay struct {
	manager Dispatcher
	bus     feed.Subscriber
}

func NewRelay(manager Dispatcher, bus feed.Subscriber) *Relay {
	return &Relay{manager: manager, bus: bus}
}

func (r *Relay) Serve(ctx context.Context) error {
	sub, err := r.bus.Subscribe(ctx, feed.Filter{})
	if err != nil {
		return fmt.Errorf("subscribing gateway relay: %w", err)
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				metrics.FeedSubscriptionDrops.Inc()
				n := r.manager.ReconnectAll()
				slog.Warn("change feed dropped, reconnecting clients", "clients", n, "error", sub.Err())
				if err := sub.Err(); err != nil {
					return err
				}
				return feed.ErrDropped
			}
			r.manager.Dispatch(ev)
		}
	}
}

func (r *Relay) String() string { return "gateway-relay" }
