// Package redisfeed carries change events over Redis pub/sub.
package redisfeed

import (
	"context"
	"errors"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/victorivanov/backchannel/internal/feed"
	"github.com/victorivanov/backchannel/internal/redis"
)

// Bus publishes each event on its feed.Topic and subscribes with patterns,
// so channel scoping happens in Redis.
type Bus struct {
	client *redis.Client
}

func New(client *redis.Client) *Bus {
	return &Bus{client: client}
}

func (b *Bus) Publish(ctx context.Context, ev feed.Event) error {
	data, err := feed.Encode(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, feed.Topic(ev), data)
}

func (b *Bus) Subscribe(ctx context.Context, f feed.Filter) (feed.Subscription, error) {
	ps, err := b.client.PSubscribe(ctx, f.Topics()...)
	if err != nil {
		return nil, err
	}

	recvCtx, cancel := context.WithCancel(context.Background())
	stream := feed.NewStream(64, func() error {
		cancel()
		return ps.Close()
	})
	go receive(recvCtx, ps, f, stream)
	return stream, nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (b *Bus) Close() error { return nil }

func receive(ctx context.Context, ps *goredis.PubSub, f feed.Filter, stream *feed.Stream) {
	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			stream.Finish(err)
			return
		}
		ev, err := feed.Decode([]byte(msg.Payload))
		if err != nil {
			slog.Warn("dropping undecodable change event", "channel", msg.Channel, "error", err)
			continue
		}
		if !f.Match(ev) {
			continue
		}
		if !stream.Send(ev) {
			stream.Finish(nil)
			return
		}
	}
}
