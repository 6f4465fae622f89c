// Package memfeed is an in-process change feed on a watermill GoChannel,
// used when the server and its clients share a process and in tests.
package memfeed

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/victorivanov/backchannel/internal/feed"
)

// topic is the single watermill topic every event travels on; filtering
// happens per subscriber.
const topic = "changes"

// errDropped is the cause given to subscriptions ended by Drop.
var errDropped = errors.New("memfeed: dropped")

type Bus struct {
	pubsub *gochannel.GoChannel

	mu   sync.Mutex
	subs map[*feed.Stream]context.CancelCauseFunc
}

func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NewSlogLogger(logger)),
		subs:   make(map[*feed.Stream]context.CancelCauseFunc),
	}
}

func (b *Bus) Publish(_ context.Context, ev feed.Event) error {
	data, err := feed.Encode(ev)
	if err != nil {
		return err
	}
	return b.pubsub.Publish(topic, message.NewMessage(uuid.NewString(), data))
}

func (b *Bus) Subscribe(_ context.Context, f feed.Filter) (feed.Subscription, error) {
	ctx, cancel := context.WithCancelCause(context.Background())
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		cancel(nil)
		return nil, err
	}

	var stream *feed.Stream
	stream = feed.NewStream(64, func() error {
		b.mu.Lock()
		delete(b.subs, stream)
		b.mu.Unlock()
		cancel(nil)
		return nil
	})

	b.mu.Lock()
	b.subs[stream] = cancel
	b.mu.Unlock()

	go receive(ctx, msgs, f, stream)
	return stream, nil
}

// Drop ends every open subscription as if the transport had failed.
func (b *Bus) Drop() {
	b.mu.Lock()
	cancels := make([]context.CancelCauseFunc, 0, len(b.subs))
	for s, cancel := range b.subs {
		cancels = append(cancels, cancel)
		delete(b.subs, s)
	}
	b.mu.Unlock()

	for _, cancel := range cancels {
		cancel(errDropped)
	}
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}

func receive(ctx context.Context, msgs <-chan *message.Message, f feed.Filter, stream *feed.Stream) {
	for msg := range msgs {
		ev, err := feed.Decode(msg.Payload)
		msg.Ack()
		if err != nil {
			slog.Warn("dropping undecodable change event", "uuid", msg.UUID, "error", err)
			continue
		}
		if !f.Match(ev) {
			continue
		}
		if !stream.Send(ev) {
			break
		}
	}
	if cause := context.Cause(ctx); errors.Is(cause, errDropped) {
		stream.Finish(cause)
		return
	}
	stream.Finish(nil)
}
