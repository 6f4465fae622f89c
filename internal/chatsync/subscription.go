package chatsync

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/victorivanov/backchannel/internal/feed"
)

// channelFilter selects the channel's messages and typing rows and the
// global reaction and receipt topics, which are filtered by message
// membership on receipt.
func channelFilter(channelID int64) feed.Filter {
	return feed.ChannelFilter(channelID)
}

// supervise keeps s attached to the feed. The first attachment's outcome is
// reported on ready; after that a dropped feed is resubscribed with backoff
// and every successful resubscription reloads the channel in full.
func (c *Client) supervise(s *Session, ready chan<- error) {
	var gen uint64
	attach := func() (feed.Subscription, <-chan struct{}, error) {
		gen++
		return c.attach(s, gen)
	}

	sub, ended, err := attach()
	ready <- err
	if err != nil {
		return
	}

	b := backoff.WithContext(c.opts.NewBackOff(), s.ctx)
	for {
		select {
		case <-s.ctx.Done():
			sub.Close()
			<-ended
			return
		case <-ended:
		}
		if s.ctx.Err() != nil {
			return
		}

		cause := sub.Err()
		if cause == nil {
			cause = ErrSubscriptionDropped
		}
		c.post(func() { c.dropped(s, cause) })

		b.Reset()
		err := backoff.RetryNotify(func() error {
			var err error
			sub, ended, err = attach()
			return err
		}, b, func(err error, wait time.Duration) {
			slog.Warn("resubscribe failed", "channelID", s.ChannelID, "retryIn", wait, "error", err)
		})
		if err != nil {
			return
		}
	}
}

// attach subscribes, starts buffering, pumps events to the loop and loads
// the channel. It returns once the load has been applied; the returned
// channel closes when the subscription ends.
func (c *Client) attach(s *Session, gen uint64) (feed.Subscription, <-chan struct{}, error) {
	sub, err := c.feed.Subscribe(s.ctx, channelFilter(s.ChannelID))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: subscribe: %w", ErrTransient, err)
	}
	if !c.post(func() { c.beginLoad(s, gen) }) {
		sub.Close()
		return nil, nil, backoff.Permanent(ErrClosed)
	}

	ended := make(chan struct{})
	go func() {
		defer close(ended)
		for ev := range sub.Events() {
			if !c.post(func() { c.handleEvent(s, gen, ev) }) {
				sub.Close()
			}
		}
	}()

	st, err := c.fetchInitial(s.ctx, s.ChannelID)
	if err != nil {
		sub.Close()
		<-ended
		return nil, nil, fmt.Errorf("load channel %d: %w", s.ChannelID, err)
	}
	if err := c.do(s.ctx, func() { c.finishLoad(s, gen, st) }); err != nil {
		sub.Close()
		<-ended
		return nil, nil, backoff.Permanent(err)
	}
	return sub, ended, nil
}
