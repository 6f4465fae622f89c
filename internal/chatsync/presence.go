package chatsync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/victorivanov/backchannel/internal/feed"
	"github.com/victorivanov/backchannel/internal/models"
)

// SetStatus changes the status the heartbeat writes and writes it at once.
// Allowed values are online and busy; offline is written when Run stops.
func (c *Client) SetStatus(ctx context.Context, status string) error {
	if status != models.StatusOnline && status != models.StatusBusy {
		return errors.New("chatsync: status must be online or busy")
	}
	if c.opts.HeartbeatInterval < 0 {
		return c.backend.UpdatePresence(ctx, status)
	}
	select {
	case c.statuses <- status:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// heartbeat writes the user's status on start and every heartbeat interval,
// and offline when ctx ends. It runs independently of the open channel.
func (c *Client) heartbeat(ctx context.Context) {
	status := models.StatusOnline
	write := func(ctx context.Context, status string) {
		if err := c.backend.UpdatePresence(ctx, status); err != nil {
			slog.Warn("presence update failed", "status", status, "error", err)
		}
	}

	write(ctx, status)
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			off, cancel := c.detached()
			write(off, models.StatusOffline)
			cancel()
			return
		case status = <-c.statuses:
			write(ctx, status)
			ticker.Reset(c.opts.HeartbeatInterval)
		case <-ticker.C:
			write(ctx, status)
		}
	}
}

// watchProfiles follows profile changes on a subscription of its own so
// presence stays current whether or not a channel is open.
func (c *Client) watchProfiles(ctx context.Context) {
	b := backoff.WithContext(c.opts.NewBackOff(), ctx)
	op := func() error {
		sub, err := c.feed.Subscribe(ctx, feed.Filter{Tables: []feed.Table{feed.TableProfiles}})
		if err != nil {
			return err
		}
		defer sub.Close()
		b.Reset()

		for {
			select {
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			case ev, ok := <-sub.Events():
				if !ok {
					if err := sub.Err(); err != nil {
						return err
					}
					return ErrSubscriptionDropped
				}
				if e, isProfile := ev.(feed.ProfileUpdated); isProfile {
					p := e.Profile
					if !c.post(func() { c.applyProfile(p) }) {
						return backoff.Permanent(ErrClosed)
					}
				}
			}
		}
	}

	err := backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		slog.Warn("profile feed lost, resubscribing", "retryIn", wait, "error", err)
	})
	if err != nil && ctx.Err() == nil && !errors.Is(err, ErrClosed) {
		slog.Error("profile feed stopped", "error", err)
	}
}
