package service

import (
	"context"
	"log/slog"

	"github.com/victorivanov/backchannel/internal/feed"
)

// PresenceStore mirrors presence into a TTL store so stale statuses expire.
type PresenceStore interface {
	SetPresence(ctx context.Context, userID int64, status string) error
	GetPresence(ctx context.Context, userID int64) (string, error)
	DeletePresence(ctx context.Context, userID int64) error
}

// TypingStore mirrors typing indicators into a TTL store.
type TypingStore interface {
	SetTyping(ctx context.Context, channelID, userID int64) error
	ClearTyping(ctx context.Context, channelID, userID int64) (bool, error)
}

// publish emits ev after its write has committed. A failed publish is
// logged, not returned: the row is durable and subscribers resync on their
// next load.
func publish(ctx context.Context, pub feed.Publisher, ev feed.Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, ev); err != nil {
		slog.Error("failed to publish change event", "table", ev.Table(), "op", ev.Op(), "error", err)
	}
}
