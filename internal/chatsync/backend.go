package chatsync

import (
	"context"

	"github.com/victorivanov/backchannel/internal/models"
)

// Backend is the write and query API the client drives. An implementation
// acts as one authenticated user; writes are attributed to that user.
//
// Implementations wrap connectivity failures in ErrTransient and duplicate
// writes in ErrConflictIgnored.
type Backend interface {
	// FetchChannel resolves a channel by ID or slug. Unknown slugs resolve
	// to the default channel.
	FetchChannel(ctx context.Context, ref string) (*models.Channel, error)
	// FetchMessages returns a channel's messages in display order, joined
	// with author, parent preview, reactions and receipts.
	FetchMessages(ctx context.Context, channelID int64) ([]models.Message, error)
	FetchMessage(ctx context.Context, id int64) (*models.Message, error)
	FetchProfile(ctx context.Context, userID int64) (*models.Profile, error)
	FetchReactions(ctx context.Context, channelID int64) ([]models.Reaction, error)
	// FetchTyping returns the channel's active indicators other than the
	// caller's.
	FetchTyping(ctx context.Context, channelID int64) ([]models.TypingIndicator, error)

	CreateMessage(ctx context.Context, draft models.MessageDraft) (*models.Message, error)
	AddReaction(ctx context.Context, messageID int64, emoji string) error
	RemoveReaction(ctx context.Context, messageID int64, emoji string) error
	UpsertTyping(ctx context.Context, channelID int64) error
	DeleteTyping(ctx context.Context, channelID int64) error
	// MarkRead records read receipts, skipping ones that already exist, and
	// returns the receipts that were written.
	MarkRead(ctx context.Context, messageIDs []int64) ([]models.ReadReceipt, error)
	UpdatePresence(ctx context.Context, status string) error
}
