package database

import (
	"context"
	"time"

	"github.com/victorivanov/backchannel/internal/models"
)

type ProfileRepository interface {
	Create(ctx context.Context, p *models.Profile) error
	GetByID(ctx context.Context, id int64) (*models.Profile, error)
	GetByUsername(ctx context.Context, username string) (*models.Profile, error)
	// UpdateStatus sets status and last_seen and returns the updated row, or
	// nil when the profile does not exist.
	UpdateStatus(ctx context.Context, id int64, status string, lastSeen time.Time) (*models.Profile, error)
}

type ChannelRepository interface {
	Create(ctx context.Context, ch *models.Channel) error
	GetByID(ctx context.Context, id int64) (*models.Channel, error)
	GetBySlug(ctx context.Context, slug string) (*models.Channel, error)
	List(ctx context.Context) ([]models.Channel, error)
}

type MessageRepository interface {
	// Create inserts msg. It reports false when a message with the same
	// (author, nonce) pair already exists, in which case nothing is written.
	Create(ctx context.Context, msg *models.Message) (bool, error)
	GetByID(ctx context.Context, id int64) (*models.Message, error)
	GetByNonce(ctx context.Context, authorID int64, nonce string) (*models.Message, error)
	// GetByChannelID returns the newest limit messages of a channel that
	// sort before the message before (zero for the newest page), in display
	// order, joined with author, parent preview, reactions and receipts.
	GetByChannelID(ctx context.Context, channelID, before int64, limit int) ([]models.Message, error)
	Update(ctx context.Context, msg *models.Message) error
	Delete(ctx context.Context, id int64) error
}

type ReactionRepository interface {
	// Add reports false when the reaction already existed.
	Add(ctx context.Context, r *models.Reaction) (bool, error)
	// Remove reports false when there was nothing to remove.
	Remove(ctx context.Context, messageID, userID int64, emoji string) (bool, error)
	GetByMessage(ctx context.Context, messageID int64) ([]models.Reaction, error)
	GetByChannel(ctx context.Context, channelID int64) ([]models.Reaction, error)
}

type ReceiptRepository interface {
	// MarkRead records userID as having read each message. Existing receipts
	// and unknown message IDs are skipped; only newly written rows are
	// returned.
	MarkRead(ctx context.Context, userID int64, messageIDs []int64, readAt time.Time) ([]models.ReadReceipt, error)
	GetByMessages(ctx context.Context, messageIDs []int64) ([]models.ReadReceipt, error)
}

type TypingRepository interface {
	Upsert(ctx context.Context, t *models.TypingIndicator) error
	// Delete reports false when no indicator existed.
	Delete(ctx context.Context, channelID, userID int64) (bool, error)
	// ListByChannel returns indicators active since the given time, excluding
	// excludeUserID.
	ListByChannel(ctx context.Context, channelID, excludeUserID int64, since time.Time) ([]models.TypingIndicator, error)
}
