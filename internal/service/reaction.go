package service

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/victorivanov/backchannel/internal/database"
	"github.com/victorivanov/backchannel/internal/feed"
	"github.com/victorivanov/backchannel/internal/models"
)

const maxEmojiRunes = 16

// ReactionService handles reaction business logic.
type ReactionService struct {
	reactions database.ReactionRepository
	messages  database.MessageRepository
	publisher feed.Publisher
	now       func() time.Time
}

// NewReactionService creates a ReactionService.
func NewReactionService(reactions database.ReactionRepository, messages database.MessageRepository, pub feed.Publisher) *ReactionService {
	return &ReactionService{
		reactions: reactions,
		messages:  messages,
		publisher: pub,
		now:       time.Now,
	}
}

// AddReaction adds a reaction. Adding one that already exists succeeds
// without publishing.
func (s *ReactionService) AddReaction(ctx context.Context, messageID, userID int64, emoji string) error {
	if err := validateEmoji(emoji); err != nil {
		return err
	}

	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return internalError()
	}
	if msg == nil {
		return NotFound("NOT_FOUND", "message not found")
	}

	r := &models.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji, CreatedAt: s.now().UTC()}
	inserted, err := s.reactions.Add(ctx, r)
	if err != nil {
		return internalError()
	}
	if inserted {
		publish(ctx, s.publisher, feed.ReactionAdded{Reaction: *r})
	}
	return nil
}

// RemoveReaction removes the caller's reaction. Removing a missing one
// succeeds without publishing.
func (s *ReactionService) RemoveReaction(ctx context.Context, messageID, userID int64, emoji string) error {
	if err := validateEmoji(emoji); err != nil {
		return err
	}

	removed, err := s.reactions.Remove(ctx, messageID, userID, emoji)
	if err != nil {
		return internalError()
	}
	if removed {
		publish(ctx, s.publisher, feed.ReactionRemoved{Reaction: models.Reaction{
			MessageID: messageID, UserID: userID, Emoji: emoji,
		}})
	}
	return nil
}

// ListChannelReactions returns every reaction on the channel's messages.
func (s *ReactionService) ListChannelReactions(ctx context.Context, channelID int64) ([]models.Reaction, error) {
	reactions, err := s.reactions.GetByChannel(ctx, channelID)
	if err != nil {
		return nil, internalError()
	}
	if reactions == nil {
		reactions = []models.Reaction{}
	}
	return reactions, nil
}

func validateEmoji(emoji string) error {
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiRunes {
		return BadRequest("INVALID_EMOJI", "emoji must be 1-16 characters")
	}
	return nil
}
