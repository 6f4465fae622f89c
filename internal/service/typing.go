package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/victorivanov/backchannel/internal/database"
	"github.com/victorivanov/backchannel/internal/feed"
	"github.com/victorivanov/backchannel/internal/models"
)

// TypingTTL is how long an indicator counts as active without a refresh.
const TypingTTL = 3 * time.Second

// TypingService handles typing indicator writes and reads.
type TypingService struct {
	typing    database.TypingRepository
	profiles  database.ProfileRepository
	mirror    TypingStore
	publisher feed.Publisher
	now       func() time.Time
}

// NewTypingService creates a TypingService. mirror may be nil.
func NewTypingService(typing database.TypingRepository, profiles database.ProfileRepository, mirror TypingStore, pub feed.Publisher) *TypingService {
	return &TypingService{
		typing:    typing,
		profiles:  profiles,
		mirror:    mirror,
		publisher: pub,
		now:       time.Now,
	}
}

// StartTyping upserts the caller's indicator for a channel.
func (s *TypingService) StartTyping(ctx context.Context, channelID, userID int64) (*models.TypingIndicator, error) {
	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return nil, internalError()
	}
	if profile == nil {
		return nil, NotFound("UNKNOWN_USER", "user not found")
	}

	t := &models.TypingIndicator{
		ChannelID:  channelID,
		UserID:     userID,
		LastActive: s.now().UTC(),
		Username:   profile.Name(),
	}
	if err := s.typing.Upsert(ctx, t); err != nil {
		return nil, internalError()
	}
	if s.mirror != nil {
		if err := s.mirror.SetTyping(ctx, channelID, userID); err != nil {
			slog.Warn("failed to mirror typing", "channelID", channelID, "userID", userID, "error", err)
		}
	}

	publish(ctx, s.publisher, feed.TypingUpserted{Typing: *t})
	return t, nil
}

// StopTyping deletes the caller's indicator. Deleting a missing indicator
// succeeds without publishing.
func (s *TypingService) StopTyping(ctx context.Context, channelID, userID int64) error {
	deleted, err := s.typing.Delete(ctx, channelID, userID)
	if err != nil {
		return internalError()
	}
	if s.mirror != nil {
		if _, err := s.mirror.ClearTyping(ctx, channelID, userID); err != nil {
			slog.Warn("failed to clear typing mirror", "channelID", channelID, "userID", userID, "error", err)
		}
	}
	if deleted {
		publish(ctx, s.publisher, feed.TypingDeleted{ChannelID: channelID, UserID: userID})
	}
	return nil
}

// ListTyping returns the active indicators of a channel other than
// excludeUserID's.
func (s *TypingService) ListTyping(ctx context.Context, channelID, excludeUserID int64) ([]models.TypingIndicator, error) {
	list, err := s.typing.ListByChannel(ctx, channelID, excludeUserID, s.now().Add(-TypingTTL))
	if err != nil {
		return nil, internalError()
	}
	if list == nil {
		list = []models.TypingIndicator{}
	}
	return list, nil
}
