package service

import (
	"context"

	"github.com/victorivanov/backchannel/internal/database"
	"github.com/victorivanov/backchannel/internal/models"
)

// ChannelService resolves channels. Channels are read-only here.
type ChannelService struct {
	channels database.ChannelRepository
}

func NewChannelService(channels database.ChannelRepository) *ChannelService {
	return &ChannelService{channels: channels}
}

// ResolveSlug returns the channel with the given slug, falling back to the
// default channel when the slug is empty or unknown.
func (s *ChannelService) ResolveSlug(ctx context.Context, slug string) (*models.Channel, error) {
	if slug != "" {
		ch, err := s.channels.GetBySlug(ctx, slug)
		if err != nil {
			return nil, internalError()
		}
		if ch != nil {
			return ch, nil
		}
	}

	ch, err := s.channels.GetBySlug(ctx, models.DefaultChannelSlug)
	if err != nil {
		return nil, internalError()
	}
	if ch == nil {
		return nil, NotFound("UNKNOWN_CHANNEL", "channel not found")
	}
	return ch, nil
}

func (s *ChannelService) GetChannel(ctx context.Context, id int64) (*models.Channel, error) {
	ch, err := s.channels.GetByID(ctx, id)
	if err != nil {
		return nil, internalError()
	}
	if ch == nil {
		return nil, NotFound("UNKNOWN_CHANNEL", "channel not found")
	}
	return ch, nil
}

func (s *ChannelService) ListChannels(ctx context.Context) ([]models.Channel, error) {
	list, err := s.channels.List(ctx)
	if err != nil {
		return nil, internalError()
	}
	if list == nil {
		list = []models.Channel{}
	}
	return list, nil
}
