package backend

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/victorivanov/backchannel/internal/chatsync"
	"github.com/victorivanov/backchannel/internal/models"
	"github.com/victorivanov/backchannel/internal/service"
)

// Services is the set of services a Local backend calls.
type Services struct {
	Channels  *service.ChannelService
	Messages  *service.MessageService
	Profiles  *service.ProfileService
	Reactions *service.ReactionService
	Receipts  *service.ReceiptService
	Typing    *service.TypingService
}

// Local calls the services in-process as one user. It backs clients that
// share a process with the server.
type Local struct {
	svc    Services
	userID int64
}

var _ chatsync.Backend = (*Local)(nil)

func NewLocal(svc Services, userID int64) *Local {
	return &Local{svc: svc, userID: userID}
}

// localError maps service errors onto the chatsync error kinds. Internal
// failures are treated as retryable.
func localError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrConflict):
		return fmt.Errorf("%w: %w", chatsync.ErrConflictIgnored, err)
	case errors.Is(err, service.ErrInternal):
		return fmt.Errorf("%w: %w", chatsync.ErrTransient, err)
	}
	return err
}

func (l *Local) FetchChannel(ctx context.Context, ref string) (*models.Channel, error) {
	if v, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if ch, err := l.svc.Channels.GetChannel(ctx, v); err == nil {
			return ch, nil
		}
	}
	ch, err := l.svc.Channels.ResolveSlug(ctx, ref)
	return ch, localError(err)
}

func (l *Local) FetchMessages(ctx context.Context, channelID int64) ([]models.Message, error) {
	msgs, err := fetchHistory(ctx, func(ctx context.Context, before int64) ([]models.Message, error) {
		return l.svc.Messages.GetMessages(ctx, channelID, before, models.MaxMessagePage)
	})
	return msgs, localError(err)
}

func (l *Local) FetchMessage(ctx context.Context, messageID int64) (*models.Message, error) {
	m, err := l.svc.Messages.GetMessage(ctx, messageID)
	return m, localError(err)
}

func (l *Local) FetchProfile(ctx context.Context, userID int64) (*models.Profile, error) {
	p, err := l.svc.Profiles.GetProfile(ctx, userID)
	return p, localError(err)
}

func (l *Local) FetchReactions(ctx context.Context, channelID int64) ([]models.Reaction, error) {
	rows, err := l.svc.Reactions.ListChannelReactions(ctx, channelID)
	return rows, localError(err)
}

func (l *Local) FetchTyping(ctx context.Context, channelID int64) ([]models.TypingIndicator, error) {
	rows, err := l.svc.Typing.ListTyping(ctx, channelID, l.userID)
	return rows, localError(err)
}

func (l *Local) CreateMessage(ctx context.Context, draft models.MessageDraft) (*models.Message, error) {
	m, err := l.svc.Messages.SendMessage(ctx, l.userID, draft)
	return m, localError(err)
}

func (l *Local) AddReaction(ctx context.Context, messageID int64, emoji string) error {
	return localError(l.svc.Reactions.AddReaction(ctx, messageID, l.userID, emoji))
}

func (l *Local) RemoveReaction(ctx context.Context, messageID int64, emoji string) error {
	return localError(l.svc.Reactions.RemoveReaction(ctx, messageID, l.userID, emoji))
}

func (l *Local) UpsertTyping(ctx context.Context, channelID int64) error {
	_, err := l.svc.Typing.StartTyping(ctx, channelID, l.userID)
	return localError(err)
}

func (l *Local) DeleteTyping(ctx context.Context, channelID int64) error {
	return localError(l.svc.Typing.StopTyping(ctx, channelID, l.userID))
}

func (l *Local) MarkRead(ctx context.Context, messageIDs []int64) ([]models.ReadReceipt, error) {
	written, err := l.svc.Receipts.MarkRead(ctx, l.userID, messageIDs)
	return written, localError(err)
}

func (l *Local) UpdatePresence(ctx context.Context, status string) error {
	_, err := l.svc.Profiles.UpdatePresence(ctx, l.userID, status)
	return localError(err)
}
