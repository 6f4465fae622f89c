package service

import (
	"context"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/victorivanov/backchannel/internal/database"
	"github.com/victorivanov/backchannel/internal/feed"
	"github.com/victorivanov/backchannel/internal/models"
	"github.com/victorivanov/backchannel/internal/snowflake"
)

const (
	// DefaultMessageLimit is how many messages a history request returns
	// when the caller names no limit.
	DefaultMessageLimit = 100
	maxMessageLimit     = models.MaxMessagePage
	maxAttachments      = 10
	maxNonceLength      = 64
)

// MessageService handles message business logic.
type MessageService struct {
	messages  database.MessageRepository
	channels  database.ChannelRepository
	snowflake *snowflake.Generator
	publisher feed.Publisher
	sanitizer *bluemonday.Policy
	now       func() time.Time
}

// NewMessageService creates a MessageService.
func NewMessageService(
	messages database.MessageRepository,
	channels database.ChannelRepository,
	sf *snowflake.Generator,
	pub feed.Publisher,
) *MessageService {
	return &MessageService{
		messages:  messages,
		channels:  channels,
		snowflake: sf,
		publisher: pub,
		sanitizer: bluemonday.StrictPolicy(),
		now:       time.Now,
	}
}

// SendMessage creates a message from a draft. A retried draft carrying a
// nonce the author already used returns the original message and publishes
// nothing.
func (s *MessageService) SendMessage(ctx context.Context, userID int64, draft models.MessageDraft) (*models.Message, error) {
	if err := s.requireChannel(ctx, draft.ChannelID); err != nil {
		return nil, err
	}
	if len(draft.Nonce) > maxNonceLength {
		return nil, BadRequest("INVALID_NONCE", "nonce must be at most 64 characters")
	}

	content, err := s.cleanContent(draft.Content, len(draft.Attachments) > 0)
	if err != nil {
		return nil, err
	}
	if err := validateAttachments(draft.Attachments); err != nil {
		return nil, err
	}

	if draft.Nonce != "" {
		existing, err := s.messages.GetByNonce(ctx, userID, draft.Nonce)
		if err != nil {
			return nil, internalError()
		}
		if existing != nil {
			return s.full(ctx, existing.ID)
		}
	}

	if draft.ParentID != nil {
		parent, err := s.messages.GetByID(ctx, *draft.ParentID)
		if err != nil {
			return nil, internalError()
		}
		if parent == nil || parent.ChannelID != draft.ChannelID {
			return nil, BadRequest("INVALID_PARENT", "reply target not found in this channel")
		}
	}

	msg := &models.Message{
		ID:          s.snowflake.Generate(),
		ChannelID:   draft.ChannelID,
		AuthorID:    userID,
		Content:     content,
		Attachments: draft.Attachments,
		ParentID:    draft.ParentID,
		Nonce:       draft.Nonce,
		CreatedAt:   s.now().UTC(),
	}

	inserted, err := s.messages.Create(ctx, msg)
	if err != nil {
		return nil, internalError()
	}
	if !inserted {
		// Lost a race with a concurrent retry of the same draft.
		existing, err := s.messages.GetByNonce(ctx, userID, draft.Nonce)
		if err != nil || existing == nil {
			return nil, internalError()
		}
		return s.full(ctx, existing.ID)
	}

	publish(ctx, s.publisher, feed.MessageInserted{Message: rowOf(msg)})
	return s.full(ctx, msg.ID)
}

// GetMessages returns one page of a channel's history in display order:
// the newest messages older than before, or the newest overall when before
// is zero.
func (s *MessageService) GetMessages(ctx context.Context, channelID, before int64, limit int) ([]models.Message, error) {
	if err := s.requireChannel(ctx, channelID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	messages, err := s.messages.GetByChannelID(ctx, channelID, before, limit)
	if err != nil {
		return nil, internalError()
	}
	if messages == nil {
		messages = []models.Message{}
	}
	return messages, nil
}

// GetMessage returns a single message with its joined fields.
func (s *MessageService) GetMessage(ctx context.Context, msgID int64) (*models.Message, error) {
	return s.full(ctx, msgID)
}

// EditMessage replaces the content of a message. Only the author can edit.
func (s *MessageService) EditMessage(ctx context.Context, channelID, msgID, userID int64, content string) (*models.Message, error) {
	msg, err := s.messages.GetByID(ctx, msgID)
	if err != nil {
		return nil, internalError()
	}
	if msg == nil || msg.ChannelID != channelID {
		return nil, NotFound("NOT_FOUND", "message not found")
	}
	if msg.AuthorID != userID {
		return nil, Forbidden("FORBIDDEN", "you can only edit your own messages")
	}

	cleaned, err := s.cleanContent(content, len(msg.Attachments) > 0)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	msg.Content = cleaned
	msg.EditedAt = &now
	if err := s.messages.Update(ctx, msg); err != nil {
		return nil, internalError()
	}

	publish(ctx, s.publisher, feed.MessageUpdated{Message: rowOf(msg)})
	return s.full(ctx, msgID)
}

// DeleteMessage deletes a message. Only the author can delete.
func (s *MessageService) DeleteMessage(ctx context.Context, channelID, msgID, userID int64) error {
	msg, err := s.messages.GetByID(ctx, msgID)
	if err != nil {
		return internalError()
	}
	if msg == nil || msg.ChannelID != channelID {
		return NotFound("NOT_FOUND", "message not found")
	}
	if msg.AuthorID != userID {
		return Forbidden("FORBIDDEN", "you can only delete your own messages")
	}

	if err := s.messages.Delete(ctx, msgID); err != nil {
		return internalError()
	}

	publish(ctx, s.publisher, feed.MessageDeleted{ID: msgID, ChannelID: channelID})
	return nil
}

func (s *MessageService) requireChannel(ctx context.Context, channelID int64) error {
	ch, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return internalError()
	}
	if ch == nil {
		return NotFound("UNKNOWN_CHANNEL", "channel not found")
	}
	return nil
}

func (s *MessageService) full(ctx context.Context, msgID int64) (*models.Message, error) {
	msg, err := s.messages.GetByID(ctx, msgID)
	if err != nil {
		return nil, internalError()
	}
	if msg == nil {
		return nil, NotFound("NOT_FOUND", "message not found")
	}
	return msg, nil
}

// cleanContent strips markup and enforces the length rules. Entities the
// sanitizer escapes are decoded again since content is stored as plain text. Empty text is
// allowed only alongside attachments.
func (s *MessageService) cleanContent(content string, hasAttachments bool) (string, error) {
	cleaned := strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(content)))
	if cleaned == "" && !hasAttachments {
		return "", BadRequest("INVALID_CONTENT", "message must have content or attachments")
	}
	if utf8.RuneCountInString(cleaned) > models.MaxContentLength {
		return "", BadRequest("INVALID_CONTENT", "message content must be at most 2000 characters")
	}
	return cleaned, nil
}

func validateAttachments(atts []models.Attachment) error {
	if len(atts) > maxAttachments {
		return BadRequest("INVALID_ATTACHMENTS", "too many attachments")
	}
	for _, a := range atts {
		if !a.Kind.Valid() {
			return BadRequest("INVALID_ATTACHMENTS", "attachment type must be image or file")
		}
		if a.URL == "" || a.Name == "" {
			return BadRequest("INVALID_ATTACHMENTS", "attachment url and name are required")
		}
	}
	return nil
}

// rowOf strips the joined read-model fields; change events carry the bare
// row, as a database change stream would.
func rowOf(m *models.Message) models.Message {
	row := *m
	row.Author = nil
	row.Parent = nil
	row.Reactions = nil
	row.Receipts = nil
	return row
}
