package chatsync

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/victorivanov/backchannel/internal/models"
)

// SendMessage sends draft to the open channel. A pending placeholder is
// shown at once and replaced by the server's message; if the write fails the
// placeholder is removed and the error returned. A reply target set with
// SetReplyTarget is used, and cleared, when draft has no parent.
func (c *Client) SendMessage(ctx context.Context, draft models.MessageDraft) (*models.Message, error) {
	if draft.Empty() {
		return nil, ErrEmptyDraft
	}

	var s *Session
	err := c.do(ctx, func() {
		s = c.session
		if s == nil {
			return
		}
		draft.ChannelID = s.ChannelID
		draft.Nonce = uuid.NewString()
		if draft.ParentID == nil && c.replyTo != 0 {
			parent := c.replyTo
			draft.ParentID = &parent
		}
		c.replyTo = 0

		placeholder := models.Message{
			ChannelID:   s.ChannelID,
			AuthorID:    c.opts.UserID,
			Content:     strings.TrimSpace(draft.Content),
			Attachments: draft.Attachments,
			ParentID:    draft.ParentID,
			Nonce:       draft.Nonce,
			CreatedAt:   time.Now().UTC(),
		}
		if p, ok := c.profiles[c.opts.UserID]; ok {
			placeholder.Author = &p
		}
		s.store.AddPending(placeholder)
		c.queueTyping(s, s.typing.Sent())
		c.armTypingTimer(s)
		c.publish()
	})
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNoChannel
	}

	msg, err := c.backend.CreateMessage(ctx, draft)
	_ = c.do(context.WithoutCancel(ctx), func() {
		if c.session != s {
			return
		}
		if err != nil {
			s.store.Fail(draft.Nonce)
		} else {
			s.store.Confirm(draft.Nonce, *msg)
			if s.reactions.claimOrphan(msg.ID) {
				c.refreshReactions(s)
			}
			c.resolveJoins(s)
		}
		c.publish()
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// SetDraftText reports the compose box contents. Non-empty text starts or
// refreshes the typing indicator; empty text ends it.
func (c *Client) SetDraftText(ctx context.Context, text string) error {
	var open bool
	err := c.do(ctx, func() {
		s := c.session
		if s == nil {
			return
		}
		open = true
		c.queueTyping(s, s.typing.Draft(text, time.Now()))
		c.armTypingTimer(s)
	})
	if err == nil && !open {
		err = ErrNoChannel
	}
	return err
}

// armTypingTimer schedules the inactivity check for the local typing state.
func (c *Client) armTypingTimer(s *Session) {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	if !s.typing.Typing() {
		return
	}
	s.typingTimer = time.AfterFunc(time.Until(s.typing.Deadline()), func() {
		c.post(func() {
			if c.session != s {
				return
			}
			c.queueTyping(s, s.typing.Expire(time.Now()))
			c.armTypingTimer(s)
		})
	})
}

// queueTyping hands a typing write to the session's writer, which issues
// writes one at a time. Writes queued behind a slow one collapse into the
// newest.
func (c *Client) queueTyping(s *Session, w typingWrite) {
	if w == writeNone || s.closed {
		return
	}
	s.typingOut.put(w)
}

func (c *Client) typingWriter(s *Session) {
	for {
		w, ok := s.typingOut.next()
		if !ok {
			return
		}
		ctx, cancel := c.detached()
		var err error
		switch w {
		case writeUpsert:
			err = c.backend.UpsertTyping(ctx, s.ChannelID)
		case writeDelete:
			err = c.backend.DeleteTyping(ctx, s.ChannelID)
		}
		cancel()
		if err = ignoreConflict(err); err != nil {
			slog.Warn("typing write failed", "channelID", s.ChannelID, "error", err)
		}
	}
}

// ToggleReaction removes the user's emoji reaction from a message if the
// authoritative state has it and adds it otherwise, then refetches the
// channel's reactions.
func (c *Client) ToggleReaction(ctx context.Context, messageID int64, emoji string) error {
	var (
		s   *Session
		had bool
		ref error
	)
	err := c.do(ctx, func() {
		s = c.session
		switch {
		case s == nil:
			ref = ErrNoChannel
		case !s.store.Has(messageID):
			ref = ErrUnknownReference
		default:
			had = s.reactions.has(messageID, c.opts.UserID, emoji)
		}
	})
	if err != nil {
		return err
	}
	if ref != nil {
		return ref
	}

	if had {
		err = c.backend.RemoveReaction(ctx, messageID, emoji)
	} else {
		err = c.backend.AddReaction(ctx, messageID, emoji)
	}
	if err = ignoreConflict(err); err != nil {
		return err
	}

	var version uint64
	if err := c.do(ctx, func() { version = s.reactions.begin() }); err != nil {
		return err
	}
	rows, err := c.backend.FetchReactions(ctx, s.ChannelID)
	if err != nil {
		// The write landed; the feed echo will trigger another refetch.
		slog.Warn("failed to refresh reactions after toggle", "messageID", messageID, "error", err)
		return nil
	}
	return c.do(ctx, func() {
		if c.session == s && s.reactions.apply(version, rows) {
			c.publish()
		}
	})
}

// MarkVisible records that the channel has focus. The unread backlog is
// marked read and the unread count resets.
func (c *Client) MarkVisible(ctx context.Context) error {
	return c.do(ctx, func() {
		c.visible = true
		if s := c.session; s != nil {
			s.receipts.SetUnread(0)
			if !s.loading {
				c.markRead(s, s.receipts.Backlog(s.store))
			}
		}
		c.publish()
	})
}

// MarkHidden records that the channel lost focus. New messages count as
// unread until MarkVisible.
func (c *Client) MarkHidden(ctx context.Context) error {
	return c.do(ctx, func() {
		c.visible = false
		c.publish()
	})
}

// SetReplyTarget selects the message the next SendMessage replies to. Zero
// clears it.
func (c *Client) SetReplyTarget(ctx context.Context, messageID int64) error {
	var ref error
	err := c.do(ctx, func() {
		if messageID == 0 {
			c.replyTo = 0
			c.publish()
			return
		}
		s := c.session
		switch {
		case s == nil:
			ref = ErrNoChannel
		case !s.store.Has(messageID):
			ref = ErrUnknownReference
		default:
			c.replyTo = messageID
			c.publish()
		}
	})
	if err != nil {
		return err
	}
	return ref
}
