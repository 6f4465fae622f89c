package chatsync

import (
	"log/slog"
	"slices"
	"time"

	"github.com/victorivanov/backchannel/internal/feed"
	"github.com/victorivanov/backchannel/internal/models"
)

// handleEvent applies a feed event delivered under attachment gen of s.
// Events that arrive during a load are buffered and replayed after it.
func (c *Client) handleEvent(s *Session, gen uint64, ev feed.Event) {
	if c.session != s || s.gen != gen {
		return
	}
	if s.loading {
		s.buffered = append(s.buffered, ev)
		return
	}
	c.apply(s, ev)
	c.publish()
}

func (c *Client) apply(s *Session, ev feed.Event) {
	switch e := ev.(type) {
	case feed.MessageInserted:
		c.applyInsert(s, e.Message)

	case feed.MessageUpdated:
		if e.Message.ChannelID == s.ChannelID {
			s.store.ApplyUpdate(e.Message)
		}

	case feed.MessageDeleted:
		if e.ChannelID != s.ChannelID {
			return
		}
		if err := s.store.ApplyDelete(e.ID); err != nil {
			return
		}
		s.receipts.Forget(e.ID)
		if c.replyTo == e.ID {
			c.replyTo = 0
		}

	case feed.ReactionAdded:
		c.reactionChanged(s, e.Reaction.MessageID)

	case feed.ReactionRemoved:
		c.reactionChanged(s, e.Reaction.MessageID)

	case feed.ReceiptAdded:
		if s.store.Has(e.Receipt.MessageID) {
			s.receipts.Apply(e.Receipt)
		}

	case feed.TypingUpserted:
		if e.Typing.ChannelID != s.ChannelID {
			return
		}
		row := e.Typing
		if row.Username == "" {
			if p, ok := c.profiles[row.UserID]; ok {
				row.Username = p.Name()
			}
		}
		if s.typing.Upsert(row, time.Now()) {
			c.scheduleExpiry(s)
		}

	case feed.TypingDeleted:
		if e.ChannelID == s.ChannelID {
			s.typing.Delete(e.UserID)
		}

	case feed.ProfileUpdated:
		c.applyProfile(e.Profile)

	default:
		slog.Debug("ignoring unknown change event", "table", ev.Table(), "op", ev.Op())
	}
}

func (c *Client) applyInsert(s *Session, m models.Message) {
	if m.ChannelID != s.ChannelID {
		return
	}
	if m.Author == nil {
		if p, ok := c.profiles[m.AuthorID]; ok {
			cp := p
			m.Author = &cp
		}
	}

	result := s.store.ApplyInsert(m)
	if result == Inserted && m.AuthorID != c.opts.UserID {
		s.typing.Delete(m.AuthorID)
		if c.visible {
			c.markRead(s, []int64{m.ID})
		} else {
			s.receipts.AddUnread()
		}
	}
	if result != Duplicate && s.reactions.claimOrphan(m.ID) {
		c.refreshReactions(s)
	}
	c.resolveJoins(s)
}

// reactionChanged refetches the channel's reactions when the changed
// message is held. The feed can deliver a reaction ahead of its message's
// insert, so changes to other messages are remembered until the insert.
func (c *Client) reactionChanged(s *Session, messageID int64) {
	if s.store.Has(messageID) {
		c.refreshReactions(s)
		return
	}
	s.reactions.noteOrphan(messageID)
}

// applyProfile records a profile seen on the feed or fetched lazily and
// refreshes the author joined onto the open channel's messages.
func (c *Client) applyProfile(p models.Profile) {
	c.profiles[p.ID] = p
	c.setPresence(p.ID, p.Status)
	if s := c.session; s != nil {
		s.store.SetAuthor(p)
	}
	c.publish()
}

// setPresence replaces the presence map so snapshots already handed out
// keep their copy.
func (c *Client) setPresence(userID int64, status string) {
	if cur, ok := c.presence[userID]; ok && cur == status {
		return
	}
	next := make(map[int64]string, len(c.presence)+1)
	for k, v := range c.presence {
		next[k] = v
	}
	next[userID] = status
	c.presence = next
}

// resolveJoins fetches the authors and reply parents that held messages
// reference but the store has not seen.
func (c *Client) resolveJoins(s *Session) {
	for _, id := range s.store.MissingAuthors() {
		if p, ok := c.profiles[id]; ok {
			s.store.SetAuthor(p)
			continue
		}
		if s.authorFetches[id] {
			continue
		}
		s.authorFetches[id] = true
		c.spawn(func() {
			p, err := c.backend.FetchProfile(s.ctx, id)
			c.post(func() {
				if c.session != s {
					return
				}
				delete(s.authorFetches, id)
				if err != nil || p == nil {
					slog.Debug("author lookup failed", "userID", id, "error", err)
					return
				}
				c.applyProfile(*p)
			})
		})
	}

	for _, id := range s.store.UnresolvedParents() {
		if s.parentFetches[id] {
			continue
		}
		s.parentFetches[id] = true
		c.spawn(func() {
			parent, err := c.backend.FetchMessage(s.ctx, id)
			c.post(func() {
				if c.session != s {
					return
				}
				delete(s.parentFetches, id)
				if err != nil || parent == nil {
					slog.Debug("reply parent lookup failed", "messageID", id, "error", err)
					return
				}
				if s.store.AttachParent(*parent) {
					c.publish()
				}
			})
		})
	}
}

// markRead writes receipts for ids in batches the server accepts. Failed
// batches are released so the next backlog pass retries them.
func (c *Client) markRead(s *Session, ids []int64) {
	for batch := range slices.Chunk(ids, models.MaxReceiptBatch) {
		c.markReadBatch(s, batch)
	}
}

func (c *Client) markReadBatch(s *Session, ids []int64) {
	s.receipts.Request(ids)
	c.spawn(func() {
		written, err := c.backend.MarkRead(s.ctx, ids)
		err = ignoreConflict(err)
		c.post(func() {
			if c.session != s {
				return
			}
			if err != nil {
				slog.Warn("failed to mark messages read", "channelID", s.ChannelID, "count", len(ids), "error", err)
				s.receipts.Release(ids)
				return
			}
			for _, r := range written {
				s.receipts.Apply(r)
			}
			c.publish()
		})
	})
}

// refreshReactions refetches the channel's reactions. Requests made while a
// fetch is in flight collapse into one follow-up fetch.
func (c *Client) refreshReactions(s *Session) {
	if s.reactions.inFlight {
		s.reactions.dirty = true
		return
	}
	s.reactions.inFlight = true
	version := s.reactions.begin()
	s.reactions.flight = version
	c.spawn(func() {
		rows, err := c.backend.FetchReactions(s.ctx, s.ChannelID)
		c.post(func() {
			if c.session != s {
				return
			}
			if err != nil {
				slog.Warn("failed to refresh reactions", "channelID", s.ChannelID, "error", err)
			} else if s.reactions.apply(version, rows) {
				c.publish()
			}
			// A reload since this fetch started owns the flight state.
			if s.reactions.flight != version {
				return
			}
			s.reactions.inFlight = false
			if s.reactions.dirty {
				s.reactions.dirty = false
				c.refreshReactions(s)
			}
		})
	})
}

// scheduleExpiry arms the timer that drops the oldest remote typing row.
func (c *Client) scheduleExpiry(s *Session) {
	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
		s.expiryTimer = nil
	}
	next, ok := s.typing.NextExpiry()
	if !ok {
		return
	}
	s.expiryTimer = time.AfterFunc(time.Until(next), func() {
		c.post(func() {
			if c.session != s {
				return
			}
			if s.typing.ExpireRemote(time.Now()) {
				c.publish()
			}
			c.scheduleExpiry(s)
		})
	})
}
