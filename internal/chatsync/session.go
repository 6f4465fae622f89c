package chatsync

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/victorivanov/backchannel/internal/feed"
	"github.com/victorivanov/backchannel/internal/models"
)

// Session is one open channel. It is created by OpenChannel and ended by
// CloseChannel or by opening another channel; all channel-local state hangs
// off it and is discarded with it.
type Session struct {
	ID        string
	ChannelID int64

	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	// gen counts feed attachments; events from an older attachment are
	// dropped.
	gen       uint64
	loading   bool
	buffered  []feed.Event
	connected bool

	store     *Store
	typing    *TypingTracker
	receipts  *ReceiptTracker
	reactions *reactionSet

	typingOut   *typingOutbox
	typingTimer *time.Timer
	expiryTimer *time.Timer

	authorFetches map[int64]bool
	parentFetches map[int64]bool
}

func (c *Client) beginSession(channelID int64) *Session {
	ctx, cancel := context.WithCancel(c.runCtx)
	s := &Session{
		ID:            uuid.NewString(),
		ChannelID:     channelID,
		ctx:           ctx,
		cancel:        cancel,
		loading:       true,
		store:         NewStore(),
		typing:        NewTypingTracker(c.opts.UserID, c.opts.TypingTimeout, c.opts.TypingRefresh),
		receipts:      NewReceiptTracker(c.opts.UserID),
		reactions:     newReactionSet(),
		typingOut:     newTypingOutbox(),
		authorFetches: make(map[int64]bool),
		parentFetches: make(map[int64]bool),
	}
	c.session = s
	c.spawn(func() { c.typingWriter(s) })
	return s
}

// endSession tears down the current session: the feed subscription is
// closed, timers stop and the user's own typing row is deleted.
func (c *Client) endSession() {
	s := c.session
	if s == nil {
		return
	}
	c.session = nil
	c.replyTo = 0

	c.queueTyping(s, s.typing.Close())
	s.closed = true
	s.typingOut.close()
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
	}
	s.cancel()
}

// OpenChannel makes channelID the open channel. Any previously open channel
// is closed first. It returns once the feed is subscribed and the initial
// load has been applied; on failure no channel is open.
func (c *Client) OpenChannel(ctx context.Context, channelID int64) error {
	ready := make(chan error, 1)
	var s *Session
	err := c.do(ctx, func() {
		c.endSession()
		s = c.beginSession(channelID)
		c.spawn(func() { c.supervise(s, ready) })
		c.publish()
	})
	if err != nil {
		return err
	}

	select {
	case err = <-ready:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		_ = c.do(context.WithoutCancel(ctx), func() {
			if c.session == s {
				c.endSession()
				c.publish()
			}
		})
	}
	return err
}

// CloseChannel closes the open channel, if any.
func (c *Client) CloseChannel(ctx context.Context) error {
	return c.do(ctx, func() {
		c.endSession()
		c.publish()
	})
}

// initialState is what a (re)load fetches.
type initialState struct {
	messages []models.Message
	typing   []models.TypingIndicator
}

func (c *Client) fetchInitial(ctx context.Context, channelID int64) (*initialState, error) {
	msgs, err := c.backend.FetchMessages(ctx, channelID)
	if err != nil {
		return nil, err
	}
	typing, err := c.backend.FetchTyping(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return &initialState{messages: msgs, typing: typing}, nil
}

// beginLoad starts buffering feed events for a fresh attachment.
func (c *Client) beginLoad(s *Session, gen uint64) {
	if c.session != s {
		return
	}
	s.gen = gen
	s.loading = true
	s.buffered = nil
	s.connected = true
	c.publish()
}

// finishLoad replaces the channel state with st and replays the events that
// arrived while it was being fetched.
func (c *Client) finishLoad(s *Session, gen uint64, st *initialState) {
	if c.session != s || s.gen != gen {
		return
	}
	now := time.Now()

	for _, m := range st.messages {
		if m.Author != nil {
			if _, ok := c.profiles[m.AuthorID]; !ok {
				c.profiles[m.AuthorID] = *m.Author
				c.setPresence(m.AuthorID, m.Author.Status)
			}
		}
	}

	s.store.Load(st.messages)
	s.reactions.loadJoined(st.messages)
	s.receipts.Load(st.messages)
	s.typing.Load(st.typing, now)

	s.loading = false
	buffered := s.buffered
	s.buffered = nil
	for _, ev := range buffered {
		c.apply(s, ev)
	}

	backlog := s.receipts.Backlog(s.store)
	if c.visible {
		c.markRead(s, backlog)
	} else {
		s.receipts.SetUnread(len(backlog))
	}

	c.resolveJoins(s)
	c.scheduleExpiry(s)
	c.publish()
}

// dropped records that the feed was lost. The state is kept, marked
// disconnected, until the resubscription reloads it.
func (c *Client) dropped(s *Session, cause error) {
	if c.session != s {
		return
	}
	slog.Warn("change feed dropped, resyncing", "channelID", s.ChannelID, "session", s.ID, "error", cause)
	s.connected = false
	c.publish()
}
