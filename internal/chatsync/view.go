package chatsync

import "github.com/victorivanov/backchannel/internal/models"

// View is an immutable snapshot of the open channel. Views handed out by
// Snapshot are never modified afterwards.
type View struct {
	// ChannelID is zero when no channel is open.
	ChannelID int64
	SessionID string
	// Loading is set until the first load of the session has been applied.
	Loading bool
	// Connected reports whether the change feed is attached.
	Connected bool

	Messages []MessageView
	Typing   string
	Unread   int
	Visible  bool
	ReplyTo  *models.MessagePreview

	presence map[int64]string
}

// MessageView is one row of the message list. Joined reaction and receipt
// rows are replaced by their aggregates.
type MessageView struct {
	models.Message
	Pending   bool
	Reactions []models.ReactionGroup
	// ReadByMe reports whether the current user has a receipt.
	ReadByMe bool
	// ReadBy counts receipts from other users.
	ReadBy int
}

// Message returns the row with the given ID.
func (v View) Message(id int64) (MessageView, bool) {
	for _, m := range v.Messages {
		if !m.Pending && m.ID == id {
			return m, true
		}
	}
	return MessageView{}, false
}

func (c *Client) buildView() *View {
	v := &View{Visible: c.visible, presence: c.presence}
	s := c.session
	if s == nil {
		return v
	}

	v.ChannelID = s.ChannelID
	v.SessionID = s.ID
	v.Loading = s.loading
	v.Connected = s.connected
	v.Typing = s.typing.Text()
	v.Unread = s.receipts.Unread()

	v.Messages = make([]MessageView, 0, s.store.Len())
	s.store.Each(func(m *models.Message, pending bool) {
		mv := MessageView{Message: *m, Pending: pending}
		mv.Message.Reactions = nil
		mv.Message.Receipts = nil
		if !pending {
			mv.Reactions = s.reactions.groups(m.ID, c.opts.UserID)
			mv.ReadByMe = s.receipts.ReadByMe(m.ID)
			mv.ReadBy = s.receipts.ReadByOthers(m.ID)
		}
		v.Messages = append(v.Messages, mv)
	})

	if c.replyTo != 0 {
		if m, ok := s.store.Get(c.replyTo); ok {
			v.ReplyTo = m.Preview()
		}
	}
	return v
}
