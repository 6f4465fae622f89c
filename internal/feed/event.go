// Package feed defines the change notifications emitted when chat rows are
// written, and the transports that carry them from writers to subscribers.
package feed

import "github.com/victorivanov/backchannel/internal/models"

// Table names a source table of change notifications.
type Table string

const (
	TableMessages  Table = "messages"
	TableReactions Table = "reactions"
	TableReceipts  Table = "read_receipts"
	TableTyping    Table = "typing_indicators"
	TableProfiles  Table = "profiles"
)

// Op is the row operation that produced an event.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Event is one change notification. The concrete types below are the only
// implementations; consumers dispatch on them with a type switch.
type Event interface {
	Table() Table
	Op() Op
	// Channel returns the channel the event is scoped to, or 0 for events
	// published on a global topic.
	Channel() int64
}

type MessageInserted struct{ Message models.Message }

type MessageUpdated struct{ Message models.Message }

type MessageDeleted struct {
	ID        int64 `json:"id,string"`
	ChannelID int64 `json:"channel_id,string"`
}

type ReactionAdded struct{ Reaction models.Reaction }

type ReactionRemoved struct{ Reaction models.Reaction }

type TypingUpserted struct{ Typing models.TypingIndicator }

type TypingDeleted struct {
	ChannelID int64 `json:"channel_id,string"`
	UserID    int64 `json:"user_id,string"`
}

type ReceiptAdded struct{ Receipt models.ReadReceipt }

type ProfileUpdated struct{ Profile models.Profile }

func (MessageInserted) Table() Table { return TableMessages }
func (MessageUpdated) Table() Table { return TableMessages }
func (MessageDeleted) Table() Table { return TableMessages }
func (ReactionAdded) Table() Table { return TableReactions }
func (ReactionRemoved) Table() Table { return TableReactions }
func (TypingUpserted) Table() Table { return TableTyping }
func (TypingDeleted) Table() Table { return TableTyping }
func (ReceiptAdded) Table() Table { return TableReceipts }
func (ProfileUpdated) Table() Table { return TableProfiles }
func (MessageInserted) Op() Op { return OpInsert }
func (MessageUpdated) Op() Op { return OpUpdate }
func (MessageDeleted) Op() Op { return OpDelete }
func (ReactionAdded) Op() Op { return OpInsert }
func (ReactionRemoved) Op() Op { return OpDelete }
func (TypingUpserted) Op() Op { return OpInsert }
func (TypingDeleted) Op() Op { return OpDelete }
func (ReceiptAdded) Op() Op { return OpInsert }
func (ProfileUpdated) Op() Op { return OpUpdate }
func (e MessageInserted) Channel() int64 { return e.Message.ChannelID }
func (e MessageUpdated) Channel() int64 { return e.Message.ChannelID }
func (e MessageDeleted) Channel() int64 { return e.ChannelID }
func (ReactionAdded) Channel() int64 { return 0 }
func (ReactionRemoved) Channel() int64 { return 0 }
func (e TypingUpserted) Channel() int64 { return e.Typing.ChannelID }
func (e TypingDeleted) Channel() int64 { return e.ChannelID }
func (ReceiptAdded) Channel() int64 { return 0 }
func (ProfileUpdated) Channel() int64 { return 0 }
