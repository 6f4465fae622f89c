package feed

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// ErrUnknownEvent is returned by Decode for a table/op pair it cannot map.
var ErrUnknownEvent = errors.New("feed: unknown event")

// Envelope is the wire form of an event: the source table, the operation and
// the affected row.
type Envelope struct {
	Table     Table           `json:"table"`
	Op        Op              `json:"op"`
	ChannelID int64           `json:"channel_id,string,omitempty"`
	Record    json.RawMessage `json:"record"`
}

// Encode serializes ev as an Envelope.
func Encode(ev Event) ([]byte, error) {
	var record any
	switch e := ev.(type) {
	case MessageInserted:
		record = e.Message
	case MessageUpdated:
		record = e.Message
	case MessageDeleted:
		record = e
	case ReactionAdded:
		record = e.Reaction
	case ReactionRemoved:
		record = e.Reaction
	case TypingUpserted:
		record = e.Typing
	case TypingDeleted:
		record = e
	case ReceiptAdded:
		record = e.Receipt
	case ProfileUpdated:
		record = e.Profile
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encoding %s record: %w", ev.Table(), err)
	}
	return json.Marshal(Envelope{Table: ev.Table(), Op: ev.Op(), ChannelID: ev.Channel(), Record: raw})
}

// Decode parses an Envelope back into its event variant.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	return env.Event()
}

// Event maps the envelope to its concrete event.
func (env Envelope) Event() (Event, error) {
	var (
		ev  Event
		err error
	)
	switch {
	case env.Table == TableMessages && env.Op == OpInsert:
		var e MessageInserted
		err = json.Unmarshal(env.Record, &e.Message)
		ev = e
	case env.Table == TableMessages && env.Op == OpUpdate:
		var e MessageUpdated
		err = json.Unmarshal(env.Record, &e.Message)
		ev = e
	case env.Table == TableMessages && env.Op == OpDelete:
		var e MessageDeleted
		err = json.Unmarshal(env.Record, &e)
		ev = e
	case env.Table == TableReactions && env.Op == OpInsert:
		var e ReactionAdded
		err = json.Unmarshal(env.Record, &e.Reaction)
		ev = e
	case env.Table == TableReactions && env.Op == OpDelete:
		var e ReactionRemoved
		err = json.Unmarshal(env.Record, &e.Reaction)
		ev = e
	case env.Table == TableTyping && (env.Op == OpInsert || env.Op == OpUpdate):
		var e TypingUpserted
		err = json.Unmarshal(env.Record, &e.Typing)
		ev = e
	case env.Table == TableTyping && env.Op == OpDelete:
		var e TypingDeleted
		err = json.Unmarshal(env.Record, &e)
		ev = e
	case env.Table == TableReceipts && env.Op == OpInsert:
		var e ReceiptAdded
		err = json.Unmarshal(env.Record, &e.Receipt)
		ev = e
	case env.Table == TableProfiles && env.Op == OpUpdate:
		var e ProfileUpdated
		err = json.Unmarshal(env.Record, &e.Profile)
		ev = e
	default:
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownEvent, env.Table, env.Op)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s record: %w", env.Table, err)
	}
	return ev, nil
}
