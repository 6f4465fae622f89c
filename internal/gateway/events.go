package gateway

import (
	json "github.com/goccy/go-json"
	"github.com/victorivanov/backchannel/internal/feed"
)

// Op codes for gateway payloads.
const (
	OpDispatch       = 0
	OpHeartbeat      = 1
	OpIdentify       = 2
	OpSubscribe      = 5
	OpUnsubscribe    = 6
	OpReconnect      = 7
	OpInvalidSession = 9
	OpHello          = 10
	OpHeartbeatAck   = 11
)

// Event names for DISPATCH payloads.
const (
	EventReady      = "READY"
	EventSubscribed = "SUBSCRIBED"
	EventChange     = "CHANGE"
)

// GatewayPayload is the envelope for all gateway messages.
type GatewayPayload struct {
	Op       int             `json:"op"`
	Data     json.RawMessage `json:"d,omitempty"`
	Sequence *int64          `json:"s,omitempty"`
	Event    *string         `json:"t,omitempty"`
}

// IdentifyData is sent by the client in an Op 2 IDENTIFY.
type IdentifyData struct {
	Token string `json:"token"`
}

// HelloData is sent by the server after WebSocket connect.
type HelloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

// ReadyData is sent by the server after successful IDENTIFY.
type ReadyData struct {
	SessionID string `json:"session_id"`
	UserID    int64  `json:"user_id,string"`
}

// SubscribeData is sent by the client in an Op 5 SUBSCRIBE. An empty Tables
// list means every table; a zero ChannelID means every channel.
type SubscribeData struct {
	ID        string       `json:"id"`
	ChannelID int64        `json:"channel_id,string,omitempty"`
	Tables    []feed.Table `json:"tables,omitempty"`
}

// Filter returns the feed filter the subscription selects.
func (d SubscribeData) Filter() feed.Filter {
	return feed.Filter{ChannelID: d.ChannelID, Tables: d.Tables}
}

// UnsubscribeData is sent by the client in an Op 6 UNSUBSCRIBE.
type UnsubscribeData struct {
	ID string `json:"id"`
}

// SubscribedData acknowledges a SUBSCRIBE once the filter is live.
type SubscribedData struct {
	ID string `json:"id"`
}
