package gateway

import "github.com/victorivanov/backchannel/internal/feed"

// Dispatcher fans change events out to connected WebSocket clients. Manager
// implements it; Relay only needs this much.
type Dispatcher interface {
	Dispatch(ev feed.Event)
	// ReconnectAll drops every client so they resync, returning how many
	// were dropped.
	ReconnectAll() int
	ConnectionCount() int
}

var _ Dispatcher = (*Manager)(nil)
