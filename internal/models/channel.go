package models

// Channel is a read-only chat room lookup. Channels are addressed by slug in
// URLs and by ID everywhere else.
type Channel struct {
	ID    int64   `json:"id,string"`
	Slug  string  `json:"slug"`
	Name  string  `json:"name"`
	Topic *string `json:"topic,omitempty"`
}

// DefaultChannelSlug is the channel a missing slug resolves to.
const DefaultChannelSlug = "general"
