package models

import (
	"strings"
	"time"
)

// MaxContentLength caps message text in runes.
const MaxContentLength = 2000

// MaxMessagePage caps the messages returned by one history request.
const MaxMessagePage = 500

type Message struct {
	ID          int64        `json:"id,string"`
	ChannelID   int64        `json:"channel_id,string"`
	AuthorID    int64        `json:"author_id,string"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ParentID    *int64       `json:"parent_id,string,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	EditedAt    *time.Time   `json:"edited_at,omitempty"`

	// Nonce is the client correlation token echoed back on the change feed so
	// an optimistic placeholder can be matched to its authoritative row.
	Nonce string `json:"nonce,omitempty"`

	// Joined read-model fields. Change-feed rows carry none of these.
	Author    *Profile        `json:"author,omitempty"`
	Parent    *MessagePreview `json:"parent,omitempty"`
	Reactions []Reaction      `json:"reactions,omitempty"`
	Receipts  []ReadReceipt   `json:"receipts,omitempty"`
}

// MessagePreview is the trimmed parent shown above a reply.
type MessagePreview struct {
	ID             int64  `json:"id,string"`
	AuthorID       int64  `json:"author_id,string"`
	AuthorUsername string `json:"author_username,omitempty"`
	Content        string `json:"content"`
}

// Preview returns the reply preview of m.
func (m *Message) Preview() *MessagePreview {
	p := &MessagePreview{ID: m.ID, AuthorID: m.AuthorID, Content: m.Content}
	if m.Author != nil {
		p.AuthorUsername = m.Author.Username
	}
	return p
}

// Less reports whether m sorts before o in channel display order:
// creation time ascending, ID as tie-break.
func (m *Message) Less(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// MessageDraft is what a client submits to create a message.
type MessageDraft struct {
	ChannelID   int64        `json:"channel_id,string"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ParentID    *int64       `json:"parent_id,string,omitempty"`
	Nonce       string       `json:"nonce,omitempty"`
}

// Empty reports whether the draft has neither text nor attachments.
func (d MessageDraft) Empty() bool {
	return strings.TrimSpace(d.Content) == "" && len(d.Attachments) == 0
}
