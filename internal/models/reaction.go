package models

import "time"

type Reaction struct {
	MessageID int64     `json:"message_id,string"`
	UserID    int64     `json:"user_id,string"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionGroup is one emoji bucket under a message.
type ReactionGroup struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
	Me    bool   `json:"me"`
}

// ReactionPalette is the fixed set offered by the reaction picker.
var ReactionPalette = []string{"❤️", "😂", "😮", "😢", "👍"}
