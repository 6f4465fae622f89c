package models

import "time"

type TypingIndicator struct {
	ChannelID  int64     `json:"channel_id,string"`
	UserID     int64     `json:"user_id,string"`
	LastActive time.Time `json:"last_active"`
	Username   string    `json:"username,omitempty"`
}
