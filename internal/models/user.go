package models

import "time"

// Presence statuses stored on a profile.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusBusy    = "busy"
)

// ValidStatus reports whether s is a status a client may set.
func ValidStatus(s string) bool {
	switch s {
	case StatusOnline, StatusOffline, StatusBusy:
		return true
	}
	return false
}

type Profile struct {
	ID          int64      `json:"id,string"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name"`
	AvatarURL   *string    `json:"avatar_url,omitempty"`
	Status      string     `json:"status"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Name returns the display name, falling back to the username.
func (p *Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}
