package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/victorivanov/backchannel/internal/database"
	"github.com/victorivanov/backchannel/internal/feed"
	"github.com/victorivanov/backchannel/internal/models"
)

// ProfileService reads profiles and applies presence updates.
type ProfileService struct {
	profiles  database.ProfileRepository
	presence  PresenceStore
	publisher feed.Publisher
	now       func() time.Time
}

// NewProfileService creates a ProfileService. presence may be nil, in which
// case stored statuses are returned as-is.
func NewProfileService(profiles database.ProfileRepository, presence PresenceStore, pub feed.Publisher) *ProfileService {
	return &ProfileService{profiles: profiles, presence: presence, publisher: pub, now: time.Now}
}

// GetProfile returns a profile. A stored online or busy status whose
// presence mark has expired is reported as offline.
func (s *ProfileService) GetProfile(ctx context.Context, userID int64) (*models.Profile, error) {
	p, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return nil, internalError()
	}
	if p == nil {
		return nil, NotFound("UNKNOWN_USER", "user not found")
	}

	if s.presence != nil && p.Status != models.StatusOffline {
		live, err := s.presence.GetPresence(ctx, userID)
		if err != nil {
			slog.Warn("failed to read presence", "userID", userID, "error", err)
		} else if live == "" {
			p.Status = models.StatusOffline
		}
	}
	return p, nil
}

// UpdatePresence stores a status with last_seen set to now and publishes
// the updated profile.
func (s *ProfileService) UpdatePresence(ctx context.Context, userID int64, status string) (*models.Profile, error) {
	if !models.ValidStatus(status) {
		return nil, BadRequest("INVALID_STATUS", "status must be online, offline or busy")
	}

	p, err := s.profiles.UpdateStatus(ctx, userID, status, s.now().UTC())
	if err != nil {
		return nil, internalError()
	}
	if p == nil {
		return nil, NotFound("UNKNOWN_USER", "user not found")
	}

	if s.presence != nil {
		var perr error
		if status == models.StatusOffline {
			perr = s.presence.DeletePresence(ctx, userID)
		} else {
			perr = s.presence.SetPresence(ctx, userID, status)
		}
		if perr != nil {
			slog.Warn("failed to mirror presence", "userID", userID, "error", perr)
		}
	}

	publish(ctx, s.publisher, feed.ProfileUpdated{Profile: *p})
	return p, nil
}
