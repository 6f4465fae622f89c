package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/victorivanov/backchannel/internal/models"
)

// PresenceSetter persists a user's status. ProfileService implements it.
type PresenceSetter interface {
	UpdatePresence(ctx context.Context, userID int64, status string) (*models.Profile, error)
}

// clearPresence marks a user offline unless they reconnected during the
// grace period.
func (m *Manager) clearPresence(userID int64) {
	if m.presence == nil || m.Connected(userID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := m.presence.UpdatePresence(ctx, userID, models.StatusOffline); err != nil {
		slog.Error("failed to clear presence", "userID", userID, "error", err)
	}
}
