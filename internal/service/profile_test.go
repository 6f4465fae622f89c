package service

import (
	"context"
	"testing"
	"time"

	"github.com/victorivanov/backchannel/internal/feed"
	"github.com/victorivanov/backchannel/internal/models"
	"github.com/victorivanov/backchannel/internal/redis"
)

func TestUpdatePresence_MirrorsAndPublishes(t *testing.T) {
	rdb, _ := newTestRedis(t)
	pub := &recordingPublisher{}
	svc := NewProfileService(&mockProfileRepo{}, rdb, pub)
	ctx := context.Background()

	p, err := svc.UpdatePresence(ctx, 3, models.StatusBusy)
	if err != nil {
		t.Fatalf("UpdatePresence: %v", err)
	}
	if p.Status != models.StatusBusy || p.LastSeen == nil {
		t.Errorf("profile = %+v", p)
	}
	if live, _ := rdb.GetPresence(ctx, 3); live != models.StatusBusy {
		t.Errorf("mirror = %q, want busy", live)
	}

	if _, err := svc.UpdatePresence(ctx, 3, models.StatusOffline); err != nil {
		t.Fatalf("UpdatePresence offline: %v", err)
	}
	if live, _ := rdb.GetPresence(ctx, 3); live != "" {
		t.Errorf("mirror after offline = %q, want empty", live)
	}

	events := pub.Events()
	if len(events) != 2 {
		t.Fatalf("published %d events, want 2", len(events))
	}
	if pu, ok := events[1].(feed.ProfileUpdated); !ok || pu.Profile.Status != models.StatusOffline {
		t.Errorf("event = %#v", events[1])
	}
}

func TestUpdatePresence_InvalidStatus(t *testing.T) {
	svc := NewProfileService(&mockProfileRepo{}, nil, nil)
	_, err := svc.UpdatePresence(context.Background(), 1, "away")
	wantServiceError(t, err, ErrBadRequest, "INVALID_STATUS")
}

func TestGetProfile_ExpiredPresenceReadsOffline(t *testing.T) {
	rdb, mr := newTestRedis(t)
	profiles := &mockProfileRepo{GetByIDFn: func(_ context.Context, id int64) (*models.Profile, error) {
		return &models.Profile{ID: id, Username: "carol", Status: models.StatusOnline}, nil
	}}
	svc := NewProfileService(profiles, rdb, nil)
	ctx := context.Background()

	if err := rdb.SetPresence(ctx, 4, models.StatusOnline); err != nil {
		t.Fatalf("SetPresence: %v", err)
	}
	p, err := svc.GetProfile(ctx, 4)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.Status != models.StatusOnline {
		t.Errorf("Status = %q, want online while heartbeat is fresh", p.Status)
	}

	mr.FastForward(redis.PresenceTTL + time.Second)
	p, err = svc.GetProfile(ctx, 4)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.Status != models.StatusOffline {
		t.Errorf("Status = %q, want offline after presence expiry", p.Status)
	}
}
