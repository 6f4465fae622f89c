package service

import (
	"context"
	"sync"
	"time"

	"github.com/victorivanov/backchannel/internal/feed"
	"github.com/victorivanov/backchannel/internal/models"
)

// ---- Repositories ----

type mockMessageRepo struct {
	CreateFn         func(ctx context.Context, msg *models.Message) (bool, error)
	GetByIDFn        func(ctx context.Context, id int64) (*models.Message, error)
	GetByNonceFn     func(ctx context.Context, authorID int64, nonce string) (*models.Message, error)
	GetByChannelIDFn func(ctx context.Context, channelID, before int64, limit int) ([]models.Message, error)
	UpdateFn         func(ctx context.Context, msg *models.Message) error
	DeleteFn         func(ctx context.Context, id int64) error
}

func (m *mockMessageRepo) Create(ctx context.Context, msg *models.Message) (bool, error) {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, msg)
	}
	return true, nil
}

func (m *mockMessageRepo) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockMessageRepo) GetByNonce(ctx context.Context, authorID int64, nonce string) (*models.Message, error) {
	if m.GetByNonceFn != nil {
		return m.GetByNonceFn(ctx, authorID, nonce)
	}
	return nil, nil
}

func (m *mockMessageRepo) GetByChannelID(ctx context.Context, channelID, before int64, limit int) ([]models.Message, error) {
	if m.GetByChannelIDFn != nil {
		return m.GetByChannelIDFn(ctx, channelID, before, limit)
	}
	return nil, nil
}

func (m *mockMessageRepo) Update(ctx context.Context, msg *models.Message) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, msg)
	}
	return nil
}

func (m *mockMessageRepo) Delete(ctx context.Context, id int64) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, id)
	}
	return nil
}

type mockChannelRepo struct {
	GetByIDFn   func(ctx context.Context, id int64) (*models.Channel, error)
	GetBySlugFn func(ctx context.Context, slug string) (*models.Channel, error)
}

func (m *mockChannelRepo) Create(context.Context, *models.Channel) error { return nil }

func (m *mockChannelRepo) GetByID(ctx context.Context, id int64) (*models.Channel, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	return &models.Channel{ID: id, Slug: "general", Name: "general"}, nil
}

func (m *mockChannelRepo) GetBySlug(ctx context.Context, slug string) (*models.Channel, error) {
	if m.GetBySlugFn != nil {
		return m.GetBySlugFn(ctx, slug)
	}
	return nil, nil
}

func (m *mockChannelRepo) List(context.Context) ([]models.Channel, error) { return nil, nil }

type mockReactionRepo struct {
	AddFn          func(ctx context.Context, r *models.Reaction) (bool, error)
	RemoveFn       func(ctx context.Context, messageID, userID int64, emoji string) (bool, error)
	GetByChannelFn func(ctx context.Context, channelID int64) ([]models.Reaction, error)
}

func (m *mockReactionRepo) Add(ctx context.Context, r *models.Reaction) (bool, error) {
	if m.AddFn != nil {
		return m.AddFn(ctx, r)
	}
	return true, nil
}

func (m *mockReactionRepo) Remove(ctx context.Context, messageID, userID int64, emoji string) (bool, error) {
	if m.RemoveFn != nil {
		return m.RemoveFn(ctx, messageID, userID, emoji)
	}
	return true, nil
}

func (m *mockReactionRepo) GetByMessage(context.Context, int64) ([]models.Reaction, error) {
	return nil, nil
}

func (m *mockReactionRepo) GetByChannel(ctx context.Context, channelID int64) ([]models.Reaction, error) {
	if m.GetByChannelFn != nil {
		return m.GetByChannelFn(ctx, channelID)
	}
	return nil, nil
}

type mockReceiptRepo struct {
	MarkReadFn func(ctx context.Context, userID int64, ids []int64, readAt time.Time) ([]models.ReadReceipt, error)
}

func (m *mockReceiptRepo) MarkRead(ctx context.Context, userID int64, ids []int64, readAt time.Time) ([]models.ReadReceipt, error) {
	if m.MarkReadFn != nil {
		return m.MarkReadFn(ctx, userID, ids, readAt)
	}
	return nil, nil
}

func (m *mockReceiptRepo) GetByMessages(context.Context, []int64) ([]models.ReadReceipt, error) {
	return nil, nil
}

type mockTypingRepo struct {
	UpsertFn        func(ctx context.Context, t *models.TypingIndicator) error
	DeleteFn        func(ctx context.Context, channelID, userID int64) (bool, error)
	ListByChannelFn func(ctx context.Context, channelID, excludeUserID int64, since time.Time) ([]models.TypingIndicator, error)
}

func (m *mockTypingRepo) Upsert(ctx context.Context, t *models.TypingIndicator) error {
	if m.UpsertFn != nil {
		return m.UpsertFn(ctx, t)
	}
	return nil
}

func (m *mockTypingRepo) Delete(ctx context.Context, channelID, userID int64) (bool, error) {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, channelID, userID)
	}
	return true, nil
}

func (m *mockTypingRepo) ListByChannel(ctx context.Context, channelID, excludeUserID int64, since time.Time) ([]models.TypingIndicator, error) {
	if m.ListByChannelFn != nil {
		return m.ListByChannelFn(ctx, channelID, excludeUserID, since)
	}
	return nil, nil
}

type mockProfileRepo struct {
	GetByIDFn      func(ctx context.Context, id int64) (*models.Profile, error)
	UpdateStatusFn func(ctx context.Context, id int64, status string, lastSeen time.Time) (*models.Profile, error)
}

func (m *mockProfileRepo) Create(context.Context, *models.Profile) error { return nil }

func (m *mockProfileRepo) GetByID(ctx context.Context, id int64) (*models.Profile, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	return &models.Profile{ID: id, Username: "user", Status: models.StatusOffline}, nil
}

func (m *mockProfileRepo) GetByUsername(context.Context, string) (*models.Profile, error) {
	return nil, nil
}

func (m *mockProfileRepo) UpdateStatus(ctx context.Context, id int64, status string, lastSeen time.Time) (*models.Profile, error) {
	if m.UpdateStatusFn != nil {
		return m.UpdateStatusFn(ctx, id, status, lastSeen)
	}
	return &models.Profile{ID: id, Username: "user", Status: status, LastSeen: &lastSeen}, nil
}

// ---- Publisher ----

type recordingPublisher struct {
	mu     sync.Mutex
	events []feed.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev feed.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Events() []feed.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]feed.Event(nil), p.events...)
}
