package backend

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/victorivanov/backchannel/internal/chatsync"
	"github.com/victorivanov/backchannel/internal/feed/memfeed"
	"github.com/victorivanov/backchannel/internal/models"
	"github.com/victorivanov/backchannel/internal/service"
	"github.com/victorivanov/backchannel/internal/snowflake"
)

type memProfiles struct {
	mu   sync.Mutex
	rows map[int64]models.Profile
}

func (m *memProfiles) Create(_ context.Context, p *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[p.ID] = *p
	return nil
}

func (m *memProfiles) GetByID(_ context.Context, id int64) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.rows[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (m *memProfiles) GetByUsername(_ context.Context, username string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.Username == username {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *memProfiles) UpdateStatus(_ context.Context, id int64, status string, lastSeen time.Time) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	p.Status, p.LastSeen = status, &lastSeen
	m.rows[id] = p
	return &p, nil
}

type noReactions struct{}

func (noReactions) Add(context.Context, *models.Reaction) (bool, error)            { return true, nil }
func (noReactions) Remove(context.Context, int64, int64, string) (bool, error)     { return true, nil }
func (noReactions) GetByMessage(context.Context, int64) ([]models.Reaction, error) { return nil, nil }
func (noReactions) GetByChannel(context.Context, int64) ([]models.Reaction, error) { return nil, nil }

type noReceipts struct{}

func (noReceipts) MarkRead(context.Context, int64, []int64, time.Time) ([]models.ReadReceipt, error) {
	return nil, nil
}

func (noReceipts) GetByMessages(context.Context, []int64) ([]models.ReadReceipt, error) {
	return nil, nil
}

type noTyping struct{}

func (noTyping) Upsert(context.Context, *models.TypingIndicator) error { return nil }
func (noTyping) Delete(context.Context, int64, int64) (bool, error)    { return true, nil }
func (noTyping) ListByChannel(context.Context, int64, int64, time.Time) ([]models.TypingIndicator, error) {
	return nil, nil
}

func TestLocal_ClientOverMemoryFeed(t *testing.T) {
	bus := memfeed.New(nil)
	defer bus.Close()

	sf, err := snowflake.NewGenerator(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	channels := &memChannels{rows: []models.Channel{{ID: 10, Slug: "general", Name: "General"}}}
	msgs := &memMessages{rows: make(map[int64]models.Message)}
	profiles := &memProfiles{rows: map[int64]models.Profile{
		1: {ID: 1, Username: "alice", Status: models.StatusOnline},
		2: {ID: 2, Username: "bob", Status: models.StatusOnline},
	}}
	svc := Services{
		Channels:  service.NewChannelService(channels),
		Messages:  service.NewMessageService(msgs, channels, sf, bus),
		Profiles:  service.NewProfileService(profiles, nil, bus),
		Reactions: service.NewReactionService(noReactions{}, msgs, bus),
		Receipts:  service.NewReceiptService(noReceipts{}, bus),
		Typing:    service.NewTypingService(noTyping{}, profiles, nil, bus),
	}

	alice := chatsync.New(NewLocal(svc, 1), bus, chatsync.Options{UserID: 1, HeartbeatInterval: -1})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		alice.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	openCtx, openCancel := context.WithTimeout(ctx, 2*time.Second)
	defer openCancel()
	ch, err := NewLocal(svc, 1).FetchChannel(openCtx, "general")
	if err != nil {
		t.Fatalf("FetchChannel: %v", err)
	}
	if err := alice.OpenChannel(openCtx, ch.ID); err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}

	bob := NewLocal(svc, 2)
	if _, err := bob.CreateMessage(ctx, models.MessageDraft{ChannelID: 10, Content: "hi alice"}); err != nil {
		t.Fatalf("bob CreateMessage: %v", err)
	}
	waitUntil(t, "bob's message with its author", func() bool {
		v := alice.Snapshot()
		return len(v.Messages) == 1 && v.Messages[0].Content == "hi alice" &&
			v.Messages[0].Author != nil && v.Messages[0].Author.Username == "bob"
	})

	if _, err := alice.SendMessage(ctx, models.MessageDraft{Content: "hi bob"}); err != nil {
		t.Fatalf("alice SendMessage: %v", err)
	}
	waitUntil(t, "alice's message confirmed once", func() bool {
		v := alice.Snapshot()
		return len(v.Messages) == 2 && !v.Messages[1].Pending && v.Messages[1].Content == "hi bob"
	})
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
