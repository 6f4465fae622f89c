package backend

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/victorivanov/backchannel/internal/chatsync"
	"github.com/victorivanov/backchannel/internal/models"
	"github.com/victorivanov/backchannel/internal/service"
)

func TestLocalError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"conflict", service.Conflict("DUPLICATE", "exists"), chatsync.ErrConflictIgnored},
		{"internal", service.Internal("INTERNAL", "db down"), chatsync.ErrTransient},
		{"not found", service.NotFound("NOT_FOUND", "missing"), service.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := localError(tt.in); !errors.Is(err, tt.want) {
				t.Errorf("localError(%v) = %v, want %v", tt.in, err, tt.want)
			}
		})
	}
	if localError(nil) != nil {
		t.Error("nil must map to nil")
	}
}

// ---------------------------------------------------------------------------
// In-memory repositories
// ---------------------------------------------------------------------------

type memChannels struct{ rows []models.Channel }

func (m *memChannels) Create(_ context.Context, ch *models.Channel) error {
	m.rows = append(m.rows, *ch)
	return nil
}

func (m *memChannels) GetByID(_ context.Context, id int64) (*models.Channel, error) {
	for _, ch := range m.rows {
		if ch.ID == id {
			return &ch, nil
		}
	}
	return nil, nil
}

func (m *memChannels) GetBySlug(_ context.Context, slug string) (*models.Channel, error) {
	for _, ch := range m.rows {
		if ch.Slug == slug {
			return &ch, nil
		}
	}
	return nil, nil
}

func (m *memChannels) List(context.Context) ([]models.Channel, error) { return m.rows, nil }

type memMessages struct {
	mu   sync.Mutex
	rows map[int64]models.Message
}

func (m *memMessages) Create(_ context.Context, msg *models.Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[msg.ID] = *msg
	return true, nil
}

func (m *memMessages) GetByID(_ context.Context, id int64) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.rows[id]; ok {
		return &msg, nil
	}
	return nil, nil
}

func (m *memMessages) GetByNonce(context.Context, int64, string) (*models.Message, error) {
	return nil, nil
}

// GetByChannelID pages through rows sorted by ID, which the tests use as
// creation order.
func (m *memMessages) GetByChannelID(_ context.Context, channelID, before int64, limit int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, msg := range m.rows {
		if msg.ChannelID == channelID && (before == 0 || id < before) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.rows[id])
	}
	return out, nil
}

func (m *memMessages) Update(context.Context, *models.Message) error { return nil }
func (m *memMessages) Delete(context.Context, int64) error           { return nil }

type failingReactions struct{ err error }

func (f *failingReactions) Add(context.Context, *models.Reaction) (bool, error) { return false, f.err }
func (f *failingReactions) Remove(context.Context, int64, int64, string) (bool, error) {
	return false, f.err
}
func (f *failingReactions) GetByMessage(context.Context, int64) ([]models.Reaction, error) {
	return nil, f.err
}
func (f *failingReactions) GetByChannel(context.Context, int64) ([]models.Reaction, error) {
	return nil, f.err
}

func TestLocal_FetchChannel(t *testing.T) {
	channels := &memChannels{rows: []models.Channel{
		{ID: 10, Slug: "general", Name: "General"},
		{ID: 11, Slug: "random", Name: "Random"},
	}}
	l := NewLocal(Services{Channels: service.NewChannelService(channels)}, 1)
	ctx := context.Background()

	tests := []struct {
		ref  string
		want int64
	}{
		{"11", 11},
		{"random", 11},
		{"no-such-channel", 10},
		{"", 10},
		// A numeric ref that is not an ID is tried as a slug.
		{"999", 10},
	}
	for _, tt := range tests {
		ch, err := l.FetchChannel(ctx, tt.ref)
		if err != nil {
			t.Fatalf("FetchChannel(%q): %v", tt.ref, err)
		}
		if ch.ID != tt.want {
			t.Errorf("FetchChannel(%q) = %d, want %d", tt.ref, ch.ID, tt.want)
		}
	}
}

func TestLocal_ReactionErrors(t *testing.T) {
	msgs := &memMessages{rows: map[int64]models.Message{5000: {ID: 5000, ChannelID: 10}}}
	reactions := &failingReactions{err: errors.New("connection reset")}
	l := NewLocal(Services{Reactions: service.NewReactionService(reactions, msgs, nil)}, 1)
	ctx := context.Background()

	if err := l.AddReaction(ctx, 5000, "👍"); !errors.Is(err, chatsync.ErrTransient) {
		t.Errorf("store failure: err = %v, want ErrTransient", err)
	}
	if err := l.AddReaction(ctx, 6000, "👍"); !errors.Is(err, service.ErrNotFound) || errors.Is(err, chatsync.ErrTransient) {
		t.Errorf("unknown message: err = %v, want ErrNotFound", err)
	}
	if err := l.RemoveReaction(ctx, 5000, "👍"); !errors.Is(err, chatsync.ErrTransient) {
		t.Errorf("remove failure: err = %v, want ErrTransient", err)
	}
}

func TestLocal_FetchMessagesLoadsWholeHistory(t *testing.T) {
	channels := &memChannels{rows: []models.Channel{{ID: 10, Slug: "general"}}}
	msgs := &memMessages{rows: make(map[int64]models.Message)}
	total := 2*models.MaxMessagePage + 7
	for i := 1; i <= total; i++ {
		msgs.rows[int64(i)] = models.Message{ID: int64(i), ChannelID: 10}
	}
	msgs.rows[int64(total+1)] = models.Message{ID: int64(total + 1), ChannelID: 11}

	l := NewLocal(Services{
		Channels: service.NewChannelService(channels),
		Messages: service.NewMessageService(msgs, channels, nil, nil),
	}, 1)

	got, err := l.FetchMessages(context.Background(), 10)
	if err != nil {
		t.Fatalf("FetchMessages: %v", err)
	}
	if len(got) != total {
		t.Fatalf("len = %d, want %d", len(got), total)
	}
	for i, m := range got {
		if m.ID != int64(i+1) {
			t.Fatalf("got[%d].ID = %d, want %d", i, m.ID, i+1)
		}
	}
}
