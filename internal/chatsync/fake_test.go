package chatsync

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/victorivanov/backchannel/internal/feed"
	"github.com/victorivanov/backchannel/internal/feed/memfeed"
	"github.com/victorivanov/backchannel/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory server
// ---------------------------------------------------------------------------

// world is a shared in-memory server. Every write publishes the change event
// the real services publish.
type world struct {
	bus *memfeed.Bus

	mu        sync.Mutex
	nextID    int64
	channels  []models.Channel
	profiles  map[int64]models.Profile
	messages  []models.Message
	reactions []models.Reaction
	receipts  []models.ReadReceipt
	typing    map[[2]int64]models.TypingIndicator

	typingUpserts map[int64]int
	typingDeletes map[int64]int
	presence      map[int64][]string

	failCreate bool
	createGate chan struct{}

	receiptBatches []int
}

func newWorld(t *testing.T) *world {
	t.Helper()
	bus := memfeed.New(nil)
	t.Cleanup(func() { bus.Close() })
	return &world{
		bus:    bus,
		nextID: 1000,
		channels: []models.Channel{
			{ID: 1, Slug: "general", Name: "general"},
			{ID: 2, Slug: "random", Name: "random"},
		},
		profiles: map[int64]models.Profile{
			alice: {ID: alice, Username: "alice", Status: models.StatusOffline},
			bob:   {ID: bob, Username: "bob", Status: models.StatusOffline},
			carol: {ID: carol, Username: "carol", Status: models.StatusOffline},
		},
		typing:        make(map[[2]int64]models.TypingIndicator),
		typingUpserts: make(map[int64]int),
		typingDeletes: make(map[int64]int),
		presence:      make(map[int64][]string),
	}
}

const (
	alice int64 = 1
	bob   int64 = 2
	carol int64 = 3

	general int64 = 1
	random  int64 = 2
)

func (w *world) publish(ev feed.Event) {
	_ = w.bus.Publish(context.Background(), ev)
}

// seedMessage stores a message without publishing it.
func (w *world) seedMessage(channelID, authorID int64, content string, at time.Time) models.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	m := models.Message{ID: w.nextID, ChannelID: channelID, AuthorID: authorID, Content: content, CreatedAt: at}
	w.messages = append(w.messages, m)
	return m
}

func (w *world) seedReaction(messageID, userID int64, emoji string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reactions = append(w.reactions, models.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji})
}

func (w *world) receiptsFor(messageID int64) []models.ReadReceipt {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []models.ReadReceipt
	for _, r := range w.receipts {
		if r.MessageID == messageID {
			out = append(out, r)
		}
	}
	return out
}

func (w *world) typingCounts(userID int64) (upserts, deletes int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.typingUpserts[userID], w.typingDeletes[userID]
}

func (w *world) presenceWrites(userID int64) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.presence[userID]...)
}

func (w *world) joined(m models.Message) models.Message {
	p := w.profiles[m.AuthorID]
	m.Author = &p
	for _, r := range w.reactions {
		if r.MessageID == m.ID {
			m.Reactions = append(m.Reactions, r)
		}
	}
	for _, r := range w.receipts {
		if r.MessageID == m.ID {
			m.Receipts = append(m.Receipts, r)
		}
	}
	return m
}

// ---------------------------------------------------------------------------
// Backend acting as one user
// ---------------------------------------------------------------------------

type fakeBackend struct {
	w    *world
	user int64
}

func (w *world) backend(user int64) *fakeBackend { return &fakeBackend{w: w, user: user} }

func (b *fakeBackend) FetchChannel(_ context.Context, ref string) (*models.Channel, error) {
	b.w.mu.Lock()
	defer b.w.mu.Unlock()
	for _, ch := range b.w.channels {
		if ch.Slug == ref || strconv.FormatInt(ch.ID, 10) == ref {
			return &ch, nil
		}
	}
	ch := b.w.channels[0]
	return &ch, nil
}

func (b *fakeBackend) FetchMessages(_ context.Context, channelID int64) ([]models.Message, error) {
	b.w.mu.Lock()
	defer b.w.mu.Unlock()
	var out []models.Message
	for _, m := range b.w.messages {
		if m.ChannelID == channelID {
			out = append(out, b.w.joined(m))
		}
	}
	return out, nil
}

func (b *fakeBackend) FetchMessage(_ context.Context, id int64) (*models.Message, error) {
	b.w.mu.Lock()
	defer b.w.mu.Unlock()
	for _, m := range b.w.messages {
		if m.ID == id {
			full := b.w.joined(m)
			return &full, nil
		}
	}
	return nil, errors.New("not found")
}

func (b *fakeBackend) FetchProfile(_ context.Context, userID int64) (*models.Profile, error) {
	b.w.mu.Lock()
	defer b.w.mu.Unlock()
	p, ok := b.w.profiles[userID]
	if !ok {
		return nil, errors.New("not found")
	}
	return &p, nil
}

func (b *fakeBackend) FetchReactions(_ context.Context, channelID int64) ([]models.Reaction, error) {
	b.w.mu.Lock()
	defer b.w.mu.Unlock()
	inChannel := make(map[int64]bool)
	for _, m := range b.w.messages {
		if m.ChannelID == channelID {
			inChannel[m.ID] = true
		}
	}
	var out []models.Reaction
	for _, r := range b.w.reactions {
		if inChannel[r.MessageID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (b *fakeBackend) FetchTyping(_ context.Context, channelID int64) ([]models.TypingIndicator, error) {
	b.w.mu.Lock()
	defer b.w.mu.Unlock()
	var out []models.TypingIndicator
	for k, t := range b.w.typing {
		if k[0] == channelID && k[1] != b.user {
			out = append(out, t)
		}
	}
	return out, nil
}

func (b *fakeBackend) CreateMessage(_ context.Context, draft models.MessageDraft) (*models.Message, error) {
	if gate := b.w.createGate; gate != nil {
		<-gate
	}

	b.w.mu.Lock()
	if b.w.failCreate {
		b.w.mu.Unlock()
		return nil, ErrTransient
	}
	for _, m := range b.w.messages {
		if m.AuthorID == b.user && draft.Nonce != "" && m.Nonce == draft.Nonce {
			full := b.w.joined(m)
			b.w.mu.Unlock()
			return &full, nil
		}
	}
	b.w.nextID++
	m := models.Message{
		ID:          b.w.nextID,
		ChannelID:   draft.ChannelID,
		AuthorID:    b.user,
		Content:     draft.Content,
		Attachments: draft.Attachments,
		ParentID:    draft.ParentID,
		Nonce:       draft.Nonce,
		CreatedAt:   time.Now().UTC(),
	}
	b.w.messages = append(b.w.messages, m)
	full := b.w.joined(m)
	b.w.mu.Unlock()

	b.w.publish(feed.MessageInserted{Message: m})
	return &full, nil
}

func (b *fakeBackend) AddReaction(_ context.Context, messageID int64, emoji string) error {
	b.w.mu.Lock()
	for _, r := range b.w.reactions {
		if r.MessageID == messageID && r.UserID == b.user && r.Emoji == emoji {
			b.w.mu.Unlock()
			return ErrConflictIgnored
		}
	}
	r := models.Reaction{MessageID: messageID, UserID: b.user, Emoji: emoji, CreatedAt: time.Now()}
	b.w.reactions = append(b.w.reactions, r)
	b.w.mu.Unlock()

	b.w.publish(feed.ReactionAdded{Reaction: r})
	return nil
}

func (b *fakeBackend) RemoveReaction(_ context.Context, messageID int64, emoji string) error {
	b.w.mu.Lock()
	var removed *models.Reaction
	for i, r := range b.w.reactions {
		if r.MessageID == messageID && r.UserID == b.user && r.Emoji == emoji {
			removed = &r
			b.w.reactions = append(b.w.reactions[:i], b.w.reactions[i+1:]...)
			break
		}
	}
	b.w.mu.Unlock()

	if removed != nil {
		b.w.publish(feed.ReactionRemoved{Reaction: *removed})
	}
	return nil
}

func (b *fakeBackend) UpsertTyping(_ context.Context, channelID int64) error {
	b.w.mu.Lock()
	p := b.w.profiles[b.user]
	t := models.TypingIndicator{
		ChannelID:  channelID,
		UserID:     b.user,
		LastActive: time.Now(),
		Username:   p.Name(),
	}
	b.w.typing[[2]int64{channelID, b.user}] = t
	b.w.typingUpserts[b.user]++
	b.w.mu.Unlock()

	b.w.publish(feed.TypingUpserted{Typing: t})
	return nil
}

func (b *fakeBackend) DeleteTyping(_ context.Context, channelID int64) error {
	b.w.mu.Lock()
	key := [2]int64{channelID, b.user}
	_, existed := b.w.typing[key]
	delete(b.w.typing, key)
	b.w.typingDeletes[b.user]++
	b.w.mu.Unlock()

	if existed {
		b.w.publish(feed.TypingDeleted{ChannelID: channelID, UserID: b.user})
	}
	return nil
}

func (b *fakeBackend) MarkRead(_ context.Context, ids []int64) ([]models.ReadReceipt, error) {
	b.w.mu.Lock()
	b.w.receiptBatches = append(b.w.receiptBatches, len(ids))
	if len(ids) > models.MaxReceiptBatch {
		b.w.mu.Unlock()
		return nil, errors.New("at most 500 messages per request")
	}
	var written []models.ReadReceipt
	for _, id := range ids {
		dup := false
		for _, r := range b.w.receipts {
			if r.MessageID == id && r.UserID == b.user {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		r := models.ReadReceipt{MessageID: id, UserID: b.user, ReadAt: time.Now()}
		b.w.receipts = append(b.w.receipts, r)
		written = append(written, r)
	}
	b.w.mu.Unlock()

	for _, r := range written {
		b.w.publish(feed.ReceiptAdded{Receipt: r})
	}
	return written, nil
}

func (b *fakeBackend) UpdatePresence(_ context.Context, status string) error {
	b.w.mu.Lock()
	p := b.w.profiles[b.user]
	p.Status = status
	now := time.Now()
	p.LastSeen = &now
	b.w.profiles[b.user] = p
	b.w.presence[b.user] = append(b.w.presence[b.user], status)
	b.w.mu.Unlock()

	b.w.publish(feed.ProfileUpdated{Profile: p})
	return nil
}

// ---------------------------------------------------------------------------
// Client helpers
// ---------------------------------------------------------------------------

func testOptions(user int64) Options {
	return Options{
		UserID:            user,
		TypingTimeout:     150 * time.Millisecond,
		TypingRefresh:     50 * time.Millisecond,
		HeartbeatInterval: -1,
		NewBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(10 * time.Millisecond)
		},
	}
}

// startClient runs a client for user until the test ends.
func startClient(t *testing.T, w *world, opts Options) *Client {
	t.Helper()
	c := New(w.backend(opts.UserID), w.bus, opts)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return c
}

func openChannel(t *testing.T, c *Client, channelID int64) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.OpenChannel(ctx, channelID); err != nil {
		t.Fatalf("OpenChannel(%d): %v", channelID, err)
	}
}

// waitFor polls cond until it holds or a deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
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

// confirmed returns the non-pending rows of a view.
func confirmed(v View) []MessageView {
	var out []MessageView
	for _, m := range v.Messages {
		if !m.Pending {
			out = append(out, m)
		}
	}
	return out
}

func groupFor(m MessageView, emoji string) (models.ReactionGroup, bool) {
	for _, g := range m.Reactions {
		if g.Emoji == emoji {
			return g, true
		}
	}
	return models.ReactionGroup{}, false
}
