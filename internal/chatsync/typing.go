package chatsync

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/victorivanov/backchannel/internal/models"
)

// typingWrite is the remote write a local typing transition calls for.
type typingWrite int

const (
	writeNone typingWrite = iota
	writeUpsert
	writeDelete
)

// typingOutbox holds the newest typing write not yet issued. A write put
// while another is pending replaces it, so the backend always ends up with
// the latest local state however far the writer falls behind.
type typingOutbox struct {
	mu      sync.Mutex
	pending typingWrite
	closed  bool
	wake    chan struct{}
}

func newTypingOutbox() *typingOutbox {
	return &typingOutbox{wake: make(chan struct{}, 1)}
}

func (o *typingOutbox) put(w typingWrite) {
	o.mu.Lock()
	o.pending = w
	o.mu.Unlock()
	o.signal()
}

// close lets the writer drain the pending write and stop.
func (o *typingOutbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.signal()
}

func (o *typingOutbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// next blocks until a write is pending and takes it. It reports false once
// the outbox is closed and empty.
func (o *typingOutbox) next() (typingWrite, bool) {
	for {
		o.mu.Lock()
		w, closed := o.pending, o.closed
		o.pending = writeNone
		o.mu.Unlock()

		if w != writeNone {
			return w, true
		}
		if closed {
			return writeNone, false
		}
		<-o.wake
	}
}

type remoteTyping struct {
	row  models.TypingIndicator
	seen time.Time
}

// TypingTracker holds the typing rows of other users in the open channel
// and the local idle/typing state of the current user.
//
// Remote rows expire ttl after they were last refreshed. The local state
// goes idle ttl after the last draft change and asks for exactly one
// delete per typing period.
type TypingTracker struct {
	me  int64
	ttl time.Duration

	remote map[int64]remoteTyping
	order  []int64

	typing   bool
	deadline time.Time
	refresh  *rate.Limiter
}

// NewTypingTracker returns a tracker for user me. Upserts while typing are
// throttled to one per refresh interval.
func NewTypingTracker(me int64, ttl, refresh time.Duration) *TypingTracker {
	return &TypingTracker{
		me:      me,
		ttl:     ttl,
		remote:  make(map[int64]remoteTyping),
		refresh: rate.NewLimiter(rate.Every(refresh), 1),
	}
}

// Draft applies a draft change at now.
func (t *TypingTracker) Draft(text string, now time.Time) typingWrite {
	if strings.TrimSpace(text) == "" {
		return t.stop()
	}
	t.deadline = now.Add(t.ttl)
	if !t.typing {
		t.typing = true
		t.refresh.AllowN(now, 1)
		return writeUpsert
	}
	if t.refresh.AllowN(now, 1) {
		return writeUpsert
	}
	return writeNone
}

// Sent ends typing after the user sends a message.
func (t *TypingTracker) Sent() typingWrite { return t.stop() }

// Close ends typing when the channel closes.
func (t *TypingTracker) Close() typingWrite { return t.stop() }

// Expire ends typing if the inactivity deadline has passed at now.
func (t *TypingTracker) Expire(now time.Time) typingWrite {
	if !t.typing || now.Before(t.deadline) {
		return writeNone
	}
	return t.stop()
}

func (t *TypingTracker) stop() typingWrite {
	if !t.typing {
		return writeNone
	}
	t.typing = false
	t.deadline = time.Time{}
	return writeDelete
}

// Typing reports whether the current user is in the typing state.
func (t *TypingTracker) Typing() bool { return t.typing }

// Deadline returns when local typing goes idle without further input.
func (t *TypingTracker) Deadline() time.Time { return t.deadline }

// Load replaces the remote rows.
func (t *TypingTracker) Load(rows []models.TypingIndicator, now time.Time) {
	t.remote = make(map[int64]remoteTyping, len(rows))
	t.order = t.order[:0]
	for _, r := range rows {
		t.Upsert(r, now)
	}
}

// Upsert records or refreshes a remote row. Rows of the current user are
// ignored.
func (t *TypingTracker) Upsert(row models.TypingIndicator, now time.Time) bool {
	if row.UserID == t.me {
		return false
	}
	prev, ok := t.remote[row.UserID]
	if !ok {
		t.order = append(t.order, row.UserID)
	} else if row.Username == "" {
		row.Username = prev.row.Username
	}
	t.remote[row.UserID] = remoteTyping{row: row, seen: now}
	return true
}

// Delete drops a remote row. Deleting an unknown row is a no-op.
func (t *TypingTracker) Delete(userID int64) bool {
	if _, ok := t.remote[userID]; !ok {
		return false
	}
	delete(t.remote, userID)
	for i, id := range t.order {
		if id == userID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

// ExpireRemote drops rows not refreshed within ttl of now.
func (t *TypingTracker) ExpireRemote(now time.Time) bool {
	changed := false
	for id, r := range t.remote {
		if !now.Before(r.seen.Add(t.ttl)) {
			t.Delete(id)
			changed = true
		}
	}
	return changed
}

// NextExpiry returns when the oldest remote row expires.
func (t *TypingTracker) NextExpiry() (time.Time, bool) {
	var next time.Time
	for _, r := range t.remote {
		at := r.seen.Add(t.ttl)
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}
	return next, !next.IsZero()
}

// Names returns the display names of typing users in arrival order.
func (t *TypingTracker) Names() []string {
	names := make([]string, 0, len(t.order))
	for _, id := range t.order {
		name := t.remote[id].row.Username
		if name == "" {
			name = "Someone"
		}
		names = append(names, name)
	}
	return names
}

// Text renders the typing line shown under the message list.
func (t *TypingTracker) Text() string { return TypingText(t.Names()) }

// TypingText renders names as a typing line.
func TypingText(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing…"
	case 2:
		return names[0] + " and " + names[1] + " are typing…"
	default:
		return fmt.Sprintf("%d people are typing…", len(names))
	}
}
