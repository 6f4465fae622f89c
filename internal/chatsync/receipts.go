package chatsync

import (
	"time"

	"github.com/victorivanov/backchannel/internal/models"
)

// ReceiptTracker merges read receipts for the open channel's messages.
// Receipts are write-once: when two copies of a (message, user) pair
// arrive, the earliest ReadAt is kept.
type ReceiptTracker struct {
	me        int64
	byMessage map[int64]map[int64]time.Time
	requested map[int64]bool
	unread    int
}

func NewReceiptTracker(me int64) *ReceiptTracker {
	return &ReceiptTracker{
		me:        me,
		byMessage: make(map[int64]map[int64]time.Time),
		requested: make(map[int64]bool),
	}
}

// Load replaces the tracked receipts with those joined onto msgs.
func (r *ReceiptTracker) Load(msgs []models.Message) {
	r.byMessage = make(map[int64]map[int64]time.Time)
	r.requested = make(map[int64]bool)
	r.unread = 0
	for _, m := range msgs {
		for _, rc := range m.Receipts {
			r.Apply(rc)
		}
	}
}

// Apply merges one receipt. It reports whether anything changed.
func (r *ReceiptTracker) Apply(rc models.ReadReceipt) bool {
	users, ok := r.byMessage[rc.MessageID]
	if !ok {
		users = make(map[int64]time.Time)
		r.byMessage[rc.MessageID] = users
	}
	if at, ok := users[rc.UserID]; ok && !rc.ReadAt.Before(at) {
		return false
	}
	users[rc.UserID] = rc.ReadAt
	return true
}

// ReadAt returns when userID read messageID.
func (r *ReceiptTracker) ReadAt(messageID, userID int64) (time.Time, bool) {
	at, ok := r.byMessage[messageID][userID]
	return at, ok
}

// ReadByMe reports whether the current user has a receipt for messageID.
func (r *ReceiptTracker) ReadByMe(messageID int64) bool {
	_, ok := r.byMessage[messageID][r.me]
	return ok
}

// ReadByOthers counts receipts for messageID from users other than the
// current one.
func (r *ReceiptTracker) ReadByOthers(messageID int64) int {
	n := 0
	for uid := range r.byMessage[messageID] {
		if uid != r.me {
			n++
		}
	}
	return n
}

// Backlog returns the confirmed messages written by others that still lack
// a receipt from the current user and have not been requested yet.
func (r *ReceiptTracker) Backlog(s *Store) []int64 {
	var ids []int64
	s.Each(func(m *models.Message, pending bool) {
		if pending || m.AuthorID == r.me || r.requested[m.ID] || r.ReadByMe(m.ID) {
			return
		}
		ids = append(ids, m.ID)
	})
	return ids
}

// Request marks ids as having a write in flight so they are not requested
// twice.
func (r *ReceiptTracker) Request(ids []int64) {
	for _, id := range ids {
		r.requested[id] = true
	}
}

// Release forgets in-flight requests after a failed write so the next
// backlog pass retries them.
func (r *ReceiptTracker) Release(ids []int64) {
	for _, id := range ids {
		delete(r.requested, id)
	}
}

// Forget drops the receipts of a deleted message.
func (r *ReceiptTracker) Forget(messageID int64) {
	delete(r.byMessage, messageID)
	delete(r.requested, messageID)
}

func (r *ReceiptTracker) Unread() int     { return r.unread }
func (r *ReceiptTracker) AddUnread()      { r.unread++ }
func (r *ReceiptTracker) SetUnread(n int) { r.unread = n }
