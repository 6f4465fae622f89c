package chatsync

import (
	"sort"

	"github.com/victorivanov/backchannel/internal/models"
)

type entry struct {
	msg     models.Message
	pending bool
	seq     uint64
}

// Store is the ordered message set of the open channel. It merges
// optimistic placeholders with authoritative rows and is owned by the
// client loop.
//
// Published snapshots share joined pointers with the store, so joined
// values are replaced, never mutated.
//
// Entries are ordered by creation time, then ID. A pending entry sorts
// after confirmed entries with the same timestamp; pending entries among
// themselves keep send order.
type Store struct {
	entries []*entry
	byID    map[int64]*entry
	pending map[string]*entry
	seq     uint64
}

func NewStore() *Store {
	return &Store{
		byID:    make(map[int64]*entry),
		pending: make(map[string]*entry),
	}
}

func less(a, b *entry) bool {
	if !a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
		return a.msg.CreatedAt.Before(b.msg.CreatedAt)
	}
	if a.pending != b.pending {
		return !a.pending
	}
	if a.pending {
		return a.seq < b.seq
	}
	return a.msg.ID < b.msg.ID
}

// Load replaces the whole state with msgs. Placeholders still waiting for
// their write survive unless msgs already holds their row.
func (s *Store) Load(msgs []models.Message) {
	keep := make([]*entry, 0, len(s.pending))
	for _, e := range s.entries {
		if e.pending {
			keep = append(keep, e)
		}
	}

	s.entries = s.entries[:0]
	s.byID = make(map[int64]*entry, len(msgs))
	s.pending = make(map[string]*entry, len(keep))

	for _, m := range msgs {
		if _, ok := s.byID[m.ID]; ok {
			continue
		}
		e := s.newEntry(m, false)
		s.byID[m.ID] = e
		s.entries = append(s.entries, e)
	}
	sort.SliceStable(s.entries, func(i, j int) bool { return less(s.entries[i], s.entries[j]) })

	for _, e := range keep {
		if s.heldNonce(e.msg.AuthorID, e.msg.Nonce) {
			continue
		}
		s.pending[e.msg.Nonce] = e
		s.insert(e)
	}
	s.resolveParents()
}

func (s *Store) heldNonce(authorID int64, nonce string) bool {
	for _, e := range s.entries {
		if !e.pending && e.msg.Nonce == nonce && e.msg.AuthorID == authorID {
			return true
		}
	}
	return false
}

func (s *Store) newEntry(m models.Message, pending bool) *entry {
	s.seq++
	return &entry{msg: m, pending: pending, seq: s.seq}
}

func (s *Store) insert(e *entry) {
	i := sort.Search(len(s.entries), func(i int) bool { return less(e, s.entries[i]) })
	s.entries = append(s.entries, nil)
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
}

func (s *Store) remove(e *entry) {
	for i, x := range s.entries {
		if x == e {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// InsertResult describes what ApplyInsert did.
type InsertResult int

const (
	// Duplicate means the ID was already held; nothing changed.
	Duplicate InsertResult = iota
	// Inserted means a new message was added.
	Inserted
	// Reconciled means a pending placeholder was replaced by its row.
	Reconciled
)

// ApplyInsert merges an authoritative row. Applying the same row twice is a
// no-op the second time.
func (s *Store) ApplyInsert(m models.Message) InsertResult {
	if _, ok := s.byID[m.ID]; ok {
		return Duplicate
	}

	result := Inserted
	if m.Nonce != "" {
		if p, ok := s.pending[m.Nonce]; ok && p.msg.AuthorID == m.AuthorID {
			delete(s.pending, m.Nonce)
			s.remove(p)
			m = inheritJoined(m, p.msg)
			result = Reconciled
		}
	}

	e := s.newEntry(m, false)
	s.byID[m.ID] = e
	s.insert(e)
	s.resolveParent(e)
	s.AttachParent(e.msg)
	return result
}

// inheritJoined copies joined fields the bare row lacks from the
// placeholder it replaces.
func inheritJoined(row, placeholder models.Message) models.Message {
	if row.Author == nil {
		row.Author = placeholder.Author
	}
	if row.Parent == nil {
		row.Parent = placeholder.Parent
	}
	return row
}

// ApplyUpdate patches the content of a held message in place. It reports
// false for an unknown ID.
func (s *Store) ApplyUpdate(m models.Message) bool {
	e, ok := s.byID[m.ID]
	if !ok {
		return false
	}
	e.msg.Content = m.Content
	e.msg.Attachments = m.Attachments
	e.msg.EditedAt = m.EditedAt
	for _, x := range s.entries {
		if x.msg.Parent != nil && x.msg.Parent.ID == m.ID {
			pp := *x.msg.Parent
			pp.Content = m.Content
			x.msg.Parent = &pp
		}
	}
	return true
}

// ApplyDelete removes a message. Deleting an unknown ID returns
// ErrUnknownReference and changes nothing.
func (s *Store) ApplyDelete(id int64) error {
	e, ok := s.byID[id]
	if !ok {
		return ErrUnknownReference
	}
	delete(s.byID, id)
	s.remove(e)
	return nil
}

// AddPending shows a placeholder for a message being sent. m must carry a
// nonce; its ID is ignored.
func (s *Store) AddPending(m models.Message) {
	m.ID = 0
	e := s.newEntry(m, true)
	s.pending[m.Nonce] = e
	s.insert(e)
	s.resolveParent(e)
}

// Confirm promotes the placeholder for nonce to the server's message. When
// the feed already delivered the row, Confirm only fills in joined fields;
// when the placeholder is gone, the message is inserted.
func (s *Store) Confirm(nonce string, m models.Message) {
	if e, ok := s.byID[m.ID]; ok {
		if e.msg.Author == nil {
			e.msg.Author = m.Author
		}
		if e.msg.Parent == nil {
			e.msg.Parent = m.Parent
		}
		if p, ok := s.pending[nonce]; ok {
			delete(s.pending, nonce)
			s.remove(p)
		}
		return
	}
	if p, ok := s.pending[nonce]; ok {
		delete(s.pending, nonce)
		s.remove(p)
		m = inheritJoined(m, p.msg)
	}
	e := s.newEntry(m, false)
	s.byID[m.ID] = e
	s.insert(e)
	s.resolveParent(e)
}

// Fail drops the placeholder for nonce. It reports whether one was held.
func (s *Store) Fail(nonce string) bool {
	p, ok := s.pending[nonce]
	if !ok {
		return false
	}
	delete(s.pending, nonce)
	s.remove(p)
	return true
}

// Get returns a copy of a held confirmed message.
func (s *Store) Get(id int64) (models.Message, bool) {
	e, ok := s.byID[id]
	if !ok {
		return models.Message{}, false
	}
	return e.msg, true
}

func (s *Store) Has(id int64) bool {
	_, ok := s.byID[id]
	return ok
}

func (s *Store) Len() int { return len(s.entries) }

// IDs returns the IDs of every confirmed message.
func (s *Store) IDs() []int64 {
	ids := make([]int64, 0, len(s.byID))
	for _, e := range s.entries {
		if !e.pending {
			ids = append(ids, e.msg.ID)
		}
	}
	return ids
}

// Each calls fn for every entry in display order.
func (s *Store) Each(fn func(m *models.Message, pending bool)) {
	for _, e := range s.entries {
		fn(&e.msg, e.pending)
	}
}

func (s *Store) resolveParent(e *entry) {
	if e.msg.ParentID == nil || e.msg.Parent != nil {
		return
	}
	if p, ok := s.byID[*e.msg.ParentID]; ok {
		e.msg.Parent = p.msg.Preview()
	}
}

func (s *Store) resolveParents() {
	for _, e := range s.entries {
		s.resolveParent(e)
	}
}

// UnresolvedParents lists the parent IDs referenced by held messages whose
// preview is still missing.
func (s *Store) UnresolvedParents() []int64 {
	var out []int64
	seen := make(map[int64]bool)
	for _, e := range s.entries {
		if e.msg.ParentID == nil || e.msg.Parent != nil {
			continue
		}
		id := *e.msg.ParentID
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// AttachParent sets the preview of parent on every message replying to it.
func (s *Store) AttachParent(parent models.Message) bool {
	changed := false
	for _, e := range s.entries {
		if e.msg.ParentID != nil && *e.msg.ParentID == parent.ID && e.msg.Parent == nil {
			e.msg.Parent = parent.Preview()
			changed = true
		}
	}
	return changed
}

// MissingAuthors lists author IDs of held messages without a joined
// profile.
func (s *Store) MissingAuthors() []int64 {
	var out []int64
	seen := make(map[int64]bool)
	for _, e := range s.entries {
		if e.msg.Author == nil && !seen[e.msg.AuthorID] {
			seen[e.msg.AuthorID] = true
			out = append(out, e.msg.AuthorID)
		}
	}
	return out
}

// SetAuthor joins p onto every message it wrote, replacing stale copies.
func (s *Store) SetAuthor(p models.Profile) bool {
	changed := false
	for _, e := range s.entries {
		if e.msg.AuthorID == p.ID {
			cp := p
			e.msg.Author = &cp
			changed = true
		}
		if e.msg.Parent != nil && e.msg.Parent.AuthorID == p.ID && e.msg.Parent.AuthorUsername == "" {
			pp := *e.msg.Parent
			pp.AuthorUsername = p.Username
			e.msg.Parent = &pp
			changed = true
		}
	}
	return changed
}
