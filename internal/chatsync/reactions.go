package chatsync

import "github.com/victorivanov/backchannel/internal/models"

// Aggregate folds reaction rows into per-emoji groups in order of first
// appearance. Me is set on groups the user me reacted with.
func Aggregate(rows []models.Reaction, me int64) []models.ReactionGroup {
	var groups []models.ReactionGroup
	index := make(map[string]int)
	for _, r := range rows {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(groups)
			index[r.Emoji] = i
			groups = append(groups, models.ReactionGroup{Emoji: r.Emoji})
		}
		groups[i].Count++
		if r.UserID == me {
			groups[i].Me = true
		}
	}
	return groups
}

// maxOrphans caps the reaction changes remembered for messages not held
// yet. Most belong to other channels and are never claimed.
const maxOrphans = 1024

// reactionSet is the authoritative reaction rows of the open channel,
// grouped by message. It is replaced wholesale on every refetch.
type reactionSet struct {
	byMessage map[int64][]models.Reaction

	inFlight bool
	dirty    bool
	// flight is the version of the refresh in flight.
	flight uint64
	// issued and applied version fetches so a slow response never
	// overwrites a newer one.
	issued  uint64
	applied uint64

	// orphans are messages that saw a reaction change before they were
	// held.
	orphans map[int64]struct{}
}

func newReactionSet() *reactionSet {
	return &reactionSet{
		byMessage: make(map[int64][]models.Reaction),
		orphans:   make(map[int64]struct{}),
	}
}

// noteOrphan remembers a reaction change on a message that is not held.
func (rs *reactionSet) noteOrphan(messageID int64) {
	if len(rs.orphans) >= maxOrphans {
		clear(rs.orphans)
	}
	rs.orphans[messageID] = struct{}{}
}

// claimOrphan reports whether messageID saw a reaction change before it
// was held, and forgets it.
func (rs *reactionSet) claimOrphan(messageID int64) bool {
	if _, ok := rs.orphans[messageID]; !ok {
		return false
	}
	delete(rs.orphans, messageID)
	return true
}

func (rs *reactionSet) load(rows []models.Reaction) {
	rs.byMessage = make(map[int64][]models.Reaction)
	for _, r := range rows {
		rs.byMessage[r.MessageID] = append(rs.byMessage[r.MessageID], r)
	}
}

func (rs *reactionSet) begin() uint64 {
	rs.issued++
	return rs.issued
}

// apply installs rows fetched under version unless a newer fetch already
// landed.
func (rs *reactionSet) apply(version uint64, rows []models.Reaction) bool {
	if version <= rs.applied {
		return false
	}
	rs.applied = version
	rs.load(rows)
	return true
}

// loadJoined seeds the set from the reactions joined onto msgs. Fetches
// issued before the load are discarded when they land, and the load
// covers any orphaned change.
func (rs *reactionSet) loadJoined(msgs []models.Message) {
	rs.applied = rs.issued
	rs.inFlight = false
	rs.dirty = false
	rs.flight = 0
	clear(rs.orphans)
	rs.byMessage = make(map[int64][]models.Reaction)
	for _, m := range msgs {
		if len(m.Reactions) > 0 {
			rs.byMessage[m.ID] = append([]models.Reaction(nil), m.Reactions...)
		}
	}
}

func (rs *reactionSet) has(messageID, userID int64, emoji string) bool {
	for _, r := range rs.byMessage[messageID] {
		if r.UserID == userID && r.Emoji == emoji {
			return true
		}
	}
	return false
}

func (rs *reactionSet) groups(messageID, me int64) []models.ReactionGroup {
	return Aggregate(rs.byMessage[messageID], me)
}
