package feed

import (
	"strconv"
	"strings"
)

// TopicPrefix starts every change topic.
const TopicPrefix = "changes"

// channelScoped reports whether a table's events are published per channel.
func channelScoped(t Table) bool {
	return t == TableMessages || t == TableTyping
}

// AllTables lists every table a Filter with no Tables selects.
var AllTables = []Table{TableMessages, TableReactions, TableReceipts, TableTyping, TableProfiles}

// Topic returns the ':'-separated topic ev is published on, for example
// "changes:messages:42" or "changes:reactions".
func Topic(ev Event) string {
	return topic(ev.Table(), ev.Channel())
}

func topic(t Table, channelID int64) string {
	if !channelScoped(t) {
		return TopicPrefix + ":" + string(t)
	}
	ch := "*"
	if channelID != 0 {
		ch = strconv.FormatInt(channelID, 10)
	}
	return TopicPrefix + ":" + string(t) + ":" + ch
}

// Filter selects the events a subscription receives.
type Filter struct {
	// ChannelID scopes channel-bound tables. Zero selects every channel.
	ChannelID int64
	// Tables to receive. Empty selects all tables.
	Tables []Table
}

// ChannelFilter selects everything a channel view needs: the channel's
// messages and typing rows plus the global reaction and receipt topics.
func ChannelFilter(channelID int64) Filter {
	return Filter{
		ChannelID: channelID,
		Tables:    []Table{TableMessages, TableReactions, TableReceipts, TableTyping},
	}
}

func (f Filter) tables() []Table {
	if len(f.Tables) == 0 {
		return AllTables
	}
	return f.Tables
}

// Topics returns the topic patterns covering f, with '*' as the single
// segment wildcard.
func (f Filter) Topics() []string {
	tables := f.tables()
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		out = append(out, topic(t, f.ChannelID))
	}
	return out
}

// Match reports whether ev passes f. Transports that cannot filter at the
// broker use it to filter on receipt.
func (f Filter) Match(ev Event) bool {
	found := false
	for _, t := range f.tables() {
		if t == ev.Table() {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	if f.ChannelID != 0 && channelScoped(ev.Table()) {
		return ev.Channel() == f.ChannelID
	}
	return true
}

// ParseTopicChannel extracts the channel ID from a channel-scoped topic
// written with sep as the separator. It returns 0 for global topics.
func ParseTopicChannel(topic, sep string) int64 {
	parts := strings.Split(topic, sep)
	if len(parts) != 3 {
		return 0
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0
	}
	return id
}
