// Package client is the client-side half of the engine: per-conversation
// timelines, the reaction reconciler, unread tracking, typing expiry and the
// session event loop that merges live events into locally loaded state.
package client

import (
	"time"

	"chatter/internal/domain/chat"
)

// Timeline is one conversation's ordered message window: ascending ids,
// head-insert for backward pages, tail-append for live pushes. Order is
// guaranteed solely by fetch order and arrival order; it is never re-sorted.
type Timeline struct {
	messages []chat.Message
	ids      map[int64]struct{}
	hasMore  bool
	loaded   bool
}

// NewTimeline builds an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{ids: make(map[int64]struct{}), hasMore: true}
}

// Push appends a live message at the tail. Pushing an id already present is a
// no-op, which covers the optimistic-insert vs broadcast-echo race and the
// overlap between an initial fetch and a fresh subscription.
func (t *Timeline) Push(m chat.Message) bool {
	if _, ok := t.ids[m.ID]; ok {
		return false
	}
	t.ids[m.ID] = struct{}{}
	t.messages = append(t.messages, m)
	return true
}

// MergeOlder prepends a backward page (already oldest-first) at the head,
// de-duplicating by id before concatenation.
func (t *Timeline) MergeOlder(page []chat.Message, hasMore bool) int {
	fresh := make([]chat.Message, 0, len(page))
	for _, m := range page {
		if _, ok := t.ids[m.ID]; ok {
			continue
		}
		t.ids[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}
	t.messages = append(fresh, t.messages...)
	t.hasMore = hasMore
	t.loaded = true
	return len(fresh)
}

// Messages returns the current window, oldest first.
func (t *Timeline) Messages() []chat.Message { return t.messages }

// Len returns the window size.
func (t *Timeline) Len() int { return len(t.messages) }

// Loaded reports whether an initial page has been merged.
func (t *Timeline) Loaded() bool { return t.loaded }

// HasMore reports whether older history may exist beyond the window's head.
func (t *Timeline) HasMore() bool { return t.hasMore }

// OldestID is the backward-pagination boundary, zero when empty.
func (t *Timeline) OldestID() int64 {
	if len(t.messages) == 0 {
		return 0
	}
	return t.messages[0].ID
}

// NewestID is the tail boundary, zero when empty.
func (t *Timeline) NewestID() int64 {
	if len(t.messages) == 0 {
		return 0
	}
	return t.messages[len(t.messages)-1].ID
}

// Get returns a pointer into the window for in-place reconciliation.
func (t *Timeline) Get(id int64) *chat.Message {
	if _, ok := t.ids[id]; !ok {
		return nil
	}
	for i := range t.messages {
		if t.messages[i].ID == id {
			return &t.messages[i]
		}
	}
	return nil
}

// Conversation is the client-side list entry: server state plus the locally
// reconciled unread counter.
type Conversation struct {
	chat.Conversation
	DisplayName string
	UnreadCount int
}

// ConversationList keeps the most-recently-active-first ordering. Reordering
// is a pure function of the last message's timestamp and runs identically for
// the client's own send confirmation and for broadcast arrivals.
type ConversationList struct {
	items []Conversation
	ids   map[int64]struct{}
}

// NewConversationList builds an empty list.
func NewConversationList() *ConversationList {
	return &ConversationList{ids: make(map[int64]struct{})}
}

// MergePage appends a fetched page at the tail, de-duplicating by id and
// preserving fetch order.
func (l *ConversationList) MergePage(page []Conversation) int {
	added := 0
	for _, c := range page {
		if _, ok := l.ids[c.ID]; ok {
			continue
		}
		l.ids[c.ID] = struct{}{}
		l.items = append(l.items, c)
		added++
	}
	return added
}

// AddIfMissing inserts a newly announced conversation at the front.
func (l *ConversationList) AddIfMissing(c Conversation) bool {
	if _, ok := l.ids[c.ID]; ok {
		return false
	}
	l.ids[c.ID] = struct{}{}
	l.items = append([]Conversation{c}, l.items...)
	return true
}

// Get returns a pointer to the entry for in-place updates.
func (l *ConversationList) Get(id int64) *Conversation {
	for i := range l.items {
		if l.items[i].ID == id {
			return &l.items[i]
		}
	}
	return nil
}

// Items returns the ordered entries.
func (l *ConversationList) Items() []Conversation { return l.items }

// Bump records a new last message and moves the conversation to the front if
// the summary's timestamp advances its activity.
func (l *ConversationList) Bump(conversationID int64, last chat.LastMessage) {
	idx := -1
	for i := range l.items {
		if l.items[i].ID == conversationID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	l.items[idx].Last = &last
	if idx == 0 || last.SentAt.Before(lastActivity(l.items[0])) {
		return
	}
	item := l.items[idx]
	l.items = append(l.items[:idx], l.items[idx+1:]...)
	l.items = append([]Conversation{item}, l.items...)
}

// lastActivity is the ordering key for a list entry.
func lastActivity(c Conversation) time.Time {
	if c.Last != nil {
		return c.Last.SentAt
	}
	return c.CreatedAt
}
