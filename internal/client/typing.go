package client

import (
	"sort"
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing entry survives without a renewing
// pulse. Expiry is the only removal path: there is no "stopped typing" event.
const DefaultTypingTTL = 2 * time.Second

type typingKey struct {
	conversationID int64
	userID         int64
}

// TypingTracker holds ephemeral per-(conversation, user) typing state with
// timer-based expiry. Timer callbacks run off the session loop, so the tracker
// guards its own map. Close cancels every timer; leaking them past session
// teardown is a bug.
type TypingTracker struct {
	ttl      time.Duration
	onChange func(conversationID int64)

	mu     sync.Mutex
	timers map[typingKey]*time.Timer
	closed bool
}

// NewTypingTracker builds a tracker. onChange, if set, fires on every roster
// change for a conversation (pulse added or entry expired).
func NewTypingTracker(ttl time.Duration, onChange func(conversationID int64)) *TypingTracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingTracker{
		ttl:      ttl,
		onChange: onChange,
		timers:   make(map[typingKey]*time.Timer),
	}
}

// Pulse records or renews a typing entry. A renewed entry restarts its expiry
// timer; a dropped pulse simply lets the previous timer run out.
func (t *TypingTracker) Pulse(conversationID, userID int64) {
	key := typingKey{conversationID: conversationID, userID: userID}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	fresh := false
	if timer, ok := t.timers[key]; ok {
		timer.Reset(t.ttl)
	} else {
		fresh = true
		t.timers[key] = time.AfterFunc(t.ttl, func() { t.expire(key) })
	}
	t.mu.Unlock()

	if fresh && t.onChange != nil {
		t.onChange(conversationID)
	}
}

// Typing returns the users currently typing in a conversation, ascending.
func (t *TypingTracker) Typing(conversationID int64) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []int64
	for key := range t.timers {
		if key.conversationID == conversationID {
			ids = append(ids, key.userID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close stops all timers. Idempotent; called on session teardown.
func (t *TypingTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
}

func (t *TypingTracker) expire(key typingKey) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	delete(t.timers, key)
	t.mu.Unlock()

	if t.onChange != nil {
		t.onChange(key.conversationID)
	}
}
