package client

// UnreadTracker keeps per-conversation unread counters. The server-derived
// count (messages from other senders with no receipt for the viewer) is the
// ground truth; the tracker only reconciles deltas between reloads.
type UnreadTracker struct {
	counts map[int64]int
}

// NewUnreadTracker builds an empty tracker.
func NewUnreadTracker() *UnreadTracker {
	return &UnreadTracker{counts: make(map[int64]int)}
}

// Count returns the current counter for a conversation.
func (u *UnreadTracker) Count(conversationID int64) int {
	return u.counts[conversationID]
}

// Set seeds a counter from a server-derived value.
func (u *UnreadTracker) Set(conversationID int64, n int) {
	u.counts[conversationID] = n
}

// Increment bumps the counter for a message from another sender.
func (u *UnreadTracker) Increment(conversationID int64) {
	u.counts[conversationID]++
}

// Clear zeroes the counter. Used when the viewer's own MessageRead arrives:
// clearing to zero instead of decrementing by the batch size guards against
// drift from concurrent batches.
func (u *UnreadTracker) Clear(conversationID int64) {
	u.counts[conversationID] = 0
}
