package client

import "chatter/internal/domain/chat"

// The reaction transition table per (message, user) is tri-state:
//
//	none        + toggle(e)  -> reacted(e)
//	reacted(e)  + toggle(e)  -> none
//	reacted(e1) + toggle(e2) -> reacted(e2)
//
// toggleReaction is self-inverse for a single toggle, so rolling back a failed
// optimistic apply is the same call again.

// toggleReaction applies one toggle to a message's emoji buckets in place.
func toggleReaction(m *chat.Message, userID int64, emoji string) {
	had := false
	for _, id := range m.Reactions[emoji] {
		if id == userID {
			had = true
			break
		}
	}
	removeFromBuckets(m, userID)
	if !had {
		addToBucket(m, userID, emoji)
	}
}

// applyRemoteReaction reconciles a ReactionUpdated event. The payload is the
// user's current emoji, not a delta, so the user is removed from every bucket
// first and re-added only when the incoming emoji is non-nil.
func applyRemoteReaction(m *chat.Message, userID int64, emoji *string) {
	removeFromBuckets(m, userID)
	if emoji != nil {
		addToBucket(m, userID, *emoji)
	}
}

func removeFromBuckets(m *chat.Message, userID int64) {
	for emoji, users := range m.Reactions {
		filtered := users[:0]
		for _, id := range users {
			if id != userID {
				filtered = append(filtered, id)
			}
		}
		if len(filtered) == 0 {
			delete(m.Reactions, emoji)
		} else {
			m.Reactions[emoji] = filtered
		}
	}
}

func addToBucket(m *chat.Message, userID int64, emoji string) {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]int64)
	}
	m.Reactions[emoji] = append(m.Reactions[emoji], userID)
}
