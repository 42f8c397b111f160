package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatter/internal/domain/chat"
)

func msg(id, conv int64) chat.Message {
	return chat.Message{ID: id, ConversationID: conv, SenderID: 1, Body: "m", CreatedAt: time.Unix(id, 0)}
}

func TestTimelinePushDeduplicates(t *testing.T) {
	tl := NewTimeline()
	assert.True(t, tl.Push(msg(1, 5)))
	assert.True(t, tl.Push(msg(2, 5)))
	// The broadcast echo of an optimistically applied message is a no-op.
	assert.False(t, tl.Push(msg(2, 5)))
	assert.Equal(t, 2, tl.Len())
	assert.Equal(t, int64(1), tl.OldestID())
	assert.Equal(t, int64(2), tl.NewestID())
}

func TestTimelineMergeOlderPrepends(t *testing.T) {
	tl := NewTimeline()
	tl.Push(msg(10, 5))
	tl.Push(msg(11, 5))

	added := tl.MergeOlder([]chat.Message{msg(7, 5), msg(8, 5), msg(9, 5)}, true)
	assert.Equal(t, 3, added)
	assert.True(t, tl.Loaded())
	assert.True(t, tl.HasMore())

	var ids []int64
	for _, m := range tl.Messages() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []int64{7, 8, 9, 10, 11}, ids)

	// Overlapping rows from a raced fetch are dropped.
	added = tl.MergeOlder([]chat.Message{msg(6, 5), msg(7, 5)}, false)
	assert.Equal(t, 1, added)
	assert.False(t, tl.HasMore())
	assert.Equal(t, int64(6), tl.OldestID())
}

func TestTimelineGetReturnsMutablePointer(t *testing.T) {
	tl := NewTimeline()
	tl.Push(msg(3, 5))
	p := tl.Get(3)
	require.NotNil(t, p)
	p.Body = "edited"
	assert.Equal(t, "edited", tl.Messages()[0].Body)
	assert.Nil(t, tl.Get(99))
}

func TestConversationListBumpMovesToFront(t *testing.T) {
	list := NewConversationList()
	base := time.Unix(1000, 0)
	list.MergePage([]Conversation{
		{Conversation: chat.Conversation{ID: 3, CreatedAt: base}},
		{Conversation: chat.Conversation{ID: 2, CreatedAt: base.Add(-time.Hour)}},
		{Conversation: chat.Conversation{ID: 1, CreatedAt: base.Add(-2 * time.Hour)}},
	})

	list.Bump(1, chat.LastMessage{MessageID: 9, SentAt: base.Add(time.Minute)})
	assert.Equal(t, int64(1), list.Items()[0].ID)
	require.NotNil(t, list.Items()[0].Last)
	assert.Equal(t, int64(9), list.Items()[0].Last.MessageID)

	// A stale summary does not reorder past fresher activity.
	list.Bump(2, chat.LastMessage{MessageID: 4, SentAt: base.Add(-time.Hour)})
	assert.Equal(t, int64(1), list.Items()[0].ID)
	// But its summary is still recorded.
	assert.NotNil(t, list.Get(2).Last)

	// Unknown conversations are ignored.
	list.Bump(99, chat.LastMessage{SentAt: base})
	assert.Len(t, list.Items(), 3)
}

func TestConversationListAddIfMissing(t *testing.T) {
	list := NewConversationList()
	assert.True(t, list.AddIfMissing(Conversation{Conversation: chat.Conversation{ID: 1}}))
	assert.False(t, list.AddIfMissing(Conversation{Conversation: chat.Conversation{ID: 1}}))
	assert.True(t, list.AddIfMissing(Conversation{Conversation: chat.Conversation{ID: 2}}))
	assert.Equal(t, int64(2), list.Items()[0].ID)
}

func TestUnreadTracker(t *testing.T) {
	u := NewUnreadTracker()
	assert.Zero(t, u.Count(5))
	u.Set(5, 3)
	u.Increment(5)
	assert.Equal(t, 4, u.Count(5))
	u.Clear(5)
	assert.Zero(t, u.Count(5))
}
