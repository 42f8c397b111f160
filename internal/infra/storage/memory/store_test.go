package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatter/internal/domain/chat"
	"chatter/internal/domain/user"
)

func seedUsers(t *testing.T, s *Store, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		err := s.CreateUser(context.Background(), &user.User{
			Name:  fmt.Sprintf("User %d", i),
			Email: fmt.Sprintf("user%d@example.com", i),
		})
		require.NoError(t, err)
	}
}

func privatePair(t *testing.T, s *Store, a, b int64) *chat.Conversation {
	t.Helper()
	conv := &chat.Conversation{
		Kind: chat.KindPrivate,
		Members: []chat.Member{
			{UserID: a, Name: fmt.Sprintf("User %d", a)},
			{UserID: b, Name: fmt.Sprintf("User %d", b)},
		},
	}
	require.NoError(t, s.CreateConversation(context.Background(), conv))
	return conv
}

func TestIDsAreMonotonic(t *testing.T) {
	s := NewStore()
	seedUsers(t, s, 3)
	ctx := context.Background()
	conv := privatePair(t, s, 1, 2)

	var prev int64
	for i := 0; i < 5; i++ {
		m := &chat.Message{ConversationID: conv.ID, SenderID: 1, Body: "x", CreatedAt: time.Now()}
		require.NoError(t, s.AppendMessage(ctx, m))
		assert.Greater(t, m.ID, prev)
		prev = m.ID
	}
}

func TestPrivatePairIsUnique(t *testing.T) {
	s := NewStore()
	seedUsers(t, s, 2)
	ctx := context.Background()
	conv := privatePair(t, s, 1, 2)

	found, err := s.PrivateConversationByPair(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, found.ID)

	dup := &chat.Conversation{
		Kind: chat.KindPrivate,
		Members: []chat.Member{
			{UserID: 2}, {UserID: 1},
		},
	}
	assert.True(t, chat.IsValidation(s.CreateConversation(ctx, dup)))
}

func TestListMessagesBeforeBoundary(t *testing.T) {
	s := NewStore()
	seedUsers(t, s, 2)
	ctx := context.Background()
	conv := privatePair(t, s, 1, 2)

	var ids []int64
	for i := 0; i < 10; i++ {
		m := &chat.Message{ConversationID: conv.ID, SenderID: 1, Body: "x", CreatedAt: time.Now()}
		require.NoError(t, s.AppendMessage(ctx, m))
		ids = append(ids, m.ID)
	}

	rows, err := s.ListMessagesBefore(ctx, conv.ID, 0, 4)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	// Descending from the newest.
	assert.Equal(t, ids[9], rows[0].ID)
	assert.Equal(t, ids[6], rows[3].ID)

	// The boundary id itself is excluded.
	rows, err = s.ListMessagesBefore(ctx, conv.ID, ids[6], 100)
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, ids[5], rows[0].ID)
}

func TestReceiptsNeverUnread(t *testing.T) {
	s := NewStore()
	seedUsers(t, s, 2)
	ctx := context.Background()
	conv := privatePair(t, s, 1, 2)

	m := &chat.Message{ConversationID: conv.ID, SenderID: 1, Body: "x", CreatedAt: time.Now()}
	require.NoError(t, s.AppendMessage(ctx, m))

	n, err := s.CountUnread(ctx, conv.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	// The sender never counts their own message.
	n, err = s.CountUnread(ctx, conv.ID, 1)
	require.NoError(t, err)
	assert.Zero(t, n)

	first := time.Unix(1000, 0)
	require.NoError(t, s.UpsertReceipts(ctx, conv.ID, []int64{m.ID}, 2, first))
	require.NoError(t, s.UpsertReceipts(ctx, conv.ID, []int64{m.ID}, 2, first.Add(time.Hour)))

	n, err = s.CountUnread(ctx, conv.ID, 2)
	require.NoError(t, err)
	assert.Zero(t, n)

	stored, err := s.MessageByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, stored.ReadBy)
}

func TestSystemMessagesDoNotCountUnread(t *testing.T) {
	s := NewStore()
	seedUsers(t, s, 2)
	ctx := context.Background()
	conv := privatePair(t, s, 1, 2)

	m := &chat.Message{ConversationID: conv.ID, Kind: chat.MessageSystem, Body: "notice", CreatedAt: time.Now()}
	require.NoError(t, s.AppendMessage(ctx, m))

	n, err := s.CountUnread(ctx, conv.ID, 2)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSetReactionReplacesBucket(t *testing.T) {
	s := NewStore()
	seedUsers(t, s, 2)
	ctx := context.Background()
	conv := privatePair(t, s, 1, 2)

	m := &chat.Message{ConversationID: conv.ID, SenderID: 1, Body: "x", CreatedAt: time.Now()}
	require.NoError(t, s.AppendMessage(ctx, m))

	require.NoError(t, s.SetReaction(ctx, m.ID, 2, "👍"))
	require.NoError(t, s.SetReaction(ctx, m.ID, 2, "❤️"))

	stored, err := s.MessageByID(ctx, m.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.Reactions, "👍")
	assert.Equal(t, []int64{2}, stored.Reactions["❤️"])

	require.NoError(t, s.RemoveReaction(ctx, m.ID, 2))
	stored, err = s.MessageByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Reactions)
}

func TestClonesAreDefensive(t *testing.T) {
	s := NewStore()
	seedUsers(t, s, 2)
	ctx := context.Background()
	conv := privatePair(t, s, 1, 2)

	got, err := s.ConversationByID(ctx, conv.ID)
	require.NoError(t, err)
	got.Members[0].Name = "mutated"

	fresh, err := s.ConversationByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "User 1", fresh.Members[0].Name)
}

func TestListUsersAfter(t *testing.T) {
	s := NewStore()
	seedUsers(t, s, 5)
	ctx := context.Background()

	rows, err := s.ListUsersAfter(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].ID)

	rows, err = s.ListUsersAfter(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(3), rows[0].ID)
}
