package chat_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatapp "chatter/internal/app/chat"
	domainchat "chatter/internal/domain/chat"
	domainuser "chatter/internal/domain/user"
	"chatter/internal/infra/storage/memory"
)

type capture struct {
	events []domainchat.Event
}

func (c *capture) Publish(e domainchat.Event) { c.events = append(c.events, e) }

func (c *capture) ofKind(kind string) []domainchat.Event {
	var out []domainchat.Event
	for _, e := range c.events {
		if e.Kind() == kind {
			out = append(out, e)
		}
	}
	return out
}

func newService(t *testing.T, userCount int) (*chatapp.Service, *memory.Store, *capture) {
	t.Helper()
	store := memory.NewStore()
	for i := 1; i <= userCount; i++ {
		err := store.CreateUser(context.Background(), &domainuser.User{
			Name:      fmt.Sprintf("User %d", i),
			Email:     fmt.Sprintf("user%d@example.com", i),
			CreatedAt: time.Now(),
		})
		require.NoError(t, err)
	}
	events := &capture{}
	svc := &chatapp.Service{Store: store, Events: events}
	return svc, store, events
}

func TestCreatePrivateIsIdempotentPerPair(t *testing.T) {
	svc, _, events := newService(t, 2)
	ctx := context.Background()

	first, err := svc.CreatePrivate(ctx, 1, 2)
	require.NoError(t, err)
	// The other user learns about the thread on their personal channel.
	created := events.ofKind(domainchat.EventConversationCreated)
	require.Len(t, created, 1)
	assert.Equal(t, domainchat.UserChannel(2), created[0].Channel())

	again, err := svc.CreatePrivate(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, events.ofKind(domainchat.EventConversationCreated), 1)
}

func TestCreatePrivateRejectsSelf(t *testing.T) {
	svc, _, _ := newService(t, 1)
	_, err := svc.CreatePrivate(context.Background(), 1, 1)
	assert.True(t, domainchat.IsValidation(err))
}

func TestSendMessageRequiresMembership(t *testing.T) {
	svc, _, _ := newService(t, 3)
	ctx := context.Background()
	conv, err := svc.CreatePrivate(ctx, 1, 2)
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, 3, conv.ID, "hi", nil, 0)
	assert.ErrorIs(t, err, domainchat.ErrNotMember)
}

func TestSendMessageBroadcastsAndUpdatesSummary(t *testing.T) {
	svc, store, events := newService(t, 2)
	ctx := context.Background()
	conv, err := svc.CreatePrivate(ctx, 1, 2)
	require.NoError(t, err)

	msg, err := svc.SendMessage(ctx, 1, conv.ID, "  hello  ", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Body)
	assert.NotZero(t, msg.ID)

	sent := events.ofKind(domainchat.EventMessageSent)
	require.Len(t, sent, 1)
	assert.Equal(t, domainchat.ConversationChannel(conv.ID), sent[0].Channel())
	assert.Equal(t, int64(1), sent[0].Actor())

	stored, err := store.ConversationByID(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Last)
	assert.Equal(t, msg.ID, stored.Last.MessageID)
	assert.Equal(t, "hello", stored.Last.Preview)
}

func TestSendMessageRejectsForeignReplyTarget(t *testing.T) {
	svc, _, _ := newService(t, 3)
	ctx := context.Background()
	a, err := svc.CreatePrivate(ctx, 1, 2)
	require.NoError(t, err)
	b, err := svc.CreatePrivate(ctx, 1, 3)
	require.NoError(t, err)

	foreign, err := svc.SendMessage(ctx, 1, b.ID, "elsewhere", nil, 0)
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, 1, a.ID, "reply", nil, foreign.ID)
	assert.True(t, domainchat.IsValidation(err))
}

func TestListMessagesBackwardChainIsGapFree(t *testing.T) {
	svc, _, _ := newService(t, 2)
	ctx := context.Background()
	conv, err := svc.CreatePrivate(ctx, 1, 2)
	require.NoError(t, err)

	var ids []int64
	for i := 0; i < 45; i++ {
		msg, err := svc.SendMessage(ctx, 1, conv.ID, fmt.Sprintf("m%d", i), nil, 0)
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	var collected []int64
	before := ""
	pages := 0
	for {
		page, err := svc.ListMessages(ctx, 2, conv.ID, before, 20)
		require.NoError(t, err)
		require.NotEmpty(t, page.Items)
		// Each page is ascending and strictly older than what we already have.
		for i := 1; i < len(page.Items); i++ {
			assert.Greater(t, page.Items[i].ID, page.Items[i-1].ID)
		}
		older := make([]int64, 0, len(page.Items))
		for _, m := range page.Items {
			older = append(older, m.ID)
		}
		collected = append(older, collected...)
		pages++
		if !page.HasMore {
			break
		}
		before = fmt.Sprintf("%d", page.Items[0].ID)
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, ids, collected)
}

func TestListMessagesShortHistoryHasNoMore(t *testing.T) {
	svc, _, _ := newService(t, 2)
	ctx := context.Background()
	conv, err := svc.CreatePrivate(ctx, 1, 2)
	require.NoError(t, err)
	for i := 0; i < 15; i++ {
		_, err := svc.SendMessage(ctx, 1, conv.ID, "x", nil, 0)
		require.NoError(t, err)
	}

	page, err := svc.ListMessages(ctx, 1, conv.ID, "", 20)
	require.NoError(t, err)
	assert.Len(t, page.Items, 15)
	assert.False(t, page.HasMore)
}

func TestMarkReadBatchesIntoOneEvent(t *testing.T) {
	svc, store, events := newService(t, 2)
	ctx := context.Background()
	conv, err := svc.CreatePrivate(ctx, 1, 2)
	require.NoError(t, err)

	var ids []int64
	for i := 0; i < 3; i++ {
		msg, err := svc.SendMessage(ctx, 1, conv.ID, "hi", nil, 0)
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}
	unread, err := store.CountUnread(ctx, conv.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, unread)

	require.NoError(t, svc.MarkRead(ctx, 2, conv.ID, ids))

	read := events.ofKind(domainchat.EventMessageRead)
	require.Len(t, read, 1)
	ev := read[0].(domainchat.MessageRead)
	assert.Equal(t, ids, ev.MessageIDs)
	assert.Equal(t, int64(2), ev.UserID)

	unread, err = store.CountUnread(ctx, conv.ID, 2)
	require.NoError(t, err)
	assert.Zero(t, unread)

	// Re-marking already-read ids is a no-op: no error, no second broadcast.
	require.NoError(t, svc.MarkRead(ctx, 2, conv.ID, ids[:1]))
	assert.Len(t, events.ofKind(domainchat.EventMessageRead), 1)
	unread, err = store.CountUnread(ctx, conv.ID, 2)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestMarkReadBroadcastsOnlyFreshIDs(t *testing.T) {
	svc, _, events := newService(t, 2)
	ctx := context.Background()
	conv, err := svc.CreatePrivate(ctx, 1, 2)
	require.NoError(t, err)

	first, err := svc.SendMessage(ctx, 1, conv.ID, "one", nil, 0)
	require.NoError(t, err)
	second, err := svc.SendMessage(ctx, 1, conv.ID, "two", nil, 0)
	require.NoError(t, err)

	require.NoError(t, svc.MarkRead(ctx, 2, conv.ID, []int64{first.ID}))

	// A batch overlapping an already-read id only carries the fresh one.
	require.NoError(t, svc.MarkRead(ctx, 2, conv.ID, []int64{first.ID, second.ID}))
	read := events.ofKind(domainchat.EventMessageRead)
	require.Len(t, read, 2)
	assert.Equal(t, []int64{second.ID}, read[1].(domainchat.MessageRead).MessageIDs)
}

func TestMarkReadRejectsForeignMessages(t *testing.T) {
	svc, _, _ := newService(t, 3)
	ctx := context.Background()
	a, err := svc.CreatePrivate(ctx, 1, 2)
	require.NoError(t, err)
	b, err := svc.CreatePrivate(ctx, 1, 3)
	require.NoError(t, err)
	foreign, err := svc.SendMessage(ctx, 1, b.ID, "other", nil, 0)
	require.NoError(t, err)

	err = svc.MarkRead(ctx, 2, a.ID, []int64{foreign.ID})
	assert.True(t, domainchat.IsValidation(err))
}

func TestToggleReactionTransitions(t *testing.T) {
	svc, store, events := newService(t, 2)
	ctx := context.Background()
	conv, err := svc.CreatePrivate(ctx, 1, 2)
	require.NoError(t, err)
	msg, err := svc.SendMessage(ctx, 1, conv.ID, "react to me", nil, 0)
	require.NoError(t, err)

	// none -> 👍
	result, err := svc.ToggleReaction(ctx, 2, msg.ID, "\U0001F44D")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "\U0001F44D", *result)

	// 👍 -> ❤️ switches: the user appears in exactly one bucket.
	result, err = svc.ToggleReaction(ctx, 2, msg.ID, "❤️")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "❤️", *result)

	stored, err := store.MessageByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.Reactions, "\U0001F44D")
	assert.Equal(t, []int64{2}, stored.Reactions["❤️"])

	// ❤️ -> none
	result, err = svc.ToggleReaction(ctx, 2, msg.ID, "❤️")
	require.NoError(t, err)
	assert.Nil(t, result)

	stored, err = store.MessageByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Reactions)

	updates := events.ofKind(domainchat.EventReactionUpdated)
	require.Len(t, updates, 3)
	last := updates[2].(domainchat.ReactionUpdated)
	assert.Nil(t, last.Emoji)
}

func TestToggleReactionValidatesEmoji(t *testing.T) {
	svc, _, _ := newService(t, 2)
	ctx := context.Background()
	conv, err := svc.CreatePrivate(ctx, 1, 2)
	require.NoError(t, err)
	msg, err := svc.SendMessage(ctx, 1, conv.ID, "x", nil, 0)
	require.NoError(t, err)

	_, err = svc.ToggleReaction(ctx, 1, msg.ID, "   ")
	assert.True(t, domainchat.IsValidation(err))
	_, err = svc.ToggleReaction(ctx, 1, msg.ID, "wayyyytoolongemoji")
	assert.True(t, domainchat.IsValidation(err))
}

func TestGroupLifecycle(t *testing.T) {
	svc, store, events := newService(t, 4)
	ctx := context.Background()

	group, err := svc.CreateGroup(ctx, 1, "Team", []int64{2})
	require.NoError(t, err)
	assert.True(t, group.IsAdmin(1))
	assert.False(t, group.IsAdmin(2))

	// Creation appends a system notice visible in the timeline.
	page, err := svc.ListMessages(ctx, 1, group.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, domainchat.MessageSystem, page.Items[0].Kind)
	assert.Contains(t, page.Items[0].Body, "created the group")

	added, err := svc.AddMembers(ctx, 1, group.ID, []int64{3, 3, 2, 4})
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.Equal(t, int64(3), added[0].UserID)
	assert.Equal(t, int64(4), added[1].UserID)

	memberAdded := events.ofKind(domainchat.EventMemberAdded)
	require.Len(t, memberAdded, 1)
	// Each fresh member also hears about the thread on their personal channel.
	created := events.ofKind(domainchat.EventConversationCreated)
	channels := make(map[string]bool)
	for _, e := range created {
		channels[e.Channel()] = true
	}
	assert.True(t, channels[domainchat.UserChannel(3)])
	assert.True(t, channels[domainchat.UserChannel(4)])

	require.NoError(t, svc.LeaveGroup(ctx, 2, group.ID))
	left := events.ofKind(domainchat.EventMemberLeft)
	require.Len(t, left, 1)

	stored, err := store.ConversationByID(ctx, group.ID)
	require.NoError(t, err)
	assert.False(t, stored.HasMember(2))
	// History survives the departure.
	page, err = svc.ListMessages(ctx, 1, group.ID, "", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, page.Items)
}

func TestAddMembersRejectedForPrivate(t *testing.T) {
	svc, _, _ := newService(t, 3)
	ctx := context.Background()
	conv, err := svc.CreatePrivate(ctx, 1, 2)
	require.NoError(t, err)
	_, err = svc.AddMembers(ctx, 1, conv.ID, []int64{3})
	assert.True(t, domainchat.IsValidation(err))
}

func TestAddMembersRequiresAdmin(t *testing.T) {
	svc, _, _ := newService(t, 3)
	ctx := context.Background()
	group, err := svc.CreateGroup(ctx, 1, "Team", []int64{2})
	require.NoError(t, err)

	_, err = svc.AddMembers(ctx, 2, group.ID, []int64{3})
	assert.ErrorIs(t, err, domainchat.ErrNotAdmin)
}

func TestListConversationsPagination(t *testing.T) {
	svc, _, _ := newService(t, 6)
	ctx := context.Background()
	for other := int64(2); other <= 6; other++ {
		_, err := svc.CreatePrivate(ctx, 1, other)
		require.NoError(t, err)
	}

	page, err := svc.ListConversations(ctx, 1, "", 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
	assert.NotEmpty(t, page.NextCursor)
	// Newest first.
	assert.Greater(t, page.Items[0].ID, page.Items[1].ID)

	var seen []int64
	for _, v := range page.Items {
		seen = append(seen, v.ID)
	}
	cursor := page.NextCursor
	for cursor != "" {
		page, err = svc.ListConversations(ctx, 1, cursor, 2)
		require.NoError(t, err)
		for _, v := range page.Items {
			seen = append(seen, v.ID)
		}
		cursor = page.NextCursor
	}
	assert.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i-1], seen[i])
	}
}

func TestListConversationsCountsUnreadPerViewer(t *testing.T) {
	svc, _, _ := newService(t, 2)
	ctx := context.Background()
	conv, err := svc.CreatePrivate(ctx, 1, 2)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := svc.SendMessage(ctx, 1, conv.ID, "hi", nil, 0)
		require.NoError(t, err)
	}

	page, err := svc.ListConversations(ctx, 2, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 4, page.Items[0].UnreadCount)
	assert.Equal(t, "User 1", page.Items[0].DisplayName)

	// The sender's own view is clean.
	page, err = svc.ListConversations(ctx, 1, "", 10)
	require.NoError(t, err)
	assert.Zero(t, page.Items[0].UnreadCount)
}

func TestListUsersPagesDirectory(t *testing.T) {
	svc, _, _ := newService(t, 45)
	ctx := context.Background()

	var pages int
	var total int
	cursor := ""
	for {
		page, err := svc.ListUsers(ctx, 1, cursor, 20)
		require.NoError(t, err)
		pages++
		total += len(page.Items)
		// Ascending by id within a page.
		for i := 1; i < len(page.Items); i++ {
			assert.Greater(t, page.Items[i].ID, page.Items[i-1].ID)
		}
		if !page.HasMore {
			assert.Empty(t, page.NextCursor)
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, 45, total)
}

type stubPresence map[int64]bool

func (p stubPresence) Online(_ context.Context, userID int64) (bool, error) {
	return p[userID], nil
}

func TestListUsersReportsPresence(t *testing.T) {
	svc, _, _ := newService(t, 3)
	svc.Presence = stubPresence{2: true}

	page, err := svc.ListUsers(context.Background(), 1, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.False(t, page.Items[0].Online)
	assert.True(t, page.Items[1].Online)
	assert.False(t, page.Items[2].Online)
}

func TestTypingPublishesEphemeralPulse(t *testing.T) {
	svc, _, events := newService(t, 2)
	ctx := context.Background()
	conv, err := svc.CreatePrivate(ctx, 1, 2)
	require.NoError(t, err)

	require.NoError(t, svc.Typing(ctx, 1, conv.ID))
	pulses := events.ofKind(domainchat.EventTypingPulse)
	require.Len(t, pulses, 1)
	assert.Equal(t, int64(1), pulses[0].Actor())

	assert.ErrorIs(t, svc.Typing(ctx, 2, conv.ID+99), domainchat.ErrNotFound)
}

func TestSignalRoutesToTargetUser(t *testing.T) {
	svc, _, events := newService(t, 2)
	ctx := context.Background()

	require.NoError(t, svc.Signal(ctx, 1, 2, "offer", []byte(`{"sdp":"x"}`)))
	signals := events.ofKind(domainchat.EventCallSignal)
	require.Len(t, signals, 1)
	assert.Equal(t, domainchat.UserChannel(2), signals[0].Channel())

	assert.Error(t, svc.Signal(ctx, 1, 2, "bogus", nil))
	assert.Error(t, svc.Signal(ctx, 1, 1, "offer", nil))
}
