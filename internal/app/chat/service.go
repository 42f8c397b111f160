package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"chatter/internal/app/cursor"
	domainchat "chatter/internal/domain/chat"
	domainuser "chatter/internal/domain/user"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	messagePageSize = 50
)

// Service implements the conversation engine's exposed surface. Every state
// change is written to the Store first and broadcast only after the write
// returns; a crash between the two is an accepted, bounded inconsistency that
// the next reload repairs.
type Service struct {
	Store    Store
	Events   Publisher
	Relay    Relay
	Presence Presence
	Logger   *slog.Logger
	Clock    func() time.Time
}

// ConversationView is a conversation projected for one viewer: derived display
// name and a recomputed (never stored-as-truth) unread count.
type ConversationView struct {
	domainchat.Conversation
	DisplayName string `json:"display_name"`
	Initials    string `json:"initials"`
	UnreadCount int    `json:"unread_count"`
}

// ConversationPage is one forward-probe page of the viewer's conversations.
type ConversationPage struct {
	Items      []ConversationView
	NextCursor string
	HasMore    bool
}

// MessagePage is one backward page of a timeline, oldest first.
type MessagePage struct {
	Items   []domainchat.Message
	HasMore bool
}

// DirectoryPage is one forward-by-id page of the user directory.
type DirectoryPage struct {
	Items      []domainuser.Public
	NextCursor string
	HasMore    bool
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

// publish broadcasts after commit and relays to the out-of-band pipeline.
// Relay failure is logged, never propagated: a dead broker must not fail chat.
func (s *Service) publish(ctx context.Context, e domainchat.Event) {
	if s.Events != nil {
		s.Events.Publish(e)
	}
	if s.Relay != nil {
		if err := s.Relay.Relay(ctx, e); err != nil && s.Logger != nil {
			s.Logger.Warn("event relay failed", "kind", e.Kind(), "channel", e.Channel(), "error", err)
		}
	}
}

// IsMember is the membership predicate used for channel authorization. It is
// re-evaluated on every subscribe attempt, never cached.
func (s *Service) IsMember(ctx context.Context, conversationID, userID int64) bool {
	conv, err := s.Store.ConversationByID(ctx, conversationID)
	if err != nil {
		return false
	}
	return conv.HasMember(userID)
}

// ListConversations returns one page of the viewer's conversations, newest
// first, with a strictly-less-than cursor and a fetch-one-extra probe.
func (s *Service) ListConversations(ctx context.Context, viewerID int64, rawCursor string, limit int) (ConversationPage, error) {
	before, err := cursor.Parse(rawCursor)
	if err != nil {
		return ConversationPage{}, domainchat.Validation("invalid cursor")
	}
	limit = cursor.Clamp(limit, defaultPageSize, maxPageSize)

	rows, err := s.Store.ListConversationsBefore(ctx, viewerID, before, limit+1)
	if err != nil {
		return ConversationPage{}, fmt.Errorf("list conversations: %w", err)
	}
	page := ConversationPage{Items: make([]ConversationView, 0, limit)}
	if len(rows) > limit {
		page.HasMore = true
		rows = rows[:limit]
	}
	for _, conv := range rows {
		view, err := s.viewFor(ctx, conv, viewerID)
		if err != nil {
			return ConversationPage{}, err
		}
		page.Items = append(page.Items, view)
	}
	if page.HasMore && len(page.Items) > 0 {
		page.NextCursor = cursor.Format(page.Items[len(page.Items)-1].ID)
	}
	return page, nil
}

func (s *Service) viewFor(ctx context.Context, conv domainchat.Conversation, viewerID int64) (ConversationView, error) {
	unread, err := s.Store.CountUnread(ctx, conv.ID, viewerID)
	if err != nil {
		return ConversationView{}, fmt.Errorf("count unread: %w", err)
	}
	name := conv.DisplayNameFor(viewerID)
	return ConversationView{
		Conversation: conv,
		DisplayName:  name,
		Initials:     domainchat.Initials(name),
		UnreadCount:  unread,
	}, nil
}

// CreatePrivate returns the unique private thread for the pair, creating it if
// missing. The target user learns about a new thread on their personal channel.
func (s *Service) CreatePrivate(ctx context.Context, actorID, otherID int64) (ConversationView, error) {
	if otherID == 0 {
		return ConversationView{}, domainchat.Validation("user_id is required")
	}
	if otherID == actorID {
		return ConversationView{}, domainchat.Validation("cannot start a conversation with yourself")
	}
	if conv, err := s.Store.PrivateConversationByPair(ctx, actorID, otherID); err == nil {
		return s.viewFor(ctx, *conv, actorID)
	} else if !errors.Is(err, domainchat.ErrNotFound) {
		return ConversationView{}, fmt.Errorf("lookup private conversation: %w", err)
	}

	members, err := s.membersFor(ctx, []int64{actorID, otherID}, actorID, false)
	if err != nil {
		return ConversationView{}, err
	}
	conv := domainchat.Conversation{
		Kind:      domainchat.KindPrivate,
		CreatorID: actorID,
		Members:   members,
		CreatedAt: s.now(),
	}
	if err := s.Store.CreateConversation(ctx, &conv); err != nil {
		return ConversationView{}, fmt.Errorf("create private conversation: %w", err)
	}
	s.publish(ctx, domainchat.ConversationCreated{Conversation: conv, UserID: otherID})
	return s.viewFor(ctx, conv, actorID)
}

// CreateGroup creates a group with the actor as first member and admin.
func (s *Service) CreateGroup(ctx context.Context, actorID int64, name string, userIDs []int64) (ConversationView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ConversationView{}, domainchat.Validation("group name is required")
	}
	if len(userIDs) == 0 {
		return ConversationView{}, domainchat.Validation("at least one member is required")
	}
	ids := dedupIDs(append([]int64{actorID}, userIDs...))
	members, err := s.membersFor(ctx, ids, actorID, true)
	if err != nil {
		return ConversationView{}, err
	}
	conv := domainchat.Conversation{
		Kind:      domainchat.KindGroup,
		Name:      name,
		CreatorID: actorID,
		Members:   members,
		CreatedAt: s.now(),
	}
	if err := s.Store.CreateConversation(ctx, &conv); err != nil {
		return ConversationView{}, fmt.Errorf("create group: %w", err)
	}
	if _, err := s.appendSystemMessage(ctx, &conv, s.actorName(members, actorID)+" created the group"); err != nil {
		return ConversationView{}, err
	}
	for _, m := range conv.Members {
		if m.UserID == actorID {
			continue
		}
		s.publish(ctx, domainchat.ConversationCreated{Conversation: conv, UserID: m.UserID})
	}
	return s.viewFor(ctx, conv, actorID)
}

// AddMembers attaches users to a group; only group admins may do it. Existing
// members see MemberAdded on the conversation channel; each added user is told
// on their personal channel, since they are not yet subscribed to the
// conversation's.
func (s *Service) AddMembers(ctx context.Context, actorID, conversationID int64, userIDs []int64) ([]domainchat.Member, error) {
	conv, err := s.memberConversation(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}
	if conv.Kind != domainchat.KindGroup {
		return nil, domainchat.Validation("members can only be added to groups")
	}
	if !conv.IsAdmin(actorID) {
		return nil, domainchat.ErrNotAdmin
	}
	var fresh []int64
	for _, id := range dedupIDs(userIDs) {
		if !conv.HasMember(id) {
			fresh = append(fresh, id)
		}
	}
	if len(fresh) == 0 {
		return nil, domainchat.Validation("no new members to add")
	}
	added, err := s.membersFor(ctx, fresh, 0, false)
	if err != nil {
		return nil, err
	}
	if err := s.Store.AddMembers(ctx, conversationID, added); err != nil {
		return nil, fmt.Errorf("add members: %w", err)
	}
	conv.Members = append(conv.Members, added...)

	names := make([]string, 0, len(added))
	for _, m := range added {
		names = append(names, m.Name)
	}
	if _, err := s.appendSystemMessage(ctx, conv, s.actorName(conv.Members, actorID)+" added "+strings.Join(names, ", ")); err != nil {
		return nil, err
	}
	s.publish(ctx, domainchat.MemberAdded{ConversationID: conversationID, Users: added, AddedBy: actorID})
	for _, m := range added {
		s.publish(ctx, domainchat.ConversationCreated{Conversation: *conv, UserID: m.UserID})
	}
	return added, nil
}

// LeaveGroup detaches the actor from a group. History is kept; membership is
// the only thing removed.
func (s *Service) LeaveGroup(ctx context.Context, actorID, conversationID int64) error {
	conv, err := s.memberConversation(ctx, conversationID, actorID)
	if err != nil {
		return err
	}
	if conv.Kind != domainchat.KindGroup {
		return domainchat.Validation("only groups can be left")
	}
	if err := s.Store.RemoveMember(ctx, conversationID, actorID); err != nil {
		return fmt.Errorf("leave group: %w", err)
	}
	if _, err := s.appendSystemMessage(ctx, conv, s.actorName(conv.Members, actorID)+" left"); err != nil {
		return err
	}
	s.publish(ctx, domainchat.MemberLeft{ConversationID: conversationID, UserID: actorID})
	return nil
}

// SendMessage validates, persists, updates the last-message summary and then
// broadcasts MessageSent to the other subscribers. The caller gets the stored
// message back synchronously and applies it without waiting for the event.
func (s *Service) SendMessage(ctx context.Context, actorID, conversationID int64, body string, attachment *domainchat.Attachment, replyToID int64) (*domainchat.Message, error) {
	if _, err := s.memberConversation(ctx, conversationID, actorID); err != nil {
		return nil, err
	}
	kind := domainchat.MessageText
	if attachment != nil {
		kind = domainchat.KindForMIME(attachment.MIME)
	}
	msg := &domainchat.Message{
		ConversationID: conversationID,
		SenderID:       actorID,
		Body:           strings.TrimSpace(body),
		Kind:           kind,
		Attachment:     attachment,
		ReplyToID:      replyToID,
		CreatedAt:      s.now(),
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if replyToID != 0 {
		target, err := s.Store.MessageByID(ctx, replyToID)
		if err != nil || target.ConversationID != conversationID {
			return nil, domainchat.Validation("reply target is not in this conversation")
		}
	}
	if err := s.Store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	if err := s.Store.UpdateLastMessage(ctx, conversationID, summaryOf(msg)); err != nil && s.Logger != nil {
		// Summary drift is repaired by the next send; the message itself is in.
		s.Logger.Warn("last message update failed", "conversation_id", conversationID, "error", err)
	}
	s.publish(ctx, domainchat.MessageSent{Message: *msg})
	return msg, nil
}

// ListMessages returns one backward page, oldest first. The rows are fetched
// id-descending strictly below the cursor and reversed before returning; a
// full page implies there may be more, a short page proves exhaustion.
func (s *Service) ListMessages(ctx context.Context, viewerID, conversationID int64, rawBefore string, limit int) (MessagePage, error) {
	if _, err := s.memberConversation(ctx, conversationID, viewerID); err != nil {
		return MessagePage{}, err
	}
	before, err := cursor.Parse(rawBefore)
	if err != nil {
		return MessagePage{}, domainchat.Validation("invalid cursor")
	}
	limit = cursor.Clamp(limit, messagePageSize, 200)

	rows, err := s.Store.ListMessagesBefore(ctx, conversationID, before, limit)
	if err != nil {
		return MessagePage{}, fmt.Errorf("list messages: %w", err)
	}
	// Reverse to ascending chronological order; the client never re-sorts.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return MessagePage{Items: rows, HasMore: len(rows) == limit}, nil
}

// MarkRead upserts one receipt per (message, viewer) and broadcasts a single
// MessageRead carrying the batch of newly read ids. Nothing is ever un-read;
// a batch of already-read ids writes and broadcasts nothing.
func (s *Service) MarkRead(ctx context.Context, actorID, conversationID int64, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return domainchat.Validation("message_ids is required")
	}
	if _, err := s.memberConversation(ctx, conversationID, actorID); err != nil {
		return err
	}
	ids := dedupIDs(messageIDs)
	fresh := make([]int64, 0, len(ids))
	for _, id := range ids {
		msg, err := s.Store.MessageByID(ctx, id)
		if err != nil {
			return domainchat.Validation("unknown message id")
		}
		if msg.ConversationID != conversationID {
			return domainchat.Validation("message is not in this conversation")
		}
		if !hasReader(msg.ReadBy, actorID) {
			fresh = append(fresh, id)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	if err := s.Store.UpsertReceipts(ctx, conversationID, fresh, actorID, s.now()); err != nil {
		return fmt.Errorf("upsert receipts: %w", err)
	}
	s.publish(ctx, domainchat.MessageRead{ConversationID: conversationID, MessageIDs: fresh, UserID: actorID})
	return nil
}

// ToggleReaction drives the tri-state transition table: none toggles on, the
// same emoji toggles off, a different emoji switches. Returns the user's
// resulting emoji (nil when removed), which is also what gets broadcast.
func (s *Service) ToggleReaction(ctx context.Context, actorID, messageID int64, emoji string) (*string, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, domainchat.Validation("emoji is required")
	}
	if len([]rune(emoji)) > domainchat.MaxEmojiLength {
		return nil, domainchat.Validation("emoji too long")
	}
	msg, err := s.Store.MessageByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.memberConversation(ctx, msg.ConversationID, actorID); err != nil {
		return nil, err
	}

	current, has := currentEmoji(msg.Reactions, actorID)
	var result *string
	if has && current == emoji {
		if err := s.Store.RemoveReaction(ctx, messageID, actorID); err != nil {
			return nil, fmt.Errorf("remove reaction: %w", err)
		}
	} else {
		if err := s.Store.SetReaction(ctx, messageID, actorID, emoji); err != nil {
			return nil, fmt.Errorf("set reaction: %w", err)
		}
		result = &emoji
	}
	s.publish(ctx, domainchat.ReactionUpdated{
		ConversationID: msg.ConversationID,
		MessageID:      messageID,
		UserID:         actorID,
		Emoji:          result,
	})
	return result, nil
}

// Typing publishes an ephemeral pulse. Nothing is stored; a dropped pulse is
// compensated by the subscribers' expiry timers.
func (s *Service) Typing(ctx context.Context, actorID, conversationID int64) error {
	if _, err := s.memberConversation(ctx, conversationID, actorID); err != nil {
		return err
	}
	s.publish(ctx, domainchat.TypingPulse{ConversationID: conversationID, UserID: actorID})
	return nil
}

// ListUsers pages the directory forward by id with a one-extra probe row.
func (s *Service) ListUsers(ctx context.Context, viewerID int64, rawCursor string, limit int) (DirectoryPage, error) {
	after, err := cursor.Parse(rawCursor)
	if err != nil {
		return DirectoryPage{}, domainchat.Validation("invalid cursor")
	}
	limit = cursor.Clamp(limit, defaultPageSize, maxPageSize)

	rows, err := s.Store.ListUsersAfter(ctx, after, limit+1)
	if err != nil {
		return DirectoryPage{}, fmt.Errorf("list users: %w", err)
	}
	page := DirectoryPage{Items: make([]domainuser.Public, 0, limit)}
	if len(rows) > limit {
		page.HasMore = true
		rows = rows[:limit]
	}
	for _, u := range rows {
		pub := u.AsPublic()
		if s.Presence != nil {
			online, err := s.Presence.Online(ctx, u.ID)
			if err != nil && s.Logger != nil {
				s.Logger.Warn("presence lookup failed", "user_id", u.ID, "error", err)
			}
			pub.Online = online
		}
		page.Items = append(page.Items, pub)
	}
	if page.HasMore && len(page.Items) > 0 {
		page.NextCursor = cursor.Format(page.Items[len(page.Items)-1].ID)
	}
	return page, nil
}

// Signal forwards an opaque call payload to the target user's personal
// channel. Stateless: nothing to reconcile, nothing stored.
func (s *Service) Signal(ctx context.Context, actorID, targetID int64, action string, payload json.RawMessage) error {
	switch action {
	case "offer", "answer", "candidate", "end":
	default:
		return domainchat.Validation("unknown signal action")
	}
	if targetID == 0 || targetID == actorID {
		return domainchat.Validation("valid target user is required")
	}
	s.publish(ctx, domainchat.CallSignal{FromUserID: actorID, ToUserID: targetID, Action: action, Payload: payload})
	return nil
}

func (s *Service) memberConversation(ctx context.Context, conversationID, userID int64) (*domainchat.Conversation, error) {
	conv, err := s.Store.ConversationByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasMember(userID) {
		return nil, domainchat.ErrNotMember
	}
	return conv, nil
}

func (s *Service) membersFor(ctx context.Context, ids []int64, adminID int64, adminRequired bool) ([]domainchat.Member, error) {
	users, err := s.Store.UsersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	if len(users) != len(ids) {
		return nil, domainchat.Validation("unknown user id")
	}
	byID := make(map[int64]domainuser.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	now := s.now()
	members := make([]domainchat.Member, 0, len(ids))
	for _, id := range ids {
		u := byID[id]
		members = append(members, domainchat.Member{
			UserID:   u.ID,
			Name:     u.Name,
			IsAdmin:  adminRequired && id == adminID,
			JoinedAt: now,
		})
	}
	return members, nil
}

func (s *Service) appendSystemMessage(ctx context.Context, conv *domainchat.Conversation, body string) (*domainchat.Message, error) {
	msg := &domainchat.Message{
		ConversationID: conv.ID,
		Kind:           domainchat.MessageSystem,
		Body:           body,
		CreatedAt:      s.now(),
	}
	if err := s.Store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append system message: %w", err)
	}
	if err := s.Store.UpdateLastMessage(ctx, conv.ID, summaryOf(msg)); err != nil && s.Logger != nil {
		s.Logger.Warn("last message update failed", "conversation_id", conv.ID, "error", err)
	}
	s.publish(ctx, domainchat.MessageSent{Message: *msg})
	return msg, nil
}

func (s *Service) actorName(members []domainchat.Member, actorID int64) string {
	for _, m := range members {
		if m.UserID == actorID {
			return m.Name
		}
	}
	return "Someone"
}

func summaryOf(m *domainchat.Message) domainchat.LastMessage {
	return domainchat.LastMessage{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Preview:   m.Preview(),
		Kind:      m.Kind,
		SentAt:    m.CreatedAt,
	}
}

func currentEmoji(buckets map[string][]int64, userID int64) (string, bool) {
	keys := make([]string, 0, len(buckets))
	for emoji := range buckets {
		keys = append(keys, emoji)
	}
	sort.Strings(keys)
	for _, emoji := range keys {
		for _, id := range buckets[emoji] {
			if id == userID {
				return emoji, true
			}
		}
	}
	return "", false
}

func hasReader(readBy []int64, userID int64) bool {
	for _, id := range readBy {
		if id == userID {
			return true
		}
	}
	return false
}

func dedupIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
