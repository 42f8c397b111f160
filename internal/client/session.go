package client

import (
	"context"
	"log/slog"

	chatapp "chatter/internal/app/chat"
	"chatter/internal/app/cursor"
	"chatter/internal/domain/chat"
)

// ConversationPage is one fetched page of the viewer's conversation list.
type ConversationPage struct {
	Items      []Conversation
	NextCursor string
	HasMore    bool
}

// MessagePage is one backward timeline page, oldest first.
type MessagePage struct {
	Items   []chat.Message
	HasMore bool
}

// API is the server surface the session calls. Implementations may go over
// HTTP or straight into the service in-process; the session does not care.
type API interface {
	Conversations(ctx context.Context, cursor string, limit int) (ConversationPage, error)
	Messages(ctx context.Context, conversationID int64, before string, limit int) (MessagePage, error)
	SendMessage(ctx context.Context, conversationID int64, body string, replyToID int64) (*chat.Message, error)
	ToggleReaction(ctx context.Context, messageID int64, emoji string) error
	MarkRead(ctx context.Context, conversationID int64, messageIDs []int64) error
}

// Session owns one user's client-side state and reconciles incoming events
// against it. Apply runs on a single goroutine (the event loop); the only
// concurrent pieces are the typing timers, which lock internally.
type Session struct {
	UserID int64
	API    API
	Logger *slog.Logger

	Conversations *ConversationList
	Unread        *UnreadTracker
	Typing        *TypingTracker

	timelines  map[int64]*Timeline
	online     map[int64]struct{}
	active     int64
	convCursor string
	convMore   bool

	// OnConversationAdded lets the transport subscribe to the conversation
	// channel of a thread the session just learned about.
	OnConversationAdded func(conversationID int64)
}

// NewSession builds a session for one authenticated user.
func NewSession(userID int64, api API, logger *slog.Logger) *Session {
	return &Session{
		UserID:        userID,
		API:           api,
		Logger:        logger,
		Conversations: NewConversationList(),
		Unread:        NewUnreadTracker(),
		Typing:        NewTypingTracker(DefaultTypingTTL, nil),
		timelines:     make(map[int64]*Timeline),
		online:        make(map[int64]struct{}),
		convMore:      true,
	}
}

// Close cancels the session's timers. Idempotent.
func (s *Session) Close() {
	s.Typing.Close()
}

// Run drains an event stream until the context ends or the stream closes.
func (s *Session) Run(ctx context.Context, events <-chan chat.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			s.Apply(e)
		}
	}
}

// Timeline returns (creating if needed) the timeline for a conversation.
func (s *Session) Timeline(conversationID int64) *Timeline {
	tl, ok := s.timelines[conversationID]
	if !ok {
		tl = NewTimeline()
		s.timelines[conversationID] = tl
	}
	return tl
}

// SetActive marks the conversation currently on screen; live messages for it
// do not bump its unread counter.
func (s *Session) SetActive(conversationID int64) {
	s.active = conversationID
}

// Online reports the presence roster's view of a user.
func (s *Session) Online(userID int64) bool {
	_, ok := s.online[userID]
	return ok
}

// LoadConversations fetches the next page of the list and merges it. Counters
// are seeded from the server-derived unread counts.
func (s *Session) LoadConversations(ctx context.Context, limit int) (int, error) {
	if !s.convMore && s.convCursor == "" && len(s.Conversations.Items()) > 0 {
		return 0, nil
	}
	page, err := s.API.Conversations(ctx, s.convCursor, limit)
	if err != nil {
		return 0, err
	}
	added := s.Conversations.MergePage(page.Items)
	for _, c := range page.Items {
		s.Unread.Set(c.ID, c.UnreadCount)
	}
	s.convCursor = page.NextCursor
	s.convMore = page.HasMore
	return added, nil
}

// LoadOlderMessages fetches one backward page chained from the window's
// oldest id and merges it at the head.
func (s *Session) LoadOlderMessages(ctx context.Context, conversationID int64, limit int) (int, error) {
	tl := s.Timeline(conversationID)
	if tl.Loaded() && !tl.HasMore() {
		return 0, nil
	}
	page, err := s.API.Messages(ctx, conversationID, cursor.Format(tl.OldestID()), limit)
	if err != nil {
		return 0, err
	}
	return tl.MergeOlder(page.Items, page.HasMore), nil
}

// Send posts a message and applies the confirmed result through the same code
// path a broadcast would take; the echo event later de-duplicates on id.
func (s *Session) Send(ctx context.Context, conversationID int64, body string, replyToID int64) (*chat.Message, error) {
	msg, err := s.API.SendMessage(ctx, conversationID, body, replyToID)
	if err != nil {
		return nil, err
	}
	s.applyMessage(*msg)
	return msg, nil
}

// React applies the toggle optimistically, then confirms it with the server.
// The transition is self-inverse, so on failure the same toggle is re-applied
// once and the error is surfaced, never retried.
func (s *Session) React(ctx context.Context, conversationID, messageID int64, emoji string) error {
	msg := s.Timeline(conversationID).Get(messageID)
	if msg == nil {
		return chat.ErrNotFound
	}
	toggleReaction(msg, s.UserID, emoji)
	if err := s.API.ToggleReaction(ctx, messageID, emoji); err != nil {
		toggleReaction(msg, s.UserID, emoji)
		return err
	}
	return nil
}

// MarkConversationRead sends one batch for every loaded message from another
// sender that the viewer has not read, then reconciles locally.
func (s *Session) MarkConversationRead(ctx context.Context, conversationID int64) error {
	tl := s.Timeline(conversationID)
	var ids []int64
	for _, m := range tl.Messages() {
		if m.SenderID == s.UserID || m.SenderID == 0 {
			continue
		}
		if containsID(m.ReadBy, s.UserID) {
			continue
		}
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		s.Unread.Clear(conversationID)
		return nil
	}
	if err := s.API.MarkRead(ctx, conversationID, ids); err != nil {
		return err
	}
	s.applyReadReceipts(conversationID, ids, s.UserID)
	return nil
}

// Apply merges one incoming event into local state. Every branch tolerates
// duplicates and out-of-order arrival relative to fetches.
func (s *Session) Apply(e chat.Event) {
	switch ev := e.(type) {
	case chat.MessageSent:
		applied := s.applyMessage(ev.Message)
		if applied && ev.Message.SenderID != 0 && ev.Message.SenderID != s.UserID && s.active != ev.Message.ConversationID {
			s.Unread.Increment(ev.Message.ConversationID)
		}
	case chat.MessageRead:
		s.applyReadReceipts(ev.ConversationID, ev.MessageIDs, ev.UserID)
	case chat.ReactionUpdated:
		// Self-originated updates are already reflected by the optimistic path.
		if ev.UserID == s.UserID {
			return
		}
		if msg := s.Timeline(ev.ConversationID).Get(ev.MessageID); msg != nil {
			applyRemoteReaction(msg, ev.UserID, ev.Emoji)
		}
	case chat.MemberAdded:
		if conv := s.Conversations.Get(ev.ConversationID); conv != nil {
			for _, m := range ev.Users {
				if !conv.HasMember(m.UserID) {
					conv.Members = append(conv.Members, m)
				}
			}
		}
	case chat.MemberLeft:
		if conv := s.Conversations.Get(ev.ConversationID); conv != nil {
			kept := conv.Members[:0]
			for _, m := range conv.Members {
				if m.UserID != ev.UserID {
					kept = append(kept, m)
				}
			}
			conv.Members = kept
		}
	case chat.ConversationCreated:
		added := s.Conversations.AddIfMissing(Conversation{
			Conversation: ev.Conversation,
			DisplayName:  ev.Conversation.DisplayNameFor(s.UserID),
		})
		if added && s.OnConversationAdded != nil {
			s.OnConversationAdded(ev.Conversation.ID)
		}
	case chat.TypingPulse:
		if ev.UserID != s.UserID {
			s.Typing.Pulse(ev.ConversationID, ev.UserID)
		}
	case chat.CallSignal:
		// Signaling is pass-through; nothing to reconcile.
	case chat.PresenceState:
		s.online = make(map[int64]struct{}, len(ev.UserIDs))
		for _, id := range ev.UserIDs {
			s.online[id] = struct{}{}
		}
	case chat.PresenceJoined:
		s.online[ev.UserID] = struct{}{}
	case chat.PresenceLeft:
		delete(s.online, ev.UserID)
	}
}

// applyMessage is the single code path for both the client's own confirmed
// send and a broadcast arrival: push (idempotent), update the summary, move
// the conversation to the front.
func (s *Session) applyMessage(m chat.Message) bool {
	applied := s.Timeline(m.ConversationID).Push(m)
	if applied {
		s.Conversations.Bump(m.ConversationID, chat.LastMessage{
			MessageID: m.ID,
			SenderID:  m.SenderID,
			Preview:   m.Preview(),
			Kind:      m.Kind,
			SentAt:    m.CreatedAt,
		})
	}
	return applied
}

func (s *Session) applyReadReceipts(conversationID int64, messageIDs []int64, readerID int64) {
	tl := s.Timeline(conversationID)
	for _, id := range messageIDs {
		if msg := tl.Get(id); msg != nil && !containsID(msg.ReadBy, readerID) {
			msg.ReadBy = append(msg.ReadBy, readerID)
		}
	}
	if readerID == s.UserID {
		// Clear to zero rather than decrementing by the batch size; concurrent
		// batches would otherwise drift the counter.
		s.Unread.Clear(conversationID)
	}
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// LocalAPI binds a session directly to the in-process service; used by the
// demo wiring and the engine tests.
type LocalAPI struct {
	Service *chatapp.Service
	UserID  int64
}

func (a LocalAPI) Conversations(ctx context.Context, rawCursor string, limit int) (ConversationPage, error) {
	page, err := a.Service.ListConversations(ctx, a.UserID, rawCursor, limit)
	if err != nil {
		return ConversationPage{}, err
	}
	out := ConversationPage{NextCursor: page.NextCursor, HasMore: page.HasMore}
	for _, v := range page.Items {
		out.Items = append(out.Items, Conversation{
			Conversation: v.Conversation,
			DisplayName:  v.DisplayName,
			UnreadCount:  v.UnreadCount,
		})
	}
	return out, nil
}

func (a LocalAPI) Messages(ctx context.Context, conversationID int64, before string, limit int) (MessagePage, error) {
	page, err := a.Service.ListMessages(ctx, a.UserID, conversationID, before, limit)
	if err != nil {
		return MessagePage{}, err
	}
	return MessagePage{Items: page.Items, HasMore: page.HasMore}, nil
}

func (a LocalAPI) SendMessage(ctx context.Context, conversationID int64, body string, replyToID int64) (*chat.Message, error) {
	return a.Service.SendMessage(ctx, a.UserID, conversationID, body, nil, replyToID)
}

func (a LocalAPI) ToggleReaction(ctx context.Context, messageID int64, emoji string) error {
	_, err := a.Service.ToggleReaction(ctx, a.UserID, messageID, emoji)
	return err
}

func (a LocalAPI) MarkRead(ctx context.Context, conversationID int64, messageIDs []int64) error {
	return a.Service.MarkRead(ctx, a.UserID, conversationID, messageIDs)
}

var _ API = LocalAPI{}
