// Package memory provides an in-memory Store for dev mode and tests, mirroring
// the persistence contract the mongo adapter implements.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"chatter/internal/domain/chat"
	"chatter/internal/domain/user"
)

// Store is an in-memory persistence collaborator. All ids are assigned from
// monotonically increasing sequences, like the counter documents in mongo.
type Store struct {
	mu            sync.RWMutex
	users         map[int64]*user.User
	conversations map[int64]*chat.Conversation
	messages      map[int64]*chat.Message
	receipts      map[int64]map[int64]time.Time // message id -> user id -> read at
	pairs         map[string]int64              // private pair key -> conversation id

	userSeq int64
	convSeq int64
	msgSeq  int64
}

// NewStore builds an empty store.
func NewStore() *Store {
	return &Store{
		users:         make(map[int64]*user.User),
		conversations: make(map[int64]*chat.Conversation),
		messages:      make(map[int64]*chat.Message),
		receipts:      make(map[int64]map[int64]time.Time),
		pairs:         make(map[string]int64),
	}
}

func (s *Store) CreateUser(ctx context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return chat.Validation("email already registered")
		}
	}
	s.userSeq++
	u.ID = s.userSeq
	clone := *u
	s.users[u.ID] = &clone
	return nil
}

func (s *Store) UserByID(ctx context.Context, id int64) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, chat.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, chat.ErrNotFound
}

func (s *Store) UsersByIDs(ctx context.Context, ids []int64) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]user.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s *Store) ListUsersAfter(ctx context.Context, afterID int64, limit int) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.users))
	for id := range s.users {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]user.User, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.users[id])
	}
	return out, nil
}

func (s *Store) CreateConversation(ctx context.Context, c *chat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Kind == chat.KindPrivate {
		if len(c.Members) != 2 {
			return chat.Validation("private conversation requires exactly two members")
		}
		key := chat.PairKey(c.Members[0].UserID, c.Members[1].UserID)
		if _, exists := s.pairs[key]; exists {
			return chat.Validation("private conversation already exists")
		}
		s.convSeq++
		c.ID = s.convSeq
		s.pairs[key] = c.ID
	} else {
		if len(c.Members) == 0 {
			return chat.Validation("group requires at least one member")
		}
		s.convSeq++
		c.ID = s.convSeq
	}
	clone := cloneConversation(c)
	s.conversations[c.ID] = clone
	return nil
}

func (s *Store) ConversationByID(ctx context.Context, id int64) (*chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, chat.ErrNotFound
	}
	return cloneConversation(c), nil
}

func (s *Store) PrivateConversationByPair(ctx context.Context, a, b int64) (*chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pairs[chat.PairKey(a, b)]
	if !ok {
		return nil, chat.ErrNotFound
	}
	return cloneConversation(s.conversations[id]), nil
}

func (s *Store) ListConversationsBefore(ctx context.Context, userID, beforeID int64, limit int) ([]chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.conversations))
	for id, c := range s.conversations {
		if beforeID != 0 && id >= beforeID {
			continue
		}
		if c.HasMember(userID) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]chat.Conversation, 0, len(ids))
	for _, id := range ids {
		out = append(out, *cloneConversation(s.conversations[id]))
	}
	return out, nil
}

func (s *Store) AddMembers(ctx context.Context, conversationID int64, members []chat.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return chat.ErrNotFound
	}
	for _, m := range members {
		if !c.HasMember(m.UserID) {
			c.Members = append(c.Members, m)
		}
	}
	return nil
}

func (s *Store) RemoveMember(ctx context.Context, conversationID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return chat.ErrNotFound
	}
	kept := c.Members[:0]
	for _, m := range c.Members {
		if m.UserID != userID {
			kept = append(kept, m)
		}
	}
	c.Members = kept
	return nil
}

func (s *Store) UpdateLastMessage(ctx context.Context, conversationID int64, last chat.LastMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return chat.ErrNotFound
	}
	c.Last = &last
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, m *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[m.ConversationID]; !ok {
		return chat.ErrNotFound
	}
	s.msgSeq++
	m.ID = s.msgSeq
	clone := cloneMessage(m)
	s.messages[m.ID] = clone
	return nil
}

func (s *Store) MessageByID(ctx context.Context, id int64) (*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, chat.ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *Store) ListMessagesBefore(ctx context.Context, conversationID, beforeID int64, limit int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0)
	for id, m := range s.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if beforeID != 0 && id >= beforeID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]chat.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, *cloneMessage(s.messages[id]))
	}
	return out, nil
}

func (s *Store) CountUnread(ctx context.Context, conversationID, viewerID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for id, m := range s.messages {
		if m.ConversationID != conversationID || m.SenderID == viewerID || m.SenderID == 0 {
			continue
		}
		if _, read := s.receipts[id][viewerID]; !read {
			count++
		}
	}
	return count, nil
}

func (s *Store) UpsertReceipts(ctx context.Context, conversationID int64, messageIDs []int64, userID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range messageIDs {
		m, ok := s.messages[id]
		if !ok || m.ConversationID != conversationID {
			return chat.ErrNotFound
		}
		if s.receipts[id] == nil {
			s.receipts[id] = make(map[int64]time.Time)
		}
		// Later marks overwrite the timestamp; a message never becomes unread.
		s.receipts[id][userID] = at
		if !containsID(m.ReadBy, userID) {
			m.ReadBy = append(m.ReadBy, userID)
		}
	}
	return nil
}

func (s *Store) SetReaction(ctx context.Context, messageID, userID int64, emoji string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return chat.ErrNotFound
	}
	removeReactionLocked(m, userID)
	if m.Reactions == nil {
		m.Reactions = make(map[string][]int64)
	}
	m.Reactions[emoji] = append(m.Reactions[emoji], userID)
	return nil
}

func (s *Store) RemoveReaction(ctx context.Context, messageID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return chat.ErrNotFound
	}
	removeReactionLocked(m, userID)
	return nil
}

func removeReactionLocked(m *chat.Message, userID int64) {
	for emoji, users := range m.Reactions {
		kept := users[:0]
		for _, id := range users {
			if id != userID {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(m.Reactions, emoji)
		} else {
			m.Reactions[emoji] = kept
		}
	}
}

func cloneConversation(c *chat.Conversation) *chat.Conversation {
	clone := *c
	clone.Members = append([]chat.Member(nil), c.Members...)
	if c.Last != nil {
		last := *c.Last
		clone.Last = &last
	}
	return &clone
}

func cloneMessage(m *chat.Message) *chat.Message {
	clone := *m
	clone.ReadBy = append([]int64(nil), m.ReadBy...)
	if m.Reactions != nil {
		clone.Reactions = make(map[string][]int64, len(m.Reactions))
		for emoji, users := range m.Reactions {
			clone.Reactions[emoji] = append([]int64(nil), users...)
		}
	}
	if m.Attachment != nil {
		att := *m.Attachment
		clone.Attachment = &att
	}
	return &clone
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
