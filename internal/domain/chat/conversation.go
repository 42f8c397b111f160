package chat

import (
	"fmt"
	"strings"
	"time"
)

// ConversationKind distinguishes two-party threads from named groups.
type ConversationKind string

const (
	KindPrivate ConversationKind = "private"
	KindGroup   ConversationKind = "group"
)

// Member is a conversation participant, ordered by join time.
type Member struct {
	UserID   int64     `json:"user_id" bson:"user_id"`
	Name     string    `json:"name" bson:"name"`
	IsAdmin  bool      `json:"is_admin" bson:"is_admin"`
	JoinedAt time.Time `json:"joined_at" bson:"joined_at"`
}

// LastMessage is the denormalized summary shown in the conversation list.
type LastMessage struct {
	MessageID int64       `json:"message_id" bson:"message_id"`
	SenderID  int64       `json:"sender_id" bson:"sender_id"`
	Preview   string      `json:"preview" bson:"preview"`
	Kind      MessageKind `json:"kind" bson:"kind"`
	SentAt    time.Time   `json:"sent_at" bson:"sent_at"`
}

// Conversation is a private pair or a group thread. A private conversation has
// exactly two members and is unique per unordered member pair; a group has at
// least one member and an admin subset.
type Conversation struct {
	ID        int64            `json:"id" bson:"_id"`
	Kind      ConversationKind `json:"kind" bson:"kind"`
	Name      string           `json:"name,omitempty" bson:"name,omitempty"`
	Avatar    string           `json:"avatar,omitempty" bson:"avatar,omitempty"`
	CreatorID int64            `json:"creator_id" bson:"creator_id"`
	Members   []Member         `json:"members" bson:"members"`
	Last      *LastMessage     `json:"last_message,omitempty" bson:"last_message,omitempty"`
	CreatedAt time.Time        `json:"created_at" bson:"created_at"`
}

// HasMember reports whether the user currently belongs to the conversation.
func (c *Conversation) HasMember(userID int64) bool {
	for _, m := range c.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user is an admin of a group conversation.
func (c *Conversation) IsAdmin(userID int64) bool {
	for _, m := range c.Members {
		if m.UserID == userID {
			return m.IsAdmin
		}
	}
	return false
}

// MemberIDs returns member ids in join order.
func (c *Conversation) MemberIDs() []int64 {
	ids := make([]int64, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// DisplayNameFor derives the name shown to a viewer: the group name, or for a
// private thread the other participant's name.
func (c *Conversation) DisplayNameFor(viewerID int64) string {
	if c.Kind == KindGroup {
		return c.Name
	}
	for _, m := range c.Members {
		if m.UserID != viewerID {
			return m.Name
		}
	}
	return ""
}

// Initials derives a one-or-two letter avatar fallback from a display name.
func Initials(name string) string {
	var out []rune
	for _, word := range strings.Fields(name) {
		runes := []rune(word)
		if len(runes) == 0 {
			continue
		}
		out = append(out, []rune(strings.ToUpper(string(runes[0])))...)
		if len(out) >= 2 {
			break
		}
	}
	if len(out) == 0 {
		return "?"
	}
	return string(out)
}

// PairKey is the canonical identity of a private conversation: both user ids
// in ascending order. Used to enforce one thread per unordered pair.
func PairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// ChannelName returns the event channel carrying this conversation's events.
func (c *Conversation) ChannelName() string {
	return ConversationChannel(c.ID)
}
