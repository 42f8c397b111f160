package chat

import (
	"context"
	"time"

	domainchat "chatter/internal/domain/chat"
	domainuser "chatter/internal/domain/user"
)

// Store is the persistence collaborator contract. Implementations must support
// keyset filtering (id < cursor, id > cursor), id ordering, and atomic receipt
// upserts. Conversations and messages are never deleted on the hot path.
type Store interface {
	// Users.
	CreateUser(ctx context.Context, u *domainuser.User) error
	UserByID(ctx context.Context, id int64) (*domainuser.User, error)
	UserByEmail(ctx context.Context, email string) (*domainuser.User, error)
	UsersByIDs(ctx context.Context, ids []int64) ([]domainuser.User, error)
	// ListUsersAfter returns up to limit users ordered by id ascending with
	// id strictly greater than afterID.
	ListUsersAfter(ctx context.Context, afterID int64, limit int) ([]domainuser.User, error)

	// Conversations.
	CreateConversation(ctx context.Context, c *domainchat.Conversation) error
	ConversationByID(ctx context.Context, id int64) (*domainchat.Conversation, error)
	// PrivateConversationByPair locates the unique private thread for an
	// unordered user pair, or returns ErrNotFound.
	PrivateConversationByPair(ctx context.Context, a, b int64) (*domainchat.Conversation, error)
	// ListConversationsBefore returns up to limit of the viewer's conversations
	// ordered by id descending with id strictly less than beforeID (0 = from
	// the newest).
	ListConversationsBefore(ctx context.Context, userID, beforeID int64, limit int) ([]domainchat.Conversation, error)
	AddMembers(ctx context.Context, conversationID int64, members []domainchat.Member) error
	RemoveMember(ctx context.Context, conversationID, userID int64) error
	UpdateLastMessage(ctx context.Context, conversationID int64, last domainchat.LastMessage) error

	// Messages. AppendMessage assigns the next monotonically increasing id.
	AppendMessage(ctx context.Context, m *domainchat.Message) error
	MessageByID(ctx context.Context, id int64) (*domainchat.Message, error)
	// ListMessagesBefore returns up to limit messages ordered by id descending
	// with id strictly less than beforeID (0 = from the newest).
	ListMessagesBefore(ctx context.Context, conversationID, beforeID int64, limit int) ([]domainchat.Message, error)
	// CountUnread counts messages in the conversation whose sender is not the
	// viewer and which carry no receipt for the viewer.
	CountUnread(ctx context.Context, conversationID, viewerID int64) (int, error)

	// Read receipts: one row per (message, user); later marks overwrite the
	// timestamp, never remove the receipt.
	UpsertReceipts(ctx context.Context, conversationID int64, messageIDs []int64, userID int64, at time.Time) error

	// Reactions: at most one row per (message, user).
	SetReaction(ctx context.Context, messageID, userID int64, emoji string) error
	RemoveReaction(ctx context.Context, messageID, userID int64) error
}

// Publisher delivers a committed event onto its channel, best-effort,
// excluding the actor's own subscriptions.
type Publisher interface {
	Publish(e domainchat.Event)
}

// Relay hands a committed event to the out-of-band pipeline (notification
// fan-out). Failures are logged by the caller and never fail the mutation.
type Relay interface {
	Relay(ctx context.Context, e domainchat.Event) error
}

// Notifier is the push-notification collaborator: best-effort out-of-band
// delivery that must never block or fail message sending.
type Notifier interface {
	Notify(ctx context.Context, userID int64, title, body string, meta map[string]string) error
}

// Presence reads the online markers the transport layer keeps fresh. The TTL
// cache is authoritative; the roster channel only gives instant UI feedback.
type Presence interface {
	Online(ctx context.Context, userID int64) (bool, error)
}
