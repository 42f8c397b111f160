package chat

import (
	"strings"
	"time"
)

// MessageKind classifies a message by its content.
type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageImage  MessageKind = "image"
	MessageVideo  MessageKind = "video"
	MessageAudio  MessageKind = "audio"
	MessageFile   MessageKind = "file"
	MessageSystem MessageKind = "system"
)

// Attachment describes an uploaded file by reference; the binary lives in the
// file store, the core only passes the descriptor through.
type Attachment struct {
	Path string `json:"path" bson:"path"`
	Name string `json:"name" bson:"name"`
	MIME string `json:"mime" bson:"mime"`
	Size int64  `json:"size" bson:"size"`
}

// Message is one timeline entry. The id is a monotonically increasing int64
// and doubles as the ordering and pagination key.
type Message struct {
	ID             int64       `json:"id" bson:"_id"`
	ConversationID int64       `json:"conversation_id" bson:"conversation_id"`
	SenderID       int64       `json:"sender_id" bson:"sender_id"`
	Body           string      `json:"body,omitempty" bson:"body,omitempty"`
	Kind           MessageKind `json:"kind" bson:"kind"`
	Attachment     *Attachment `json:"attachment,omitempty" bson:"attachment,omitempty"`
	ReplyToID      int64       `json:"reply_to_id,omitempty" bson:"reply_to_id,omitempty"`
	ReadBy         []int64     `json:"read_by,omitempty" bson:"read_by,omitempty"`
	// Reactions maps emoji to the ids of users currently reacting with it.
	Reactions map[string][]int64 `json:"reactions,omitempty" bson:"reactions,omitempty"`
	CreatedAt time.Time          `json:"created_at" bson:"created_at"`
}

// Validate enforces the content invariant: a message carries a body, an
// attachment, or is synthesized by the server as a system notice.
func (m *Message) Validate() error {
	if m.ConversationID == 0 {
		return Validation("conversation id is required")
	}
	if m.Kind == MessageSystem {
		return nil
	}
	if m.SenderID == 0 {
		return Validation("sender id is required")
	}
	if strings.TrimSpace(m.Body) == "" && m.Attachment == nil {
		return Validation("message body or attachment is required")
	}
	return nil
}

// KindForMIME maps an attachment MIME type to the message kind.
func KindForMIME(mime string) MessageKind {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return MessageImage
	case strings.HasPrefix(mime, "video/"):
		return MessageVideo
	case strings.HasPrefix(mime, "audio/"):
		return MessageAudio
	default:
		return MessageFile
	}
}

// Preview renders the conversation-list summary line for a message.
func (m *Message) Preview() string {
	switch m.Kind {
	case MessageImage:
		return "\U0001F4F7 Photo"
	case MessageVideo:
		return "\U0001F3A5 Video"
	case MessageAudio:
		return "\U0001F3B5 Audio"
	case MessageFile:
		return "\U0001F4CE File"
	default:
		return m.Body
	}
}

// ReadReceipt records that a user has read a message. At most one receipt per
// (message, user); later marks overwrite the timestamp, never remove it.
type ReadReceipt struct {
	MessageID int64     `json:"message_id" bson:"message_id"`
	UserID    int64     `json:"user_id" bson:"user_id"`
	ReadAt    time.Time `json:"read_at" bson:"read_at"`
}

// Reaction records a user's current emoji on a message. Setting a different
// emoji for the same user replaces the previous one.
type Reaction struct {
	MessageID int64  `json:"message_id" bson:"message_id"`
	UserID    int64  `json:"user_id" bson:"user_id"`
	Emoji     string `json:"emoji" bson:"emoji"`
}

// MaxEmojiLength bounds the accepted emoji payload, matching validation on
// the write path.
const MaxEmojiLength = 10
