package chat

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Channel names. A conversation channel requires membership, a user channel
// requires identity, the presence channel admits any authenticated user.
const PresenceChannelName = "presence"

func ConversationChannel(id int64) string {
	return "conversation." + strconv.FormatInt(id, 10)
}

func UserChannel(id int64) string {
	return "user." + strconv.FormatInt(id, 10)
}

// Event kinds as they appear on the wire.
const (
	EventMessageSent         = "message.sent"
	EventMessageRead         = "message.read"
	EventReactionUpdated     = "reaction.updated"
	EventMemberAdded         = "member.added"
	EventMemberLeft          = "member.left"
	EventConversationCreated = "conversation.created"
	EventTypingPulse         = "typing.pulse"
	EventCallSignal          = "call.signal"
	EventPresenceJoined      = "presence.joined"
	EventPresenceLeft        = "presence.left"
	EventPresenceState       = "presence.state"
)

// Event is the closed set of payloads published onto channels. Handlers
// dispatch on the concrete type, never on ad hoc field presence.
type Event interface {
	Kind() string
	// Channel names the topic the event is delivered on.
	Channel() string
	// Actor is the originating user; the hub may skip the actor's own
	// subscriptions so the optimistic path is not echoed back. Zero means
	// deliver to everyone.
	Actor() int64

	event()
}

// MessageSent carries the full message on the conversation channel. The acting
// client already applied the result of its own request synchronously.
type MessageSent struct {
	Message Message `json:"message"`
}

func (MessageSent) Kind() string      { return EventMessageSent }
func (e MessageSent) Channel() string { return ConversationChannel(e.Message.ConversationID) }
func (e MessageSent) Actor() int64    { return e.Message.SenderID }
func (MessageSent) event()            {}

// MessageRead is broadcast once per batch-mark-as-read call.
type MessageRead struct {
	ConversationID int64   `json:"conversation_id"`
	MessageIDs     []int64 `json:"message_ids"`
	UserID         int64   `json:"user_id"`
}

func (MessageRead) Kind() string      { return EventMessageRead }
func (e MessageRead) Channel() string { return ConversationChannel(e.ConversationID) }
func (e MessageRead) Actor() int64    { return e.UserID }
func (MessageRead) event()            {}

// ReactionUpdated reports the user's current emoji on a message; a nil emoji
// means the reaction was removed.
type ReactionUpdated struct {
	ConversationID int64   `json:"conversation_id"`
	MessageID      int64   `json:"message_id"`
	UserID         int64   `json:"user_id"`
	Emoji          *string `json:"emoji"`
}

func (ReactionUpdated) Kind() string      { return EventReactionUpdated }
func (e ReactionUpdated) Channel() string { return ConversationChannel(e.ConversationID) }
func (e ReactionUpdated) Actor() int64    { return e.UserID }
func (ReactionUpdated) event()            {}

// MemberAdded announces users joining a conversation.
type MemberAdded struct {
	ConversationID int64    `json:"conversation_id"`
	Users          []Member `json:"users"`
	AddedBy        int64    `json:"added_by"`
}

func (MemberAdded) Kind() string      { return EventMemberAdded }
func (e MemberAdded) Channel() string { return ConversationChannel(e.ConversationID) }
func (e MemberAdded) Actor() int64    { return e.AddedBy }
func (MemberAdded) event()            {}

// MemberLeft announces a user detaching from a conversation.
type MemberLeft struct {
	ConversationID int64 `json:"conversation_id"`
	UserID         int64 `json:"user_id"`
}

func (MemberLeft) Kind() string      { return EventMemberLeft }
func (e MemberLeft) Channel() string { return ConversationChannel(e.ConversationID) }
func (e MemberLeft) Actor() int64    { return e.UserID }
func (MemberLeft) event()            {}

// ConversationCreated is delivered on the target user's personal channel so
// the client can subscribe to the conversation channel it is not yet on.
type ConversationCreated struct {
	Conversation Conversation `json:"conversation"`
	UserID       int64        `json:"user_id"`
}

func (ConversationCreated) Kind() string      { return EventConversationCreated }
func (e ConversationCreated) Channel() string { return UserChannel(e.UserID) }
func (ConversationCreated) Actor() int64      { return 0 }
func (ConversationCreated) event()            {}

// TypingPulse is ephemeral: no acknowledgment, no persistence, and a dropped
// pulse is compensated by client-side expiry, never by redelivery.
type TypingPulse struct {
	ConversationID int64 `json:"conversation_id"`
	UserID         int64 `json:"user_id"`
}

func (TypingPulse) Kind() string      { return EventTypingPulse }
func (e TypingPulse) Channel() string { return ConversationChannel(e.ConversationID) }
func (e TypingPulse) Actor() int64    { return e.UserID }
func (TypingPulse) event()            {}

// CallSignal forwards an opaque WebRTC payload to a single target user.
type CallSignal struct {
	FromUserID int64           `json:"from_user_id"`
	ToUserID   int64           `json:"to_user_id"`
	Action     string          `json:"action"` // offer | answer | candidate | end
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func (CallSignal) Kind() string      { return EventCallSignal }
func (e CallSignal) Channel() string { return UserChannel(e.ToUserID) }
func (e CallSignal) Actor() int64    { return e.FromUserID }
func (CallSignal) event()            {}

// PresenceJoined and PresenceLeft are roster notices on the presence channel.
type PresenceJoined struct {
	UserID int64 `json:"user_id"`
}

func (PresenceJoined) Kind() string    { return EventPresenceJoined }
func (PresenceJoined) Channel() string { return PresenceChannelName }
func (e PresenceJoined) Actor() int64  { return e.UserID }
func (PresenceJoined) event()          {}

type PresenceLeft struct {
	UserID int64 `json:"user_id"`
}

func (PresenceLeft) Kind() string    { return EventPresenceLeft }
func (PresenceLeft) Channel() string { return PresenceChannelName }
func (e PresenceLeft) Actor() int64  { return e.UserID }
func (PresenceLeft) event()          {}

// PresenceState is the roster snapshot handed to a new presence subscriber.
type PresenceState struct {
	UserIDs []int64 `json:"user_ids"`
}

func (PresenceState) Kind() string    { return EventPresenceState }
func (PresenceState) Channel() string { return PresenceChannelName }
func (PresenceState) Actor() int64    { return 0 }
func (PresenceState) event()          {}

// Envelope is the wire framing for events.
type Envelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EncodeEvent frames an event for transport.
func EncodeEvent(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Kind: e.Kind(), Data: data})
}

// DecodeEvent parses a wire envelope back into its concrete event type.
func DecodeEvent(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	var target Event
	switch env.Kind {
	case EventMessageSent:
		target = &MessageSent{}
	case EventMessageRead:
		target = &MessageRead{}
	case EventReactionUpdated:
		target = &ReactionUpdated{}
	case EventMemberAdded:
		target = &MemberAdded{}
	case EventMemberLeft:
		target = &MemberLeft{}
	case EventConversationCreated:
		target = &ConversationCreated{}
	case EventTypingPulse:
		target = &TypingPulse{}
	case EventCallSignal:
		target = &CallSignal{}
	case EventPresenceJoined:
		target = &PresenceJoined{}
	case EventPresenceLeft:
		target = &PresenceLeft{}
	case EventPresenceState:
		target = &PresenceState{}
	default:
		return nil, fmt.Errorf("chat: unknown event kind %q", env.Kind)
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return nil, err
	}
	switch v := target.(type) {
	case *MessageSent:
		return *v, nil
	case *MessageRead:
		return *v, nil
	case *ReactionUpdated:
		return *v, nil
	case *MemberAdded:
		return *v, nil
	case *MemberLeft:
		return *v, nil
	case *ConversationCreated:
		return *v, nil
	case *TypingPulse:
		return *v, nil
	case *CallSignal:
		return *v, nil
	case *PresenceJoined:
		return *v, nil
	case *PresenceLeft:
		return *v, nil
	case *PresenceState:
		return *v, nil
	}
	return nil, fmt.Errorf("chat: unknown event kind %q", env.Kind)
}
