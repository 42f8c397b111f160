package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/IBM/sarama"

	chatapp "chatter/internal/app/chat"
	"chatter/internal/domain/chat"
)

// Inbox dedupes consumed events by id. Kafka redelivers on rebalance and
// retry, and a pushed notification cannot be unsent.
type Inbox interface {
	Seen(ctx context.Context, eventID string) (bool, error)
}

// Worker consumes relayed conversation events and turns fresh messages into
// per-user notifications. Read marks, typing and presence are noise here and
// are skipped.
type Worker struct {
	Store    chatapp.Store
	Notifier chatapp.Notifier
	Inbox    Inbox
	Logger   *slog.Logger
}

type envelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (w *Worker) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var env envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		w.Logger.Warn("notify: dropping malformed event", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		return nil
	}
	if w.Inbox != nil && env.ID != "" {
		seen, err := w.Inbox.Seen(ctx, env.ID)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}
	}
	kind := strings.TrimSuffix(env.Type, ".v1")
	framed, err := json.Marshal(chat.Envelope{Kind: kind, Data: env.Data})
	if err != nil {
		return nil
	}
	event, err := chat.DecodeEvent(framed)
	if err != nil {
		w.Logger.Warn("notify: dropping unknown event", "kind", kind, "error", err)
		return nil
	}
	sent, ok := event.(chat.MessageSent)
	if !ok {
		return nil
	}
	return w.notifyMessage(ctx, sent.Message)
}

func (w *Worker) notifyMessage(ctx context.Context, m chat.Message) error {
	if m.SenderID == 0 {
		return nil
	}
	conv, err := w.Store.ConversationByID(ctx, m.ConversationID)
	if err != nil {
		return err
	}
	meta := map[string]string{
		"conversation_id": strconv.FormatInt(m.ConversationID, 10),
		"message_id":      strconv.FormatInt(m.ID, 10),
		"message_kind":    string(m.Kind),
	}
	for _, member := range conv.Members {
		if member.UserID == m.SenderID {
			continue
		}
		// Group name for groups; for a private thread the viewer sees the
		// sender's name.
		title := conv.DisplayNameFor(member.UserID)
		if err := w.Notifier.Notify(ctx, member.UserID, title, m.Preview(), meta); err != nil {
			w.Logger.Warn("notify: delivery failed", "user_id", member.UserID, "error", err)
		}
	}
	return nil
}
