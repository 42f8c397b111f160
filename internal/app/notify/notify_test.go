package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatter/internal/domain/chat"
	domainuser "chatter/internal/domain/user"
	"chatter/internal/infra/inbox"
	"chatter/internal/infra/storage/memory"
)

type capturedRecord struct {
	topic   string
	key     string
	payload []byte
	headers map[string]string
}

type captureProducer struct {
	records []capturedRecord
}

func (p *captureProducer) Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error {
	p.records = append(p.records, capturedRecord{topic: topic, key: key, payload: payload, headers: headers})
	return nil
}

type captureNotifier struct {
	userIDs []int64
	titles  []string
	bodies  []string
}

func (n *captureNotifier) Notify(ctx context.Context, userID int64, title, body string, meta map[string]string) error {
	n.userIDs = append(n.userIDs, userID)
	n.titles = append(n.titles, title)
	n.bodies = append(n.bodies, body)
	return nil
}

func TestRelayWrapsEventsAsCloudEvents(t *testing.T) {
	producer := &captureProducer{}
	relay := &KafkaRelay{Producer: producer}

	msg := chat.Message{ID: 9, ConversationID: 5, SenderID: 1, Body: "hi", Kind: chat.MessageText, CreatedAt: time.Now()}
	require.NoError(t, relay.Relay(context.Background(), chat.MessageSent{Message: msg}))

	require.Len(t, producer.records, 1)
	rec := producer.records[0]
	assert.Equal(t, EventsTopic, rec.topic)
	assert.Equal(t, chat.ConversationChannel(5), rec.key)
	assert.Equal(t, "application/cloudevents+json", rec.headers["content-type"])
	assert.Equal(t, chat.EventMessageSent, rec.headers["event-kind"])

	var evt map[string]any
	require.NoError(t, json.Unmarshal(rec.payload, &evt))
	assert.Equal(t, "1.0", evt["specversion"])
	assert.Equal(t, chat.EventMessageSent+".v1", evt["type"])
	assert.Equal(t, "app://chatter", evt["source"])
	assert.NotEmpty(t, evt["id"])
}

func TestWorkerNotifiesEveryoneButSender(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	for _, name := range []string{"Alice", "Bob", "Carol"} {
		require.NoError(t, store.CreateUser(ctx, &domainuser.User{Name: name, Email: name + "@example.com"}))
	}
	conv := &chat.Conversation{
		Kind: chat.KindGroup,
		Name: "Team",
		Members: []chat.Member{
			{UserID: 1, Name: "Alice"},
			{UserID: 2, Name: "Bob"},
			{UserID: 3, Name: "Carol"},
		},
	}
	require.NoError(t, store.CreateConversation(ctx, conv))
	msg := &chat.Message{ConversationID: conv.ID, SenderID: 1, Body: "hello team", Kind: chat.MessageText, CreatedAt: time.Now()}
	require.NoError(t, store.AppendMessage(ctx, msg))

	producer := &captureProducer{}
	relay := &KafkaRelay{Producer: producer}
	require.NoError(t, relay.Relay(ctx, chat.MessageSent{Message: *msg}))

	notifier := &captureNotifier{}
	worker := &Worker{Store: store, Notifier: notifier, Logger: slog.Default()}
	require.NoError(t, worker.Handle(ctx, &sarama.ConsumerMessage{Value: producer.records[0].payload}))

	assert.Equal(t, []int64{2, 3}, notifier.userIDs)
	assert.Equal(t, []string{"Team", "Team"}, notifier.titles)
	assert.Equal(t, []string{"hello team", "hello team"}, notifier.bodies)
}

func TestWorkerDedupesRedeliveries(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.CreateUser(ctx, &domainuser.User{Name: "Alice", Email: "alice@example.com"}))
	require.NoError(t, store.CreateUser(ctx, &domainuser.User{Name: "Bob", Email: "bob@example.com"}))
	conv := &chat.Conversation{
		Kind:    chat.KindPrivate,
		Members: []chat.Member{{UserID: 1, Name: "Alice"}, {UserID: 2, Name: "Bob"}},
	}
	require.NoError(t, store.CreateConversation(ctx, conv))
	msg := &chat.Message{ConversationID: conv.ID, SenderID: 1, Body: "once", Kind: chat.MessageText, CreatedAt: time.Now()}
	require.NoError(t, store.AppendMessage(ctx, msg))

	producer := &captureProducer{}
	relay := &KafkaRelay{Producer: producer}
	require.NoError(t, relay.Relay(ctx, chat.MessageSent{Message: *msg}))

	notifier := &captureNotifier{}
	worker := &Worker{Store: store, Notifier: notifier, Inbox: inbox.NewMemory(), Logger: slog.Default()}
	payload := producer.records[0].payload
	require.NoError(t, worker.Handle(ctx, &sarama.ConsumerMessage{Value: payload}))
	require.NoError(t, worker.Handle(ctx, &sarama.ConsumerMessage{Value: payload}))

	assert.Equal(t, []int64{2}, notifier.userIDs)
}

func TestWorkerSkipsNoise(t *testing.T) {
	notifier := &captureNotifier{}
	worker := &Worker{Store: memory.NewStore(), Notifier: notifier, Logger: slog.Default()}
	ctx := context.Background()

	// Malformed payloads are dropped, not retried.
	require.NoError(t, worker.Handle(ctx, &sarama.ConsumerMessage{Value: []byte("not json")}))

	producer := &captureProducer{}
	relay := &KafkaRelay{Producer: producer}
	require.NoError(t, relay.Relay(ctx, chat.TypingPulse{ConversationID: 5, UserID: 1}))
	require.NoError(t, worker.Handle(ctx, &sarama.ConsumerMessage{Value: producer.records[0].payload}))

	assert.Empty(t, notifier.userIDs)
}
