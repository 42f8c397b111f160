// Package inbox dedupes consumed broker events. Kafka delivers at least once,
// so a consumer that has side effects (push notifications) records every event
// id it has acted on and skips replays.
package inbox

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Inbox reports whether an event id was already processed by this consumer,
// recording it as seen in the same call.
type Inbox interface {
	Seen(ctx context.Context, eventID string) (bool, error)
}

type MongoStore struct {
	col      *mongo.Collection
	consumer string
}

func NewMongoStore(db *mongo.Database, consumer string) *MongoStore {
	col := db.Collection("notify_inbox")
	_, _ = col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "event_id", Value: 1}, {Key: "consumer", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	_, _ = col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "received_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32((7 * 24 * time.Hour).Seconds())),
	})
	return &MongoStore{col: col, consumer: consumer}
}

// Seen relies on the unique index: the first insert wins, replays collide.
func (s *MongoStore) Seen(ctx context.Context, eventID string) (bool, error) {
	doc := bson.M{"event_id": eventID, "consumer": s.consumer, "received_at": time.Now().UTC()}
	_, err := s.col.InsertOne(ctx, doc)
	if err == nil {
		return false, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return true, nil
	}
	return false, err
}

// Memory keeps seen ids in process. Good enough for single-instance
// deployments without Mongo; restarts forget history, which at worst repeats
// a notification.
type Memory struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{seen: make(map[string]struct{})}
}

func (m *Memory) Seen(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[eventID]; ok {
		return true, nil
	}
	m.seen[eventID] = struct{}{}
	return false, nil
}

var (
	_ Inbox = (*MongoStore)(nil)
	_ Inbox = (*Memory)(nil)
)
