// Package notify carries chat events out of process: a Kafka relay on the
// publishing side and a consumer worker that fans notifications out to users.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"chatter/internal/domain/chat"
)

// EventsTopic is the Kafka topic conversation events are relayed to.
const EventsTopic = "chat.events.v1"

type Producer interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// KafkaRelay mirrors every published event onto Kafka so consumers outside
// the websocket fan-out (push senders, audit) see the same stream.
type KafkaRelay struct {
	Producer Producer
	Source   string
}

func (r *KafkaRelay) Relay(ctx context.Context, e chat.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	evt := map[string]any{
		"specversion":     "1.0",
		"id":              uuid.NewString(),
		"type":            e.Kind() + ".v1",
		"source":          r.source(),
		"time":            time.Now().UTC(),
		"datacontenttype": "application/json",
		"data":            json.RawMessage(data),
		"channel":         e.Channel(),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	headers := map[string]string{
		"content-type": "application/cloudevents+json",
		"event-kind":   e.Kind(),
	}
	// Keyed by channel so one conversation's events stay ordered.
	return r.Producer.Publish(ctx, EventsTopic, e.Channel(), payload, headers)
}

func (r *KafkaRelay) source() string {
	if r.Source != "" {
		return r.Source
	}
	return "app://chatter"
}
