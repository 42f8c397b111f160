// Package channel implements named, authorization-scoped pub/sub topics. The
// Hub is an owned, injected registry: created at startup, torn down on
// shutdown, never a package-level singleton.
package channel

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"chatter/internal/domain/chat"
)

// Authorizer decides whether a user may subscribe to a channel. It is invoked
// on every subscribe attempt; results are never cached.
type Authorizer interface {
	CanSubscribe(ctx context.Context, userID int64, channel string) bool
}

// Hub routes published events to channel subscribers. Delivery is best-effort
// and at-most-once: a subscriber whose buffer is full misses the event.
type Hub struct {
	auth   Authorizer
	logger *slog.Logger

	mu       sync.RWMutex
	subs     map[string]map[*Subscription]struct{}
	presence map[int64]int // presence-channel subscription count per user
	closed   bool
}

// NewHub builds an empty registry.
func NewHub(auth Authorizer, logger *slog.Logger) *Hub {
	return &Hub{
		auth:     auth,
		logger:   logger,
		subs:     make(map[string]map[*Subscription]struct{}),
		presence: make(map[int64]int),
	}
}

const subscriptionBuffer = 64

// Subscription is a cancellable attachment to one channel.
type Subscription struct {
	hub     *Hub
	channel string
	userID  int64
	cancel  sync.Once

	// mu orders sends against close: a publish racing Cancel must observe
	// closed before it sends, or the send lands in the buffer first.
	mu     sync.Mutex
	closed bool
	events chan chat.Event
}

// Events is the stream of events delivered to this subscription. It is closed
// by Cancel.
func (s *Subscription) Events() <-chan chat.Event { return s.events }

// Channel returns the subscribed channel name.
func (s *Subscription) Channel() string { return s.channel }

// UserID returns the subscriber's identity.
func (s *Subscription) UserID() int64 { return s.userID }

// Cancel detaches the subscription. Safe to call more than once and required
// on conversation-leave and session teardown.
func (s *Subscription) Cancel() {
	s.cancel.Do(func() {
		s.hub.remove(s)
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
}

// deliver enqueues without blocking. False means the event was not delivered:
// the subscription is cancelled or its buffer is full.
func (s *Subscription) deliver(e chat.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- e:
		return true
	default:
		return false
	}
}

// Subscribe authorizes and attaches a subscriber. An authorization failure
// silently denies the subscription: ok is false and the caller's session
// continues. Subscribing to the presence channel delivers the current roster
// to the new subscriber and announces the join to everyone else.
func (h *Hub) Subscribe(ctx context.Context, userID int64, channel string) (*Subscription, bool) {
	if h.auth == nil || !h.auth.CanSubscribe(ctx, userID, channel) {
		if h.logger != nil {
			h.logger.Debug("subscription denied", "channel", channel, "user_id", userID)
		}
		return nil, false
	}

	sub := &Subscription{
		hub:     h,
		channel: channel,
		userID:  userID,
		events:  make(chan chat.Event, subscriptionBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, false
	}
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*Subscription]struct{})
	}
	h.subs[channel][sub] = struct{}{}

	var joined bool
	if channel == chat.PresenceChannelName {
		joined = h.presence[userID] == 0
		h.presence[userID]++
		roster := make([]int64, 0, len(h.presence))
		for id := range h.presence {
			roster = append(roster, id)
		}
		sort.Slice(roster, func(i, j int) bool { return roster[i] < roster[j] })
		// Enqueued before the registry lock drops so no concurrent join can
		// land ahead of the snapshot. The buffer is empty; this cannot block.
		sub.events <- chat.PresenceState{UserIDs: roster}
	}
	h.mu.Unlock()

	if joined {
		h.Publish(chat.PresenceJoined{UserID: userID})
	}
	return sub, true
}

// Publish fans an event out to its channel, skipping subscriptions owned by
// the actor (their client already applied the result synchronously). Sends
// never block the publisher.
func (h *Hub) Publish(e chat.Event) {
	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs[e.Channel()]))
	for sub := range h.subs[e.Channel()] {
		if actor := e.Actor(); actor != 0 && sub.userID == actor {
			continue
		}
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		if !sub.deliver(e) {
			// Slow or cancelled consumer: drop, the next reload resynchronizes.
			if h.logger != nil {
				h.logger.Debug("event dropped", "channel", e.Channel(), "kind", e.Kind(), "user_id", sub.userID)
			}
		}
	}
}

// Close cancels every subscription and rejects future subscribes.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*Subscription
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range all {
		sub.Cancel()
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	var left bool
	if set, ok := h.subs[s.channel]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.channel)
		}
	}
	if s.channel == chat.PresenceChannelName {
		if h.presence[s.userID] > 0 {
			h.presence[s.userID]--
		}
		if h.presence[s.userID] == 0 {
			delete(h.presence, s.userID)
			left = true
		}
	}
	closed := h.closed
	h.mu.Unlock()

	if left && !closed {
		h.Publish(chat.PresenceLeft{UserID: s.userID})
	}
}
