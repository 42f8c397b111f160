// Package ws is the websocket transport: one connection per client, carrying
// channel subscriptions multiplexed over a single socket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chatter/internal/domain/chat"
	"chatter/internal/infra/channel"
	"chatter/internal/infra/presence"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 10
)

// Principal resolves the authenticated user for an upgrade request; the HTTP
// auth middleware has already run by the time Serve is called.
type Principal func(c *gin.Context) (userID int64, ok bool)

type Handler struct {
	Hub       *channel.Hub
	Presence  presence.Tracker
	Logger    *slog.Logger
	Principal Principal

	upgrader websocket.Upgrader
	initOnce sync.Once
}

// inbound frames: the client manages its channel set explicitly.
type clientFrame struct {
	Action  string `json:"action"` // subscribe | unsubscribe
	Channel string `json:"channel"`
}

// outbound frames wrap an event envelope with its channel.
type serverFrame struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// Serve upgrades the request and runs the connection until either side closes.
func (h *Handler) Serve(c *gin.Context) {
	userID, ok := h.Principal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return
	}
	h.initOnce.Do(func() {
		h.upgrader = websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		}
	})
	socket, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Debug("websocket upgrade failed", "error", err)
		}
		return
	}

	conn := &conn{
		handler: h,
		userID:  userID,
		socket:  socket,
		send:    make(chan serverFrame, 256),
		subs:    make(map[string]*channel.Subscription),
		done:    make(chan struct{}),
	}
	h.touch(c.Request.Context(), userID)

	// Every client listens on its personal channel and the presence roster
	// without asking.
	conn.subscribe(c.Request.Context(), chat.UserChannel(userID))
	conn.subscribe(c.Request.Context(), chat.PresenceChannelName)

	go conn.writePump()
	conn.readPump(c.Request.Context())
}

func (h *Handler) touch(ctx context.Context, userID int64) {
	if h.Presence == nil {
		return
	}
	if err := h.Presence.Touch(ctx, userID); err != nil && h.Logger != nil {
		h.Logger.Debug("presence touch failed", "user_id", userID, "error", err)
	}
}

type conn struct {
	handler *Handler
	userID  int64
	socket  *websocket.Conn
	send    chan serverFrame

	mu   sync.Mutex
	subs map[string]*channel.Subscription

	closeOnce sync.Once
	done      chan struct{}
}

func (c *conn) subscribe(ctx context.Context, name string) {
	c.mu.Lock()
	if _, exists := c.subs[name]; exists {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	sub, ok := c.handler.Hub.Subscribe(ctx, c.userID, name)
	if !ok {
		// Denied subscriptions are silent; the connection stays up.
		return
	}

	c.mu.Lock()
	c.subs[name] = sub
	c.mu.Unlock()

	go c.forward(sub)
}

func (c *conn) unsubscribe(name string) {
	c.mu.Lock()
	sub, ok := c.subs[name]
	if ok {
		delete(c.subs, name)
	}
	c.mu.Unlock()
	if ok {
		sub.Cancel()
	}
}

// forward drains one subscription into the shared send channel.
func (c *conn) forward(sub *channel.Subscription) {
	for e := range sub.Events() {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		frame := serverFrame{Channel: sub.Channel(), Event: e.Kind(), Data: data}
		select {
		case c.send <- frame:
		case <-c.done:
			return
		default:
			// Socket back-pressure: drop, the client resynchronizes on reload.
		}
	}
}

func (c *conn) readPump(ctx context.Context) {
	defer c.close()
	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		c.handler.touch(ctx, c.userID)
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var frame clientFrame
		if err := c.socket.ReadJSON(&frame); err != nil {
			return
		}
		c.handler.touch(ctx, c.userID)
		switch frame.Action {
		case "subscribe":
			c.subscribe(ctx, frame.Channel)
		case "unsubscribe":
			c.unsubscribe(frame.Channel)
		}
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case frame := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		subs := make([]*channel.Subscription, 0, len(c.subs))
		for _, sub := range c.subs {
			subs = append(subs, sub)
		}
		c.subs = make(map[string]*channel.Subscription)
		c.mu.Unlock()
		for _, sub := range subs {
			sub.Cancel()
		}
		_ = c.socket.Close()
	})
}
