package ginserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	chatapp "chatter/internal/app/chat"
)

type VideoHTTP interface {
	Signal(c *gin.Context)
}

// VideoHandler forwards WebRTC signaling payloads between users. The payload
// stays opaque; the server only routes it.
type VideoHandler struct {
	Service *chatapp.Service
	Logger  *slog.Logger
}

type signalRequest struct {
	ToUserID int64           `json:"to_user_id"`
	Action   string          `json:"action"`
	Payload  json.RawMessage `json:"payload"`
}

func (h VideoHandler) Signal(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.Service.Signal(c.Request.Context(), p.ID, req.ToUserID, req.Action, req.Payload); err != nil {
		ChatHandler{Logger: h.Logger}.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

var _ VideoHTTP = (*VideoHandler)(nil)
