package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	gin "github.com/gin-gonic/gin"

	chatapp "chatter/internal/app/chat"
	domainchat "chatter/internal/domain/chat"
)

type ChatHTTP interface {
	ListConversations(c *gin.Context)
	CreatePrivate(c *gin.Context)
	CreateGroup(c *gin.Context)
	AddMembers(c *gin.Context)
	LeaveGroup(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	MarkRead(c *gin.Context)
	ToggleReaction(c *gin.Context)
	Typing(c *gin.Context)
	ListUsers(c *gin.Context)
}

type ChatHandler struct {
	Service *chatapp.Service
	Logger  *slog.Logger
}

func (h ChatHandler) ListConversations(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	page, err := h.Service.ListConversations(c.Request.Context(), p.ID, c.Query("cursor"), queryInt(c, "limit"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversations": page.Items,
		"next_cursor":   page.NextCursor,
		"has_more":      page.HasMore,
	})
}

type createPrivateRequest struct {
	UserID int64 `json:"user_id"`
}

func (h ChatHandler) CreatePrivate(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	var req createPrivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	view, err := h.Service.CreatePrivate(c.Request.Context(), p.ID, req.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": view})
}

type createGroupRequest struct {
	Name    string  `json:"name"`
	UserIDs []int64 `json:"user_ids"`
}

func (h ChatHandler) CreateGroup(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	view, err := h.Service.CreateGroup(c.Request.Context(), p.ID, req.Name, req.UserIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation": view})
}

type addMembersRequest struct {
	UserIDs []int64 `json:"user_ids"`
}

func (h ChatHandler) AddMembers(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req addMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	added, err := h.Service.AddMembers(c.Request.Context(), p.ID, conversationID, req.UserIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": added})
}

func (h ChatHandler) LeaveGroup(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.Service.LeaveGroup(c.Request.Context(), p.ID, conversationID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h ChatHandler) ListMessages(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	page, err := h.Service.ListMessages(c.Request.Context(), p.ID, conversationID, c.Query("before"), queryInt(c, "limit"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": page.Items,
		"has_more": page.HasMore,
	})
}

type sendMessageRequest struct {
	Body       string                 `json:"body"`
	Attachment *domainchat.Attachment `json:"attachment"`
	ReplyToID  int64                  `json:"reply_to_id"`
}

func (h ChatHandler) SendMessage(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	msg, err := h.Service.SendMessage(c.Request.Context(), p.ID, conversationID, req.Body, req.Attachment, req.ReplyToID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

type markReadRequest struct {
	ConversationID int64   `json:"conversation_id"`
	MessageIDs     []int64 `json:"message_ids"`
}

func (h ChatHandler) MarkRead(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.Service.MarkRead(c.Request.Context(), p.ID, req.ConversationID, req.MessageIDs); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

func (h ChatHandler) ToggleReaction(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	emoji, err := h.Service.ToggleReaction(c.Request.Context(), p.ID, messageID, req.Emoji)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"emoji": emoji})
}

func (h ChatHandler) Typing(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.Service.Typing(c.Request.Context(), p.ID, conversationID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h ChatHandler) ListUsers(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	page, err := h.Service.ListUsers(c.Request.Context(), p.ID, c.Query("cursor"), queryInt(c, "limit"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"users":       page.Items,
		"next_cursor": page.NextCursor,
		"has_more":    page.HasMore,
	})
}

func (h ChatHandler) respondError(c *gin.Context, err error) {
	var ve domainchat.ValidationError
	switch {
	case errors.Is(err, domainchat.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, domainchat.ErrNotMember):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member"})
	case errors.Is(err, domainchat.ErrNotAdmin):
		c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
	default:
		if h.Logger != nil {
			h.Logger.Error("chat operation failed", "error", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return v
}

var _ ChatHTTP = (*ChatHandler)(nil)
