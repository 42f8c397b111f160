package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	authsvc "chatter/internal/app/auth"
	domainauth "chatter/internal/domain/auth"
	"chatter/internal/infra/presence"
)

const principalContextKey = "chatter.principal"

type principal struct {
	ID    int64
	Email string
	Name  string
	Token string
}

type AuthMiddleware struct {
	Service  *authsvc.Service
	Presence presence.Tracker
	Logger   *slog.Logger
}

// Handle resolves a bearer token into a principal when present. Routes that
// need one enforce it via requirePrincipal; everything else passes through.
func (m AuthMiddleware) Handle(c *gin.Context) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = strings.TrimSpace(c.Query("token"))
	}
	if token == "" || m.Service == nil {
		c.Next()
		return
	}
	user, err := m.Service.ResolveToken(c.Request.Context(), token)
	if err != nil {
		if !errors.Is(err, domainauth.ErrSessionNotFound) && m.Logger != nil {
			m.Logger.Debug("token validation failed", "error", err)
		}
		c.Next()
		return
	}
	setPrincipal(c, principal{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
		Token: token,
	})
	// Any authenticated request keeps the user online.
	if m.Presence != nil {
		if err := m.Presence.Touch(c.Request.Context(), user.ID); err != nil && m.Logger != nil {
			m.Logger.Debug("presence touch failed", "user_id", user.ID, "error", err)
		}
	}
	c.Next()
}

func setPrincipal(c *gin.Context, p principal) {
	c.Set(principalContextKey, p)
}

func currentPrincipal(c *gin.Context) (principal, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return principal{}, false
	}
	p, ok := val.(principal)
	return p, ok
}

func requirePrincipal(c *gin.Context) (principal, bool) {
	p, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return principal{}, false
	}
	return p, true
}

// PrincipalID exposes the authenticated user id to transports mounted outside
// this package (the websocket endpoint).
func PrincipalID(c *gin.Context) (int64, bool) {
	p, ok := currentPrincipal(c)
	if !ok {
		return 0, false
	}
	return p.ID, true
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
