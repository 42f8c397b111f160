package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"chatter/internal/infra/config"
	"chatter/internal/infra/obs"
)

type Handlers struct {
	Auth           AuthHTTP
	Chat           ChatHTTP
	Video          VideoHTTP
	Upload         UploadHTTP
	WS             gin.HandlerFunc
	AuthMiddleware gin.HandlerFunc
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	if h.WS != nil {
		router.GET("/ws", h.WS)
	}

	api := router.Group("/api/v1")
	if h.Auth != nil {
		api.POST("/auth/register", h.Auth.Register)
		api.POST("/auth/login", h.Auth.Login)
		api.POST("/auth/logout", h.Auth.Logout)
		api.GET("/auth/me", h.Auth.Me)
	}
	if h.Chat != nil {
		api.GET("/conversations", h.Chat.ListConversations)
		api.POST("/private-conversations", h.Chat.CreatePrivate)
		api.POST("/groups", h.Chat.CreateGroup)
		api.POST("/conversations/:id/users", h.Chat.AddMembers)
		api.POST("/conversations/:id/leave", h.Chat.LeaveGroup)
		api.GET("/conversations/:id/messages", h.Chat.ListMessages)
		api.POST("/conversations/:id/messages", h.Chat.SendMessage)
		api.POST("/conversations/:id/typing", h.Chat.Typing)
		api.POST("/messages/read", h.Chat.MarkRead)
		api.POST("/messages/:id/reactions", h.Chat.ToggleReaction)
		api.GET("/users", h.Chat.ListUsers)
	}
	if h.Video != nil {
		api.POST("/video/signal", h.Video.Signal)
	}
	if h.Upload != nil {
		api.POST("/uploads", h.Upload.Upload)
	}

	return &http.Server{Addr: cfg.HTTPAddr, Handler: router}
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
