package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	authsvc "chatter/internal/app/auth"
	chatapp "chatter/internal/app/chat"
	"chatter/internal/app/notify"
	"chatter/internal/infra/broker/kafka"
	"chatter/internal/infra/channel"
	"chatter/internal/infra/config"
	mongostore "chatter/internal/infra/db/mongo"
	ginserver "chatter/internal/infra/http/gin"
	"chatter/internal/infra/inbox"
	"chatter/internal/infra/obs"
	"chatter/internal/infra/presence"
	"chatter/internal/infra/security"
	"chatter/internal/infra/storage/memory"
	"chatter/internal/infra/storage/s3"
	"chatter/internal/infra/ws"
)

const consumerGroup = "chatter-notifications"

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := getenv("APP_ENV", "dev")
	logger := obs.NewLogger(env)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	ready := func() error { return nil }

	// Storage: in-memory by default, mongo when configured. The notification
	// inbox follows the same split.
	var store chatapp.Store = memory.NewStore()
	var dedupe notify.Inbox = inbox.NewMemory()
	if cfg.StorageMode == "mongo" {
		client, err := mongostore.New(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			logger.Error("mongo connect failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Close(closeCtx)
		}()
		store = mongostore.NewStore(client.DB)
		dedupe = inbox.NewMongoStore(client.DB, consumerGroup)
		ready = func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return client.Ping(pingCtx)
		}
		logger.Info("mongo storage enabled", "db", cfg.MongoDB)
	}

	service := &chatapp.Service{Store: store, Logger: logger}

	hub := channel.NewHub(channel.Policy{Membership: service.IsMember}, logger)
	defer hub.Close()
	service.Events = hub

	// Presence: redis-backed when available, in-process otherwise.
	var tracker presence.Tracker = presence.NewMemoryTracker(cfg.PresenceTTL)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		tracker = presence.NewRedisTracker(rdb, cfg.PresenceTTL)
		logger.Info("redis presence enabled", "addr", cfg.RedisAddr)
	}
	service.Presence = tracker

	// Kafka: relay events out and consume them back for notification fan-out.
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		service.Relay = &notify.KafkaRelay{Producer: producer}

		consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, consumerGroup, nil, &notify.Worker{
			Store:    store,
			Notifier: notify.LogNotifier{Logger: logger},
			Inbox:    dedupe,
			Logger:   logger,
		}, logger)
		if err != nil {
			logger.Error("kafka consumer init failed", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx, []string{notify.EventsTopic}); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("notification consumer stopped", "error", err)
			}
		}()
		logger.Info("kafka relay enabled", "brokers", cfg.KafkaBrokers)
	}

	// Uploads: object store when configured, otherwise fail-fast stub.
	var uploader s3.Uploader = s3.NoopUploader{}
	if cfg.S3Endpoint != "" {
		client, err := s3.NewClient(cfg.S3Endpoint, cfg.S3UseSSL, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3PublicEndpoint, logger)
		if err != nil {
			logger.Error("s3 init failed", "error", err)
			os.Exit(1)
		}
		uploader = client
	}

	auth := &authsvc.Service{
		Store:      store,
		Sessions:   memory.NewSessionStore(),
		Passwords:  security.BcryptHasher{},
		Tokens:     security.RandomTokenGenerator{},
		SessionTTL: cfg.SessionTTL,
		Logger:     logger,
	}

	wsHandler := &ws.Handler{
		Hub:       hub,
		Presence:  tracker,
		Logger:    logger,
		Principal: ginserver.PrincipalID,
	}

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{Ready: ready}, ginserver.Handlers{
		Auth:           ginserver.AuthHandler{Service: auth, Presence: tracker, Logger: logger},
		Chat:           ginserver.ChatHandler{Service: service, Logger: logger},
		Video:          ginserver.VideoHandler{Service: service, Logger: logger},
		Upload:         ginserver.UploadHandler{Uploader: uploader, Logger: logger},
		WS:             wsHandler.Serve,
		AuthMiddleware: ginserver.AuthMiddleware{Service: auth, Presence: tracker, Logger: logger}.Handle,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
