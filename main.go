package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messaging-service/internal/codec"
	"messaging-service/internal/config"
	"messaging-service/internal/db"
	"messaging-service/internal/handlers"
	"messaging-service/internal/identity"
	applog "messaging-service/internal/log"
	"messaging-service/internal/media"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/service"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

const serviceName = "messaging-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	applog.Init(cfg.Env)

	shutdownTracing, err := observability.SetupTracing(context.Background(), serviceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	authConn, err := identity.Dial(cfg.AuthGRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to auth grpc")
	}
	defer authConn.Close()

	userConn, err := identity.Dial(cfg.UserGRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to user grpc")
	}
	defer userConn.Close()

	authClient := identity.NewAuthClient(authConn)
	userClient := identity.NewUserClient(userConn)

	roomRepo := repositories.NewRoomRepo(database)
	membershipRepo := repositories.NewMembershipRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	stateRepo := repositories.NewRoomStateRepo(database)

	msgCodec, err := codec.New(cfg.MessageKey)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid message key")
	}

	var typingTracker service.TypingTracker = presence.NoopTracker{}
	if cfg.RedisAddr != "" {
		tracker := presence.NewRedisTracker(cfg.RedisAddr)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := tracker.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, typing roster disabled")
		} else {
			typingTracker = tracker
			defer tracker.Close()
		}
		cancel()
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer auditPublisher.Close()
	log.Info().Str("mode", rabbitmq.PublisherMode(auditPublisher)).
		Str("reason", rabbitmq.PublisherNoopReason(auditPublisher)).Msg("audit publisher ready")
	auditEmitter := telemetry.NewAuditEmitter(auditPublisher, "audit.messaging", serviceName, cfg.Env)

	if cfg.AMQPURL != "" {
		if wsPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange); err != nil {
			log.Warn().Err(err).Msg("ws event publisher disabled")
		} else {
			observability.SetPublisher(wsPublisher)
			defer wsPublisher.Close()
		}
	}

	mediaResolver := media.NewSignedResolver(cfg.MediaBaseURL, cfg.MediaURLSecret,
		time.Duration(cfg.MediaURLTTLSecs)*time.Second)

	hub := ws.NewHub()
	authority := service.NewAuthority(roomRepo, membershipRepo, stateRepo)
	engine := service.NewEngine(authority, roomRepo, membershipRepo, messageRepo, stateRepo,
		msgCodec, hub, typingTracker, userClient, mediaResolver)

	roomHandler := handlers.NewRoomHandler(roomRepo, membershipRepo, authority, auditEmitter)
	messageHandler := handlers.NewMessageHandler(engine, auditEmitter)
	roomWS := ws.NewRoomSocketHandler(hub, authority, authClient)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		if err := authClient.Ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "auth unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authMiddleware := middleware.AuthMiddleware(authClient)
	typingLimiter := middleware.NewRateLimiter(2, 4)

	authed := router.Group("/", authMiddleware)
	authed.POST("/rooms", roomHandler.CreateRoom)

	room := authed.Group("/rooms/:kind/:id")
	room.POST("/join", roomHandler.Join)
	room.POST("/leave", roomHandler.Leave)
	room.GET("/members", roomHandler.ListMembers)
	room.PUT("/members/:user_id/role", roomHandler.SetRole)
	room.DELETE("/members/:user_id", roomHandler.Kick)
	room.POST("/bans/:user_id", roomHandler.Ban)
	room.DELETE("/bans/:user_id", roomHandler.Unban)
	room.POST("/mutes/:user_id", roomHandler.Mute)
	room.DELETE("/mutes/:user_id", roomHandler.Unmute)
	room.PUT("/slow-mode", roomHandler.SetSlowMode)

	room.GET("/messages", messageHandler.ListMessages)
	room.POST("/messages", messageHandler.PostMessage)
	room.GET("/messages/search", messageHandler.SearchMessages)
	room.PATCH("/messages/:message_id", messageHandler.EditMessage)
	room.DELETE("/messages/:message_id", messageHandler.DeleteMessage)

	room.GET("/pin", messageHandler.GetPin)
	room.PUT("/pin", messageHandler.SetPin)
	room.DELETE("/pin", messageHandler.ClearPin)

	room.POST("/seen", messageHandler.MarkSeen)
	room.POST("/typing", typingLimiter.Middleware(), messageHandler.Typing)
	room.GET("/typing", messageHandler.ListTyping)

	room.DELETE("/history/me", messageHandler.ClearHistoryForMe)
	room.DELETE("/history", messageHandler.ClearHistoryForAll)

	room.GET("/unread", messageHandler.UnreadCount)

	router.GET("/ws/rooms/:kind/:id", roomWS.Handle)

	handlers.RegisterDebugRoutes(router, auditEmitter, cfg.DebugRoutes)

	log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("messaging service listening")
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
