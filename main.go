package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"alumni-messaging/internal/auth"
	"alumni-messaging/internal/db"
	"alumni-messaging/internal/handlers"
	"alumni-messaging/internal/middleware"
	"alumni-messaging/internal/observability"
	"alumni-messaging/internal/rabbitmq"
	"alumni-messaging/internal/repositories"
	"alumni-messaging/internal/telemetry"
	"alumni-messaging/internal/ws"
)

func main() {
	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		shutdown, err := observability.SetupTracing(context.Background(), "alumni-messaging")
		if err != nil {
			log.Fatalf("failed to set up tracing: %v", err)
		}
		defer shutdown(context.Background())
	}

	amqpURL := os.Getenv("AMQP_URL")
	exchange := getEnv("AMQP_EXCHANGE", "alumni.events")
	if amqpURL != "" {
		publisher, err := observability.ConnectEventPublisher(amqpURL, exchange)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer publisher.Close()
		observability.SetPublisher(publisher)
	}

	auditPublisher := rabbitmq.NewPublisher(amqpURL, exchange)
	defer auditPublisher.Close()
	emitter := telemetry.NewAuditEmitter(auditPublisher, "audit.messaging", "alumni-messaging", getEnv("ENVIRONMENT", "dev"))
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(auditPublisher))

	authClient := auth.NewClient(getEnv("AUTH_SERVICE_URL", "http://localhost:8084"))

	convRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hub := ws.NewHub()

	messageHandler := handlers.NewMessageHandler(convRepo, messageRepo, emitter)
	sessionHandler := ws.NewSessionHandler(hub, convRepo, messageRepo, authClient)

	router := gin.Default()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("alumni-messaging"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(authClient)

	router.GET("/messages", authMiddleware, messageHandler.ListCorrespondents)
	router.GET("/unread", authMiddleware, messageHandler.UnreadCounts)
	router.GET("/messages/:user_id", authMiddleware, messageHandler.GetHistory)
	router.POST("/messages/:user_id/pin", authMiddleware, messageHandler.PinConversation)
	router.DELETE("/messages/:user_id/pin", authMiddleware, messageHandler.UnpinConversation)
	router.DELETE("/messages/:user_id", authMiddleware, messageHandler.HideConversation)

	router.GET("/ws", sessionHandler.Handle)

	router.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	port := getEnv("PORT", "8083")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
