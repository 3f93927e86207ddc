package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"chat-server/config"
	"chat-server/handlers"
	"chat-server/middleware"
	"chat-server/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found")
	}

	// Initialize structured logger
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(logHandler))

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize MongoDB
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := services.InitMongoDB(ctx, cfg.MongoURI)
	if err != nil {
		slog.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer client.Disconnect(ctx)

	db := client.Database(cfg.DatabaseName)

	// Stores
	sessionStore := services.NewMongoSessionStore(db)
	messageStore := services.NewMongoMessageStore(db)
	userStore := services.NewMongoUserStore(db)

	if err := sessionStore.EnsureIndexes(ctx); err != nil {
		slog.Error("Failed to create session indexes", "error", err)
		// Continue anyway - lookups still work without indexes
	}
	if err := messageStore.EnsureIndexes(ctx); err != nil {
		slog.Error("Failed to create message indexes", "error", err)
	}

	// Token codec and session lifecycle
	codec, err := services.NewTokenCodec(cfg.TokenHashKey, cfg.TokenCipherKey)
	if err != nil {
		slog.Error("Failed to initialize token codec", "error", err)
		os.Exit(1)
	}

	risk := services.NewBasicRiskScorer(cfg.SuspiciousThreshold)
	sessions := services.NewSessionManager(sessionStore, codec, risk, cfg.SessionTTL, cfg.RefreshTTL)

	// Connection registry, presence and delivery
	registry := services.NewConnectionRegistry(cfg.OfflineGrace)
	presence := services.NewPresence(registry, userStore)
	sessions.SetPresenceController(presence)

	delivery := services.NewDelivery(messageStore, userStore, registry, services.LogOfflineNotifier{}, cfg.DeliveryReceiptDelay)

	batcher := services.NewBatcher(delivery, cfg.BatchFlushWindow, cfg.BatchMaxSize)
	batcherCtx, cancelBatcher := context.WithCancel(context.Background())
	defer cancelBatcher()
	batcher.Start(batcherCtx)

	// Background expiry sweep
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	sessions.StartCleanup(sweepCtx, cfg.SessionRetention)

	// Handlers
	authHandler := handlers.NewAuthHandler(sessions, userStore, services.NewLoginLimiter(10))
	wsHandler := handlers.NewWebSocketHandler(registry, delivery)
	messageHandler := handlers.NewMessageHandler(messageStore)
	batchHandler := handlers.NewBatchHandler(batcher)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			slog.Error("Request error", "error", err, "status", code)
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Middleware
	app.Use(recover.New())

	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:5173, http://localhost:3000",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path}\n",
	}))

	requireAuth := middleware.RequireAuth(sessions)

	auth := app.Group("/auth")
	auth.Post("/login", authHandler.Login)
	auth.Post("/refresh", authHandler.Refresh)
	auth.Post("/step-up", authHandler.StepUp)
	auth.Post("/logout", requireAuth, authHandler.Logout)
	auth.Post("/logout-all", requireAuth, authHandler.LogoutAll)
	auth.Get("/sessions", requireAuth, authHandler.ListSessions)

	api := app.Group("/api", requireAuth)
	api.Get("/conversations/:peerID/messages", messageHandler.GetConversation)
	api.Delete("/messages/:messageID", messageHandler.DeleteMessage)
	api.Post("/messages/batch", batchHandler.SendBatch)

	// WebSocket endpoint (requires authentication)
	api.Get("/ws", wsHandler.Upgrade, websocket.New(wsHandler.Handle))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "chat-server",
		})
	})

	slog.Info("Server starting", "port", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		slog.Error("Server failed to start", "error", err)
		os.Exit(1)
	}
}
