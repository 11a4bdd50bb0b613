package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/audioscribe/api/internal/client"
	"github.com/audioscribe/api/internal/config"
	"github.com/audioscribe/api/internal/handler"
	"github.com/audioscribe/api/internal/service"
	"github.com/audioscribe/api/internal/session"
	"github.com/audioscribe/api/internal/worker"
	ws "github.com/audioscribe/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Pipeline collaborators
	separator := client.NewSpleeterSeparator(&cfg.Pipeline)
	transcriber := client.NewBasicPitchTranscriber(&cfg.Pipeline)
	engraver := client.NewMuseScoreEngraver(&cfg.Pipeline)

	// Initialize R2 client (optional - continues if not configured)
	var storage client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		} else {
			storage = r2Client
		}
	} else {
		log.Println("Info: R2 storage not configured, artifact mirroring disabled")
	}

	// Session store and worker dispatch: redis-backed with an asynq queue
	// when configured, otherwise fully in-process.
	var store session.Store
	var dispatcher service.Dispatcher
	var convertWorker *worker.ConvertWorker

	redisAvailable := false
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Printf("Warning: Redis not available, falling back to in-memory sessions: %v", err)
		} else {
			redisAvailable = true
		}
	}

	if redisAvailable {
		store = session.NewRedisStore(redisClient)
		reporter := worker.NewReporter(store, hub)
		convertWorker = worker.NewConvertWorker(reporter, separator, transcriber, engraver, storage)

		asynqClient := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer asynqClient.Close()
		dispatcher = worker.NewAsynqDispatcher(asynqClient)

		go startWorkerServer(cfg, convertWorker)
	} else {
		store = session.NewMemoryStore()
		reporter := worker.NewReporter(store, hub)
		convertWorker = worker.NewConvertWorker(reporter, separator, transcriber, engraver, storage)
		dispatcher = worker.NewGoDispatcher(convertWorker)
	}

	// Janitor for terminal sessions that were never retrieved
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	janitor := session.NewJanitor(store,
		time.Duration(cfg.Storage.RetentionMinutes)*time.Minute,
		time.Duration(cfg.Storage.SweepMinutes)*time.Minute,
	)
	go janitor.Run(janitorCtx)

	// Service and handler
	convertService := service.NewConvertService(store, dispatcher, cfg.Storage.ScratchDir)
	convertHandler := handler.NewConvertHandler(convertService, validate,
		time.Duration(cfg.Stream.PollIntervalMS)*time.Millisecond)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    50 * 1024 * 1024, // 50MB uploads
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"separator":   separator.IsConfigured(),
				"transcriber": transcriber.IsConfigured(),
				"engraver":    engraver.IsConfigured(),
				"redis":       redisAvailable,
				"r2":          storage != nil,
			},
		})
	})

	// Conversion routes
	app.Post("/convert", convertHandler.Convert)
	app.Get("/progress/:sessionId", convertHandler.Progress)
	app.Get("/download/:sessionId", convertHandler.Download)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/progress/:sessionId", websocket.New(func(c *websocket.Conn) {
		sessionID := c.Params("sessionId")
		hub.HandleConnection(c, sessionID)
	}))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		stopJanitor()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, convertWorker *worker.ConvertWorker) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"convert": 10,
			},
			LogLevel: asynqLogLevel,
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(worker.TaskTypeConvert, convertWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
	})
}
