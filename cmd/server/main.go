package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/supoclip/api/internal/bus"
	"github.com/supoclip/api/internal/client"
	"github.com/supoclip/api/internal/config"
	"github.com/supoclip/api/internal/handler"
	"github.com/supoclip/api/internal/logger"
	"github.com/supoclip/api/internal/middleware"
	"github.com/supoclip/api/internal/queue"
	"github.com/supoclip/api/internal/repository"
	"github.com/supoclip/api/internal/service"
	"github.com/supoclip/api/internal/storage/postgres"
	"github.com/supoclip/api/internal/worker"
	ws "github.com/supoclip/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Init(false)
		logger.L.Fatal().Err(err).Msg("failed to load config")
	}

	logger.Init(cfg.Server.Env == "production")
	logger.SetLevel(cfg.Server.LogLevel)

	ctx := context.Background()

	// Initialize Redis client (progress bus + rate limiting; asynq
	// opens its own connections)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.L.Warn().Err(err).Msg("redis not available")
	}

	// Initialize Postgres pool and apply migrations
	pool, err := postgres.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.L.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		logger.L.Fatal().Err(err).Msg("failed to apply migrations")
	}

	// Initialize Asynq client
	asynqOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(asynqOpt)
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Core wiring: store, queue, bus, orchestrator, gateway
	taskRepo := repository.NewTaskRepo(pool)
	queueClient := queue.NewClient(asynqClient, cfg.Worker.MaxRetry, cfg.Worker.Timeout)
	progressBus := bus.NewRedisBus(redisClient)
	taskService := service.NewTaskService(taskRepo, queueClient, progressBus)
	gateway := ws.NewGateway(taskService, progressBus, cfg.Stream.IdleTimeout, cfg.Stream.PingInterval)

	// Pipeline stage clients
	downloader := client.NewMediaDownloader(&cfg.Downloader)
	transcriber := client.NewAssemblyAIClient(&cfg.Transcriber)
	analyzer := client.NewGroqAnalyzer(&cfg.Analyzer)
	renderer := client.NewVideoServiceClient(&cfg.Renderer)

	// Initialize handlers
	taskHandler := handler.NewTaskHandler(taskService, validate)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		pgErr := pool.Ping(c.Context())
		redisErr := redisClient.Ping(c.Context()).Err()
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"postgres":    pgErr == nil,
				"redis":       redisErr == nil,
				"transcriber": transcriber.IsConfigured(),
				"analyzer":    analyzer.IsConfigured(),
			},
		})
	})

	// Prometheus metrics
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API routes
	api := app.Group("/api")
	api.Post("/tasks", rateLimiter.TaskCreateLimit(cfg.RateLimit.TasksPerHour), taskHandler.Create)
	api.Get("/tasks/:taskId", taskHandler.Get)
	api.Get("/tasks/:taskId/clips", taskHandler.Clips)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/tasks/:taskId", websocket.New(func(c *websocket.Conn) {
		taskID := c.Params("taskId")
		gateway.HandleConnection(c, taskID)
	}))

	// Optionally run the worker pool inside this process
	var workerSrv *asynq.Server
	if cfg.Worker.Embedded {
		workerSrv = newWorkerServer(cfg, asynqOpt)
		videoWorker := worker.NewVideoWorker(taskService, downloader, transcriber, analyzer, renderer)
		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypeVideoProcess, videoWorker.ProcessTask)
		go func() {
			if err := workerSrv.Run(mux); err != nil {
				logger.L.Error().Err(err).Msg("asynq worker error")
			}
		}()
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.L.Info().Msg("shutting down server")
		if workerSrv != nil {
			workerSrv.Shutdown()
		}
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.L.Error().Err(err).Msg("server shutdown error")
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	logger.L.Info().Str("addr", addr).Bool("embedded_worker", cfg.Worker.Embedded).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		logger.L.Fatal().Err(err).Msg("server error")
	}
}

// newWorkerServer builds the asynq server that executes pipeline jobs
func newWorkerServer(cfg *config.Config, opt asynq.RedisClientOpt) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues: map[string]int{
			queue.QueueVideo: 10,
		},
		LogLevel: asynqLogLevel(cfg.Server.LogLevel),
	})
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return asynq.DebugLevel
	case "warn":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
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
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
