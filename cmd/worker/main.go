package main

import (
	"context"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/supoclip/api/internal/bus"
	"github.com/supoclip/api/internal/client"
	"github.com/supoclip/api/internal/config"
	"github.com/supoclip/api/internal/logger"
	"github.com/supoclip/api/internal/queue"
	"github.com/supoclip/api/internal/repository"
	"github.com/supoclip/api/internal/service"
	"github.com/supoclip/api/internal/storage/postgres"
	"github.com/supoclip/api/internal/worker"

	"github.com/redis/go-redis/v9"
)

// Standalone worker process. Runs the same pipeline handler as the
// embedded mode of cmd/server, for deployments that scale the queue
// consumers separately from the API.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init(false)
		logger.L.Fatal().Err(err).Msg("failed to load config")
	}

	logger.Init(cfg.Server.Env == "production")
	logger.SetLevel(cfg.Server.LogLevel)

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.L.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		logger.L.Fatal().Err(err).Msg("failed to apply migrations")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.L.Fatal().Err(err).Msg("redis not available")
	}

	asynqOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(asynqOpt)
	defer asynqClient.Close()

	taskRepo := repository.NewTaskRepo(pool)
	queueClient := queue.NewClient(asynqClient, cfg.Worker.MaxRetry, cfg.Worker.Timeout)
	progressBus := bus.NewRedisBus(redisClient)
	taskService := service.NewTaskService(taskRepo, queueClient, progressBus)

	downloader := client.NewMediaDownloader(&cfg.Downloader)
	transcriber := client.NewAssemblyAIClient(&cfg.Transcriber)
	analyzer := client.NewGroqAnalyzer(&cfg.Analyzer)
	renderer := client.NewVideoServiceClient(&cfg.Renderer)

	videoWorker := worker.NewVideoWorker(taskService, downloader, transcriber, analyzer, renderer)

	srv := asynq.NewServer(asynqOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues: map[string]int{
			queue.QueueVideo: 10,
		},
		LogLevel: asynqLogLevel(cfg.Server.LogLevel),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskTypeVideoProcess, videoWorker.ProcessTask)

	logger.L.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("worker starting")
	if err := srv.Run(mux); err != nil {
		logger.L.Fatal().Err(err).Msg("worker error")
	}
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
