package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/batch-orchestrator/internal/client"
	"github.com/kursadbilgin/batch-orchestrator/internal/config"
	"github.com/kursadbilgin/batch-orchestrator/internal/events"
	"github.com/kursadbilgin/batch-orchestrator/internal/executor"
	"github.com/kursadbilgin/batch-orchestrator/internal/handler"
	"github.com/kursadbilgin/batch-orchestrator/internal/infra/postgresql"
	"github.com/kursadbilgin/batch-orchestrator/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/batch-orchestrator/internal/infra/redis"
	"github.com/kursadbilgin/batch-orchestrator/internal/observability"
	"github.com/kursadbilgin/batch-orchestrator/internal/ratelimit"
	"github.com/kursadbilgin/batch-orchestrator/internal/repository"
	"github.com/kursadbilgin/batch-orchestrator/internal/service"
	"github.com/kursadbilgin/batch-orchestrator/internal/transport"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	triggerPrefetch    = 10
	httpShutdownWindow = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	var (
		store       repository.BatchStore = repository.NewMemoryBatchStore()
		preferences repository.PreferenceRepository
		stats       repository.JobStatsRepository = repository.NewMemoryJobStatsRepo()
		limiter     ratelimit.RateLimiter         = ratelimit.NewLocalRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitPerSec)
		publisher   events.Publisher              = events.NoopPublisher{}
		sqlDB       *sql.DB
		rdb         *goredis.Client
	)

	if cfg.DatabaseDSN != "" {
		db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.DefaultPoolConfig())
		if err != nil {
			logger.Fatal("postgres initialization failed", zap.Error(err))
		}
		if err := migrations.Migrate(db); err != nil {
			logger.Fatal("database migrations failed", zap.Error(err))
		}
		sqlDB, err = db.DB()
		if err != nil {
			logger.Fatal("postgres underlying db init failed", zap.Error(err))
		}
		defer sqlDB.Close()

		store = repository.NewGormBatchRepo(db)
		preferences = repository.NewGormPreferenceRepo(db)
	} else {
		logger.Warn("DATABASE_DSN not set, batches are kept in memory and preference scheduling is disabled")
	}

	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()

		redisStats, err := repository.NewRedisJobStatsRepo(rdb)
		if err != nil {
			logger.Fatal("job stats repository init failed", zap.Error(err))
		}
		stats = redisStats

		redisLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
		if err != nil {
			logger.Fatal("rate limiter init failed", zap.Error(err))
		}
		limiter = redisLimiter
	}

	var rabbit *events.RabbitMQ
	if cfg.RabbitMQURL != "" {
		rabbit, err = events.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		publisher = events.NewRabbitMQPublisher(rabbit)
		defer publisher.Close() //nolint:errcheck
	}

	directory, err := client.NewDirectoryClient(cfg.DirectoryURL)
	if err != nil {
		logger.Fatal("directory client init failed", zap.Error(err))
	}
	itemExecutor, err := executor.NewWebhookExecutor(cfg.ExecutionURL)
	if err != nil {
		logger.Fatal("item executor init failed", zap.Error(err))
	}

	engine, err := service.NewExecutionEngine(itemExecutor, limiter, service.EngineConfig{
		MaxConcurrentItems: cfg.MaxConcurrentItems,
		ItemTimeout:        cfg.ItemTimeout,
		MaxRetries:         cfg.ItemMaxRetries,
	}, logger)
	if err != nil {
		logger.Fatal("execution engine init failed", zap.Error(err))
	}
	engine.SetMetrics(metrics)

	catalog := config.NewJobCatalog(cfg.JobsConfigPath, logger)
	if _, err := catalog.Reload(); err != nil {
		logger.Error("failed to load job catalog, starting without static jobs", zap.Error(err))
	}

	processor, err := service.NewBatchProcessor(
		catalog,
		store,
		stats,
		directory,
		service.NewItemValidator(directory, cfg.MaxConcurrentItems, logger),
		engine,
		publisher,
		logger,
	)
	if err != nil {
		logger.Fatal("batch processor init failed", zap.Error(err))
	}
	processor.SetMetrics(metrics)

	scheduler, err := service.NewBatchScheduler(catalog, processor, preferences, stats, service.SchedulerConfig{
		PollInterval:     cfg.PreferencePollInterval,
		Timezone:         cfg.SchedulerTimezone,
		StrictBatchTypes: cfg.StrictBatchTypes,
	}, logger)
	if err != nil {
		logger.Fatal("scheduler init failed", zap.Error(err))
	}
	scheduler.SetMetrics(metrics)

	if err := scheduler.Start(ctx); err != nil {
		logger.Error("scheduler did not start, serving on-demand batches only", zap.Error(err))
	}

	if rabbit != nil && cfg.ConsumeTriggers {
		consumer := events.NewRabbitMQConsumer(rabbit, triggerPrefetch, logger)
		go func() {
			if err := consumer.Consume(ctx, events.TriggerQueue, processor.HandleTrigger); err != nil {
				logger.Error("trigger consumer stopped", zap.Error(err))
			}
		}()
	}

	app := fiber.New(fiber.Config{
		AppName:               "batch-orchestrator",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterBatchRoutes(app, processor); err != nil {
		logger.Fatal("batch routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterJobRoutes(app, scheduler, processor); err != nil {
		logger.Fatal("job routes registration failed", zap.Error(err))
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()
	logger.Info("batch-orchestrator api started", zap.Int("port", cfg.APIPort))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server stopped", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()

	if err := scheduler.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("scheduler stop failed", zap.Error(err))
	}
	if err := processor.Shutdown(shutdownCtx); err != nil {
		logger.Warn("running batches were stopped before completion", zap.Error(err))
	}
	if err := app.ShutdownWithTimeout(httpShutdownWindow); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("batch-orchestrator api stopped")
}
