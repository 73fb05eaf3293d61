package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pharmacore/pharmacore/internal/activestore"
	"github.com/pharmacore/pharmacore/internal/app"
	"github.com/pharmacore/pharmacore/internal/bulkstore"
	"github.com/pharmacore/pharmacore/internal/catalog"
	"github.com/pharmacore/pharmacore/internal/dispensary"
	"github.com/pharmacore/pharmacore/internal/platform/cache"
	"github.com/pharmacore/pharmacore/internal/platform/db"
	"github.com/pharmacore/pharmacore/internal/shared"
	"github.com/pharmacore/pharmacore/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	bulkRepo := bulkstore.NewRepository(pool)
	activeRepo := activestore.NewRepository(pool)
	dispensaryRepo := dispensary.NewRepository(pool)
	catalogRepo := catalog.NewRepository(pool)
	catalogCache := catalog.NewCache(redisClient, cfg.CatalogCacheTTL)
	catalogService := catalog.NewService(catalogRepo, catalogCache, nil)

	auditLogger := shared.NewAuditLogger(pool)
	expiryJob := jobs.NewExpiryScanJob(bulkRepo, activeRepo, auditLogger, logger, nil)
	lowStockJob := jobs.NewLowStockScanJob(activeRepo, dispensaryRepo, logger, nil)
	warmupJob := jobs.NewCatalogWarmupJob(catalogService, logger, nil)

	expiryTask, err := jobs.NewExpiryScanTask(cfg.ExpiryHorizonDays)
	if err != nil {
		logger.Error("build expiry scan task", slog.Any("error", err))
		os.Exit(1)
	}
	lowStockTask, err := jobs.NewLowStockScanTask(time.Now().UTC())
	if err != nil {
		logger.Error("build low stock scan task", slog.Any("error", err))
		os.Exit(1)
	}
	warmupTask, err := jobs.NewCatalogWarmupTask(0)
	if err != nil {
		logger.Error("build catalog warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskExpiryScan, Handler: expiryJob.Handle},
			{Type: jobs.TaskLowStockScan, Handler: lowStockJob.Handle},
			{Type: jobs.TaskCatalogWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "30 1 * * *", Task: expiryTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 */4 * * *", Task: lowStockTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "15 1 * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
