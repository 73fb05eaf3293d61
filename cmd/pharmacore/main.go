package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pharmacore/pharmacore/internal/activestore"
	"github.com/pharmacore/pharmacore/internal/app"
	"github.com/pharmacore/pharmacore/internal/bulkstore"
	"github.com/pharmacore/pharmacore/internal/cart"
	"github.com/pharmacore/pharmacore/internal/catalog"
	"github.com/pharmacore/pharmacore/internal/dispensary"
	"github.com/pharmacore/pharmacore/internal/dispense"
	"github.com/pharmacore/pharmacore/internal/integration"
	"github.com/pharmacore/pharmacore/internal/observability"
	"github.com/pharmacore/pharmacore/internal/platform/cache"
	"github.com/pharmacore/pharmacore/internal/platform/db"
	"github.com/pharmacore/pharmacore/internal/prescription"
	"github.com/pharmacore/pharmacore/internal/rbac"
	"github.com/pharmacore/pharmacore/internal/shared"
	"github.com/pharmacore/pharmacore/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	metrics := observability.NewMetrics()
	rbacMiddleware := rbac.Middleware{Logger: logger}

	catalogRepo := catalog.NewRepository(dbpool)
	catalogCache := catalog.NewCache(redisClient, cfg.CatalogCacheTTL)
	catalogService := catalog.NewService(catalogRepo, catalogCache, auditLogger)
	catalogHandler := catalog.NewHandler(logger, catalogService, rbacMiddleware)

	bulkRepo := bulkstore.NewRepository(dbpool)
	bulkService := bulkstore.NewService(bulkRepo, auditLogger, idempotencyStore)
	bulkHandler := bulkstore.NewHandler(logger, bulkService, rbacMiddleware)

	activeRepo := activestore.NewRepository(dbpool)
	activeService := activestore.NewService(activeRepo)
	activeHandler := activestore.NewHandler(logger, activeService)

	dispensaryRepo := dispensary.NewRepository(dbpool)
	dispensaryService := dispensary.NewService(dispensaryRepo, activeService, approvalRecorder, auditLogger, metrics, dispensary.ServiceConfig{
		RequireDistinctApprover: cfg.RequireDistinctApprover,
	})
	dispensaryHandler := dispensary.NewHandler(logger, dispensaryService, rbacMiddleware)

	var patients prescription.PatientPort
	if cfg.PatientRegistryURL != "" {
		patients = integration.NewPatientRegistry(cfg.PatientRegistryURL, cfg.IntegrationTimeout)
	}
	prescriptionRepo := prescription.NewRepository(dbpool)
	prescriptionService := prescription.NewService(prescriptionRepo, patients, auditLogger)
	prescriptionHandler := prescription.NewHandler(logger, prescriptionService, rbacMiddleware)

	billingEmitter := integration.NewBillingEmitter(dbpool, logger)
	var deskOffice cart.DeskOfficePort
	if cfg.DeskOfficeURL != "" {
		deskOffice = integration.NewDeskOffice(cfg.DeskOfficeURL, cfg.IntegrationTimeout)
	}
	cartRepo := cart.NewRepository(dbpool)
	cartService := cart.NewService(cartRepo, prescriptionService, dispensaryService, catalogService, billingEmitter, deskOffice, auditLogger)
	cartHandler := cart.NewHandler(logger, cartService, rbacMiddleware)

	clinicalNotifier := integration.NewClinicalNotifier(cfg.ClinicalURL, cfg.IntegrationTimeout, logger)
	dispenseRepo := dispense.NewRepository(dbpool)
	dispenseService := dispense.NewService(dispenseRepo, clinicalNotifier, auditLogger, metrics)
	dispenseHandler := dispense.NewHandler(logger, dispenseService, rbacMiddleware)

	billingWebhook := integration.NewBillingWebhook(logger, cartService, cfg.BillingWebhookTokenHash)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		RBAC:                rbacMiddleware,
		CatalogHandler:      catalogHandler,
		BulkStoreHandler:    bulkHandler,
		ActiveStoreHandler:  activeHandler,
		DispensaryHandler:   dispensaryHandler,
		PrescriptionHandler: prescriptionHandler,
		CartHandler:         cartHandler,
		DispenseHandler:     dispenseHandler,
		BillingWebhook:      billingWebhook,
		JobHandler:          jobHandler,
		Metrics:             metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
