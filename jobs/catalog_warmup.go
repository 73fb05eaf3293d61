package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pharmacore/pharmacore/internal/catalog"
	jobmetrics "github.com/pharmacore/pharmacore/internal/jobs"
	"github.com/pharmacore/pharmacore/internal/shared"
)

const (
	// TaskCatalogWarmup pre-populates the catalog read cache.
	TaskCatalogWarmup = "catalog:warmup"
)

// CatalogWarmupPayload caps how many medications get warmed per run.
type CatalogWarmupPayload struct {
	PageSize int `json:"page_size"`
}

// NewCatalogWarmupTask constructs an Asynq task for the catalog warmup.
func NewCatalogWarmupTask(pageSize int) (*asynq.Task, error) {
	body, err := json.Marshal(CatalogWarmupPayload{PageSize: pageSize})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCatalogWarmup, body, asynq.Queue(QueueDefault)), nil
}

// CatalogWarmupJob reads dispensaries and the most common medications
// through the catalog service, which leaves the Redis cache warm for the
// morning rush after a version bump or restart.
type CatalogWarmupJob struct {
	Catalog *catalog.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCatalogWarmupJob wires dependencies for the warmup handler.
func NewCatalogWarmupJob(catalogSvc *catalog.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *CatalogWarmupJob {
	return &CatalogWarmupJob{Catalog: catalogSvc, Logger: logger, Metrics: metrics}
}

// Handle processes catalog warmup tasks.
func (j *CatalogWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Catalog == nil {
		return errors.New("catalog warmup: handler not configured")
	}
	var payload CatalogWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.PageSize <= 0 {
		payload.PageSize = 200
	}

	tracker := j.metrics().Track(TaskCatalogWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	logger.Info("starting catalog warmup")
	start := time.Now()

	dispensaries, err := j.Catalog.Dispensaries(ctx, true)
	if err != nil {
		resultErr = err
		logger.Error("list dispensaries", slog.Any("error", err))
		return resultErr
	}
	for _, d := range dispensaries {
		if _, err := j.Catalog.Dispensary(ctx, d.ID); err != nil {
			resultErr = err
			logger.Error("warm dispensary", slog.Int64("dispensary_id", d.ID), slog.Any("error", err))
			return resultErr
		}
	}

	meds, _, err := j.Catalog.Search(ctx, catalog.ListFilter{Page: 1, PerPage: payload.PageSize})
	if err != nil {
		resultErr = err
		logger.Error("list medications", slog.Any("error", err))
		return resultErr
	}
	warmed := 0
	for _, med := range meds {
		if _, err := j.Catalog.Medication(ctx, med.ID); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			resultErr = err
			logger.Error("warm medication", slog.Int64("medication_id", med.ID), slog.Any("error", err))
			return resultErr
		}
		warmed++
	}

	logger.Info("completed catalog warmup",
		slog.Int("dispensaries", len(dispensaries)),
		slog.Int("medications", warmed),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *CatalogWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCatalogWarmup))
	}
	return slog.Default().With(slog.String("job", TaskCatalogWarmup))
}

func (j *CatalogWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
