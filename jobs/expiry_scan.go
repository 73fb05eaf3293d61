package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pharmacore/pharmacore/internal/activestore"
	"github.com/pharmacore/pharmacore/internal/bulkstore"
	jobmetrics "github.com/pharmacore/pharmacore/internal/jobs"
	"github.com/pharmacore/pharmacore/internal/shared"
)

const (
	// TaskExpiryScan flags batches approaching expiry in both stock tiers.
	TaskExpiryScan = "pharmacy:expiry_scan"
)

// ExpiryScanPayload carries the scan horizon.
type ExpiryScanPayload struct {
	HorizonDays int `json:"horizon_days"`
}

// NewExpiryScanTask constructs an Asynq task for the expiry scan.
func NewExpiryScanTask(horizonDays int) (*asynq.Task, error) {
	body, err := json.Marshal(ExpiryScanPayload{HorizonDays: horizonDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpiryScan, body, asynq.Queue(QueueDefault)), nil
}

// BulkExpiries is the bulk store slice the scan reads.
type BulkExpiries interface {
	ExpiringBatches(ctx context.Context, cutoff time.Time) ([]bulkstore.Batch, error)
}

// ActiveExpiries is the active store slice the scan reads.
type ActiveExpiries interface {
	ExpiringBatches(ctx context.Context, cutoff time.Time) ([]activestore.Batch, error)
}

// AuditPort records scan outcomes in the audit trail.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ExpiryScanJob walks bulk and active store batches and flags lots whose
// expiry falls inside the horizon, so pharmacists can push them out first
// or arrange a return to the supplier.
type ExpiryScanJob struct {
	Bulk    BulkExpiries
	Active  ActiveExpiries
	Audit   AuditPort
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewExpiryScanJob wires dependencies for the expiry scan handler. audit
// may be nil.
func NewExpiryScanJob(bulk BulkExpiries, active ActiveExpiries, audit AuditPort, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpiryScanJob {
	return &ExpiryScanJob{
		Bulk:    bulk,
		Active:  active,
		Audit:   audit,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the expiry scan.
func (j *ExpiryScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("expiry scan: handler not configured")
	}
	var payload ExpiryScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.HorizonDays <= 0 {
		payload.HorizonDays = 90
	}

	tracker := j.metrics().Track(TaskExpiryScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	now := j.now()
	cutoff := now.AddDate(0, 0, payload.HorizonDays)
	logger := j.logger().With(slog.Int("horizon_days", payload.HorizonDays))
	logger.Info("starting expiry scan")

	bulkCount, err := j.scanBulk(ctx, logger, cutoff)
	if err != nil {
		resultErr = err
		logger.Error("scan bulk store", slog.Any("error", err))
		return resultErr
	}
	activeCount, err := j.scanActive(ctx, logger, cutoff)
	if err != nil {
		resultErr = err
		logger.Error("scan active stores", slog.Any("error", err))
		return resultErr
	}

	if j.Audit != nil && bulkCount+activeCount > 0 {
		_ = j.Audit.Record(ctx, shared.AuditLog{
			Action: "jobs:expiry_scan",
			Entity: "stock",
			Meta: map[string]any{
				"horizon_days": payload.HorizonDays,
				"bulk_lots":    bulkCount,
				"active_lots":  activeCount,
			},
		})
	}

	logger.Info("completed expiry scan",
		slog.Int("bulk_lots", bulkCount),
		slog.Int("active_lots", activeCount),
		slog.Duration("duration", time.Since(now)),
	)
	return resultErr
}

func (j *ExpiryScanJob) scanBulk(ctx context.Context, logger *slog.Logger, cutoff time.Time) (int, error) {
	if j.Bulk == nil {
		return 0, nil
	}
	batches, err := j.Bulk.ExpiringBatches(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, b := range batches {
		logger.Warn("batch approaching expiry",
			slog.String("tier", "bulk_store"),
			slog.Int64("medication_id", b.MedicationID),
			slog.String("batch_number", b.BatchNumber),
			slog.Time("expiry_date", b.ExpiryDate),
			slog.Int64("quantity", b.Quantity),
		)
	}
	j.metrics().AddExpiring("bulk_store", len(batches))
	return len(batches), nil
}

func (j *ExpiryScanJob) scanActive(ctx context.Context, logger *slog.Logger, cutoff time.Time) (int, error) {
	if j.Active == nil {
		return 0, nil
	}
	batches, err := j.Active.ExpiringBatches(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, b := range batches {
		logger.Warn("batch approaching expiry",
			slog.String("tier", "active_store"),
			slog.Int64("store_id", b.StoreID),
			slog.Int64("medication_id", b.MedicationID),
			slog.String("batch_number", b.BatchNumber),
			slog.Time("expiry_date", b.ExpiryDate),
			slog.Int64("quantity", b.Quantity),
		)
	}
	j.metrics().AddExpiring("active_store", len(batches))
	return len(batches), nil
}

func (j *ExpiryScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskExpiryScan))
	}
	return slog.Default().With(slog.String("job", TaskExpiryScan))
}

func (j *ExpiryScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ExpiryScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
