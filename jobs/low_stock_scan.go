package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pharmacore/pharmacore/internal/activestore"
	"github.com/pharmacore/pharmacore/internal/dispensary"
	jobmetrics "github.com/pharmacore/pharmacore/internal/jobs"
)

const (
	// TaskLowStockScan flags inventory lines at or below their reorder level.
	TaskLowStockScan = "pharmacy:low_stock_scan"
)

// LowStockScanPayload carries scheduling metadata.
type LowStockScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewLowStockScanTask constructs an Asynq task for the low stock scan.
func NewLowStockScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LowStockScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, body, asynq.Queue(QueueDefault)), nil
}

// ActiveLevels is the active store slice the scan reads.
type ActiveLevels interface {
	LowStock(ctx context.Context) ([]activestore.Inventory, error)
}

// ShelfLevels is the dispensary shelf slice the scan reads.
type ShelfLevels interface {
	LowStock(ctx context.Context) ([]dispensary.Inventory, error)
}

// LowStockScanJob surfaces shelf and back-room lines that dipped to their
// reorder level, so transfers and bulk issues can be raised before the
// next dispense hits a shortage.
type LowStockScanJob struct {
	Active  ActiveLevels
	Shelves ShelfLevels
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLowStockScanJob wires dependencies for the low stock scan handler.
func NewLowStockScanJob(active ActiveLevels, shelves ShelfLevels, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Active: active, Shelves: shelves, Logger: logger, Metrics: metrics}
}

// Handle executes the low stock scan.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskLowStockScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	logger.Info("starting low stock scan")
	start := time.Now()

	activeCount := 0
	if j.Active != nil {
		lines, err := j.Active.LowStock(ctx)
		if err != nil {
			resultErr = err
			logger.Error("scan active stores", slog.Any("error", err))
			return resultErr
		}
		for _, line := range lines {
			logger.Warn("stock at reorder level",
				slog.String("tier", "active_store"),
				slog.Int64("store_id", line.StoreID),
				slog.Int64("medication_id", line.MedicationID),
				slog.Int64("stock_quantity", line.StockQty),
				slog.Int64("reorder_level", line.ReorderLevel),
			)
		}
		j.metrics().AddLowStock("active_store", len(lines))
		activeCount = len(lines)
	}

	shelfCount := 0
	if j.Shelves != nil {
		lines, err := j.Shelves.LowStock(ctx)
		if err != nil {
			resultErr = err
			logger.Error("scan dispensary shelves", slog.Any("error", err))
			return resultErr
		}
		for _, line := range lines {
			logger.Warn("stock at reorder level",
				slog.String("tier", "dispensary"),
				slog.Int64("dispensary_id", line.DispensaryID),
				slog.Int64("medication_id", line.MedicationID),
				slog.Int64("stock_quantity", line.StockQty),
				slog.Int64("reorder_level", line.ReorderLevel),
			)
		}
		j.metrics().AddLowStock("dispensary", len(lines))
		shelfCount = len(lines)
	}

	logger.Info("completed low stock scan",
		slog.Int("active_lines", activeCount),
		slog.Int("shelf_lines", shelfCount),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *LowStockScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLowStockScan))
	}
	return slog.Default().With(slog.String("job", TaskLowStockScan))
}

func (j *LowStockScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
