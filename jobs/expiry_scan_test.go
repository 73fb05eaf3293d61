package jobs

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/pharmacore/pharmacore/internal/activestore"
	"github.com/pharmacore/pharmacore/internal/bulkstore"
	"github.com/pharmacore/pharmacore/internal/dispensary"
	jobmetrics "github.com/pharmacore/pharmacore/internal/jobs"
	"github.com/pharmacore/pharmacore/internal/shared"
)

type stubBulkExpiries struct {
	cutoff  time.Time
	batches []bulkstore.Batch
}

func (s *stubBulkExpiries) ExpiringBatches(ctx context.Context, cutoff time.Time) ([]bulkstore.Batch, error) {
	s.cutoff = cutoff
	return s.batches, nil
}

type stubActiveExpiries struct {
	batches []activestore.Batch
}

func (s *stubActiveExpiries) ExpiringBatches(ctx context.Context, cutoff time.Time) ([]activestore.Batch, error) {
	return s.batches, nil
}

func TestExpiryScanUsesPayloadHorizon(t *testing.T) {
	bulk := &stubBulkExpiries{batches: []bulkstore.Batch{
		{MedicationID: 1, BatchNumber: "LOT-1", ExpiryDate: time.Now().AddDate(0, 0, 10), Quantity: 40},
	}}
	active := &stubActiveExpiries{}
	audit := &stubAudit{}
	job := NewExpiryScanJob(bulk, active, audit, slog.New(slog.DiscardHandler), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	now := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return now }

	task, err := NewExpiryScanTask(30)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, now.AddDate(0, 0, 30), bulk.cutoff)
	require.Len(t, audit.logs, 1)
	require.Equal(t, "jobs:expiry_scan", audit.logs[0].Action)
}

func TestExpiryScanSkipsRetryOnBadPayload(t *testing.T) {
	job := NewExpiryScanJob(&stubBulkExpiries{}, &stubActiveExpiries{}, nil, slog.New(slog.DiscardHandler), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	err := job.Handle(context.Background(), asynq.NewTask(TaskExpiryScan, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type stubAudit struct {
	logs []shared.AuditLog
}

func (s *stubAudit) Record(ctx context.Context, log shared.AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

type stubActiveLevels struct {
	lines []activestore.Inventory
}

func (s *stubActiveLevels) LowStock(ctx context.Context) ([]activestore.Inventory, error) {
	return s.lines, nil
}

type stubShelfLevels struct {
	lines []dispensary.Inventory
}

func (s *stubShelfLevels) LowStock(ctx context.Context) ([]dispensary.Inventory, error) {
	return s.lines, nil
}

func TestLowStockScanCoversBothTiers(t *testing.T) {
	active := &stubActiveLevels{lines: []activestore.Inventory{
		{StoreID: 1, MedicationID: 7, StockQty: 3, ReorderLevel: 20},
	}}
	shelves := &stubShelfLevels{lines: []dispensary.Inventory{
		{DispensaryID: 2, MedicationID: 7, StockQty: 1, ReorderLevel: 10},
		{DispensaryID: 2, MedicationID: 9, StockQty: 0, ReorderLevel: 5},
	}}
	job := NewLowStockScanJob(active, shelves, slog.New(slog.DiscardHandler), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewLowStockScanTask(time.Now())
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
}
