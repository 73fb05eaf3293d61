package activestore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pharmacore/pharmacore/internal/shared"
)

func day(offset int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func TestAllocatePicksEarliestExpiryFirst(t *testing.T) {
	batches := []Batch{
		{ID: 1, BatchNumber: "B1", ExpiryDate: day(90), Quantity: 50, UnitCost: decimal.RequireFromString("60.00")},
		{ID: 2, BatchNumber: "B2", ExpiryDate: day(30), Quantity: 10, UnitCost: decimal.RequireFromString("55.00")},
	}

	picks, err := Allocate(batches, 15, day(0))
	require.NoError(t, err)
	require.Len(t, picks, 2)
	require.Equal(t, "B2", picks[0].BatchNumber)
	require.Equal(t, int64(10), picks[0].Quantity)
	require.Equal(t, "B1", picks[1].BatchNumber)
	require.Equal(t, int64(5), picks[1].Quantity)
}

func TestAllocateTieBreaksByInsertionOrder(t *testing.T) {
	batches := []Batch{
		{ID: 2, BatchNumber: "B2", ExpiryDate: day(30), Quantity: 10},
		{ID: 1, BatchNumber: "B1", ExpiryDate: day(30), Quantity: 10},
	}

	picks, err := Allocate(batches, 10, day(0))
	require.NoError(t, err)
	require.Equal(t, "B1", picks[0].BatchNumber)
}

func TestAllocateSkipsExpiredBatches(t *testing.T) {
	batches := []Batch{
		{ID: 1, BatchNumber: "OLD", ExpiryDate: day(0), Quantity: 100},
		{ID: 2, BatchNumber: "NEW", ExpiryDate: day(60), Quantity: 5},
	}

	require.Equal(t, int64(5), Available(batches, day(0)))

	_, err := Allocate(batches, 10, day(0))
	require.ErrorIs(t, err, shared.ErrInsufficientActiveStock)

	picks, err := Allocate(batches, 5, day(0))
	require.NoError(t, err)
	require.Len(t, picks, 1)
	require.Equal(t, "NEW", picks[0].BatchNumber)
}

func TestAllocateIsAllOrNothing(t *testing.T) {
	batches := []Batch{{ID: 1, BatchNumber: "B1", ExpiryDate: day(30), Quantity: 3}}

	picks, err := Allocate(batches, 4, day(0))
	require.ErrorIs(t, err, shared.ErrInsufficientActiveStock)
	require.Nil(t, picks)
}

type memoryRepo struct {
	batches map[[2]int64][]Batch
}

func (r *memoryRepo) ListBatches(ctx context.Context, storeID, medicationID int64) ([]Batch, error) {
	return r.batches[[2]int64{storeID, medicationID}], nil
}

func (r *memoryRepo) GetInventory(ctx context.Context, storeID, medicationID int64) (Inventory, error) {
	return Inventory{}, shared.ErrNotFound
}

func (r *memoryRepo) ListInventory(ctx context.Context, storeID int64) ([]Inventory, error) {
	return nil, nil
}

func TestServiceAvailableExcludesExpired(t *testing.T) {
	repo := &memoryRepo{batches: map[[2]int64][]Batch{
		{1, 1}: {
			{ID: 1, ExpiryDate: day(-1), Quantity: 40},
			{ID: 2, ExpiryDate: day(45), Quantity: 25},
		},
	}}
	svc := NewService(repo)
	svc.now = func() time.Time { return day(0) }

	qty, err := svc.Available(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Equal(t, int64(25), qty)
}

func TestServiceReserveForTransfer(t *testing.T) {
	repo := &memoryRepo{batches: map[[2]int64][]Batch{
		{1, 1}: {
			{ID: 1, BatchNumber: "B1", ExpiryDate: day(10), Quantity: 20, UnitCost: decimal.RequireFromString("60.00")},
		},
	}}
	svc := NewService(repo)
	svc.now = func() time.Time { return day(0) }

	picks, err := svc.ReserveForTransfer(context.Background(), 1, 1, 20)
	require.NoError(t, err)
	require.Len(t, picks, 1)
	require.Equal(t, int64(20), picks[0].Quantity)

	// Proposal must not decrement; a second reservation still succeeds.
	again, err := svc.ReserveForTransfer(context.Background(), 1, 1, 20)
	require.NoError(t, err)
	require.Len(t, again, 1)
}
