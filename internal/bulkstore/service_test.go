package bulkstore

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

type landed struct {
	storeID      int64
	medicationID int64
	line         IssueLine
}

type memoryRepo struct {
	nextID  int64
	batches []Batch
	landed  []landed
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) ListBatches(ctx context.Context, medicationID int64) ([]Batch, error) {
	var out []Batch
	for _, b := range r.batches {
		if b.MedicationID == medicationID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetBatchForUpdate(ctx context.Context, medicationID int64, batchNumber string, expiry time.Time) (Batch, error) {
	for _, b := range r.batches {
		if b.MedicationID == medicationID && b.BatchNumber == batchNumber && b.ExpiryDate.Equal(expiry) {
			return b, nil
		}
	}
	return Batch{}, shared.ErrNotFound
}

func (r *memoryRepo) InsertBatch(ctx context.Context, b Batch) (Batch, error) {
	r.nextID++
	b.ID = r.nextID
	b.CreatedAt = time.Now()
	r.batches = append(r.batches, b)
	return b, nil
}

func (r *memoryRepo) AddBatchQuantity(ctx context.Context, batchID, delta int64) (Batch, error) {
	for i := range r.batches {
		if r.batches[i].ID == batchID {
			r.batches[i].Quantity += delta
			return r.batches[i], nil
		}
	}
	return Batch{}, shared.ErrNotFound
}

func (r *memoryRepo) ListBatchesForUpdate(ctx context.Context, medicationID int64) ([]Batch, error) {
	return r.ListBatches(ctx, medicationID)
}

func (r *memoryRepo) LandActiveBatch(ctx context.Context, storeID, medicationID int64, line IssueLine) error {
	r.landed = append(r.landed, landed{storeID: storeID, medicationID: medicationID, line: line})
	return nil
}

func newTestService(repo *memoryRepo) *Service {
	svc := NewService(repo, nil, nil)
	svc.now = func() time.Time { return day(0) }
	return svc
}

func TestReceiveAppliesDefaultMarkup(t *testing.T) {
	repo := &memoryRepo{}
	svc := newTestService(repo)

	batch, err := svc.Receive(context.Background(), ReceiveInput{
		MedicationID: 1,
		BatchNumber:  "AMX-001",
		ExpiryDate:   day(180),
		Quantity:     100,
		UnitCost:     decimal.RequireFromString("50.00"),
		ActorID:      7,
	})
	require.NoError(t, err)
	require.Equal(t, int64(100), batch.Quantity)
	require.Equal(t, "60", batch.MarkedUpCost.String())
	require.True(t, batch.MarkupPct.Equal(decimal.NewFromInt(20)))
}

func TestReceiveExplicitMarkup(t *testing.T) {
	repo := &memoryRepo{}
	svc := newTestService(repo)
	markup := decimal.NewFromInt(10)

	batch, err := svc.Receive(context.Background(), ReceiveInput{
		MedicationID: 1,
		BatchNumber:  "AMX-002",
		ExpiryDate:   day(180),
		Quantity:     40,
		UnitCost:     decimal.RequireFromString("50.00"),
		MarkupPct:    &markup,
		ActorID:      7,
	})
	require.NoError(t, err)
	require.Equal(t, "55", batch.MarkedUpCost.String())
}

func TestReceiveMergesExactBatchMatch(t *testing.T) {
	repo := &memoryRepo{}
	svc := newTestService(repo)

	in := ReceiveInput{
		MedicationID: 1,
		BatchNumber:  "AMX-001",
		ExpiryDate:   day(180),
		Quantity:     100,
		UnitCost:     decimal.RequireFromString("50.00"),
		ActorID:      7,
	}
	first, err := svc.Receive(context.Background(), in)
	require.NoError(t, err)

	in.Quantity = 25
	merged, err := svc.Receive(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, first.ID, merged.ID)
	require.Equal(t, int64(125), merged.Quantity)
	require.Len(t, repo.batches, 1)

	// Different expiry opens a new batch even with the same number.
	in.ExpiryDate = day(360)
	in.Quantity = 10
	fresh, err := svc.Receive(context.Background(), in)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, fresh.ID)
	require.Len(t, repo.batches, 2)
}

func TestIssueCarriesMarkedUpCostForward(t *testing.T) {
	repo := &memoryRepo{}
	svc := newTestService(repo)

	_, err := svc.Receive(context.Background(), ReceiveInput{
		MedicationID: 1,
		BatchNumber:  "AMX-001",
		ExpiryDate:   day(180),
		Quantity:     100,
		UnitCost:     decimal.RequireFromString("50.00"),
		ActorID:      7,
	})
	require.NoError(t, err)

	lines, err := svc.IssueToActiveStore(context.Background(), IssueInput{
		ActiveStoreID: 3,
		MedicationID:  1,
		Quantity:      30,
		ActorID:       7,
	})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, int64(30), lines[0].Quantity)
	require.Equal(t, "60", lines[0].MarkedUpCost.String())

	require.Equal(t, int64(70), repo.batches[0].Quantity)
	require.Len(t, repo.landed, 1)
	require.Equal(t, int64(3), repo.landed[0].storeID)
	require.Equal(t, "60", repo.landed[0].line.MarkedUpCost.String())
}

func TestIssueDrainsEarliestExpiryFirst(t *testing.T) {
	repo := &memoryRepo{}
	svc := newTestService(repo)

	for _, b := range []struct {
		number string
		expiry time.Time
		qty    int64
	}{
		{"LATE", day(365), 50},
		{"SOON", day(30), 10},
	} {
		_, err := svc.Receive(context.Background(), ReceiveInput{
			MedicationID: 1,
			BatchNumber:  b.number,
			ExpiryDate:   b.expiry,
			Quantity:     b.qty,
			UnitCost:     decimal.RequireFromString("50.00"),
			ActorID:      7,
		})
		require.NoError(t, err)
	}

	lines, err := svc.IssueToActiveStore(context.Background(), IssueInput{
		ActiveStoreID: 3,
		MedicationID:  1,
		Quantity:      15,
		ActorID:       7,
	})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, "SOON", lines[0].BatchNumber)
	require.Equal(t, int64(10), lines[0].Quantity)
	require.Equal(t, "LATE", lines[1].BatchNumber)
	require.Equal(t, int64(5), lines[1].Quantity)
}

func TestIssueIsAllOrNothing(t *testing.T) {
	repo := &memoryRepo{}
	svc := newTestService(repo)

	_, err := svc.Receive(context.Background(), ReceiveInput{
		MedicationID: 1,
		BatchNumber:  "AMX-001",
		ExpiryDate:   day(180),
		Quantity:     20,
		UnitCost:     decimal.RequireFromString("50.00"),
		ActorID:      7,
	})
	require.NoError(t, err)

	_, err = svc.IssueToActiveStore(context.Background(), IssueInput{
		ActiveStoreID: 3,
		MedicationID:  1,
		Quantity:      21,
		ActorID:       7,
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, int64(20), repo.batches[0].Quantity)
	require.Empty(t, repo.landed)
}

func TestIssueSkipsExpiredBatches(t *testing.T) {
	repo := &memoryRepo{}
	svc := newTestService(repo)

	for _, b := range []struct {
		number string
		expiry time.Time
	}{
		{"EXPIRED", day(0)},
		{"GOOD", day(90)},
	} {
		_, err := svc.Receive(context.Background(), ReceiveInput{
			MedicationID: 1,
			BatchNumber:  b.number,
			ExpiryDate:   b.expiry,
			Quantity:     10,
			UnitCost:     decimal.RequireFromString("50.00"),
			ActorID:      7,
		})
		require.NoError(t, err)
	}

	_, err := svc.IssueToActiveStore(context.Background(), IssueInput{
		ActiveStoreID: 3,
		MedicationID:  1,
		Quantity:      15,
		ActorID:       7,
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	lines, err := svc.IssueToActiveStore(context.Background(), IssueInput{
		ActiveStoreID: 3,
		MedicationID:  1,
		Quantity:      10,
		ActorID:       7,
	})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, "GOOD", lines[0].BatchNumber)
}
