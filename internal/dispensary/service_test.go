package dispensary

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pharmacore/pharmacore/internal/activestore"
	"github.com/pharmacore/pharmacore/internal/shared"
)

func day(offset int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

type shelfKey struct {
	dispensaryID int64
	medicationID int64
}

type memoryRepo struct {
	nextID        int64
	transfers     map[int64]Transfer
	activeBatches []activestore.Batch
	activeAgg     map[shelfKey]int64
	shelf         map[shelfKey]Inventory
	storeByDisp   map[int64]int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		transfers:   map[int64]Transfer{},
		activeAgg:   map[shelfKey]int64{},
		shelf:       map[shelfKey]Inventory{},
		storeByDisp: map[int64]int64{1: 10},
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error {
	snapshotBatches := append([]activestore.Batch(nil), r.activeBatches...)
	snapshotTransfers := map[int64]Transfer{}
	for k, v := range r.transfers {
		snapshotTransfers[k] = v
	}
	snapshotAgg := map[shelfKey]int64{}
	for k, v := range r.activeAgg {
		snapshotAgg[k] = v
	}
	snapshotShelf := map[shelfKey]Inventory{}
	for k, v := range r.shelf {
		snapshotShelf[k] = v
	}
	if err := fn(ctx, r); err != nil {
		r.activeBatches = snapshotBatches
		r.transfers = snapshotTransfers
		r.activeAgg = snapshotAgg
		r.shelf = snapshotShelf
		return err
	}
	return nil
}

func (r *memoryRepo) CreateTransfer(ctx context.Context, t Transfer) (Transfer, error) {
	r.nextID++
	t.ID = r.nextID
	t.RequestedAt = time.Now()
	r.transfers[t.ID] = t
	return t, nil
}

func (r *memoryRepo) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	t, ok := r.transfers[id]
	if !ok {
		return Transfer{}, shared.ErrNotFound
	}
	return t, nil
}

func (r *memoryRepo) ListTransfers(ctx context.Context, filter TransferFilter) ([]Transfer, int, error) {
	var out []Transfer
	for _, t := range r.transfers {
		out = append(out, t)
	}
	return out, len(out), nil
}

func (r *memoryRepo) ActiveStoreForDispensary(ctx context.Context, dispensaryID int64) (int64, error) {
	id, ok := r.storeByDisp[dispensaryID]
	if !ok {
		return 0, shared.ErrNotFound
	}
	return id, nil
}

func (r *memoryRepo) GetInventory(ctx context.Context, dispensaryID, medicationID int64) (Inventory, error) {
	inv, ok := r.shelf[shelfKey{dispensaryID, medicationID}]
	if !ok {
		return Inventory{}, shared.ErrNotFound
	}
	return inv, nil
}

func (r *memoryRepo) ListInventory(ctx context.Context, dispensaryID int64) ([]Inventory, error) {
	var out []Inventory
	for k, inv := range r.shelf {
		if k.dispensaryID == dispensaryID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error) {
	return r.GetTransfer(ctx, id)
}

func (r *memoryRepo) UpdateTransfer(ctx context.Context, t Transfer) error {
	if _, ok := r.transfers[t.ID]; !ok {
		return shared.ErrNotFound
	}
	r.transfers[t.ID] = t
	return nil
}

func (r *memoryRepo) ListActiveBatchesForUpdate(ctx context.Context, storeID, medicationID int64) ([]activestore.Batch, error) {
	var out []activestore.Batch
	for _, b := range r.activeBatches {
		if b.StoreID == storeID && b.MedicationID == medicationID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memoryRepo) DeductActiveBatch(ctx context.Context, batchID, qty int64) error {
	for i := range r.activeBatches {
		if r.activeBatches[i].ID == batchID {
			if r.activeBatches[i].Quantity < qty {
				return shared.ErrInsufficientActiveStock
			}
			r.activeBatches[i].Quantity -= qty
			return nil
		}
	}
	return shared.ErrNotFound
}

func (r *memoryRepo) DeductActiveAggregate(ctx context.Context, storeID, medicationID, qty int64) error {
	key := shelfKey{storeID, medicationID}
	if r.activeAgg[key] < qty {
		return shared.ErrInsufficientActiveStock
	}
	r.activeAgg[key] -= qty
	return nil
}

func (r *memoryRepo) UpsertInventory(ctx context.Context, dispensaryID, medicationID, qty int64, batchNumber string, expiry time.Time, unitCost decimal.Decimal) error {
	key := shelfKey{dispensaryID, medicationID}
	inv := r.shelf[key]
	inv.DispensaryID = dispensaryID
	inv.MedicationID = medicationID
	inv.StockQty += qty
	inv.BatchNumber = batchNumber
	inv.ExpiryDate = &expiry
	inv.UnitCost = unitCost
	inv.UpdatedAt = time.Now()
	r.shelf[key] = inv
	return nil
}

type stubActive struct {
	repo *memoryRepo
	now  time.Time
}

func (s *stubActive) ReserveForTransfer(ctx context.Context, storeID, medicationID, quantity int64) ([]activestore.Allocation, error) {
	batches, _ := s.repo.ListActiveBatchesForUpdate(ctx, storeID, medicationID)
	return activestore.Allocate(batches, quantity, s.now)
}

func newTestService(repo *memoryRepo, cfg ServiceConfig) *Service {
	svc := NewService(repo, &stubActive{repo: repo, now: day(0)}, nil, nil, nil, cfg)
	svc.now = func() time.Time { return day(0) }
	return svc
}

func seedActive(repo *memoryRepo, qty int64) {
	repo.activeBatches = []activestore.Batch{
		{ID: 1, StoreID: 10, MedicationID: 1, BatchNumber: "AMX-001", ExpiryDate: day(180), Quantity: qty, UnitCost: decimal.RequireFromString("60.00")},
	}
	repo.activeAgg[shelfKey{10, 1}] = qty
}

func TestTransferLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	seedActive(repo, 50)
	svc := newTestService(repo, ServiceConfig{RequireDistinctApprover: true})
	ctx := context.Background()

	tr, err := svc.Request(ctx, RequestInput{DispensaryID: 1, MedicationID: 1, Quantity: 20, ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, TransferPending, tr.Status)
	require.Equal(t, "AMX-001", tr.BatchNumber)

	tr, err = svc.Approve(ctx, tr.ID, 8, "ok")
	require.NoError(t, err)
	require.Equal(t, TransferApproved, tr.Status)
	require.Equal(t, int64(8), *tr.ApprovedBy)

	tr, err = svc.Dispatch(ctx, tr.ID, 8)
	require.NoError(t, err)
	require.Equal(t, TransferInTransit, tr.Status)

	tr, err = svc.Complete(ctx, tr.ID, 9)
	require.NoError(t, err)
	require.Equal(t, TransferCompleted, tr.Status)
	require.Equal(t, int64(9), *tr.TransferredBy)

	require.Equal(t, int64(30), repo.activeBatches[0].Quantity)
	require.Equal(t, int64(30), repo.activeAgg[shelfKey{10, 1}])
	shelf := repo.shelf[shelfKey{1, 1}]
	require.Equal(t, int64(20), shelf.StockQty)
	require.Equal(t, "AMX-001", shelf.BatchNumber)
	require.Equal(t, "60", shelf.UnitCost.String())
}

func TestCompleteSkipsOptionalDispatch(t *testing.T) {
	repo := newMemoryRepo()
	seedActive(repo, 50)
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	tr, err := svc.Request(ctx, RequestInput{DispensaryID: 1, MedicationID: 1, Quantity: 20, ActorID: 7})
	require.NoError(t, err)
	tr, err = svc.Approve(ctx, tr.ID, 8, "")
	require.NoError(t, err)

	tr, err = svc.Complete(ctx, tr.ID, 8)
	require.NoError(t, err)
	require.Equal(t, TransferCompleted, tr.Status)
	require.Nil(t, tr.DispatchedAt)
	require.Equal(t, int64(20), repo.shelf[shelfKey{1, 1}].StockQty)
}

func TestApproveRejectsSelfApproval(t *testing.T) {
	repo := newMemoryRepo()
	seedActive(repo, 50)
	svc := newTestService(repo, ServiceConfig{RequireDistinctApprover: true})
	ctx := context.Background()

	tr, err := svc.Request(ctx, RequestInput{DispensaryID: 1, MedicationID: 1, Quantity: 10, ActorID: 7})
	require.NoError(t, err)

	_, err = svc.Approve(ctx, tr.ID, 7, "")
	require.ErrorIs(t, err, shared.ErrForbidden)

	got, err := svc.Transfer(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, TransferPending, got.Status)
}

func TestApprovalCannotRegress(t *testing.T) {
	repo := newMemoryRepo()
	seedActive(repo, 50)
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	tr, err := svc.Request(ctx, RequestInput{DispensaryID: 1, MedicationID: 1, Quantity: 10, ActorID: 7})
	require.NoError(t, err)
	tr, err = svc.Approve(ctx, tr.ID, 8, "")
	require.NoError(t, err)

	_, err = svc.Approve(ctx, tr.ID, 8, "")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	tr, err = svc.Dispatch(ctx, tr.ID, 8)
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, tr.ID, 8, "too late")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestCompleteReResolvesDrainedBatch(t *testing.T) {
	repo := newMemoryRepo()
	repo.activeBatches = []activestore.Batch{
		{ID: 1, StoreID: 10, MedicationID: 1, BatchNumber: "FIRST", ExpiryDate: day(30), Quantity: 10, UnitCost: decimal.RequireFromString("60.00")},
		{ID: 2, StoreID: 10, MedicationID: 1, BatchNumber: "SECOND", ExpiryDate: day(90), Quantity: 40, UnitCost: decimal.RequireFromString("62.00")},
	}
	repo.activeAgg[shelfKey{10, 1}] = 50
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	tr, err := svc.Request(ctx, RequestInput{DispensaryID: 1, MedicationID: 1, Quantity: 15, ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, "FIRST", tr.BatchNumber)

	// Another transfer drains the reserved batch before completion.
	require.NoError(t, repo.DeductActiveBatch(ctx, 1, 10))
	require.NoError(t, repo.DeductActiveAggregate(ctx, 10, 1, 10))

	tr, err = svc.Approve(ctx, tr.ID, 8, "")
	require.NoError(t, err)
	tr, err = svc.Dispatch(ctx, tr.ID, 8)
	require.NoError(t, err)
	tr, err = svc.Complete(ctx, tr.ID, 8)
	require.NoError(t, err)

	// The whole quantity came from the surviving batch.
	require.Equal(t, "SECOND", tr.BatchNumber)
	require.Equal(t, int64(25), repo.activeBatches[1].Quantity)
	require.Equal(t, int64(15), repo.shelf[shelfKey{1, 1}].StockQty)
}

func TestCompleteShortfallLeavesTransferInTransit(t *testing.T) {
	repo := newMemoryRepo()
	seedActive(repo, 20)
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	tr, err := svc.Request(ctx, RequestInput{DispensaryID: 1, MedicationID: 1, Quantity: 20, ActorID: 7})
	require.NoError(t, err)
	tr, err = svc.Approve(ctx, tr.ID, 8, "")
	require.NoError(t, err)
	tr, err = svc.Dispatch(ctx, tr.ID, 8)
	require.NoError(t, err)

	// Stock vanishes while the tote is on the trolley.
	require.NoError(t, repo.DeductActiveBatch(ctx, 1, 15))
	require.NoError(t, repo.DeductActiveAggregate(ctx, 10, 1, 15))

	_, err = svc.Complete(ctx, tr.ID, 8)
	require.ErrorIs(t, err, shared.ErrInsufficientActiveStock)

	got, err := svc.Transfer(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, TransferInTransit, got.Status)
	require.Equal(t, int64(5), repo.activeBatches[0].Quantity)
	require.Equal(t, int64(0), repo.shelf[shelfKey{1, 1}].StockQty)
}

func TestRequestRejectsUncoverableQuantity(t *testing.T) {
	repo := newMemoryRepo()
	seedActive(repo, 5)
	svc := newTestService(repo, ServiceConfig{})

	_, err := svc.Request(context.Background(), RequestInput{DispensaryID: 1, MedicationID: 1, Quantity: 10, ActorID: 7})
	require.ErrorIs(t, err, shared.ErrInsufficientActiveStock)
	require.Empty(t, repo.transfers)
}
