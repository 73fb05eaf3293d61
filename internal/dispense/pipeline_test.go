package dispense

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pharmacore/pharmacore/internal/activestore"
	"github.com/pharmacore/pharmacore/internal/bulkstore"
	"github.com/pharmacore/pharmacore/internal/cart"
	"github.com/pharmacore/pharmacore/internal/dispensary"
	"github.com/pharmacore/pharmacore/internal/prescription"
	"github.com/pharmacore/pharmacore/internal/shared"
)

// pipelineStore backs the real bulkstore, dispensary and dispense services
// with one shared in-memory dataset so a unit of stock can be followed from
// goods receipt to handover.
type pipelineStore struct {
	nextID int64

	bulk          []bulkstore.Batch
	activeBatches []activestore.Batch
	activeAgg     map[shelfKey]int64
	transfers     map[int64]dispensary.Transfer
	shelf         map[shelfKey]dispensary.Inventory

	cart        cart.Cart
	rxItems     []prescription.Item
	events      []Event
	nextEventID int64
}

func newPipelineStore() *pipelineStore {
	return &pipelineStore{
		activeAgg: map[shelfKey]int64{},
		transfers: map[int64]dispensary.Transfer{},
		shelf:     map[shelfKey]dispensary.Inventory{},
	}
}

type pipelineBulkRepo struct {
	s *pipelineStore
}

func (r *pipelineBulkRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repo bulkstore.TxRepository) error) error {
	return fn(ctx, r)
}

func (r *pipelineBulkRepo) ListBatches(ctx context.Context, medicationID int64) ([]bulkstore.Batch, error) {
	var out []bulkstore.Batch
	for _, b := range r.s.bulk {
		if b.MedicationID == medicationID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *pipelineBulkRepo) ListBatchesForUpdate(ctx context.Context, medicationID int64) ([]bulkstore.Batch, error) {
	return r.ListBatches(ctx, medicationID)
}

func (r *pipelineBulkRepo) GetBatchForUpdate(ctx context.Context, medicationID int64, batchNumber string, expiry time.Time) (bulkstore.Batch, error) {
	for _, b := range r.s.bulk {
		if b.MedicationID == medicationID && b.BatchNumber == batchNumber && b.ExpiryDate.Equal(expiry) {
			return b, nil
		}
	}
	return bulkstore.Batch{}, shared.ErrNotFound
}

func (r *pipelineBulkRepo) InsertBatch(ctx context.Context, b bulkstore.Batch) (bulkstore.Batch, error) {
	r.s.nextID++
	b.ID = r.s.nextID
	b.CreatedAt = time.Now()
	r.s.bulk = append(r.s.bulk, b)
	return b, nil
}

func (r *pipelineBulkRepo) AddBatchQuantity(ctx context.Context, batchID, delta int64) (bulkstore.Batch, error) {
	for i := range r.s.bulk {
		if r.s.bulk[i].ID == batchID {
			r.s.bulk[i].Quantity += delta
			return r.s.bulk[i], nil
		}
	}
	return bulkstore.Batch{}, shared.ErrNotFound
}

func (r *pipelineBulkRepo) LandActiveBatch(ctx context.Context, storeID, medicationID int64, line bulkstore.IssueLine) error {
	r.s.nextID++
	r.s.activeBatches = append(r.s.activeBatches, activestore.Batch{
		ID:           r.s.nextID,
		StoreID:      storeID,
		MedicationID: medicationID,
		BatchNumber:  line.BatchNumber,
		ExpiryDate:   line.ExpiryDate,
		Quantity:     line.Quantity,
		UnitCost:     line.MarkedUpCost,
	})
	r.s.activeAgg[shelfKey{storeID, medicationID}] += line.Quantity
	return nil
}

type pipelineTransferRepo struct {
	s *pipelineStore
}

func (r *pipelineTransferRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repo dispensary.TxRepository) error) error {
	return fn(ctx, r)
}

func (r *pipelineTransferRepo) CreateTransfer(ctx context.Context, t dispensary.Transfer) (dispensary.Transfer, error) {
	r.s.nextID++
	t.ID = r.s.nextID
	t.RequestedAt = time.Now()
	r.s.transfers[t.ID] = t
	return t, nil
}

func (r *pipelineTransferRepo) GetTransfer(ctx context.Context, id int64) (dispensary.Transfer, error) {
	t, ok := r.s.transfers[id]
	if !ok {
		return dispensary.Transfer{}, shared.ErrNotFound
	}
	return t, nil
}

func (r *pipelineTransferRepo) GetTransferForUpdate(ctx context.Context, id int64) (dispensary.Transfer, error) {
	return r.GetTransfer(ctx, id)
}

func (r *pipelineTransferRepo) UpdateTransfer(ctx context.Context, t dispensary.Transfer) error {
	r.s.transfers[t.ID] = t
	return nil
}

func (r *pipelineTransferRepo) ListTransfers(ctx context.Context, filter dispensary.TransferFilter) ([]dispensary.Transfer, int, error) {
	return nil, 0, nil
}

func (r *pipelineTransferRepo) ActiveStoreForDispensary(ctx context.Context, dispensaryID int64) (int64, error) {
	return 10, nil
}

func (r *pipelineTransferRepo) GetInventory(ctx context.Context, dispensaryID, medicationID int64) (dispensary.Inventory, error) {
	inv, ok := r.s.shelf[shelfKey{dispensaryID, medicationID}]
	if !ok {
		return dispensary.Inventory{}, shared.ErrNotFound
	}
	return inv, nil
}

func (r *pipelineTransferRepo) ListInventory(ctx context.Context, dispensaryID int64) ([]dispensary.Inventory, error) {
	return nil, nil
}

func (r *pipelineTransferRepo) ListActiveBatchesForUpdate(ctx context.Context, storeID, medicationID int64) ([]activestore.Batch, error) {
	var out []activestore.Batch
	for _, b := range r.s.activeBatches {
		if b.StoreID == storeID && b.MedicationID == medicationID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *pipelineTransferRepo) DeductActiveBatch(ctx context.Context, batchID, qty int64) error {
	for i := range r.s.activeBatches {
		if r.s.activeBatches[i].ID == batchID {
			if r.s.activeBatches[i].Quantity < qty {
				return shared.ErrInsufficientActiveStock
			}
			r.s.activeBatches[i].Quantity -= qty
			return nil
		}
	}
	return shared.ErrNotFound
}

func (r *pipelineTransferRepo) DeductActiveAggregate(ctx context.Context, storeID, medicationID, qty int64) error {
	key := shelfKey{storeID, medicationID}
	if r.s.activeAgg[key] < qty {
		return shared.ErrInsufficientActiveStock
	}
	r.s.activeAgg[key] -= qty
	return nil
}

func (r *pipelineTransferRepo) UpsertInventory(ctx context.Context, dispensaryID, medicationID, qty int64, batchNumber string, expiry time.Time, unitCost decimal.Decimal) error {
	key := shelfKey{dispensaryID, medicationID}
	inv := r.s.shelf[key]
	inv.DispensaryID = dispensaryID
	inv.MedicationID = medicationID
	inv.StockQty += qty
	inv.BatchNumber = batchNumber
	inv.ExpiryDate = &expiry
	inv.UnitCost = unitCost
	inv.UpdatedAt = time.Now()
	r.s.shelf[key] = inv
	return nil
}

type pipelineReserve struct {
	s *pipelineStore
}

func (p *pipelineReserve) ReserveForTransfer(ctx context.Context, storeID, medicationID, quantity int64) ([]activestore.Allocation, error) {
	repo := &pipelineTransferRepo{s: p.s}
	batches, _ := repo.ListActiveBatchesForUpdate(ctx, storeID, medicationID)
	return activestore.Allocate(batches, quantity, time.Now())
}

type pipelineHandoverRepo struct {
	s *pipelineStore
}

func (r *pipelineHandoverRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error {
	return fn(ctx, r)
}

func (r *pipelineHandoverRepo) ListEvents(ctx context.Context, cartID int64) ([]Event, error) {
	return r.s.events, nil
}

func (r *pipelineHandoverRepo) GetCartForUpdate(ctx context.Context, cartID int64) (cart.Cart, error) {
	if r.s.cart.ID != cartID {
		return cart.Cart{}, shared.ErrNotFound
	}
	c := r.s.cart
	c.Items = append([]cart.Item(nil), r.s.cart.Items...)
	return c, nil
}

func (r *pipelineHandoverRepo) GetShelfForUpdate(ctx context.Context, dispensaryID, medicationID int64) (dispensary.Inventory, error) {
	inv, ok := r.s.shelf[shelfKey{dispensaryID, medicationID}]
	if !ok {
		return dispensary.Inventory{}, shared.ErrNotFound
	}
	return inv, nil
}

func (r *pipelineHandoverRepo) DeductShelf(ctx context.Context, dispensaryID, medicationID, qty int64) error {
	key := shelfKey{dispensaryID, medicationID}
	inv := r.s.shelf[key]
	if inv.StockQty < qty {
		return shared.ErrInsufficientDispensaryStock
	}
	inv.StockQty -= qty
	r.s.shelf[key] = inv
	return nil
}

func (r *pipelineHandoverRepo) AddCartItemDispensed(ctx context.Context, itemID, qty int64) error {
	for i := range r.s.cart.Items {
		if r.s.cart.Items[i].ID == itemID {
			r.s.cart.Items[i].QuantityDispensed += qty
			return nil
		}
	}
	return shared.ErrNotFound
}

func (r *pipelineHandoverRepo) AddPrescriptionItemDispensed(ctx context.Context, prescriptionID, medicationID, qty int64) error {
	for i := range r.s.rxItems {
		if r.s.rxItems[i].MedicationID == medicationID {
			r.s.rxItems[i].QuantityDispensed += qty
			return nil
		}
	}
	return shared.ErrNotFound
}

func (r *pipelineHandoverRepo) UpdateCartStatus(ctx context.Context, cartID int64, status cart.Status) error {
	r.s.cart.Status = status
	return nil
}

func (r *pipelineHandoverRepo) GetPrescriptionItems(ctx context.Context, prescriptionID int64) ([]prescription.Item, error) {
	return append([]prescription.Item(nil), r.s.rxItems...), nil
}

func (r *pipelineHandoverRepo) UpdatePrescriptionStatus(ctx context.Context, prescriptionID int64, status prescription.Status) error {
	return nil
}

func (r *pipelineHandoverRepo) InsertEvent(ctx context.Context, e Event) (Event, error) {
	r.s.nextEventID++
	e.ID = r.s.nextEventID
	e.CreatedAt = time.Now()
	r.s.events = append(r.s.events, e)
	return e, nil
}

// Receive 100 units at 50.00 with the default markup, issue 30 to the
// active store, transfer 20 to the shelf and dispense 15 against an NHIA
// cart. Every tier must account for its share of the received quantity and
// the marked-up cost must ride along unchanged.
func TestPipelineConservesStockEndToEnd(t *testing.T) {
	s := newPipelineStore()
	bulkSvc := bulkstore.NewService(&pipelineBulkRepo{s: s}, nil, nil)
	transferSvc := dispensary.NewService(&pipelineTransferRepo{s: s}, &pipelineReserve{s: s}, nil, nil, nil, dispensary.ServiceConfig{})
	handoverSvc := NewService(&pipelineHandoverRepo{s: s}, nil, nil, nil)
	ctx := context.Background()

	expiry := time.Now().AddDate(0, 6, 0)
	received, err := bulkSvc.Receive(ctx, bulkstore.ReceiveInput{
		MedicationID: 1,
		BatchNumber:  "AMX-001",
		ExpiryDate:   expiry,
		Quantity:     100,
		UnitCost:     decimal.RequireFromString("50.00"),
		ActorID:      7,
	})
	require.NoError(t, err)
	require.Equal(t, "60", received.MarkedUpCost.String())

	_, err = bulkSvc.IssueToActiveStore(ctx, bulkstore.IssueInput{
		ActiveStoreID: 10,
		MedicationID:  1,
		Quantity:      30,
		ActorID:       7,
	})
	require.NoError(t, err)

	tr, err := transferSvc.Request(ctx, dispensary.RequestInput{DispensaryID: 1, MedicationID: 1, Quantity: 20, ActorID: 7})
	require.NoError(t, err)
	tr, err = transferSvc.Approve(ctx, tr.ID, 8, "")
	require.NoError(t, err)
	tr, err = transferSvc.Complete(ctx, tr.ID, 8)
	require.NoError(t, err)
	require.Equal(t, dispensary.TransferCompleted, tr.Status)

	// The shelf sells at the cost carried forward from the bulk markup.
	shelf := s.shelf[shelfKey{1, 1}]
	require.Equal(t, int64(20), shelf.StockQty)
	require.Equal(t, "60", shelf.UnitCost.String())

	dispensaryID := int64(1)
	s.cart = cart.Cart{
		ID:             5,
		PrescriptionID: 100,
		DispensaryID:   &dispensaryID,
		Status:         cart.StatusPaid,
		Items: []cart.Item{
			{ID: 1, CartID: 5, MedicationID: 1, Quantity: 15, UnitPrice: shelf.UnitCost},
		},
	}
	s.rxItems = []prescription.Item{
		{ID: 1, PrescriptionID: 100, MedicationID: 1, PrescribedQuantity: 15},
	}

	breakdown := cart.Price(s.cart.Items, prescription.PatientNHIA)
	require.Equal(t, "900", breakdown.Subtotal.String())
	require.Equal(t, "90", breakdown.PatientPortion.String())
	require.Equal(t, "810", breakdown.InsurerPortion.String())

	result, err := handoverSvc.Dispense(ctx, Input{
		CartID:  5,
		Lines:   []Line{{CartItemID: 1, Quantity: 15}},
		ActorID: 7,
	})
	require.NoError(t, err)
	require.Equal(t, cart.StatusCompleted, result.CartStatus)
	require.Equal(t, prescription.StatusDispensed, result.PrescriptionStatus)

	var bulkQty, activeQty, dispensed int64
	for _, b := range s.bulk {
		bulkQty += b.Quantity
	}
	for _, b := range s.activeBatches {
		activeQty += b.Quantity
	}
	for _, e := range s.events {
		dispensed += e.Quantity
	}
	require.Equal(t, int64(70), bulkQty)
	require.Equal(t, int64(10), activeQty)
	require.Equal(t, activeQty, s.activeAgg[shelfKey{10, 1}])
	require.Equal(t, int64(5), s.shelf[shelfKey{1, 1}].StockQty)
	require.Equal(t, int64(15), dispensed)
	require.Equal(t, received.Quantity, bulkQty+activeQty+s.shelf[shelfKey{1, 1}].StockQty+dispensed)
}
