package activestore

import (
	"time"

	"github.com/shopspring/decimal"
)

// Batch is a lot held in a dispensary's back-room store. Batches are created
// when a bulk issue lands and only ever shrink through completed transfers.
type Batch struct {
	ID           int64           `json:"id"`
	StoreID      int64           `json:"store_id"`
	MedicationID int64           `json:"medication_id"`
	BatchNumber  string          `json:"batch_number"`
	ExpiryDate   time.Time       `json:"expiry_date"`
	Quantity     int64           `json:"quantity"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Expired reports whether the batch is unusable as of the given day.
// Expired batches stay on the books for audit and manual write-off.
func (b Batch) Expired(asOf time.Time) bool {
	return !b.ExpiryDate.After(asOf)
}

// Inventory is the materialised aggregate for (store, medication). Its
// stock quantity always equals the sum of the store's batch quantities for
// the medication; both are written inside the same transaction.
type Inventory struct {
	StoreID      int64           `json:"store_id"`
	MedicationID int64           `json:"medication_id"`
	StockQty     int64           `json:"stock_quantity"`
	ReorderLevel int64           `json:"reorder_level"`
	BatchNumber  string          `json:"batch_number"`
	ExpiryDate   time.Time       `json:"expiry_date"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Allocation is one batch's share of a FEFO pick.
type Allocation struct {
	BatchID     int64           `json:"batch_id"`
	BatchNumber string          `json:"batch_number"`
	ExpiryDate  time.Time       `json:"expiry_date"`
	Quantity    int64           `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}
