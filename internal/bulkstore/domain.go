package bulkstore

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultMarkupPct is the warehousing margin applied when a receipt does
// not specify its own markup.
var DefaultMarkupPct = decimal.NewFromInt(20)

// Batch is a lot held in the central bulk store. Batches are append-only
// by receipt; quantity decreases only via issues to an active store.
type Batch struct {
	ID           int64           `json:"id"`
	MedicationID int64           `json:"medication_id"`
	BatchNumber  string          `json:"batch_number"`
	ExpiryDate   time.Time       `json:"expiry_date"`
	Quantity     int64           `json:"quantity"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	MarkupPct    decimal.Decimal `json:"markup_percentage"`
	MarkedUpCost decimal.Decimal `json:"marked_up_cost"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Expired reports whether the batch is past its expiry as of the given day.
func (b Batch) Expired(asOf time.Time) bool {
	return !b.ExpiryDate.After(asOf)
}

// MarkedUpCost applies the warehousing margin to a landed unit cost:
// unit_cost × (1 + markup/100), rounded to 2 decimal places.
func MarkedUpCost(unitCost, markupPct decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	hundred := decimal.NewFromInt(100)
	return unitCost.Mul(one.Add(markupPct.Div(hundred))).Round(2)
}

// ReceiveInput describes a goods receipt into the bulk store.
type ReceiveInput struct {
	MedicationID int64
	BatchNumber  string
	ExpiryDate   time.Time
	Quantity     int64
	UnitCost     decimal.Decimal
	MarkupPct    *decimal.Decimal
	Ref          string
	ActorID      int64
}

// IssueInput describes an issue from bulk to an active store.
type IssueInput struct {
	ActiveStoreID int64
	MedicationID  int64
	Quantity      int64
	Ref           string
	ActorID       int64
}

// IssueLine is one bulk batch's contribution to an issue. The cost carried
// forward into the active store is the batch's marked-up cost.
type IssueLine struct {
	BatchID      int64           `json:"batch_id"`
	BatchNumber  string          `json:"batch_number"`
	ExpiryDate   time.Time       `json:"expiry_date"`
	Quantity     int64           `json:"quantity"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	MarkedUpCost decimal.Decimal `json:"marked_up_cost"`
}
