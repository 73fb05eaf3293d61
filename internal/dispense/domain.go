package dispense

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Line is one requested hand-over quantity against a cart item.
type Line struct {
	CartItemID int64 `json:"cart_item_id"`
	Quantity   int64 `json:"quantity"`
}

// Input describes a dispense run against a paid cart.
type Input struct {
	CartID  int64
	Lines   []Line
	ActorID int64
}

// Event is the append-only record of one dispensed line. Price and batch
// fields are snapshots taken at hand-over time.
type Event struct {
	ID             int64           `json:"id"`
	Ref            uuid.UUID       `json:"ref"`
	CartID         int64           `json:"cart_id"`
	CartItemID     int64           `json:"cart_item_id"`
	PrescriptionID int64           `json:"prescription_id"`
	MedicationID   int64           `json:"medication_id"`
	DispensaryID   int64           `json:"dispensary_id"`
	Quantity       int64           `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	BatchNumber    string          `json:"batch_number"`
	ExpiryDate     *time.Time      `json:"expiry_date,omitempty"`
	ActorID        int64           `json:"actor_id"`
	CreatedAt      time.Time       `json:"created_at"`
}
