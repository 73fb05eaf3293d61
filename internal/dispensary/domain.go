package dispensary

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferStatus enumerates the transfer lifecycle.
type TransferStatus string

const (
	// TransferPending awaits approval.
	TransferPending TransferStatus = "pending"
	// TransferApproved is approved but not yet dispatched.
	TransferApproved TransferStatus = "approved"
	// TransferInTransit has left the active store shelf clerk's hands.
	TransferInTransit TransferStatus = "in_transit"
	// TransferCompleted landed at the dispensary.
	TransferCompleted TransferStatus = "completed"
	// TransferCancelled was withdrawn before dispatch.
	TransferCancelled TransferStatus = "cancelled"
)

// CanTransition reports whether the status may move to next. Approval never
// regresses: completed and cancelled are terminal.
func (s TransferStatus) CanTransition(next TransferStatus) bool {
	switch s {
	case TransferPending:
		return next == TransferApproved || next == TransferCancelled
	case TransferApproved:
		return next == TransferInTransit || next == TransferCompleted || next == TransferCancelled
	case TransferInTransit:
		return next == TransferCompleted
	default:
		return false
	}
}

// Transfer moves stock from a dispensary's active store onto its shelf.
// The batch fields snapshot the first FEFO pick at request time; the
// allocation is re-resolved when the transfer completes.
type Transfer struct {
	ID            int64           `json:"id"`
	Ref           uuid.UUID       `json:"ref"`
	DispensaryID  int64           `json:"dispensary_id"`
	ActiveStoreID int64           `json:"active_store_id"`
	MedicationID  int64           `json:"medication_id"`
	Quantity      int64           `json:"quantity"`
	Status        TransferStatus  `json:"status"`
	BatchNumber   string          `json:"batch_number"`
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	Note          string          `json:"note,omitempty"`
	RequestedBy   int64           `json:"requested_by"`
	RequestedAt   time.Time       `json:"requested_at"`
	ApprovedBy    *int64          `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time      `json:"approved_at,omitempty"`
	DispatchedAt  *time.Time      `json:"dispatched_at,omitempty"`
	TransferredBy *int64          `json:"transferred_by,omitempty"`
	TransferredAt *time.Time      `json:"transferred_at,omitempty"`
}

// Inventory is the shelf row a pharmacist dispenses from. One row per
// (dispensary, medication); mutated only by completed transfers and
// dispense events.
type Inventory struct {
	DispensaryID int64           `json:"dispensary_id"`
	MedicationID int64           `json:"medication_id"`
	StockQty     int64           `json:"stock_quantity"`
	ReorderLevel int64           `json:"reorder_level"`
	BatchNumber  string          `json:"batch_number"`
	ExpiryDate   *time.Time      `json:"expiry_date,omitempty"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// RequestInput opens a transfer request.
type RequestInput struct {
	DispensaryID int64
	MedicationID int64
	Quantity     int64
	Note         string
	ActorID      int64
}

// TransferFilter narrows transfer listings.
type TransferFilter struct {
	DispensaryID int64
	Status       TransferStatus
	Page         int
	PerPage      int
}
