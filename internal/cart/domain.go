package cart

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pharmacore/pharmacore/internal/prescription"
)

// Status enumerates the cart lifecycle.
type Status string

const (
	// StatusActive is open for item edits.
	StatusActive Status = "active"
	// StatusInvoiced has an emitted invoice awaiting payment.
	StatusInvoiced Status = "invoiced"
	// StatusPaid is ready for dispensing.
	StatusPaid Status = "paid"
	// StatusPartiallyDispensed has at least one item short after a dispense.
	StatusPartiallyDispensed Status = "partially_dispensed"
	// StatusCompleted has every item fully dispensed.
	StatusCompleted Status = "completed"
	// StatusCancelled was withdrawn; no inventory effect.
	StatusCancelled Status = "cancelled"
)

// Editable reports whether items may still change.
func (s Status) Editable() bool {
	return s == StatusActive
}

// Dispensable reports whether a dispense may run against the cart.
func (s Status) Dispensable() bool {
	return s == StatusPaid || s == StatusPartiallyDispensed
}

// Cart collects the billable portion of a prescription at one dispensary.
type Cart struct {
	ID             int64      `json:"id"`
	PrescriptionID int64      `json:"prescription_id"`
	DispensaryID   *int64     `json:"dispensary_id,omitempty"`
	Status         Status     `json:"status"`
	CreatedBy      int64      `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Items          []Item     `json:"items,omitempty"`
}

// Item is one cart line. UnitPrice is snapshotted when the item is added
// or the dispensary changes; later shelf repricing does not move it.
type Item struct {
	ID                int64           `json:"id"`
	CartID            int64           `json:"cart_id"`
	MedicationID      int64           `json:"medication_id"`
	Quantity          int64           `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	QuantityDispensed int64           `json:"quantity_dispensed"`
}

// Remaining returns the undispensed quantity for the line.
func (i Item) Remaining() int64 {
	rem := i.Quantity - i.QuantityDispensed
	if rem < 0 {
		return 0
	}
	return rem
}

// Breakdown is the priced view of a cart.
type Breakdown struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	PatientPortion decimal.Decimal `json:"patient_portion"`
	InsurerPortion decimal.Decimal `json:"insurer_portion"`
}

// nhiaPatientShare is the fraction of the invoice an NHIA patient pays.
var nhiaPatientShare = decimal.RequireFromString("0.10")

// Price computes the payable split. NHIA patients pay 10% rounded to two
// decimal places; the insurer portion is the exact remainder so the two
// always sum to the subtotal.
func Price(items []Item, patientType prescription.PatientType) Breakdown {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.UnitPrice.Mul(decimal.NewFromInt(it.Quantity)))
	}
	subtotal = subtotal.Round(2)
	if patientType == prescription.PatientNHIA {
		patient := subtotal.Mul(nhiaPatientShare).Round(2)
		return Breakdown{
			Subtotal:       subtotal,
			PatientPortion: patient,
			InsurerPortion: subtotal.Sub(patient),
		}
	}
	return Breakdown{
		Subtotal:       subtotal,
		PatientPortion: subtotal,
		InsurerPortion: decimal.Zero,
	}
}

// StatusAfterDispense derives the post-dispense cart status from its lines.
func StatusAfterDispense(items []Item) Status {
	for _, it := range items {
		if it.QuantityDispensed < it.Quantity {
			return StatusPartiallyDispensed
		}
	}
	return StatusCompleted
}

// InvoiceLine is one line of an emitted invoice intent.
type InvoiceLine struct {
	MedicationID int64           `json:"medication_id"`
	Quantity     int64           `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

// InvoiceIntent is handed to the billing collaborator when a cart is
// invoiced.
type InvoiceIntent struct {
	CartID         int64           `json:"cart_id"`
	PrescriptionID int64           `json:"prescription_id"`
	PatientID      int64           `json:"patient_id"`
	PatientPortion decimal.Decimal `json:"patient_portion"`
	InsurerPortion decimal.Decimal `json:"insurer_portion"`
	Lines          []InvoiceLine   `json:"lines"`
}
