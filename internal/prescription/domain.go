package prescription

import "time"

// PatientType separates NHIA-insured patients from regular payers.
type PatientType string

const (
	// PatientRegular pays the full invoice.
	PatientRegular PatientType = "regular"
	// PatientNHIA pays 10% of the invoice; the insurer covers the rest.
	PatientNHIA PatientType = "nhia"
)

// Status enumerates prescription dispensing progress.
type Status string

const (
	// StatusPending has no dispense recorded yet.
	StatusPending Status = "pending"
	// StatusPartiallyDispensed has at least one item short.
	StatusPartiallyDispensed Status = "partially_dispensed"
	// StatusDispensed has every item fully dispensed.
	StatusDispensed Status = "dispensed"
)

// Prescription is the read model the pipeline works against. Clinical
// payloads (diagnoses, notes) stay with the originating system.
type Prescription struct {
	ID                    int64       `json:"id"`
	PatientID             int64       `json:"patient_id"`
	PatientType           PatientType `json:"patient_type"`
	AuthorizationCode     string      `json:"authorization_code,omitempty"`
	RequiresAuthorization bool        `json:"requires_authorization"`
	Status                Status      `json:"status"`
	PrescribedBy          int64       `json:"prescribed_by"`
	CreatedAt             time.Time   `json:"created_at"`
	Items                 []Item      `json:"items,omitempty"`
}

// Item is one prescribed medication line.
type Item struct {
	ID                 int64  `json:"id"`
	PrescriptionID     int64  `json:"prescription_id"`
	MedicationID       int64  `json:"medication_id"`
	Dosage             string `json:"dosage,omitempty"`
	PrescribedQuantity int64  `json:"prescribed_quantity"`
	QuantityDispensed  int64  `json:"quantity_dispensed"`
}

// Remaining returns the undispensed quantity for the item.
func (i Item) Remaining() int64 {
	rem := i.PrescribedQuantity - i.QuantityDispensed
	if rem < 0 {
		return 0
	}
	return rem
}

// StatusFor derives the prescription status from its items.
func StatusFor(items []Item) Status {
	if len(items) == 0 {
		return StatusPending
	}
	full := true
	any := false
	for _, it := range items {
		if it.QuantityDispensed > 0 {
			any = true
		}
		if it.QuantityDispensed < it.PrescribedQuantity {
			full = false
		}
	}
	switch {
	case full:
		return StatusDispensed
	case any:
		return StatusPartiallyDispensed
	default:
		return StatusPending
	}
}

// IntakeInput originates a prescription from a clinical collaborator.
type IntakeInput struct {
	PatientID             int64
	PatientType           PatientType
	AuthorizationCode     string
	RequiresAuthorization bool
	PrescribedBy          int64
	Items                 []IntakeItem
}

// IntakeItem is one line of an intake request.
type IntakeItem struct {
	MedicationID       int64
	Dosage             string
	PrescribedQuantity int64
}
