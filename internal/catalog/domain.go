package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Medication is the master record for a dispensable drug. It is shared,
// referenced weakly by every inventory row, and never deleted while
// referenced.
type Medication struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	GenericName      string          `json:"generic_name"`
	Strength         string          `json:"strength"`
	DosageForm       string          `json:"dosage_form"`
	Unit             string          `json:"unit"`
	DefaultUnitPrice decimal.Decimal `json:"default_unit_price"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Dispensary is a point-of-dispense location with its own front-counter
// inventory. Each dispensary owns exactly one active store.
type Dispensary struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	Active    bool      `json:"active"`
	ManagerID *int64    `json:"manager_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ActiveStore is the back-room inventory location attached to a dispensary.
type ActiveStore struct {
	ID           int64  `json:"id"`
	DispensaryID int64  `json:"dispensary_id"`
	Name         string `json:"name"`
}

// ListFilter narrows medication listings.
type ListFilter struct {
	NamePrefix string
	Page       int
	PerPage    int
}
