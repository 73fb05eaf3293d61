package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// DeskOffice validates NHIA authorization codes against the hospital's
// desk office service. It implements the cart module's desk office port.
type DeskOffice struct {
	baseURL string
	client  *http.Client
}

// NewDeskOffice constructs the client.
func NewDeskOffice(baseURL string, timeout time.Duration) *DeskOffice {
	return &DeskOffice{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type validateRequest struct {
	Code      string `json:"code"`
	PatientID int64  `json:"patient_id"`
	Service   string `json:"service"`
	Amount    string `json:"amount"`
}

type validateResponse struct {
	Valid     bool       `json:"valid"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ValidateAuthorization checks a code for a pharmacy claim of the given
// insurer amount. An expired authorization counts as invalid.
func (d *DeskOffice) ValidateAuthorization(ctx context.Context, code string, patientID int64, amount decimal.Decimal) (bool, error) {
	body, err := json.Marshal(validateRequest{
		Code:      code,
		PatientID: patientID,
		Service:   "pharmacy",
		Amount:    amount.StringFixed(2),
	})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/authorizations/validate", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("integration: desk office: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("integration: desk office returned %d", resp.StatusCode)
	}
	var out validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, err
	}
	if out.Valid && out.ExpiresAt != nil && out.ExpiresAt.Before(time.Now()) {
		return false, nil
	}
	return out.Valid, nil
}
