package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pharmacore/pharmacore/internal/prescription"
	"github.com/pharmacore/pharmacore/internal/shared"
)

// Patient is the registry's view of a patient, trimmed to what the
// pipeline needs.
type Patient struct {
	ID          int64                    `json:"id"`
	DisplayName string                   `json:"display_name"`
	PatientType prescription.PatientType `json:"patient_type"`
}

// PatientRegistry looks patients up in the hospital registry service.
type PatientRegistry struct {
	baseURL string
	client  *http.Client
}

// NewPatientRegistry constructs the client.
func NewPatientRegistry(baseURL string, timeout time.Duration) *PatientRegistry {
	return &PatientRegistry{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Patient fetches a patient by id.
func (r *PatientRegistry) Patient(ctx context.Context, id int64) (Patient, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/patients/%d", r.baseURL, id), nil)
	if err != nil {
		return Patient{}, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return Patient{}, fmt.Errorf("integration: patient registry: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Patient{}, shared.ErrNotFound
	default:
		return Patient{}, fmt.Errorf("integration: patient registry returned %d", resp.StatusCode)
	}
	var p Patient
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Patient{}, err
	}
	return p, nil
}

// PatientType implements the prescription module's patient port.
func (r *PatientRegistry) PatientType(ctx context.Context, id int64) (prescription.PatientType, error) {
	p, err := r.Patient(ctx, id)
	if err != nil {
		return "", err
	}
	return p.PatientType, nil
}
