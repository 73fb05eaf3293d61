package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pharmacore/pharmacore/internal/prescription"
)

// ClinicalNotifier pushes prescription status changes back to the
// originating clinical system. With no base URL configured it degrades to
// logging, so dispensing never blocks on the collaborator being up.
type ClinicalNotifier struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewClinicalNotifier constructs the notifier.
func NewClinicalNotifier(baseURL string, timeout time.Duration, logger *slog.Logger) *ClinicalNotifier {
	return &ClinicalNotifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type statusNotification struct {
	PrescriptionID int64  `json:"prescription_id"`
	Status         string `json:"status"`
}

// NotifyPrescriptionStatus reports the new status after a dispense.
func (n *ClinicalNotifier) NotifyPrescriptionStatus(ctx context.Context, prescriptionID int64, status prescription.Status) error {
	if n.baseURL == "" {
		n.logger.Info("prescription status changed",
			slog.Int64("prescription_id", prescriptionID),
			slog.String("status", string(status)))
		return nil
	}
	body, err := json.Marshal(statusNotification{PrescriptionID: prescriptionID, Status: string(status)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/prescriptions/status", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("integration: clinical notify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("integration: clinical system returned %d", resp.StatusCode)
	}
	return nil
}
