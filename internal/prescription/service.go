package prescription

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/pharmacore/pharmacore/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// PatientPort resolves a patient's billing category from the hospital
// registry.
type PatientPort interface {
	PatientType(ctx context.Context, patientID int64) (PatientType, error)
}

// Service exposes the prescription read model and clinical intake.
type Service struct {
	repo     RepositoryPort
	patients PatientPort
	audit    AuditPort
}

// NewService builds Service. patients and audit may be nil.
func NewService(repo RepositoryPort, patients PatientPort, audit AuditPort) *Service {
	return &Service{repo: repo, patients: patients, audit: audit}
}

// Get loads a prescription with items.
func (s *Service) Get(ctx context.Context, id int64) (Prescription, error) {
	if id <= 0 {
		return Prescription{}, fmt.Errorf("%w: prescription id required", shared.ErrValidation)
	}
	return s.repo.Get(ctx, id)
}

// ForPatient lists a patient's prescriptions.
func (s *Service) ForPatient(ctx context.Context, patientID int64) ([]Prescription, error) {
	if patientID <= 0 {
		return nil, fmt.Errorf("%w: patient id required", shared.ErrValidation)
	}
	return s.repo.ListForPatient(ctx, patientID)
}

// Intake originates a prescription from a clinical collaborator.
func (s *Service) Intake(ctx context.Context, in IntakeInput) (Prescription, error) {
	if in.PatientID <= 0 {
		return Prescription{}, fmt.Errorf("%w: patient id required", shared.ErrValidation)
	}
	if s.patients != nil {
		// The registry is authoritative for the billing category when it
		// knows the patient; an outage falls back to the declared type.
		ptype, err := s.patients.PatientType(ctx, in.PatientID)
		switch {
		case err == nil:
			in.PatientType = ptype
		case errors.Is(err, shared.ErrNotFound):
			return Prescription{}, fmt.Errorf("%w: unknown patient", shared.ErrValidation)
		}
	}
	if in.PatientType != PatientRegular && in.PatientType != PatientNHIA {
		return Prescription{}, fmt.Errorf("%w: patient_type must be regular or nhia", shared.ErrValidation)
	}
	if len(in.Items) == 0 {
		return Prescription{}, fmt.Errorf("%w: at least one item required", shared.ErrValidation)
	}
	items := make([]Item, 0, len(in.Items))
	for _, it := range in.Items {
		if it.MedicationID <= 0 || it.PrescribedQuantity <= 0 {
			return Prescription{}, fmt.Errorf("%w: item medication and quantity required", shared.ErrValidation)
		}
		items = append(items, Item{
			MedicationID:       it.MedicationID,
			Dosage:             it.Dosage,
			PrescribedQuantity: it.PrescribedQuantity,
		})
	}
	created, err := s.repo.Create(ctx, Prescription{
		PatientID:             in.PatientID,
		PatientType:           in.PatientType,
		AuthorizationCode:     in.AuthorizationCode,
		RequiresAuthorization: in.RequiresAuthorization,
		Status:                StatusPending,
		PrescribedBy:          in.PrescribedBy,
		Items:                 items,
	})
	if err != nil {
		return Prescription{}, err
	}
	s.recordAudit(ctx, in.PrescribedBy, "prescription:intake", created.ID, map[string]any{
		"patient_id": in.PatientID,
		"items":      len(items),
	})
	return created, nil
}

// AttachAuthorization stores a desk office authorization code.
func (s *Service) AttachAuthorization(ctx context.Context, id int64, code string, actorID int64) error {
	if id <= 0 || code == "" {
		return fmt.Errorf("%w: prescription id and code required", shared.ErrValidation)
	}
	if err := s.repo.UpdateAuthorizationCode(ctx, id, code); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "prescription:attach_authorization", id, nil)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "prescription",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
}
