package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pharmacore/pharmacore/internal/shared"
)

// RepositoryPort abstracts the repository for the service.
type RepositoryPort interface {
	GetMedication(ctx context.Context, id int64) (Medication, error)
	ListMedications(ctx context.Context, filter ListFilter) ([]Medication, int, error)
	CreateMedication(ctx context.Context, med Medication) (Medication, error)
	UpdateMedication(ctx context.Context, med Medication) error
	GetDispensary(ctx context.Context, id int64) (Dispensary, error)
	ListDispensaries(ctx context.Context, activeOnly bool) ([]Dispensary, error)
	CreateDispensary(ctx context.Context, d Dispensary) (Dispensary, error)
	ActiveStoreForDispensary(ctx context.Context, dispensaryID int64) (ActiveStore, error)
}

// Service exposes catalog lookups with an invalidate-on-write read cache.
type Service struct {
	repo  RepositoryPort
	cache *Cache
	audit AuditPort
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// NewService builds Service. cache may be nil, in which case reads are
// always authoritative.
func NewService(repo RepositoryPort, cache *Cache, audit AuditPort) *Service {
	return &Service{repo: repo, cache: cache, audit: audit}
}

// Medication returns a medication by id, served from cache when warm.
func (s *Service) Medication(ctx context.Context, id int64) (Medication, error) {
	if id <= 0 {
		return Medication{}, fmt.Errorf("%w: medication id required", shared.ErrValidation)
	}
	key, err := s.cache.BuildKey(ctx, "catalog", "medication", strconv.FormatInt(id, 10))
	if err != nil {
		return s.repo.GetMedication(ctx, id)
	}
	var med Medication
	err = s.cache.FetchJSON(ctx, key, &med, func(ctx context.Context) (any, error) {
		return s.repo.GetMedication(ctx, id)
	})
	return med, err
}

// Search lists medications matching a name prefix.
func (s *Service) Search(ctx context.Context, filter ListFilter) ([]Medication, shared.Pagination, error) {
	filter.NamePrefix = strings.TrimSpace(filter.NamePrefix)
	meds, total, err := s.repo.ListMedications(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return meds, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// CreateMedication registers a medication and invalidates the cache.
func (s *Service) CreateMedication(ctx context.Context, med Medication, actorID int64) (Medication, error) {
	if err := validateMedication(med); err != nil {
		return Medication{}, err
	}
	created, err := s.repo.CreateMedication(ctx, med)
	if err != nil {
		return Medication{}, err
	}
	_ = s.cache.Bump(ctx)
	s.recordAudit(ctx, actorID, "catalog:medication_create", "medication", created.ID, map[string]any{"name": created.Name, "strength": created.Strength})
	return created, nil
}

// UpdateMedication updates a medication and invalidates the cache.
func (s *Service) UpdateMedication(ctx context.Context, med Medication, actorID int64) error {
	if med.ID <= 0 {
		return fmt.Errorf("%w: medication id required", shared.ErrValidation)
	}
	if err := s.repo.UpdateMedication(ctx, med); err != nil {
		return err
	}
	_ = s.cache.Bump(ctx)
	s.recordAudit(ctx, actorID, "catalog:medication_update", "medication", med.ID, nil)
	return nil
}

// Dispensary returns a dispensary by id.
func (s *Service) Dispensary(ctx context.Context, id int64) (Dispensary, error) {
	if id <= 0 {
		return Dispensary{}, fmt.Errorf("%w: dispensary id required", shared.ErrValidation)
	}
	return s.repo.GetDispensary(ctx, id)
}

// Dispensaries lists dispensaries.
func (s *Service) Dispensaries(ctx context.Context, activeOnly bool) ([]Dispensary, error) {
	return s.repo.ListDispensaries(ctx, activeOnly)
}

// CreateDispensary registers a dispensary together with its active store.
func (s *Service) CreateDispensary(ctx context.Context, d Dispensary, actorID int64) (Dispensary, error) {
	if strings.TrimSpace(d.Name) == "" {
		return Dispensary{}, fmt.Errorf("%w: dispensary name required", shared.ErrValidation)
	}
	created, err := s.repo.CreateDispensary(ctx, d)
	if err != nil {
		return Dispensary{}, err
	}
	_ = s.cache.Bump(ctx)
	s.recordAudit(ctx, actorID, "catalog:dispensary_create", "dispensary", created.ID, map[string]any{"name": created.Name})
	return created, nil
}

// ActiveStore resolves the back-room store owned by a dispensary.
func (s *Service) ActiveStore(ctx context.Context, dispensaryID int64) (ActiveStore, error) {
	return s.repo.ActiveStoreForDispensary(ctx, dispensaryID)
}

func validateMedication(med Medication) error {
	if strings.TrimSpace(med.Name) == "" {
		return fmt.Errorf("%w: medication name required", shared.ErrValidation)
	}
	if strings.TrimSpace(med.Strength) == "" {
		return fmt.Errorf("%w: medication strength required", shared.ErrValidation)
	}
	if strings.TrimSpace(med.DosageForm) == "" {
		return fmt.Errorf("%w: medication dosage form required", shared.ErrValidation)
	}
	if med.DefaultUnitPrice.IsNegative() {
		return fmt.Errorf("%w: default unit price must be >= 0", shared.ErrValidation)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
}
