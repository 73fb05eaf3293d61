package activestore

import (
	"context"
	"fmt"
	"time"

	"github.com/pharmacore/pharmacore/internal/shared"
)

// RepositoryPort abstracts repository reads for the service.
type RepositoryPort interface {
	ListBatches(ctx context.Context, storeID, medicationID int64) ([]Batch, error)
	GetInventory(ctx context.Context, storeID, medicationID int64) (Inventory, error)
	ListInventory(ctx context.Context, storeID int64) ([]Inventory, error)
}

// Service answers availability questions for a dispensary's back-room store.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Available returns the non-expired aggregate quantity for a medication.
func (s *Service) Available(ctx context.Context, storeID, medicationID int64) (int64, error) {
	if storeID <= 0 || medicationID <= 0 {
		return 0, fmt.Errorf("%w: store and medication required", shared.ErrValidation)
	}
	batches, err := s.repo.ListBatches(ctx, storeID, medicationID)
	if err != nil {
		return 0, err
	}
	return Available(batches, s.now()), nil
}

// ReserveForTransfer proposes a FEFO allocation without decrementing
// anything. Transfer requests snapshot the first pick's batch details; the
// allocation is re-resolved at completion time.
func (s *Service) ReserveForTransfer(ctx context.Context, storeID, medicationID, quantity int64) ([]Allocation, error) {
	if storeID <= 0 || medicationID <= 0 {
		return nil, fmt.Errorf("%w: store and medication required", shared.ErrValidation)
	}
	batches, err := s.repo.ListBatches(ctx, storeID, medicationID)
	if err != nil {
		return nil, err
	}
	return Allocate(batches, quantity, s.now())
}

// Batches lists all batches for (store, medication), expired included.
func (s *Service) Batches(ctx context.Context, storeID, medicationID int64) ([]Batch, error) {
	if storeID <= 0 || medicationID <= 0 {
		return nil, fmt.Errorf("%w: store and medication required", shared.ErrValidation)
	}
	return s.repo.ListBatches(ctx, storeID, medicationID)
}

// Inventory returns the aggregate row for (store, medication).
func (s *Service) Inventory(ctx context.Context, storeID, medicationID int64) (Inventory, error) {
	return s.repo.GetInventory(ctx, storeID, medicationID)
}

// StoreInventory lists aggregate rows for a store.
func (s *Service) StoreInventory(ctx context.Context, storeID int64) ([]Inventory, error) {
	if storeID <= 0 {
		return nil, fmt.Errorf("%w: store required", shared.ErrValidation)
	}
	return s.repo.ListInventory(ctx, storeID)
}
