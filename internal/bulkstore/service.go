package bulkstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pharmacore/pharmacore/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards retried stock operations.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service owns receipts into the bulk store and issues out to active stores.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	idem  IdempotencyPort
	now   func() time.Time
}

// NewService builds Service. audit and idem may be nil.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort) *Service {
	return &Service{repo: repo, audit: audit, idem: idem, now: time.Now}
}

// Receive books a goods receipt. A receipt whose batch number and expiry
// match an existing batch exactly merges into it; anything else opens a new
// batch with marked_up_cost = unit_cost × (1 + markup/100).
func (s *Service) Receive(ctx context.Context, in ReceiveInput) (Batch, error) {
	if err := validateReceive(in); err != nil {
		return Batch{}, err
	}
	markup := DefaultMarkupPct
	if in.MarkupPct != nil {
		if in.MarkupPct.IsNegative() {
			return Batch{}, fmt.Errorf("%w: markup percentage must be >= 0", shared.ErrValidation)
		}
		markup = *in.MarkupPct
	}

	if err := s.claimRef(ctx, in.Ref); err != nil {
		return Batch{}, err
	}

	var result Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		existing, err := repo.GetBatchForUpdate(ctx, in.MedicationID, in.BatchNumber, in.ExpiryDate)
		switch {
		case err == nil:
			// Exact match merges quantity; the original landed costs stand.
			result, err = repo.AddBatchQuantity(ctx, existing.ID, in.Quantity)
			return err
		case errors.Is(err, shared.ErrNotFound):
			result, err = repo.InsertBatch(ctx, Batch{
				MedicationID: in.MedicationID,
				BatchNumber:  in.BatchNumber,
				ExpiryDate:   in.ExpiryDate,
				Quantity:     in.Quantity,
				UnitCost:     in.UnitCost,
				MarkupPct:    markup,
				MarkedUpCost: MarkedUpCost(in.UnitCost, markup),
			})
			return err
		default:
			return err
		}
	})
	if err != nil {
		s.releaseRef(ctx, in.Ref)
		return Batch{}, err
	}

	s.recordAudit(ctx, in.ActorID, "bulkstore:receive", "bulk_batch", result.ID, map[string]any{
		"batch_number": result.BatchNumber,
		"quantity":     in.Quantity,
		"unit_cost":    result.UnitCost.String(),
	})
	return result, nil
}

// IssueToActiveStore moves stock from bulk into an active store. Batches
// are drained earliest expiry first, and each drained lot lands in the
// destination at its marked-up cost. All-or-nothing: a shortfall issues
// nothing and returns ErrInsufficientStock.
func (s *Service) IssueToActiveStore(ctx context.Context, in IssueInput) ([]IssueLine, error) {
	if in.ActiveStoreID <= 0 || in.MedicationID <= 0 {
		return nil, fmt.Errorf("%w: active store and medication required", shared.ErrValidation)
	}
	if in.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be > 0", shared.ErrValidation)
	}
	if err := s.claimRef(ctx, in.Ref); err != nil {
		return nil, err
	}

	var lines []IssueLine
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		batches, err := repo.ListBatchesForUpdate(ctx, in.MedicationID)
		if err != nil {
			return err
		}
		lines, err = allocateIssue(batches, in.Quantity, s.now())
		if err != nil {
			return err
		}
		for _, line := range lines {
			if _, err := repo.AddBatchQuantity(ctx, line.BatchID, -line.Quantity); err != nil {
				return err
			}
			if err := repo.LandActiveBatch(ctx, in.ActiveStoreID, in.MedicationID, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.releaseRef(ctx, in.Ref)
		return nil, err
	}

	s.recordAudit(ctx, in.ActorID, "bulkstore:issue", "active_store", in.ActiveStoreID, map[string]any{
		"medication_id": in.MedicationID,
		"quantity":      in.Quantity,
		"lines":         len(lines),
	})
	return lines, nil
}

// Batches lists all bulk batches for a medication, expired included.
func (s *Service) Batches(ctx context.Context, medicationID int64) ([]Batch, error) {
	if medicationID <= 0 {
		return nil, fmt.Errorf("%w: medication id required", shared.ErrValidation)
	}
	return s.repo.ListBatches(ctx, medicationID)
}

// allocateIssue drains non-expired batches earliest expiry first, breaking
// ties by insertion order.
func allocateIssue(batches []Batch, quantity int64, asOf time.Time) ([]IssueLine, error) {
	usable := make([]Batch, 0, len(batches))
	for _, b := range batches {
		if b.Quantity > 0 && !b.Expired(asOf) {
			usable = append(usable, b)
		}
	}
	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].ExpiryDate.Before(usable[j].ExpiryDate)
	})

	var lines []IssueLine
	remaining := quantity
	for _, b := range usable {
		if remaining == 0 {
			break
		}
		take := b.Quantity
		if take > remaining {
			take = remaining
		}
		lines = append(lines, IssueLine{
			BatchID:      b.ID,
			BatchNumber:  b.BatchNumber,
			ExpiryDate:   b.ExpiryDate,
			Quantity:     take,
			UnitCost:     b.UnitCost,
			MarkedUpCost: b.MarkedUpCost,
		})
		remaining -= take
	}
	if remaining > 0 {
		return nil, fmt.Errorf("%w: short by %d units", shared.ErrInsufficientStock, remaining)
	}
	return lines, nil
}

func validateReceive(in ReceiveInput) error {
	if in.MedicationID <= 0 {
		return fmt.Errorf("%w: medication id required", shared.ErrValidation)
	}
	if strings.TrimSpace(in.BatchNumber) == "" {
		return fmt.Errorf("%w: batch number required", shared.ErrValidation)
	}
	if in.ExpiryDate.IsZero() {
		return fmt.Errorf("%w: expiry date required", shared.ErrValidation)
	}
	if in.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be > 0", shared.ErrValidation)
	}
	if !in.UnitCost.IsPositive() {
		return fmt.Errorf("%w: unit cost must be > 0", shared.ErrValidation)
	}
	return nil
}

func (s *Service) claimRef(ctx context.Context, ref string) error {
	if ref == "" || s.idem == nil {
		return nil
	}
	return s.idem.CheckAndInsert(ctx, ref, "bulkstore")
}

func (s *Service) releaseRef(ctx context.Context, ref string) {
	if ref == "" || s.idem == nil {
		return
	}
	_ = s.idem.Delete(ctx, ref)
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
