package dispensary

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pharmacore/pharmacore/internal/activestore"
	"github.com/pharmacore/pharmacore/internal/observability"
	"github.com/pharmacore/pharmacore/internal/shared"
)

// ActiveStorePort proposes FEFO allocations from the back-room store.
type ActiveStorePort interface {
	ReserveForTransfer(ctx context.Context, storeID, medicationID, quantity int64) ([]activestore.Allocation, error)
}

// ApprovalPort records approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups transfer policy settings.
type ServiceConfig struct {
	// RequireDistinctApprover rejects self-approval of transfer requests.
	RequireDistinctApprover bool
}

// Service owns the transfer state machine and shelf inventory reads.
type Service struct {
	repo      RepositoryPort
	active    ActiveStorePort
	approvals ApprovalPort
	audit     AuditPort
	metrics   *observability.Metrics
	cfg       ServiceConfig
	now       func() time.Time
}

// NewService builds Service. approvals, audit and metrics may be nil.
func NewService(repo RepositoryPort, active ActiveStorePort, approvals ApprovalPort, audit AuditPort, metrics *observability.Metrics, cfg ServiceConfig) *Service {
	return &Service{repo: repo, active: active, approvals: approvals, audit: audit, metrics: metrics, cfg: cfg, now: time.Now}
}

const approvalModule = "dispensary_transfer"

// Request opens a pending transfer. The FEFO proposal is computed up front
// so the request carries a batch snapshot, but nothing is decremented until
// completion.
func (s *Service) Request(ctx context.Context, in RequestInput) (Transfer, error) {
	if in.DispensaryID <= 0 || in.MedicationID <= 0 {
		return Transfer{}, fmt.Errorf("%w: dispensary and medication required", shared.ErrValidation)
	}
	if in.Quantity <= 0 {
		return Transfer{}, fmt.Errorf("%w: quantity must be > 0", shared.ErrValidation)
	}
	storeID, err := s.repo.ActiveStoreForDispensary(ctx, in.DispensaryID)
	if err != nil {
		return Transfer{}, err
	}
	picks, err := s.active.ReserveForTransfer(ctx, storeID, in.MedicationID, in.Quantity)
	if err != nil {
		s.observeShortage(err)
		return Transfer{}, err
	}

	t := Transfer{
		Ref:           uuid.New(),
		DispensaryID:  in.DispensaryID,
		ActiveStoreID: storeID,
		MedicationID:  in.MedicationID,
		Quantity:      in.Quantity,
		Status:        TransferPending,
		Note:          in.Note,
		RequestedBy:   in.ActorID,
	}
	if len(picks) > 0 {
		expiry := picks[0].ExpiryDate
		t.BatchNumber = picks[0].BatchNumber
		t.ExpiryDate = &expiry
		t.UnitCost = picks[0].UnitCost
	}
	created, err := s.repo.CreateTransfer(ctx, t)
	if err != nil {
		return Transfer{}, err
	}
	s.recordApproval(ctx, created.Ref, in.ActorID, shared.ApprovalRequest, in.Note)
	s.recordAudit(ctx, in.ActorID, "dispensary:transfer_request", created.ID, map[string]any{
		"medication_id": in.MedicationID,
		"quantity":      in.Quantity,
	})
	return created, nil
}

// Approve moves pending → approved. Self-approval is rejected when policy
// demands a distinct approver.
func (s *Service) Approve(ctx context.Context, id, actorID int64, note string) (Transfer, error) {
	var approved Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		t, err := repo.GetTransferForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !t.Status.CanTransition(TransferApproved) {
			return fmt.Errorf("%w: %s transfer cannot be approved", shared.ErrInvalidTransition, t.Status)
		}
		if s.cfg.RequireDistinctApprover && t.RequestedBy == actorID {
			return fmt.Errorf("%w: requester cannot approve own transfer", shared.ErrForbidden)
		}
		at := s.now()
		t.Status = TransferApproved
		t.ApprovedBy = &actorID
		t.ApprovedAt = &at
		approved = t
		return repo.UpdateTransfer(ctx, t)
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordApproval(ctx, approved.Ref, actorID, shared.ApprovalApprove, note)
	s.recordAudit(ctx, actorID, "dispensary:transfer_approve", approved.ID, nil)
	return approved, nil
}

// Dispatch moves approved → in_transit.
func (s *Service) Dispatch(ctx context.Context, id, actorID int64) (Transfer, error) {
	var dispatched Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		t, err := repo.GetTransferForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !t.Status.CanTransition(TransferInTransit) {
			return fmt.Errorf("%w: %s transfer cannot be dispatched", shared.ErrInvalidTransition, t.Status)
		}
		at := s.now()
		t.Status = TransferInTransit
		t.DispatchedAt = &at
		dispatched = t
		return repo.UpdateTransfer(ctx, t)
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, actorID, "dispensary:transfer_dispatch", dispatched.ID, nil)
	return dispatched, nil
}

// Complete lands an approved or in-transit transfer on the shelf; dispatch
// is an optional intermediate step. The FEFO allocation is re-resolved
// against current active stock; the reserved batch may have been drained
// since the request. Active batches and the aggregate are decremented and
// the shelf row upserted in one transaction. A shortfall leaves the
// transfer in its prior state.
func (s *Service) Complete(ctx context.Context, id, actorID int64) (Transfer, error) {
	var completed Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		t, err := repo.GetTransferForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !t.Status.CanTransition(TransferCompleted) {
			return fmt.Errorf("%w: %s transfer cannot be completed", shared.ErrInvalidTransition, t.Status)
		}
		batches, err := repo.ListActiveBatchesForUpdate(ctx, t.ActiveStoreID, t.MedicationID)
		if err != nil {
			return err
		}
		picks, err := activestore.Allocate(batches, t.Quantity, s.now())
		if err != nil {
			return err
		}
		for _, pick := range picks {
			if err := repo.DeductActiveBatch(ctx, pick.BatchID, pick.Quantity); err != nil {
				return err
			}
			if err := repo.DeductActiveAggregate(ctx, t.ActiveStoreID, t.MedicationID, pick.Quantity); err != nil {
				return err
			}
			if err := repo.UpsertInventory(ctx, t.DispensaryID, t.MedicationID, pick.Quantity, pick.BatchNumber, pick.ExpiryDate, pick.UnitCost); err != nil {
				return err
			}
		}
		last := picks[len(picks)-1]
		expiry := last.ExpiryDate
		at := s.now()
		t.Status = TransferCompleted
		t.BatchNumber = last.BatchNumber
		t.ExpiryDate = &expiry
		t.UnitCost = last.UnitCost
		t.TransferredBy = &actorID
		t.TransferredAt = &at
		completed = t
		return repo.UpdateTransfer(ctx, t)
	})
	if err != nil {
		s.observeShortage(err)
		return Transfer{}, err
	}
	s.metrics.ObserveTransferCompleted(strconv.FormatInt(completed.DispensaryID, 10))
	s.recordAudit(ctx, actorID, "dispensary:transfer_complete", completed.ID, map[string]any{
		"quantity": completed.Quantity,
	})
	return completed, nil
}

// Cancel withdraws a pending or approved transfer.
func (s *Service) Cancel(ctx context.Context, id, actorID int64, note string) (Transfer, error) {
	var cancelled Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		t, err := repo.GetTransferForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !t.Status.CanTransition(TransferCancelled) {
			return fmt.Errorf("%w: %s transfer cannot be cancelled", shared.ErrInvalidTransition, t.Status)
		}
		t.Status = TransferCancelled
		cancelled = t
		return repo.UpdateTransfer(ctx, t)
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordApproval(ctx, cancelled.Ref, actorID, shared.ApprovalCancel, note)
	s.recordAudit(ctx, actorID, "dispensary:transfer_cancel", cancelled.ID, nil)
	return cancelled, nil
}

// Transfer loads a transfer by id.
func (s *Service) Transfer(ctx context.Context, id int64) (Transfer, error) {
	return s.repo.GetTransfer(ctx, id)
}

// Transfers lists transfers.
func (s *Service) Transfers(ctx context.Context, filter TransferFilter) ([]Transfer, shared.Pagination, error) {
	list, total, err := s.repo.ListTransfers(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return list, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Shelf returns the shelf row for (dispensary, medication).
func (s *Service) Shelf(ctx context.Context, dispensaryID, medicationID int64) (Inventory, error) {
	return s.repo.GetInventory(ctx, dispensaryID, medicationID)
}

// ShelfInventory lists shelf rows for a dispensary.
func (s *Service) ShelfInventory(ctx context.Context, dispensaryID int64) ([]Inventory, error) {
	if dispensaryID <= 0 {
		return nil, fmt.Errorf("%w: dispensary required", shared.ErrValidation)
	}
	return s.repo.ListInventory(ctx, dispensaryID)
}

func (s *Service) observeShortage(err error) {
	if shared.IsInsufficientStock(err) {
		s.metrics.ObserveShortage("active_store")
	}
}

func (s *Service) recordApproval(ctx context.Context, ref uuid.UUID, actorID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	_ = s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  approvalModule,
		RefID:   ref,
		ActorID: actorID,
		Action:  action,
		Note:    note,
	})
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, transferID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "dispensary_transfer",
		EntityID: strconv.FormatInt(transferID, 10),
		Meta:     meta,
	})
}
