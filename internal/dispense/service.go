package dispense

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/pharmacore/pharmacore/internal/cart"
	"github.com/pharmacore/pharmacore/internal/observability"
	"github.com/pharmacore/pharmacore/internal/platform/db"
	"github.com/pharmacore/pharmacore/internal/prescription"
	"github.com/pharmacore/pharmacore/internal/shared"
)

// ClinicalPort notifies the originating clinical system of prescription
// status changes.
type ClinicalPort interface {
	NotifyPrescriptionStatus(ctx context.Context, prescriptionID int64, status prescription.Status) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Result reports what one dispense run changed.
type Result struct {
	Events             []Event             `json:"events"`
	CartStatus         cart.Status         `json:"cart_status"`
	PrescriptionStatus prescription.Status `json:"prescription_status"`
}

// Service runs dispense transactions against paid carts.
type Service struct {
	repo     RepositoryPort
	clinical ClinicalPort
	audit    AuditPort
	metrics  *observability.Metrics
}

// NewService builds Service. clinical, audit and metrics may be nil.
func NewService(repo RepositoryPort, clinical ClinicalPort, audit AuditPort, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, clinical: clinical, audit: audit, metrics: metrics}
}

// Dispense hands stock over the counter. Validation, shelf decrements,
// dispensed-counter increments, event appends and both status recomputes
// run in a single transaction; a shortfall on any line aborts the lot. A
// serialization failure is retried once before surfacing as a conflict.
func (s *Service) Dispense(ctx context.Context, in Input) (Result, error) {
	if in.CartID <= 0 {
		return Result{}, fmt.Errorf("%w: cart id required", shared.ErrValidation)
	}
	if len(in.Lines) == 0 {
		return Result{}, fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	}
	result, err := s.dispenseOnce(ctx, in)
	if err != nil && db.IsSerializationFailure(err) {
		result, err = s.dispenseOnce(ctx, in)
		if err != nil && db.IsSerializationFailure(err) {
			return Result{}, fmt.Errorf("%w: %v", shared.ErrConflict, err)
		}
	}
	if err != nil {
		if shared.IsInsufficientStock(err) {
			s.metrics.ObserveShortage("dispensary")
		}
		return Result{}, err
	}

	if s.clinical != nil {
		_ = s.clinical.NotifyPrescriptionStatus(ctx, result.Events[0].PrescriptionID, result.PrescriptionStatus)
	}
	var total int64
	for _, e := range result.Events {
		total += e.Quantity
	}
	s.metrics.ObserveDispense(strconv.FormatInt(result.Events[0].DispensaryID, 10), total)
	s.recordAudit(ctx, in.ActorID, in.CartID, map[string]any{
		"lines": len(result.Events),
		"units": total,
	})
	return result, nil
}

func (s *Service) dispenseOnce(ctx context.Context, in Input) (Result, error) {
	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		c, err := repo.GetCartForUpdate(ctx, in.CartID)
		if err != nil {
			return err
		}
		if !c.Status.Dispensable() {
			return fmt.Errorf("%w: %s cart cannot be dispensed", shared.ErrInvalidTransition, c.Status)
		}
		if c.DispensaryID == nil {
			return fmt.Errorf("%w: cart has no dispensary", shared.ErrValidation)
		}
		dispensaryID := *c.DispensaryID

		itemsByID := make(map[int64]cart.Item, len(c.Items))
		for _, it := range c.Items {
			itemsByID[it.ID] = it
		}

		// Validate every line against cart remainder and shelf stock
		// before touching anything, so a shortfall dispenses nothing.
		shelves := make(map[int64]int64, len(in.Lines))
		picks := make([]Event, 0, len(in.Lines))
		for _, line := range in.Lines {
			item, ok := itemsByID[line.CartItemID]
			if !ok {
				return fmt.Errorf("%w: cart item %d not found", shared.ErrValidation, line.CartItemID)
			}
			if line.Quantity <= 0 {
				return fmt.Errorf("%w: quantity must be > 0", shared.ErrValidation)
			}
			if line.Quantity > item.Remaining() {
				return fmt.Errorf("%w: line exceeds cart remainder (%d)", shared.ErrInsufficientDispensaryStock, item.Remaining())
			}
			shelf, err := repo.GetShelfForUpdate(ctx, dispensaryID, item.MedicationID)
			if err != nil {
				if errors.Is(err, shared.ErrNotFound) {
					return fmt.Errorf("%w: no shelf stock for medication %d", shared.ErrInsufficientDispensaryStock, item.MedicationID)
				}
				return err
			}
			already := shelves[item.MedicationID]
			if shelf.StockQty-already < line.Quantity {
				return fmt.Errorf("%w: shelf holds %d of medication %d", shared.ErrInsufficientDispensaryStock, shelf.StockQty-already, item.MedicationID)
			}
			shelves[item.MedicationID] = already + line.Quantity
			picks = append(picks, Event{
				Ref:            uuid.New(),
				CartID:         c.ID,
				CartItemID:     item.ID,
				PrescriptionID: c.PrescriptionID,
				MedicationID:   item.MedicationID,
				DispensaryID:   dispensaryID,
				Quantity:       line.Quantity,
				UnitPrice:      item.UnitPrice,
				BatchNumber:    shelf.BatchNumber,
				ExpiryDate:     shelf.ExpiryDate,
				ActorID:        in.ActorID,
			})
		}

		for _, e := range picks {
			if err := repo.DeductShelf(ctx, dispensaryID, e.MedicationID, e.Quantity); err != nil {
				return err
			}
			if err := repo.AddCartItemDispensed(ctx, e.CartItemID, e.Quantity); err != nil {
				return err
			}
			if err := repo.AddPrescriptionItemDispensed(ctx, c.PrescriptionID, e.MedicationID, e.Quantity); err != nil {
				return err
			}
			stored, err := repo.InsertEvent(ctx, e)
			if err != nil {
				return err
			}
			result.Events = append(result.Events, stored)
			item := itemsByID[e.CartItemID]
			item.QuantityDispensed += e.Quantity
			itemsByID[e.CartItemID] = item
		}

		updated := make([]cart.Item, 0, len(c.Items))
		for _, it := range c.Items {
			updated = append(updated, itemsByID[it.ID])
		}
		result.CartStatus = cart.StatusAfterDispense(updated)
		if err := repo.UpdateCartStatus(ctx, c.ID, result.CartStatus); err != nil {
			return err
		}

		rxItems, err := repo.GetPrescriptionItems(ctx, c.PrescriptionID)
		if err != nil {
			return err
		}
		result.PrescriptionStatus = prescription.StatusFor(rxItems)
		return repo.UpdatePrescriptionStatus(ctx, c.PrescriptionID, result.PrescriptionStatus)
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// Events lists the dispense history for a cart.
func (s *Service) Events(ctx context.Context, cartID int64) ([]Event, error) {
	if cartID <= 0 {
		return nil, fmt.Errorf("%w: cart id required", shared.ErrValidation)
	}
	return s.repo.ListEvents(ctx, cartID)
}

func (s *Service) recordAudit(ctx context.Context, actorID, cartID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "dispense:handover",
		Entity:   "cart",
		EntityID: strconv.FormatInt(cartID, 10),
		Meta:     meta,
	})
}
