package cart

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/pharmacore/pharmacore/internal/catalog"
	"github.com/pharmacore/pharmacore/internal/dispensary"
	"github.com/pharmacore/pharmacore/internal/prescription"
	"github.com/pharmacore/pharmacore/internal/shared"
)

// PrescriptionPort reads the prescription a cart bills against.
type PrescriptionPort interface {
	Get(ctx context.Context, id int64) (prescription.Prescription, error)
}

// ShelfPort reads dispensary shelf rows for price snapshots.
type ShelfPort interface {
	Shelf(ctx context.Context, dispensaryID, medicationID int64) (dispensary.Inventory, error)
}

// CatalogPort reads medication master data for fallback pricing.
type CatalogPort interface {
	Medication(ctx context.Context, id int64) (catalog.Medication, error)
}

// BillingPort receives invoice intents.
type BillingPort interface {
	EmitInvoice(ctx context.Context, intent InvoiceIntent) error
}

// DeskOfficePort validates NHIA authorization codes.
type DeskOfficePort interface {
	ValidateAuthorization(ctx context.Context, code string, patientID int64, amount decimal.Decimal) (bool, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns the cart lifecycle from creation through payment.
type Service struct {
	repo    RepositoryPort
	rx      PrescriptionPort
	shelf   ShelfPort
	catalog CatalogPort
	billing BillingPort
	desk    DeskOfficePort
	audit   AuditPort
}

// NewService builds Service. billing, desk and audit may be nil; a nil desk
// port rejects every authorization-gated payment.
func NewService(repo RepositoryPort, rx PrescriptionPort, shelf ShelfPort, cat CatalogPort, billing BillingPort, desk DeskOfficePort, audit AuditPort) *Service {
	return &Service{repo: repo, rx: rx, shelf: shelf, catalog: cat, billing: billing, desk: desk, audit: audit}
}

// Create opens an active cart for a prescription. At most one active cart
// may exist per prescription; doctors may only open carts for
// prescriptions they wrote.
func (s *Service) Create(ctx context.Context, prescriptionID int64, dispensaryID *int64, actor shared.Principal) (Cart, error) {
	if prescriptionID <= 0 {
		return Cart{}, fmt.Errorf("%w: prescription id required", shared.ErrValidation)
	}
	rx, err := s.rx.Get(ctx, prescriptionID)
	if err != nil {
		return Cart{}, err
	}
	if err := authorizeEdit(rx, actor); err != nil {
		return Cart{}, err
	}
	if _, err := s.repo.ActiveCartForPrescription(ctx, prescriptionID); err == nil {
		return Cart{}, shared.ErrCartExists
	} else if !errors.Is(err, shared.ErrNotFound) {
		return Cart{}, err
	}

	created, err := s.repo.CreateCart(ctx, Cart{
		PrescriptionID: prescriptionID,
		DispensaryID:   dispensaryID,
		Status:         StatusActive,
		CreatedBy:      actor.ID,
	})
	if err != nil {
		return Cart{}, err
	}
	s.recordAudit(ctx, actor.ID, "cart:create", created.ID, map[string]any{"prescription_id": prescriptionID})
	return created, nil
}

// Get loads a cart with items.
func (s *Service) Get(ctx context.Context, id int64) (Cart, error) {
	if id <= 0 {
		return Cart{}, fmt.Errorf("%w: cart id required", shared.ErrValidation)
	}
	return s.repo.GetCart(ctx, id)
}

// AddItem puts a prescribed medication in the cart, snapshotting its unit
// price. Quantity is bounded by the prescription item's undispensed
// remainder. Re-adding a medication replaces its quantity.
func (s *Service) AddItem(ctx context.Context, cartID, medicationID, quantity int64, actor shared.Principal) (Item, error) {
	if quantity <= 0 {
		return Item{}, fmt.Errorf("%w: quantity must be > 0", shared.ErrValidation)
	}
	var added Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		c, err := repo.GetCartForUpdate(ctx, cartID)
		if err != nil {
			return err
		}
		if !c.Status.Editable() {
			return fmt.Errorf("%w: %s cart is not editable", shared.ErrInvalidTransition, c.Status)
		}
		rx, err := s.rx.Get(ctx, c.PrescriptionID)
		if err != nil {
			return err
		}
		if err := authorizeEdit(rx, actor); err != nil {
			return err
		}
		rxItem, ok := findRxItem(rx.Items, medicationID)
		if !ok {
			return fmt.Errorf("%w: medication %d is not on the prescription", shared.ErrValidation, medicationID)
		}
		if quantity > rxItem.Remaining() {
			return fmt.Errorf("%w: quantity exceeds undispensed remainder (%d)", shared.ErrValidation, rxItem.Remaining())
		}
		price, err := s.snapshotPrice(ctx, c.DispensaryID, medicationID)
		if err != nil {
			return err
		}
		added, err = repo.UpsertItem(ctx, Item{
			CartID:       c.ID,
			MedicationID: medicationID,
			Quantity:     quantity,
			UnitPrice:    price,
		})
		return err
	})
	if err != nil {
		return Item{}, err
	}
	s.recordAudit(ctx, actor.ID, "cart:add_item", cartID, map[string]any{
		"medication_id": medicationID,
		"quantity":      quantity,
	})
	return added, nil
}

// RemoveItem drops a line from an active cart.
func (s *Service) RemoveItem(ctx context.Context, cartID, itemID int64, actor shared.Principal) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		c, err := repo.GetCartForUpdate(ctx, cartID)
		if err != nil {
			return err
		}
		if !c.Status.Editable() {
			return fmt.Errorf("%w: %s cart is not editable", shared.ErrInvalidTransition, c.Status)
		}
		rx, err := s.rx.Get(ctx, c.PrescriptionID)
		if err != nil {
			return err
		}
		if err := authorizeEdit(rx, actor); err != nil {
			return err
		}
		for _, it := range c.Items {
			if it.ID == itemID {
				return repo.RemoveItem(ctx, itemID)
			}
		}
		return shared.ErrNotFound
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor.ID, "cart:remove_item", cartID, map[string]any{"item_id": itemID})
	return nil
}

// SetDispensary points an active cart at a dispensary and re-snapshots
// every item's unit price against its shelf.
func (s *Service) SetDispensary(ctx context.Context, cartID, dispensaryID int64, actor shared.Principal) error {
	if dispensaryID <= 0 {
		return fmt.Errorf("%w: dispensary id required", shared.ErrValidation)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		c, err := repo.GetCartForUpdate(ctx, cartID)
		if err != nil {
			return err
		}
		if !c.Status.Editable() {
			return fmt.Errorf("%w: dispensary can only change on an active cart", shared.ErrInvalidTransition)
		}
		rx, err := s.rx.Get(ctx, c.PrescriptionID)
		if err != nil {
			return err
		}
		if err := authorizeEdit(rx, actor); err != nil {
			return err
		}
		if err := repo.SetCartDispensary(ctx, c.ID, dispensaryID); err != nil {
			return err
		}
		for _, it := range c.Items {
			price, err := s.snapshotPrice(ctx, &dispensaryID, it.MedicationID)
			if err != nil {
				return err
			}
			if err := repo.UpdateItemPrice(ctx, it.ID, price); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor.ID, "cart:set_dispensary", cartID, map[string]any{"dispensary_id": dispensaryID})
	return nil
}

// Price returns the payable split for the cart.
func (s *Service) Price(ctx context.Context, cartID int64) (Breakdown, error) {
	c, err := s.repo.GetCart(ctx, cartID)
	if err != nil {
		return Breakdown{}, err
	}
	rx, err := s.rx.Get(ctx, c.PrescriptionID)
	if err != nil {
		return Breakdown{}, err
	}
	return Price(c.Items, rx.PatientType), nil
}

// Invoice freezes an active cart and hands the intent to billing.
func (s *Service) Invoice(ctx context.Context, cartID, actorID int64) (Cart, error) {
	var invoiced Cart
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		c, err := repo.GetCartForUpdate(ctx, cartID)
		if err != nil {
			return err
		}
		if c.Status != StatusActive {
			return fmt.Errorf("%w: only an active cart can be invoiced", shared.ErrInvalidTransition)
		}
		if len(c.Items) == 0 {
			return fmt.Errorf("%w: cart has no items", shared.ErrValidation)
		}
		if err := repo.UpdateCartStatus(ctx, c.ID, StatusInvoiced); err != nil {
			return err
		}
		c.Status = StatusInvoiced
		invoiced = c
		return nil
	})
	if err != nil {
		return Cart{}, err
	}

	rx, err := s.rx.Get(ctx, invoiced.PrescriptionID)
	if err != nil {
		return Cart{}, err
	}
	breakdown := Price(invoiced.Items, rx.PatientType)
	if s.billing != nil {
		lines := make([]InvoiceLine, 0, len(invoiced.Items))
		for _, it := range invoiced.Items {
			lines = append(lines, InvoiceLine{MedicationID: it.MedicationID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
		}
		if err := s.billing.EmitInvoice(ctx, InvoiceIntent{
			CartID:         invoiced.ID,
			PrescriptionID: invoiced.PrescriptionID,
			PatientID:      rx.PatientID,
			PatientPortion: breakdown.PatientPortion,
			InsurerPortion: breakdown.InsurerPortion,
			Lines:          lines,
		}); err != nil {
			return Cart{}, err
		}
	}
	s.recordAudit(ctx, actorID, "cart:invoice", invoiced.ID, map[string]any{
		"patient_portion": breakdown.PatientPortion.String(),
		"insurer_portion": breakdown.InsurerPortion.String(),
	})
	return invoiced, nil
}

// MarkPaid moves invoiced → paid. NHIA prescriptions flagged as requiring
// authorization must carry a code the desk office accepts; the cart stays
// invoiced otherwise.
func (s *Service) MarkPaid(ctx context.Context, cartID, actorID int64) (Cart, error) {
	c, err := s.repo.GetCart(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}
	rx, err := s.rx.Get(ctx, c.PrescriptionID)
	if err != nil {
		return Cart{}, err
	}
	if rx.PatientType == prescription.PatientNHIA && rx.RequiresAuthorization {
		if rx.AuthorizationCode == "" {
			return Cart{}, shared.ErrAuthorizationRequired
		}
		if s.desk == nil {
			return Cart{}, shared.ErrAuthorizationInvalid
		}
		breakdown := Price(c.Items, rx.PatientType)
		valid, err := s.desk.ValidateAuthorization(ctx, rx.AuthorizationCode, rx.PatientID, breakdown.InsurerPortion)
		if err != nil {
			return Cart{}, err
		}
		if !valid {
			return Cart{}, shared.ErrAuthorizationInvalid
		}
	}

	var paid Cart
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		locked, err := repo.GetCartForUpdate(ctx, cartID)
		if err != nil {
			return err
		}
		if locked.Status != StatusInvoiced {
			return fmt.Errorf("%w: only an invoiced cart can be marked paid", shared.ErrInvalidTransition)
		}
		if err := repo.UpdateCartStatus(ctx, locked.ID, StatusPaid); err != nil {
			return err
		}
		locked.Status = StatusPaid
		paid = locked
		return nil
	})
	if err != nil {
		return Cart{}, err
	}
	s.recordAudit(ctx, actorID, "cart:mark_paid", paid.ID, nil)
	return paid, nil
}

// Cancel withdraws an active or invoiced cart. No inventory moves.
func (s *Service) Cancel(ctx context.Context, cartID, actorID int64) (Cart, error) {
	var cancelled Cart
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		c, err := repo.GetCartForUpdate(ctx, cartID)
		if err != nil {
			return err
		}
		if c.Status != StatusActive && c.Status != StatusInvoiced {
			return fmt.Errorf("%w: %s cart cannot be cancelled", shared.ErrInvalidTransition, c.Status)
		}
		if err := repo.UpdateCartStatus(ctx, c.ID, StatusCancelled); err != nil {
			return err
		}
		c.Status = StatusCancelled
		cancelled = c
		return nil
	})
	if err != nil {
		return Cart{}, err
	}
	s.recordAudit(ctx, actorID, "cart:cancel", cancelled.ID, nil)
	return cancelled, nil
}

// snapshotPrice prefers the dispensary shelf cost and falls back to the
// medication's default price when the shelf has no row yet.
func (s *Service) snapshotPrice(ctx context.Context, dispensaryID *int64, medicationID int64) (decimal.Decimal, error) {
	if dispensaryID != nil {
		inv, err := s.shelf.Shelf(ctx, *dispensaryID, medicationID)
		switch {
		case err == nil:
			return inv.UnitCost, nil
		case !errors.Is(err, shared.ErrNotFound):
			return decimal.Zero, err
		}
	}
	med, err := s.catalog.Medication(ctx, medicationID)
	if err != nil {
		return decimal.Zero, err
	}
	return med.DefaultUnitPrice, nil
}

// authorizeEdit limits doctors to carts for prescriptions they wrote.
// Role admission itself happens in the HTTP layer.
func authorizeEdit(rx prescription.Prescription, actor shared.Principal) error {
	if actor.Role == shared.RoleDoctor && rx.PrescribedBy != actor.ID {
		return fmt.Errorf("%w: prescription %d belongs to another prescriber", shared.ErrForbidden, rx.ID)
	}
	return nil
}

func findRxItem(items []prescription.Item, medicationID int64) (prescription.Item, bool) {
	for _, it := range items {
		if it.MedicationID == medicationID {
			return it, true
		}
	}
	return prescription.Item{}, false
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, cartID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "cart",
		EntityID: strconv.FormatInt(cartID, 10),
		Meta:     meta,
	})
}
