package dispense

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pharmacore/pharmacore/internal/cart"
	"github.com/pharmacore/pharmacore/internal/dispensary"
	"github.com/pharmacore/pharmacore/internal/platform/db"
	"github.com/pharmacore/pharmacore/internal/prescription"
	"github.com/pharmacore/pharmacore/internal/shared"
)

// TxRepository spans every table a dispense touches so the whole run
// commits or rolls back as one. Lock order is the cart row first, then
// shelf rows in line order.
type TxRepository interface {
	GetCartForUpdate(ctx context.Context, cartID int64) (cart.Cart, error)
	GetShelfForUpdate(ctx context.Context, dispensaryID, medicationID int64) (dispensary.Inventory, error)
	DeductShelf(ctx context.Context, dispensaryID, medicationID, qty int64) error
	AddCartItemDispensed(ctx context.Context, itemID, qty int64) error
	AddPrescriptionItemDispensed(ctx context.Context, prescriptionID, medicationID, qty int64) error
	UpdateCartStatus(ctx context.Context, cartID int64, status cart.Status) error
	GetPrescriptionItems(ctx context.Context, prescriptionID int64) ([]prescription.Item, error)
	UpdatePrescriptionStatus(ctx context.Context, prescriptionID int64, status prescription.Status) error
	InsertEvent(ctx context.Context, e Event) (Event, error)
}

// RepositoryPort abstracts the repository for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error
	ListEvents(ctx context.Context, cartID int64) ([]Event, error)
}

// Repository persists dispense events in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn against a transactional repository view.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const eventColumns = `id, ref, cart_id, cart_item_id, prescription_id, medication_id, dispensary_id, quantity, unit_price::text, batch_number, expiry_date, actor_id, created_at`

func scanEvent(row pgx.Row) (Event, error) {
	var e Event
	var price string
	err := row.Scan(&e.ID, &e.Ref, &e.CartID, &e.CartItemID, &e.PrescriptionID, &e.MedicationID, &e.DispensaryID,
		&e.Quantity, &price, &e.BatchNumber, &e.ExpiryDate, &e.ActorID, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, shared.ErrNotFound
		}
		return Event{}, err
	}
	if e.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return Event{}, err
	}
	return e, nil
}

// ListEvents returns dispense events for a cart in hand-over order.
func (r *Repository) ListEvents(ctx context.Context, cartID int64) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+eventColumns+` FROM dispense_events WHERE cart_id=$1 ORDER BY id ASC`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetCartForUpdate(ctx context.Context, cartID int64) (cart.Cart, error) {
	var c cart.Cart
	var status string
	err := r.tx.QueryRow(ctx, `SELECT id, prescription_id, dispensary_id, status, created_by, created_at, updated_at
FROM prescription_carts WHERE id=$1 FOR UPDATE`, cartID).
		Scan(&c.ID, &c.PrescriptionID, &c.DispensaryID, &status, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cart.Cart{}, shared.ErrNotFound
		}
		return cart.Cart{}, err
	}
	c.Status = cart.Status(status)

	rows, err := r.tx.Query(ctx, `SELECT id, cart_id, medication_id, quantity, unit_price::text, quantity_dispensed
FROM cart_items WHERE cart_id=$1 ORDER BY id ASC FOR UPDATE`, cartID)
	if err != nil {
		return cart.Cart{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it cart.Item
		var price string
		if err := rows.Scan(&it.ID, &it.CartID, &it.MedicationID, &it.Quantity, &price, &it.QuantityDispensed); err != nil {
			return cart.Cart{}, err
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return cart.Cart{}, err
		}
		c.Items = append(c.Items, it)
	}
	return c, rows.Err()
}

func (r *txRepository) GetShelfForUpdate(ctx context.Context, dispensaryID, medicationID int64) (dispensary.Inventory, error) {
	var inv dispensary.Inventory
	var cost string
	err := r.tx.QueryRow(ctx, `SELECT dispensary_id, medication_id, stock_quantity, reorder_level, batch_number, expiry_date, unit_cost::text, updated_at
FROM dispensary_inventory WHERE dispensary_id=$1 AND medication_id=$2 FOR UPDATE`, dispensaryID, medicationID).
		Scan(&inv.DispensaryID, &inv.MedicationID, &inv.StockQty, &inv.ReorderLevel, &inv.BatchNumber, &inv.ExpiryDate, &cost, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return dispensary.Inventory{}, shared.ErrNotFound
		}
		return dispensary.Inventory{}, err
	}
	if inv.UnitCost, err = decimal.NewFromString(cost); err != nil {
		return dispensary.Inventory{}, err
	}
	return inv, nil
}

func (r *txRepository) DeductShelf(ctx context.Context, dispensaryID, medicationID, qty int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE dispensary_inventory SET stock_quantity = stock_quantity - $3, updated_at=NOW()
WHERE dispensary_id=$1 AND medication_id=$2 AND stock_quantity >= $3`, dispensaryID, medicationID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrInsufficientDispensaryStock
	}
	return nil
}

func (r *txRepository) AddCartItemDispensed(ctx context.Context, itemID, qty int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE cart_items SET quantity_dispensed = quantity_dispensed + $2 WHERE id=$1`, itemID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) AddPrescriptionItemDispensed(ctx context.Context, prescriptionID, medicationID, qty int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE prescription_items SET quantity_dispensed = quantity_dispensed + $3
WHERE prescription_id=$1 AND medication_id=$2`, prescriptionID, medicationID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) UpdateCartStatus(ctx context.Context, cartID int64, status cart.Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE prescription_carts SET status=$2, updated_at=NOW() WHERE id=$1`, cartID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) GetPrescriptionItems(ctx context.Context, prescriptionID int64) ([]prescription.Item, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, prescription_id, medication_id, dosage, prescribed_quantity, quantity_dispensed
FROM prescription_items WHERE prescription_id=$1 ORDER BY id ASC`, prescriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []prescription.Item
	for rows.Next() {
		var it prescription.Item
		if err := rows.Scan(&it.ID, &it.PrescriptionID, &it.MedicationID, &it.Dosage, &it.PrescribedQuantity, &it.QuantityDispensed); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *txRepository) UpdatePrescriptionStatus(ctx context.Context, prescriptionID int64, status prescription.Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE prescriptions SET status=$2 WHERE id=$1`, prescriptionID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) InsertEvent(ctx context.Context, e Event) (Event, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO dispense_events
(ref, cart_id, cart_item_id, prescription_id, medication_id, dispensary_id, quantity, unit_price, batch_number, expiry_date, actor_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())
RETURNING `+eventColumns,
		e.Ref, e.CartID, e.CartItemID, e.PrescriptionID, e.MedicationID, e.DispensaryID,
		e.Quantity, e.UnitPrice.String(), e.BatchNumber, e.ExpiryDate, e.ActorID)
	return scanEvent(row)
}
