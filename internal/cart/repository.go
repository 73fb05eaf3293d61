package cart

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pharmacore/pharmacore/internal/platform/db"
	"github.com/pharmacore/pharmacore/internal/shared"
)

// TxRepository is the transactional surface for cart mutations.
type TxRepository interface {
	GetCartForUpdate(ctx context.Context, id int64) (Cart, error)
	UpdateCartStatus(ctx context.Context, id int64, status Status) error
	SetCartDispensary(ctx context.Context, id int64, dispensaryID int64) error
	UpsertItem(ctx context.Context, item Item) (Item, error)
	UpdateItemPrice(ctx context.Context, itemID int64, price decimal.Decimal) error
	RemoveItem(ctx context.Context, itemID int64) error
}

// RepositoryPort abstracts the repository for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error
	GetCart(ctx context.Context, id int64) (Cart, error)
	ActiveCartForPrescription(ctx context.Context, prescriptionID int64) (Cart, error)
	CreateCart(ctx context.Context, c Cart) (Cart, error)
}

// Repository persists carts in PostgreSQL.
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

const cartColumns = `id, prescription_id, dispensary_id, status, created_by, created_at, updated_at`

func scanCart(row pgx.Row) (Cart, error) {
	var c Cart
	var status string
	err := row.Scan(&c.ID, &c.PrescriptionID, &c.DispensaryID, &status, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Cart{}, shared.ErrNotFound
		}
		return Cart{}, err
	}
	c.Status = Status(status)
	return c, nil
}

func loadItems(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, cartID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, cart_id, medication_id, quantity, unit_price::text, quantity_dispensed
FROM cart_items WHERE cart_id=$1 ORDER BY id ASC`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		var price string
		if err := rows.Scan(&it.ID, &it.CartID, &it.MedicationID, &it.Quantity, &price, &it.QuantityDispensed); err != nil {
			return nil, err
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetCart loads a cart with items.
func (r *Repository) GetCart(ctx context.Context, id int64) (Cart, error) {
	c, err := scanCart(r.pool.QueryRow(ctx, `SELECT `+cartColumns+` FROM prescription_carts WHERE id=$1`, id))
	if err != nil {
		return Cart{}, err
	}
	if c.Items, err = loadItems(ctx, r.pool, id); err != nil {
		return Cart{}, err
	}
	return c, nil
}

// ActiveCartForPrescription loads the open cart for a prescription.
func (r *Repository) ActiveCartForPrescription(ctx context.Context, prescriptionID int64) (Cart, error) {
	c, err := scanCart(r.pool.QueryRow(ctx, `SELECT `+cartColumns+`
FROM prescription_carts WHERE prescription_id=$1 AND status='active'`, prescriptionID))
	if err != nil {
		return Cart{}, err
	}
	if c.Items, err = loadItems(ctx, r.pool, c.ID); err != nil {
		return Cart{}, err
	}
	return c, nil
}

// CreateCart inserts an active cart. A partial unique index
// (uq_active_cart) backs the one-open-cart-per-prescription rule.
func (r *Repository) CreateCart(ctx context.Context, c Cart) (Cart, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO prescription_carts (prescription_id, dispensary_id, status, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,NOW(),NOW()) RETURNING `+cartColumns,
		c.PrescriptionID, c.DispensaryID, string(c.Status), c.CreatedBy)
	created, err := scanCart(row)
	if err != nil {
		if uniqueCartViolation(err) {
			return Cart{}, shared.ErrCartExists
		}
		return Cart{}, err
	}
	return created, nil
}

// uniqueCartViolation reports whether err is the uq_active_cart unique
// violation raised when a second active cart races in for the same
// prescription.
func uniqueCartViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "uq_active_cart"
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetCartForUpdate(ctx context.Context, id int64) (Cart, error) {
	c, err := scanCart(r.tx.QueryRow(ctx, `SELECT `+cartColumns+` FROM prescription_carts WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Cart{}, err
	}
	if c.Items, err = loadItems(ctx, r.tx, id); err != nil {
		return Cart{}, err
	}
	return c, nil
}

func (r *txRepository) UpdateCartStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE prescription_carts SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) SetCartDispensary(ctx context.Context, id int64, dispensaryID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE prescription_carts SET dispensary_id=$2, updated_at=NOW() WHERE id=$1`, id, dispensaryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) UpsertItem(ctx context.Context, item Item) (Item, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO cart_items (cart_id, medication_id, quantity, unit_price, quantity_dispensed)
VALUES ($1,$2,$3,$4,0)
ON CONFLICT (cart_id, medication_id) DO UPDATE SET quantity = EXCLUDED.quantity, unit_price = EXCLUDED.unit_price
RETURNING id, cart_id, medication_id, quantity, unit_price::text, quantity_dispensed`,
		item.CartID, item.MedicationID, item.Quantity, item.UnitPrice.String())
	var it Item
	var price string
	if err := row.Scan(&it.ID, &it.CartID, &it.MedicationID, &it.Quantity, &price, &it.QuantityDispensed); err != nil {
		return Item{}, err
	}
	parsed, err := decimal.NewFromString(price)
	if err != nil {
		return Item{}, err
	}
	it.UnitPrice = parsed
	return it, nil
}

func (r *txRepository) UpdateItemPrice(ctx context.Context, itemID int64, price decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE cart_items SET unit_price=$2 WHERE id=$1`, itemID, price.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) RemoveItem(ctx context.Context, itemID int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM cart_items WHERE id=$1`, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
