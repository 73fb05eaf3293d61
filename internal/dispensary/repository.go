package dispensary

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pharmacore/pharmacore/internal/activestore"
	"github.com/pharmacore/pharmacore/internal/platform/db"
	"github.com/pharmacore/pharmacore/internal/shared"
)

// TxRepository is the transactional surface for transfer transitions.
// Completion touches active store rows and the dispensary shelf in the
// same transaction; lock order is active rows first, then the shelf.
type TxRepository interface {
	GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error)
	UpdateTransfer(ctx context.Context, t Transfer) error
	ListActiveBatchesForUpdate(ctx context.Context, storeID, medicationID int64) ([]activestore.Batch, error)
	DeductActiveBatch(ctx context.Context, batchID, qty int64) error
	DeductActiveAggregate(ctx context.Context, storeID, medicationID, qty int64) error
	UpsertInventory(ctx context.Context, dispensaryID, medicationID, qty int64, batchNumber string, expiry time.Time, unitCost decimal.Decimal) error
}

// RepositoryPort abstracts the repository for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error
	CreateTransfer(ctx context.Context, t Transfer) (Transfer, error)
	GetTransfer(ctx context.Context, id int64) (Transfer, error)
	ListTransfers(ctx context.Context, filter TransferFilter) ([]Transfer, int, error)
	ActiveStoreForDispensary(ctx context.Context, dispensaryID int64) (int64, error)
	GetInventory(ctx context.Context, dispensaryID, medicationID int64) (Inventory, error)
	ListInventory(ctx context.Context, dispensaryID int64) ([]Inventory, error)
}

// Repository persists transfers and shelf inventory in PostgreSQL.
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

const transferColumns = `id, ref, dispensary_id, active_store_id, medication_id, quantity, status,
batch_number, expiry_date, unit_cost::text, note, requested_by, requested_at,
approved_by, approved_at, dispatched_at, transferred_by, transferred_at`

func scanTransfer(row pgx.Row) (Transfer, error) {
	var t Transfer
	var status, cost string
	err := row.Scan(&t.ID, &t.Ref, &t.DispensaryID, &t.ActiveStoreID, &t.MedicationID, &t.Quantity, &status,
		&t.BatchNumber, &t.ExpiryDate, &cost, &t.Note, &t.RequestedBy, &t.RequestedAt,
		&t.ApprovedBy, &t.ApprovedAt, &t.DispatchedAt, &t.TransferredBy, &t.TransferredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, shared.ErrNotFound
		}
		return Transfer{}, err
	}
	t.Status = TransferStatus(status)
	if t.UnitCost, err = decimal.NewFromString(cost); err != nil {
		return Transfer{}, err
	}
	return t, nil
}

// CreateTransfer inserts a pending transfer.
func (r *Repository) CreateTransfer(ctx context.Context, t Transfer) (Transfer, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO dispensary_transfers
(ref, dispensary_id, active_store_id, medication_id, quantity, status, batch_number, expiry_date, unit_cost, note, requested_by, requested_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())
RETURNING `+transferColumns,
		t.Ref, t.DispensaryID, t.ActiveStoreID, t.MedicationID, t.Quantity, string(t.Status),
		t.BatchNumber, t.ExpiryDate, t.UnitCost.String(), t.Note, t.RequestedBy)
	return scanTransfer(row)
}

// GetTransfer loads a transfer by id.
func (r *Repository) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM dispensary_transfers WHERE id=$1`, id)
	return scanTransfer(row)
}

// ListTransfers returns a filtered page plus the total match count.
func (r *Repository) ListTransfers(ctx context.Context, filter TransferFilter) ([]Transfer, int, error) {
	pagination := shared.NewPagination(filter.Page, filter.PerPage, 0)
	where := ` WHERE 1=1`
	args := []any{}
	if filter.DispensaryID > 0 {
		args = append(args, filter.DispensaryID)
		where += ` AND dispensary_id=$1`
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		if len(args) == 1 {
			where += ` AND status=$1`
		} else {
			where += ` AND status=$2`
		}
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dispensary_transfers`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limitPos := len(args) + 1
	query := `SELECT ` + transferColumns + ` FROM dispensary_transfers` + where +
		` ORDER BY requested_at DESC, id DESC` +
		` LIMIT $` + strconv.Itoa(limitPos) + ` OFFSET $` + strconv.Itoa(limitPos+1)
	args = append(args, pagination.PerPage, pagination.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var list []Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, t)
	}
	return list, total, rows.Err()
}

// ActiveStoreForDispensary resolves the back-room store id.
func (r *Repository) ActiveStoreForDispensary(ctx context.Context, dispensaryID int64) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM active_stores WHERE dispensary_id=$1`, dispensaryID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.ErrNotFound
		}
		return 0, err
	}
	return id, nil
}

const inventoryColumns = `dispensary_id, medication_id, stock_quantity, reorder_level, batch_number, expiry_date, unit_cost::text, updated_at`

func scanInventory(row pgx.Row) (Inventory, error) {
	var inv Inventory
	var cost string
	err := row.Scan(&inv.DispensaryID, &inv.MedicationID, &inv.StockQty, &inv.ReorderLevel, &inv.BatchNumber, &inv.ExpiryDate, &cost, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Inventory{}, shared.ErrNotFound
		}
		return Inventory{}, err
	}
	if inv.UnitCost, err = decimal.NewFromString(cost); err != nil {
		return Inventory{}, err
	}
	return inv, nil
}

// GetInventory loads the shelf row for (dispensary, medication).
func (r *Repository) GetInventory(ctx context.Context, dispensaryID, medicationID int64) (Inventory, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+inventoryColumns+`
FROM dispensary_inventory WHERE dispensary_id=$1 AND medication_id=$2`, dispensaryID, medicationID)
	return scanInventory(row)
}

// ListInventory lists shelf rows for a dispensary.
func (r *Repository) ListInventory(ctx context.Context, dispensaryID int64) ([]Inventory, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+inventoryColumns+`
FROM dispensary_inventory WHERE dispensary_id=$1 ORDER BY medication_id ASC`, dispensaryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Inventory
	for rows.Next() {
		inv, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, inv)
	}
	return list, rows.Err()
}

// LowStock returns shelf rows at or below their reorder level.
func (r *Repository) LowStock(ctx context.Context) ([]Inventory, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+inventoryColumns+`
FROM dispensary_inventory WHERE stock_quantity <= reorder_level ORDER BY dispensary_id, medication_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Inventory
	for rows.Next() {
		inv, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, inv)
	}
	return list, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM dispensary_transfers WHERE id=$1 FOR UPDATE`, id)
	return scanTransfer(row)
}

func (r *txRepository) UpdateTransfer(ctx context.Context, t Transfer) error {
	tag, err := r.tx.Exec(ctx, `UPDATE dispensary_transfers SET
status=$2, batch_number=$3, expiry_date=$4, unit_cost=$5,
approved_by=$6, approved_at=$7, dispatched_at=$8, transferred_by=$9, transferred_at=$10
WHERE id=$1`,
		t.ID, string(t.Status), t.BatchNumber, t.ExpiryDate, t.UnitCost.String(),
		t.ApprovedBy, t.ApprovedAt, t.DispatchedAt, t.TransferredBy, t.TransferredAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) ListActiveBatchesForUpdate(ctx context.Context, storeID, medicationID int64) ([]activestore.Batch, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, store_id, medication_id, batch_number, expiry_date, quantity, unit_cost::text, created_at
FROM active_store_batches WHERE store_id=$1 AND medication_id=$2 ORDER BY id ASC FOR UPDATE`, storeID, medicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var batches []activestore.Batch
	for rows.Next() {
		var b activestore.Batch
		var cost string
		if err := rows.Scan(&b.ID, &b.StoreID, &b.MedicationID, &b.BatchNumber, &b.ExpiryDate, &b.Quantity, &cost, &b.CreatedAt); err != nil {
			return nil, err
		}
		if b.UnitCost, err = decimal.NewFromString(cost); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (r *txRepository) DeductActiveBatch(ctx context.Context, batchID, qty int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE active_store_batches SET quantity = quantity - $2 WHERE id=$1 AND quantity >= $2`, batchID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrInsufficientActiveStock
	}
	return nil
}

func (r *txRepository) DeductActiveAggregate(ctx context.Context, storeID, medicationID, qty int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE active_store_inventory SET stock_quantity = stock_quantity - $3, updated_at=NOW()
WHERE store_id=$1 AND medication_id=$2 AND stock_quantity >= $3`, storeID, medicationID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrInsufficientActiveStock
	}
	return nil
}

func (r *txRepository) UpsertInventory(ctx context.Context, dispensaryID, medicationID, qty int64, batchNumber string, expiry time.Time, unitCost decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO dispensary_inventory
(dispensary_id, medication_id, stock_quantity, reorder_level, batch_number, expiry_date, unit_cost, updated_at)
VALUES ($1,$2,$3,0,$4,$5,$6,NOW())
ON CONFLICT (dispensary_id, medication_id) DO UPDATE SET
  stock_quantity = dispensary_inventory.stock_quantity + EXCLUDED.stock_quantity,
  batch_number = EXCLUDED.batch_number,
  expiry_date = EXCLUDED.expiry_date,
  unit_cost = EXCLUDED.unit_cost,
  updated_at = NOW()`,
		dispensaryID, medicationID, qty, batchNumber, expiry, unitCost.String())
	return err
}
