package activestore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pharmacore/pharmacore/internal/shared"
)

// Repository reads active store state from PostgreSQL. All writes to
// active store rows happen inside the bulk issue and transfer completion
// transactions owned by those modules.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const batchColumns = `id, store_id, medication_id, batch_number, expiry_date, quantity, unit_cost::text, created_at`

func scanBatch(rows pgx.Rows) (Batch, error) {
	var b Batch
	var cost string
	if err := rows.Scan(&b.ID, &b.StoreID, &b.MedicationID, &b.BatchNumber, &b.ExpiryDate, &b.Quantity, &cost, &b.CreatedAt); err != nil {
		return Batch{}, err
	}
	parsed, err := decimal.NewFromString(cost)
	if err != nil {
		return Batch{}, err
	}
	b.UnitCost = parsed
	return b, nil
}

// ListBatches returns all batches for (store, medication) in insertion order.
func (r *Repository) ListBatches(ctx context.Context, storeID, medicationID int64) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+`
FROM active_store_batches WHERE store_id=$1 AND medication_id=$2 ORDER BY id ASC`, storeID, medicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// GetInventory loads the aggregate row for (store, medication).
func (r *Repository) GetInventory(ctx context.Context, storeID, medicationID int64) (Inventory, error) {
	var inv Inventory
	var cost string
	err := r.pool.QueryRow(ctx, `SELECT store_id, medication_id, stock_quantity, reorder_level, batch_number, expiry_date, unit_cost::text, updated_at
FROM active_store_inventory WHERE store_id=$1 AND medication_id=$2`, storeID, medicationID).
		Scan(&inv.StoreID, &inv.MedicationID, &inv.StockQty, &inv.ReorderLevel, &inv.BatchNumber, &inv.ExpiryDate, &cost, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Inventory{}, shared.ErrNotFound
		}
		return Inventory{}, err
	}
	parsed, err := decimal.NewFromString(cost)
	if err != nil {
		return Inventory{}, err
	}
	inv.UnitCost = parsed
	return inv, nil
}

// ListInventory lists aggregate rows for a store.
func (r *Repository) ListInventory(ctx context.Context, storeID int64) ([]Inventory, error) {
	rows, err := r.pool.Query(ctx, `SELECT store_id, medication_id, stock_quantity, reorder_level, batch_number, expiry_date, unit_cost::text, updated_at
FROM active_store_inventory WHERE store_id=$1 ORDER BY medication_id ASC`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Inventory
	for rows.Next() {
		var inv Inventory
		var cost string
		if err := rows.Scan(&inv.StoreID, &inv.MedicationID, &inv.StockQty, &inv.ReorderLevel, &inv.BatchNumber, &inv.ExpiryDate, &cost, &inv.UpdatedAt); err != nil {
			return nil, err
		}
		parsed, err := decimal.NewFromString(cost)
		if err != nil {
			return nil, err
		}
		inv.UnitCost = parsed
		list = append(list, inv)
	}
	return list, rows.Err()
}

// ExpiringBatches returns batches expiring on or before the cutoff that
// still hold stock. Used by the expiry scan job.
func (r *Repository) ExpiringBatches(ctx context.Context, cutoff time.Time) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+`
FROM active_store_batches WHERE expiry_date <= $1 AND quantity > 0 ORDER BY expiry_date ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// LowStock returns aggregate rows at or below their reorder level.
func (r *Repository) LowStock(ctx context.Context) ([]Inventory, error) {
	rows, err := r.pool.Query(ctx, `SELECT store_id, medication_id, stock_quantity, reorder_level, batch_number, expiry_date, unit_cost::text, updated_at
FROM active_store_inventory WHERE stock_quantity <= reorder_level ORDER BY store_id, medication_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Inventory
	for rows.Next() {
		var inv Inventory
		var cost string
		if err := rows.Scan(&inv.StoreID, &inv.MedicationID, &inv.StockQty, &inv.ReorderLevel, &inv.BatchNumber, &inv.ExpiryDate, &cost, &inv.UpdatedAt); err != nil {
			return nil, err
		}
		parsed, err := decimal.NewFromString(cost)
		if err != nil {
			return nil, err
		}
		inv.UnitCost = parsed
		list = append(list, inv)
	}
	return list, rows.Err()
}
