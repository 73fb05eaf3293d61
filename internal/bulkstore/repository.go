package bulkstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pharmacore/pharmacore/internal/platform/db"
	"github.com/pharmacore/pharmacore/internal/shared"
)

// TxRepository is the transactional surface for bulk store mutations. It
// also covers landing stock in the active store so that an issue decrements
// bulk and increments the destination in one transaction. Lock order is
// bulk rows first, then the active aggregate.
type TxRepository interface {
	GetBatchForUpdate(ctx context.Context, medicationID int64, batchNumber string, expiry time.Time) (Batch, error)
	InsertBatch(ctx context.Context, b Batch) (Batch, error)
	AddBatchQuantity(ctx context.Context, batchID, delta int64) (Batch, error)
	ListBatchesForUpdate(ctx context.Context, medicationID int64) ([]Batch, error)
	LandActiveBatch(ctx context.Context, storeID, medicationID int64, line IssueLine) error
}

// RepositoryPort abstracts the repository for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error
	ListBatches(ctx context.Context, medicationID int64) ([]Batch, error)
}

// Repository persists bulk store batches in PostgreSQL.
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

const batchColumns = `id, medication_id, batch_number, expiry_date, quantity, unit_cost::text, markup_percentage::text, marked_up_cost::text, created_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	var cost, markup, marked string
	if err := row.Scan(&b.ID, &b.MedicationID, &b.BatchNumber, &b.ExpiryDate, &b.Quantity, &cost, &markup, &marked, &b.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, shared.ErrNotFound
		}
		return Batch{}, err
	}
	var err error
	if b.UnitCost, err = decimal.NewFromString(cost); err != nil {
		return Batch{}, err
	}
	if b.MarkupPct, err = decimal.NewFromString(markup); err != nil {
		return Batch{}, err
	}
	if b.MarkedUpCost, err = decimal.NewFromString(marked); err != nil {
		return Batch{}, err
	}
	return b, nil
}

func listBatches(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, query string, args ...any) ([]Batch, error) {
	rows, err := q.Query(ctx, query, args...)
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

// ListBatches returns all batches for a medication in insertion order.
func (r *Repository) ListBatches(ctx context.Context, medicationID int64) ([]Batch, error) {
	return listBatches(ctx, r.pool, `SELECT `+batchColumns+`
FROM bulk_store_batches WHERE medication_id=$1 ORDER BY id ASC`, medicationID)
}

// ExpiringBatches returns batches expiring on or before the cutoff that
// still hold stock. Used by the expiry scan job.
func (r *Repository) ExpiringBatches(ctx context.Context, cutoff time.Time) ([]Batch, error) {
	return listBatches(ctx, r.pool, `SELECT `+batchColumns+`
FROM bulk_store_batches WHERE expiry_date <= $1 AND quantity > 0 ORDER BY expiry_date ASC`, cutoff)
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetBatchForUpdate(ctx context.Context, medicationID int64, batchNumber string, expiry time.Time) (Batch, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+batchColumns+`
FROM bulk_store_batches WHERE medication_id=$1 AND batch_number=$2 AND expiry_date=$3 FOR UPDATE`,
		medicationID, batchNumber, expiry)
	return scanBatch(row)
}

func (r *txRepository) InsertBatch(ctx context.Context, b Batch) (Batch, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO bulk_store_batches (medication_id, batch_number, expiry_date, quantity, unit_cost, markup_percentage, marked_up_cost, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
RETURNING `+batchColumns,
		b.MedicationID, b.BatchNumber, b.ExpiryDate, b.Quantity,
		b.UnitCost.String(), b.MarkupPct.String(), b.MarkedUpCost.String())
	return scanBatch(row)
}

func (r *txRepository) AddBatchQuantity(ctx context.Context, batchID, delta int64) (Batch, error) {
	row := r.tx.QueryRow(ctx, `UPDATE bulk_store_batches SET quantity = quantity + $2 WHERE id=$1
RETURNING `+batchColumns, batchID, delta)
	return scanBatch(row)
}

func (r *txRepository) ListBatchesForUpdate(ctx context.Context, medicationID int64) ([]Batch, error) {
	return listBatches(ctx, r.tx, `SELECT `+batchColumns+`
FROM bulk_store_batches WHERE medication_id=$1 ORDER BY id ASC FOR UPDATE`, medicationID)
}

// LandActiveBatch records an issued lot in the destination active store and
// folds it into the aggregate inventory row. The landed unit cost is the
// bulk batch's marked-up cost.
func (r *txRepository) LandActiveBatch(ctx context.Context, storeID, medicationID int64, line IssueLine) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO active_store_batches (store_id, medication_id, batch_number, expiry_date, quantity, unit_cost, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())`,
		storeID, medicationID, line.BatchNumber, line.ExpiryDate, line.Quantity, line.MarkedUpCost.String())
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO active_store_inventory (store_id, medication_id, stock_quantity, reorder_level, batch_number, expiry_date, unit_cost, updated_at)
VALUES ($1,$2,$3,0,$4,$5,$6,NOW())
ON CONFLICT (store_id, medication_id) DO UPDATE SET
  stock_quantity = active_store_inventory.stock_quantity + EXCLUDED.stock_quantity,
  batch_number = EXCLUDED.batch_number,
  expiry_date = EXCLUDED.expiry_date,
  unit_cost = EXCLUDED.unit_cost,
  updated_at = NOW()`,
		storeID, medicationID, line.Quantity, line.BatchNumber, line.ExpiryDate, line.MarkedUpCost.String())
	return err
}
