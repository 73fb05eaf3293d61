package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pharmacore/pharmacore/internal/shared"
)

// Repository persists catalog master data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const medicationColumns = `id, name, generic_name, strength, dosage_form, unit, default_unit_price::text, created_at, updated_at`

func scanMedication(row pgx.Row) (Medication, error) {
	var med Medication
	var price string
	if err := row.Scan(&med.ID, &med.Name, &med.GenericName, &med.Strength, &med.DosageForm, &med.Unit, &price, &med.CreatedAt, &med.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Medication{}, shared.ErrNotFound
		}
		return Medication{}, err
	}
	parsed, err := decimal.NewFromString(price)
	if err != nil {
		return Medication{}, err
	}
	med.DefaultUnitPrice = parsed
	return med, nil
}

// GetMedication loads a medication by id.
func (r *Repository) GetMedication(ctx context.Context, id int64) (Medication, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+medicationColumns+` FROM medications WHERE id=$1`, id)
	return scanMedication(row)
}

// ListMedications returns a filtered page plus the total match count.
func (r *Repository) ListMedications(ctx context.Context, filter ListFilter) ([]Medication, int, error) {
	pagination := shared.NewPagination(filter.Page, filter.PerPage, 0)
	args := []any{}
	where := ""
	if prefix := strings.TrimSpace(filter.NamePrefix); prefix != "" {
		where = ` WHERE name ILIKE $1 OR generic_name ILIKE $1`
		args = append(args, prefix+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM medications`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + medicationColumns + ` FROM medications` + where + ` ORDER BY name ASC, strength ASC`
	if where == "" {
		query += ` LIMIT $1 OFFSET $2`
	} else {
		query += ` LIMIT $2 OFFSET $3`
	}
	args = append(args, pagination.PerPage, pagination.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var meds []Medication
	for rows.Next() {
		med, err := scanMedication(rows)
		if err != nil {
			return nil, 0, err
		}
		meds = append(meds, med)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return meds, total, nil
}

// CreateMedication inserts a medication. (name, strength, dosage_form) is unique.
func (r *Repository) CreateMedication(ctx context.Context, med Medication) (Medication, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO medications (name, generic_name, strength, dosage_form, unit, default_unit_price, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW())
RETURNING `+medicationColumns,
		med.Name, med.GenericName, med.Strength, med.DosageForm, med.Unit, med.DefaultUnitPrice.String())
	return scanMedication(row)
}

// UpdateMedication updates mutable fields.
func (r *Repository) UpdateMedication(ctx context.Context, med Medication) error {
	tag, err := r.pool.Exec(ctx, `UPDATE medications SET generic_name=$2, unit=$3, default_unit_price=$4, updated_at=NOW() WHERE id=$1`,
		med.ID, med.GenericName, med.Unit, med.DefaultUnitPrice.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// GetDispensary loads a dispensary by id.
func (r *Repository) GetDispensary(ctx context.Context, id int64) (Dispensary, error) {
	var d Dispensary
	err := r.pool.QueryRow(ctx, `SELECT id, name, location, active, manager_id, created_at FROM dispensaries WHERE id=$1`, id).
		Scan(&d.ID, &d.Name, &d.Location, &d.Active, &d.ManagerID, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispensary{}, shared.ErrNotFound
		}
		return Dispensary{}, err
	}
	return d, nil
}

// ListDispensaries returns all dispensaries.
func (r *Repository) ListDispensaries(ctx context.Context, activeOnly bool) ([]Dispensary, error) {
	query := `SELECT id, name, location, active, manager_id, created_at FROM dispensaries`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY name ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Dispensary
	for rows.Next() {
		var d Dispensary
		if err := rows.Scan(&d.ID, &d.Name, &d.Location, &d.Active, &d.ManagerID, &d.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

// CreateDispensary inserts a dispensary and its paired active store.
func (r *Repository) CreateDispensary(ctx context.Context, d Dispensary) (Dispensary, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Dispensary{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `INSERT INTO dispensaries (name, location, active, manager_id, created_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id, created_at`, d.Name, d.Location, d.Active, d.ManagerID).
		Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return Dispensary{}, err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO active_stores (dispensary_id, name) VALUES ($1, $2)`,
		d.ID, d.Name+" Active Store"); err != nil {
		return Dispensary{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Dispensary{}, err
	}
	return d, nil
}

// ActiveStoreForDispensary resolves the dispensary's back-room store.
func (r *Repository) ActiveStoreForDispensary(ctx context.Context, dispensaryID int64) (ActiveStore, error) {
	var store ActiveStore
	err := r.pool.QueryRow(ctx, `SELECT id, dispensary_id, name FROM active_stores WHERE dispensary_id=$1`, dispensaryID).
		Scan(&store.ID, &store.DispensaryID, &store.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ActiveStore{}, shared.ErrNotFound
		}
		return ActiveStore{}, err
	}
	return store, nil
}
