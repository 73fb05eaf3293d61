package prescription

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pharmacore/pharmacore/internal/shared"
)

// RepositoryPort abstracts the repository for the service.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Prescription, error)
	ListForPatient(ctx context.Context, patientID int64) ([]Prescription, error)
	Create(ctx context.Context, p Prescription) (Prescription, error)
	UpdateAuthorizationCode(ctx context.Context, id int64, code string) error
}

// Repository persists prescriptions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const prescriptionColumns = `id, patient_id, patient_type, authorization_code, requires_authorization, status, prescribed_by, created_at`

func scanPrescription(row pgx.Row) (Prescription, error) {
	var p Prescription
	var ptype, status string
	err := row.Scan(&p.ID, &p.PatientID, &ptype, &p.AuthorizationCode, &p.RequiresAuthorization, &status, &p.PrescribedBy, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Prescription{}, shared.ErrNotFound
		}
		return Prescription{}, err
	}
	p.PatientType = PatientType(ptype)
	p.Status = Status(status)
	return p, nil
}

// Get loads a prescription with its items.
func (r *Repository) Get(ctx context.Context, id int64) (Prescription, error) {
	p, err := scanPrescription(r.pool.QueryRow(ctx, `SELECT `+prescriptionColumns+` FROM prescriptions WHERE id=$1`, id))
	if err != nil {
		return Prescription{}, err
	}
	items, err := r.items(ctx, id)
	if err != nil {
		return Prescription{}, err
	}
	p.Items = items
	return p, nil
}

func (r *Repository) items(ctx context.Context, prescriptionID int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, prescription_id, medication_id, dosage, prescribed_quantity, quantity_dispensed
FROM prescription_items WHERE prescription_id=$1 ORDER BY id ASC`, prescriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.PrescriptionID, &it.MedicationID, &it.Dosage, &it.PrescribedQuantity, &it.QuantityDispensed); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListForPatient returns a patient's prescriptions, newest first, without items.
func (r *Repository) ListForPatient(ctx context.Context, patientID int64) ([]Prescription, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+prescriptionColumns+`
FROM prescriptions WHERE patient_id=$1 ORDER BY created_at DESC, id DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// Create inserts a prescription and its items in one transaction.
func (r *Repository) Create(ctx context.Context, p Prescription) (Prescription, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Prescription{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `INSERT INTO prescriptions
(patient_id, patient_type, authorization_code, requires_authorization, status, prescribed_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW()) RETURNING id, created_at`,
		p.PatientID, string(p.PatientType), p.AuthorizationCode, p.RequiresAuthorization, string(p.Status), p.PrescribedBy).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return Prescription{}, err
	}
	for i := range p.Items {
		p.Items[i].PrescriptionID = p.ID
		err = tx.QueryRow(ctx, `INSERT INTO prescription_items (prescription_id, medication_id, dosage, prescribed_quantity, quantity_dispensed)
VALUES ($1,$2,$3,$4,0) RETURNING id`,
			p.ID, p.Items[i].MedicationID, p.Items[i].Dosage, p.Items[i].PrescribedQuantity).
			Scan(&p.Items[i].ID)
		if err != nil {
			return Prescription{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Prescription{}, err
	}
	return p, nil
}

// UpdateAuthorizationCode attaches a desk office authorization code.
func (r *Repository) UpdateAuthorizationCode(ctx context.Context, id int64, code string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE prescriptions SET authorization_code=$2 WHERE id=$1`, id, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
