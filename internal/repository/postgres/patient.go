package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

const patientColumns = `id, patient_id, first_name, last_name, date_of_birth, age, gender, created_by, created_at`

type patientRepository struct {
	BaseRepository
}

func NewPatientRepository(base BaseRepository) repository.PatientRepository {
	return &patientRepository{base}
}

func (r *patientRepository) Create(ctx context.Context, p *model.Patient) error {
	query := `
		INSERT INTO patients (
			id, patient_id, first_name, last_name, date_of_birth,
			age, gender, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.PatientID,
		p.FirstName,
		p.LastName,
		p.DateOfBirth,
		p.Age,
		p.Gender,
		p.CreatedBy,
		p.CreatedAt,
	)
	return mapErr(err, "create patient")
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`

	var p model.Patient
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		return nil, mapErr(err, "get patient")
	}
	return &p, nil
}

func (r *patientRepository) GetByPatientID(ctx context.Context, patientID string) (*model.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE patient_id = $1`

	var p model.Patient
	if err := r.db.GetContext(ctx, &p, query, patientID); err != nil {
		return nil, mapErr(err, "get patient by patient id")
	}
	return &p, nil
}

func (r *patientRepository) Update(ctx context.Context, id uuid.UUID, u *model.PatientUpdate) (*model.Patient, error) {
	query := `
		UPDATE patients SET
			first_name    = COALESCE($2, first_name),
			last_name     = COALESCE($3, last_name),
			date_of_birth = COALESCE($4, date_of_birth),
			age           = COALESCE($5, age),
			gender        = COALESCE($6, gender)
		WHERE id = $1
		RETURNING ` + patientColumns

	var p model.Patient
	err := r.db.GetContext(ctx, &p, query,
		id,
		u.FirstName,
		u.LastName,
		u.DateOfBirth,
		u.Age,
		u.Gender,
	)
	if err != nil {
		return nil, mapErr(err, "update patient")
	}
	return &p, nil
}

func (r *patientRepository) List(ctx context.Context) ([]*model.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients ORDER BY last_name, first_name`

	patients := make([]*model.Patient, 0)
	if err := r.db.SelectContext(ctx, &patients, query); err != nil {
		return nil, mapErr(err, "list patients")
	}
	return patients, nil
}
