package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

const consultationColumns = `id, doctor_id, patient_id, date, duration, status, audio_url, transcription, error, updated_at`

type consultationRepository struct {
	BaseRepository
}

func NewConsultationRepository(base BaseRepository) repository.ConsultationRepository {
	return &consultationRepository{base}
}

func (r *consultationRepository) Create(ctx context.Context, c *model.Consultation) error {
	query := `
		INSERT INTO consultations (
			id, doctor_id, patient_id, date, duration, status,
			audio_url, transcription, error, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	if c.Date.IsZero() {
		c.Date = now
	}
	c.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		c.ID,
		c.DoctorID,
		c.PatientID,
		c.Date,
		c.Duration,
		c.Status,
		c.AudioURL,
		c.Transcription,
		c.Error,
		c.UpdatedAt,
	)
	return mapErr(err, "create consultation")
}

func (r *consultationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Consultation, error) {
	query := `SELECT ` + consultationColumns + ` FROM consultations WHERE id = $1`

	var c model.Consultation
	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		return nil, mapErr(err, "get consultation")
	}
	return &c, nil
}

// Update locks the row so the expected-status check and the write are atomic
func (r *consultationRepository) Update(ctx context.Context, id uuid.UUID, expected model.ConsultationStatus, u *model.ConsultationUpdate) (*model.Consultation, error) {
	var updated model.Consultation

	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var current model.ConsultationStatus
		err := tx.GetContext(ctx, &current, `SELECT status FROM consultations WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return mapErr(err, "lock consultation")
		}
		if expected != "" && current != expected {
			return repository.ErrConflict
		}

		query := `
			UPDATE consultations SET
				status        = COALESCE($2, status),
				duration      = COALESCE($3, duration),
				audio_url     = COALESCE($4, audio_url),
				transcription = COALESCE($5, transcription),
				error         = COALESCE($6, error),
				updated_at    = $7
			WHERE id = $1
			RETURNING ` + consultationColumns

		return tx.GetContext(ctx, &updated, query,
			id,
			u.Status,
			u.Duration,
			u.AudioURL,
			u.Transcription,
			u.Error,
			time.Now().UTC(),
		)
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, mapErr(err, "update consultation")
	}
	return &updated, nil
}

func (r *consultationRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*model.Consultation, error) {
	query := `SELECT ` + consultationColumns + ` FROM consultations WHERE doctor_id = $1 ORDER BY date DESC`

	consultations := make([]*model.Consultation, 0)
	if err := r.db.SelectContext(ctx, &consultations, query, doctorID); err != nil {
		return nil, mapErr(err, "list consultations")
	}
	return consultations, nil
}
