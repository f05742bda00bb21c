package baas

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

type consultationRepository struct {
	client *resty.Client
}

func (r *consultationRepository) Create(ctx context.Context, c *model.Consultation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	if c.Date.IsZero() {
		c.Date = now
	}
	c.UpdatedAt = now

	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=minimal").
		SetBody(fromConsultation(c)).
		Post("/consultations")
	err = checkResponse(resp, err, "create consultation")
	// foreign key violations surface as 409 from PostgREST
	if errors.Is(err, repository.ErrConflict) {
		return repository.ErrNotFound
	}
	return err
}

func (r *consultationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Consultation, error) {
	var rows []consultationRow
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParam("id", eq(id.String())).
		SetQueryParam("select", "*").
		SetResult(&rows).
		Get("/consultations")
	if err := checkResponse(resp, err, "get consultation"); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, repository.ErrNotFound
	}
	return rows[0].model(), nil
}

// Update filters on the expected status so the check and write happen in one statement
func (r *consultationRepository) Update(ctx context.Context, id uuid.UUID, expected model.ConsultationStatus, u *model.ConsultationUpdate) (*model.Consultation, error) {
	patch := map[string]interface{}{
		"updated_at": time.Now().UTC(),
	}
	if u.Status != nil {
		patch["status"] = *u.Status
	}
	if u.Duration != nil {
		patch["duration"] = *u.Duration
	}
	if u.AudioURL != nil {
		patch["audio_url"] = *u.AudioURL
	}
	if len(u.Transcription) > 0 {
		patch["transcription"] = json.RawMessage(u.Transcription)
	}
	if u.Error != nil {
		patch["error"] = *u.Error
	}

	req := r.client.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetQueryParam("id", eq(id.String()))
	if expected != "" {
		req.SetQueryParam("status", eq(string(expected)))
	}

	var rows []consultationRow
	resp, err := req.SetBody(patch).SetResult(&rows).Patch("/consultations")
	if err := checkResponse(resp, err, "update consultation"); err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return rows[0].model(), nil
	}

	// nothing matched: either the row is gone or its status moved on
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, repository.ErrConflict
}

func (r *consultationRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*model.Consultation, error) {
	var rows []consultationRow
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParam("doctor_id", eq(doctorID.String())).
		SetQueryParam("select", "*").
		SetQueryParam("order", "date.desc").
		SetResult(&rows).
		Get("/consultations")
	if err := checkResponse(resp, err, "list consultations"); err != nil {
		return nil, err
	}

	out := make([]*model.Consultation, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}
