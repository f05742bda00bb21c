package baas

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

type patientRepository struct {
	client *resty.Client
}

func (r *patientRepository) Create(ctx context.Context, p *model.Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=minimal").
		SetBody(fromPatient(p)).
		Post("/patients")
	return checkResponse(resp, err, "create patient")
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	return r.getOne(ctx, "id", id.String())
}

func (r *patientRepository) GetByPatientID(ctx context.Context, patientID string) (*model.Patient, error) {
	return r.getOne(ctx, "patient_id", patientID)
}

func (r *patientRepository) getOne(ctx context.Context, column, value string) (*model.Patient, error) {
	var rows []patientRow
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParam(column, eq(value)).
		SetQueryParam("select", "*").
		SetResult(&rows).
		Get("/patients")
	if err := checkResponse(resp, err, "get patient"); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, repository.ErrNotFound
	}
	return rows[0].model(), nil
}

func (r *patientRepository) Update(ctx context.Context, id uuid.UUID, u *model.PatientUpdate) (*model.Patient, error) {
	patch := map[string]interface{}{}
	if u.FirstName != nil {
		patch["first_name"] = *u.FirstName
	}
	if u.LastName != nil {
		patch["last_name"] = *u.LastName
	}
	if u.DateOfBirth != nil {
		patch["date_of_birth"] = *u.DateOfBirth
	}
	if u.Age != nil {
		patch["age"] = *u.Age
	}
	if u.Gender != nil {
		patch["gender"] = *u.Gender
	}
	if len(patch) == 0 {
		return r.Get(ctx, id)
	}

	var rows []patientRow
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetQueryParam("id", eq(id.String())).
		SetBody(patch).
		SetResult(&rows).
		Patch("/patients")
	if err := checkResponse(resp, err, "update patient"); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, repository.ErrNotFound
	}
	return rows[0].model(), nil
}

func (r *patientRepository) List(ctx context.Context) ([]*model.Patient, error) {
	var rows []patientRow
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParam("select", "*").
		SetQueryParam("order", "last_name.asc,first_name.asc").
		SetResult(&rows).
		Get("/patients")
	if err := checkResponse(resp, err, "list patients"); err != nil {
		return nil, err
	}

	patients := make([]*model.Patient, 0, len(rows))
	for _, row := range rows {
		patients = append(patients, row.model())
	}
	return patients, nil
}
