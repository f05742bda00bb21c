package patient

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
	"github.com/jwalitptl/consult-api/internal/validation"
	"github.com/jwalitptl/consult-api/pkg/errors"
	"github.com/jwalitptl/consult-api/pkg/logger"
)

// generated patient ids can collide; give up after this many attempts
const maxIDAttempts = 3

type Service struct {
	repo      repository.PatientRepository
	validator *validation.Validator
	logger    *logger.Logger
	now       func() time.Time
	newID     func() string
}

func NewService(repo repository.PatientRepository, v *validation.Validator, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:      repo,
		validator: v,
		logger:    log.With("patient"),
		now:       time.Now,
		newID:     GeneratePatientID,
	}
}

// GeneratePatientID returns "P-" followed by 8 upper-case hex characters
func GeneratePatientID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "P-" + strings.ToUpper(id[:8])
}

func (s *Service) Create(ctx context.Context, createdBy uuid.UUID, req *model.CreatePatientRequest) (*model.Patient, error) {
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if err := s.validator.CreatePatient(req); err != nil {
		return nil, err
	}

	patient := &model.Patient{
		PatientID: req.PatientID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Gender:    req.Gender,
		CreatedBy: createdBy,
	}
	if req.Age != nil {
		patient.Age = *req.Age
	}
	if req.DateOfBirth != nil {
		age, err := s.ageFrom(*req.DateOfBirth)
		if err != nil {
			return nil, err
		}
		dob := *req.DateOfBirth
		patient.DateOfBirth = &dob
		patient.Age = age
	}

	generated := patient.PatientID == ""
	for attempt := 1; ; attempt++ {
		if generated {
			patient.PatientID = s.newID()
		}
		patient.ID = uuid.New()
		patient.CreatedAt = s.now().UTC()

		err := s.repo.Create(ctx, patient)
		if err == nil {
			break
		}
		if !stderrors.Is(err, repository.ErrConflict) {
			return nil, errors.NewInternal(fmt.Errorf("failed to create patient: %w", err))
		}
		if !generated || attempt >= maxIDAttempts {
			return nil, errors.Conflict("Patient ID already exists", err)
		}
	}

	s.logger.Info("patient created", "patient_id", patient.ID.String(), "created_by", createdBy.String())
	return patient, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	patient, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err, "failed to get patient")
	}
	return patient, nil
}

func (s *Service) List(ctx context.Context) ([]*model.Patient, error) {
	patients, err := s.repo.List(ctx)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to list patients: %w", err))
	}
	return patients, nil
}

// Update applies a partial update. A new dateOfBirth recomputes the age
// unless an age is given explicitly.
func (s *Service) Update(ctx context.Context, id uuid.UUID, update *model.PatientUpdate) (*model.Patient, error) {
	if update.FirstName != nil {
		v := strings.TrimSpace(*update.FirstName)
		update.FirstName = &v
	}
	if update.LastName != nil {
		v := strings.TrimSpace(*update.LastName)
		update.LastName = &v
	}
	if err := s.validator.UpdatePatient(update); err != nil {
		return nil, err
	}
	if update.DateOfBirth != nil && update.Age == nil {
		age, err := s.ageFrom(*update.DateOfBirth)
		if err != nil {
			return nil, err
		}
		update.Age = &age
	}

	patient, err := s.repo.Update(ctx, id, update)
	if err != nil {
		return nil, mapRepoErr(err, "failed to update patient")
	}
	return patient, nil
}

func (s *Service) ageFrom(dob string) (int, error) {
	t, err := time.Parse(model.DateLayout, dob)
	if err != nil {
		return 0, errors.NewValidation([]errors.FieldError{{Field: "dateOfBirth", Message: "must be a date in YYYY-MM-DD format"}})
	}
	return model.AgeOn(t, s.now()), nil
}

func mapRepoErr(err error, msg string) error {
	if stderrors.Is(err, repository.ErrNotFound) {
		return errors.NewNotFound("Patient", err)
	}
	return errors.NewInternal(fmt.Errorf("%s: %w", msg, err))
}
