package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/internal/model"
)

var (
	// ErrNotFound is returned when the requested entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned for duplicate unique keys and stale expected statuses
	ErrConflict = errors.New("conflict")
)

// All repository interfaces in one file
type (
	UserRepository interface {
		Create(ctx context.Context, user *model.User) error
		Get(ctx context.Context, id uuid.UUID) (*model.User, error)
		GetByUsername(ctx context.Context, username string) (*model.User, error)
	}

	PatientRepository interface {
		Create(ctx context.Context, patient *model.Patient) error
		Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
		GetByPatientID(ctx context.Context, patientID string) (*model.Patient, error)
		Update(ctx context.Context, id uuid.UUID, update *model.PatientUpdate) (*model.Patient, error)
		List(ctx context.Context) ([]*model.Patient, error)
	}

	ConsultationRepository interface {
		Create(ctx context.Context, consultation *model.Consultation) error
		Get(ctx context.Context, id uuid.UUID) (*model.Consultation, error)
		// Update applies the non-nil fields of update. When expected is non-empty
		// the row must currently carry that status, otherwise ErrConflict.
		Update(ctx context.Context, id uuid.UUID, expected model.ConsultationStatus, update *model.ConsultationUpdate) (*model.Consultation, error)
		// ListByDoctor returns the doctor's consultations, newest first
		ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*model.Consultation, error)
	}

	SessionRepository interface {
		Create(ctx context.Context, session *model.Session) error
		Get(ctx context.Context, id string) (*model.Session, error)
		Delete(ctx context.Context, id string) error
	}

	// SessionPruner is implemented by session stores without native expiry
	SessionPruner interface {
		DeleteExpired(ctx context.Context, before time.Time) (int64, error)
	}

	// Store is the storage adapter chosen once at startup
	Store interface {
		Users() UserRepository
		Patients() PatientRepository
		Consultations() ConsultationRepository
		Ping(ctx context.Context) error
		Close() error
	}
)

// ApplyPatientUpdate copies the non-nil fields of u onto p
func ApplyPatientUpdate(p *model.Patient, u *model.PatientUpdate) {
	if u.FirstName != nil {
		p.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		p.LastName = *u.LastName
	}
	if u.DateOfBirth != nil {
		dob := *u.DateOfBirth
		p.DateOfBirth = &dob
	}
	if u.Age != nil {
		p.Age = *u.Age
	}
	if u.Gender != nil {
		p.Gender = *u.Gender
	}
}

// ApplyConsultationUpdate copies the non-nil fields of u onto c
func ApplyConsultationUpdate(c *model.Consultation, u *model.ConsultationUpdate, now time.Time) {
	if u.Status != nil {
		c.Status = *u.Status
	}
	if u.Duration != nil {
		d := *u.Duration
		c.Duration = &d
	}
	if u.AudioURL != nil {
		url := *u.AudioURL
		c.AudioURL = &url
	}
	if len(u.Transcription) > 0 {
		c.Transcription = append(model.RawJSON(nil), u.Transcription...)
	}
	if u.Error != nil {
		msg := *u.Error
		c.Error = &msg
	}
	c.UpdatedAt = now
}
