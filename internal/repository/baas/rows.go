package baas

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/internal/model"
)

type userRow struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

func fromUser(u *model.User) userRow {
	return userRow{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Name:         u.Name,
		Role:         u.Role,
		CreatedAt:    u.CreatedAt,
	}
}

func (r userRow) model() *model.User {
	return &model.User{
		ID:           r.ID,
		Username:     r.Username,
		PasswordHash: r.PasswordHash,
		Name:         r.Name,
		Role:         r.Role,
		CreatedAt:    r.CreatedAt,
	}
}

type patientRow struct {
	ID          uuid.UUID `json:"id"`
	PatientID   string    `json:"patient_id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	DateOfBirth *string   `json:"date_of_birth"`
	Age         int       `json:"age"`
	Gender      string    `json:"gender"`
	CreatedBy   uuid.UUID `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

func fromPatient(p *model.Patient) patientRow {
	return patientRow{
		ID:          p.ID,
		PatientID:   p.PatientID,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		DateOfBirth: p.DateOfBirth,
		Age:         p.Age,
		Gender:      p.Gender,
		CreatedBy:   p.CreatedBy,
		CreatedAt:   p.CreatedAt,
	}
}

func (r patientRow) model() *model.Patient {
	return &model.Patient{
		ID:          r.ID,
		PatientID:   r.PatientID,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		DateOfBirth: r.DateOfBirth,
		Age:         r.Age,
		Gender:      r.Gender,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
	}
}

type consultationRow struct {
	ID            uuid.UUID                `json:"id"`
	DoctorID      uuid.UUID                `json:"doctor_id"`
	PatientID     uuid.UUID                `json:"patient_id"`
	Date          time.Time                `json:"date"`
	Duration      *int                     `json:"duration"`
	Status        model.ConsultationStatus `json:"status"`
	AudioURL      *string                  `json:"audio_url"`
	Transcription json.RawMessage          `json:"transcription"`
	Error         *string                  `json:"error"`
	UpdatedAt     time.Time                `json:"updated_at"`
}

func fromConsultation(c *model.Consultation) consultationRow {
	row := consultationRow{
		ID:        c.ID,
		DoctorID:  c.DoctorID,
		PatientID: c.PatientID,
		Date:      c.Date,
		Duration:  c.Duration,
		Status:    c.Status,
		AudioURL:  c.AudioURL,
		Error:     c.Error,
		UpdatedAt: c.UpdatedAt,
	}
	if len(c.Transcription) > 0 {
		row.Transcription = json.RawMessage(c.Transcription)
	} else {
		row.Transcription = json.RawMessage("null")
	}
	return row
}

func (r consultationRow) model() *model.Consultation {
	c := &model.Consultation{
		ID:        r.ID,
		DoctorID:  r.DoctorID,
		PatientID: r.PatientID,
		Date:      r.Date,
		Duration:  r.Duration,
		Status:    r.Status,
		AudioURL:  r.AudioURL,
		Error:     r.Error,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.Transcription) > 0 && string(r.Transcription) != "null" {
		c.Transcription = model.RawJSON(r.Transcription)
	}
	return c
}
