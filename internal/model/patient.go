package model

import (
	"time"

	"github.com/google/uuid"
)

// Genders
const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
)

// DateLayout is the wire and storage format of dateOfBirth
const DateLayout = "2006-01-02"

type Patient struct {
	ID          uuid.UUID `json:"id" db:"id"`
	PatientID   string    `json:"patientId" db:"patient_id"`
	FirstName   string    `json:"firstName" db:"first_name"`
	LastName    string    `json:"lastName" db:"last_name"`
	DateOfBirth *string   `json:"dateOfBirth,omitempty" db:"date_of_birth"`
	Age         int       `json:"age" db:"age"`
	Gender      string    `json:"gender" db:"gender"`
	CreatedBy   uuid.UUID `json:"createdBy" db:"created_by"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

type CreatePatientRequest struct {
	PatientID   string  `json:"patientId" validate:"omitempty,max=50"`
	FirstName   string  `json:"firstName" validate:"required,notblank,max=100"`
	LastName    string  `json:"lastName" validate:"required,notblank,max=100"`
	DateOfBirth *string `json:"dateOfBirth" validate:"omitempty,datetime=2006-01-02"`
	Age         *int    `json:"age" validate:"omitempty,min=0,max=150"`
	Gender      string  `json:"gender" validate:"required,oneof=male female other"`
}

// PatientUpdate changes only the non-nil fields
type PatientUpdate struct {
	FirstName   *string `json:"firstName" validate:"omitempty,notblank,max=100"`
	LastName    *string `json:"lastName" validate:"omitempty,notblank,max=100"`
	DateOfBirth *string `json:"dateOfBirth" validate:"omitempty,datetime=2006-01-02"`
	Age         *int    `json:"age" validate:"omitempty,min=0,max=150"`
	Gender      *string `json:"gender" validate:"omitempty,oneof=male female other"`
}

func (u *PatientUpdate) Empty() bool {
	return u.FirstName == nil && u.LastName == nil && u.DateOfBirth == nil && u.Age == nil && u.Gender == nil
}

// AgeOn returns the completed years between dob and now
func AgeOn(dob, now time.Time) int {
	years := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		years--
	}
	return years
}
