package model

import (
	"time"

	"github.com/google/uuid"
)

type ConsultationStatus string

const (
	StatusPending    ConsultationStatus = "pending"
	StatusProcessing ConsultationStatus = "processing"
	StatusCompleted  ConsultationStatus = "completed"
	StatusFailed     ConsultationStatus = "failed"
)

var transitions = map[ConsultationStatus][]ConsultationStatus{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is a legal status move.
// Statuses only move forward; completed and failed are terminal.
func CanTransition(from, to ConsultationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s ConsultationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s ConsultationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

type Consultation struct {
	ID            uuid.UUID          `json:"id" db:"id"`
	DoctorID      uuid.UUID          `json:"doctorId" db:"doctor_id"`
	PatientID     uuid.UUID          `json:"patientId" db:"patient_id"`
	Date          time.Time          `json:"date" db:"date"`
	Duration      *int               `json:"duration" db:"duration"`
	Status        ConsultationStatus `json:"status" db:"status"`
	AudioURL      *string            `json:"audioUrl" db:"audio_url"`
	Transcription RawJSON            `json:"transcription" db:"transcription"`
	Error         *string            `json:"error,omitempty" db:"error"`
	UpdatedAt     time.Time          `json:"updatedAt" db:"updated_at"`
}

type CreateConsultationRequest struct {
	PatientID string `json:"patientId" validate:"required,uuid"`
	DoctorID  string `json:"doctorId" validate:"omitempty,uuid"`
}

// AttachAudioRequest carries either inline base64 audio (optionally a data: URI) or a URL
type AttachAudioRequest struct {
	AudioData string `json:"audioData" validate:"required_without=AudioURL"`
	AudioURL  string `json:"audioUrl" validate:"omitempty,url"`
	Duration  *int   `json:"duration" validate:"omitempty,min=0"`
}

// ConsultationUpdate changes only the non-nil fields
type ConsultationUpdate struct {
	Status        *ConsultationStatus
	Duration      *int
	AudioURL      *string
	Transcription RawJSON
	Error         *string
}

// ConsultationStats backs the dashboard cards
type ConsultationStats struct {
	Total                 int `json:"total"`
	ThisMonth             int `json:"thisMonth"`
	TotalMinutes          int `json:"totalMinutes"`
	PendingTranscriptions int `json:"pendingTranscriptions"`
	Completed             int `json:"completed"`
	Failed                int `json:"failed"`
}

// StatusEvent is published whenever a consultation changes status
type StatusEvent struct {
	ConsultationID uuid.UUID          `json:"consultationId"`
	DoctorID       uuid.UUID          `json:"doctorId"`
	Status         ConsultationStatus `json:"status"`
	Error          string             `json:"error,omitempty"`
	At             time.Time          `json:"at"`
}
