// Package consultation orchestrates the consultation lifecycle: creation,
// audio attachment, the synchronous transcription call and the resulting
// status transitions.
package consultation

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/internal/audio"
	"github.com/jwalitptl/consult-api/internal/media"
	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
	"github.com/jwalitptl/consult-api/internal/transcription"
	"github.com/jwalitptl/consult-api/internal/validation"
	"github.com/jwalitptl/consult-api/pkg/circuitbreaker"
	"github.com/jwalitptl/consult-api/pkg/errors"
	"github.com/jwalitptl/consult-api/pkg/logger"
	"github.com/jwalitptl/consult-api/pkg/messaging"
	"github.com/jwalitptl/consult-api/pkg/metrics"
)

const (
	DefaultContentType  = "audio/wav"
	DefaultEventChannel = "consultations.status"

	// bytes per second of 16 kHz 8-bit mono, used when nothing better is known
	estimateBytesPerSecond = 16000

	transcriptionFailedMessage = "Transcription failed, the consultation has been marked as failed"
)

type Config struct {
	MaxPayloadBytes int64
	EventChannel    string
}

type Service struct {
	consultations repository.ConsultationRepository
	patients      repository.PatientRepository
	users         repository.UserRepository
	media         media.Store
	transcriber   transcription.Client
	events        messaging.Publisher
	validator     *validation.Validator
	metrics       *metrics.Metrics
	logger        *logger.Logger
	cfg           Config
	now           func() time.Time
}

func NewService(consultations repository.ConsultationRepository, patients repository.PatientRepository,
	users repository.UserRepository, store media.Store, transcriber transcription.Client, events messaging.Publisher,
	v *validation.Validator, m *metrics.Metrics, cfg Config, log *logger.Logger) *Service {
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = audio.DefaultMaxPayloadBytes
	}
	if cfg.EventChannel == "" {
		cfg.EventChannel = DefaultEventChannel
	}
	if events == nil {
		events = messaging.NopBroker{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		consultations: consultations,
		patients:      patients,
		users:         users,
		media:         store,
		transcriber:   transcriber,
		events:        events,
		validator:     v,
		metrics:       m,
		logger:        log.With("consultation"),
		cfg:           cfg,
		now:           time.Now,
	}
}

// Create opens a pending consultation for an existing patient. The doctor is
// always the caller; a different doctorId in the request is refused.
func (s *Service) Create(ctx context.Context, doctorID uuid.UUID, req *model.CreateConsultationRequest) (*model.Consultation, error) {
	if err := s.validator.CreateConsultation(req); err != nil {
		return nil, err
	}
	if req.DoctorID != "" && !strings.EqualFold(req.DoctorID, doctorID.String()) {
		return nil, errors.Forbidden("Consultations can only be created for yourself")
	}

	patientID := uuid.MustParse(req.PatientID)
	if _, err := s.patients.Get(ctx, patientID); err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.NewNotFound("Patient", err)
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to get patient: %w", err))
	}

	now := s.now().UTC()
	c := &model.Consultation{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		PatientID: patientID,
		Date:      now,
		Status:    model.StatusPending,
		UpdatedAt: now,
	}
	if err := s.consultations.Create(ctx, c); err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.NewNotFound("Patient", err)
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to create consultation: %w", err))
	}

	s.logger.Info("consultation created", "consultation_id", c.ID.String(), "doctor_id", doctorID.String())
	return c, nil
}

// Get returns a consultation owned by doctorID
func (s *Service) Get(ctx context.Context, doctorID, id uuid.UUID) (*model.Consultation, error) {
	c, err := s.consultations.Get(ctx, id)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.NewNotFound("Consultation", err)
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to get consultation: %w", err))
	}
	if c.DoctorID != doctorID {
		return nil, errors.Forbidden("Access denied")
	}
	return c, nil
}

// List returns the caller's consultations, newest first
func (s *Service) List(ctx context.Context, doctorID uuid.UUID) ([]*model.Consultation, error) {
	list, err := s.consultations.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to list consultations: %w", err))
	}
	return list, nil
}

// AttachAudio stores the recording, submits it for transcription and records
// the outcome. It returns the consultation in its final state; on a
// transcription failure that state is failed and the error is an upstream one.
func (s *Service) AttachAudio(ctx context.Context, doctorID, id uuid.UUID, req *model.AttachAudioRequest) (*model.Consultation, error) {
	c, err := s.Get(ctx, doctorID, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.StatusPending {
		return nil, errors.Conflict(fmt.Sprintf("Consultation is already %s", c.Status), nil)
	}
	if err := s.validator.AttachAudio(req); err != nil {
		return nil, err
	}

	patient, doctor, err := s.participants(ctx, c)
	if err != nil {
		return nil, err
	}

	var (
		data        []byte
		contentType = DefaultContentType
		audioURL    = req.AudioURL
	)
	if req.AudioData != "" {
		data, contentType, err = DecodeAudio(req.AudioData)
		if err != nil {
			return nil, errors.NewValidation([]errors.FieldError{{Field: "audioData", Message: "must be base64 encoded audio"}})
		}
		if err := audio.CheckSize(int64(len(data)), s.cfg.MaxPayloadBytes); err != nil {
			return nil, errors.PayloadTooLarge(err.Error(), err)
		}
		if s.metrics != nil {
			s.metrics.AudioBytes.Observe(float64(len(data)))
		}

		audioURL, err = s.media.Put(ctx, c.ID, contentType, data)
		if err != nil {
			return nil, errors.NewInternal(fmt.Errorf("failed to store audio: %w", err))
		}
	}

	duration := MeasureDuration(data, req.Duration)
	processing := model.StatusProcessing
	c, err = s.consultations.Update(ctx, c.ID, model.StatusPending, &model.ConsultationUpdate{
		Status:   &processing,
		Duration: &duration,
		AudioURL: &audioURL,
	})
	if err != nil {
		if stderrors.Is(err, repository.ErrConflict) {
			return nil, errors.Conflict("Consultation is no longer pending", err)
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to mark consultation processing: %w", err))
	}
	s.statusChanged(ctx, c)

	result, submitErr := s.transcriber.Submit(ctx, &transcription.Request{
		ConsultationID:   c.ID,
		ConsultationDate: c.Date,
		PatientID:        c.PatientID,
		DoctorID:         c.DoctorID,
		Patient:          patient,
		Doctor:           doctor,
		AudioURL:         audioURL,
		Audio:            data,
		ContentType:      contentType,
		Duration:         duration,
	})

	// the outcome is recorded even when the caller has gone away
	finishCtx := context.WithoutCancel(ctx)
	if submitErr != nil {
		reason := FailureReason(submitErr)
		s.logger.Error(submitErr, "transcription failed", "consultation_id", c.ID.String())

		failed := model.StatusFailed
		updated, err := s.consultations.Update(finishCtx, c.ID, model.StatusProcessing, &model.ConsultationUpdate{
			Status: &failed,
			Error:  &reason,
		})
		if err != nil {
			return nil, errors.NewInternal(fmt.Errorf("failed to mark consultation failed: %w", err))
		}
		s.statusChanged(finishCtx, updated)
		return updated, errors.NewUpstream(transcriptionFailedMessage, submitErr)
	}

	completed := model.StatusCompleted
	updated, err := s.consultations.Update(finishCtx, c.ID, model.StatusProcessing, &model.ConsultationUpdate{
		Status:        &completed,
		Transcription: result.Transcription,
	})
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to store transcription: %w", err))
	}
	s.statusChanged(finishCtx, updated)
	return updated, nil
}

// participants loads the patient and doctor identities sent with the audio
func (s *Service) participants(ctx context.Context, c *model.Consultation) (*model.Patient, *model.User, error) {
	patient, err := s.patients.Get(ctx, c.PatientID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, nil, errors.NewNotFound("Patient", err)
		}
		return nil, nil, errors.NewInternal(fmt.Errorf("failed to get patient: %w", err))
	}
	doctor, err := s.users.Get(ctx, c.DoctorID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, nil, errors.NewNotFound("Doctor", err)
		}
		return nil, nil, errors.NewInternal(fmt.Errorf("failed to get doctor: %w", err))
	}
	return patient, doctor, nil
}

// statusChanged publishes a best-effort status event
func (s *Service) statusChanged(ctx context.Context, c *model.Consultation) {
	if s.metrics != nil {
		s.metrics.ConsultationStatus.WithLabelValues(string(c.Status)).Inc()
	}

	event := model.StatusEvent{
		ConsultationID: c.ID,
		DoctorID:       c.DoctorID,
		Status:         c.Status,
		At:             s.now().UTC(),
	}
	if c.Error != nil {
		event.Error = *c.Error
	}
	if err := s.events.Publish(ctx, s.cfg.EventChannel, event); err != nil {
		s.logger.Warn("failed to publish status event", "consultation_id", c.ID.String(), "error", err.Error())
	}
}

// DecodeAudio accepts raw base64 or a base64 data: URI and returns the bytes
// with their content type.
func DecodeAudio(s string) ([]byte, string, error) {
	contentType := DefaultContentType
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, "", fmt.Errorf("data URI without payload")
		}
		meta := s[len("data:"):comma]
		if !strings.HasSuffix(meta, ";base64") {
			return nil, "", fmt.Errorf("data URI is not base64 encoded")
		}
		if mt := strings.TrimSuffix(meta, ";base64"); mt != "" {
			contentType = mt
		}
		s = s[comma+1:]
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode audio: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty audio payload")
	}
	return data, contentType, nil
}

// MeasureDuration returns whole seconds: from the WAV header when it parses,
// else the declared value, else an estimate from the size.
func MeasureDuration(data []byte, declared *int) int {
	if len(data) > 0 {
		if info, err := audio.ProbeWAV(data); err == nil && info.Format.Valid() {
			return int(info.Duration.Round(time.Second) / time.Second)
		}
	}
	if declared != nil {
		return *declared
	}
	return len(data) / estimateBytesPerSecond
}

// FailureReason is the client-safe reason stored on a failed consultation
func FailureReason(err error) string {
	var upstream *transcription.UpstreamError
	switch {
	case stderrors.Is(err, circuitbreaker.ErrOpen):
		return "Transcription service is temporarily unavailable"
	case stderrors.Is(err, context.DeadlineExceeded):
		return "Transcription service timed out"
	case stderrors.Is(err, transcription.ErrMalformedResponse):
		return "Transcription service returned an invalid response"
	case stderrors.As(err, &upstream):
		return fmt.Sprintf("Transcription service returned status %d", upstream.StatusCode)
	default:
		return "Transcription service could not be reached"
	}
}
