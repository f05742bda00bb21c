// Package transcription is the boundary to the external speech-to-text
// workflow. Callers see one synchronous Submit; timeouts, retries and circuit
// breaking belong to the implementation.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/internal/model"
)

// ErrMalformedResponse means the webhook answered 2xx with an unusable body
var ErrMalformedResponse = errors.New("malformed transcription response")

// UpstreamError is a non-2xx webhook answer
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("transcription webhook returned status %d", e.StatusCode)
}

type Request struct {
	ConsultationID   uuid.UUID
	ConsultationDate time.Time
	PatientID        uuid.UUID
	DoctorID         uuid.UUID
	// Patient and Doctor carry the identity fields sent alongside the audio
	Patient  *model.Patient
	Doctor   *model.User
	AudioURL string
	// Audio is sent inline when present
	Audio       []byte
	ContentType string
	Duration    int
}

type Result struct {
	// Transcription is the {text, summary, keyPoints} document exactly as received
	Transcription model.RawJSON
	Text          string
}

type Client interface {
	Submit(ctx context.Context, req *Request) (*Result, error)
}
