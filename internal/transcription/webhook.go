package transcription

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/consult-api/pkg/circuitbreaker"
	"github.com/jwalitptl/consult-api/pkg/metrics"
)

type WebhookConfig struct {
	URL string
	// Timeout of 0 disables the client-side deadline
	Timeout         time.Duration
	RetryCount      int
	RetryWait       time.Duration
	BreakerFailures int
	BreakerTimeout  time.Duration
}

type webhookPayload struct {
	ConsultationID   string          `json:"consultationId"`
	ConsultationDate string          `json:"consultationDate"`
	PatientID        string          `json:"patientId"`
	DoctorID         string          `json:"doctorId"`
	Patient          *patientPayload `json:"patient,omitempty"`
	Doctor           *doctorPayload  `json:"doctor,omitempty"`
	AudioURL         string          `json:"audioUrl,omitempty"`
	AudioData        string          `json:"audioData,omitempty"`
	ContentType      string          `json:"contentType,omitempty"`
	Duration         int             `json:"duration"`
	Timestamp        string          `json:"timestamp"`
}

type patientPayload struct {
	ID          string  `json:"id"`
	PatientID   string  `json:"patientId"`
	FirstName   string  `json:"firstName"`
	LastName    string  `json:"lastName"`
	DateOfBirth *string `json:"dateOfBirth,omitempty"`
	Age         int     `json:"age"`
	Gender      string  `json:"gender"`
}

type doctorPayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

func newPayload(req *Request, now time.Time) webhookPayload {
	payload := webhookPayload{
		ConsultationID: req.ConsultationID.String(),
		PatientID:      req.PatientID.String(),
		DoctorID:       req.DoctorID.String(),
		AudioURL:       req.AudioURL,
		ContentType:    req.ContentType,
		Duration:       req.Duration,
		Timestamp:      now.UTC().Format(time.RFC3339),
	}
	if !req.ConsultationDate.IsZero() {
		payload.ConsultationDate = req.ConsultationDate.UTC().Format(time.RFC3339)
	}
	if p := req.Patient; p != nil {
		payload.Patient = &patientPayload{
			ID:          p.ID.String(),
			PatientID:   p.PatientID,
			FirstName:   p.FirstName,
			LastName:    p.LastName,
			DateOfBirth: p.DateOfBirth,
			Age:         p.Age,
			Gender:      p.Gender,
		}
	}
	if d := req.Doctor; d != nil {
		payload.Doctor = &doctorPayload{
			ID:       d.ID.String(),
			Username: d.Username,
			Name:     d.Name,
			Role:     d.Role,
		}
	}
	if len(req.Audio) > 0 {
		payload.AudioData = base64.StdEncoding.EncodeToString(req.Audio)
		// the webhook gets the bytes inline; a data: URI would only duplicate them
		if strings.HasPrefix(payload.AudioURL, "data:") {
			payload.AudioURL = ""
		}
	}
	return payload
}

// WebhookClient posts audio to the transcription workflow over HTTP
type WebhookClient struct {
	url     string
	client  *resty.Client
	breaker *circuitbreaker.CircuitBreaker
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

func NewWebhookClient(cfg WebhookConfig, m *metrics.Metrics, logger zerolog.Logger) *WebhookClient {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if cfg.RetryCount > 0 {
		client.
			SetRetryCount(cfg.RetryCount).
			SetRetryWaitTime(cfg.RetryWait).
			SetRetryMaxWaitTime(4 * cfg.RetryWait).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() >= http.StatusInternalServerError
			})
	}

	logger = logger.With().Str("component", "transcription").Logger()
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
		Name:        "transcription-webhook",
		MaxFailures: cfg.BreakerFailures,
		Timeout:     cfg.BreakerTimeout,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", string(from)).
				Str("to", string(to)).
				Msg("Circuit breaker state changed")
		},
	})

	return &WebhookClient{
		url:     cfg.URL,
		client:  client,
		breaker: breaker,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

var _ Client = (*WebhookClient)(nil)

func (c *WebhookClient) Submit(ctx context.Context, req *Request) (*Result, error) {
	payload := newPayload(req, c.now())

	start := c.now()
	var result *Result
	err := c.breaker.Execute(func() error {
		resp, err := c.client.R().
			SetContext(ctx).
			SetBody(payload).
			Post(c.url)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return &UpstreamError{StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 512)}
		}
		result, err = parseResult(resp.Body())
		return err
	})
	c.observe(start, err)

	if err != nil {
		c.logger.Error().
			Err(err).
			Str("consultation_id", req.ConsultationID.String()).
			Msg("Transcription request failed")
		return nil, err
	}

	c.logger.Info().
		Str("consultation_id", req.ConsultationID.String()).
		Dur("elapsed", c.now().Sub(start)).
		Msg("Transcription received")
	return result, nil
}

func (c *WebhookClient) observe(start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, circuitbreaker.ErrOpen):
		outcome = "circuit_open"
	case errors.Is(err, ErrMalformedResponse):
		outcome = "malformed"
	default:
		var upstream *UpstreamError
		if errors.As(err, &upstream) {
			outcome = "upstream_error"
		} else {
			outcome = "network_error"
		}
	}
	c.metrics.TranscriptionRequests.WithLabelValues(outcome).Inc()
	c.metrics.TranscriptionLatency.Observe(c.now().Sub(start).Seconds())
}

// parseResult accepts either {"transcription": {...}} or a bare {"text": ...}
// document; whichever object carries the text is kept verbatim.
func parseResult(body []byte) (*Result, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, ErrMalformedResponse
	}

	doc := bytes.TrimSpace(body)
	if inner, ok := envelope["transcription"]; ok {
		doc = bytes.TrimSpace(inner)
	}

	var fields struct {
		Text *string `json:"text"`
	}
	if len(doc) == 0 || doc[0] != '{' {
		return nil, ErrMalformedResponse
	}
	if err := json.Unmarshal(doc, &fields); err != nil || fields.Text == nil {
		return nil, ErrMalformedResponse
	}

	return &Result{
		Transcription: append([]byte(nil), doc...),
		Text:          *fields.Text,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
