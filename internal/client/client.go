// Package client is a small API client for the consultation service, used by
// the recorder CLI.
package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/pkg/httputil"
)

const DefaultPollInterval = 5 * time.Second

type Config struct {
	BaseURL      string
	Timeout      time.Duration
	PollInterval time.Duration
}

// APIError is a non-2xx answer from the service
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("api error %d: %s (request %s)", e.StatusCode, e.Message, e.RequestID)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	http         *resty.Client
	pollInterval time.Duration
}

// New returns a client that keeps the session cookie between calls
func New(cfg Config) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetCookieJar(jar).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{http: httpClient, pollInterval: poll}, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, result interface{}) error {
	req := c.http.R().
		SetContext(ctx).
		SetError(&httputil.ErrorBody{})
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr := &APIError{StatusCode: resp.StatusCode(), Message: resp.Status()}
		if body, ok := resp.Error().(*httputil.ErrorBody); ok && body.Message != "" {
			apiErr.Message = body.Message
			apiErr.RequestID = body.RequestID
		}
		return apiErr
	}
	return nil
}

func (c *Client) Register(ctx context.Context, req *model.RegisterRequest) (*model.User, error) {
	var user model.User
	if err := c.call(ctx, http.MethodPost, "/api/register", req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) Login(ctx context.Context, username, password string) (*model.User, error) {
	var user model.User
	err := c.call(ctx, http.MethodPost, "/api/login", model.LoginRequest{Username: username, Password: password}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/api/logout", nil, nil)
}

func (c *Client) CreatePatient(ctx context.Context, req *model.CreatePatientRequest) (*model.Patient, error) {
	var p model.Patient
	if err := c.call(ctx, http.MethodPost, "/api/patients", req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) CreateConsultation(ctx context.Context, patientID uuid.UUID) (*model.Consultation, error) {
	var cons model.Consultation
	req := model.CreateConsultationRequest{PatientID: patientID.String()}
	if err := c.call(ctx, http.MethodPost, "/api/consultations", req, &cons); err != nil {
		return nil, err
	}
	return &cons, nil
}

func (c *Client) GetConsultation(ctx context.Context, id uuid.UUID) (*model.Consultation, error) {
	var cons model.Consultation
	if err := c.call(ctx, http.MethodGet, "/api/consultations/"+id.String(), nil, &cons); err != nil {
		return nil, err
	}
	return &cons, nil
}

// UploadAudio attaches a WAV recording. The call blocks while the server
// waits for the transcription.
func (c *Client) UploadAudio(ctx context.Context, id uuid.UUID, wav []byte, duration int) (*model.Consultation, error) {
	req := model.AttachAudioRequest{
		AudioData: "data:audio/wav;base64," + base64.StdEncoding.EncodeToString(wav),
		Duration:  &duration,
	}
	var cons model.Consultation
	if err := c.call(ctx, http.MethodPatch, "/api/consultations/"+id.String(), req, &cons); err != nil {
		return nil, err
	}
	return &cons, nil
}

// WaitForResult polls while the consultation is processing and returns it as
// soon as it carries any other status.
func (c *Client) WaitForResult(ctx context.Context, id uuid.UUID) (*model.Consultation, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		cons, err := c.GetConsultation(ctx, id)
		if err != nil {
			return nil, err
		}
		if cons.Status != model.StatusProcessing {
			return cons, nil
		}

		select {
		case <-ctx.Done():
			return cons, ctx.Err()
		case <-ticker.C:
		}
	}
}
