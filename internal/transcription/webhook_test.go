package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/pkg/circuitbreaker"
	"github.com/jwalitptl/consult-api/pkg/metrics"
)

func newClient(t *testing.T, cfg WebhookConfig, h http.HandlerFunc) (*WebhookClient, *metrics.Metrics) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg.URL = srv.URL + "/webhook/transcribe"
	m := metrics.New("test", prometheus.NewRegistry())
	return NewWebhookClient(cfg, m, zerolog.Nop()), m
}

func testRequest() *Request {
	return &Request{
		ConsultationID: uuid.New(),
		PatientID:      uuid.New(),
		DoctorID:       uuid.New(),
		Audio:          []byte("RIFF...."),
		AudioURL:       "data:audio/wav;base64,UklGRi4uLi4=",
		ContentType:    "audio/wav",
		Duration:       12,
	}
}

func TestSubmitSuccessKeepsBodyVerbatim(t *testing.T) {
	doc := `{"text":"Patient reports headache","summary":"Headache","keyPoints":["rest","fluids"],"confidence":0.93}`
	req := testRequest()

	client, m := newClient(t, WebhookConfig{Timeout: time.Second}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/webhook/transcribe", r.URL.Path)

		var p webhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, req.ConsultationID.String(), p.ConsultationID)
		assert.Equal(t, "UklGRi4uLi4=", p.AudioData)
		assert.Empty(t, p.AudioURL, "inline audio is not duplicated as a data URI")
		assert.Equal(t, 12, p.Duration)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"transcription":` + doc + `}`))
	})

	res, err := client.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, doc, string(res.Transcription))
	assert.Equal(t, "Patient reports headache", res.Text)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TranscriptionRequests.WithLabelValues("success")))
}

func TestSubmitSendsConsultationPatientAndDoctor(t *testing.T) {
	dob := "1815-12-10"
	req := testRequest()
	req.ConsultationDate = time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)
	req.Patient = &model.Patient{
		ID:          req.PatientID,
		PatientID:   "P-1A2B3C4D",
		FirstName:   "Ada",
		LastName:    "Lovelace",
		DateOfBirth: &dob,
		Age:         36,
		Gender:      model.GenderFemale,
	}
	req.Doctor = &model.User{ID: req.DoctorID, Username: "drgrey", Name: "Meredith Grey", Role: model.RoleDoctor, PasswordHash: "secret-hash"}

	var body map[string]interface{}
	client, _ := newClient(t, WebhookConfig{}, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"ok"}`))
	})

	_, err := client.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, req.ConsultationID.String(), body["consultationId"])
	assert.Equal(t, "2024-03-05T09:30:00Z", body["consultationDate"])
	assert.Equal(t, float64(12), body["duration"])

	patient, ok := body["patient"].(map[string]interface{})
	require.True(t, ok, "patient block missing: %v", body)
	assert.Equal(t, req.PatientID.String(), patient["id"])
	assert.Equal(t, "P-1A2B3C4D", patient["patientId"])
	assert.Equal(t, "Ada", patient["firstName"])
	assert.Equal(t, "Lovelace", patient["lastName"])
	assert.Equal(t, "1815-12-10", patient["dateOfBirth"])
	assert.Equal(t, float64(36), patient["age"])
	assert.Equal(t, "female", patient["gender"])

	doctor, ok := body["doctor"].(map[string]interface{})
	require.True(t, ok, "doctor block missing: %v", body)
	assert.Equal(t, req.DoctorID.String(), doctor["id"])
	assert.Equal(t, "drgrey", doctor["username"])
	assert.Equal(t, "Meredith Grey", doctor["name"])
	assert.NotContains(t, doctor, "passwordHash")
}

func TestSubmitBareDocument(t *testing.T) {
	client, _ := newClient(t, WebhookConfig{}, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"hi","summary":"","keyPoints":[]}`))
	})

	res, err := client.Submit(context.Background(), testRequest())
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hi","summary":"","keyPoints":[]}`, string(res.Transcription))
}

func TestSubmitUpstreamError(t *testing.T) {
	client, m := newClient(t, WebhookConfig{}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("workflow crashed"))
	})

	_, err := client.Submit(context.Background(), testRequest())
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusInternalServerError, upstream.StatusCode)
	assert.Equal(t, "workflow crashed", upstream.Body)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TranscriptionRequests.WithLabelValues("upstream_error")))
}

func TestSubmitMalformed(t *testing.T) {
	for _, body := range []string{`not json`, `[]`, `{"transcription":"plain"}`, `{"summary":"no text"}`} {
		client, _ := newClient(t, WebhookConfig{}, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		_, err := client.Submit(context.Background(), testRequest())
		assert.ErrorIs(t, err, ErrMalformedResponse, body)
	}
}

func TestSubmitTimeout(t *testing.T) {
	client, _ := newClient(t, WebhookConfig{Timeout: 50 * time.Millisecond}, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	})

	_, err := client.Submit(context.Background(), testRequest())
	require.Error(t, err)
	var upstream *UpstreamError
	assert.False(t, errors.As(err, &upstream))
}

func TestSubmitRetriesServerErrors(t *testing.T) {
	var calls int32
	client, _ := newClient(t, WebhookConfig{RetryCount: 2, RetryWait: time.Millisecond}, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"text":"third time"}`))
	})

	res, err := client.Submit(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "third time", res.Text)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSubmitOpensBreaker(t *testing.T) {
	var calls int32
	client, _ := newClient(t, WebhookConfig{BreakerFailures: 2, BreakerTimeout: time.Minute}, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 2; i++ {
		_, err := client.Submit(context.Background(), testRequest())
		require.Error(t, err)
	}
	_, err := client.Submit(context.Background(), testRequest())
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
