package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-api/internal/model"
)

func TestLoginKeepsSessionCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/login":
			var req model.LoginRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.Password != "secret99" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"message":"Invalid username or password","requestId":"rid-1"}`))
				return
			}
			http.SetCookie(w, &http.Cookie{Name: "consult.sid", Value: "token", Path: "/"})
			_ = json.NewEncoder(w).Encode(model.User{Username: req.Username})
		case "/api/patients":
			if c, err := r.Cookie("consult.sid"); err != nil || c.Value != "token" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"message":"Unauthorized"}`))
				return
			}
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(model.Patient{PatientID: "P-00000001"})
		}
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Login(ctx, "drgrey", "wrong")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Invalid username or password", apiErr.Message)
	assert.Equal(t, "rid-1", apiErr.RequestID)

	user, err := c.Login(ctx, "drgrey", "secret99")
	require.NoError(t, err)
	assert.Equal(t, "drgrey", user.Username)

	p, err := c.CreatePatient(ctx, &model.CreatePatientRequest{FirstName: "A", LastName: "B", Gender: "other"})
	require.NoError(t, err)
	assert.Equal(t, "P-00000001", p.PatientID)
}

func TestWaitForResultPollsWhileProcessing(t *testing.T) {
	id := uuid.New()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.True(t, strings.HasSuffix(r.URL.Path, id.String()))
		status := model.StatusProcessing
		if calls.Add(1) >= 3 {
			status = model.StatusCompleted
		}
		_ = json.NewEncoder(w).Encode(model.Consultation{ID: id, Status: status})
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, PollInterval: 5 * time.Millisecond})
	require.NoError(t, err)

	cons, err := c.WaitForResult(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, cons.Status)
	assert.EqualValues(t, 3, calls.Load())
}

func TestWaitForResultStopsOnCancel(t *testing.T) {
	id := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(model.Consultation{ID: id, Status: model.StatusProcessing})
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, PollInterval: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	cons, err := c.WaitForResult(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, cons)
	assert.Equal(t, model.StatusProcessing, cons.Status)
}

func TestWaitForResultReturnsImmediatelyWhenNotProcessing(t *testing.T) {
	id := uuid.New()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(model.Consultation{ID: id, Status: model.StatusFailed})
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, PollInterval: time.Hour})
	require.NoError(t, err)

	cons, err := c.WaitForResult(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, cons.Status)
	assert.EqualValues(t, 1, calls.Load())
}
