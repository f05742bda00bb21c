package router

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-api/internal/audio"
	authhandler "github.com/jwalitptl/consult-api/internal/handler/auth"
	consultationhandler "github.com/jwalitptl/consult-api/internal/handler/consultation"
	"github.com/jwalitptl/consult-api/internal/handler/health"
	patienthandler "github.com/jwalitptl/consult-api/internal/handler/patient"
	"github.com/jwalitptl/consult-api/internal/handler/prometheus"
	"github.com/jwalitptl/consult-api/internal/media"
	"github.com/jwalitptl/consult-api/internal/middleware"
	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository/memory"
	"github.com/jwalitptl/consult-api/internal/service/auth"
	"github.com/jwalitptl/consult-api/internal/service/consultation"
	"github.com/jwalitptl/consult-api/internal/service/patient"
	"github.com/jwalitptl/consult-api/internal/transcription"
	"github.com/jwalitptl/consult-api/internal/validation"
	"github.com/jwalitptl/consult-api/pkg/metrics"
	"github.com/jwalitptl/consult-api/pkg/security"
)

const (
	cookieName          = "consult.sid"
	webhookTranscript   = `{"text":"Follow-up in two weeks.","summary":"Follow-up","keyPoints":["follow-up"]}`
	testMaxPayloadBytes = 64 * 1024
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	server       *httptest.Server
	webhookCalls *atomic.Int32
	webhookCode  *atomic.Int32
	webhookBody  *atomic.Value
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{webhookCalls: &atomic.Int32{}, webhookCode: &atomic.Int32{}, webhookBody: &atomic.Value{}}
	env.webhookCode.Store(http.StatusOK)

	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.webhookCalls.Add(1)
		if body, err := io.ReadAll(r.Body); err == nil {
			env.webhookBody.Store(body)
		}
		code := int(env.webhookCode.Load())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if code == http.StatusOK {
			_, _ = io.WriteString(w, `{"transcription":`+webhookTranscript+`}`)
			return
		}
		_, _ = io.WriteString(w, `{"error":"workflow crashed"}`)
	}))
	t.Cleanup(webhook.Close)

	prom := prometheus.New("test")
	m := metrics.New("test", prom.Registry())
	v := validation.New()
	store := memory.NewStore()

	authSvc := auth.NewService(store.Users(), memory.NewSessionStore(time.Minute), security.NewScryptHasher(), v, m,
		auth.Config{Secret: "router-test-secret"}, nil)
	patientSvc := patient.NewService(store.Patients(), v, nil)
	client := transcription.NewWebhookClient(transcription.WebhookConfig{
		URL:             webhook.URL,
		Timeout:         5 * time.Second,
		BreakerFailures: 100,
		BreakerTimeout:  time.Second,
	}, m, zerolog.Nop())
	consultationSvc := consultation.NewService(store.Consultations(), store.Patients(), store.Users(), media.NewInlineStore(), client, nil, v, m,
		consultation.Config{MaxPayloadBytes: testMaxPayloadBytes}, nil)

	authMW := middleware.NewAuthMiddleware(authSvc, cookieName)
	loginLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{Rate: middleware.PerMinute(600), Burst: 100})

	r := NewRouter(Config{MaxBodyBytes: 1 << 20}, authMW, prom,
		health.NewHandler(map[string]health.Pinger{"store": store}),
		authhandler.NewHandler(authSvc, authMW, loginLimiter.RateLimit(), authhandler.CookieConfig{Name: cookieName}),
		patienthandler.NewHandler(patientSvc),
		consultationhandler.NewHandler(consultationSvc),
	)
	r.Setup()

	env.server = httptest.NewServer(r.Engine())
	t.Cleanup(env.server.Close)
	return env
}

// client returns an HTTP client with its own cookie jar
func (e *testEnv) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func (e *testEnv) do(t *testing.T, c *http.Client, method, path string, body interface{}, out interface{}) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, out), string(data))
	}
	return resp
}

func (e *testEnv) signup(t *testing.T, username string) (*http.Client, model.User) {
	t.Helper()
	c := e.client(t)

	resp := e.do(t, c, http.MethodPost, "/api/register", gin.H{"username": username, "password": "secret99", "name": "Dr " + username}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var user model.User
	resp = e.do(t, c, http.MethodPost, "/api/login", gin.H{"username": username, "password": "secret99"}, &user)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return c, user
}

func (e *testEnv) newConsultation(t *testing.T, c *http.Client) model.Consultation {
	t.Helper()
	var p model.Patient
	resp := e.do(t, c, http.MethodPost, "/api/patients", gin.H{"patientId": "MRN-0042", "firstName": "Jane", "lastName": "Doe", "age": 44, "gender": "female"}, &p)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var cons model.Consultation
	resp = e.do(t, c, http.MethodPost, "/api/consultations", gin.H{"patientId": p.ID.String()}, &cons)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, model.StatusPending, cons.Status)
	return cons
}

func smallWAV() string {
	wav := audio.EncodeWAV(audio.Format{SampleRate: 16000, Channels: 1}, make([]int16, 16000))
	return "data:audio/wav;base64," + base64.StdEncoding.EncodeToString(wav)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	var body map[string]interface{}
	resp := env.do(t, c, http.MethodGet, "/api/health", nil, &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "UP", body["status"])

	resp = env.do(t, c, http.MethodGet, "/api/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err := c.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "test_http_requests_total")
}

func TestLoginThenCurrentUser(t *testing.T) {
	env := newTestEnv(t)
	c, user := env.signup(t, "drgrey")

	var me model.User
	resp := env.do(t, c, http.MethodGet, "/api/user", nil, &me)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, user.ID, me.ID)
	assert.Equal(t, "drgrey", me.Username)

	resp = env.do(t, c, http.MethodPost, "/api/logout", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, c, http.MethodGet, "/api/user", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterIgnoresRequestedRole(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	var user model.User
	resp := env.do(t, c, http.MethodPost, "/api/register",
		gin.H{"username": "mallory", "password": "secret99", "name": "Mallory", "role": model.RoleAdmin}, &user)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, model.RoleDoctor, user.Role)
}

func TestWrongPasswordSetsNoCookie(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "drgrey")

	c := env.client(t)
	var body struct {
		Message string `json:"message"`
	}
	resp := env.do(t, c, http.MethodPost, "/api/login", gin.H{"username": "drgrey", "password": "wrong-one"}, &body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid username or password", body.Message)
	assert.Empty(t, resp.Header.Values("Set-Cookie"))

	resp = env.do(t, c, http.MethodPost, "/api/login", gin.H{"username": "nobody", "password": "wrong-one"}, &body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid username or password", body.Message)

	resp = env.do(t, c, http.MethodPost, "/api/login", gin.H{"username": "", "password": ""}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	for _, path := range []string{"/api/user", "/api/patients", "/api/consultations", "/api/consultations/stats"} {
		var body struct {
			Message string `json:"message"`
		}
		resp := env.do(t, c, http.MethodGet, path, nil, &body)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		assert.Equal(t, "Unauthorized", body.Message, path)
	}
}

func TestPatientValidation(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.signup(t, "drgrey")

	var body struct {
		Message string `json:"message"`
		Errors  []struct {
			Field string `json:"field"`
		} `json:"errors"`
	}
	resp := env.do(t, c, http.MethodPost, "/api/patients", gin.H{"firstName": "", "lastName": "Doe", "age": 200, "gender": "female"}, &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	fields := []string{}
	for _, e := range body.Errors {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{"firstName", "age"}, fields)

	var list []model.Patient
	resp = env.do(t, c, http.MethodGet, "/api/patients", nil, &list)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, list)
}

func TestAttachAudioCompletes(t *testing.T) {
	env := newTestEnv(t)
	c, user := env.signup(t, "drgrey")
	cons := env.newConsultation(t, c)

	var got model.Consultation
	resp := env.do(t, c, http.MethodPatch, "/api/consultations/"+cons.ID.String(), gin.H{"audioData": smallWAV()}, &got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, user.ID, got.DoctorID)
	assert.JSONEq(t, webhookTranscript, string(got.Transcription))
	require.NotNil(t, got.Duration)
	assert.Equal(t, 1, *got.Duration)

	var sent struct {
		ConsultationID   string `json:"consultationId"`
		ConsultationDate string `json:"consultationDate"`
		Duration         int    `json:"duration"`
		Patient          struct {
			PatientID string `json:"patientId"`
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
			Age       int    `json:"age"`
			Gender    string `json:"gender"`
		} `json:"patient"`
		Doctor struct {
			ID       string `json:"id"`
			Username string `json:"username"`
			Name     string `json:"name"`
		} `json:"doctor"`
	}
	body, ok := env.webhookBody.Load().([]byte)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal(body, &sent))
	assert.Equal(t, cons.ID.String(), sent.ConsultationID)
	assert.NotEmpty(t, sent.ConsultationDate)
	assert.Equal(t, 1, sent.Duration)
	assert.Equal(t, "MRN-0042", sent.Patient.PatientID)
	assert.Equal(t, "Jane", sent.Patient.FirstName)
	assert.Equal(t, "Doe", sent.Patient.LastName)
	assert.Equal(t, 44, sent.Patient.Age)
	assert.Equal(t, "female", sent.Patient.Gender)
	assert.Equal(t, user.ID.String(), sent.Doctor.ID)
	assert.Equal(t, "drgrey", sent.Doctor.Username)
	assert.Equal(t, "Dr drgrey", sent.Doctor.Name)

	resp = env.do(t, c, http.MethodPatch, "/api/consultations/"+cons.ID.String(), gin.H{"audioData": smallWAV()}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.EqualValues(t, 1, env.webhookCalls.Load())

	var stats model.ConsultationStats
	resp = env.do(t, c, http.MethodGet, "/api/consultations/stats", nil, &stats)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Completed)
}

func TestAttachAudioWebhookFailure(t *testing.T) {
	env := newTestEnv(t)
	env.webhookCode.Store(http.StatusInternalServerError)
	c, _ := env.signup(t, "drgrey")
	cons := env.newConsultation(t, c)

	var body struct {
		Message string `json:"message"`
	}
	resp := env.do(t, c, http.MethodPatch, "/api/consultations/"+cons.ID.String(), gin.H{"audioData": smallWAV()}, &body)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotContains(t, body.Message, "workflow crashed")

	var got model.Consultation
	resp = env.do(t, c, http.MethodGet, "/api/consultations/"+cons.ID.String(), nil, &got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
}

func TestConsultationOwnership(t *testing.T) {
	env := newTestEnv(t)
	owner, _ := env.signup(t, "drgrey")
	other, _ := env.signup(t, "drshep")
	cons := env.newConsultation(t, owner)

	resp := env.do(t, other, http.MethodGet, "/api/consultations/"+cons.ID.String(), nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, other, http.MethodPatch, "/api/consultations/"+cons.ID.String(), gin.H{"audioData": smallWAV()}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, env.webhookCalls.Load())

	var list []model.Consultation
	resp = env.do(t, other, http.MethodGet, "/api/consultations", nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, list)
}

func TestOversizeAudioRejectedBeforeWebhook(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.signup(t, "drgrey")
	cons := env.newConsultation(t, c)

	big := base64.StdEncoding.EncodeToString(make([]byte, testMaxPayloadBytes+1))
	resp := env.do(t, c, http.MethodPatch, "/api/consultations/"+cons.ID.String(), gin.H{"audioData": big}, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	tooBigBody := strings.Repeat("a", 2<<20)
	resp = env.do(t, c, http.MethodPatch, "/api/consultations/"+cons.ID.String(), gin.H{"audioData": tooBigBody}, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	assert.Zero(t, env.webhookCalls.Load())
}

func TestExportDownload(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.signup(t, "drgrey")
	env.newConsultation(t, c)

	resp, err := c.Get(env.server.URL + "/api/consultations/export")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".xlsx")
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", resp.Header.Get("Content-Type"))
}
