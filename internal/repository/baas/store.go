// Package baas stores entities in a hosted PostgREST endpoint (the BaaS
// variant). Tables and columns mirror the relational schema.
package baas

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jwalitptl/consult-api/internal/repository"
)

type Config struct {
	URL     string
	Key     string
	Timeout time.Duration
}

// Store is the hosted-BaaS storage adapter
type Store struct {
	client        *resty.Client
	users         repository.UserRepository
	patients      repository.PatientRepository
	consultations repository.ConsultationRepository
}

func NewStore(cfg Config) *Store {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")+"/rest/v1").
		SetTimeout(cfg.Timeout).
		SetHeader("apikey", cfg.Key).
		SetAuthToken(cfg.Key).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return newStore(client)
}

func newStore(client *resty.Client) *Store {
	return &Store{
		client:        client,
		users:         &userRepository{client: client},
		patients:      &patientRepository{client: client},
		consultations: &consultationRepository{client: client},
	}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) Users() repository.UserRepository                 { return s.users }
func (s *Store) Patients() repository.PatientRepository           { return s.patients }
func (s *Store) Consultations() repository.ConsultationRepository { return s.consultations }

func (s *Store) Ping(ctx context.Context) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"select": "id", "limit": "1"}).
		Get("/users")
	return checkResponse(resp, err, "ping")
}

func (s *Store) Close() error {
	return nil
}

// checkResponse maps transport failures and PostgREST status codes to repository errors
func checkResponse(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if !resp.IsError() {
		return nil
	}
	switch resp.StatusCode() {
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", op, repository.ErrConflict)
	case http.StatusNotFound:
		return repository.ErrNotFound
	}
	return fmt.Errorf("failed to %s: status %d: %s", op, resp.StatusCode(), strings.TrimSpace(resp.String()))
}

func eq(v string) string {
	return "eq." + v
}
