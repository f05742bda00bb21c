package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/consult-api/internal/repository"
)

// Store is the relational storage adapter
type Store struct {
	db            *sqlx.DB
	users         repository.UserRepository
	patients      repository.PatientRepository
	consultations repository.ConsultationRepository
}

func NewStore(db *sqlx.DB) *Store {
	base := NewBaseRepository(db)
	return &Store{
		db:            db,
		users:         NewUserRepository(base),
		patients:      NewPatientRepository(base),
		consultations: NewConsultationRepository(base),
	}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) Users() repository.UserRepository                 { return s.users }
func (s *Store) Patients() repository.PatientRepository           { return s.patients }
func (s *Store) Consultations() repository.ConsultationRepository { return s.consultations }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
