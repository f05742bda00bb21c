package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

type SessionStore struct {
	BaseRepository
}

// NewSessionStore keeps sessions in the sessions table; expired rows are
// filtered on read and removed by the cleanup worker.
func NewSessionStore(db *sqlx.DB) *SessionStore {
	return &SessionStore{NewBaseRepository(db)}
}

var (
	_ repository.SessionRepository = (*SessionStore)(nil)
	_ repository.SessionPruner     = (*SessionStore)(nil)
)

func (r *SessionStore) Create(ctx context.Context, s *model.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.ExecContext(ctx, query, s.ID, s.UserID, s.CreatedAt, s.ExpiresAt)
	return mapErr(err, "create session")
}

func (r *SessionStore) Get(ctx context.Context, id string) (*model.Session, error) {
	query := `
		SELECT id, user_id, created_at, expires_at
		FROM sessions
		WHERE id = $1 AND expires_at > NOW()
	`

	var s model.Session
	if err := r.db.GetContext(ctx, &s, query, id); err != nil {
		return nil, mapErr(err, "get session")
	}
	return &s, nil
}

func (r *SessionStore) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return mapErr(err, "delete session")
}

func (r *SessionStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, mapErr(err, "delete expired sessions")
	}
	return res.RowsAffected()
}
