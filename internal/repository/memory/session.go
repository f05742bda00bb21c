package memory

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

// SessionStore keeps sessions in a go-cache with per-entry expiry
type SessionStore struct {
	cache *cache.Cache
}

func NewSessionStore(cleanupInterval time.Duration) *SessionStore {
	if cleanupInterval <= 0 {
		cleanupInterval = 10 * time.Minute
	}
	return &SessionStore{cache: cache.New(cache.NoExpiration, cleanupInterval)}
}

var _ repository.SessionRepository = (*SessionStore)(nil)

func (s *SessionStore) Create(_ context.Context, session *model.Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	cp := *session
	s.cache.Set(session.ID, &cp, ttl)
	return nil
}

func (s *SessionStore) Get(_ context.Context, id string) (*model.Session, error) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *v.(*model.Session)
	return &cp, nil
}

func (s *SessionStore) Delete(_ context.Context, id string) error {
	s.cache.Delete(id)
	return nil
}
