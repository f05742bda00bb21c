package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

func setupSessionStore(t *testing.T) (*miniredis.Miniredis, *SessionStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewSessionStore(client)
}

func newSession(ttl time.Duration) *model.Session {
	now := time.Now().UTC()
	return &model.Session{
		ID:        uuid.NewString(),
		UserID:    uuid.New(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestSessionStoreRoundTrip(t *testing.T) {
	mr, store := setupSessionStore(t)
	ctx := context.Background()
	session := newSession(time.Hour)

	require.NoError(t, store.Create(ctx, session))
	assert.True(t, mr.Exists(keyPrefix+session.ID))
	ttl := mr.TTL(keyPrefix + session.ID)
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)

	got, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.UserID, got.UserID)
	assert.WithinDuration(t, session.ExpiresAt, got.ExpiresAt, time.Second)

	require.NoError(t, store.Delete(ctx, session.ID))
	_, err = store.Get(ctx, session.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSessionStoreMissingIsNotFound(t *testing.T) {
	_, store := setupSessionStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, store.Delete(context.Background(), "missing"))
}

func TestSessionStoreExpires(t *testing.T) {
	mr, store := setupSessionStore(t)
	ctx := context.Background()
	session := newSession(time.Minute)
	require.NoError(t, store.Create(ctx, session))

	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, session.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSessionStoreSkipsExpiredSession(t *testing.T) {
	mr, store := setupSessionStore(t)
	session := newSession(-time.Minute)

	require.NoError(t, store.Create(context.Background(), session))
	assert.False(t, mr.Exists(keyPrefix+session.ID))
}

func TestSessionStoreCorruptValue(t *testing.T) {
	mr, store := setupSessionStore(t)
	require.NoError(t, mr.Set(keyPrefix+"bad", "{not json"))

	_, err := store.Get(context.Background(), "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrNotFound)
}

func TestSessionStoreUnavailable(t *testing.T) {
	mr, store := setupSessionStore(t)
	mr.Close()

	_, err := store.Get(context.Background(), "any")
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrNotFound)
}
