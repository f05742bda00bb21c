package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestScryptHasher(t *testing.T) {
	h := NewScryptHasher()

	hash, err := h.Hash("secret123")
	require.NoError(t, err)

	key, salt, ok := strings.Cut(hash, ".")
	require.True(t, ok)
	assert.Len(t, key, 128)
	assert.Len(t, salt, 32)

	assert.NoError(t, h.Compare(hash, "secret123"))
	assert.ErrorIs(t, h.Compare(hash, "secret124"), ErrMismatchedHash)
	assert.ErrorIs(t, h.Compare("nodot", "secret123"), ErrMalformedHash)
	assert.ErrorIs(t, h.Compare("zz.abcd", "secret123"), ErrMalformedHash)

	other, err := h.Hash("secret123")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "salt must differ per hash")
}

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	hash, err := h.Hash("secret123")
	require.NoError(t, err)
	assert.NoError(t, h.Compare(hash, "secret123"))
	assert.ErrorIs(t, h.Compare(hash, "wrong-one"), ErrMismatchedHash)
}

func TestHashRejectsShortPasswords(t *testing.T) {
	for _, h := range []PasswordHasher{NewScryptHasher(), NewBcryptHasher(bcrypt.MinCost)} {
		_, err := h.Hash("12345")
		assert.ErrorIs(t, err, ErrPasswordTooShort)
	}
}

func TestNewHasher(t *testing.T) {
	assert.IsType(t, scryptHasher{}, NewHasher("", 0))
	assert.IsType(t, &bcryptHasher{}, NewHasher("BCRYPT", 4))
}
