package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/scrypt"
)

var (
	ErrHashingFailed    = errors.New("password hashing failed")
	ErrMismatchedHash   = errors.New("password does not match")
	ErrMalformedHash    = errors.New("malformed password hash")
	ErrPasswordTooShort = errors.New("password too short")
	MinPasswordLen      = 6
)

// PasswordHasher provides interface for password operations
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hashedPassword, password string) error
}

// NewHasher returns the hasher registered under name; unknown names get scrypt.
func NewHasher(name string, bcryptCost int) PasswordHasher {
	if strings.EqualFold(name, "bcrypt") {
		return NewBcryptHasher(bcryptCost)
	}
	return NewScryptHasher()
}

type bcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a new password hasher using bcrypt
func NewBcryptHasher(cost int) PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &bcryptHasher{cost: cost}
}

func (b *bcryptHasher) Hash(password string) (string, error) {
	if len(password) < MinPasswordLen {
		return "", ErrPasswordTooShort
	}

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", ErrHashingFailed
	}
	return string(bytes), nil
}

func (b *bcryptHasher) Compare(hashedPassword, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHash
		}
		return ErrMalformedHash
	}
	return nil
}

const (
	scryptN       = 16384
	scryptR       = 8
	scryptP       = 1
	scryptKeyLen  = 64
	scryptSaltLen = 16
)

// scryptHasher stores hashes as "<hex key>.<hex salt>"
type scryptHasher struct{}

// NewScryptHasher creates a salted scrypt hasher
func NewScryptHasher() PasswordHasher {
	return scryptHasher{}
}

func (scryptHasher) Hash(password string) (string, error) {
	if len(password) < MinPasswordLen {
		return "", ErrPasswordTooShort
	}

	salt := make([]byte, scryptSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", ErrHashingFailed
	}
	saltHex := hex.EncodeToString(salt)

	key, err := scrypt.Key([]byte(password), []byte(saltHex), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", ErrHashingFailed
	}
	return hex.EncodeToString(key) + "." + saltHex, nil
}

func (scryptHasher) Compare(hashedPassword, password string) error {
	keyHex, saltHex, ok := strings.Cut(hashedPassword, ".")
	if !ok || keyHex == "" || saltHex == "" {
		return ErrMalformedHash
	}
	stored, err := hex.DecodeString(keyHex)
	if err != nil {
		return ErrMalformedHash
	}

	key, err := scrypt.Key([]byte(password), []byte(saltHex), scryptN, scryptR, scryptP, len(stored))
	if err != nil {
		return ErrHashingFailed
	}
	if subtle.ConstantTimeCompare(stored, key) != 1 {
		return ErrMismatchedHash
	}
	return nil
}
