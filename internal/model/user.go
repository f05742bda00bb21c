package model

import (
	"time"

	"github.com/google/uuid"
)

// User roles
const (
	RoleDoctor = "doctor"
	RoleAdmin  = "admin"
	RoleUser   = "user"
)

// User is a clinician account. Immutable after creation.
type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Name         string    `json:"name" db:"name"`
	Role         string    `json:"role" db:"role"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=6,max=128"`
	Name     string `json:"name" validate:"required,min=2,max=50"`
}
