// Package auth owns accounts and sessions and guards every protected route.
package auth

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Role is an account's role.
type Role string

const (
	RoleGuardian Role = "guardian"
	RolePatient  Role = "patient"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleGuardian || r == RolePatient
}

// DefaultCity is stored when a registration leaves city empty.
const DefaultCity = "Hassan, Karnataka"

// Account is a stored user without its password hash.
type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	City      string    `json:"city"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// RegisterInput is the body of POST /v1/auth/register.
type RegisterInput struct {
	Name     string `json:"name" validate:"required,max=80"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Role     Role   `json:"role" validate:"omitempty,oneof=guardian patient"`
	City     string `json:"city" validate:"max=120"`
	Phone    string `json:"phone" validate:"max=30"`
}

// LoginInput is the body of POST /v1/auth/login.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Session is an issued access token and the account it belongs to.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      Account   `json:"user"`
}

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrSessionRevoked     = errors.New("session revoked")
	ErrAccountNotFound    = errors.New("account not found")
)

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DBPair interface for dependency injection (matches db.DBPair)
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}
