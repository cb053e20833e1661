package auth

import (
	"time"

	"osflow/ownership"
)

// Account is the authenticated view of a colaborador. It mirrors the
// colaboradores table and should not include JSON annotations so it can be
// reused by different presentation layers.
type Account struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	CargoSlug    ownership.CargoSlug
	SetorSlug    ownership.SetorSlug
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains colaborador registration data supplied by callers.
type RegisterRequest struct {
	Email    string              `json:"email"`
	Password string              `json:"password"`
	FullName string              `json:"full_name"`
	Cargo    ownership.CargoSlug `json:"cargo"`
	Setor    ownership.SetorSlug `json:"setor"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
