package directory

import (
	"time"

	"osflow/ownership"
)

// Actor is the domain representation of a colaborador. It mirrors the
// colaboradores table and carries the sector/cargo pair the ownership rules
// are evaluated against.
type Actor struct {
	ID        string
	FullName  string
	Email     string
	CargoSlug ownership.CargoSlug
	SetorSlug ownership.SetorSlug
	Active    bool
	AvatarURL *string
	CreatedAt time.Time
	UpdatedAt time.Time
}
