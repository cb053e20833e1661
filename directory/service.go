package directory

import (
	"context"

	"osflow/ownership"
)

// ActorReader abstracts repository operations for the service.
type ActorReader interface {
	GetActor(ctx context.Context, id string) (Actor, error)
	ListByCargo(ctx context.Context, cargo ownership.CargoSlug) ([]Actor, error)
	ListBySetorCargo(ctx context.Context, setor ownership.SetorSlug, cargo ownership.CargoSlug) ([]Actor, error)
	Coordinator(ctx context.Context, setor ownership.SetorSlug) (Actor, error)
}

// Service exposes business-level directory operations.
type Service struct {
	repo ActorReader
}

// NewService builds a Service using the provided repository.
func NewService(repo ActorReader) *Service {
	return &Service{repo: repo}
}

// GetActor returns the colaborador for the given identifier.
func (s *Service) GetActor(ctx context.Context, id string) (Actor, error) {
	return s.repo.GetActor(ctx, id)
}

// Coordinator returns the active coordinator of a sector, with the
// admin/diretor fallback applied.
func (s *Service) Coordinator(ctx context.Context, setor ownership.SetorSlug) (Actor, error) {
	return s.repo.Coordinator(ctx, setor)
}

// ListByCargo returns the active colaboradores holding a cargo.
func (s *Service) ListByCargo(ctx context.Context, cargo ownership.CargoSlug) ([]Actor, error) {
	return s.repo.ListByCargo(ctx, cargo)
}

// ListEligible returns the active colaboradores allowed to act on stages
// owned by a sector.
func (s *Service) ListEligible(ctx context.Context, setor ownership.SetorSlug) ([]Actor, error) {
	var out []Actor
	for _, cargo := range ownership.EligibleCargos(setor) {
		actors, err := s.repo.ListBySetorCargo(ctx, setor, cargo)
		if err != nil {
			return nil, err
		}
		out = append(out, actors...)
	}
	return out, nil
}
