package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"osflow/ownership"
)

// ErrNotFound signals the requested colaborador does not exist.
var ErrNotFound = errors.New("directory: not found")

const actorColumns = `id, full_name, email, cargo_slug, setor_slug, active, avatar_url, created_at, updated_at`

// Repository provides read access to the personnel directory.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetActor fetches a colaborador by its primary key.
func (r *Repository) GetActor(ctx context.Context, id string) (Actor, error) {
	const query = `
		SELECT ` + actorColumns + `
		FROM colaboradores
		WHERE id = $1
	`

	actor, err := scanActor(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Actor{}, ErrNotFound
		}
		return Actor{}, fmt.Errorf("directory: query by id: %w", err)
	}
	return actor, nil
}

// ListByCargo fetches active colaboradores holding the given cargo, ordered
// by name.
func (r *Repository) ListByCargo(ctx context.Context, cargo ownership.CargoSlug) ([]Actor, error) {
	const query = `
		SELECT ` + actorColumns + `
		FROM colaboradores
		WHERE cargo_slug = $1 AND active
		ORDER BY full_name ASC
	`
	return r.queryActors(ctx, query, cargo)
}

// ListBySetorCargo fetches active colaboradores matching both sector and
// cargo.
func (r *Repository) ListBySetorCargo(ctx context.Context, setor ownership.SetorSlug, cargo ownership.CargoSlug) ([]Actor, error) {
	const query = `
		SELECT ` + actorColumns + `
		FROM colaboradores
		WHERE setor_slug = $1 AND cargo_slug = $2 AND active
		ORDER BY full_name ASC
	`
	return r.queryActors(ctx, query, setor, cargo)
}

// Coordinator resolves the active coordinator of a sector. When the sector
// has no active coordinator it falls back to an active admin or diretor, so
// transfers always have somebody to notify.
func (r *Repository) Coordinator(ctx context.Context, setor ownership.SetorSlug) (Actor, error) {
	cargo, ok := ownership.CoordinatorCargo(setor)
	if !ok {
		return Actor{}, fmt.Errorf("directory: no coordinator cargo for sector %q", setor)
	}

	const query = `
		SELECT ` + actorColumns + `
		FROM colaboradores
		WHERE cargo_slug = $1 AND active
		ORDER BY created_at ASC
		LIMIT 1
	`
	actor, err := scanActor(r.pool.QueryRow(ctx, query, cargo))
	if err == nil {
		return actor, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Actor{}, fmt.Errorf("directory: query coordinator: %w", err)
	}

	const fallback = `
		SELECT ` + actorColumns + `
		FROM colaboradores
		WHERE cargo_slug IN ('admin', 'diretor') AND active
		ORDER BY created_at ASC
		LIMIT 1
	`
	actor, err = scanActor(r.pool.QueryRow(ctx, fallback))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Actor{}, ErrNotFound
		}
		return Actor{}, fmt.Errorf("directory: query coordinator fallback: %w", err)
	}
	return actor, nil
}

func (r *Repository) queryActors(ctx context.Context, query string, args ...any) ([]Actor, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("directory: list: %w", err)
	}
	defer rows.Close()

	actors := make([]Actor, 0, 8)
	for rows.Next() {
		actor, err := scanActor(rows)
		if err != nil {
			return nil, fmt.Errorf("directory: scan actor: %w", err)
		}
		actors = append(actors, actor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: iterate actors: %w", err)
	}
	return actors, nil
}

func scanActor(row pgx.Row) (Actor, error) {
	var a Actor
	return a, row.Scan(
		&a.ID,
		&a.FullName,
		&a.Email,
		&a.CargoSlug,
		&a.SetorSlug,
		&a.Active,
		&a.AvatarURL,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
}
