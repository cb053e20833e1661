package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"osflow/ownership"
)

var (
	// ErrNotFound signals the instance does not exist.
	ErrNotFound = errors.New("workflow: instance not found")
	// ErrStaleInstance signals a conditional write lost the race: the
	// instance no longer is at the expected step or status.
	ErrStaleInstance = errors.New("workflow: instance moved since it was read")
	// ErrInstanceClosed signals a write against a terminal instance.
	ErrInstanceClosed = errors.New("workflow: instance is closed")
)

const instanceColumns = `id, codigo_os, tipo_os, etapa_atual_ordem, setor_atual, status, criado_por_id, parent_os_id, created_at, updated_at`

// Repository persists workflow instances and their stage rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts the instance plus one row per stage definition, all inside
// the caller's transaction.
func (r *Repository) Create(ctx context.Context, tx pgx.Tx, inst Instance, stages []ownership.StageDefinition) (Instance, error) {
	const query = `
		INSERT INTO ordens_servico (id, codigo_os, tipo_os, etapa_atual_ordem, setor_atual, status, criado_por_id, parent_os_id)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + instanceColumns + `
	`

	created, err := scanInstance(tx.QueryRow(ctx, query,
		inst.ID,
		inst.Code,
		inst.TypeCode,
		inst.CurrentStep,
		inst.CurrentSetor,
		inst.Status,
		inst.CreatedByID,
		inst.ParentID,
	))
	if err != nil {
		return Instance{}, fmt.Errorf("workflow: insert instance: %w", err)
	}

	for _, def := range stages {
		status := StagePending
		if def.Ordinal == created.CurrentStep {
			status = StageInProgress
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO os_etapas (os_id, ordem, nome, status)
			VALUES ($1, $2, $3, $4)
		`, created.ID, def.Ordinal, def.Name, status); err != nil {
			return Instance{}, fmt.Errorf("workflow: insert stage %d: %w", def.Ordinal, err)
		}
	}

	return created, nil
}

// NextCode reserves the next sequential OS code, e.g. "OS-2026-0042".
func (r *Repository) NextCode(ctx context.Context, tx pgx.Tx) (string, error) {
	var n int64
	if err := tx.QueryRow(ctx, `SELECT nextval('os_codigo_seq')`).Scan(&n); err != nil {
		return "", fmt.Errorf("workflow: next code: %w", err)
	}
	var year int
	if err := tx.QueryRow(ctx, `SELECT EXTRACT(YEAR FROM now())::int`).Scan(&year); err != nil {
		return "", fmt.Errorf("workflow: next code year: %w", err)
	}
	return fmt.Sprintf("OS-%d-%04d", year, n), nil
}

// Get fetches an instance by id.
func (r *Repository) Get(ctx context.Context, id string) (Instance, error) {
	const query = `
		SELECT ` + instanceColumns + `
		FROM ordens_servico
		WHERE id = $1
	`
	inst, err := scanInstance(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Instance{}, ErrNotFound
		}
		return Instance{}, fmt.Errorf("workflow: get instance: %w", err)
	}
	return inst, nil
}

// AdvanceStep bumps the current step with a compare-and-swap on the expected
// step and a guard against terminal statuses. A zero-row update maps to
// ErrStaleInstance (or ErrNotFound for unknown ids).
func (r *Repository) AdvanceStep(ctx context.Context, tx pgx.Tx, id string, fromStep, toStep int) (Instance, error) {
	const query = `
		UPDATE ordens_servico
		SET etapa_atual_ordem = $3,
		    status = 'em_andamento',
		    updated_at = now()
		WHERE id = $1
		  AND etapa_atual_ordem = $2
		  AND status IN ('triagem', 'em_andamento')
		RETURNING ` + instanceColumns + `
	`
	inst, err := scanInstance(tx.QueryRow(ctx, query, id, fromStep, toStep))
	if err == nil {
		return inst, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Instance{}, fmt.Errorf("workflow: advance step: %w", err)
	}
	return Instance{}, r.classifyStale(ctx, tx, id)
}

// SetLifecycle moves the overall status forward. Terminal states are never
// left; the expected current status acts as the compare-and-swap token.
func (r *Repository) SetLifecycle(ctx context.Context, tx pgx.Tx, id string, expect, next Status) (Instance, error) {
	const query = `
		UPDATE ordens_servico
		SET status = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		  AND status IN ('triagem', 'em_andamento')
		RETURNING ` + instanceColumns + `
	`
	inst, err := scanInstance(tx.QueryRow(ctx, query, id, expect, next))
	if err == nil {
		return inst, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Instance{}, fmt.Errorf("workflow: set lifecycle: %w", err)
	}
	return Instance{}, r.classifyStale(ctx, tx, id)
}

// SetStageStatus moves one stage row between states, guarded by the expected
// current states.
func (r *Repository) SetStageStatus(ctx context.Context, tx pgx.Tx, instanceID string, ordinal int, expect []StageStatus, next StageStatus) error {
	const query = `
		UPDATE os_etapas
		SET status = $4,
		    updated_at = now()
		WHERE os_id = $1
		  AND ordem = $2
		  AND status = ANY($3)
	`
	expected := make([]string, len(expect))
	for i, s := range expect {
		expected[i] = string(s)
	}
	tag, err := tx.Exec(ctx, query, instanceID, ordinal, expected, next)
	if err != nil {
		return fmt.Errorf("workflow: set stage status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleInstance
	}
	return nil
}

// Stages returns the stage rows of an instance in order.
func (r *Repository) Stages(ctx context.Context, instanceID string) ([]Stage, error) {
	const query = `
		SELECT id, os_id, ordem, nome, status, created_at, updated_at
		FROM os_etapas
		WHERE os_id = $1
		ORDER BY ordem ASC
	`
	rows, err := r.pool.Query(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("workflow: list stages: %w", err)
	}
	defer rows.Close()

	out := make([]Stage, 0, 16)
	for rows.Next() {
		var st Stage
		if err := rows.Scan(&st.ID, &st.InstanceID, &st.Ordinal, &st.Name, &st.Status, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("workflow: scan stage: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workflow: iterate stages: %w", err)
	}
	return out, nil
}

func (r *Repository) classifyStale(ctx context.Context, tx pgx.Tx, id string) error {
	var status Status
	err := tx.QueryRow(ctx, `SELECT status FROM ordens_servico WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("workflow: stale check: %w", err)
	}
	if status.Terminal() {
		return ErrInstanceClosed
	}
	return ErrStaleInstance
}

func scanInstance(row pgx.Row) (Instance, error) {
	var inst Instance
	return inst, row.Scan(
		&inst.ID,
		&inst.Code,
		&inst.TypeCode,
		&inst.CurrentStep,
		&inst.CurrentSetor,
		&inst.Status,
		&inst.CreatedByID,
		&inst.ParentID,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
}
