package delegation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the delegation does not exist.
	ErrNotFound = errors.New("delegation: not found")
	// ErrDelegationActive signals the partial unique index rejected a
	// second active delegation for the same stage.
	ErrDelegationActive = errors.New("delegation: stage already has an active delegation")
	// ErrInstanceNotFound signals the instance does not exist.
	ErrInstanceNotFound = errors.New("delegation: instance not found")
)

const delegationColumns = `id, os_id, etapa_ordem, delegante_id, delegado_id, prazo, status, descricao_tarefa, observacoes, created_at, updated_at`

// Repository persists delegations.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// instanceState is the slice of ordens_servico the delegation checks need.
type instanceState struct {
	TypeCode    string
	CurrentStep int
	Terminal    bool
}

// InstanceState reads the owning instance's type, step and lifecycle.
func (r *Repository) InstanceState(ctx context.Context, instanceID string) (instanceState, error) {
	const query = `
		SELECT tipo_os, etapa_atual_ordem, status IN ('concluida', 'cancelada')
		FROM ordens_servico
		WHERE id = $1
	`
	var st instanceState
	err := r.pool.QueryRow(ctx, query, instanceID).Scan(&st.TypeCode, &st.CurrentStep, &st.Terminal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return instanceState{}, ErrInstanceNotFound
		}
		return instanceState{}, fmt.Errorf("delegation: instance state: %w", err)
	}
	return st, nil
}

// Insert writes a new delegation. A conflict with the partial unique index
// over active rows maps to ErrDelegationActive.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, d Delegation) (Delegation, error) {
	const query = `
		INSERT INTO delegacoes (id, os_id, etapa_ordem, delegante_id, delegado_id, prazo, status, descricao_tarefa, observacoes)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + delegationColumns + `
	`
	created, err := scanDelegation(tx.QueryRow(ctx, query,
		d.ID,
		d.InstanceID,
		d.StepOrdinal,
		d.DelegatorID,
		d.DelegateID,
		d.Deadline,
		d.Status,
		d.TaskDescription,
		d.Notes,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Delegation{}, ErrDelegationActive
		}
		return Delegation{}, fmt.Errorf("delegation: insert: %w", err)
	}
	return created, nil
}

// Get fetches a delegation by id.
func (r *Repository) Get(ctx context.Context, id string) (Delegation, error) {
	const query = `
		SELECT ` + delegationColumns + `
		FROM delegacoes
		WHERE id = $1
	`
	d, err := scanDelegation(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Delegation{}, ErrNotFound
		}
		return Delegation{}, fmt.Errorf("delegation: get: %w", err)
	}
	return d, nil
}

// GetForUpdate fetches a delegation inside the transaction with a row lock.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Delegation, error) {
	const query = `
		SELECT ` + delegationColumns + `
		FROM delegacoes
		WHERE id = $1
		FOR UPDATE
	`
	d, err := scanDelegation(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Delegation{}, ErrNotFound
		}
		return Delegation{}, fmt.Errorf("delegation: get for update: %w", err)
	}
	return d, nil
}

// ActiveForStep returns the active delegation of a stage, if one exists.
func (r *Repository) ActiveForStep(ctx context.Context, instanceID string, step int) (Delegation, error) {
	const query = `
		SELECT ` + delegationColumns + `
		FROM delegacoes
		WHERE os_id = $1
		  AND etapa_ordem = $2
		  AND status IN ('pendente', 'aceita')
	`
	d, err := scanDelegation(r.pool.QueryRow(ctx, query, instanceID, step))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Delegation{}, ErrNotFound
		}
		return Delegation{}, fmt.Errorf("delegation: active for step: %w", err)
	}
	return d, nil
}

// ActiveDelegate reports the delegate currently overriding responsibility
// for a stage. The boolean is false when no delegation is active.
func (r *Repository) ActiveDelegate(ctx context.Context, instanceID string, step int) (string, bool, error) {
	d, err := r.ActiveForStep(ctx, instanceID, step)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return d.DelegateID, true, nil
}

// UpdateStatus moves a delegation between states with a compare-and-swap on
// the expected current status.
func (r *Repository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, expect []Status, next Status) (Delegation, error) {
	const query = `
		UPDATE delegacoes
		SET status = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($2)
		RETURNING ` + delegationColumns + `
	`
	expected := make([]string, len(expect))
	for i, s := range expect {
		expected[i] = string(s)
	}
	d, err := scanDelegation(tx.QueryRow(ctx, query, id, expected, next))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Delegation{}, fmt.Errorf("delegation: update status: %w", err)
	}
	if _, getErr := r.GetForUpdate(ctx, tx, id); getErr != nil {
		return Delegation{}, getErr
	}
	return Delegation{}, ErrInvalidTransition
}

// SupersedeActive expires whatever delegation is active for the stage,
// returning how many rows it touched (zero or one under the unique index).
func (r *Repository) SupersedeActive(ctx context.Context, tx pgx.Tx, instanceID string, step int) (int64, error) {
	const query = `
		UPDATE delegacoes
		SET status = 'expirada',
		    updated_at = now()
		WHERE os_id = $1
		  AND etapa_ordem = $2
		  AND status IN ('pendente', 'aceita')
	`
	tag, err := tx.Exec(ctx, query, instanceID, step)
	if err != nil {
		return 0, fmt.Errorf("delegation: supersede: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ExpireOverdue expires every active delegation whose deadline has passed.
func (r *Repository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	const query = `
		UPDATE delegacoes
		SET status = 'expirada',
		    updated_at = now()
		WHERE status IN ('pendente', 'aceita')
		  AND prazo < $1
	`
	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delegation: expire overdue: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListForInstance returns every delegation of an instance, newest first.
func (r *Repository) ListForInstance(ctx context.Context, instanceID string) ([]Delegation, error) {
	const query = `
		SELECT ` + delegationColumns + `
		FROM delegacoes
		WHERE os_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("delegation: list: %w", err)
	}
	defer rows.Close()

	var out []Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, fmt.Errorf("delegation: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delegation: iterate: %w", err)
	}
	return out, nil
}

func scanDelegation(row pgx.Row) (Delegation, error) {
	var d Delegation
	return d, row.Scan(
		&d.ID,
		&d.InstanceID,
		&d.StepOrdinal,
		&d.DelegatorID,
		&d.DelegateID,
		&d.Deadline,
		&d.Status,
		&d.TaskDescription,
		&d.Notes,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
}
