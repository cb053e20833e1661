package approval

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"osflow/workflow"
)

var (
	// ErrNotFound signals the approval does not exist.
	ErrNotFound = errors.New("approval: not found")
	// ErrAlreadyDecided signals a verdict against a request that was
	// already decided (or never requested).
	ErrAlreadyDecided = errors.New("approval: request already decided")
	// ErrInstanceNotFound signals the instance does not exist.
	ErrInstanceNotFound = errors.New("approval: instance not found")
	// ErrStageStale signals the stage row was not in the expected state.
	ErrStageStale = errors.New("approval: stage is not in the expected state")
)

const approvalColumns = `id, os_id, etapa_ordem, status, solicitado_por_id, justificativa, decidido_por_id, motivo_rejeicao, solicitado_em, decidido_em`

// instanceInfo is the slice of ordens_servico the approval flow needs.
type instanceInfo struct {
	ID       string
	Code     string
	TypeCode string
	Terminal bool
}

// Repository persists approval cycles.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InstanceInfo reads the owning instance's code, type and lifecycle.
func (r *Repository) InstanceInfo(ctx context.Context, instanceID string) (instanceInfo, error) {
	const query = `
		SELECT id, codigo_os, tipo_os, status IN ('concluida', 'cancelada')
		FROM ordens_servico
		WHERE id = $1
	`
	var info instanceInfo
	err := r.pool.QueryRow(ctx, query, instanceID).Scan(&info.ID, &info.Code, &info.TypeCode, &info.Terminal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return instanceInfo{}, ErrInstanceNotFound
		}
		return instanceInfo{}, fmt.Errorf("approval: instance info: %w", err)
	}
	return info, nil
}

// Insert opens a new approval cycle.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, a Approval) (Approval, error) {
	const query = `
		INSERT INTO os_aprovacoes (id, os_id, etapa_ordem, status, solicitado_por_id, justificativa)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6)
		RETURNING ` + approvalColumns + `
	`
	created, err := scanApproval(tx.QueryRow(ctx, query,
		a.ID,
		a.InstanceID,
		a.StepOrdinal,
		a.Status,
		a.RequestedByID,
		a.Justification,
	))
	if err != nil {
		return Approval{}, fmt.Errorf("approval: insert: %w", err)
	}
	return created, nil
}

// Get fetches an approval by id.
func (r *Repository) Get(ctx context.Context, id string) (Approval, error) {
	const query = `
		SELECT ` + approvalColumns + `
		FROM os_aprovacoes
		WHERE id = $1
	`
	a, err := scanApproval(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Approval{}, ErrNotFound
		}
		return Approval{}, fmt.Errorf("approval: get: %w", err)
	}
	return a, nil
}

// LatestForStage returns the newest approval cycle of a stage, if any.
func (r *Repository) LatestForStage(ctx context.Context, instanceID string, step int) (Approval, bool, error) {
	const query = `
		SELECT ` + approvalColumns + `
		FROM os_aprovacoes
		WHERE os_id = $1
		  AND etapa_ordem = $2
		ORDER BY solicitado_em DESC
		LIMIT 1
	`
	a, err := scanApproval(r.pool.QueryRow(ctx, query, instanceID, step))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Approval{}, false, nil
		}
		return Approval{}, false, fmt.Errorf("approval: latest for stage: %w", err)
	}
	return a, true, nil
}

// LatestDecision adapts the newest cycle into the stage gate's view.
func (r *Repository) LatestDecision(ctx context.Context, instanceID string, step int) (workflow.ApprovalDecision, bool, error) {
	a, found, err := r.LatestForStage(ctx, instanceID, step)
	if err != nil || !found {
		return workflow.ApprovalDecision{}, false, err
	}
	return workflow.ApprovalDecision{
		Approved: a.Status == StatusApproved,
		Rejected: a.Status == StatusRejected,
	}, true, nil
}

// Decide records the verdict with a compare-and-swap on the requested
// status, so a request is decided exactly once.
func (r *Repository) Decide(ctx context.Context, tx pgx.Tx, id string, next Status, deciderID string, rejectReason *string) (Approval, error) {
	const query = `
		UPDATE os_aprovacoes
		SET status = $2,
		    decidido_por_id = $3,
		    motivo_rejeicao = $4,
		    decidido_em = now()
		WHERE id = $1
		  AND status = 'solicitada'
		RETURNING ` + approvalColumns + `
	`
	a, err := scanApproval(tx.QueryRow(ctx, query, id, next, deciderID, rejectReason))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Approval{}, fmt.Errorf("approval: decide: %w", err)
	}
	var exists bool
	if checkErr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM os_aprovacoes WHERE id = $1)`, id).Scan(&exists); checkErr != nil {
		return Approval{}, fmt.Errorf("approval: decide check: %w", checkErr)
	}
	if !exists {
		return Approval{}, ErrNotFound
	}
	return Approval{}, ErrAlreadyDecided
}

// SetStageStatus moves the stage row between states, guarded by the expected
// current states.
func (r *Repository) SetStageStatus(ctx context.Context, tx pgx.Tx, instanceID string, step int, expect []workflow.StageStatus, next workflow.StageStatus) error {
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
	tag, err := tx.Exec(ctx, query, instanceID, step, expected, next)
	if err != nil {
		return fmt.Errorf("approval: set stage status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStageStale
	}
	return nil
}

// ListForInstance returns every approval cycle of an instance, newest first.
func (r *Repository) ListForInstance(ctx context.Context, instanceID string) ([]Approval, error) {
	const query = `
		SELECT ` + approvalColumns + `
		FROM os_aprovacoes
		WHERE os_id = $1
		ORDER BY solicitado_em DESC
	`
	rows, err := r.pool.Query(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("approval: list: %w", err)
	}
	defer rows.Close()

	var out []Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("approval: scan: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("approval: iterate: %w", err)
	}
	return out, nil
}

func scanApproval(row pgx.Row) (Approval, error) {
	var a Approval
	return a, row.Scan(
		&a.ID,
		&a.InstanceID,
		&a.StepOrdinal,
		&a.Status,
		&a.RequestedByID,
		&a.Justification,
		&a.DecidedByID,
		&a.RejectReason,
		&a.RequestedAt,
		&a.DecidedAt,
	)
}
