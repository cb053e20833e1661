package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"osflow/ownership"
)

var (
	// ErrInstanceNotFound signals the instance does not exist.
	ErrInstanceNotFound = errors.New("transfer: instance not found")
	// ErrInstanceClosed signals a handoff against a terminal instance.
	ErrInstanceClosed = errors.New("transfer: instance is closed")
	// ErrStaleHandoff signals the instance already moved past the step the
	// handoff departs from.
	ErrStaleHandoff = errors.New("transfer: instance is not at the handoff step")
)

const recordColumns = `id, os_id, etapa_origem, etapa_destino, setor_origem, setor_destino, realizado_por_id, coordenador_notificado_id, observacao, created_at`

// instanceSnapshot is the slice of ordens_servico the executor needs while
// holding the row lock.
type instanceSnapshot struct {
	ID          string
	Code        string
	TypeCode    string
	CurrentStep int
	Setor       ownership.SetorSlug
	Status      string
}

func (s instanceSnapshot) terminal() bool {
	return s.Status == "concluida" || s.Status == "cancelada"
}

// Repository persists handoff records and applies the instance move.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LockInstance reads the instance row under FOR UPDATE so the step check and
// the move happen against a frozen snapshot.
func (r *Repository) LockInstance(ctx context.Context, tx pgx.Tx, instanceID string) (instanceSnapshot, error) {
	const query = `
		SELECT id, codigo_os, tipo_os, etapa_atual_ordem, setor_atual, status
		FROM ordens_servico
		WHERE id = $1
		FOR UPDATE
	`
	var snap instanceSnapshot
	err := tx.QueryRow(ctx, query, instanceID).Scan(
		&snap.ID,
		&snap.Code,
		&snap.TypeCode,
		&snap.CurrentStep,
		&snap.Setor,
		&snap.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return instanceSnapshot{}, ErrInstanceNotFound
		}
		return instanceSnapshot{}, fmt.Errorf("transfer: lock instance: %w", err)
	}
	return snap, nil
}

// Insert writes the handoff record.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	const query = `
		INSERT INTO os_transferencias (id, os_id, etapa_origem, etapa_destino, setor_origem, setor_destino, realizado_por_id, observacao)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + recordColumns + `
	`
	created, err := scanRecord(tx.QueryRow(ctx, query,
		rec.ID,
		rec.InstanceID,
		rec.FromStep,
		rec.ToStep,
		rec.FromSetor,
		rec.ToSetor,
		rec.ExecutedByID,
		rec.Note,
	))
	if err != nil {
		return Record{}, fmt.Errorf("transfer: insert record: %w", err)
	}
	return created, nil
}

// MoveInstance applies the sector and step change, conditioned on the
// instance still sitting at the departing step.
func (r *Repository) MoveInstance(ctx context.Context, tx pgx.Tx, instanceID string, fromStep, toStep int, toSetor ownership.SetorSlug) error {
	const query = `
		UPDATE ordens_servico
		SET etapa_atual_ordem = $3,
		    setor_atual = $4,
		    status = 'em_andamento',
		    updated_at = now()
		WHERE id = $1
		  AND etapa_atual_ordem = $2
		  AND status IN ('triagem', 'em_andamento')
	`
	tag, err := tx.Exec(ctx, query, instanceID, fromStep, toStep, toSetor)
	if err != nil {
		return fmt.Errorf("transfer: move instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleHandoff
	}
	return nil
}

// RollStages closes the departing stage row and opens the arriving one.
func (r *Repository) RollStages(ctx context.Context, tx pgx.Tx, instanceID string, fromStep, toStep int) error {
	if _, err := tx.Exec(ctx, `
		UPDATE os_etapas
		SET status = 'concluida', updated_at = now()
		WHERE os_id = $1 AND ordem = $2 AND status IN ('em_andamento', 'aprovada')
	`, instanceID, fromStep); err != nil {
		return fmt.Errorf("transfer: close stage %d: %w", fromStep, err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE os_etapas
		SET status = 'em_andamento', updated_at = now()
		WHERE os_id = $1 AND ordem = $2 AND status = 'pendente'
	`, instanceID, toStep); err != nil {
		return fmt.Errorf("transfer: open stage %d: %w", toStep, err)
	}
	return nil
}

// MarkNotified records which coordinator was told about the handoff. Runs
// outside the handoff transaction since notification is post-commit.
func (r *Repository) MarkNotified(ctx context.Context, recordID, coordinatorID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE os_transferencias
		SET coordenador_notificado_id = $2
		WHERE id = $1
	`, recordID, coordinatorID)
	if err != nil {
		return fmt.Errorf("transfer: mark notified: %w", err)
	}
	return nil
}

// ListForInstance returns the handoffs of an instance, oldest first.
func (r *Repository) ListForInstance(ctx context.Context, instanceID string) ([]Record, error) {
	const query = `
		SELECT ` + recordColumns + `
		FROM os_transferencias
		WHERE os_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("transfer: list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("transfer: scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transfer: iterate records: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	return rec, row.Scan(
		&rec.ID,
		&rec.InstanceID,
		&rec.FromStep,
		&rec.ToStep,
		&rec.FromSetor,
		&rec.ToSetor,
		&rec.ExecutedByID,
		&rec.NotifiedCoordinatorID,
		&rec.Note,
		&rec.CreatedAt,
	)
}
