// Package timeline appends immutable activity entries to a workflow
// instance. Entries are written inside the caller's transaction so they
// commit or roll back together with the state change they describe.
package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Activity tipos recorded against ordens de serviço.
const (
	ActivityCreated           = "os_criada"
	ActivityStageAdvanced     = "etapa_avancada"
	ActivitySectorTransferred = "transferencia_setor"
	ActivityCompleted         = "os_concluida"
	ActivityCanceled          = "os_cancelada"
	ActivityStageDelegated    = "etapa_delegada"
	ActivityDelegationRevoked = "delegacao_revogada"
	ActivityApprovalRequested = "aprovacao_solicitada"
	ActivityApprovalConfirmed = "aprovacao_confirmada"
	ActivityApprovalRejected  = "aprovacao_rejeitada"
)

// Activity is one append-only log entry attached to a workflow instance.
type Activity struct {
	ID          string
	InstanceID  string
	ActorID     *string
	Type        string
	Description string
	Payload     []byte
	CreatedAt   time.Time
}

// Writer appends activities inside an open transaction.
type Writer interface {
	Append(ctx context.Context, tx pgx.Tx, instanceID string, actorID *string, activityType, description string, payload map[string]any) error
}

// PGWriter is the Postgres-backed Writer.
type PGWriter struct{}

// NewWriter returns a PGWriter.
func NewWriter() *PGWriter {
	return &PGWriter{}
}

// Append inserts one activity row. The payload is stored as jsonb.
func (w *PGWriter) Append(ctx context.Context, tx pgx.Tx, instanceID string, actorID *string, activityType, description string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("timeline: marshal payload: %w", err)
	}

	const q = `
INSERT INTO os_atividades (os_id, usuario_id, tipo_atividade, descricao, dados_adicionais)
VALUES ($1, $2, $3, $4, $5::jsonb)
`
	var actor any
	if actorID != nil && *actorID != "" {
		actor = *actorID
	}
	if _, err := tx.Exec(ctx, q, instanceID, actor, activityType, description, body); err != nil {
		return fmt.Errorf("timeline: insert activity: %w", err)
	}
	return nil
}

// Reader lists persisted activities outside any transaction.
type Reader struct {
	pool *pgxpool.Pool
}

// NewReader returns a pool-backed Reader.
func NewReader(pool *pgxpool.Pool) *Reader {
	return &Reader{pool: pool}
}

// ListForInstance returns the activities of an instance ordered oldest first.
func (r *Reader) ListForInstance(ctx context.Context, instanceID string) ([]Activity, error) {
	const query = `
		SELECT id, os_id, usuario_id, tipo_atividade, descricao, dados_adicionais, created_at
		FROM os_atividades
		WHERE os_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("timeline: list: %w", err)
	}
	defer rows.Close()

	out := make([]Activity, 0, 16)
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.InstanceID, &a.ActorID, &a.Type, &a.Description, &a.Payload, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("timeline: scan: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("timeline: iterate: %w", err)
	}
	return out, nil
}
