// Package outbox implements the transactional-outbox half of the
// notification design: durable messages are enqueued in the same transaction
// as the state change and delivered to downstream consumers out of band.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Topics published by the workflow engine.
const (
	TopicInstanceCreated     = "os.created"
	TopicSectorTransferred   = "os.sector_transferred"
	TopicStageDelegated      = "os.stage_delegated"
	TopicApprovalRequested   = "os.approval_requested"
	TopicApprovalDecided     = "os.approval_decided"
	TopicInstanceCompleted   = "os.completed"
	TopicDelegationCompleted = "os.delegation_completed"
)

// Message represents a transactional outbox entry.
type Message struct {
	ID        string
	Topic     string
	Payload   []byte
	Status    string
	Attempts  int
	CreatedAt time.Time
}

// Writer enqueues messages inside an open transaction.
type Writer interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// PGWriter is the Postgres-backed Writer.
type PGWriter struct{}

// NewWriter returns a PGWriter.
func NewWriter() *PGWriter {
	return &PGWriter{}
}

// Enqueue inserts one outbox row for downstream delivery.
func (w *PGWriter) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}

	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("outbox: enqueue: %w", err)
	}
	return nil
}
