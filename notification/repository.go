package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the notification does not exist.
	ErrNotFound = errors.New("notification: not found")
	// ErrNotRecipient signals somebody other than the recipient tried to mark
	// the notification read.
	ErrNotRecipient = errors.New("notification: not the recipient")
)

const notificationColumns = `id, usuario_id, titulo, mensagem, link_acao, tipo, lida, created_at`

// Repository persists notifications.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert creates one unread notification row.
func (r *Repository) Insert(ctx context.Context, params SendParams) (Notification, error) {
	const query = `
		INSERT INTO notificacoes (usuario_id, titulo, mensagem, link_acao, tipo)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		RETURNING ` + notificationColumns + `
	`

	n, err := scanNotification(r.pool.QueryRow(ctx, query,
		params.RecipientID,
		params.Title,
		params.Body,
		params.DeepLink,
		params.Type,
	))
	if err != nil {
		return Notification{}, fmt.Errorf("notification: insert: %w", err)
	}
	return n, nil
}

// ListForRecipient returns a recipient's notifications, newest first.
func (r *Repository) ListForRecipient(ctx context.Context, recipientID string, unreadOnly bool) ([]Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notificacoes
		WHERE usuario_id = $1
	`
	if unreadOnly {
		query += " AND NOT lida"
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("notification: list: %w", err)
	}
	defer rows.Close()

	out := make([]Notification, 0, 16)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("notification: scan: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notification: iterate: %w", err)
	}
	return out, nil
}

// MarkRead flips the read flag. Only the recipient may do it.
func (r *Repository) MarkRead(ctx context.Context, id, recipientID string) (Notification, error) {
	const query = `
		UPDATE notificacoes
		SET lida = TRUE
		WHERE id = $1 AND usuario_id = $2
		RETURNING ` + notificationColumns + `
	`

	n, err := scanNotification(r.pool.QueryRow(ctx, query, id, recipientID))
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Notification{}, fmt.Errorf("notification: mark read: %w", err)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM notificacoes WHERE id = $1)`, id).Scan(&exists); err != nil {
		return Notification{}, fmt.Errorf("notification: mark read check: %w", err)
	}
	if exists {
		return Notification{}, ErrNotRecipient
	}
	return Notification{}, ErrNotFound
}

func scanNotification(row pgx.Row) (Notification, error) {
	var n Notification
	return n, row.Scan(
		&n.ID,
		&n.RecipientID,
		&n.Title,
		&n.Body,
		&n.DeepLink,
		&n.Type,
		&n.Read,
		&n.CreatedAt,
	)
}
