package notification

import (
	"context"
	"fmt"
)

// Sink persists notifications.
type Sink interface {
	Insert(ctx context.Context, params SendParams) (Notification, error)
	ListForRecipient(ctx context.Context, recipientID string, unreadOnly bool) ([]Notification, error)
	MarkRead(ctx context.Context, id, recipientID string) (Notification, error)
}

// Service exposes notification operations. Delivery is best-effort by
// contract: producers call Send after their durable writes commit and treat
// failures as log-and-continue.
type Service struct {
	repo Sink
}

// NewService builds a Service using the provided repository.
func NewService(repo Sink) *Service {
	return &Service{repo: repo}
}

// Send creates one notification.
func (s *Service) Send(ctx context.Context, params SendParams) (Notification, error) {
	if params.RecipientID == "" {
		return Notification{}, fmt.Errorf("notification: missing recipient")
	}
	if params.Title == "" {
		return Notification{}, fmt.Errorf("notification: missing title")
	}
	if params.Type == "" {
		params.Type = TypeInfo
	}
	return s.repo.Insert(ctx, params)
}

// ListForRecipient returns a recipient's notifications.
func (s *Service) ListForRecipient(ctx context.Context, recipientID string, unreadOnly bool) ([]Notification, error) {
	return s.repo.ListForRecipient(ctx, recipientID, unreadOnly)
}

// MarkRead marks one notification read on behalf of its recipient.
func (s *Service) MarkRead(ctx context.Context, id, recipientID string) (Notification, error) {
	return s.repo.MarkRead(ctx, id, recipientID)
}
