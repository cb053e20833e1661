package notification

import "time"

// Type classifies a notification for presentation.
type Type string

const (
	TypeInfo      Type = "info"
	TypeAttention Type = "attention"
	TypeSuccess   Type = "success"
	TypeTask      Type = "task"
	TypeApproval  Type = "approval"
)

// Notification is a message addressed to one colaborador. Rows are written by
// the engine and mutated only when the recipient marks them read.
type Notification struct {
	ID          string
	RecipientID string
	Title       string
	Body        string
	DeepLink    *string
	Type        Type
	Read        bool
	CreatedAt   time.Time
}

// SendParams carries everything needed to create one notification.
type SendParams struct {
	RecipientID string
	Title       string
	Body        string
	DeepLink    string
	Type        Type
}
