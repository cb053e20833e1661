package delegation

import (
	"errors"
	"time"
)

// Status of a delegation. Transitions are forward-only; expired and
// completed are terminal.
type Status string

const (
	StatusPending   Status = "pendente"
	StatusAccepted  Status = "aceita"
	StatusCompleted Status = "concluida"
	StatusExpired   Status = "expirada"
)

// ErrInvalidTransition signals a status regression or an unknown status.
var ErrInvalidTransition = errors.New("delegation: invalid status transition")

var transitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusExpired},
	StatusAccepted: {StatusCompleted, StatusExpired},
}

// Active reports whether the delegation still overrides responsibility.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusAccepted
}

// CanTransitionTo reports whether moving to next is a legal forward step.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Delegation hands one stage of one instance to a named colaborador until a
// deadline. At most one delegation per (instance, stage) is active at a
// time.
type Delegation struct {
	ID              string
	InstanceID      string
	StepOrdinal     int
	DelegatorID     string
	DelegateID      string
	Deadline        time.Time
	Status          Status
	TaskDescription string
	Notes           *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
