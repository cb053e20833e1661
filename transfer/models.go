package transfer

import (
	"time"

	"osflow/ownership"
)

// Record is one sector handoff that actually happened. Rows are insert-only;
// the notified coordinator is filled in after the fact, everything else is
// immutable.
type Record struct {
	ID                    string
	InstanceID            string
	FromStep              int
	ToStep                int
	FromSetor             ownership.SetorSlug
	ToSetor               ownership.SetorSlug
	ExecutedByID          string
	NotifiedCoordinatorID *string
	Note                  string
	CreatedAt             time.Time
}

// ExecuteParams carries one handoff to execute.
type ExecuteParams struct {
	InstanceID   string
	ExecutedByID string
	Handoff      ownership.HandoffPoint
	Note         string
}

// Result reports the state of the instance after a successful handoff.
type Result struct {
	Record   Record
	NewStep  int
	NewSetor ownership.SetorSlug
}
