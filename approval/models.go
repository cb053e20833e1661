package approval

import (
	"time"

	"osflow/ownership"
)

// Status of one approval cycle. Rows are forward-only: a request is decided
// at most once; a rejected stage opens a new cycle with a new row.
type Status string

const (
	StatusRequested Status = "solicitada"
	StatusApproved  Status = "aprovada"
	StatusRejected  Status = "rejeitada"
)

// Approval is one request-and-verdict cycle for a stage that requires
// sign-off before the instance may advance past it.
type Approval struct {
	ID            string
	InstanceID    string
	StepOrdinal   int
	Status        Status
	RequestedByID string
	Justification string
	DecidedByID   *string
	RejectReason  *string
	RequestedAt   time.Time
	DecidedAt     *time.Time
}

// approverCargos may decide approval requests regardless of which sector
// owns the stage.
var approverCargos = []ownership.CargoSlug{
	ownership.CargoCoordAdministrativo,
	ownership.CargoDiretor,
	ownership.CargoAdmin,
}

// CanApprove reports whether the cargo may decide approval requests.
func CanApprove(cargo ownership.CargoSlug) bool {
	for _, c := range approverCargos {
		if c == cargo {
			return true
		}
	}
	return false
}
