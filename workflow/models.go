package workflow

import (
	"time"

	"osflow/ownership"
)

// Status is the overall lifecycle of a workflow instance. Completed and
// canceled are terminal; no transition leaves them.
type Status string

const (
	StatusTriage     Status = "triagem"
	StatusInProgress Status = "em_andamento"
	StatusCompleted  Status = "concluida"
	StatusCanceled   Status = "cancelada"
)

// Terminal reports whether the lifecycle status admits no further writes.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// StageStatus tracks one stage of one instance.
type StageStatus string

const (
	StagePending          StageStatus = "pendente"
	StageInProgress       StageStatus = "em_andamento"
	StageAwaitingApproval StageStatus = "aguardando_aprovacao"
	StageApproved         StageStatus = "aprovada"
	StageCompleted        StageStatus = "concluida"
)

// Instance is one running ordem de serviço.
type Instance struct {
	ID           string
	Code         string
	TypeCode     string
	CurrentStep  int
	CurrentSetor ownership.SetorSlug
	Status       Status
	CreatedByID  string
	ParentID     *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Stage is the per-instance record of one stage.
type Stage struct {
	ID         string
	InstanceID string
	Ordinal    int
	Name       string
	Status     StageStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ResponsibleParty identifies who currently answers for a stage.
type ResponsibleParty struct {
	ActorID    string
	Name       string
	Cargo      ownership.CargoSlug
	IsDelegate bool
}

// StepResponsibility is the resolver's answer for one (instance, stage)
// pair, evaluated for a specific requesting actor.
type StepResponsibility struct {
	Ordinal     int
	Setor       ownership.SetorSlug
	Responsible ResponsibleParty
	CanEdit     bool
	CanDelegate bool
	BlockReason string
}

// Gate decision reasons, surfaced to callers so the UI can explain why an
// advance control is disabled.
const (
	ReasonNotResponsible   = "not-responsible"
	ReasonApprovalPending  = "approval-pending"
	ReasonApprovalRejected = "approval-rejected"
	ReasonInstanceClosed   = "instance-closed"
)

// GateDecision is the stage gate's verdict. Detail, when set, is a
// human-readable complement to Reason.
type GateDecision struct {
	Allowed bool
	Reason  string
	Detail  string
}
