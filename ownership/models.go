package ownership

// SetorSlug identifies an organizational sector that owns workflow stages.
type SetorSlug string

const (
	SetorAdministrativo SetorSlug = "administrativo"
	SetorAssessoria     SetorSlug = "assessoria"
	SetorObras          SetorSlug = "obras"
)

// CargoSlug identifies a role that can own or act on workflow stages.
type CargoSlug string

const (
	CargoCoordAdministrativo CargoSlug = "coord_administrativo"
	CargoCoordAssessoria     CargoSlug = "coord_assessoria"
	CargoCoordObras          CargoSlug = "coord_obras"
	CargoOperacionalAdmin    CargoSlug = "operacional_admin"
	CargoOperacionalAssess   CargoSlug = "operacional_assessoria"
	CargoOperacionalObras    CargoSlug = "operacional_obras"

	// Escalation roles can edit and delegate any stage.
	CargoAdmin   CargoSlug = "admin"
	CargoDiretor CargoSlug = "diretor"
)

// InitiatorType restricts who may open a new workflow instance of a given
// type. Besides a concrete cargo, two special values exist: InitiatorCliente
// (opened by the customer through an external link) and InitiatorLivre
// (anyone may open it).
type InitiatorType string

const (
	InitiatorCliente InitiatorType = "CLIENTE"
	InitiatorLivre   InitiatorType = "LIVRE"
)

// SetorNomes maps sector slugs to display names.
var SetorNomes = map[SetorSlug]string{
	SetorAdministrativo: "Administrativo",
	SetorAssessoria:     "Assessoria",
	SetorObras:          "Obras",
}

var cargoSetor = map[CargoSlug]SetorSlug{
	CargoCoordAdministrativo: SetorAdministrativo,
	CargoCoordAssessoria:     SetorAssessoria,
	CargoCoordObras:          SetorObras,
	CargoOperacionalAdmin:    SetorAdministrativo,
	CargoOperacionalAssess:   SetorAssessoria,
	CargoOperacionalObras:    SetorObras,
}

var coordenadorPorSetor = map[SetorSlug]CargoSlug{
	SetorAdministrativo: CargoCoordAdministrativo,
	SetorAssessoria:     CargoCoordAssessoria,
	SetorObras:          CargoCoordObras,
}

// CargoSetor resolves the sector a cargo belongs to. Escalation roles
// (admin, diretor) belong to no sector and report false.
func CargoSetor(cargo CargoSlug) (SetorSlug, bool) {
	s, ok := cargoSetor[cargo]
	return s, ok
}

// CoordinatorCargo returns the coordinator cargo responsible for a sector.
func CoordinatorCargo(setor SetorSlug) (CargoSlug, bool) {
	c, ok := coordenadorPorSetor[setor]
	return c, ok
}

// IsCoordinator reports whether the cargo is a sector coordinator.
func IsCoordinator(cargo CargoSlug) bool {
	switch cargo {
	case CargoCoordAdministrativo, CargoCoordAssessoria, CargoCoordObras:
		return true
	}
	return false
}

// IsEscalation reports whether the cargo bypasses ownership checks.
func IsEscalation(cargo CargoSlug) bool {
	return cargo == CargoAdmin || cargo == CargoDiretor
}

// StageRange assigns a contiguous run of stage ordinals (inclusive on both
// ends) to an owning cargo and its sector.
type StageRange struct {
	From  int
	To    int
	Cargo CargoSlug
	Setor SetorSlug
}

// StageDefinition is the static description of one stage of a workflow type.
type StageDefinition struct {
	Ordinal          int
	Name             string
	Setor            SetorSlug
	Cargo            CargoSlug
	EligibleCargos   []CargoSlug
	RequiresApproval bool
}

// StepOwnerInfo is the resolved static owner of a stage.
type StepOwnerInfo struct {
	Cargo CargoSlug
	Setor SetorSlug
}

// HandoffPoint describes a stage transition where the owning sector changes.
type HandoffPoint struct {
	FromStep  int
	ToStep    int
	FromSetor SetorSlug
	ToSetor   SetorSlug
	ToCargo   CargoSlug
}

// OwnershipRule is the full static rule for one workflow type.
type OwnershipRule struct {
	TypeCode      string
	Name          string
	Initiator     InitiatorType
	TotalSteps    int
	StageOwners   []StageRange
	StageNames    map[int]string
	ApprovalSteps []int
}

func (r OwnershipRule) requiresApproval(step int) bool {
	for _, s := range r.ApprovalSteps {
		if s == step {
			return true
		}
	}
	return false
}

func (r OwnershipRule) stageName(step int) string {
	if name, ok := r.StageNames[step]; ok {
		return name
	}
	return ""
}
