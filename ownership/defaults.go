package ownership

// Rule data below mirrors the production stage assignments for the thirteen
// OS types. Several codes share a rule value (OS-01..04 and OS-05/06).

var osObrasRule = OwnershipRule{
	TypeCode:   "OS-01-04",
	Name:       "Obras (Perícia, Revitalização, Reforço, Outros)",
	Initiator:  InitiatorType(CargoCoordAdministrativo),
	TotalSteps: 15,
	StageOwners: []StageRange{
		{From: 1, To: 4, Cargo: CargoCoordAdministrativo, Setor: SetorAdministrativo},
		{From: 5, To: 8, Cargo: CargoCoordObras, Setor: SetorObras},
		{From: 9, To: 15, Cargo: CargoCoordAdministrativo, Setor: SetorAdministrativo},
	},
	StageNames: map[int]string{
		1:  "Identificação",
		2:  "Tipo de OS",
		3:  "Follow-up 1",
		4:  "Agendar Visita",
		5:  "Visita Técnica",
		6:  "Follow-up 2",
		7:  "Memorial",
		8:  "Precificação",
		9:  "Proposta",
		10: "Apresentação",
		15: "Contrato",
	},
	ApprovalSteps: []int{9},
}

var osAssessoriaBasicaRule = OwnershipRule{
	TypeCode:   "OS-05-06",
	Name:       "Assessoria Básica (Mensal / Laudo Pontual)",
	Initiator:  InitiatorType(CargoCoordAdministrativo),
	TotalSteps: 12,
	StageOwners: []StageRange{
		{From: 1, To: 12, Cargo: CargoCoordAdministrativo, Setor: SetorAdministrativo},
	},
}

var os07Rule = OwnershipRule{
	TypeCode:   "OS-07",
	Name:       "Solicitação do Cliente (Reforma)",
	Initiator:  InitiatorCliente,
	TotalSteps: 10,
	StageOwners: []StageRange{
		{From: 1, To: 10, Cargo: CargoCoordAssessoria, Setor: SetorAssessoria},
	},
}

var os08Rule = OwnershipRule{
	TypeCode:   "OS-08",
	Name:       "Visita Técnica / Parecer Técnico",
	Initiator:  InitiatorCliente,
	TotalSteps: 8,
	StageOwners: []StageRange{
		{From: 1, To: 2, Cargo: CargoCoordAdministrativo, Setor: SetorAdministrativo},
		{From: 3, To: 8, Cargo: CargoCoordAssessoria, Setor: SetorAssessoria},
	},
	StageNames: map[int]string{1: "Triagem", 2: "Agendamento"},
}

var os09Rule = OwnershipRule{
	TypeCode:   "OS-09",
	Name:       "Requisição de Compras/Materiais",
	Initiator:  InitiatorLivre,
	TotalSteps: 5,
	StageOwners: []StageRange{
		{From: 1, To: 1, Cargo: CargoCoordObras, Setor: SetorObras},
		{From: 2, To: 5, Cargo: CargoCoordAdministrativo, Setor: SetorAdministrativo},
	},
	ApprovalSteps: []int{5},
}

var os10Rule = OwnershipRule{
	TypeCode:   "OS-10",
	Name:       "Requisição de Mão de Obra",
	Initiator:  InitiatorLivre,
	TotalSteps: 4,
	StageOwners: []StageRange{
		{From: 1, To: 4, Cargo: CargoCoordAdministrativo, Setor: SetorAdministrativo},
	},
}

var os11Rule = OwnershipRule{
	TypeCode:   "OS-11",
	Name:       "Execução de Laudo Pontual",
	Initiator:  InitiatorType(CargoCoordAdministrativo),
	TotalSteps: 6,
	StageOwners: []StageRange{
		{From: 1, To: 2, Cargo: CargoCoordAdministrativo, Setor: SetorAdministrativo},
		{From: 3, To: 6, Cargo: CargoCoordAssessoria, Setor: SetorAssessoria},
	},
}

var os12Rule = OwnershipRule{
	TypeCode:   "OS-12",
	Name:       "Execução de Assessoria Recorrente",
	Initiator:  InitiatorType(CargoCoordAdministrativo),
	TotalSteps: 8,
	StageOwners: []StageRange{
		{From: 1, To: 1, Cargo: CargoCoordAdministrativo, Setor: SetorAdministrativo},
		{From: 2, To: 3, Cargo: CargoCoordAssessoria, Setor: SetorAssessoria},
		{From: 4, To: 6, Cargo: CargoCoordAdministrativo, Setor: SetorAdministrativo},
		{From: 7, To: 8, Cargo: CargoCoordAssessoria, Setor: SetorAssessoria},
	},
	StageNames: map[int]string{
		1: "Cadastro Cliente e Portal",
		2: "Anexar ART",
		3: "Plano de Manutenção",
		4: "Agendar Visita",
		5: "Realizar Visita",
		6: "Agendar Visita Recorrente",
		7: "Realizar Visita Recorrente",
		8: "Concluir e Ativar Contrato",
	},
}

var os13Rule = OwnershipRule{
	TypeCode:   "OS-13",
	Name:       "Obra Complexa (Contrato)",
	Initiator:  InitiatorType(CargoCoordAdministrativo),
	TotalSteps: 18,
	StageOwners: []StageRange{
		{From: 1, To: 1, Cargo: CargoCoordAdministrativo, Setor: SetorAdministrativo},
		{From: 2, To: 2, Cargo: CargoCoordObras, Setor: SetorObras},
		{From: 3, To: 4, Cargo: CargoCoordAdministrativo, Setor: SetorAdministrativo},
		{From: 5, To: 10, Cargo: CargoCoordObras, Setor: SetorObras},
		{From: 11, To: 11, Cargo: CargoCoordAdministrativo, Setor: SetorAdministrativo},
		{From: 12, To: 12, Cargo: CargoCoordObras, Setor: SetorObras},
		{From: 13, To: 13, Cargo: CargoCoordAdministrativo, Setor: SetorAdministrativo},
		{From: 14, To: 18, Cargo: CargoCoordObras, Setor: SetorObras},
	},
	StageNames: map[int]string{
		1:  "Cadastro Cliente/Obra",
		2:  "Anexar ART",
		3:  "Agendar Visita Inicial",
		4:  "Realizar Visita Inicial",
		11: "Seguro",
		12: "SST",
		13: "Agendar Visita Final",
		14: "Realizar Visita Final",
	},
	ApprovalSteps: []int{11},
}

// DefaultRules returns the production rule set covering OS-01 through OS-13.
func DefaultRules() *RuleSet {
	withCode := func(rule OwnershipRule, code string) OwnershipRule {
		rule.TypeCode = code
		return rule
	}
	return NewRuleSet(
		withCode(osObrasRule, "OS-01"),
		withCode(osObrasRule, "OS-02"),
		withCode(osObrasRule, "OS-03"),
		withCode(osObrasRule, "OS-04"),
		withCode(osAssessoriaBasicaRule, "OS-05"),
		withCode(osAssessoriaBasicaRule, "OS-06"),
		os07Rule,
		os08Rule,
		os09Rule,
		os10Rule,
		os11Rule,
		os12Rule,
		os13Rule,
	)
}
