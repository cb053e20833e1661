package ownership

import "fmt"

// RuleSet is an immutable collection of ownership rules indexed by workflow
// type code. Build one with NewRuleSet (or DefaultRules) at process start and
// pass it explicitly into resolvers; it is safe for concurrent reads.
type RuleSet struct {
	rules map[string]OwnershipRule
}

// NewRuleSet builds a rule set from the given rules. Later entries with the
// same type code replace earlier ones.
func NewRuleSet(rules ...OwnershipRule) *RuleSet {
	m := make(map[string]OwnershipRule, len(rules))
	for _, r := range rules {
		m[r.TypeCode] = r
	}
	return &RuleSet{rules: m}
}

// Rule returns the ownership rule for a workflow type. Unknown type codes
// report false, never an error.
func (rs *RuleSet) Rule(typeCode string) (OwnershipRule, bool) {
	r, ok := rs.rules[typeCode]
	return r, ok
}

// TypeCodes lists every workflow type the set knows about.
func (rs *RuleSet) TypeCodes() []string {
	codes := make([]string, 0, len(rs.rules))
	for code := range rs.rules {
		codes = append(codes, code)
	}
	return codes
}

// StepOwner resolves the static owner of a stage. Unknown workflow types and
// out-of-range ordinals report false; callers treat absence as "no ownership
// constraint, default to creator".
func (rs *RuleSet) StepOwner(typeCode string, step int) (StepOwnerInfo, bool) {
	rule, ok := rs.rules[typeCode]
	if !ok {
		return StepOwnerInfo{}, false
	}
	for _, sr := range rule.StageOwners {
		if step >= sr.From && step <= sr.To {
			return StepOwnerInfo{Cargo: sr.Cargo, Setor: sr.Setor}, true
		}
	}
	return StepOwnerInfo{}, false
}

// StageDef returns the full static definition of a stage, including the
// cargos eligible to act on it and whether advancing past it requires an
// approval record.
func (rs *RuleSet) StageDef(typeCode string, step int) (StageDefinition, bool) {
	rule, ok := rs.rules[typeCode]
	if !ok {
		return StageDefinition{}, false
	}
	owner, ok := rs.StepOwner(typeCode, step)
	if !ok {
		return StageDefinition{}, false
	}
	name := rule.stageName(step)
	if name == "" {
		name = fmt.Sprintf("Etapa %d", step)
	}
	return StageDefinition{
		Ordinal:          step,
		Name:             name,
		Setor:            owner.Setor,
		Cargo:            owner.Cargo,
		EligibleCargos:   EligibleCargos(owner.Setor),
		RequiresApproval: rule.requiresApproval(step),
	}, true
}

// Stages materialises the ordered stage definitions of a workflow type.
func (rs *RuleSet) Stages(typeCode string) []StageDefinition {
	rule, ok := rs.rules[typeCode]
	if !ok {
		return nil
	}
	defs := make([]StageDefinition, 0, rule.TotalSteps)
	for step := 1; step <= rule.TotalSteps; step++ {
		if def, ok := rs.StageDef(typeCode, step); ok {
			defs = append(defs, def)
		}
	}
	return defs
}

// CanInitiate reports whether a cargo may open a workflow of the given type.
// CLIENTE and LIVRE initiated types may be opened by anyone.
func (rs *RuleSet) CanInitiate(typeCode string, cargo CargoSlug) bool {
	rule, ok := rs.rules[typeCode]
	if !ok {
		return false
	}
	if rule.Initiator == InitiatorCliente || rule.Initiator == InitiatorLivre {
		return true
	}
	if IsEscalation(cargo) {
		return true
	}
	return InitiatorType(cargo) == rule.Initiator
}

// EligibleCargos lists the cargos allowed to act on stages owned by a sector:
// its coordinator plus its operational staff.
func EligibleCargos(setor SetorSlug) []CargoSlug {
	var cargos []CargoSlug
	if coord, ok := CoordinatorCargo(setor); ok {
		cargos = append(cargos, coord)
	}
	for cargo, s := range cargoSetor {
		if s == setor && !IsCoordinator(cargo) {
			cargos = append(cargos, cargo)
		}
	}
	return cargos
}

// CargoEligibleFor reports whether a cargo may act on stages of a sector.
// Escalation roles are eligible everywhere.
func CargoEligibleFor(cargo CargoSlug, setor SetorSlug) bool {
	if IsEscalation(cargo) {
		return true
	}
	s, ok := cargoSetor[cargo]
	return ok && s == setor
}
