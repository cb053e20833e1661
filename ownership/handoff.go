package ownership

import "fmt"

// HandoffBetween reports whether advancing from one stage to another crosses
// a sector boundary. It derives the answer from the stage owners alone, so it
// can never disagree with StepOwner. Transitions where either stage has no
// owner, or where both stages belong to the same sector, report false.
func (rs *RuleSet) HandoffBetween(typeCode string, fromStep, toStep int) (HandoffPoint, bool) {
	from, ok := rs.StepOwner(typeCode, fromStep)
	if !ok {
		return HandoffPoint{}, false
	}
	to, ok := rs.StepOwner(typeCode, toStep)
	if !ok {
		return HandoffPoint{}, false
	}
	if from.Setor == to.Setor {
		return HandoffPoint{}, false
	}
	return HandoffPoint{
		FromStep:  fromStep,
		ToStep:    toStep,
		FromSetor: from.Setor,
		ToSetor:   to.Setor,
		ToCargo:   to.Cargo,
	}, true
}

// DelegationRequired is the UI-gating wrapper over HandoffBetween: it reports
// a handoff only when the acting cargo does not already own the destination
// sector. It performs no sector comparison of its own.
func (rs *RuleSet) DelegationRequired(typeCode string, fromStep, toStep int, actorCargo CargoSlug) (HandoffPoint, bool) {
	handoff, ok := rs.HandoffBetween(typeCode, fromStep, toStep)
	if !ok {
		return HandoffPoint{}, false
	}
	if handoff.ToCargo == actorCargo {
		return HandoffPoint{}, false
	}
	if setor, ok := CargoSetor(actorCargo); ok && setor == handoff.ToSetor {
		return HandoffPoint{}, false
	}
	return handoff, true
}

// Describe renders a human-readable description of the transition.
func (h HandoffPoint) Describe() string {
	return fmt.Sprintf("Transferir para %s (etapa %d)", SetorNomes[h.ToSetor], h.ToStep)
}
