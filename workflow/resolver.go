package workflow

import (
	"context"
	"errors"
	"fmt"

	"osflow/directory"
	"osflow/ownership"
)

// InstanceReader provides the instance lookups the resolver needs.
type InstanceReader interface {
	Get(ctx context.Context, id string) (Instance, error)
}

// DelegationFinder reports the active delegate for a stage, if any. A
// delegation counts as active while pending or accepted.
type DelegationFinder interface {
	ActiveDelegate(ctx context.Context, instanceID string, step int) (string, bool, error)
}

// ActorDirectory provides the personnel lookups the resolver needs.
type ActorDirectory interface {
	GetActor(ctx context.Context, id string) (directory.Actor, error)
	Coordinator(ctx context.Context, setor ownership.SetorSlug) (directory.Actor, error)
}

// Resolver computes who answers for a stage of a running instance, factoring
// in delegation overrides, and what the requesting actor may do about it.
type Resolver struct {
	rules       *ownership.RuleSet
	instances   InstanceReader
	delegations DelegationFinder
	directory   ActorDirectory
}

// NewResolver builds a Resolver. The rule set is injected explicitly so tests
// can substitute alternate tables.
func NewResolver(rules *ownership.RuleSet, instances InstanceReader, delegations DelegationFinder, dir ActorDirectory) *Resolver {
	return &Resolver{
		rules:       rules,
		instances:   instances,
		delegations: delegations,
		directory:   dir,
	}
}

// StepResponsibility resolves the responsibility of one stage for the given
// requesting actor.
//
// Stages outside the rule table (ad-hoc stages) fall back to the instance
// creator: only the creator or an escalation role may edit, and delegation is
// disallowed.
func (r *Resolver) StepResponsibility(ctx context.Context, instanceID string, step int, requester directory.Actor) (StepResponsibility, error) {
	inst, err := r.instances.Get(ctx, instanceID)
	if err != nil {
		return StepResponsibility{}, err
	}

	owner, ok := r.rules.StepOwner(inst.TypeCode, step)
	if !ok {
		return r.creatorFallback(ctx, inst, step, requester)
	}

	responsible, err := r.resolveResponsible(ctx, inst, step, owner)
	if err != nil {
		return StepResponsibility{}, err
	}

	canEdit := requester.ID == responsible.ActorID || ownership.IsEscalation(requester.CargoSlug)

	coordCargo, _ := ownership.CoordinatorCargo(owner.Setor)
	canDelegate := requester.ID == responsible.ActorID ||
		requester.CargoSlug == coordCargo ||
		ownership.IsEscalation(requester.CargoSlug)

	resp := StepResponsibility{
		Ordinal:     step,
		Setor:       owner.Setor,
		Responsible: responsible,
		CanEdit:     canEdit,
		CanDelegate: canDelegate,
	}
	if !canEdit {
		resp.BlockReason = fmt.Sprintf("etapa sob responsabilidade de %s", responsible.Name)
	}
	return resp, nil
}

// CanEdit is a convenience shortcut over StepResponsibility.
func (r *Resolver) CanEdit(ctx context.Context, instanceID string, step int, requester directory.Actor) (bool, error) {
	resp, err := r.StepResponsibility(ctx, instanceID, step, requester)
	if err != nil {
		return false, err
	}
	return resp.CanEdit, nil
}

func (r *Resolver) resolveResponsible(ctx context.Context, inst Instance, step int, owner ownership.StepOwnerInfo) (ResponsibleParty, error) {
	delegateID, active, err := r.delegations.ActiveDelegate(ctx, inst.ID, step)
	if err != nil {
		return ResponsibleParty{}, fmt.Errorf("workflow: resolve delegation: %w", err)
	}
	if active {
		delegate, err := r.directory.GetActor(ctx, delegateID)
		if err != nil {
			return ResponsibleParty{}, fmt.Errorf("workflow: resolve delegate actor: %w", err)
		}
		return ResponsibleParty{
			ActorID:    delegate.ID,
			Name:       delegate.FullName,
			Cargo:      delegate.CargoSlug,
			IsDelegate: true,
		}, nil
	}

	coord, err := r.directory.Coordinator(ctx, owner.Setor)
	if err == nil {
		return ResponsibleParty{
			ActorID: coord.ID,
			Name:    coord.FullName,
			Cargo:   coord.CargoSlug,
		}, nil
	}
	if !errors.Is(err, directory.ErrNotFound) {
		return ResponsibleParty{}, fmt.Errorf("workflow: resolve coordinator: %w", err)
	}

	// No coordinator anywhere: the creator answers for the stage.
	creator, err := r.directory.GetActor(ctx, inst.CreatedByID)
	if err != nil {
		return ResponsibleParty{}, fmt.Errorf("workflow: resolve creator: %w", err)
	}
	return ResponsibleParty{
		ActorID: creator.ID,
		Name:    creator.FullName,
		Cargo:   creator.CargoSlug,
	}, nil
}

func (r *Resolver) creatorFallback(ctx context.Context, inst Instance, step int, requester directory.Actor) (StepResponsibility, error) {
	creator, err := r.directory.GetActor(ctx, inst.CreatedByID)
	if err != nil {
		return StepResponsibility{}, fmt.Errorf("workflow: resolve creator: %w", err)
	}

	canEdit := requester.ID == creator.ID || ownership.IsEscalation(requester.CargoSlug)
	resp := StepResponsibility{
		Ordinal: step,
		Responsible: ResponsibleParty{
			ActorID: creator.ID,
			Name:    creator.FullName,
			Cargo:   creator.CargoSlug,
		},
		CanEdit:     canEdit,
		CanDelegate: false,
	}
	if !canEdit {
		resp.BlockReason = fmt.Sprintf("etapa sob responsabilidade de %s", creator.FullName)
	}
	return resp, nil
}
