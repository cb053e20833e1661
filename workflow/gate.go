package workflow

import (
	"context"
	"fmt"

	"osflow/ownership"
)

// ApprovalReader exposes the latest approval verdict recorded for a stage.
type ApprovalReader interface {
	LatestDecision(ctx context.Context, instanceID string, step int) (ApprovalDecision, bool, error)
}

// ApprovalDecision is the gate's view of an approval record.
type ApprovalDecision struct {
	Approved bool
	Rejected bool
}

// Gate decides whether an actor may advance an instance past its current
// stage. The same gate backs both the UI pre-check and the server-side
// re-check inside Advance.
type Gate struct {
	rules     *ownership.RuleSet
	resolver  *Resolver
	instances InstanceReader
	approvals ApprovalReader
	directory ActorDirectory
}

func NewGate(rules *ownership.RuleSet, resolver *Resolver, instances InstanceReader, approvals ApprovalReader, dir ActorDirectory) *Gate {
	return &Gate{
		rules:     rules,
		resolver:  resolver,
		instances: instances,
		approvals: approvals,
		directory: dir,
	}
}

// CanAdvance runs the gate checks in order and reports the first failure:
// responsibility, then approval, then instance lifecycle. A denial carries
// the machine-readable reason; it is not an error.
func (g *Gate) CanAdvance(ctx context.Context, instanceID string, actorID string) (GateDecision, error) {
	inst, err := g.instances.Get(ctx, instanceID)
	if err != nil {
		return GateDecision{}, err
	}
	actor, err := g.directory.GetActor(ctx, actorID)
	if err != nil {
		return GateDecision{}, fmt.Errorf("workflow: gate actor: %w", err)
	}

	resp, err := g.resolver.StepResponsibility(ctx, instanceID, inst.CurrentStep, actor)
	if err != nil {
		return GateDecision{}, err
	}
	if !resp.CanEdit {
		return GateDecision{Reason: ReasonNotResponsible, Detail: resp.BlockReason}, nil
	}

	if def, ok := g.rules.StageDef(inst.TypeCode, inst.CurrentStep); ok && def.RequiresApproval {
		decision, found, err := g.approvals.LatestDecision(ctx, instanceID, inst.CurrentStep)
		if err != nil {
			return GateDecision{}, fmt.Errorf("workflow: gate approval: %w", err)
		}
		switch {
		case found && decision.Rejected:
			return GateDecision{Reason: ReasonApprovalRejected}, nil
		case !found || !decision.Approved:
			return GateDecision{Reason: ReasonApprovalPending}, nil
		}
	}

	if inst.Status.Terminal() {
		return GateDecision{Reason: ReasonInstanceClosed}, nil
	}

	return GateDecision{Allowed: true}, nil
}
