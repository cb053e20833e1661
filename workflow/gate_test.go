package workflow

import (
	"context"
	"testing"

	"osflow/ownership"
)

func newTestGate(inst Instance, delegateID string, approvals *fakeApprovals) *Gate {
	instances := &fakeInstances{inst: inst}
	dir := &fakeActorDirectory{
		actors: testActors(),
		coordinators: map[ownership.SetorSlug]string{
			ownership.SetorAdministrativo: "coord-adm",
			ownership.SetorObras:          "coord-obr",
		},
	}
	rules := ownership.DefaultRules()
	resolver := NewResolver(rules, instances, &fakeDelegations{delegateID: delegateID}, dir)
	return NewGate(rules, resolver, instances, approvals, dir)
}

func TestCanAdvance_Allowed(t *testing.T) {
	g := newTestGate(adminStageInstance(), "", &fakeApprovals{})

	decision, err := g.CanAdvance(context.Background(), "os-1", "coord-adm")
	if err != nil {
		t.Fatalf("gate: unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected allowed, got %+v", decision)
	}
}

func TestCanAdvance_NotResponsibleComesFirst(t *testing.T) {
	// Even against a closed instance the gate reports responsibility first.
	inst := adminStageInstance()
	inst.Status = StatusCanceled
	g := newTestGate(inst, "", &fakeApprovals{})

	decision, err := g.CanAdvance(context.Background(), "os-1", "op-1")
	if err != nil {
		t.Fatalf("gate: unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected denial")
	}
	if decision.Reason != ReasonNotResponsible {
		t.Errorf("expected not-responsible, got %s", decision.Reason)
	}
	if decision.Detail == "" {
		t.Error("expected a human-readable detail")
	}
}

func TestCanAdvance_ApprovalPending(t *testing.T) {
	inst := adminStageInstance()
	inst.CurrentStep = 9
	g := newTestGate(inst, "", &fakeApprovals{})

	decision, err := g.CanAdvance(context.Background(), "os-1", "coord-adm")
	if err != nil {
		t.Fatalf("gate: unexpected error: %v", err)
	}
	if decision.Reason != ReasonApprovalPending {
		t.Errorf("expected approval-pending, got %s", decision.Reason)
	}
}

func TestCanAdvance_ApprovalRequestedButUndecided(t *testing.T) {
	inst := adminStageInstance()
	inst.CurrentStep = 9
	g := newTestGate(inst, "", &fakeApprovals{found: true})

	decision, err := g.CanAdvance(context.Background(), "os-1", "coord-adm")
	if err != nil {
		t.Fatalf("gate: unexpected error: %v", err)
	}
	if decision.Reason != ReasonApprovalPending {
		t.Errorf("expected approval-pending, got %s", decision.Reason)
	}
}

func TestCanAdvance_ApprovalRejected(t *testing.T) {
	inst := adminStageInstance()
	inst.CurrentStep = 9
	g := newTestGate(inst, "", &fakeApprovals{found: true, decision: ApprovalDecision{Rejected: true}})

	decision, err := g.CanAdvance(context.Background(), "os-1", "coord-adm")
	if err != nil {
		t.Fatalf("gate: unexpected error: %v", err)
	}
	if decision.Reason != ReasonApprovalRejected {
		t.Errorf("expected approval-rejected, got %s", decision.Reason)
	}
}

func TestCanAdvance_ApprovedStagePasses(t *testing.T) {
	inst := adminStageInstance()
	inst.CurrentStep = 9
	g := newTestGate(inst, "", &fakeApprovals{found: true, decision: ApprovalDecision{Approved: true}})

	decision, err := g.CanAdvance(context.Background(), "os-1", "coord-adm")
	if err != nil {
		t.Fatalf("gate: unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected allowed, got %+v", decision)
	}
}

func TestCanAdvance_ClosedInstance(t *testing.T) {
	inst := adminStageInstance()
	inst.Status = StatusCompleted
	g := newTestGate(inst, "", &fakeApprovals{})

	decision, err := g.CanAdvance(context.Background(), "os-1", "coord-adm")
	if err != nil {
		t.Fatalf("gate: unexpected error: %v", err)
	}
	if decision.Reason != ReasonInstanceClosed {
		t.Errorf("expected instance-closed, got %s", decision.Reason)
	}
}

func TestCanAdvance_DelegateMayAdvance(t *testing.T) {
	g := newTestGate(adminStageInstance(), "op-1", &fakeApprovals{})

	decision, err := g.CanAdvance(context.Background(), "os-1", "op-1")
	if err != nil {
		t.Fatalf("gate: unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected delegate allowed, got %+v", decision)
	}
}

type fakeApprovals struct {
	decision ApprovalDecision
	found    bool
	err      error
}

func (f *fakeApprovals) LatestDecision(ctx context.Context, instanceID string, step int) (ApprovalDecision, bool, error) {
	return f.decision, f.found, f.err
}
