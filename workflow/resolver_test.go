package workflow

import (
	"context"
	"testing"

	"osflow/directory"
	"osflow/ownership"
)

func testActors() map[string]directory.Actor {
	return map[string]directory.Actor{
		"coord-adm": {ID: "coord-adm", FullName: "Maria Coordenadora", CargoSlug: ownership.CargoCoordAdministrativo, SetorSlug: ownership.SetorAdministrativo, Active: true},
		"coord-obr": {ID: "coord-obr", FullName: "Pedro Coordenador", CargoSlug: ownership.CargoCoordObras, SetorSlug: ownership.SetorObras, Active: true},
		"op-1":      {ID: "op-1", FullName: "João Operacional", CargoSlug: ownership.CargoOperacionalAdmin, SetorSlug: ownership.SetorAdministrativo, Active: true},
		"dir-1":     {ID: "dir-1", FullName: "Diretor", CargoSlug: ownership.CargoDiretor, Active: true},
	}
}

func newTestResolver(inst Instance, delegateID string) *Resolver {
	instances := &fakeInstances{inst: inst}
	delegations := &fakeDelegations{delegateID: delegateID}
	dir := &fakeActorDirectory{
		actors: testActors(),
		coordinators: map[ownership.SetorSlug]string{
			ownership.SetorAdministrativo: "coord-adm",
			ownership.SetorObras:          "coord-obr",
		},
	}
	return NewResolver(ownership.DefaultRules(), instances, delegations, dir)
}

func adminStageInstance() Instance {
	return Instance{
		ID:          "os-1",
		Code:        "OS-2026-0001",
		TypeCode:    "OS-01",
		CurrentStep: 2,
		Status:      StatusInProgress,
		CreatedByID: "coord-adm",
	}
}

func TestStepResponsibility_CoordinatorByDefault(t *testing.T) {
	r := newTestResolver(adminStageInstance(), "")

	resp, err := r.StepResponsibility(context.Background(), "os-1", 2, testActors()["coord-adm"])
	if err != nil {
		t.Fatalf("resolve: unexpected error: %v", err)
	}
	if resp.Responsible.ActorID != "coord-adm" {
		t.Errorf("expected coordinator responsible, got %s", resp.Responsible.ActorID)
	}
	if resp.Responsible.IsDelegate {
		t.Error("expected no delegation flag")
	}
	if resp.Setor != ownership.SetorAdministrativo {
		t.Errorf("unexpected setor %s", resp.Setor)
	}
	if !resp.CanEdit || !resp.CanDelegate {
		t.Errorf("coordinator should edit and delegate, got %+v", resp)
	}
	if resp.BlockReason != "" {
		t.Errorf("unexpected block reason %q", resp.BlockReason)
	}
}

func TestStepResponsibility_DelegationOverridesCoordinator(t *testing.T) {
	r := newTestResolver(adminStageInstance(), "op-1")

	resp, err := r.StepResponsibility(context.Background(), "os-1", 2, testActors()["op-1"])
	if err != nil {
		t.Fatalf("resolve: unexpected error: %v", err)
	}
	if resp.Responsible.ActorID != "op-1" || !resp.Responsible.IsDelegate {
		t.Fatalf("expected delegate responsible, got %+v", resp.Responsible)
	}
	if !resp.CanEdit {
		t.Error("delegate should edit")
	}
	// The delegate holding the stage may re-delegate it.
	if !resp.CanDelegate {
		t.Error("delegate should be able to re-delegate")
	}
}

func TestStepResponsibility_NonResponsibleIsBlocked(t *testing.T) {
	r := newTestResolver(adminStageInstance(), "")

	resp, err := r.StepResponsibility(context.Background(), "os-1", 2, testActors()["op-1"])
	if err != nil {
		t.Fatalf("resolve: unexpected error: %v", err)
	}
	if resp.CanEdit {
		t.Error("non-responsible analyst should not edit")
	}
	if resp.CanDelegate {
		t.Error("non-responsible analyst should not delegate")
	}
	if resp.BlockReason != "etapa sob responsabilidade de Maria Coordenadora" {
		t.Errorf("unexpected block reason %q", resp.BlockReason)
	}
}

func TestStepResponsibility_EscalationAlwaysEdits(t *testing.T) {
	r := newTestResolver(adminStageInstance(), "")

	resp, err := r.StepResponsibility(context.Background(), "os-1", 2, testActors()["dir-1"])
	if err != nil {
		t.Fatalf("resolve: unexpected error: %v", err)
	}
	if !resp.CanEdit || !resp.CanDelegate {
		t.Errorf("diretor should edit and delegate anywhere, got %+v", resp)
	}
	if resp.Responsible.ActorID != "coord-adm" {
		t.Errorf("responsibility itself stays with the coordinator, got %s", resp.Responsible.ActorID)
	}
}

func TestStepResponsibility_CreatorFallbackWithoutCoordinator(t *testing.T) {
	inst := adminStageInstance()
	inst.CreatedByID = "op-1"
	instances := &fakeInstances{inst: inst}
	dir := &fakeActorDirectory{actors: testActors()}
	r := NewResolver(ownership.DefaultRules(), instances, &fakeDelegations{}, dir)

	resp, err := r.StepResponsibility(context.Background(), "os-1", 2, testActors()["op-1"])
	if err != nil {
		t.Fatalf("resolve: unexpected error: %v", err)
	}
	if resp.Responsible.ActorID != "op-1" {
		t.Errorf("expected creator responsible when no coordinator exists, got %s", resp.Responsible.ActorID)
	}
	if !resp.CanEdit {
		t.Error("creator should edit their own instance")
	}
}

func TestStepResponsibility_AdHocStageFallsBackToCreator(t *testing.T) {
	inst := adminStageInstance()
	inst.CreatedByID = "op-1"
	r := newTestResolver(inst, "")

	resp, err := r.StepResponsibility(context.Background(), "os-1", 99, testActors()["op-1"])
	if err != nil {
		t.Fatalf("resolve: unexpected error: %v", err)
	}
	if resp.Responsible.ActorID != "op-1" {
		t.Errorf("expected creator responsible for ad-hoc stage, got %s", resp.Responsible.ActorID)
	}
	if resp.CanDelegate {
		t.Error("ad-hoc stages cannot be delegated")
	}

	other, err := r.StepResponsibility(context.Background(), "os-1", 99, testActors()["coord-adm"])
	if err != nil {
		t.Fatalf("resolve: unexpected error: %v", err)
	}
	if other.CanEdit {
		t.Error("coordinator without escalation should not edit an ad-hoc stage")
	}
}

func TestCanEdit_Shortcut(t *testing.T) {
	r := newTestResolver(adminStageInstance(), "")

	ok, err := r.CanEdit(context.Background(), "os-1", 2, testActors()["coord-adm"])
	if err != nil {
		t.Fatalf("can edit: unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected coordinator to edit")
	}

	ok, err = r.CanEdit(context.Background(), "os-1", 2, testActors()["op-1"])
	if err != nil {
		t.Fatalf("can edit: unexpected error: %v", err)
	}
	if ok {
		t.Error("expected analyst blocked")
	}
}

type fakeInstances struct {
	inst Instance
	err  error
}

func (f *fakeInstances) Get(ctx context.Context, id string) (Instance, error) {
	return f.inst, f.err
}

type fakeDelegations struct {
	delegateID string
	err        error
}

func (f *fakeDelegations) ActiveDelegate(ctx context.Context, instanceID string, step int) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	return f.delegateID, f.delegateID != "", nil
}

type fakeActorDirectory struct {
	actors       map[string]directory.Actor
	coordinators map[ownership.SetorSlug]string
}

func (f *fakeActorDirectory) GetActor(ctx context.Context, id string) (directory.Actor, error) {
	actor, ok := f.actors[id]
	if !ok {
		return directory.Actor{}, directory.ErrNotFound
	}
	return actor, nil
}

func (f *fakeActorDirectory) Coordinator(ctx context.Context, setor ownership.SetorSlug) (directory.Actor, error) {
	id, ok := f.coordinators[setor]
	if !ok {
		return directory.Actor{}, directory.ErrNotFound
	}
	return f.actors[id], nil
}
