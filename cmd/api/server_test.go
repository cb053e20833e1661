package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"osflow/approval"
	"osflow/auth"
	"osflow/delegation"
	"osflow/directory"
	"osflow/notification"
	"osflow/ownership"
	"osflow/workflow"
)

type stubAuthService struct {
	actorID     string
	cargo       ownership.CargoSlug
	loginResult auth.LoginResult
	loginErr    error
	verifyErr   error
}

func (s *stubAuthService) Register(_ context.Context, _ auth.RegisterRequest) (*auth.Account, error) {
	return &auth.Account{ID: s.actorID}, nil
}

func (s *stubAuthService) Login(_ context.Context, _ auth.LoginRequest) (auth.LoginResult, error) {
	return s.loginResult, s.loginErr
}

func (s *stubAuthService) VerifyToken(_ string) (string, ownership.CargoSlug, error) {
	if s.verifyErr != nil {
		return "", "", s.verifyErr
	}
	return s.actorID, s.cargo, nil
}

type stubWorkflowService struct {
	instance      workflow.Instance
	advanceResult workflow.AdvanceResult
	err           error
}

func (s *stubWorkflowService) Create(_ context.Context, _ workflow.CreateParams) (workflow.Instance, error) {
	return s.instance, s.err
}

func (s *stubWorkflowService) Advance(_ context.Context, _ workflow.AdvanceParams) (workflow.AdvanceResult, error) {
	return s.advanceResult, s.err
}

func (s *stubWorkflowService) Cancel(_ context.Context, _, _, _ string) (workflow.Instance, error) {
	return s.instance, s.err
}

func (s *stubWorkflowService) Get(_ context.Context, _ string) (workflow.Instance, error) {
	return s.instance, s.err
}

type stubGate struct {
	decision workflow.GateDecision
	err      error
}

func (s *stubGate) CanAdvance(_ context.Context, _, _ string) (workflow.GateDecision, error) {
	return s.decision, s.err
}

type stubDelegationService struct {
	delegation delegation.Delegation
	eligible   []directory.Actor
	err        error
}

func (s *stubDelegationService) Delegate(_ context.Context, _ delegation.DelegateParams) (delegation.Delegation, error) {
	return s.delegation, s.err
}

func (s *stubDelegationService) Accept(_ context.Context, _, _ string) (delegation.Delegation, error) {
	return s.delegation, s.err
}

func (s *stubDelegationService) Complete(_ context.Context, _, _ string) (delegation.Delegation, error) {
	return s.delegation, s.err
}

func (s *stubDelegationService) Revoke(_ context.Context, _ string, _ int, _ string) (delegation.Delegation, error) {
	return s.delegation, s.err
}

func (s *stubDelegationService) ListEligibleDelegates(_ context.Context, _ string, _ int) ([]directory.Actor, error) {
	return s.eligible, s.err
}

type stubApprovalService struct {
	approval approval.Approval
	err      error
}

func (s *stubApprovalService) Request(_ context.Context, _ approval.RequestParams) (approval.Approval, error) {
	return s.approval, s.err
}

func (s *stubApprovalService) Confirm(_ context.Context, _, _ string) (approval.Approval, error) {
	return s.approval, s.err
}

func (s *stubApprovalService) Reject(_ context.Context, _, _, reason string) (approval.Approval, error) {
	if strings.TrimSpace(reason) == "" {
		return approval.Approval{}, approval.ErrReasonRequired
	}
	return s.approval, s.err
}

type stubNotificationService struct {
	items []notification.Notification
	err   error
}

func (s *stubNotificationService) ListForRecipient(_ context.Context, _ string, _ bool) ([]notification.Notification, error) {
	return s.items, s.err
}

func (s *stubNotificationService) MarkRead(_ context.Context, _, _ string) (notification.Notification, error) {
	if s.err != nil {
		return notification.Notification{}, s.err
	}
	if len(s.items) == 0 {
		return notification.Notification{}, notification.ErrNotFound
	}
	return s.items[0], nil
}

func authedServer() *Server {
	return &Server{
		authService: &stubAuthService{actorID: "actor-1", cargo: ownership.CargoCoordObras},
	}
}

func TestRequireAuth_MissingToken(t *testing.T) {
	server := authedServer()
	server.workflowService = &stubWorkflowService{}

	req := httptest.NewRequest(http.MethodGet, "/api/os/os-1", nil)
	rec := httptest.NewRecorder()

	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleGetInstance_Success(t *testing.T) {
	now := time.Date(2026, 3, 12, 9, 30, 0, 0, time.UTC)
	server := authedServer()
	server.workflowService = &stubWorkflowService{
		instance: workflow.Instance{
			ID:           "os-1",
			Code:         "OS-2026-0001",
			TypeCode:     "OS-02",
			CurrentStep:  3,
			CurrentSetor: ownership.SetorAdministrativo,
			Status:       workflow.StatusInProgress,
			CreatedByID:  "actor-1",
			CreatedAt:    now,
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/os/os-1", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()

	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp instanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != "OS-2026-0001" || resp.CurrentStep != 3 || resp.Setor != "administrativo" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
	if resp.CreatedAt != now.Format(time.RFC3339) {
		t.Fatalf("expected createdAt %s, got %s", now.Format(time.RFC3339), resp.CreatedAt)
	}
}

func TestHandleAdvance_NotResponsible(t *testing.T) {
	server := authedServer()
	server.workflowService = &stubWorkflowService{err: workflow.ErrNotResponsible}

	req := httptest.NewRequest(http.MethodPost, "/api/os/os-1/advance", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()

	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleAdvance_ApprovalPending(t *testing.T) {
	server := authedServer()
	server.workflowService = &stubWorkflowService{err: workflow.ErrApprovalPending}

	req := httptest.NewRequest(http.MethodPost, "/api/os/os-1/advance", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()

	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleAdvance_Transferred(t *testing.T) {
	handoff := ownership.HandoffPoint{
		FromStep:  4,
		ToStep:    5,
		FromSetor: ownership.SetorAdministrativo,
		ToSetor:   ownership.SetorObras,
	}
	server := authedServer()
	server.workflowService = &stubWorkflowService{
		advanceResult: workflow.AdvanceResult{
			Instance:    workflow.Instance{ID: "os-1", CurrentStep: 5, CurrentSetor: ownership.SetorObras},
			Transferred: true,
			Handoff:     &handoff,
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/os/os-1/advance", strings.NewReader(`{"note":"segue"}`))
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()

	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp advanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Transferred || resp.ToSetor != "obras" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHandleGate_Denied(t *testing.T) {
	server := authedServer()
	server.gate = &stubGate{
		decision: workflow.GateDecision{Reason: workflow.ReasonApprovalPending},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/os/os-1/gate", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()

	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp gateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Allowed || resp.Reason != workflow.ReasonApprovalPending {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHandleDelegate_ValidationError(t *testing.T) {
	server := authedServer()
	server.delegationService = &stubDelegationService{err: delegation.ErrShortDescription}

	body := strings.NewReader(`{"step":3,"delegateId":"actor-2","taskDescription":"curta"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/os/os-1/delegations", body)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()

	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleEligibleDelegates(t *testing.T) {
	server := authedServer()
	server.workflowService = &stubWorkflowService{
		instance: workflow.Instance{ID: "os-1", TypeCode: "OS-11", CurrentStep: 2},
	}
	server.delegationService = &stubDelegationService{
		eligible: []directory.Actor{
			{ID: "op-1", FullName: "Otavio Operacional", CargoSlug: ownership.CargoOperacionalAdmin, SetorSlug: ownership.SetorAdministrativo},
			{ID: "op-ass", FullName: "Ana Assessoria", CargoSlug: ownership.CargoOperacionalAssess, SetorSlug: ownership.SetorAssessoria},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/os/os-1/delegations/eligible?step=2", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()

	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload listResponse[eligibleDelegateResponse]
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Total != 2 || payload.Items[1].Setor != "assessoria" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHandleEligibleDelegates_InvalidStep(t *testing.T) {
	server := authedServer()
	server.workflowService = &stubWorkflowService{}
	server.delegationService = &stubDelegationService{}

	req := httptest.NewRequest(http.MethodGet, "/api/os/os-1/delegations/eligible", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()

	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleRejectApproval_ReasonRequired(t *testing.T) {
	server := authedServer()
	server.approvalService = &stubApprovalService{}

	req := httptest.NewRequest(http.MethodPost, "/api/approvals/ap-1/reject", strings.NewReader(`{"reason":""}`))
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()

	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

type stubStageLister struct {
	stages []workflow.Stage
	err    error
}

func (s *stubStageLister) Stages(_ context.Context, _ string) ([]workflow.Stage, error) {
	return s.stages, s.err
}

func TestHandleListStages(t *testing.T) {
	server := authedServer()
	server.stages = &stubStageLister{
		stages: []workflow.Stage{
			{Ordinal: 1, Name: "Triagem inicial", Status: workflow.StageCompleted},
			{Ordinal: 2, Name: "Conferência de documentos", Status: workflow.StageInProgress},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/os/os-1/stages", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()

	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload listResponse[stageResponse]
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Total != 2 || payload.Items[1].Status != "em_andamento" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHandleNotifications_List(t *testing.T) {
	link := "/os/os-1"
	server := authedServer()
	server.notificationService = &stubNotificationService{
		items: []notification.Notification{
			{ID: "n1", RecipientID: "actor-1", Title: "OS transferida", Type: notification.TypeAttention, DeepLink: &link, CreatedAt: time.Now()},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/notifications?unread=true", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()

	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload listResponse[notificationResponse]
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Total != 1 || payload.Items[0].DeepLink != link {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}
