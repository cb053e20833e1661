package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"osflow/approval"
	"osflow/auth"
	"osflow/delegation"
	"osflow/directory"
	"osflow/notification"
	"osflow/ownership"
	"osflow/timeline"
	"osflow/transfer"
	"osflow/workflow"
)

type ctxKey string

const (
	ctxKeyActorID ctxKey = "actor_id"
	ctxKeyCargo   ctxKey = "cargo"
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.Account, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, ownership.CargoSlug, error)
}

type workflowService interface {
	Create(ctx context.Context, params workflow.CreateParams) (workflow.Instance, error)
	Advance(ctx context.Context, params workflow.AdvanceParams) (workflow.AdvanceResult, error)
	Cancel(ctx context.Context, instanceID, actorID, reason string) (workflow.Instance, error)
	Get(ctx context.Context, id string) (workflow.Instance, error)
}

type responsibilityResolver interface {
	StepResponsibility(ctx context.Context, instanceID string, step int, requester directory.Actor) (workflow.StepResponsibility, error)
}

type stageGate interface {
	CanAdvance(ctx context.Context, instanceID, actorID string) (workflow.GateDecision, error)
}

type actorReader interface {
	GetActor(ctx context.Context, id string) (directory.Actor, error)
}

type delegationService interface {
	Delegate(ctx context.Context, params delegation.DelegateParams) (delegation.Delegation, error)
	Accept(ctx context.Context, id, actorID string) (delegation.Delegation, error)
	Complete(ctx context.Context, id, actorID string) (delegation.Delegation, error)
	Revoke(ctx context.Context, instanceID string, step int, actorID string) (delegation.Delegation, error)
	ListEligibleDelegates(ctx context.Context, typeCode string, step int) ([]directory.Actor, error)
}

type approvalService interface {
	Request(ctx context.Context, params approval.RequestParams) (approval.Approval, error)
	Confirm(ctx context.Context, id, deciderID string) (approval.Approval, error)
	Reject(ctx context.Context, id, deciderID, reason string) (approval.Approval, error)
}

type notificationService interface {
	ListForRecipient(ctx context.Context, recipientID string, unreadOnly bool) ([]notification.Notification, error)
	MarkRead(ctx context.Context, id, recipientID string) (notification.Notification, error)
}

type stageLister interface {
	Stages(ctx context.Context, instanceID string) ([]workflow.Stage, error)
}

type activityLister interface {
	ListForInstance(ctx context.Context, instanceID string) ([]timeline.Activity, error)
}

type transferLister interface {
	ListForInstance(ctx context.Context, instanceID string) ([]transfer.Record, error)
}

type delegationLister interface {
	ListForInstance(ctx context.Context, instanceID string) ([]delegation.Delegation, error)
}

type approvalLister interface {
	ListForInstance(ctx context.Context, instanceID string) ([]approval.Approval, error)
}

// Server wires the HTTP surface over the domain services.
type Server struct {
	authService         authService
	workflowService     workflowService
	resolver            responsibilityResolver
	gate                stageGate
	actors              actorReader
	delegationService   delegationService
	approvalService     approvalService
	notificationService notificationService
	stages              stageLister
	activities          activityLister
	transfers           transferLister
	delegationLog       delegationLister
	approvalLog         approvalLister
	logger              *zap.Logger
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/os", s.requireAuth(s.handleInstances))
	mux.HandleFunc("/api/os/", s.requireAuth(s.handleInstanceDetail))
	mux.HandleFunc("/api/delegations/", s.requireAuth(s.handleDelegationDetail))
	mux.HandleFunc("/api/approvals/", s.requireAuth(s.handleApprovalDetail))
	mux.HandleFunc("/api/notifications", s.requireAuth(s.handleNotifications))
	mux.HandleFunc("/api/notifications/", s.requireAuth(s.handleNotificationDetail))
	return mux
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		actorID, cargo, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyActorID, actorID)
		ctx = context.WithValue(ctx, ctxKeyCargo, cargo)
		next(w, r.WithContext(ctx))
	}
}

func actorIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyActorID).(string)
	return id
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	account, err := s.authService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.internalError(w, "register", err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, accountResponseFrom(*account))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrAccountInactive):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			s.internalError(w, "login", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:   result.Token,
		Account: accountResponseFrom(result.Account),
	})
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req createInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	inst, err := s.workflowService.Create(r.Context(), workflow.CreateParams{
		TypeCode:    req.TypeCode,
		CreatedByID: actorIDFrom(r),
		ParentID:    req.ParentID,
	})
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrUnknownType):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, workflow.ErrCannotInitiate):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			s.internalError(w, "create instance", err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, instanceResponseFrom(inst))
}

// handleInstanceDetail routes /api/os/{id} plus its sub-resources.
func (s *Server) handleInstanceDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/os/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "missing instance id")
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	instanceID := parts[0]
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		s.handleGetInstance(w, r, instanceID)
	case sub == "advance" && r.Method == http.MethodPost:
		s.handleAdvance(w, r, instanceID)
	case sub == "cancel" && r.Method == http.MethodPost:
		s.handleCancel(w, r, instanceID)
	case sub == "responsibility" && r.Method == http.MethodGet:
		s.handleResponsibility(w, r, instanceID)
	case sub == "gate" && r.Method == http.MethodGet:
		s.handleGate(w, r, instanceID)
	case sub == "delegations" && r.Method == http.MethodPost:
		s.handleDelegate(w, r, instanceID)
	case sub == "delegations" && r.Method == http.MethodDelete:
		s.handleRevokeDelegation(w, r, instanceID)
	case sub == "delegations" && r.Method == http.MethodGet:
		s.handleListDelegations(w, r, instanceID)
	case sub == "delegations/eligible" && r.Method == http.MethodGet:
		s.handleEligibleDelegates(w, r, instanceID)
	case sub == "approvals" && r.Method == http.MethodPost:
		s.handleRequestApproval(w, r, instanceID)
	case sub == "approvals" && r.Method == http.MethodGet:
		s.handleListApprovals(w, r, instanceID)
	case sub == "stages" && r.Method == http.MethodGet:
		s.handleListStages(w, r, instanceID)
	case sub == "activities" && r.Method == http.MethodGet:
		s.handleListActivities(w, r, instanceID)
	case sub == "transfers" && r.Method == http.MethodGet:
		s.handleListTransfers(w, r, instanceID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request, instanceID string) {
	inst, err := s.workflowService.Get(r.Context(), instanceID)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			writeError(w, http.StatusNotFound, "instance not found")
			return
		}
		s.internalError(w, "get instance", err)
		return
	}
	writeJSON(w, http.StatusOK, instanceResponseFrom(inst))
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request, instanceID string) {
	var req advanceRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	result, err := s.workflowService.Advance(r.Context(), workflow.AdvanceParams{
		InstanceID: instanceID,
		ActorID:    actorIDFrom(r),
		Note:       req.Note,
	})
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrNotFound):
			writeError(w, http.StatusNotFound, "instance not found")
		case errors.Is(err, workflow.ErrNotResponsible):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, workflow.ErrApprovalPending), errors.Is(err, workflow.ErrApprovalRejected):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, workflow.ErrInstanceClosed), errors.Is(err, workflow.ErrStaleInstance), errors.Is(err, transfer.ErrStaleHandoff):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.internalError(w, "advance instance", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, advanceResponseFrom(result))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, instanceID string) {
	var req cancelRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	inst, err := s.workflowService.Cancel(r.Context(), instanceID, actorIDFrom(r), req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrNotFound):
			writeError(w, http.StatusNotFound, "instance not found")
		case errors.Is(err, workflow.ErrNotResponsible):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, workflow.ErrInstanceClosed):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.internalError(w, "cancel instance", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, instanceResponseFrom(inst))
}

func (s *Server) handleResponsibility(w http.ResponseWriter, r *http.Request, instanceID string) {
	step, err := strconv.Atoi(r.URL.Query().Get("step"))
	if err != nil || step < 1 {
		writeError(w, http.StatusBadRequest, "invalid step")
		return
	}
	actor, err := s.actors.GetActor(r.Context(), actorIDFrom(r))
	if err != nil {
		s.internalError(w, "resolve actor", err)
		return
	}
	resp, err := s.resolver.StepResponsibility(r.Context(), instanceID, step, actor)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			writeError(w, http.StatusNotFound, "instance not found")
			return
		}
		s.internalError(w, "resolve responsibility", err)
		return
	}
	writeJSON(w, http.StatusOK, responsibilityResponseFrom(resp))
}

func (s *Server) handleGate(w http.ResponseWriter, r *http.Request, instanceID string) {
	decision, err := s.gate.CanAdvance(r.Context(), instanceID, actorIDFrom(r))
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			writeError(w, http.StatusNotFound, "instance not found")
			return
		}
		s.internalError(w, "gate check", err)
		return
	}
	writeJSON(w, http.StatusOK, gateResponse{
		Allowed: decision.Allowed,
		Reason:  decision.Reason,
		Detail:  decision.Detail,
	})
}

func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request, instanceID string) {
	var req delegateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	d, err := s.delegationService.Delegate(r.Context(), delegation.DelegateParams{
		InstanceID:      instanceID,
		StepOrdinal:     req.Step,
		DelegatorID:     actorIDFrom(r),
		DelegateID:      req.DelegateID,
		Deadline:        req.Deadline,
		TaskDescription: req.TaskDescription,
		Notes:           req.Notes,
	})
	if err != nil {
		switch {
		case errors.Is(err, delegation.ErrSelfDelegation),
			errors.Is(err, delegation.ErrIneligibleDelegate),
			errors.Is(err, delegation.ErrShortDescription),
			errors.Is(err, delegation.ErrInvalidDeadline),
			errors.Is(err, delegation.ErrStageNotDelegable):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, delegation.ErrNotAllowed):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, delegation.ErrInstanceClosed), errors.Is(err, delegation.ErrDelegationActive):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, delegation.ErrInstanceNotFound):
			writeError(w, http.StatusNotFound, "instance not found")
		default:
			s.internalError(w, "delegate stage", err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, delegationResponseFrom(d))
}

func (s *Server) handleRevokeDelegation(w http.ResponseWriter, r *http.Request, instanceID string) {
	step, err := strconv.Atoi(r.URL.Query().Get("step"))
	if err != nil || step < 1 {
		writeError(w, http.StatusBadRequest, "invalid step")
		return
	}
	d, err := s.delegationService.Revoke(r.Context(), instanceID, step, actorIDFrom(r))
	if err != nil {
		switch {
		case errors.Is(err, delegation.ErrNoActiveDelegation):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, delegation.ErrNotAllowed):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			s.internalError(w, "revoke delegation", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, delegationResponseFrom(d))
}

func (s *Server) handleRequestApproval(w http.ResponseWriter, r *http.Request, instanceID string) {
	var req requestApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	a, err := s.approvalService.Request(r.Context(), approval.RequestParams{
		InstanceID:    instanceID,
		StepOrdinal:   req.Step,
		RequestedByID: actorIDFrom(r),
		Justification: req.Justification,
	})
	if err != nil {
		switch {
		case errors.Is(err, approval.ErrApprovalNotRequired):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, approval.ErrRequestOpen), errors.Is(err, approval.ErrInstanceClosed):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, approval.ErrInstanceNotFound):
			writeError(w, http.StatusNotFound, "instance not found")
		default:
			s.internalError(w, "request approval", err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, approvalResponseFrom(a))
}

func (s *Server) handleListStages(w http.ResponseWriter, r *http.Request, instanceID string) {
	stages, err := s.stages.Stages(r.Context(), instanceID)
	if err != nil {
		s.internalError(w, "list stages", err)
		return
	}
	out := make([]stageResponse, 0, len(stages))
	for _, st := range stages {
		out = append(out, stageResponse{Step: st.Ordinal, Name: st.Name, Status: string(st.Status)})
	}
	writeJSON(w, http.StatusOK, listResponse[stageResponse]{Items: out, Total: len(out)})
}

func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request, instanceID string) {
	items, err := s.activities.ListForInstance(r.Context(), instanceID)
	if err != nil {
		s.internalError(w, "list activities", err)
		return
	}
	out := make([]activityResponse, 0, len(items))
	for _, a := range items {
		resp := activityResponse{
			ID:          a.ID,
			Type:        a.Type,
			Description: a.Description,
			CreatedAt:   a.CreatedAt.Format(time.RFC3339),
		}
		if a.ActorID != nil {
			resp.ActorID = *a.ActorID
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, listResponse[activityResponse]{Items: out, Total: len(out)})
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request, instanceID string) {
	items, err := s.transfers.ListForInstance(r.Context(), instanceID)
	if err != nil {
		s.internalError(w, "list transfers", err)
		return
	}
	out := make([]transferResponse, 0, len(items))
	for _, rec := range items {
		out = append(out, transferResponseFrom(rec))
	}
	writeJSON(w, http.StatusOK, listResponse[transferResponse]{Items: out, Total: len(out)})
}

func (s *Server) handleListDelegations(w http.ResponseWriter, r *http.Request, instanceID string) {
	items, err := s.delegationLog.ListForInstance(r.Context(), instanceID)
	if err != nil {
		s.internalError(w, "list delegations", err)
		return
	}
	out := make([]delegationResponse, 0, len(items))
	for _, d := range items {
		out = append(out, delegationResponseFrom(d))
	}
	writeJSON(w, http.StatusOK, listResponse[delegationResponse]{Items: out, Total: len(out)})
}

func (s *Server) handleEligibleDelegates(w http.ResponseWriter, r *http.Request, instanceID string) {
	step, err := strconv.Atoi(r.URL.Query().Get("step"))
	if err != nil || step < 1 {
		writeError(w, http.StatusBadRequest, "invalid step")
		return
	}
	inst, err := s.workflowService.Get(r.Context(), instanceID)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			writeError(w, http.StatusNotFound, "instance not found")
			return
		}
		s.internalError(w, "get instance", err)
		return
	}
	actors, err := s.delegationService.ListEligibleDelegates(r.Context(), inst.TypeCode, step)
	if err != nil {
		if errors.Is(err, delegation.ErrStageNotDelegable) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.internalError(w, "list eligible delegates", err)
		return
	}
	out := make([]eligibleDelegateResponse, 0, len(actors))
	for _, a := range actors {
		out = append(out, eligibleDelegateResponse{
			ID:    a.ID,
			Name:  a.FullName,
			Cargo: string(a.CargoSlug),
			Setor: string(a.SetorSlug),
		})
	}
	writeJSON(w, http.StatusOK, listResponse[eligibleDelegateResponse]{Items: out, Total: len(out)})
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request, instanceID string) {
	items, err := s.approvalLog.ListForInstance(r.Context(), instanceID)
	if err != nil {
		s.internalError(w, "list approvals", err)
		return
	}
	out := make([]approvalResponse, 0, len(items))
	for _, a := range items {
		out = append(out, approvalResponseFrom(a))
	}
	writeJSON(w, http.StatusOK, listResponse[approvalResponse]{Items: out, Total: len(out)})
}

// handleDelegationDetail routes /api/delegations/{id}/accept|complete.
func (s *Server) handleDelegationDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/delegations/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var (
		d   delegation.Delegation
		err error
	)
	switch parts[1] {
	case "accept":
		d, err = s.delegationService.Accept(r.Context(), parts[0], actorIDFrom(r))
	case "complete":
		d, err = s.delegationService.Complete(r.Context(), parts[0], actorIDFrom(r))
	default:
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		switch {
		case errors.Is(err, delegation.ErrNotFound):
			writeError(w, http.StatusNotFound, "delegation not found")
		case errors.Is(err, delegation.ErrNotAllowed):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, delegation.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.internalError(w, "resolve delegation", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, delegationResponseFrom(d))
}

// handleApprovalDetail routes /api/approvals/{id}/confirm|reject.
func (s *Server) handleApprovalDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/approvals/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var (
		a   approval.Approval
		err error
	)
	switch parts[1] {
	case "confirm":
		a, err = s.approvalService.Confirm(r.Context(), parts[0], actorIDFrom(r))
	case "reject":
		var req rejectApprovalRequest
		if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		a, err = s.approvalService.Reject(r.Context(), parts[0], actorIDFrom(r), req.Reason)
	default:
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		switch {
		case errors.Is(err, approval.ErrNotFound):
			writeError(w, http.StatusNotFound, "approval not found")
		case errors.Is(err, approval.ErrNotApprover):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, approval.ErrReasonRequired):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, approval.ErrAlreadyDecided):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.internalError(w, "decide approval", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, approvalResponseFrom(a))
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"
	items, err := s.notificationService.ListForRecipient(r.Context(), actorIDFrom(r), unreadOnly)
	if err != nil {
		s.internalError(w, "list notifications", err)
		return
	}
	out := make([]notificationResponse, 0, len(items))
	for _, n := range items {
		out = append(out, notificationResponseFrom(n))
	}
	writeJSON(w, http.StatusOK, listResponse[notificationResponse]{Items: out, Total: len(out)})
}

// handleNotificationDetail routes /api/notifications/{id}/read.
func (s *Server) handleNotificationDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/notifications/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] != "read" || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	n, err := s.notificationService.MarkRead(r.Context(), parts[0], actorIDFrom(r))
	if err != nil {
		switch {
		case errors.Is(err, notification.ErrNotFound):
			writeError(w, http.StatusNotFound, "notification not found")
		case errors.Is(err, notification.ErrNotRecipient):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			s.internalError(w, "mark notification read", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, notificationResponseFrom(n))
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	if s.logger != nil {
		s.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

type loginResponse struct {
	Token   string          `json:"token"`
	Account accountResponse `json:"account"`
}

type accountResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Cargo    string `json:"cargo"`
	Setor    string `json:"setor,omitempty"`
}

func accountResponseFrom(a auth.Account) accountResponse {
	return accountResponse{
		ID:       a.ID,
		Email:    a.Email,
		FullName: a.FullName,
		Cargo:    string(a.CargoSlug),
		Setor:    string(a.SetorSlug),
	}
}

type createInstanceRequest struct {
	TypeCode string  `json:"typeCode"`
	ParentID *string `json:"parentId,omitempty"`
}

type advanceRequest struct {
	Note string `json:"note"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type instanceResponse struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	TypeCode    string `json:"typeCode"`
	CurrentStep int    `json:"currentStep"`
	Setor       string `json:"setor"`
	Status      string `json:"status"`
	CreatedBy   string `json:"createdBy"`
	CreatedAt   string `json:"createdAt"`
}

func instanceResponseFrom(inst workflow.Instance) instanceResponse {
	return instanceResponse{
		ID:          inst.ID,
		Code:        inst.Code,
		TypeCode:    inst.TypeCode,
		CurrentStep: inst.CurrentStep,
		Setor:       string(inst.CurrentSetor),
		Status:      string(inst.Status),
		CreatedBy:   inst.CreatedByID,
		CreatedAt:   inst.CreatedAt.Format(time.RFC3339),
	}
}

type advanceResponse struct {
	Instance    instanceResponse `json:"instance"`
	Completed   bool             `json:"completed"`
	Transferred bool             `json:"transferred"`
	ToSetor     string           `json:"toSetor,omitempty"`
}

func advanceResponseFrom(result workflow.AdvanceResult) advanceResponse {
	resp := advanceResponse{
		Instance:    instanceResponseFrom(result.Instance),
		Completed:   result.Completed,
		Transferred: result.Transferred,
	}
	if result.Handoff != nil {
		resp.ToSetor = string(result.Handoff.ToSetor)
	}
	return resp
}

type responsibilityResponse struct {
	Step          int    `json:"step"`
	Setor         string `json:"setor,omitempty"`
	ResponsibleID string `json:"responsibleId"`
	Responsible   string `json:"responsible"`
	IsDelegate    bool   `json:"isDelegate"`
	CanEdit       bool   `json:"canEdit"`
	CanDelegate   bool   `json:"canDelegate"`
	BlockReason   string `json:"blockReason,omitempty"`
}

func responsibilityResponseFrom(resp workflow.StepResponsibility) responsibilityResponse {
	return responsibilityResponse{
		Step:          resp.Ordinal,
		Setor:         string(resp.Setor),
		ResponsibleID: resp.Responsible.ActorID,
		Responsible:   resp.Responsible.Name,
		IsDelegate:    resp.Responsible.IsDelegate,
		CanEdit:       resp.CanEdit,
		CanDelegate:   resp.CanDelegate,
		BlockReason:   resp.BlockReason,
	}
}

type eligibleDelegateResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Cargo string `json:"cargo"`
	Setor string `json:"setor,omitempty"`
}

type stageResponse struct {
	Step   int    `json:"step"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type activityResponse struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Description string `json:"description"`
	ActorID     string `json:"actorId,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

type transferResponse struct {
	ID        string `json:"id"`
	FromStep  int    `json:"fromStep"`
	ToStep    int    `json:"toStep"`
	FromSetor string `json:"fromSetor"`
	ToSetor   string `json:"toSetor"`
	Note      string `json:"note,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func transferResponseFrom(rec transfer.Record) transferResponse {
	return transferResponse{
		ID:        rec.ID,
		FromStep:  rec.FromStep,
		ToStep:    rec.ToStep,
		FromSetor: string(rec.FromSetor),
		ToSetor:   string(rec.ToSetor),
		Note:      rec.Note,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
	}
}

type gateResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

type delegateRequest struct {
	Step            int       `json:"step"`
	DelegateID      string    `json:"delegateId"`
	Deadline        time.Time `json:"deadline"`
	TaskDescription string    `json:"taskDescription"`
	Notes           *string   `json:"notes,omitempty"`
}

type delegationResponse struct {
	ID          string `json:"id"`
	InstanceID  string `json:"osId"`
	Step        int    `json:"step"`
	DelegatorID string `json:"delegatorId"`
	DelegateID  string `json:"delegateId"`
	Deadline    string `json:"deadline"`
	Status      string `json:"status"`
}

func delegationResponseFrom(d delegation.Delegation) delegationResponse {
	return delegationResponse{
		ID:          d.ID,
		InstanceID:  d.InstanceID,
		Step:        d.StepOrdinal,
		DelegatorID: d.DelegatorID,
		DelegateID:  d.DelegateID,
		Deadline:    d.Deadline.Format(time.RFC3339),
		Status:      string(d.Status),
	}
}

type requestApprovalRequest struct {
	Step          int    `json:"step"`
	Justification string `json:"justification"`
}

type rejectApprovalRequest struct {
	Reason string `json:"reason"`
}

type approvalResponse struct {
	ID         string `json:"id"`
	InstanceID string `json:"osId"`
	Step       int    `json:"step"`
	Status     string `json:"status"`
}

func approvalResponseFrom(a approval.Approval) approvalResponse {
	return approvalResponse{
		ID:         a.ID,
		InstanceID: a.InstanceID,
		Step:       a.StepOrdinal,
		Status:     string(a.Status),
	}
}

type notificationResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	DeepLink  string `json:"deepLink,omitempty"`
	Type      string `json:"type"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"createdAt"`
}

func notificationResponseFrom(n notification.Notification) notificationResponse {
	resp := notificationResponse{
		ID:        n.ID,
		Title:     n.Title,
		Body:      n.Body,
		Type:      string(n.Type),
		Read:      n.Read,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
	}
	if n.DeepLink != nil {
		resp.DeepLink = *n.DeepLink
	}
	return resp
}
