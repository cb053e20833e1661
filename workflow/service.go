package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"osflow/outbox"
	"osflow/ownership"
	"osflow/timeline"
	"osflow/transfer"
)

var (
	// ErrUnknownType signals a type code absent from the rule table.
	ErrUnknownType = errors.New("workflow: unknown os type")
	// ErrCannotInitiate signals the actor's cargo may not open this type.
	ErrCannotInitiate = errors.New("workflow: cargo cannot initiate this os type")
	// ErrNotResponsible signals the actor does not answer for the current
	// stage.
	ErrNotResponsible = errors.New("workflow: actor is not responsible for the stage")
	// ErrApprovalPending signals the stage still awaits approval.
	ErrApprovalPending = errors.New("workflow: stage approval pending")
	// ErrApprovalRejected signals the latest approval verdict was a
	// rejection.
	ErrApprovalRejected = errors.New("workflow: stage approval rejected")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the instance persistence the service depends on.
type Store interface {
	Create(ctx context.Context, tx pgx.Tx, inst Instance, stages []ownership.StageDefinition) (Instance, error)
	Get(ctx context.Context, id string) (Instance, error)
	AdvanceStep(ctx context.Context, tx pgx.Tx, id string, fromStep, toStep int) (Instance, error)
	SetLifecycle(ctx context.Context, tx pgx.Tx, id string, expect, next Status) (Instance, error)
	SetStageStatus(ctx context.Context, tx pgx.Tx, instanceID string, ordinal int, expect []StageStatus, next StageStatus) error
	NextCode(ctx context.Context, tx pgx.Tx) (string, error)
}

type TimelineWriter interface {
	Append(ctx context.Context, tx pgx.Tx, instanceID string, actorID *string, activityType, description string, payload map[string]any) error
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// TransferExecutor performs the sector move when an advance crosses a
// handoff point.
type TransferExecutor interface {
	Execute(ctx context.Context, params transfer.ExecuteParams) (transfer.Result, error)
}

// Service drives the instance lifecycle: intake, stage advancement with
// handoff detection, completion and cancellation.
type Service struct {
	pool        TxBeginner
	repo        Store
	rules       *ownership.RuleSet
	gate        *Gate
	transfers   TransferExecutor
	timeline    TimelineWriter
	outbox      OutboxWriter
	directory   ActorDirectory
	logger      *zap.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, repo Store, rules *ownership.RuleSet, gate *Gate, transfers TransferExecutor, tl TimelineWriter, ob OutboxWriter, dir ActorDirectory, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		rules:       rules,
		gate:        gate,
		transfers:   transfers,
		timeline:    tl,
		outbox:      ob,
		directory:   dir,
		logger:      logger,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type CreateParams struct {
	TypeCode    string
	CreatedByID string
	ParentID    *string
}

// Create opens a new instance at step 1 in triage, seeding one stage row per
// stage definition of the type's rule.
func (s *Service) Create(ctx context.Context, params CreateParams) (Instance, error) {
	if params.CreatedByID == "" {
		return Instance{}, fmt.Errorf("workflow: missing creator id")
	}

	rule, ok := s.rules.Rule(params.TypeCode)
	if !ok {
		return Instance{}, ErrUnknownType
	}

	creator, err := s.directory.GetActor(ctx, params.CreatedByID)
	if err != nil {
		return Instance{}, fmt.Errorf("workflow: intake actor: %w", err)
	}
	if !s.rules.CanInitiate(params.TypeCode, creator.CargoSlug) {
		return Instance{}, ErrCannotInitiate
	}

	firstOwner, ok := s.rules.StepOwner(params.TypeCode, 1)
	if !ok {
		return Instance{}, fmt.Errorf("workflow: type %s has no first stage owner", params.TypeCode)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Instance{}, fmt.Errorf("workflow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	code, err := s.repo.NextCode(ctx, tx)
	if err != nil {
		return Instance{}, err
	}

	created, err := s.repo.Create(ctx, tx, Instance{
		ID:           s.idGenerator(),
		Code:         code,
		TypeCode:     params.TypeCode,
		CurrentStep:  1,
		CurrentSetor: firstOwner.Setor,
		Status:       StatusTriage,
		CreatedByID:  params.CreatedByID,
		ParentID:     params.ParentID,
	}, s.rules.Stages(params.TypeCode))
	if err != nil {
		return Instance{}, err
	}

	if s.timeline != nil {
		description := fmt.Sprintf("OS %s (%s) criada", created.Code, rule.Name)
		payload := map[string]any{
			"tipo_os":      created.TypeCode,
			"setor_atual":  created.CurrentSetor,
			"total_etapas": rule.TotalSteps,
		}
		if err := s.timeline.Append(ctx, tx, created.ID, &params.CreatedByID, timeline.ActivityCreated, description, payload); err != nil {
			return Instance{}, fmt.Errorf("workflow: append timeline: %w", err)
		}
	}

	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicInstanceCreated, map[string]any{
			"os_id":      created.ID,
			"codigo_os":  created.Code,
			"tipo_os":    created.TypeCode,
			"criado_por": params.CreatedByID,
		}); err != nil {
			return Instance{}, fmt.Errorf("workflow: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Instance{}, fmt.Errorf("workflow: commit tx: %w", err)
	}
	return created, nil
}

type AdvanceParams struct {
	InstanceID string
	ActorID    string
	Note       string
}

// AdvanceResult reports what an Advance call did.
type AdvanceResult struct {
	Instance    Instance
	Completed   bool
	Transferred bool
	Handoff     *ownership.HandoffPoint
}

// Advance moves the instance one step forward on behalf of the actor. The
// gate is re-checked before any write; crossing a sector boundary hands the
// move to the transfer executor, finishing the last step completes the
// instance.
func (s *Service) Advance(ctx context.Context, params AdvanceParams) (AdvanceResult, error) {
	if params.InstanceID == "" || params.ActorID == "" {
		return AdvanceResult{}, fmt.Errorf("workflow: missing instance or actor id")
	}

	inst, err := s.repo.Get(ctx, params.InstanceID)
	if err != nil {
		return AdvanceResult{}, err
	}

	decision, err := s.gate.CanAdvance(ctx, params.InstanceID, params.ActorID)
	if err != nil {
		return AdvanceResult{}, err
	}
	if !decision.Allowed {
		return AdvanceResult{}, gateError(decision)
	}

	rule, ok := s.rules.Rule(inst.TypeCode)
	if !ok {
		return AdvanceResult{}, ErrUnknownType
	}

	if inst.CurrentStep >= rule.TotalSteps {
		return s.complete(ctx, inst, params.ActorID)
	}

	nextStep := inst.CurrentStep + 1
	if handoff, crossing := s.rules.HandoffBetween(inst.TypeCode, inst.CurrentStep, nextStep); crossing {
		if _, err := s.transfers.Execute(ctx, transfer.ExecuteParams{
			InstanceID:   inst.ID,
			ExecutedByID: params.ActorID,
			Handoff:      handoff,
			Note:         params.Note,
		}); err != nil {
			return AdvanceResult{}, err
		}
		moved, err := s.repo.Get(ctx, inst.ID)
		if err != nil {
			return AdvanceResult{}, err
		}
		h := handoff
		return AdvanceResult{Instance: moved, Transferred: true, Handoff: &h}, nil
	}

	return s.advanceWithinSector(ctx, inst, nextStep, params.ActorID)
}

func (s *Service) advanceWithinSector(ctx context.Context, inst Instance, nextStep int, actorID string) (AdvanceResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("workflow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	moved, err := s.repo.AdvanceStep(ctx, tx, inst.ID, inst.CurrentStep, nextStep)
	if err != nil {
		return AdvanceResult{}, err
	}
	if err := s.repo.SetStageStatus(ctx, tx, inst.ID, inst.CurrentStep, []StageStatus{StageInProgress, StageApproved}, StageCompleted); err != nil {
		return AdvanceResult{}, err
	}
	if err := s.repo.SetStageStatus(ctx, tx, inst.ID, nextStep, []StageStatus{StagePending}, StageInProgress); err != nil {
		return AdvanceResult{}, err
	}

	if s.timeline != nil {
		def, _ := s.rules.StageDef(inst.TypeCode, nextStep)
		description := fmt.Sprintf("Etapa %d (%s) iniciada", nextStep, def.Name)
		payload := map[string]any{
			"etapa_anterior": inst.CurrentStep,
			"etapa_atual":    nextStep,
		}
		if err := s.timeline.Append(ctx, tx, inst.ID, &actorID, timeline.ActivityStageAdvanced, description, payload); err != nil {
			return AdvanceResult{}, fmt.Errorf("workflow: append timeline: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return AdvanceResult{}, fmt.Errorf("workflow: commit tx: %w", err)
	}
	return AdvanceResult{Instance: moved}, nil
}

func (s *Service) complete(ctx context.Context, inst Instance, actorID string) (AdvanceResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("workflow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	closed, err := s.repo.SetLifecycle(ctx, tx, inst.ID, inst.Status, StatusCompleted)
	if err != nil {
		return AdvanceResult{}, err
	}
	if err := s.repo.SetStageStatus(ctx, tx, inst.ID, inst.CurrentStep, []StageStatus{StageInProgress, StageApproved}, StageCompleted); err != nil {
		return AdvanceResult{}, err
	}

	if s.timeline != nil {
		description := fmt.Sprintf("OS %s concluída", inst.Code)
		if err := s.timeline.Append(ctx, tx, inst.ID, &actorID, timeline.ActivityCompleted, description, map[string]any{
			"etapa_final": inst.CurrentStep,
		}); err != nil {
			return AdvanceResult{}, fmt.Errorf("workflow: append timeline: %w", err)
		}
	}

	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicInstanceCompleted, map[string]any{
			"os_id":     inst.ID,
			"codigo_os": inst.Code,
		}); err != nil {
			return AdvanceResult{}, fmt.Errorf("workflow: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return AdvanceResult{}, fmt.Errorf("workflow: commit tx: %w", err)
	}
	return AdvanceResult{Instance: closed, Completed: true}, nil
}

// Cancel closes the instance without finishing it. Only the creator or an
// escalation role may cancel.
func (s *Service) Cancel(ctx context.Context, instanceID, actorID, reason string) (Instance, error) {
	inst, err := s.repo.Get(ctx, instanceID)
	if err != nil {
		return Instance{}, err
	}
	actor, err := s.directory.GetActor(ctx, actorID)
	if err != nil {
		return Instance{}, fmt.Errorf("workflow: cancel actor: %w", err)
	}
	if actor.ID != inst.CreatedByID && !ownership.IsEscalation(actor.CargoSlug) {
		return Instance{}, ErrNotResponsible
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Instance{}, fmt.Errorf("workflow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	canceled, err := s.repo.SetLifecycle(ctx, tx, inst.ID, inst.Status, StatusCanceled)
	if err != nil {
		return Instance{}, err
	}

	if s.timeline != nil {
		description := fmt.Sprintf("OS %s cancelada", inst.Code)
		if reason != "" {
			description += ": " + reason
		}
		if err := s.timeline.Append(ctx, tx, inst.ID, &actorID, timeline.ActivityCanceled, description, map[string]any{
			"motivo": reason,
		}); err != nil {
			return Instance{}, fmt.Errorf("workflow: append timeline: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Instance{}, fmt.Errorf("workflow: commit tx: %w", err)
	}
	return canceled, nil
}

// Get returns an instance by id.
func (s *Service) Get(ctx context.Context, id string) (Instance, error) {
	return s.repo.Get(ctx, id)
}

func gateError(decision GateDecision) error {
	switch decision.Reason {
	case ReasonNotResponsible:
		return ErrNotResponsible
	case ReasonApprovalPending:
		return ErrApprovalPending
	case ReasonApprovalRejected:
		return ErrApprovalRejected
	case ReasonInstanceClosed:
		return ErrInstanceClosed
	default:
		return fmt.Errorf("workflow: advance denied: %s", decision.Reason)
	}
}
