package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"osflow/directory"
	"osflow/notification"
	"osflow/outbox"
	"osflow/ownership"
	"osflow/timeline"
	"osflow/workflow"
)

var (
	// ErrApprovalNotRequired signals the stage is not flagged for
	// approval.
	ErrApprovalNotRequired = errors.New("approval: stage does not require approval")
	// ErrRequestOpen signals the stage already awaits a verdict.
	ErrRequestOpen = errors.New("approval: stage already awaits a verdict")
	// ErrNotApprover signals the decider's cargo may not decide.
	ErrNotApprover = errors.New("approval: cargo may not decide approvals")
	// ErrReasonRequired signals a rejection without a reason.
	ErrReasonRequired = errors.New("approval: rejection reason is required")
	// ErrInstanceClosed signals a request against a terminal instance.
	ErrInstanceClosed = errors.New("approval: instance is closed")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the persistence the service depends on.
type Store interface {
	InstanceInfo(ctx context.Context, instanceID string) (instanceInfo, error)
	Insert(ctx context.Context, tx pgx.Tx, a Approval) (Approval, error)
	Get(ctx context.Context, id string) (Approval, error)
	LatestForStage(ctx context.Context, instanceID string, step int) (Approval, bool, error)
	Decide(ctx context.Context, tx pgx.Tx, id string, next Status, deciderID string, rejectReason *string) (Approval, error)
	SetStageStatus(ctx context.Context, tx pgx.Tx, instanceID string, step int, expect []workflow.StageStatus, next workflow.StageStatus) error
}

// Directory is the personnel lookup the service depends on.
type Directory interface {
	GetActor(ctx context.Context, id string) (directory.Actor, error)
	ListByCargo(ctx context.Context, cargo ownership.CargoSlug) ([]directory.Actor, error)
}

type TimelineWriter interface {
	Append(ctx context.Context, tx pgx.Tx, instanceID string, actorID *string, activityType, description string, payload map[string]any) error
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Notifier delivers in-app notifications.
type Notifier interface {
	Send(ctx context.Context, params notification.SendParams) (notification.Notification, error)
}

// Service runs the approval cycles of stages flagged for sign-off.
type Service struct {
	pool        TxBeginner
	repo        Store
	rules       *ownership.RuleSet
	directory   Directory
	timeline    TimelineWriter
	outbox      OutboxWriter
	notifier    Notifier
	logger      *zap.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, repo Store, rules *ownership.RuleSet, dir Directory, tl TimelineWriter, ob OutboxWriter, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		rules:       rules,
		directory:   dir,
		timeline:    tl,
		outbox:      ob,
		notifier:    notifier,
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

type RequestParams struct {
	InstanceID    string
	StepOrdinal   int
	RequestedByID string
	Justification string
}

// Request opens an approval cycle for a stage flagged as requiring sign-off
// and parks the stage while the verdict is pending.
func (s *Service) Request(ctx context.Context, params RequestParams) (Approval, error) {
	if params.InstanceID == "" || params.RequestedByID == "" {
		return Approval{}, fmt.Errorf("approval: missing required ids")
	}

	info, err := s.repo.InstanceInfo(ctx, params.InstanceID)
	if err != nil {
		return Approval{}, err
	}
	if info.Terminal {
		return Approval{}, ErrInstanceClosed
	}

	def, ok := s.rules.StageDef(info.TypeCode, params.StepOrdinal)
	if !ok || !def.RequiresApproval {
		return Approval{}, ErrApprovalNotRequired
	}

	if latest, found, err := s.repo.LatestForStage(ctx, params.InstanceID, params.StepOrdinal); err != nil {
		return Approval{}, err
	} else if found && latest.Status == StatusRequested {
		return Approval{}, ErrRequestOpen
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Approval{}, fmt.Errorf("approval: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Insert(ctx, tx, Approval{
		ID:            s.idGenerator(),
		InstanceID:    params.InstanceID,
		StepOrdinal:   params.StepOrdinal,
		Status:        StatusRequested,
		RequestedByID: params.RequestedByID,
		Justification: params.Justification,
	})
	if err != nil {
		return Approval{}, err
	}

	if err := s.repo.SetStageStatus(ctx, tx, params.InstanceID, params.StepOrdinal,
		[]workflow.StageStatus{workflow.StageInProgress}, workflow.StageAwaitingApproval); err != nil {
		return Approval{}, err
	}

	if s.timeline != nil {
		description := fmt.Sprintf("Aprovação solicitada para a etapa %d (%s)", params.StepOrdinal, def.Name)
		payload := map[string]any{
			"etapa_ordem":  params.StepOrdinal,
			"aprovacao_id": created.ID,
		}
		if err := s.timeline.Append(ctx, tx, params.InstanceID, &params.RequestedByID, timeline.ActivityApprovalRequested, description, payload); err != nil {
			return Approval{}, fmt.Errorf("approval: append timeline: %w", err)
		}
	}

	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicApprovalRequested, map[string]any{
			"os_id":        params.InstanceID,
			"codigo_os":    info.Code,
			"etapa_ordem":  params.StepOrdinal,
			"aprovacao_id": created.ID,
		}); err != nil {
			return Approval{}, fmt.Errorf("approval: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Approval{}, fmt.Errorf("approval: commit tx: %w", err)
	}

	s.notifyApprovers(ctx, info, created)

	return created, nil
}

// Confirm records an approving verdict and releases the stage.
func (s *Service) Confirm(ctx context.Context, id, deciderID string) (Approval, error) {
	return s.decide(ctx, id, deciderID, StatusApproved, nil)
}

// Reject records a rejecting verdict with a mandatory reason. The stage
// returns to in-progress; a new cycle may be requested afterwards.
func (s *Service) Reject(ctx context.Context, id, deciderID, reason string) (Approval, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Approval{}, ErrReasonRequired
	}
	return s.decide(ctx, id, deciderID, StatusRejected, &reason)
}

func (s *Service) decide(ctx context.Context, id, deciderID string, next Status, rejectReason *string) (Approval, error) {
	decider, err := s.directory.GetActor(ctx, deciderID)
	if err != nil {
		return Approval{}, fmt.Errorf("approval: decider lookup: %w", err)
	}
	if !CanApprove(decider.CargoSlug) {
		return Approval{}, ErrNotApprover
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Approval{}, fmt.Errorf("approval: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	decided, err := s.repo.Decide(ctx, tx, id, next, deciderID, rejectReason)
	if err != nil {
		return Approval{}, err
	}

	stageNext := workflow.StageApproved
	activityType := timeline.ActivityApprovalConfirmed
	description := fmt.Sprintf("Etapa %d aprovada por %s", decided.StepOrdinal, decider.FullName)
	if next == StatusRejected {
		stageNext = workflow.StageInProgress
		activityType = timeline.ActivityApprovalRejected
		description = fmt.Sprintf("Etapa %d rejeitada por %s: %s", decided.StepOrdinal, decider.FullName, *rejectReason)
	}

	if err := s.repo.SetStageStatus(ctx, tx, decided.InstanceID, decided.StepOrdinal,
		[]workflow.StageStatus{workflow.StageAwaitingApproval}, stageNext); err != nil {
		return Approval{}, err
	}

	if s.timeline != nil {
		payload := map[string]any{
			"etapa_ordem":  decided.StepOrdinal,
			"aprovacao_id": decided.ID,
			"decisao":      string(next),
		}
		if err := s.timeline.Append(ctx, tx, decided.InstanceID, &deciderID, activityType, description, payload); err != nil {
			return Approval{}, fmt.Errorf("approval: append timeline: %w", err)
		}
	}

	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicApprovalDecided, map[string]any{
			"os_id":        decided.InstanceID,
			"etapa_ordem":  decided.StepOrdinal,
			"aprovacao_id": decided.ID,
			"decisao":      string(next),
		}); err != nil {
			return Approval{}, fmt.Errorf("approval: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Approval{}, fmt.Errorf("approval: commit tx: %w", err)
	}

	s.notifySolicitor(ctx, decided, decider)

	return decided, nil
}

// notifyApprovers runs after commit; failures are logged, never returned.
func (s *Service) notifyApprovers(ctx context.Context, info instanceInfo, a Approval) {
	if s.notifier == nil {
		return
	}
	seen := map[string]bool{a.RequestedByID: true}
	for _, cargo := range approverCargos {
		actors, err := s.directory.ListByCargo(ctx, cargo)
		if err != nil {
			s.logger.Warn("approval: approver lookup failed",
				zap.String("cargo", string(cargo)),
				zap.Error(err))
			continue
		}
		for _, actor := range actors {
			if seen[actor.ID] {
				continue
			}
			seen[actor.ID] = true
			if _, err := s.notifier.Send(ctx, notification.SendParams{
				RecipientID: actor.ID,
				Title:       fmt.Sprintf("OS %s aguarda aprovação", info.Code),
				Body:        fmt.Sprintf("A etapa %d da OS %s aguarda sua aprovação.", a.StepOrdinal, info.Code),
				DeepLink:    "/os/" + a.InstanceID,
				Type:        notification.TypeApproval,
			}); err != nil {
				s.logger.Warn("approval: approver notification failed",
					zap.String("recipient_id", actor.ID),
					zap.Error(err))
			}
		}
	}
}

// notifySolicitor runs after commit; failures are logged, never returned.
func (s *Service) notifySolicitor(ctx context.Context, a Approval, decider directory.Actor) {
	if s.notifier == nil {
		return
	}
	params := notification.SendParams{
		RecipientID: a.RequestedByID,
		DeepLink:    "/os/" + a.InstanceID,
	}
	if a.Status == StatusApproved {
		params.Title = fmt.Sprintf("Etapa %d aprovada", a.StepOrdinal)
		params.Body = fmt.Sprintf("Sua solicitação foi aprovada por %s.", decider.FullName)
		params.Type = notification.TypeSuccess
	} else {
		reason := ""
		if a.RejectReason != nil {
			reason = *a.RejectReason
		}
		params.Title = fmt.Sprintf("Etapa %d rejeitada", a.StepOrdinal)
		params.Body = fmt.Sprintf("Sua solicitação foi rejeitada por %s: %s", decider.FullName, reason)
		params.Type = notification.TypeAttention
	}
	if _, err := s.notifier.Send(ctx, params); err != nil {
		s.logger.Warn("approval: solicitor notification failed",
			zap.String("recipient_id", a.RequestedByID),
			zap.Error(err))
	}
}
