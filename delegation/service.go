package delegation

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
)

var (
	// ErrSelfDelegation signals a delegator naming themselves.
	ErrSelfDelegation = errors.New("delegation: cannot delegate to yourself")
	// ErrIneligibleDelegate signals the delegate is inactive or does not
	// hold a cargo eligible for the stage.
	ErrIneligibleDelegate = errors.New("delegation: delegate not eligible for the stage")
	// ErrShortDescription signals a task description under the minimum.
	ErrShortDescription = errors.New("delegation: task description too short")
	// ErrInvalidDeadline signals a deadline that is not in the future.
	ErrInvalidDeadline = errors.New("delegation: deadline must be in the future")
	// ErrInstanceClosed signals delegation against a terminal instance.
	ErrInstanceClosed = errors.New("delegation: instance is closed")
	// ErrStageNotDelegable signals a stage outside the type's rule.
	ErrStageNotDelegable = errors.New("delegation: stage cannot be delegated")
	// ErrNotAllowed signals the actor may not manage this delegation.
	ErrNotAllowed = errors.New("delegation: actor may not manage this delegation")
	// ErrNoActiveDelegation signals there is nothing to revoke.
	ErrNoActiveDelegation = errors.New("delegation: no active delegation for the stage")
)

// minDescriptionLen is the floor on task descriptions, so delegates receive
// an actionable brief instead of a bare reassignment.
const minDescriptionLen = 10

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the persistence the service depends on.
type Store interface {
	InstanceState(ctx context.Context, instanceID string) (instanceState, error)
	Insert(ctx context.Context, tx pgx.Tx, d Delegation) (Delegation, error)
	Get(ctx context.Context, id string) (Delegation, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Delegation, error)
	ActiveForStep(ctx context.Context, instanceID string, step int) (Delegation, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, expect []Status, next Status) (Delegation, error)
	SupersedeActive(ctx context.Context, tx pgx.Tx, instanceID string, step int) (int64, error)
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// Directory is the personnel lookup the service depends on.
type Directory interface {
	GetActor(ctx context.Context, id string) (directory.Actor, error)
	ListEligible(ctx context.Context, setor ownership.SetorSlug) ([]directory.Actor, error)
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

// Service manages stage delegations: granting, resolving, revoking and the
// deadline sweep.
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

type DelegateParams struct {
	InstanceID      string
	StepOrdinal     int
	DelegatorID     string
	DelegateID      string
	Deadline        time.Time
	TaskDescription string
	Notes           *string
}

// Delegate hands a stage to another colaborador. Any delegation already
// active for the stage is superseded (expired) in the same transaction, so
// the single-active invariant holds at every commit point.
func (s *Service) Delegate(ctx context.Context, params DelegateParams) (Delegation, error) {
	if params.InstanceID == "" || params.DelegatorID == "" || params.DelegateID == "" {
		return Delegation{}, fmt.Errorf("delegation: missing required ids")
	}
	if params.DelegatorID == params.DelegateID {
		return Delegation{}, ErrSelfDelegation
	}
	if len(strings.TrimSpace(params.TaskDescription)) < minDescriptionLen {
		return Delegation{}, ErrShortDescription
	}
	if !params.Deadline.After(s.now()) {
		return Delegation{}, ErrInvalidDeadline
	}

	st, err := s.repo.InstanceState(ctx, params.InstanceID)
	if err != nil {
		return Delegation{}, err
	}
	if st.Terminal {
		return Delegation{}, ErrInstanceClosed
	}

	owner, ok := s.rules.StepOwner(st.TypeCode, params.StepOrdinal)
	if !ok {
		return Delegation{}, ErrStageNotDelegable
	}

	delegator, err := s.directory.GetActor(ctx, params.DelegatorID)
	if err != nil {
		return Delegation{}, fmt.Errorf("delegation: delegator lookup: %w", err)
	}
	if err := s.authorizeDelegator(ctx, delegator, params.InstanceID, params.StepOrdinal, owner.Setor); err != nil {
		return Delegation{}, err
	}

	delegate, err := s.directory.GetActor(ctx, params.DelegateID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return Delegation{}, ErrIneligibleDelegate
		}
		return Delegation{}, fmt.Errorf("delegation: delegate lookup: %w", err)
	}
	if !delegate.Active || !s.eligibleForStage(st.TypeCode, params.StepOrdinal, owner.Setor, delegate.CargoSlug) {
		return Delegation{}, ErrIneligibleDelegate
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Delegation{}, fmt.Errorf("delegation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.SupersedeActive(ctx, tx, params.InstanceID, params.StepOrdinal); err != nil {
		return Delegation{}, err
	}

	created, err := s.repo.Insert(ctx, tx, Delegation{
		ID:              s.idGenerator(),
		InstanceID:      params.InstanceID,
		StepOrdinal:     params.StepOrdinal,
		DelegatorID:     params.DelegatorID,
		DelegateID:      params.DelegateID,
		Deadline:        params.Deadline,
		Status:          StatusPending,
		TaskDescription: strings.TrimSpace(params.TaskDescription),
		Notes:           params.Notes,
	})
	if err != nil {
		return Delegation{}, err
	}

	if s.timeline != nil {
		description := fmt.Sprintf("Etapa %d delegada para %s", params.StepOrdinal, delegate.FullName)
		payload := map[string]any{
			"etapa_ordem": params.StepOrdinal,
			"delegado_id": params.DelegateID,
			"prazo":       params.Deadline,
		}
		if err := s.timeline.Append(ctx, tx, params.InstanceID, &params.DelegatorID, timeline.ActivityStageDelegated, description, payload); err != nil {
			return Delegation{}, fmt.Errorf("delegation: append timeline: %w", err)
		}
	}

	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicStageDelegated, map[string]any{
			"os_id":       params.InstanceID,
			"etapa_ordem": params.StepOrdinal,
			"delegado_id": params.DelegateID,
		}); err != nil {
			return Delegation{}, fmt.Errorf("delegation: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Delegation{}, fmt.Errorf("delegation: commit tx: %w", err)
	}

	s.notifyDelegate(ctx, created, delegate)

	return created, nil
}

// Accept marks a pending delegation as accepted by its delegate.
func (s *Service) Accept(ctx context.Context, id, actorID string) (Delegation, error) {
	return s.resolve(ctx, id, actorID, []Status{StatusPending}, StatusAccepted)
}

// Complete marks an accepted delegation as done by its delegate.
func (s *Service) Complete(ctx context.Context, id, actorID string) (Delegation, error) {
	d, err := s.resolve(ctx, id, actorID, []Status{StatusAccepted}, StatusCompleted)
	if err != nil {
		return Delegation{}, err
	}
	return d, nil
}

func (s *Service) resolve(ctx context.Context, id, actorID string, expect []Status, next Status) (Delegation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Delegation{}, fmt.Errorf("delegation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Delegation{}, err
	}
	if current.DelegateID != actorID {
		return Delegation{}, ErrNotAllowed
	}
	if !current.Status.CanTransitionTo(next) {
		return Delegation{}, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, id, expect, next)
	if err != nil {
		return Delegation{}, err
	}

	if next == StatusCompleted && s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicDelegationCompleted, map[string]any{
			"os_id":        updated.InstanceID,
			"etapa_ordem":  updated.StepOrdinal,
			"delegacao_id": updated.ID,
			"delegado_id":  updated.DelegateID,
		}); err != nil {
			return Delegation{}, fmt.Errorf("delegation: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Delegation{}, fmt.Errorf("delegation: commit tx: %w", err)
	}
	return updated, nil
}

// Revoke expires the active delegation of a stage. Only the delegator, the
// owning sector's coordinator or an escalation role may revoke.
func (s *Service) Revoke(ctx context.Context, instanceID string, step int, actorID string) (Delegation, error) {
	active, err := s.repo.ActiveForStep(ctx, instanceID, step)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Delegation{}, ErrNoActiveDelegation
		}
		return Delegation{}, err
	}

	actor, err := s.directory.GetActor(ctx, actorID)
	if err != nil {
		return Delegation{}, fmt.Errorf("delegation: revoker lookup: %w", err)
	}

	st, err := s.repo.InstanceState(ctx, instanceID)
	if err != nil {
		return Delegation{}, err
	}
	owner, _ := s.rules.StepOwner(st.TypeCode, step)
	coordCargo, _ := ownership.CoordinatorCargo(owner.Setor)
	if actorID != active.DelegatorID && actor.CargoSlug != coordCargo && !ownership.IsEscalation(actor.CargoSlug) {
		return Delegation{}, ErrNotAllowed
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Delegation{}, fmt.Errorf("delegation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	revoked, err := s.repo.UpdateStatus(ctx, tx, active.ID, []Status{StatusPending, StatusAccepted}, StatusExpired)
	if err != nil {
		return Delegation{}, err
	}

	if s.timeline != nil {
		description := fmt.Sprintf("Delegação da etapa %d revogada", step)
		payload := map[string]any{
			"etapa_ordem":  step,
			"delegacao_id": revoked.ID,
		}
		if err := s.timeline.Append(ctx, tx, instanceID, &actorID, timeline.ActivityDelegationRevoked, description, payload); err != nil {
			return Delegation{}, fmt.Errorf("delegation: append timeline: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Delegation{}, fmt.Errorf("delegation: commit tx: %w", err)
	}
	return revoked, nil
}

// ListEligibleDelegates returns the active colaboradores a stage may be
// delegated to: the owning sector's people, plus the destination sector's
// when the stage hands off, so the receiving side can be briefed before the
// OS crosses over.
func (s *Service) ListEligibleDelegates(ctx context.Context, typeCode string, step int) ([]directory.Actor, error) {
	owner, ok := s.rules.StepOwner(typeCode, step)
	if !ok {
		return nil, ErrStageNotDelegable
	}
	out, err := s.directory.ListEligible(ctx, owner.Setor)
	if err != nil {
		return nil, err
	}
	if handoff, ok := s.rules.HandoffBetween(typeCode, step, step+1); ok {
		incoming, err := s.directory.ListEligible(ctx, handoff.ToSetor)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool, len(out))
		for _, a := range out {
			seen[a.ID] = true
		}
		for _, a := range incoming {
			if !seen[a.ID] {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

// eligibleForStage reports whether a cargo may receive a delegation of the
// stage. Stages that hand off to another sector also admit the destination
// sector's cargos.
func (s *Service) eligibleForStage(typeCode string, step int, setor ownership.SetorSlug, cargo ownership.CargoSlug) bool {
	if ownership.CargoEligibleFor(cargo, setor) {
		return true
	}
	if handoff, ok := s.rules.HandoffBetween(typeCode, step, step+1); ok {
		return ownership.CargoEligibleFor(cargo, handoff.ToSetor)
	}
	return false
}

// ExpireOverdue expires every active delegation whose deadline has passed.
// The deadline is advisory: responsibility reverts to the default chain, no
// other state changes.
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireOverdue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("delegation: overdue sweep expired rows", zap.Int64("count", n))
	}
	return n, nil
}

func (s *Service) authorizeDelegator(ctx context.Context, delegator directory.Actor, instanceID string, step int, setor ownership.SetorSlug) error {
	if ownership.IsEscalation(delegator.CargoSlug) {
		return nil
	}
	coordCargo, ok := ownership.CoordinatorCargo(setor)
	if ok && delegator.CargoSlug == coordCargo {
		return nil
	}
	// The active delegate may re-delegate by superseding their own grant.
	active, err := s.repo.ActiveForStep(ctx, instanceID, step)
	if err == nil && active.DelegateID == delegator.ID {
		return nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return ErrNotAllowed
}

// notifyDelegate runs after commit; failures are logged, never returned.
func (s *Service) notifyDelegate(ctx context.Context, d Delegation, delegate directory.Actor) {
	if s.notifier == nil {
		return
	}
	_, err := s.notifier.Send(ctx, notification.SendParams{
		RecipientID: delegate.ID,
		Title:       fmt.Sprintf("Etapa %d delegada para você", d.StepOrdinal),
		Body:        d.TaskDescription,
		DeepLink:    "/os/" + d.InstanceID,
		Type:        notification.TypeTask,
	})
	if err != nil {
		s.logger.Warn("delegation: delegate notification failed",
			zap.String("delegacao_id", d.ID),
			zap.String("delegado_id", delegate.ID),
			zap.Error(err))
	}
}
