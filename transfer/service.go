package transfer

import (
	"context"
	"fmt"
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

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the data access the executor needs.
type Store interface {
	LockInstance(ctx context.Context, tx pgx.Tx, instanceID string) (instanceSnapshot, error)
	Insert(ctx context.Context, tx pgx.Tx, rec Record) (Record, error)
	MoveInstance(ctx context.Context, tx pgx.Tx, instanceID string, fromStep, toStep int, toSetor ownership.SetorSlug) error
	RollStages(ctx context.Context, tx pgx.Tx, instanceID string, fromStep, toStep int) error
	MarkNotified(ctx context.Context, recordID, coordinatorID string) error
}

type TimelineWriter interface {
	Append(ctx context.Context, tx pgx.Tx, instanceID string, actorID *string, activityType, description string, payload map[string]any) error
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// CoordinatorFinder locates the coordinator of the destination sector.
type CoordinatorFinder interface {
	Coordinator(ctx context.Context, setor ownership.SetorSlug) (directory.Actor, error)
}

// Notifier delivers in-app notifications.
type Notifier interface {
	Send(ctx context.Context, params notification.SendParams) (notification.Notification, error)
}

// Service executes sector handoffs. Durable writes happen in one
// transaction; coordinator notification is best-effort after commit.
type Service struct {
	pool        TxBeginner
	repo        Store
	timeline    TimelineWriter
	outbox      OutboxWriter
	directory   CoordinatorFinder
	notifier    Notifier
	logger      *zap.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, repo Store, tl TimelineWriter, ob OutboxWriter, dir CoordinatorFinder, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		timeline:    tl,
		outbox:      ob,
		directory:   dir,
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

// Execute performs one handoff. The instance must still sit at the step the
// handoff departs from; a repeat invocation for the same handoff fails with
// ErrStaleHandoff and leaves exactly one record.
func (s *Service) Execute(ctx context.Context, params ExecuteParams) (Result, error) {
	if params.InstanceID == "" {
		return Result{}, fmt.Errorf("transfer: missing instance id")
	}
	if params.ExecutedByID == "" {
		return Result{}, fmt.Errorf("transfer: missing executor id")
	}
	h := params.Handoff
	if h.FromSetor == h.ToSetor || h.ToStep != h.FromStep+1 {
		return Result{}, fmt.Errorf("transfer: malformed handoff %d->%d", h.FromStep, h.ToStep)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("transfer: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	snap, err := s.repo.LockInstance(ctx, tx, params.InstanceID)
	if err != nil {
		return Result{}, err
	}
	if snap.terminal() {
		return Result{}, ErrInstanceClosed
	}
	if snap.CurrentStep != h.FromStep {
		return Result{}, ErrStaleHandoff
	}

	rec, err := s.repo.Insert(ctx, tx, Record{
		ID:           s.idGenerator(),
		InstanceID:   snap.ID,
		FromStep:     h.FromStep,
		ToStep:       h.ToStep,
		FromSetor:    h.FromSetor,
		ToSetor:      h.ToSetor,
		ExecutedByID: params.ExecutedByID,
		Note:         params.Note,
	})
	if err != nil {
		return Result{}, err
	}

	if err := s.repo.MoveInstance(ctx, tx, snap.ID, h.FromStep, h.ToStep, h.ToSetor); err != nil {
		return Result{}, err
	}
	if err := s.repo.RollStages(ctx, tx, snap.ID, h.FromStep, h.ToStep); err != nil {
		return Result{}, err
	}

	if s.timeline != nil {
		description := fmt.Sprintf("OS transferida do setor %s para %s",
			ownership.SetorNomes[h.FromSetor], ownership.SetorNomes[h.ToSetor])
		payload := map[string]any{
			"etapa_origem":  h.FromStep,
			"etapa_destino": h.ToStep,
			"setor_origem":  h.FromSetor,
			"setor_destino": h.ToSetor,
		}
		if err := s.timeline.Append(ctx, tx, snap.ID, &params.ExecutedByID, timeline.ActivitySectorTransferred, description, payload); err != nil {
			return Result{}, fmt.Errorf("transfer: append timeline: %w", err)
		}
	}

	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicSectorTransferred, map[string]any{
			"os_id":         snap.ID,
			"codigo_os":     snap.Code,
			"setor_origem":  h.FromSetor,
			"setor_destino": h.ToSetor,
			"etapa_destino": h.ToStep,
		}); err != nil {
			return Result{}, fmt.Errorf("transfer: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("transfer: commit tx: %w", err)
	}

	s.notifyCoordinator(ctx, snap, rec, h)

	return Result{Record: rec, NewStep: h.ToStep, NewSetor: h.ToSetor}, nil
}

// notifyCoordinator runs after commit. Failures are logged, never returned:
// the handoff already happened.
func (s *Service) notifyCoordinator(ctx context.Context, snap instanceSnapshot, rec Record, h ownership.HandoffPoint) {
	if s.directory == nil || s.notifier == nil {
		return
	}

	coord, err := s.directory.Coordinator(ctx, h.ToSetor)
	if err != nil {
		s.logger.Warn("transfer: coordinator lookup failed",
			zap.String("os_id", snap.ID),
			zap.String("setor", string(h.ToSetor)),
			zap.Error(err))
		return
	}

	_, err = s.notifier.Send(ctx, notification.SendParams{
		RecipientID: coord.ID,
		Title:       fmt.Sprintf("OS %s transferida para seu setor", snap.Code),
		Body: fmt.Sprintf("A OS %s chegou ao setor %s na etapa %d e aguarda atuação.",
			snap.Code, ownership.SetorNomes[h.ToSetor], h.ToStep),
		DeepLink: "/os/" + snap.ID,
		Type:     notification.TypeAttention,
	})
	if err != nil {
		s.logger.Warn("transfer: coordinator notification failed",
			zap.String("os_id", snap.ID),
			zap.String("coordinator_id", coord.ID),
			zap.Error(err))
		return
	}

	if err := s.repo.MarkNotified(ctx, rec.ID, coord.ID); err != nil {
		s.logger.Warn("transfer: mark notified failed",
			zap.String("record_id", rec.ID),
			zap.Error(err))
	}
}
