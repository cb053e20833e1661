package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"osflow/directory"
	"osflow/notification"
	"osflow/ownership"
)

var adminToObras = ownership.HandoffPoint{
	FromStep:  4,
	ToStep:    5,
	FromSetor: ownership.SetorAdministrativo,
	ToSetor:   ownership.SetorObras,
	ToCargo:   ownership.CargoCoordObras,
}

func TestExecute_Success(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{
		snapshot: instanceSnapshot{
			ID:          "os-1",
			Code:        "OS-2026-0001",
			TypeCode:    "OS-02",
			CurrentStep: 4,
			Setor:       ownership.SetorAdministrativo,
			Status:      "em_andamento",
		},
	}
	tl := &fakeTimeline{}
	ob := &fakeOutbox{}
	dir := &fakeDirectory{coordinator: directory.Actor{ID: "coord-obras", FullName: "Coordenador Obras"}}
	notifier := &fakeNotifier{}
	svc := NewService(pool, store, tl, ob, dir, notifier, nil)

	result, err := svc.Execute(context.Background(), ExecuteParams{
		InstanceID:   "os-1",
		ExecutedByID: "actor-1",
		Handoff:      adminToObras,
	})
	if err != nil {
		t.Fatalf("execute: unexpected error: %v", err)
	}

	if !pool.tx.committed {
		t.Error("expected commit")
	}
	if store.inserted == nil {
		t.Fatal("expected record insert")
	}
	if store.inserted.FromStep != 4 || store.inserted.ToSetor != ownership.SetorObras {
		t.Fatalf("unexpected record: %+v", store.inserted)
	}
	if !store.moved {
		t.Error("expected instance move")
	}
	if !store.rolled {
		t.Error("expected stage roll")
	}
	if len(tl.appends) != 1 || tl.appends[0] != "transferencia_setor" {
		t.Fatalf("unexpected timeline appends: %v", tl.appends)
	}
	if len(ob.topics) != 1 || ob.topics[0] != "os.sector_transferred" {
		t.Fatalf("unexpected outbox topics: %v", ob.topics)
	}
	if result.NewStep != 5 || result.NewSetor != ownership.SetorObras {
		t.Fatalf("unexpected result: %+v", result)
	}
	if notifier.sent == nil || notifier.sent.RecipientID != "coord-obras" {
		t.Fatalf("expected coordinator notification, got %+v", notifier.sent)
	}
	if notifier.sent.DeepLink != "/os/os-1" {
		t.Fatalf("unexpected deep link %q", notifier.sent.DeepLink)
	}
	if store.notifiedCoord != "coord-obras" {
		t.Fatalf("expected MarkNotified with coordinator, got %q", store.notifiedCoord)
	}
}

func TestExecute_StaleStep(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{
		snapshot: instanceSnapshot{ID: "os-1", CurrentStep: 5, Status: "em_andamento"},
	}
	svc := NewService(pool, store, nil, nil, nil, nil, nil)

	_, err := svc.Execute(context.Background(), ExecuteParams{
		InstanceID:   "os-1",
		ExecutedByID: "actor-1",
		Handoff:      adminToObras,
	})
	if !errors.Is(err, ErrStaleHandoff) {
		t.Fatalf("expected ErrStaleHandoff, got %v", err)
	}
	if store.inserted != nil {
		t.Error("expected no record insert on stale handoff")
	}
	if pool.tx.committed {
		t.Error("expected no commit")
	}
	if !pool.tx.rolled {
		t.Error("expected rollback")
	}
}

func TestExecute_ClosedInstance(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{
		snapshot: instanceSnapshot{ID: "os-1", CurrentStep: 4, Status: "concluida"},
	}
	svc := NewService(pool, store, nil, nil, nil, nil, nil)

	_, err := svc.Execute(context.Background(), ExecuteParams{
		InstanceID:   "os-1",
		ExecutedByID: "actor-1",
		Handoff:      adminToObras,
	})
	if !errors.Is(err, ErrInstanceClosed) {
		t.Fatalf("expected ErrInstanceClosed, got %v", err)
	}
}

func TestExecute_MalformedHandoff(t *testing.T) {
	svc := NewService(&fakePool{}, &fakeStore{}, nil, nil, nil, nil, nil)

	_, err := svc.Execute(context.Background(), ExecuteParams{
		InstanceID:   "os-1",
		ExecutedByID: "actor-1",
		Handoff: ownership.HandoffPoint{
			FromStep:  4,
			ToStep:    5,
			FromSetor: ownership.SetorObras,
			ToSetor:   ownership.SetorObras,
		},
	})
	if err == nil {
		t.Fatal("expected error for same-sector handoff")
	}
}

func TestExecute_NotificationFailureIsSwallowed(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{
		snapshot: instanceSnapshot{
			ID:          "os-1",
			CurrentStep: 4,
			Setor:       ownership.SetorAdministrativo,
			Status:      "em_andamento",
		},
	}
	dir := &fakeDirectory{coordinator: directory.Actor{ID: "coord-obras"}}
	notifier := &fakeNotifier{err: errors.New("smtp down")}
	svc := NewService(pool, store, &fakeTimeline{}, &fakeOutbox{}, dir, notifier, nil)

	_, err := svc.Execute(context.Background(), ExecuteParams{
		InstanceID:   "os-1",
		ExecutedByID: "actor-1",
		Handoff:      adminToObras,
	})
	if err != nil {
		t.Fatalf("expected nil error despite notification failure, got %v", err)
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
	if store.notifiedCoord != "" {
		t.Error("expected MarkNotified to be skipped when notification fails")
	}
}

func TestExecute_CoordinatorLookupFailureIsSwallowed(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{
		snapshot: instanceSnapshot{
			ID:          "os-1",
			CurrentStep: 4,
			Setor:       ownership.SetorAdministrativo,
			Status:      "em_andamento",
		},
	}
	dir := &fakeDirectory{err: directory.ErrNotFound}
	notifier := &fakeNotifier{}
	svc := NewService(pool, store, &fakeTimeline{}, &fakeOutbox{}, dir, notifier, nil)

	_, err := svc.Execute(context.Background(), ExecuteParams{
		InstanceID:   "os-1",
		ExecutedByID: "actor-1",
		Handoff:      adminToObras,
	})
	if err != nil {
		t.Fatalf("expected nil error despite lookup failure, got %v", err)
	}
	if notifier.sent != nil {
		t.Error("expected no notification when coordinator lookup fails")
	}
}

type fakeStore struct {
	snapshot      instanceSnapshot
	lockErr       error
	inserted      *Record
	moved         bool
	moveErr       error
	rolled        bool
	notifiedCoord string
	markErr       error
}

func (f *fakeStore) LockInstance(ctx context.Context, tx pgx.Tx, instanceID string) (instanceSnapshot, error) {
	return f.snapshot, f.lockErr
}

func (f *fakeStore) Insert(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	rec.CreatedAt = time.Now()
	f.inserted = &rec
	return rec, nil
}

func (f *fakeStore) MoveInstance(ctx context.Context, tx pgx.Tx, instanceID string, fromStep, toStep int, toSetor ownership.SetorSlug) error {
	if f.moveErr != nil {
		return f.moveErr
	}
	f.moved = true
	return nil
}

func (f *fakeStore) RollStages(ctx context.Context, tx pgx.Tx, instanceID string, fromStep, toStep int) error {
	f.rolled = true
	return nil
}

func (f *fakeStore) MarkNotified(ctx context.Context, recordID, coordinatorID string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.notifiedCoord = coordinatorID
	return nil
}

type fakeTimeline struct {
	appends []string
}

func (f *fakeTimeline) Append(ctx context.Context, tx pgx.Tx, instanceID string, actorID *string, activityType, description string, payload map[string]any) error {
	f.appends = append(f.appends, activityType)
	return nil
}

type fakeOutbox struct {
	topics []string
}

func (f *fakeOutbox) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	f.topics = append(f.topics, topic)
	return nil
}

type fakeDirectory struct {
	coordinator directory.Actor
	err         error
}

func (f *fakeDirectory) Coordinator(ctx context.Context, setor ownership.SetorSlug) (directory.Actor, error) {
	if f.err != nil {
		return directory.Actor{}, f.err
	}
	return f.coordinator, nil
}

type fakeNotifier struct {
	sent *notification.SendParams
	err  error
}

func (f *fakeNotifier) Send(ctx context.Context, params notification.SendParams) (notification.Notification, error) {
	if f.err != nil {
		return notification.Notification{}, f.err
	}
	f.sent = &params
	return notification.Notification{ID: "n-1", RecipientID: params.RecipientID}, nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
