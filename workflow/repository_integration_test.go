package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"osflow/ownership"
)

// TestAdvanceStepGuards_Integration connects to a real PostgreSQL via
// DATABASE_URL and verifies how the compare-and-swap on etapa_atual_ordem
// classifies its zero-row outcomes.
func TestAdvanceStepGuards_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "colaboradores") || !tableExists(ctx, t, pool, "ordens_servico") {
		t.Skip("database schema missing; run migrations: migrate -path migrations -database \"$DATABASE_URL\" up")
	}

	suffix := time.Now().UnixNano()

	var creatorID string
	if err := pool.QueryRow(ctx, `INSERT INTO colaboradores (email, full_name, cargo_slug, setor_slug) VALUES ($1, $2, $3, $4) RETURNING id`,
		fmt.Sprintf("rafael+%d@example.com", suffix), "Rafael Criador", string(ownership.CargoCoordAdministrativo), string(ownership.SetorAdministrativo)).Scan(&creatorID); err != nil {
		t.Fatalf("seed creator: %v", err)
	}
	var osID string
	if err := pool.QueryRow(ctx, `
        INSERT INTO ordens_servico (codigo_os, tipo_os, etapa_atual_ordem, setor_atual, status, criado_por_id)
        VALUES ($1, 'OS-01', 2, $2, 'em_andamento', $3) RETURNING id
    `, fmt.Sprintf("OS-ITEST-ADV-%d", suffix), string(ownership.SetorAdministrativo), creatorID).Scan(&osID); err != nil {
		t.Fatalf("seed ordem de servico: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM ordens_servico WHERE id = $1`, osID)
		pool.Exec(ctx2, `DELETE FROM colaboradores WHERE id = $1`, creatorID)
	})

	repo := NewRepository(pool)

	advance := func(id string, fromStep, toStep int) (Instance, error) {
		tx, err := pool.Begin(ctx)
		if err != nil {
			t.Fatalf("begin tx: %v", err)
		}
		inst, err := repo.AdvanceStep(ctx, tx, id, fromStep, toStep)
		if err != nil {
			tx.Rollback(ctx)
			return Instance{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("commit tx: %v", err)
		}
		return inst, nil
	}

	// Wrong expected step: the row exists but the CAS token does not match.
	if _, err := advance(osID, 5, 6); !errors.Is(err, ErrStaleInstance) {
		t.Fatalf("expected ErrStaleInstance on wrong expected step, got %v", err)
	}

	// Unknown id.
	if _, err := advance(uuid.NewString(), 2, 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on unknown instance, got %v", err)
	}

	// Matching token moves the step.
	inst, err := advance(osID, 2, 3)
	if err != nil {
		t.Fatalf("advance step: %v", err)
	}
	if inst.CurrentStep != 3 || inst.Status != StatusInProgress {
		t.Fatalf("expected step 3 em_andamento, got step %d status %q", inst.CurrentStep, inst.Status)
	}
	var step int
	if err := pool.QueryRow(ctx, `SELECT etapa_atual_ordem FROM ordens_servico WHERE id = $1`, osID).Scan(&step); err != nil {
		t.Fatalf("verify step: %v", err)
	}
	if step != 3 {
		t.Fatalf("expected persisted step 3, got %d", step)
	}

	// Terminal instances reject further moves even with a matching token.
	if _, err := pool.Exec(ctx, `UPDATE ordens_servico SET status = 'concluida' WHERE id = $1`, osID); err != nil {
		t.Fatalf("close instance: %v", err)
	}
	if _, err := advance(osID, 3, 4); !errors.Is(err, ErrInstanceClosed) {
		t.Fatalf("expected ErrInstanceClosed on terminal instance, got %v", err)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
