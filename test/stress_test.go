package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"osflow/test/actors"
	"osflow/test/chaos"
	"osflow/test/infra"
	"osflow/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func seedRNG(seed int64) { rand.Seed(seed) }

func TestHandoffConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	seedRNG(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("OSFLOW_STRESS_PG_DSN") != "":
		dsn = os.Getenv("OSFLOW_STRESS_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	seedData := mustSeed(t, ctx, pool)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	// transferrers battling over the administrativo -> obras handoff of one OS
	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error {
			return actors.Transferrer(ctx2, pool, seedData.handoffOS, seedData.coordAdm, 4, stop)
		})
	}
	// advancers racing CAS step bumps on a second OS
	for i := 0; i < *flConcurrency/2; i++ {
		g.Go(func() error { return actors.Advancer(ctx2, pool, seedData.advanceOS, 12, stop) })
	}
	// delegators fighting for the single active delegation slot
	for i := 0; i < *flConcurrency/2; i++ {
		g.Go(func() error {
			return actors.Delegator(ctx2, pool, seedData.advanceOS, 2, seedData.coordAdm, seedData.operAdm, stop)
		})
	}
	// approval cycles on the proposta stage
	g.Go(func() error {
		return actors.Approver(ctx2, pool, seedData.approvalOS, 9, seedData.operAdm, seedData.coordAdm, stop)
	})
	// activity feed writer
	g.Go(func() error { return actors.Scribe(ctx2, pool, seedData.handoffOS, seedData.coordAdm, stop) })
	// outbox producer and consumer
	g.Go(func() error { return actors.Notifier(ctx2, pool, seedData.handoffOS, stop) })
	g.Go(func() error { return actors.OutboxWorker(ctx2, pool, stop) })
	// chaos: kill random backend
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type seedIDs struct {
	coordAdm   string
	coordObras string
	operAdm    string
	handoffOS  string
	advanceOS  string
	approvalOS string
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool) seedIDs {
	t.Helper()
	var s seedIDs
	suffix := rand.Int63()
	colaborador := func(cargo, setor string) string {
		var id string
		err := pool.QueryRow(ctx, `INSERT INTO colaboradores (email, full_name, cargo_slug, setor_slug)
                                    VALUES ($1,$2,$3,$4) RETURNING id`,
			fmt.Sprintf("%s-%d@example.com", cargo, suffix), "Stress "+cargo, cargo, setor).Scan(&id)
		if err != nil {
			t.Fatalf("seed colaborador %s: %v", cargo, err)
		}
		return id
	}
	s.coordAdm = colaborador("coord_administrativo", "administrativo")
	s.coordObras = colaborador("coord_obras", "obras")
	s.operAdm = colaborador("operacional_admin", "administrativo")

	ordem := func(code string, step int, setor string) string {
		var id string
		err := pool.QueryRow(ctx, `INSERT INTO ordens_servico (codigo_os, tipo_os, etapa_atual_ordem, setor_atual, status, criado_por_id)
                                    VALUES ($1,'OS-01',$2,$3,'em_andamento',$4) RETURNING id`,
			code, step, setor, s.coordAdm).Scan(&id)
		if err != nil {
			t.Fatalf("seed ordem %s: %v", code, err)
		}
		for ordinal := 1; ordinal <= 15; ordinal++ {
			status := "pendente"
			switch {
			case ordinal < step:
				status = "concluida"
			case ordinal == step:
				status = "em_andamento"
			}
			if _, err := pool.Exec(ctx, `INSERT INTO os_etapas (os_id, ordem, nome, status) VALUES ($1,$2,$3,$4)`,
				id, ordinal, fmt.Sprintf("Etapa %d", ordinal), status); err != nil {
				t.Fatalf("seed etapa %d of %s: %v", ordinal, code, err)
			}
		}
		return id
	}
	s.handoffOS = ordem(fmt.Sprintf("OS-2026-H%d", suffix%100000), 4, "administrativo")
	s.advanceOS = ordem(fmt.Sprintf("OS-2026-A%d", suffix%100000), 2, "administrativo")
	s.approvalOS = ordem(fmt.Sprintf("OS-2026-P%d", suffix%100000), 9, "administrativo")
	return s
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"ordens_servico", `SELECT id, codigo_os, etapa_atual_ordem, setor_atual, status FROM ordens_servico ORDER BY updated_at DESC LIMIT 20`},
		{"os_transferencias", `SELECT id, os_id, etapa_origem, etapa_destino, created_at FROM os_transferencias ORDER BY created_at DESC LIMIT 50`},
		{"delegacoes", `SELECT id, os_id, etapa_ordem, status, updated_at FROM delegacoes ORDER BY updated_at DESC LIMIT 50`},
		{"os_aprovacoes", `SELECT id, os_id, etapa_ordem, status, decidido_em FROM os_aprovacoes ORDER BY solicitado_em DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
