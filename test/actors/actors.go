package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Transferrer races the administrativo -> obras handoff of one OS. Every
// iteration locks the instance, and only when it still sits at fromStep
// inserts the transfer record and moves the instance. Under contention
// exactly one iteration per handoff step may win.
func Transferrer(ctx context.Context, pool *pgxpool.Pool, osID, executorID string, fromStep int, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var step int
		err = tx.QueryRow(ctx, `SELECT etapa_atual_ordem FROM ordens_servico WHERE id=$1 FOR UPDATE`, osID).Scan(&step)
		if err == nil && step == fromStep {
			_, err = tx.Exec(ctx, `INSERT INTO os_transferencias (os_id, etapa_origem, etapa_destino, setor_origem, setor_destino, realizado_por_id)
                                    VALUES ($1,$2,$3,'administrativo','obras',$4)`, osID, fromStep, fromStep+1, executorID)
			if err == nil {
				_, err = tx.Exec(ctx, `UPDATE ordens_servico SET etapa_atual_ordem=$2, setor_atual='obras', updated_at=now()
                                        WHERE id=$1 AND etapa_atual_ordem=$3`, osID, fromStep+1, fromStep)
			}
			if err == nil {
				_ = tx.Commit(ctx)
			} else {
				_ = tx.Rollback(ctx)
			}
		} else {
			_ = tx.Rollback(ctx)
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Advancer pushes one OS forward step by step with a CAS guard, never past
// maxStep. Lost races are retried on the next iteration.
func Advancer(ctx context.Context, pool *pgxpool.Pool, osID string, maxStep int, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var step int
		if err := pool.QueryRow(ctx, `SELECT etapa_atual_ordem FROM ordens_servico WHERE id=$1`, osID).Scan(&step); err == nil && step < maxStep {
			_, _ = pool.Exec(ctx, `UPDATE ordens_servico SET etapa_atual_ordem=$2, status='em_andamento', updated_at=now()
                                    WHERE id=$1 AND etapa_atual_ordem=$3 AND status IN ('triagem','em_andamento')`, osID, step+1, step)
		}
		time.Sleep(time.Duration(15+rand.Intn(25)) * time.Millisecond)
	}
}

// Delegator hammers the same (os, etapa) with competing delegations. The
// partial unique index admits at most one active row, so 23505 is the
// expected outcome of a lost race. Occasionally the active delegation is
// completed, opening the slot again.
func Delegator(ctx context.Context, pool *pgxpool.Pool, osID string, step int, deleganteID, delegadoID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `INSERT INTO delegacoes (os_id, etapa_ordem, delegante_id, delegado_id, prazo, status, descricao_tarefa)
                                   VALUES ($1,$2,$3,$4,now()+interval '2 days','pendente','Assumir etapa durante o teste de carga')`,
			osID, step, deleganteID, delegadoID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				// lost the race, expected
			} else {
				return fmt.Errorf("delegator insert: %w", err)
			}
		}
		if rand.Intn(4) == 0 {
			_, _ = pool.Exec(ctx, `UPDATE delegacoes SET status='concluida', updated_at=now()
                                    WHERE os_id=$1 AND etapa_ordem=$2 AND status IN ('pendente','aceita')`, osID, step)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Approver runs approval cycles on one stage: opens a request when none is
// pending, then decides it with a CAS on status='solicitada' so a request is
// decided at most once.
func Approver(ctx context.Context, pool *pgxpool.Pool, osID string, step int, solicitanteID, decididorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, _ = pool.Exec(ctx, `INSERT INTO os_aprovacoes (os_id, etapa_ordem, solicitado_por_id, justificativa)
                                SELECT $1, $2, $3, 'Ciclo de aprovação do teste de carga'
                                WHERE NOT EXISTS (
                                    SELECT 1 FROM os_aprovacoes WHERE os_id=$1 AND etapa_ordem=$2 AND status='solicitada')`,
			osID, step, solicitanteID)
		verdict := "aprovada"
		var motivo *string
		if rand.Intn(3) == 0 {
			verdict = "rejeitada"
			m := "Rejeitada pelo ciclo de carga"
			motivo = &m
		}
		_, _ = pool.Exec(ctx, `UPDATE os_aprovacoes SET status=$3, decidido_por_id=$4, motivo_rejeicao=$5, decidido_em=now()
                                WHERE os_id=$1 AND etapa_ordem=$2 AND status='solicitada'`,
			osID, step, verdict, decididorID, motivo)
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// Scribe appends timeline rows so the activity feed sees writes concurrent
// with everything else.
func Scribe(ctx context.Context, pool *pgxpool.Pool, osID, actorID string, stop <-chan struct{}) error {
	tipos := []string{"etapa_avancada", "transferencia_setor", "etapa_delegada"}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tipo := tipos[rand.Intn(len(tipos))]
		_, _ = pool.Exec(ctx, `INSERT INTO os_atividades (os_id, usuario_id, tipo_atividade, descricao) VALUES ($1,$2,$3,'stress')`,
			osID, actorID, tipo)
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks
// them processed, occasionally simulating a delivery failure.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1, last_attempt=now() WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed', last_attempt=now() WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}

// Notifier enqueues outbox messages so the worker always has contention.
func Notifier(ctx context.Context, pool *pgxpool.Pool, osID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, _ = pool.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ('os.sector_transferred', jsonb_build_object('os_id',$1::text))`, osID)
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}
