package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant checks run periodically against the database
// while the actors hammer it. Every query must return zero rows.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_delegacao_ativa_unica",
			SQL: `SELECT os_id, etapa_ordem, COUNT(*) FROM delegacoes
                  WHERE status IN ('pendente','aceita')
                  GROUP BY os_id, etapa_ordem HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_transferencia_unica_por_etapa",
			SQL: `SELECT os_id, etapa_origem, COUNT(*) FROM os_transferencias
                  GROUP BY os_id, etapa_origem HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_etapa_nunca_regride",
			SQL: `SELECT o.id, o.etapa_atual_ordem FROM ordens_servico o
                  WHERE o.etapa_atual_ordem <
                        (SELECT COALESCE(MAX(t.etapa_destino), 1) FROM os_transferencias t WHERE t.os_id = o.id)`,
		},
		{
			Name: "O4_transferencia_contigua",
			SQL: `SELECT id FROM os_transferencias
                  WHERE etapa_destino <> etapa_origem + 1 OR setor_origem = setor_destino`,
		},
		{
			Name: "O5_aprovacao_decisao_integra",
			SQL: `SELECT id FROM os_aprovacoes
                  WHERE (status = 'solicitada' AND (decidido_por_id IS NOT NULL OR decidido_em IS NOT NULL))
                     OR (status IN ('aprovada','rejeitada') AND (decidido_por_id IS NULL OR decidido_em IS NULL))
                     OR (status = 'rejeitada' AND motivo_rejeicao IS NULL)`,
		},
		{
			Name: "O6_sem_auto_delegacao",
			SQL:  `SELECT id FROM delegacoes WHERE delegante_id = delegado_id`,
		},
		{
			Name: "O7_etapa_atual_semeada",
			SQL: `SELECT o.id FROM ordens_servico o
                  LEFT JOIN os_etapas e ON e.os_id = o.id AND e.ordem = o.etapa_atual_ordem
                  WHERE e.id IS NULL`,
		},
		{
			Name: "O8_outbox_sem_estagnacao",
			SQL: `SELECT id FROM outbox
                  WHERE status NOT IN ('processed','dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample
// row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
