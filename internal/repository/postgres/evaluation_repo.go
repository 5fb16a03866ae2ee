package postgres

/*
Файл evaluation_repo.go — субстрат результатов оценки: по строке на пару
(media_item_id, policy_version). Поверх версий таблица append-only,
внутри версии прогон перетирает свои же строки апсертом.
*/

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/media-policy-plane/internal/domain"
)

type EvaluationRepo struct {
	pool *pgxpool.Pool
}

func NewEvaluationRepo(pool *pgxpool.Pool) *EvaluationRepo {
	return &EvaluationRepo{pool: pool}
}

// UpsertBatch сохраняет пачку результатов одним запросом.
// Динамически строим плейсхолдеры (как пакетная вставка аудита):
// воркер шлет батчи по несколько сотен строк, и per-row INSERT убил бы базу.
func (r *EvaluationRepo) UpsertBatch(ctx context.Context, evals []domain.MediaCatalogEvaluation) error {
	if len(evals) == 0 {
		return nil
	}

	numFields := 5
	placeholderStr := ""
	vals := make([]interface{}, 0, len(evals)*numFields)

	for i, e := range evals {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d),", p+1, p+2, p+3, p+4, p+5)
		vals = append(vals, e.MediaItemID, e.PolicyVersion, e.Status, e.EvaluatedAt, e.Details)
	}

	query := fmt.Sprintf(`
		INSERT INTO media_catalog_evaluations
			(media_item_id, policy_version, status, evaluated_at, details)
		VALUES %s
		ON CONFLICT (media_item_id, policy_version)
		DO UPDATE SET status = EXCLUDED.status,
		              evaluated_at = EXCLUDED.evaluated_at,
		              details = EXCLUDED.details`,
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.pool.Exec(ctx, query, vals...)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert evaluations: %w", err)
	}
	return nil
}

// ListByPolicyVersion отдает все оценки версии, обогащенные данными каталога.
// Title и trending_score забираем джойном сразу: DiffService сортирует сэмплы
// по релевантности, второй поход за метаданными тут был бы N+1.
func (r *EvaluationRepo) ListByPolicyVersion(ctx context.Context, version int) ([]domain.EvaluationRecord, error) {
	query := `
		SELECT e.media_item_id, e.status, COALESCE(m.title, ''), COALESCE(m.trending_score, 0)
		FROM media_catalog_evaluations e
		LEFT JOIN media_items m ON m.id = e.media_item_id
		WHERE e.policy_version = $1`

	rows, err := r.pool.Query(ctx, query, version)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query evaluations: %w", err)
	}
	defer rows.Close()

	results := make([]domain.EvaluationRecord, 0)
	for rows.Next() {
		var rec domain.EvaluationRecord
		if err := rows.Scan(&rec.MediaItemID, &rec.Status, &rec.Title, &rec.TrendingScore); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan evaluation: %w", err)
		}
		results = append(results, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// CountByStatusAndPolicyVersion — агрегат для сверок и дашбордов.
func (r *EvaluationRepo) CountByStatusAndPolicyVersion(ctx context.Context, status domain.EvalStatus, version int) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM media_catalog_evaluations WHERE status = $1 AND policy_version = $2`,
		status, version).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to count evaluations: %w", err)
	}
	return count, nil
}
