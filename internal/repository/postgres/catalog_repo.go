package postgres

/*
Файл catalog_repo.go — read-only окно в каталог медиа.
CRUD каталога живет в соседней подсистеме; конвейеру оценки нужны две операции:
заморозить вселенную прогона (счетчик на cutoff) и листать ее батчами.
*/

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/media-policy-plane/internal/domain"
)

type CatalogRepo struct {
	pool *pgxpool.Pool
}

func NewCatalogRepo(pool *pgxpool.Pool) *CatalogRepo {
	return &CatalogRepo{pool: pool}
}

// CountReadyItems фиксирует размер вселенной прогона на момент cutoff.
// Элементы, добавленные позже, в coverage не участвуют — иначе знаменатель
// дрейфует и прогон никогда не дойдет до 100%.
func (r *CatalogRepo) CountReadyItems(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM media_items WHERE is_ready = true AND created_at <= $1`,
		cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to count ready items: %w", err)
	}
	return count, nil
}

// ListBatchAfter — keyset-пагинация по id внутри замороженной вселенной.
// Курсор — последний обработанный id; OFFSET на миллионном каталоге не жилец.
func (r *CatalogRepo) ListBatchAfter(ctx context.Context, cursor string, cutoff time.Time, limit int) ([]domain.MediaItem, error) {
	query := `
		SELECT id, title, kind, trending_score, attributes, is_ready, created_at
		FROM media_items
		WHERE is_ready = true AND created_at <= $1 AND id > $2
		ORDER BY id
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, cutoff, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query catalog batch: %w", err)
	}
	defer rows.Close()

	items := make([]domain.MediaItem, 0, limit)
	for rows.Next() {
		var m domain.MediaItem
		if err := rows.Scan(&m.ID, &m.Title, &m.Kind, &m.TrendingScore, &m.Attributes, &m.IsReady, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan media item: %w", err)
		}
		items = append(items, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return items, nil
}
