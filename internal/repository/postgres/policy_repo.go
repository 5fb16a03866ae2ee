package postgres

/*
Файл policy_repo.go отвечает за хранение версионированных политик допуска.
Здесь же живет единственная операция, которой позволено трогать флаг is_active —
атомарный своп Activate. Бизнес-правил в репозитории нет: гейты промоушена
проверяет ActivationService, сюда приходит уже принятое решение.
*/

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/media-policy-plane/internal/domain"
)

type PolicyRepo struct {
	pool *pgxpool.Pool
}

func NewPolicyRepo(pool *pgxpool.Pool) *PolicyRepo {
	return &PolicyRepo{pool: pool}
}

func (r *PolicyRepo) GetPolicyByID(ctx context.Context, id string) (*domain.Policy, error) {
	query := `
		SELECT id, version, is_active, config, created_at, activated_at
		FROM policies
		WHERE id = $1`

	p := &domain.Policy{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Version,
		&p.IsActive,
		&p.Config,
		&p.CreatedAt,
		&p.ActivatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("policy %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: failed to fetch policy: %w", err)
	}
	return p, nil
}

// GetActivePolicy возвращает действующую политику ("from"-состояние для диффа).
// Благодаря инварианту единственной активной политики LIMIT 1 здесь не маскирует
// дубликаты, а лишь страхует план запроса.
func (r *PolicyRepo) GetActivePolicy(ctx context.Context) (*domain.Policy, error) {
	query := `
		SELECT id, version, is_active, config, created_at, activated_at
		FROM policies
		WHERE is_active = true
		LIMIT 1`

	p := &domain.Policy{}
	err := r.pool.QueryRow(ctx, query).Scan(
		&p.ID, &p.Version, &p.IsActive, &p.Config, &p.CreatedAt, &p.ActivatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("active policy: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: failed to fetch active policy: %w", err)
	}
	return p, nil
}

// ListPolicies отдает каталог политик для операторской консоли.
func (r *PolicyRepo) ListPolicies(ctx context.Context) ([]domain.Policy, error) {
	query := `
		SELECT id, version, is_active, config, created_at, activated_at
		FROM policies
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query policies: %w", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON ушел [] вместо null
	results := make([]domain.Policy, 0)
	for rows.Next() {
		var p domain.Policy
		if err := rows.Scan(&p.ID, &p.Version, &p.IsActive, &p.Config, &p.CreatedAt, &p.ActivatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan policy: %w", err)
		}
		results = append(results, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// Activate выполняет атомарный своп активной политики: снять флаг со всех,
// поставить одной — единой транзакцией. Ни одного наблюдаемого момента
// с нулем или двумя активными политиками не существует.
func (r *PolicyRepo) Activate(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin activation tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE policies SET is_active = false WHERE is_active = true AND id <> $1`, id); err != nil {
		return fmt.Errorf("postgres: failed to clear active flag: %w", err)
	}

	ct, err := tx.Exec(ctx, `
		UPDATE policies
		SET is_active = true, activated_at = COALESCE(activated_at, NOW())
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to set active flag: %w", err)
	}
	if ct.RowsAffected() == 0 {
		// Rollback через defer вернет прежнюю активную политику
		return fmt.Errorf("policy %s: %w", id, domain.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: failed to commit activation: %w", err)
	}
	return nil
}
