package postgres

/*
Файл run_repo.go хранит записи прогонов массовой переоценки.
Два критичных для конкурентности приема:
  - счетчики двигаются аддитивным UPDATE (processed = processed + $n) — никакого
    read-modify-write, конкурентные батчи одного прогона не теряют инкременты;
  - смены статуса защищены условием WHERE status = ... (как Double Decision guard
    в approvals): из двух гонящихся операторов выигрывает ровно один.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/media-policy-plane/internal/domain"
)

type RunRepo struct {
	pool *pgxpool.Pool
}

func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

func (r *RunRepo) CreateRun(ctx context.Context, run *domain.EvaluationRun) error {
	query := `
		INSERT INTO evaluation_runs
			(id, status, target_policy_id, target_policy_version,
			 total_ready_snapshot, snapshot_cutoff,
			 processed, eligible, ineligible, pending, errors,
			 error_sample, cursor, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0, 0, 0, 0, '[]'::jsonb, '', $7)`

	_, err := r.pool.Exec(ctx, query,
		run.ID, run.Status, run.TargetPolicyID, run.TargetPolicyVersion,
		run.TotalReadySnapshot, run.SnapshotCutoff, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create run: %w", err)
	}
	return nil
}

func (r *RunRepo) GetRunByID(ctx context.Context, id string) (*domain.EvaluationRun, error) {
	query := `
		SELECT id, status, target_policy_id, target_policy_version,
		       total_ready_snapshot, snapshot_cutoff,
		       processed, eligible, ineligible, pending, errors,
		       error_sample, cursor, started_at, finished_at, promoted_at, promoted_by
		FROM evaluation_runs
		WHERE id = $1`

	run := &domain.EvaluationRun{}
	var sample []byte
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.Status, &run.TargetPolicyID, &run.TargetPolicyVersion,
		&run.TotalReadySnapshot, &run.SnapshotCutoff,
		&run.Processed, &run.Eligible, &run.Ineligible, &run.Pending, &run.Errors,
		&sample, &run.Cursor, &run.StartedAt, &run.FinishedAt, &run.PromotedAt, &run.PromotedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: failed to fetch run: %w", err)
	}

	run.ErrorSample = make([]domain.ErrorEntry, 0)
	if len(sample) > 0 {
		if err := json.Unmarshal(sample, &run.ErrorSample); err != nil {
			return nil, fmt.Errorf("postgres: corrupt error_sample on run %s: %w", id, err)
		}
	}
	return run, nil
}

// IncrementCounters — аддитивное применение дельты прогресса.
// Атомарность на уровне одного UPDATE; условие status = 'RUNNING' реализует
// решение «принимать и игнорировать» опоздавшие инкременты: после отмены
// прогона дельты воркера тихо уходят в ноль затронутых строк.
func (r *RunRepo) IncrementCounters(ctx context.Context, id string, d domain.CounterDelta) error {
	query := `
		UPDATE evaluation_runs
		SET processed  = processed  + $1,
		    eligible   = eligible   + $2,
		    ineligible = ineligible + $3,
		    pending    = pending    + $4,
		    errors     = errors     + $5
		WHERE id = $6 AND status = 'RUNNING'`

	_, err := r.pool.Exec(ctx, query, d.Processed, d.Eligible, d.Ineligible, d.Pending, d.Errors, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to increment counters: %w", err)
	}
	return nil
}

// AppendError инкрементирует errors и кладет запись в голову сэмпла,
// срезая хвост за пределами ёмкости. Все одним UPDATE: jsonb-конкатенация
// плюс jsonb_path_query_array с окном '$[0 to 9]' дают prepend-and-trim
// без чтения строки в приложение.
func (r *RunRepo) AppendError(ctx context.Context, id string, entry domain.ErrorEntry) error {
	payload, err := json.Marshal([]domain.ErrorEntry{entry})
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal error entry: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE evaluation_runs
		SET errors = errors + 1,
		    error_sample = jsonb_path_query_array(
		        $1::jsonb || COALESCE(error_sample, '[]'::jsonb),
		        '$[0 to %d]')
		WHERE id = $2 AND status = 'RUNNING'`, domain.ErrorSampleCapacity-1)

	_, err = r.pool.Exec(ctx, query, payload, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to append error sample: %w", err)
	}
	return nil
}

// SetCursor фиксирует позицию воркера в каталоге после каждого батча.
// Именно эта запись делает прогон возобновляемым после рестарта воркера.
func (r *RunRepo) SetCursor(ctx context.Context, id string, cursor string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE evaluation_runs SET cursor = $1 WHERE id = $2 AND status = 'RUNNING'`,
		cursor, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to persist cursor: %w", err)
	}
	return nil
}

// MarkPrepared — единственное ребро, которое проходит воркер: RUNNING → PREPARED.
// finished_at проставляется ровно один раз, на этом переходе.
func (r *RunRepo) MarkPrepared(ctx context.Context, id string) (bool, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE evaluation_runs
		SET status = 'PREPARED', finished_at = NOW()
		WHERE id = $1 AND status = 'RUNNING'`, id)
	if err != nil {
		return false, fmt.Errorf("postgres: failed to mark run prepared: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// MarkPromoted — операторское ребро PREPARED → PROMOTED.
// Повторный promote не находит строку в PREPARED и возвращает false —
// двойная активация исключена на уровне условия UPDATE.
func (r *RunRepo) MarkPromoted(ctx context.Context, id string, promotedBy string) (bool, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE evaluation_runs
		SET status = 'PROMOTED', promoted_at = NOW(), promoted_by = $2
		WHERE id = $1 AND status = 'PREPARED'`, id, promotedBy)
	if err != nil {
		return false, fmt.Errorf("postgres: failed to mark run promoted: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// MarkCancelled закрывает прогон из RUNNING или PREPARED.
// COALESCE бережет finished_at, уже выставленный переходом в PREPARED.
func (r *RunRepo) MarkCancelled(ctx context.Context, id string) (bool, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE evaluation_runs
		SET status = 'CANCELLED', finished_at = COALESCE(finished_at, NOW())
		WHERE id = $1 AND status IN ('RUNNING', 'PREPARED')`, id)
	if err != nil {
		return false, fmt.Errorf("postgres: failed to mark run cancelled: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
