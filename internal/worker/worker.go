package worker

/*
Файл worker.go — конвейер массовой переоценки каталога.

Контур одного задания:
  очередь → загрузка прогона и политики → батчи каталога от курсора →
  оценка элементов пулом горутин → upsert результатов → аддитивная дельта
  счетчиков → фиксация курсора → ... → RUNNING→PREPARED.

Устойчивость:
  - пер-элементная ошибка оценки считается и сэмплируется, но прогон живет;
  - курсор пишется после каждого батча — рестарт воркера продолжает с места;
  - отказ хранилища фатален для задания (без ретраев на этом слое), прогон
    остается RUNNING до внешнего повтора или отмены оператором.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/media-policy-plane/internal/activation"
	"github.com/xela07ax/media-policy-plane/internal/domain"
	"github.com/xela07ax/media-policy-plane/internal/evaluator"
	"github.com/xela07ax/media-policy-plane/internal/infra"
	"github.com/xela07ax/media-policy-plane/internal/queue"
	"go.uber.org/zap"
)

// RunStore — воркеру от прогонов нужны чтение, курсор и единственное ребро RUNNING→PREPARED
type RunStore interface {
	GetRunByID(ctx context.Context, id string) (*domain.EvaluationRun, error)
	SetCursor(ctx context.Context, id string, cursor string) error
	MarkPrepared(ctx context.Context, id string) (bool, error)
}

// ProgressRecorder — ingestion-фасад ActivationService
type ProgressRecorder interface {
	IncrementCounters(ctx context.Context, runID string, d domain.CounterDelta) error
	RecordError(ctx context.Context, runID string, entry domain.ErrorEntry) error
}

// EvaluationStore — приемник результатов оценки
type EvaluationStore interface {
	UpsertBatch(ctx context.Context, evals []domain.MediaCatalogEvaluation) error
}

// Catalog — источник замороженной вселенной прогона
type Catalog interface {
	ListBatchAfter(ctx context.Context, cursor string, cutoff time.Time, limit int) ([]domain.MediaItem, error)
}

// PolicyStore — воркеру нужен только config политики-кандидата
type PolicyStore interface {
	GetPolicyByID(ctx context.Context, id string) (*domain.Policy, error)
}

type BulkEvaluator struct {
	runs     RunStore
	progress ProgressRecorder
	evals    EvaluationStore
	catalog  Catalog
	policies PolicyStore
	eval     evaluator.Evaluator
	jobs     *queue.Queue
	rdb      *redis.Client
	metrics  *Metrics
	logger   *zap.Logger

	batchSize   int
	concurrency int
}

func NewBulkEvaluator(
	runs RunStore,
	progress ProgressRecorder,
	evals EvaluationStore,
	catalog Catalog,
	policies PolicyStore,
	eval evaluator.Evaluator,
	jobs *queue.Queue,
	rdb *redis.Client,
	metrics *Metrics,
	cfg infra.WorkerConfig,
	logger *zap.Logger,
) *BulkEvaluator {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BulkEvaluator{
		runs:        runs,
		progress:    progress,
		evals:       evals,
		catalog:     catalog,
		policies:    policies,
		eval:        eval,
		jobs:        jobs,
		rdb:         rdb,
		metrics:     metrics,
		logger:      logger.Named("evalworker"),
		batchSize:   batchSize,
		concurrency: concurrency,
	}
}

// Start блокируется на вычитке очереди до отмены контекста.
func (w *BulkEvaluator) Start(ctx context.Context) {
	w.jobs.Consume(ctx, activation.JobReevaluateAll, w.handleJob)
}

func (w *BulkEvaluator) handleJob(ctx context.Context, job *queue.Job) error {
	var payload activation.JobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("worker: malformed job payload: %w", err)
	}
	return w.ProcessRun(ctx, payload.RunID)
}

// ProcessRun прогоняет весь прогон от текущего курсора до PREPARED.
// Повторный вызов для уже завершенного прогона — no-op (перезапуск очереди
// после рестарта не должен портить терминальные состояния).
func (w *BulkEvaluator) ProcessRun(ctx context.Context, runID string) error {
	run, err := w.runs.GetRunByID(ctx, runID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			w.logger.Warn("job references unknown run, skipping", zap.String("run_id", runID))
			return nil
		}
		return err
	}
	if run.Status != domain.RunRunning {
		w.logger.Info("run is not running, skipping job",
			zap.String("run_id", runID),
			zap.String("status", string(run.Status)))
		return nil
	}

	pol, err := w.policies.GetPolicyByID(ctx, run.TargetPolicyID)
	if err != nil {
		return fmt.Errorf("worker: failed to load target policy: %w", err)
	}

	w.logger.Info("bulk evaluation started",
		zap.String("run_id", run.ID),
		zap.Int("policy_version", run.TargetPolicyVersion),
		zap.Int64("total", run.TotalReadySnapshot),
		zap.String("cursor", run.Cursor))

	cursor := run.Cursor
	for {
		select {
		case <-ctx.Done():
			// Курсор уже зафиксирован за последним батчем — продолжим после рестарта
			return ctx.Err()
		default:
		}

		items, err := w.catalog.ListBatchAfter(ctx, cursor, run.SnapshotCutoff, w.batchSize)
		if err != nil {
			return fmt.Errorf("worker: failed to list catalog batch: %w", err)
		}
		if len(items) == 0 {
			break
		}

		if err := w.processBatch(ctx, run, pol.Config, items); err != nil {
			return err
		}

		cursor = items[len(items)-1].ID
		if err := w.runs.SetCursor(ctx, run.ID, cursor); err != nil {
			return fmt.Errorf("worker: failed to persist cursor: %w", err)
		}
	}

	ok, err := w.runs.MarkPrepared(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("worker: failed to mark run prepared: %w", err)
	}
	if !ok {
		// Оператор отменил прогон, пока мы дорабатывали хвост — это не сбой
		w.logger.Info("run left running state during evaluation", zap.String("run_id", run.ID))
		return nil
	}

	w.metrics.RunsCompleted.Inc()
	w.publishRunEvent(ctx, run.ID, domain.RunPrepared)
	w.logger.Info("bulk evaluation finished", zap.String("run_id", run.ID))
	return nil
}

// itemVerdict — результат оценки одного элемента внутри батча.
type itemVerdict struct {
	item domain.MediaItem
	res  evaluator.Result
	err  error
}

// processBatch оценивает батч пулом горутин, затем одним проходом собирает
// результаты: upsert строк, пер-элементные ошибки, одна аддитивная дельта.
func (w *BulkEvaluator) processBatch(ctx context.Context, run *domain.EvaluationRun, config json.RawMessage, items []domain.MediaItem) error {
	start := time.Now()

	verdicts := make([]itemVerdict, len(items))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for g := 0; g < w.concurrency; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res, err := w.eval.Evaluate(ctx, items[i], config)
				verdicts[i] = itemVerdict{item: items[i], res: res, err: err}
			}
		}()
	}
	for i := range items {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	evaluations := make([]domain.MediaCatalogEvaluation, 0, len(items))
	var delta domain.CounterDelta
	now := time.Now().UTC()

	for _, v := range verdicts {
		// processed считает попытки: и успешные, и сбойные.
		// Иначе прогон с ошибками никогда не доберется до полного coverage
		// и гейт ERRORS_EXCEEDED станет недостижим.
		delta.Processed++

		if v.err != nil {
			// Один плохой элемент не роняет прогон: счетчик + сэмпл, едем дальше.
			// errors двигает RecordError, в дельте его не дублируем.
			w.metrics.EvalErrors.Inc()
			if rerr := w.progress.RecordError(ctx, run.ID, domain.ErrorEntry{
				MediaItemID: v.item.ID,
				Error:       v.err.Error(),
				Timestamp:   now,
			}); rerr != nil {
				w.logger.Error("failed to record item error",
					zap.String("run_id", run.ID),
					zap.String("media_item_id", v.item.ID),
					zap.Error(rerr))
			}
			continue
		}

		switch v.res.Status {
		case domain.EvalEligible:
			delta.Eligible++
		case domain.EvalIneligible:
			delta.Ineligible++
		default:
			// PENDING и REVIEW ждут дальнейших действий — обе в pending-корзину
			delta.Pending++
		}
		w.metrics.ItemsEvaluated.WithLabelValues(string(v.res.Status)).Inc()

		evaluations = append(evaluations, domain.MediaCatalogEvaluation{
			MediaItemID:   v.item.ID,
			PolicyVersion: run.TargetPolicyVersion,
			Status:        v.res.Status,
			EvaluatedAt:   now,
			Details:       v.res.Reason,
		})
	}

	if err := w.evals.UpsertBatch(ctx, evaluations); err != nil {
		return fmt.Errorf("worker: failed to upsert evaluations: %w", err)
	}
	if err := w.progress.IncrementCounters(ctx, run.ID, delta); err != nil {
		return fmt.Errorf("worker: failed to increment counters: %w", err)
	}

	w.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	return nil
}

// publishRunEvent — best-effort сигнал дашбордам о смене статуса.
func (w *BulkEvaluator) publishRunEvent(ctx context.Context, runID string, status domain.RunStatus) {
	if w.rdb == nil {
		return
	}
	payload := fmt.Sprintf("%s:%s", runID, strings.ToLower(string(status)))
	if err := w.rdb.Publish(ctx, infra.RedisChanRunEvents, payload).Err(); err != nil {
		w.logger.Warn("run event signal failed", zap.String("run_id", runID), zap.Error(err))
	}
}
