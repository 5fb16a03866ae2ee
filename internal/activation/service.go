package activation

/*
Файл service.go — оркестратор жизненного цикла прогона активации:
prepare → (воркер наполняет) → promote / cancel.

Границы записи статуса жесткие: воркер владеет единственным ребром
RUNNING→PREPARED, сервис — ребрами PREPARED→PROMOTED и {RUNNING,PREPARED}→CANCELLED.
Сами переходы атомарны на уровне хранилища (условные UPDATE), сервис лишь
решает, можно ли их запускать.
*/

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/media-policy-plane/internal/audit"
	"github.com/xela07ax/media-policy-plane/internal/domain"
	"github.com/xela07ax/media-policy-plane/internal/infra"
	"github.com/xela07ax/media-policy-plane/internal/queue"
	"go.uber.org/zap"
)

// JobReevaluateAll — имя задания массовой переоценки в очереди.
const JobReevaluateAll = "re-evaluate-all"

// Коды причин, блокирующих промоушен
const (
	ReasonRunNotSuccess   = "RUN_NOT_SUCCESS"
	ReasonCoverageNotMet  = "COVERAGE_NOT_MET"
	ReasonErrorsExceeded  = "ERRORS_EXCEEDED"
	ReasonAlreadyPromoted = "ALREADY_PROMOTED"
)

// PolicyStore описывает требования сервиса к хранилищу политик
type PolicyStore interface {
	GetPolicyByID(ctx context.Context, id string) (*domain.Policy, error)
	GetActivePolicy(ctx context.Context) (*domain.Policy, error)
	Activate(ctx context.Context, id string) error
}

// RunStore описывает требования к хранилищу прогонов
type RunStore interface {
	CreateRun(ctx context.Context, run *domain.EvaluationRun) error
	GetRunByID(ctx context.Context, id string) (*domain.EvaluationRun, error)
	IncrementCounters(ctx context.Context, id string, d domain.CounterDelta) error
	AppendError(ctx context.Context, id string, entry domain.ErrorEntry) error
	MarkPromoted(ctx context.Context, id string, promotedBy string) (bool, error)
	MarkCancelled(ctx context.Context, id string) (bool, error)
}

// Catalog — замороженная вселенная прогона считается здесь
type Catalog interface {
	CountReadyItems(ctx context.Context, cutoff time.Time) (int64, error)
}

// JobQueue — примитив очереди (один prepare == ровно одно задание)
type JobQueue interface {
	Add(ctx context.Context, jobName string, payload any) (*queue.Job, error)
}

// JobPayload уезжает в очередь вместе с заданием переоценки.
type JobPayload struct {
	RunID               string    `json:"run_id"`
	TargetPolicyID      string    `json:"target_policy_id"`
	TargetPolicyVersion int       `json:"target_policy_version"`
	SnapshotCutoff      time.Time `json:"snapshot_cutoff"`
}

// PrepareResult — ответ на запуск прогона.
type PrepareResult struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CommandResult — тегированный результат операторской команды.
// Отказы promote/cancel — штатный, частый и информативный исход:
// их возвращаем значением, а не ошибкой, чтобы дашборд рендерил причину inline.
type CommandResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func failure(format string, args ...any) CommandResult {
	return CommandResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Progress — срез счетчиков в статусном ответе.
type Progress struct {
	Processed  int64 `json:"processed"`
	Total      int64 `json:"total"`
	Eligible   int64 `json:"eligible"`
	Ineligible int64 `json:"ineligible"`
	Pending    int64 `json:"pending"`
	Errors     int64 `json:"errors"`
}

// StatusReport — внешняя форма прогона для поллинга оператором.
type StatusReport struct {
	ID                  string             `json:"id"`
	Status              string             `json:"status"`
	TargetPolicyID      string             `json:"target_policy_id"`
	TargetPolicyVersion int                `json:"target_policy_version"`
	Progress            Progress           `json:"progress"`
	Coverage            float64            `json:"coverage"`
	ReadyToPromote      bool               `json:"ready_to_promote"`
	BlockingReasons     []string           `json:"blocking_reasons"`
	ErrorSample         []domain.ErrorEntry `json:"error_sample"`
	StartedAt           time.Time          `json:"started_at"`
	FinishedAt          *time.Time         `json:"finished_at,omitempty"`
	PromotedAt          *time.Time         `json:"promoted_at,omitempty"`
}

type Service struct {
	policies PolicyStore
	runs     RunStore
	catalog  Catalog
	jobs     JobQueue
	trail    audit.Recorder
	rdb      *redis.Client
	logger   *zap.Logger

	// Явный, именованный порог: сколько пер-элементных ошибок терпимо для промоушена
	errorBudget int64
}

func NewService(
	policies PolicyStore,
	runs RunStore,
	catalog Catalog,
	jobs JobQueue,
	trail audit.Recorder,
	rdb *redis.Client,
	cfg infra.ActivationConfig,
	logger *zap.Logger,
) *Service {
	return &Service{
		policies:    policies,
		runs:        runs,
		catalog:     catalog,
		jobs:        jobs,
		trail:       trail,
		rdb:         rdb,
		logger:      logger.Named("activation"),
		errorBudget: cfg.ErrorBudget,
	}
}

// Prepare создает прогон RUNNING и ставит ровно одно задание переоценки.
// Неизвестная политика — lookup-отказ (ErrNotFound → 404 в хендлере).
func (s *Service) Prepare(ctx context.Context, policyID, actor string) (*PrepareResult, error) {
	p, err := s.policies.GetPolicyByID(ctx, policyID)
	if err != nil {
		return nil, err
	}

	// Замораживаем вселенную прогона: cutoff + счетчик на этот момент.
	// Всё, что докатится в каталог позже, достанется следующему прогону.
	cutoff := time.Now().UTC()
	total, err := s.catalog.CountReadyItems(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("activation: failed to snapshot catalog: %w", err)
	}

	run := &domain.EvaluationRun{
		ID:                  uuid.New().String(),
		Status:              domain.RunRunning,
		TargetPolicyID:      p.ID,
		TargetPolicyVersion: p.Version,
		TotalReadySnapshot:  total,
		SnapshotCutoff:      cutoff,
		StartedAt:           time.Now().UTC(),
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("activation: failed to create run: %w", err)
	}

	job, err := s.jobs.Add(ctx, JobReevaluateAll, JobPayload{
		RunID:               run.ID,
		TargetPolicyID:      p.ID,
		TargetPolicyVersion: p.Version,
		SnapshotCutoff:      cutoff,
	})
	if err != nil {
		return nil, fmt.Errorf("activation: failed to enqueue evaluation job: %w", err)
	}

	s.logger.Info("evaluation run prepared",
		zap.String("run_id", run.ID),
		zap.String("policy_id", p.ID),
		zap.Int("policy_version", p.Version),
		zap.Int64("total_ready", total),
		zap.String("job_id", job.ID))

	s.trail.Record(audit.Event{
		ID: uuid.New().String(), Actor: actor, Action: audit.ActionPrepare,
		RunID: run.ID, PolicyID: p.ID, Success: true,
		Detail: fmt.Sprintf("run started over %d items", total),
	})

	return &PrepareResult{
		RunID:   run.ID,
		Status:  statusLabel(domain.RunRunning),
		Message: fmt.Sprintf("bulk evaluation of %d items against policy version %d started", total, p.Version),
	}, nil
}

// Status — read-only срез прогона: счетчики, coverage и готовность к промоушену.
// Безопасен под произвольным конкурентным поллингом, никаких блокировок.
func (s *Service) Status(ctx context.Context, runID string) (*StatusReport, error) {
	run, err := s.runs.GetRunByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	coverage := run.Coverage()
	reasons := s.blockingReasons(run, coverage)

	return &StatusReport{
		ID:                  run.ID,
		Status:              statusLabel(run.Status),
		TargetPolicyID:      run.TargetPolicyID,
		TargetPolicyVersion: run.TargetPolicyVersion,
		Progress: Progress{
			Processed:  run.Processed,
			Total:      run.TotalReadySnapshot,
			Eligible:   run.Eligible,
			Ineligible: run.Ineligible,
			Pending:    run.Pending,
			Errors:     run.Errors,
		},
		Coverage:        coverage,
		ReadyToPromote:  len(reasons) == 0,
		BlockingReasons: reasons,
		ErrorSample:     run.ErrorSample,
		StartedAt:       run.StartedAt,
		FinishedAt:      run.FinishedAt,
		PromotedAt:      run.PromotedAt,
	}, nil
}

// blockingReasons возвращает пустой срез только когда прогон готов к промоушену.
func (s *Service) blockingReasons(run *domain.EvaluationRun, coverage float64) []string {
	reasons := make([]string, 0, 2)

	switch {
	case run.Status == domain.RunPromoted:
		reasons = append(reasons, ReasonAlreadyPromoted)
	case run.Status != domain.RunPrepared:
		reasons = append(reasons, ReasonRunNotSuccess)
	}
	if coverage < 1 {
		reasons = append(reasons, ReasonCoverageNotMet)
	}
	if run.Errors > s.errorBudget {
		reasons = append(reasons, ReasonErrorsExceeded)
	}
	return reasons
}

// Promote активирует политику-кандидата под гейтами безопасности.
// Порядок важен: сначала атомарно выигрываем ребро PREPARED→PROMOTED
// (из двух конкурирующих promote пройдет один), и только потом — своп
// активной политики. Повторный вызов чисто откажет, двойной активации нет.
func (s *Service) Promote(ctx context.Context, runID, actor string) (CommandResult, error) {
	run, err := s.runs.GetRunByID(ctx, runID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.audited(actor, audit.ActionPromote, runID, "", failure("run %s not found", runID)), nil
		}
		return CommandResult{}, err
	}

	if run.Status != domain.RunPrepared {
		return s.audited(actor, audit.ActionPromote, runID, run.TargetPolicyID,
			failure("expected prepared, got %s", statusLabel(run.Status))), nil
	}

	if coverage := run.Coverage(); coverage < 1 {
		return s.audited(actor, audit.ActionPromote, runID, run.TargetPolicyID,
			failure("Coverage %.1f%% is below required 100%% (%d of %d items evaluated)",
				coverage*100, run.Processed, run.TotalReadySnapshot)), nil
	}
	if run.Errors > s.errorBudget {
		return s.audited(actor, audit.ActionPromote, runID, run.TargetPolicyID,
			failure("run recorded %d errors, budget is %d", run.Errors, s.errorBudget)), nil
	}

	ok, err := s.runs.MarkPromoted(ctx, runID, actor)
	if err != nil {
		return CommandResult{}, err
	}
	if !ok {
		// Кто-то успел раньше (второй promote или параллельный cancel)
		return s.audited(actor, audit.ActionPromote, runID, run.TargetPolicyID,
			failure("run state changed, promotion aborted")), nil
	}

	// Атомарный своп единственной активной политики — внутри хранилища
	if err := s.policies.Activate(ctx, run.TargetPolicyID); err != nil {
		return CommandResult{}, fmt.Errorf("activation: run promoted but policy activation failed: %w", err)
	}

	s.publishRunEvent(ctx, runID, domain.RunPromoted)
	s.logger.Info("policy promoted",
		zap.String("run_id", runID),
		zap.String("policy_id", run.TargetPolicyID),
		zap.Int("policy_version", run.TargetPolicyVersion),
		zap.String("actor", actor))

	return s.audited(actor, audit.ActionPromote, runID, run.TargetPolicyID, CommandResult{
		Success: true,
		Message: fmt.Sprintf("policy %s version %d is now active", run.TargetPolicyID, run.TargetPolicyVersion),
	}), nil
}

// Cancel закрывает прогон из RUNNING или PREPARED.
// Воркера команда не останавливает — его опоздавшие инкременты примутся
// и проигнорируются на уровне хранилища.
func (s *Service) Cancel(ctx context.Context, runID, actor string) (CommandResult, error) {
	run, err := s.runs.GetRunByID(ctx, runID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.audited(actor, audit.ActionCancel, runID, "", failure("run %s not found", runID)), nil
		}
		return CommandResult{}, err
	}

	if err := run.CanTransitionTo(domain.RunCancelled); err != nil {
		return s.audited(actor, audit.ActionCancel, runID, run.TargetPolicyID,
			failure("can only cancel running/prepared runs, got %s", statusLabel(run.Status))), nil
	}

	ok, err := s.runs.MarkCancelled(ctx, runID)
	if err != nil {
		return CommandResult{}, err
	}
	if !ok {
		return s.audited(actor, audit.ActionCancel, runID, run.TargetPolicyID,
			failure("can only cancel running/prepared runs")), nil
	}

	s.publishRunEvent(ctx, runID, domain.RunCancelled)
	s.logger.Info("run cancelled", zap.String("run_id", runID), zap.String("actor", actor))

	return s.audited(actor, audit.ActionCancel, runID, run.TargetPolicyID, CommandResult{
		Success: true,
		Message: "run cancelled",
	}), nil
}

// IncrementCounters — ingestion прогресса от воркера. Дельты аддитивны
// и коммутативны, конкурентные батчи одного прогона не теряют инкременты.
func (s *Service) IncrementCounters(ctx context.Context, runID string, d domain.CounterDelta) error {
	return s.runs.IncrementCounters(ctx, runID, d)
}

// RecordError фиксирует пер-элементный сбой: инкремент errors + запись
// в ограниченный сэмпл (свежие в начале).
func (s *Service) RecordError(ctx context.Context, runID string, entry domain.ErrorEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return s.runs.AppendError(ctx, runID, entry)
}

// audited прогоняет результат команды через журнал и возвращает его как есть.
func (s *Service) audited(actor, action, runID, policyID string, res CommandResult) CommandResult {
	detail := res.Message
	if !res.Success {
		detail = res.Error
	}
	s.trail.Record(audit.Event{
		ID: uuid.New().String(), Actor: actor, Action: action,
		RunID: runID, PolicyID: policyID, Success: res.Success, Detail: detail,
	})
	return res
}

// publishRunEvent шлет широковещательный сигнал о смене статуса прогона.
// Доставка best-effort: дашборд без сигнала просто дождется своего поллинга.
func (s *Service) publishRunEvent(ctx context.Context, runID string, status domain.RunStatus) {
	if s.rdb == nil {
		return
	}
	payload := fmt.Sprintf("%s:%s", runID, statusLabel(status))
	if err := s.rdb.Publish(ctx, infra.RedisChanRunEvents, payload).Err(); err != nil {
		s.logger.Warn("run event signal failed",
			zap.String("run_id", runID), zap.Error(err))
	}
}

func statusLabel(status domain.RunStatus) string {
	return strings.ToLower(string(status))
}
