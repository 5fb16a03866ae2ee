package domain

import (
	"errors"
	"time"
)

// Статусы State Machine прогона массовой переоценки
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"   // Воркер наполняет счетчики
	RunPrepared  RunStatus = "PREPARED"  // Каталог пройден, ждем решения оператора
	RunPromoted  RunStatus = "PROMOTED"  // Кандидат активирован (терминальный)
	RunCancelled RunStatus = "CANCELLED" // Прогон отменен (терминальный)
)

var (
	ErrInvalidTransition = errors.New("invalid run status transition")
	ErrRunFinished       = errors.New("run already in terminal state")
)

// ErrorSampleCapacity — размер кольца последних ошибок на прогоне.
// Полный список не храним: errors-счетчик дает объем, сэмпл — фактуру для дебага.
const ErrorSampleCapacity = 10

// ErrorEntry — одна зафиксированная ошибка оценки элемента каталога.
type ErrorEntry struct {
	MediaItemID string    `json:"media_item_id"`
	Error       string    `json:"error"`
	Stack       string    `json:"stack,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// CounterDelta — аддитивная порция прогресса от воркера.
// Дельты коммутативны, порядок доставки не важен — поэтому их можно слать
// конкурентно из нескольких батчей одного прогона.
type CounterDelta struct {
	Processed  int64 `json:"processed"`
	Eligible   int64 `json:"eligible"`
	Ineligible int64 `json:"ineligible"`
	Pending    int64 `json:"pending"`
	Errors     int64 `json:"errors"`
}

// EvaluationRun — запись о долгоживущем прогоне оценки каталога против политики-кандидата.
type EvaluationRun struct {
	ID     string    `json:"id"`
	Status RunStatus `json:"status"`

	TargetPolicyID      string `json:"target_policy_id"`
	TargetPolicyVersion int    `json:"target_policy_version"`

	// Вселенная прогона замораживается при создании: snapshot_cutoff отсекает
	// элементы, добавленные в каталог после старта, иначе coverage «плывет».
	TotalReadySnapshot int64     `json:"total_ready_snapshot"`
	SnapshotCutoff     time.Time `json:"snapshot_cutoff"`

	// Счетчики монотонно растут только пока прогон RUNNING
	Processed  int64 `json:"processed"`
	Eligible   int64 `json:"eligible"`
	Ineligible int64 `json:"ineligible"`
	Pending    int64 `json:"pending"`
	Errors     int64 `json:"errors"`

	// Последние ошибки, свежие в начале (capacity = ErrorSampleCapacity)
	ErrorSample []ErrorEntry `json:"error_sample"`

	// Cursor — позиция воркера в каталоге (keyset pagination).
	// Позволяет продолжить прогон после рестарта воркера, а не начинать заново.
	Cursor string `json:"cursor,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	PromotedAt *time.Time `json:"promoted_at,omitempty"`
	PromotedBy *string    `json:"promoted_by,omitempty"`
}

// CanTransitionTo проверяет правила конечного автомата.
// Единственные валидные ребра: RUNNING→PREPARED (воркер),
// PREPARED→PROMOTED (оператор), RUNNING/PREPARED→CANCELLED (оператор).
func (r *EvaluationRun) CanTransitionTo(next RunStatus) error {
	if r.IsTerminal() {
		return ErrRunFinished
	}
	switch next {
	case RunPrepared:
		if r.Status != RunRunning {
			return ErrInvalidTransition
		}
	case RunPromoted:
		if r.Status != RunPrepared {
			return ErrInvalidTransition
		}
	case RunCancelled:
		// RUNNING и PREPARED оба отменяемы
	default:
		return ErrInvalidTransition
	}
	return nil
}

// IsTerminal — PROMOTED и CANCELLED финальны, дальнейшие мутации невалидны.
func (r *EvaluationRun) IsTerminal() bool {
	return r.Status == RunPromoted || r.Status == RunCancelled
}

// Coverage — доля замороженной вселенной, уже пройденная воркером.
// Пустая вселенная считается покрытой полностью (деление на ноль не нужно).
func (r *EvaluationRun) Coverage() float64 {
	if r.TotalReadySnapshot == 0 {
		return 1
	}
	return float64(r.Processed) / float64(r.TotalReadySnapshot)
}
