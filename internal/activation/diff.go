package activation

/*
Файл diff.go — сравнение двух поколений оценок: действующая политика ("from")
против кандидата прогона ("to"). Отвечает оператору на вопрос
«что сломается и что починится, если нажать promote».
*/

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xela07ax/media-policy-plane/internal/domain"
	"github.com/xela07ax/media-policy-plane/internal/infra"
	"go.uber.org/zap"
)

// ErrRunStillRunning — дифф по RUNNING прогону невалиден:
// множество сравнения еще не стабилизировалось. Хендлер мапит в 400.
var ErrRunStillRunning = errors.New("run is still running")

// EvaluationStore — требования диффа к субстрату оценок
type EvaluationStore interface {
	ListByPolicyVersion(ctx context.Context, version int) ([]domain.EvaluationRecord, error)
}

// RunReader — диффу от прогонов нужно только чтение
type RunReader interface {
	GetRunByID(ctx context.Context, id string) (*domain.EvaluationRun, error)
}

// ActivePolicyReader — источник "from"-версии
type ActivePolicyReader interface {
	GetActivePolicy(ctx context.Context) (*domain.Policy, error)
}

type DiffService struct {
	runs     RunReader
	policies ActivePolicyReader
	evals    EvaluationStore
	logger   *zap.Logger

	// Граница Top-списков в отчете
	sampleSize int
}

func NewDiffService(
	runs RunReader,
	policies ActivePolicyReader,
	evals EvaluationStore,
	cfg infra.ActivationConfig,
	logger *zap.Logger,
) *DiffService {
	sampleSize := cfg.DiffSampleSize
	if sampleSize <= 0 {
		sampleSize = 20
	}
	return &DiffService{
		runs:       runs,
		policies:   policies,
		evals:      evals,
		logger:     logger.Named("diff"),
		sampleSize: sampleSize,
	}
}

// Diff строит отчет сравнения для прогона.
// Каждый элемент попадает максимум в одну корзину:
//   - регрессия: был ELIGIBLE под действующей версией, перестал под кандидатом;
//   - улучшение: не был ELIGIBLE (включая отсутствие строки), стал под кандидатом.
//
// Элементы без смены статуса игнорируются.
func (s *DiffService) Diff(ctx context.Context, runID string) (*domain.DiffReport, error) {
	run, err := s.runs.GetRunByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == domain.RunRunning {
		return nil, ErrRunStillRunning
	}

	// "from"-состояние — версия действующей политики.
	// Ее может не быть вовсе (первая активация): тогда прежних строк нет
	// и каждый допущенный кандидатом элемент — улучшение.
	currentVersion := 0
	current := make(map[string]domain.EvaluationRecord)
	active, err := s.policies.GetActivePolicy(ctx)
	switch {
	case err == nil:
		currentVersion = active.Version
		records, err := s.evals.ListByPolicyVersion(ctx, active.Version)
		if err != nil {
			return nil, fmt.Errorf("diff: failed to load current evaluations: %w", err)
		}
		for _, rec := range records {
			current[rec.MediaItemID] = rec
		}
	case errors.Is(err, domain.ErrNotFound):
		// Активной политики нет — сравниваем с пустотой
	default:
		return nil, fmt.Errorf("diff: failed to resolve active policy: %w", err)
	}

	target, err := s.evals.ListByPolicyVersion(ctx, run.TargetPolicyVersion)
	if err != nil {
		return nil, fmt.Errorf("diff: failed to load target evaluations: %w", err)
	}

	var regressions, improvements []scoredEntry
	for _, rec := range target {
		old, existed := current[rec.MediaItemID]
		wasEligible := existed && old.Status == domain.EvalEligible
		isEligible := rec.Status == domain.EvalEligible

		switch {
		case wasEligible && !isEligible:
			regressions = append(regressions, scoredEntry{
				entry: domain.DiffEntry{
					MediaItemID: rec.MediaItemID,
					Title:       rec.Title,
					Reason:      transitionReason(old.Status, rec.Status, existed),
				},
				score: rec.TrendingScore,
			})
		case !wasEligible && isEligible:
			oldStatus := domain.EvalStatus("")
			if existed {
				oldStatus = old.Status
			}
			improvements = append(improvements, scoredEntry{
				entry: domain.DiffEntry{
					MediaItemID: rec.MediaItemID,
					Title:       rec.Title,
					Reason:      transitionReason(oldStatus, rec.Status, existed),
				},
				score: rec.TrendingScore,
			})
		}
	}

	report := &domain.DiffReport{
		RunID:                run.ID,
		TargetPolicyVersion:  run.TargetPolicyVersion,
		CurrentPolicyVersion: currentVersion,
		Counts: domain.DiffCounts{
			Regressions:  len(regressions),
			Improvements: len(improvements),
			NetChange:    len(improvements) - len(regressions),
		},
		TopRegressions:  topByScore(regressions, s.sampleSize),
		TopImprovements: topByScore(improvements, s.sampleSize),
	}

	s.logger.Debug("diff computed",
		zap.String("run_id", runID),
		zap.Int("regressions", report.Counts.Regressions),
		zap.Int("improvements", report.Counts.Improvements))
	return report, nil
}

type scoredEntry struct {
	entry domain.DiffEntry
	score float64
}

// topByScore — сортировка по trending score (убывание) и срез до лимита.
func topByScore(entries []scoredEntry, limit int) []domain.DiffEntry {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].score > entries[j].score
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]domain.DiffEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.entry)
	}
	return out
}

// transitionReason текстуализирует переход, например "eligible→ineligible".
// Отсутствие строки прежней версии обозначаем как "absent".
func transitionReason(from, to domain.EvalStatus, existed bool) string {
	fromLabel := "absent"
	if existed {
		fromLabel = strings.ToLower(string(from))
	}
	return fromLabel + "→" + strings.ToLower(string(to))
}
