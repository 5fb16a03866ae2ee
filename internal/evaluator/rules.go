package evaluator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xela07ax/media-policy-plane/internal/domain"
)

// ruleSet — референсная схема config-а политики.
// JSONB в базе позволяет добавлять пороги без миграций; незнакомые поля
// просто игнорируются при разборе.
type ruleSet struct {
	// Белый список типов контента; пустой список — типы не ограничены
	AllowedKinds []string `json:"allowed_kinds,omitempty"`

	// Ниже этого порога элемент не допускается
	MinTrendingScore *float64 `json:"min_trending_score,omitempty"`

	// Серая зона [review_below_score, min_trending_score) уходит человеку
	ReviewBelowScore *float64 `json:"review_below_score,omitempty"`
}

// RuleEvaluator — встроенная реализация Evaluator поверх порогов из config.
type RuleEvaluator struct{}

func NewRuleEvaluator() *RuleEvaluator {
	return &RuleEvaluator{}
}

func (e *RuleEvaluator) Evaluate(ctx context.Context, item domain.MediaItem, policyConfig json.RawMessage) (Result, error) {
	var rules ruleSet
	if len(policyConfig) > 0 {
		if err := json.Unmarshal(policyConfig, &rules); err != nil {
			return Result{}, fmt.Errorf("evaluator: malformed policy config: %w", err)
		}
	}

	// 1. Тип контента
	if len(rules.AllowedKinds) > 0 && !contains(rules.AllowedKinds, item.Kind) {
		return Result{
			Status: domain.EvalIneligible,
			Reason: fmt.Sprintf("kind %q is not allowed", item.Kind),
		}, nil
	}

	// 2. Порог релевантности
	if rules.MinTrendingScore != nil && item.TrendingScore < *rules.MinTrendingScore {
		// Серая зона: достаточно близко к порогу, чтобы посмотрел человек
		if rules.ReviewBelowScore != nil && item.TrendingScore >= *rules.ReviewBelowScore {
			return Result{
				Status: domain.EvalReview,
				Reason: fmt.Sprintf("trending score %.2f in review band", item.TrendingScore),
			}, nil
		}
		return Result{
			Status: domain.EvalIneligible,
			Reason: fmt.Sprintf("trending score %.2f below threshold %.2f", item.TrendingScore, *rules.MinTrendingScore),
		}, nil
	}

	return Result{Status: domain.EvalEligible}, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
