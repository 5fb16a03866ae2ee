package evaluator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/xela07ax/media-policy-plane/internal/domain"
)

func TestRuleEvaluator(t *testing.T) {
	config := json.RawMessage(`{
		"allowed_kinds": ["movie", "series"],
		"min_trending_score": 5.0,
		"review_below_score": 3.0
	}`)

	cases := []struct {
		name string
		item domain.MediaItem
		want domain.EvalStatus
	}{
		{
			name: "passes all thresholds",
			item: domain.MediaItem{ID: "a", Kind: "movie", TrendingScore: 7},
			want: domain.EvalEligible,
		},
		{
			name: "exactly at threshold",
			item: domain.MediaItem{ID: "b", Kind: "series", TrendingScore: 5},
			want: domain.EvalEligible,
		},
		{
			name: "disallowed kind",
			item: domain.MediaItem{ID: "c", Kind: "podcast", TrendingScore: 9},
			want: domain.EvalIneligible,
		},
		{
			name: "review band",
			item: domain.MediaItem{ID: "d", Kind: "movie", TrendingScore: 4},
			want: domain.EvalReview,
		},
		{
			name: "bottom of review band",
			item: domain.MediaItem{ID: "e", Kind: "movie", TrendingScore: 3},
			want: domain.EvalReview,
		},
		{
			name: "below review band",
			item: domain.MediaItem{ID: "f", Kind: "movie", TrendingScore: 2},
			want: domain.EvalIneligible,
		},
	}

	eval := NewRuleEvaluator()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := eval.Evaluate(context.Background(), tc.item, config)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if res.Status != tc.want {
				t.Errorf("status = %s, want %s (reason: %s)", res.Status, tc.want, res.Reason)
			}
		})
	}
}

func TestRuleEvaluatorEmptyConfig(t *testing.T) {
	eval := NewRuleEvaluator()

	// Пустой config — всё допущено
	res, err := eval.Evaluate(context.Background(), domain.MediaItem{ID: "a", Kind: "clip"}, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Status != domain.EvalEligible {
		t.Errorf("status = %s, want ELIGIBLE", res.Status)
	}
}

func TestRuleEvaluatorMalformedConfig(t *testing.T) {
	eval := NewRuleEvaluator()

	_, err := eval.Evaluate(context.Background(), domain.MediaItem{ID: "a"}, json.RawMessage(`{broken`))
	if err == nil {
		t.Fatal("malformed config must be an evaluation error")
	}
}

func TestRuleEvaluatorNoReviewBand(t *testing.T) {
	config := json.RawMessage(`{"min_trending_score": 5.0}`)
	eval := NewRuleEvaluator()

	// Без серой зоны всё ниже порога сразу INELIGIBLE
	res, err := eval.Evaluate(context.Background(), domain.MediaItem{ID: "a", Kind: "movie", TrendingScore: 4.9}, config)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Status != domain.EvalIneligible {
		t.Errorf("status = %s, want INELIGIBLE", res.Status)
	}
}
