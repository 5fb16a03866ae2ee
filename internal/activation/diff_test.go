package activation

import (
	"context"
	"errors"
	"testing"

	"github.com/xela07ax/media-policy-plane/internal/domain"
	"github.com/xela07ax/media-policy-plane/internal/infra"
	"go.uber.org/zap"
)

type fakeEvalStore struct {
	byVersion map[int][]domain.EvaluationRecord
}

func (f *fakeEvalStore) ListByPolicyVersion(_ context.Context, version int) ([]domain.EvaluationRecord, error) {
	return f.byVersion[version], nil
}

type fakeActivePolicy struct {
	active *domain.Policy
}

func (f *fakeActivePolicy) GetActivePolicy(_ context.Context) (*domain.Policy, error) {
	if f.active == nil {
		return nil, domain.ErrNotFound
	}
	return f.active, nil
}

func newDiffFixture(run *domain.EvaluationRun, active *domain.Policy, byVersion map[int][]domain.EvaluationRecord, sampleSize int) *DiffService {
	runs := newFakeRunStore()
	if run != nil {
		runs.runs[run.ID] = run
	}
	return NewDiffService(runs, &fakeActivePolicy{active: active}, &fakeEvalStore{byVersion: byVersion},
		infra.ActivationConfig{DiffSampleSize: sampleSize}, zap.NewNop())
}

func TestDiffRejectsRunningRun(t *testing.T) {
	svc := newDiffFixture(&domain.EvaluationRun{ID: "run-1", Status: domain.RunRunning}, nil, nil, 0)

	_, err := svc.Diff(context.Background(), "run-1")
	if !errors.Is(err, ErrRunStillRunning) {
		t.Fatalf("expected ErrRunStillRunning, got %v", err)
	}
}

func TestDiffUnknownRun(t *testing.T) {
	svc := newDiffFixture(nil, nil, nil, 0)
	if _, err := svc.Diff(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDiffBuckets(t *testing.T) {
	run := &domain.EvaluationRun{ID: "run-1", Status: domain.RunPrepared, TargetPolicyVersion: 2}
	active := &domain.Policy{ID: "pol-1", Version: 1, IsActive: true}

	byVersion := map[int][]domain.EvaluationRecord{
		1: {
			{MediaItemID: "item-1", Status: domain.EvalEligible, Title: "Broken Arrow"},
			{MediaItemID: "item-3", Status: domain.EvalIneligible, Title: "Late Bloomer"},
			{MediaItemID: "item-4", Status: domain.EvalEligible, Title: "Steady"},
			{MediaItemID: "item-5", Status: domain.EvalReview, Title: "Borderline"},
		},
		2: {
			// item-1: eligible → ineligible (регрессия)
			{MediaItemID: "item-1", Status: domain.EvalIneligible, Title: "Broken Arrow", TrendingScore: 9},
			// item-2: строки прежней версии нет → eligible (улучшение)
			{MediaItemID: "item-2", Status: domain.EvalEligible, Title: "Newcomer", TrendingScore: 7},
			// item-3: ineligible → eligible (улучшение)
			{MediaItemID: "item-3", Status: domain.EvalEligible, Title: "Late Bloomer", TrendingScore: 3},
			// item-4: без изменений — не попадает в отчет
			{MediaItemID: "item-4", Status: domain.EvalEligible, Title: "Steady", TrendingScore: 8},
			// item-5: review → eligible (улучшение)
			{MediaItemID: "item-5", Status: domain.EvalEligible, Title: "Borderline", TrendingScore: 5},
		},
	}

	svc := newDiffFixture(run, active, byVersion, 0)
	report, err := svc.Diff(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}

	if report.CurrentPolicyVersion != 1 || report.TargetPolicyVersion != 2 {
		t.Errorf("versions = %d→%d, want 1→2", report.CurrentPolicyVersion, report.TargetPolicyVersion)
	}
	if report.Counts.Regressions != 1 {
		t.Errorf("regressions = %d, want 1", report.Counts.Regressions)
	}
	if report.Counts.Improvements != 3 {
		t.Errorf("improvements = %d, want 3", report.Counts.Improvements)
	}
	if report.Counts.NetChange != 2 {
		t.Errorf("net change = %d, want 2", report.Counts.NetChange)
	}

	if len(report.TopRegressions) != 1 || report.TopRegressions[0].MediaItemID != "item-1" {
		t.Fatalf("top regressions = %v, want single item-1", report.TopRegressions)
	}
	if report.TopRegressions[0].Reason != "eligible→ineligible" {
		t.Errorf("regression reason = %q, want eligible→ineligible", report.TopRegressions[0].Reason)
	}

	// Улучшения отсортированы по trending score (убывание)
	wantOrder := []string{"item-2", "item-5", "item-3"}
	if len(report.TopImprovements) != len(wantOrder) {
		t.Fatalf("top improvements = %v, want %v", report.TopImprovements, wantOrder)
	}
	for i, id := range wantOrder {
		if report.TopImprovements[i].MediaItemID != id {
			t.Errorf("improvement[%d] = %s, want %s", i, report.TopImprovements[i].MediaItemID, id)
		}
	}
	if report.TopImprovements[0].Reason != "absent→eligible" {
		t.Errorf("new item reason = %q, want absent→eligible", report.TopImprovements[0].Reason)
	}
	if report.TopImprovements[1].Reason != "review→eligible" {
		t.Errorf("review item reason = %q, want review→eligible", report.TopImprovements[1].Reason)
	}
}

func TestDiffWithoutActivePolicy(t *testing.T) {
	run := &domain.EvaluationRun{ID: "run-1", Status: domain.RunPrepared, TargetPolicyVersion: 1}
	byVersion := map[int][]domain.EvaluationRecord{
		1: {
			{MediaItemID: "item-1", Status: domain.EvalEligible, Title: "First"},
			{MediaItemID: "item-2", Status: domain.EvalIneligible, Title: "Second"},
		},
	}

	svc := newDiffFixture(run, nil, byVersion, 0)
	report, err := svc.Diff(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}

	// Первая активация: сравнение с пустотой, каждый допуск — улучшение
	if report.CurrentPolicyVersion != 0 {
		t.Errorf("current version = %d, want 0", report.CurrentPolicyVersion)
	}
	if report.Counts.Regressions != 0 || report.Counts.Improvements != 1 {
		t.Errorf("counts = %+v, want 0 regressions / 1 improvement", report.Counts)
	}
}

func TestDiffSampleCapped(t *testing.T) {
	run := &domain.EvaluationRun{ID: "run-1", Status: domain.RunPrepared, TargetPolicyVersion: 2}
	target := []domain.EvaluationRecord{
		{MediaItemID: "item-1", Status: domain.EvalEligible, TrendingScore: 1},
		{MediaItemID: "item-2", Status: domain.EvalEligible, TrendingScore: 5},
		{MediaItemID: "item-3", Status: domain.EvalEligible, TrendingScore: 3},
	}

	svc := newDiffFixture(run, nil, map[int][]domain.EvaluationRecord{2: target}, 2)
	report, err := svc.Diff(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}

	// Счетчики считают всё, сэмпл режется по лимиту и держит топ по score
	if report.Counts.Improvements != 3 {
		t.Errorf("improvements = %d, want 3", report.Counts.Improvements)
	}
	if len(report.TopImprovements) != 2 {
		t.Fatalf("sample = %v, want 2 entries", report.TopImprovements)
	}
	if report.TopImprovements[0].MediaItemID != "item-2" || report.TopImprovements[1].MediaItemID != "item-3" {
		t.Errorf("sample order = %v, want item-2 then item-3", report.TopImprovements)
	}
}
