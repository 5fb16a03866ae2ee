package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/xela07ax/media-policy-plane/internal/domain"
	"github.com/xela07ax/media-policy-plane/internal/evaluator"
	"github.com/xela07ax/media-policy-plane/internal/infra"
	"go.uber.org/zap"
)

// --- In-memory фейки зависимостей конвейера ---

type fakeRunStore struct {
	mu   sync.Mutex
	runs map[string]*domain.EvaluationRun
}

func (f *fakeRunStore) GetRunByID(_ context.Context, id string) (*domain.EvaluationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRunStore) SetCursor(_ context.Context, id string, cursor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.Cursor = cursor
	return nil
}

func (f *fakeRunStore) MarkPrepared(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok || r.Status != domain.RunRunning {
		return false, nil
	}
	now := time.Now().UTC()
	r.Status = domain.RunPrepared
	r.FinishedAt = &now
	return true, nil
}

type fakeProgress struct {
	mu     sync.Mutex
	total  domain.CounterDelta
	errors []domain.ErrorEntry
}

func (f *fakeProgress) IncrementCounters(_ context.Context, _ string, d domain.CounterDelta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.total.Processed += d.Processed
	f.total.Eligible += d.Eligible
	f.total.Ineligible += d.Ineligible
	f.total.Pending += d.Pending
	f.total.Errors += d.Errors
	return nil
}

func (f *fakeProgress) RecordError(_ context.Context, _ string, entry domain.ErrorEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, entry)
	return nil
}

type fakeEvalStore struct {
	mu    sync.Mutex
	saved []domain.MediaCatalogEvaluation
}

func (f *fakeEvalStore) UpsertBatch(_ context.Context, evals []domain.MediaCatalogEvaluation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, evals...)
	return nil
}

// fakeCatalog отдает элементы keyset-батчами: строго после курсора, по id.
type fakeCatalog struct {
	items []domain.MediaItem
}

func (f *fakeCatalog) ListBatchAfter(_ context.Context, cursor string, _ time.Time, limit int) ([]domain.MediaItem, error) {
	sorted := append([]domain.MediaItem(nil), f.items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	out := make([]domain.MediaItem, 0, limit)
	for _, item := range sorted {
		if item.ID <= cursor {
			continue
		}
		out = append(out, item)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakePolicyStore struct {
	policy *domain.Policy
}

func (f *fakePolicyStore) GetPolicyByID(_ context.Context, id string) (*domain.Policy, error) {
	if f.policy == nil || f.policy.ID != id {
		return nil, domain.ErrNotFound
	}
	cp := *f.policy
	return &cp, nil
}

// evalFunc — эвалюатор из функции для подмены поведения в тестах.
type evalFunc func(ctx context.Context, item domain.MediaItem, config json.RawMessage) (evaluator.Result, error)

func (fn evalFunc) Evaluate(ctx context.Context, item domain.MediaItem, config json.RawMessage) (evaluator.Result, error) {
	return fn(ctx, item, config)
}

// --- Сборка конвейера под тест ---

type workerFixture struct {
	bulk     *BulkEvaluator
	runs     *fakeRunStore
	progress *fakeProgress
	evals    *fakeEvalStore
}

func newWorkerFixture(t *testing.T, run *domain.EvaluationRun, items []domain.MediaItem, eval evalFunc) *workerFixture {
	t.Helper()
	runs := &fakeRunStore{runs: map[string]*domain.EvaluationRun{}}
	if run != nil {
		runs.runs[run.ID] = run
	}
	progress := &fakeProgress{}
	evals := &fakeEvalStore{}
	policies := &fakePolicyStore{policy: &domain.Policy{
		ID: "pol-2", Version: 2, Config: json.RawMessage(`{}`),
	}}
	if run != nil {
		policies.policy.ID = run.TargetPolicyID
	}

	bulk := NewBulkEvaluator(
		runs, progress, evals, &fakeCatalog{items: items}, policies,
		eval, nil, nil, NewMetrics(nil),
		infra.WorkerConfig{BatchSize: 2, Concurrency: 2},
		zap.NewNop(),
	)
	return &workerFixture{bulk: bulk, runs: runs, progress: progress, evals: evals}
}

func catalogItems(n int) []domain.MediaItem {
	items := make([]domain.MediaItem, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, domain.MediaItem{
			ID:    fmt.Sprintf("item-%02d", i),
			Kind:  "movie",
			Title: fmt.Sprintf("Title %d", i),
		})
	}
	return items
}

func alwaysEligible(_ context.Context, _ domain.MediaItem, _ json.RawMessage) (evaluator.Result, error) {
	return evaluator.Result{Status: domain.EvalEligible}, nil
}

// --- Тесты ---

func TestProcessRunDrivesRunToPrepared(t *testing.T) {
	run := &domain.EvaluationRun{
		ID: "run-1", Status: domain.RunRunning,
		TargetPolicyID: "pol-2", TargetPolicyVersion: 2,
		TotalReadySnapshot: 5,
	}
	fx := newWorkerFixture(t, run, catalogItems(5), alwaysEligible)

	if err := fx.bulk.ProcessRun(context.Background(), "run-1"); err != nil {
		t.Fatalf("ProcessRun failed: %v", err)
	}

	got, _ := fx.runs.GetRunByID(context.Background(), "run-1")
	if got.Status != domain.RunPrepared {
		t.Errorf("run status = %s, want PREPARED", got.Status)
	}
	if got.Cursor != "item-05" {
		t.Errorf("cursor = %q, want item-05", got.Cursor)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt must be set")
	}

	if fx.progress.total.Processed != 5 || fx.progress.total.Eligible != 5 {
		t.Errorf("delta totals = %+v, want processed=5 eligible=5", fx.progress.total)
	}
	if len(fx.evals.saved) != 5 {
		t.Fatalf("upserted evaluations = %d, want 5", len(fx.evals.saved))
	}
	for _, e := range fx.evals.saved {
		if e.PolicyVersion != 2 {
			t.Errorf("evaluation %s pinned to version %d, want 2", e.MediaItemID, e.PolicyVersion)
		}
	}
}

func TestProcessRunSurvivesItemErrors(t *testing.T) {
	run := &domain.EvaluationRun{
		ID: "run-1", Status: domain.RunRunning,
		TargetPolicyID: "pol-2", TargetPolicyVersion: 2,
		TotalReadySnapshot: 4,
	}
	eval := func(_ context.Context, item domain.MediaItem, _ json.RawMessage) (evaluator.Result, error) {
		if item.ID == "item-03" {
			return evaluator.Result{}, errors.New("metadata fetch timed out")
		}
		return evaluator.Result{Status: domain.EvalEligible}, nil
	}
	fx := newWorkerFixture(t, run, catalogItems(4), eval)

	if err := fx.bulk.ProcessRun(context.Background(), "run-1"); err != nil {
		t.Fatalf("one bad item must not fail the run: %v", err)
	}

	got, _ := fx.runs.GetRunByID(context.Background(), "run-1")
	if got.Status != domain.RunPrepared {
		t.Errorf("run status = %s, want PREPARED", got.Status)
	}

	// processed считает попытки, включая сбойную
	if fx.progress.total.Processed != 4 {
		t.Errorf("processed = %d, want 4", fx.progress.total.Processed)
	}
	if fx.progress.total.Eligible != 3 {
		t.Errorf("eligible = %d, want 3", fx.progress.total.Eligible)
	}
	// errors двигает только RecordError, дельта его не дублирует
	if fx.progress.total.Errors != 0 {
		t.Errorf("delta errors = %d, want 0 (counted via RecordError)", fx.progress.total.Errors)
	}
	if len(fx.progress.errors) != 1 || fx.progress.errors[0].MediaItemID != "item-03" {
		t.Fatalf("recorded errors = %v, want single item-03", fx.progress.errors)
	}
	// Сбойный элемент не попадает в субстрат оценок
	if len(fx.evals.saved) != 3 {
		t.Errorf("upserted evaluations = %d, want 3", len(fx.evals.saved))
	}
}

func TestProcessRunResumesFromCursor(t *testing.T) {
	run := &domain.EvaluationRun{
		ID: "run-1", Status: domain.RunRunning,
		TargetPolicyID: "pol-2", TargetPolicyVersion: 2,
		TotalReadySnapshot: 5,
		Cursor:             "item-03", // первые три уже пройдены до рестарта
	}
	fx := newWorkerFixture(t, run, catalogItems(5), alwaysEligible)

	if err := fx.bulk.ProcessRun(context.Background(), "run-1"); err != nil {
		t.Fatalf("ProcessRun failed: %v", err)
	}

	if fx.progress.total.Processed != 2 {
		t.Errorf("processed after resume = %d, want 2", fx.progress.total.Processed)
	}
	ids := make([]string, 0, len(fx.evals.saved))
	for _, e := range fx.evals.saved {
		ids = append(ids, e.MediaItemID)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "item-04" || ids[1] != "item-05" {
		t.Errorf("evaluated after resume = %v, want [item-04 item-05]", ids)
	}
}

func TestProcessRunSkipsTerminalRun(t *testing.T) {
	run := &domain.EvaluationRun{
		ID: "run-1", Status: domain.RunCancelled,
		TargetPolicyID: "pol-2", TargetPolicyVersion: 2,
	}
	fx := newWorkerFixture(t, run, catalogItems(3), alwaysEligible)

	if err := fx.bulk.ProcessRun(context.Background(), "run-1"); err != nil {
		t.Fatalf("replayed job for terminal run must be a no-op: %v", err)
	}
	if fx.progress.total.Processed != 0 {
		t.Errorf("processed = %d, want 0", fx.progress.total.Processed)
	}
	got, _ := fx.runs.GetRunByID(context.Background(), "run-1")
	if got.Status != domain.RunCancelled {
		t.Errorf("terminal status must not change, got %s", got.Status)
	}
}

func TestProcessRunUnknownRun(t *testing.T) {
	fx := newWorkerFixture(t, nil, catalogItems(3), alwaysEligible)
	if err := fx.bulk.ProcessRun(context.Background(), "ghost"); err != nil {
		t.Fatalf("job for unknown run must be dropped quietly: %v", err)
	}
}
