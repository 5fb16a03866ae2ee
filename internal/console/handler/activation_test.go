package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/media-policy-plane/internal/activation"
	"github.com/xela07ax/media-policy-plane/internal/domain"
)

// Стаб сервиса активации: фиксированные ответы на каждый метод
type stubActivation struct {
	prepareRes *activation.PrepareResult
	prepareErr error
	statusRes  *activation.StatusReport
	statusErr  error
	cmdRes     activation.CommandResult
	cmdErr     error
}

func (s *stubActivation) Prepare(_ context.Context, _, _ string) (*activation.PrepareResult, error) {
	return s.prepareRes, s.prepareErr
}

func (s *stubActivation) Status(_ context.Context, _ string) (*activation.StatusReport, error) {
	return s.statusRes, s.statusErr
}

func (s *stubActivation) Promote(_ context.Context, _, _ string) (activation.CommandResult, error) {
	return s.cmdRes, s.cmdErr
}

func (s *stubActivation) Cancel(_ context.Context, _, _ string) (activation.CommandResult, error) {
	return s.cmdRes, s.cmdErr
}

type stubDiff struct {
	report *domain.DiffReport
	err    error
}

func (s *stubDiff) Diff(_ context.Context, _ string) (*domain.DiffReport, error) {
	return s.report, s.err
}

// testRouter монтирует хендлер на те же пути, что и боевой сервер
func testRouter(h *ActivationHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/v1/policies/{id}/prepare", h.Prepare)
	r.Route("/v1/activation/runs/{id}", func(r chi.Router) {
		r.Get("/", h.Status)
		r.Get("/diff", h.Diff)
		r.Post("/promote", h.Promote)
		r.Post("/cancel", h.Cancel)
	})
	return r
}

func TestPrepareHandler(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		h := NewActivationHandler(&stubActivation{
			prepareRes: &activation.PrepareResult{RunID: "run-1", Status: "running"},
		}, &stubDiff{})

		rec := httptest.NewRecorder()
		testRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/policies/pol-2/prepare", nil))

		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202", rec.Code)
		}
		var res activation.PrepareResult
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		if res.RunID != "run-1" {
			t.Errorf("run_id = %q, want run-1", res.RunID)
		}
	})

	t.Run("unknown policy", func(t *testing.T) {
		h := NewActivationHandler(&stubActivation{prepareErr: domain.ErrNotFound}, &stubDiff{})

		rec := httptest.NewRecorder()
		testRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/policies/ghost/prepare", nil))

		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})
}

func TestStatusHandler(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		h := NewActivationHandler(&stubActivation{
			statusRes: &activation.StatusReport{ID: "run-1", Status: "prepared", ReadyToPromote: true},
		}, &stubDiff{})

		rec := httptest.NewRecorder()
		testRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/activation/runs/run-1", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("unknown run", func(t *testing.T) {
		h := NewActivationHandler(&stubActivation{statusErr: domain.ErrNotFound}, &stubDiff{})

		rec := httptest.NewRecorder()
		testRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/activation/runs/ghost", nil))

		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})
}

func TestPromoteHandlerRefusalIsNotAnHTTPError(t *testing.T) {
	// Отказ по гейтам — штатный исход: 201 + success=false в теле
	h := NewActivationHandler(&stubActivation{
		cmdRes: activation.CommandResult{Success: false, Error: "expected prepared, got running"},
	}, &stubDiff{})

	rec := httptest.NewRecorder()
	testRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/activation/runs/run-1/promote", nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	var res activation.CommandResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if res.Success {
		t.Error("expected tagged failure in body")
	}
}

func TestDiffHandler(t *testing.T) {
	t.Run("still running maps to 400", func(t *testing.T) {
		h := NewActivationHandler(&stubActivation{}, &stubDiff{err: activation.ErrRunStillRunning})

		rec := httptest.NewRecorder()
		testRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/activation/runs/run-1/diff", nil))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("report", func(t *testing.T) {
		h := NewActivationHandler(&stubActivation{}, &stubDiff{report: &domain.DiffReport{
			RunID:                "run-1",
			TargetPolicyVersion:  2,
			CurrentPolicyVersion: 1,
			Counts:               domain.DiffCounts{Regressions: 1, Improvements: 3, NetChange: 2},
		}})

		rec := httptest.NewRecorder()
		testRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/activation/runs/run-1/diff", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var report domain.DiffReport
		if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		if report.Counts.NetChange != 2 {
			t.Errorf("net change = %d, want 2", report.Counts.NetChange)
		}
	})
}
