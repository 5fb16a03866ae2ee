package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/media-policy-plane/internal/activation"
	"github.com/xela07ax/media-policy-plane/internal/domain"
	"github.com/xela07ax/media-policy-plane/internal/infra/auth"
)

// ActivationService Описываем, что хендлеру нужно от сервиса активации
type ActivationService interface {
	Prepare(ctx context.Context, policyID, actor string) (*activation.PrepareResult, error)
	Status(ctx context.Context, runID string) (*activation.StatusReport, error)
	Promote(ctx context.Context, runID, actor string) (activation.CommandResult, error)
	Cancel(ctx context.Context, runID, actor string) (activation.CommandResult, error)
}

// DiffProvider — отчет сравнения считается отдельным сервисом
type DiffProvider interface {
	Diff(ctx context.Context, runID string) (*domain.DiffReport, error)
}

type ActivationHandler struct {
	service ActivationService
	diff    DiffProvider
}

func NewActivationHandler(s ActivationService, d DiffProvider) *ActivationHandler {
	return &ActivationHandler{service: s, diff: d}
}

// Prepare запускает прогон массовой переоценки под политику-кандидата.
// POST /v1/policies/{id}/prepare → 202: работа продолжается после ответа.
func (h *ActivationHandler) Prepare(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "id")
	if policyID == "" {
		http.Error(w, "policy id is required", http.StatusBadRequest)
		return
	}

	res, err := h.service.Prepare(r.Context(), policyID, auth.UserID(r.Context()))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "Policy not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to start evaluation run", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, res)
}

// Status — поллинг прогресса прогона.
// GET /v1/activation/runs/{id}
func (h *ActivationHandler) Status(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	report, err := h.service.Status(r.Context(), runID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to fetch run status", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// Promote активирует политику-кандидата прогона.
// POST /v1/activation/runs/{id}/promote → всегда 201 с тегированным результатом:
// «не готов» — штатный операционный исход, а не 4xx.
func (h *ActivationHandler) Promote(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	res, err := h.service.Promote(r.Context(), runID, auth.UserID(r.Context()))
	if err != nil {
		// Сюда долетают только инфраструктурные сбои (база, сигналинг)
		http.Error(w, "Promotion failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// Cancel — той же конвенции, что и Promote.
// POST /v1/activation/runs/{id}/cancel
func (h *ActivationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	res, err := h.service.Cancel(r.Context(), runID, auth.UserID(r.Context()))
	if err != nil {
		http.Error(w, "Cancellation failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// Diff — отчет «что изменится при замене действующей политики кандидатом».
// GET /v1/activation/runs/{id}/diff; по RUNNING прогону — 400.
func (h *ActivationHandler) Diff(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	report, err := h.diff.Diff(r.Context(), runID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			http.Error(w, "Run not found", http.StatusNotFound)
		case errors.Is(err, activation.ErrRunStillRunning):
			http.Error(w, "run is still running", http.StatusBadRequest)
		default:
			http.Error(w, "Failed to compute diff", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
