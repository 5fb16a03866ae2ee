package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/media-policy-plane/internal/domain"
)

// PolicyReader — консоли достаточно чтения: версии политик создаются
// соседней подсистемой, здесь оператор лишь выбирает кандидата.
type PolicyReader interface {
	GetPolicyByID(ctx context.Context, id string) (*domain.Policy, error)
	ListPolicies(ctx context.Context) ([]domain.Policy, error)
}

type PolicyHandler struct {
	policies PolicyReader
}

func NewPolicyHandler(p PolicyReader) *PolicyHandler {
	return &PolicyHandler{policies: p}
}

// List возвращает каталог версий политик для выбора кандидата
// GET /v1/policies
func (h *PolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	policies, err := h.policies.ListPolicies(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch policies", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, policies)
}

// Get возвращает детали конкретной политики по её ID.
// GET /v1/policies/{id}
func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "Policy ID is required", http.StatusBadRequest)
		return
	}

	policy, err := h.policies.GetPolicyByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "Policy not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to retrieve policy", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, policy)
}
