package evaluator

import (
	"context"
	"encoding/json"

	"github.com/xela07ax/media-policy-plane/internal/domain"
)

// Result — вердикт по одному элементу каталога.
type Result struct {
	Status domain.EvalStatus `json:"status"`
	Reason string            `json:"reason,omitempty"`
}

// Evaluator — контракт чистого пер-элементного эвалюатора.
// Воркер вызывает его один раз на каждый элемент замороженной вселенной.
// Внутренняя логика правил — зона коллаборатора; конвейеру важны только
// вердикт и ошибка (ошибка считается пер-элементной и не роняет прогон).
type Evaluator interface {
	Evaluate(ctx context.Context, item domain.MediaItem, policyConfig json.RawMessage) (Result, error)
}
