package domain

import "time"

// Статус допуска элемента каталога под конкретной версией политики
type EvalStatus string

const (
	EvalPending    EvalStatus = "PENDING"    // Еще не оценен
	EvalEligible   EvalStatus = "ELIGIBLE"   // Допущен
	EvalIneligible EvalStatus = "INELIGIBLE" // Не допущен
	EvalReview     EvalStatus = "REVIEW"     // Пограничный случай, нужен человек
)

// MediaCatalogEvaluation — результат оценки одного элемента под одной версией политики.
// Ключ (media_item_id, policy_version): поверх версий таблица append-only,
// внутри версии прогон делает upsert (повторная оценка перетирает свою же строку).
// Именно этот субстрат читает DiffService при сравнении двух поколений.
type MediaCatalogEvaluation struct {
	MediaItemID   string     `json:"media_item_id"`
	PolicyVersion int        `json:"policy_version"`
	Status        EvalStatus `json:"status"`
	EvaluatedAt   time.Time  `json:"evaluated_at"`
	Details       string     `json:"details,omitempty"`
}

// EvaluationRecord — строка оценки, обогащенная данными каталога (для диффа).
// Title и TrendingScore подтягиваются джойном, чтобы сэмплы отчета были читаемы
// и сортировались по релевантности без второго похода в БД.
type EvaluationRecord struct {
	MediaItemID   string     `json:"media_item_id"`
	Status        EvalStatus `json:"status"`
	Title         string     `json:"title"`
	TrendingScore float64    `json:"trending_score"`
}
