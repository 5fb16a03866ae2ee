package domain

import (
	"encoding/json"
	"time"
)

// MediaItem — элемент каталога в объеме, нужном конвейеру оценки.
// Полный CRUD каталога живет в соседней подсистеме; здесь только то,
// что читают эвалюатор и отчет сравнения.
type MediaItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Kind  string `json:"kind"` // movie, series, clip и т.д.

	// TrendingScore — сигнал релевантности для сортировки сэмплов диффа.
	TrendingScore float64 `json:"trending_score"`

	// Произвольные атрибуты для условий политики (рейтинги, регионы, лицензии)
	Attributes json.RawMessage `json:"attributes,omitempty"`

	IsReady   bool      `json:"is_ready"`
	CreatedAt time.Time `json:"created_at"`
}
