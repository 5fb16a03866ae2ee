package domain

import (
	"encoding/json"
	"time"
)

// Policy — версионированный снапшот правил допуска (eligibility rules).
// Версии внутри одной линии (lineage) монотонно растут начиная с 1 и неизменяемы:
// правка правил рождает новую версию, а не мутирует старую.
type Policy struct {
	ID       string `json:"id"`
	Version  int    `json:"version"`
	IsActive bool   `json:"is_active"`

	// Config — непрозрачный набор правил для эвалюатора.
	// Храним как JSONB: контент-команда меняет пороги без миграций схемы.
	Config json.RawMessage `json:"config"`

	CreatedAt   time.Time  `json:"created_at"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// Системный инвариант: в любой момент активна МАКСИМУМ одна политика.
// Флаг is_active переключается только атомарным свопом в PolicyStore.Activate,
// никаких in-memory синглтонов — при рестарте получили бы два источника правды.
