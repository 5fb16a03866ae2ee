package domain

// DiffCounts — итоговая арифметика сравнения двух поколений оценок.
type DiffCounts struct {
	Regressions  int `json:"regressions"`
	Improvements int `json:"improvements"`
	NetChange    int `json:"net_change"`
}

// DiffEntry — один элемент в сэмпле регрессий/улучшений.
// Reason — человекочитаемый переход статуса, например "eligible→ineligible".
type DiffEntry struct {
	MediaItemID string `json:"media_item_id"`
	Title       string `json:"title"`
	Reason      string `json:"reason"`
}

// DiffReport — ответ на вопрос оператора «что изменится, если кандидат
// заменит действующую политику». Counts считаются по всем элементам,
// Top-списки ограничены и отсортированы по trending score (убывание).
type DiffReport struct {
	RunID                string      `json:"run_id"`
	TargetPolicyVersion  int         `json:"target_policy_version"`
	CurrentPolicyVersion int         `json:"current_policy_version"`
	Counts               DiffCounts  `json:"counts"`
	TopRegressions       []DiffEntry `json:"top_regressions"`
	TopImprovements      []DiffEntry `json:"top_improvements"`
}
