package audit

import "time"

// Операторские действия, попадающие в журнал
const (
	ActionPrepare = "prepare"
	ActionPromote = "promote"
	ActionCancel  = "cancel"
)

// Event — одна запись журнала действий оператора над планом активации.
type Event struct {
	ID       string `json:"id"`       // UUID события
	Actor    string `json:"actor"`    // Кто нажал кнопку (user_id из токена)
	Action   string `json:"action"`   // prepare / promote / cancel
	RunID    string `json:"run_id"`   // Какой прогон
	PolicyID string `json:"policy_id,omitempty"`

	// Результат
	Success bool      `json:"success"`
	Detail  string    `json:"detail,omitempty"` // Причина отказа либо итоговое сообщение
	Timestamp time.Time `json:"timestamp"`
}
