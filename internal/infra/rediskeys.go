package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "medplane"
)

// Очереди заданий (Lists)
const (
	// RedisKeyJobQueuePrefix — префикс списков-очередей: medplane:jobs:{job_name}
	RedisKeyJobQueuePrefix = RedisNamespace + ":jobs:"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanRunEvents — трансляция смен статуса прогонов ("runID:status").
	// Дашборды используют его чтобы обновиться раньше очередного поллинга;
	// сам контракт прогресса остается pull-based.
	RedisChanRunEvents = RedisNamespace + ":runs:events"
)

// JobQueueKey возвращает ключ очереди для конкретного типа задания.
func JobQueueKey(jobName string) string {
	return fmt.Sprintf("%s%s", RedisKeyJobQueuePrefix, jobName)
}
