package queue

/*
Файл queue.go — примитив очереди заданий поверх Redis-списков.
Продьюсер (консоль) делает LPUSH, воркер — блокирующий BRPOP.
Retry/ретраи самих заданий и многопоточность воркеров — зона ответственности
потребителя; очередь лишь гарантирует, что задание достанется одному воркеру.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/media-policy-plane/internal/infra"
	"go.uber.org/zap"
)

// Job — хэндл поставленного задания.
type Job struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

type Queue struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func New(rdb *redis.Client, logger *zap.Logger) *Queue {
	return &Queue{
		rdb:    rdb,
		logger: logger.Named("job-queue"),
	}
}

// Add сериализует payload и кладет задание в очередь jobName.
// Возвращает хэндл — консоль отдает его id оператору для трассировки.
func (q *Queue) Add(ctx context.Context, jobName string, payload any) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("queue: failed to marshal payload: %w", err)
	}

	job := &Job{
		ID:         uuid.New().String(),
		Name:       jobName,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("queue: failed to marshal job: %w", err)
	}

	if err := q.rdb.LPush(ctx, infra.JobQueueKey(jobName), data).Err(); err != nil {
		return nil, fmt.Errorf("queue: failed to enqueue job %s: %w", jobName, err)
	}

	q.logger.Info("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("job_name", jobName))
	return job, nil
}

// Consume — «живучий» цикл вычитки очереди: BRPOP с таймаутом, переподключение
// с паузой при сетевых сбоях. Ошибка обработчика логируется, но цикл не роняет —
// одно плохое задание не останавливает воркер.
func (q *Queue) Consume(ctx context.Context, jobName string, handle func(ctx context.Context, job *Job) error) {
	key := infra.JobQueueKey(jobName)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := q.rdb.BRPop(ctx, 5*time.Second, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue // Таймаут без заданий — штатно
			}
			q.logger.Error("queue poll failed, backing off",
				zap.String("queue", key), zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}
		if len(res) != 2 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			q.logger.Error("malformed job dropped", zap.String("queue", key), zap.Error(err))
			continue
		}

		if err := handle(ctx, &job); err != nil {
			q.logger.Error("job handler failed",
				zap.String("job_id", job.ID),
				zap.String("job_name", job.Name),
				zap.Error(err))
		}
	}
}
