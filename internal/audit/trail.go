package audit

/*
Файл trail.go — журнал операторских решений по активации политик.

Архитектура писателя:
- Non-blocking Logging: запись уходит в буферизованный канал, хендлеры консоли
  не ждут базу. Отказ журнала не должен ронять promote.
- Batching: события копятся и уезжают в PostgreSQL пачками по таймеру
  или при наборе лимита.
- Drain Pattern: Stop() закрывает входной канал и дожидается финального flush —
  при штатной остановке консоли решения операторов не теряются.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически сохраняется журнал
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []Event) error
}

// Recorder — то, что видят сервисы: только запись
type Recorder interface {
	Record(event Event)
}

type Trail struct {
	ch     chan Event
	repo   StorageInterface
	logger *zap.Logger
	wg     sync.WaitGroup

	flushInterval time.Duration
	batchLimit    int

	// Атомарный флаг на случай, если Record прилетит после остановки
	isClosed int32
}

func NewTrail(repo StorageInterface, logger *zap.Logger, bufferSize int, flushInterval time.Duration) *Trail {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Trail{
		ch:            make(chan Event, bufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "audit-trail")),
		flushInterval: flushInterval,
		batchLimit:    100,
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop запирает вход и ждет, пока воркер допишет остатки буфера.
func (t *Trail) Stop() {
	atomic.StoreInt32(&t.isClosed, 1)

	// Крошечная пауза, чтобы уже начатые Record успели проскочить в канал
	time.Sleep(10 * time.Millisecond)

	t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
	close(t.ch)
	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

func (t *Trail) Record(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if atomic.LoadInt32(&t.isClosed) == 1 {
		t.logger.Warn("audit event dropped: trail is stopping", zap.String("action", event.Action))
		return
	}

	// Load Shedding: переполненный буфер не блокирует хендлер,
	// событие уходит хотя бы в обычный лог
	select {
	case t.ch <- event:
	default:
		t.logger.Error("audit_buffer_overflow",
			zap.String("actor", event.Actor),
			zap.String("action", event.Action),
			zap.String("run_id", event.RunID),
		)
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]Event, 0, t.batchLimit)
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст приложения к этому моменту может быть закрыт
			if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
				t.logger.Error("audit flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case event, ok := <-t.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остатки, финальный flush, выходим
				flush()
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= t.batchLimit {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
