package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/media-policy-plane/internal/domain"
	"github.com/xela07ax/media-policy-plane/internal/evaluator"
	"github.com/xela07ax/media-policy-plane/internal/infra"
	"golang.org/x/time/rate"
)

// SafeEvaluator оборачивает эвалюатор слоем надежности:
// лимитер держит фоновый прогон в рамках бюджета пропускной способности,
// ретраи гасят транзиентные сбои, предохранитель не дает залипшему
// эвалюатору выжечь весь батч подряд.
type SafeEvaluator struct {
	next    evaluator.Evaluator
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
}

func NewSafeEvaluator(next evaluator.Evaluator, cfg infra.WorkerConfig, metrics *Metrics) *SafeEvaluator {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "eligibility-evaluator",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует закрыться
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Более 5 ошибок подряд — открываемся
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if metrics == nil {
				return
			}
			if to == gobreaker.StateOpen {
				metrics.BreakerState.Set(1)
			} else {
				metrics.BreakerState.Set(0)
			}
		},
	})

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)

	return &SafeEvaluator{
		next:    next,
		cb:      cb,
		limiter: limiter,
		timeout: cfg.EvalTimeout,
	}
}

func (s *SafeEvaluator) Evaluate(ctx context.Context, item domain.MediaItem, policyConfig json.RawMessage) (evaluator.Result, error) {
	// 1. Rate Limiter
	if err := s.limiter.Wait(ctx); err != nil {
		return evaluator.Result{}, err
	}

	var finalRes evaluator.Result

	// 2. Circuit Breaker + ретраи внутри него
	cbResult, err := s.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			var callErr error
			finalRes, callErr = s.next.Evaluate(tCtx, item, policyConfig)
			return callErr
		})

		return finalRes, retryErr
	})

	if err != nil {
		return evaluator.Result{}, err
	}

	return cbResult.(evaluator.Result), nil
}
