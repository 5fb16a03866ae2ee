package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/media-policy-plane/internal/activation"
	"github.com/xela07ax/media-policy-plane/internal/audit"
	"github.com/xela07ax/media-policy-plane/internal/evaluator"
	"github.com/xela07ax/media-policy-plane/internal/infra"
	"github.com/xela07ax/media-policy-plane/internal/queue"
	"github.com/xela07ax/media-policy-plane/internal/repository/postgres"
	"github.com/xela07ax/media-policy-plane/internal/worker"
	"go.uber.org/zap"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	// 2. Инфраструктура и ресурсы
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	pool, err := postgres.NewPool(ctx, cfg.Database)
	cancel()
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// 3. Репозитории
	policyRepo := postgres.NewPolicyRepo(pool)
	runRepo := postgres.NewRunRepo(pool)
	evalRepo := postgres.NewEvaluationRepo(pool)
	catalogRepo := postgres.NewCatalogRepo(pool)
	auditRepo := postgres.NewAuditRepo(pool)

	// 4. Метрики и наблюдаемость
	registry := prometheus.NewRegistry()
	metrics := worker.NewMetrics(registry)

	// 5. Эвалюатор под слоем надежности (лимитер + CB + ретраи)
	rules := evaluator.NewRuleEvaluator()
	safeEval := worker.NewSafeEvaluator(rules, cfg.Worker, metrics)

	// 6. Ingestion-фасад прогресса: воркер пишет счетчики через тот же
	// сервис активации, что обслуживает консоль
	trail := audit.NewTrail(auditRepo, logger, cfg.Audit.BufferSize, cfg.Audit.FlushInterval)
	trail.Start()
	defer trail.Stop()

	jobs := queue.New(rdb, logger)
	activationSvc := activation.NewService(policyRepo, runRepo, catalogRepo, jobs, trail, rdb, cfg.Activation, logger)

	bulk := worker.NewBulkEvaluator(
		runRepo,
		activationSvc,
		evalRepo,
		catalogRepo,
		policyRepo,
		safeEval,
		jobs,
		rdb,
		metrics,
		cfg.Worker,
		logger,
	)

	// 7. Служебный HTTP: /metrics и /health на отдельном порту
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler: mux,
	}
	go func() {
		logger.Info("metrics endpoint started", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()

	// 8. Основной цикл: блокирующая вычитка очереди до сигнала остановки
	runCtx, runCancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("evaluation worker started",
			zap.Int("batch_size", cfg.Worker.BatchSize),
			zap.Int("concurrency", cfg.Worker.Concurrency))
		bulk.Start(runCtx)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	// Graceful Shutdown: курсор фиксируется за каждым батчем, прогон
	// продолжится с места после рестарта
	logger.Info("evaluation worker stopping...")
	runCancel()
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", zap.Error(err))
	}
	logger.Info("evaluation worker exited properly")
}
