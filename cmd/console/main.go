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

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/media-policy-plane/internal/activation"
	"github.com/xela07ax/media-policy-plane/internal/audit"
	"github.com/xela07ax/media-policy-plane/internal/console/handler"
	"github.com/xela07ax/media-policy-plane/internal/console/server"
	"github.com/xela07ax/media-policy-plane/internal/console/service"
	"github.com/xela07ax/media-policy-plane/internal/infra"
	"github.com/xela07ax/media-policy-plane/internal/infra/auth"
	"github.com/xela07ax/media-policy-plane/internal/queue"
	"github.com/xela07ax/media-policy-plane/internal/repository/postgres"
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

	// 3. RSA ключи для операторских токенов
	privateKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("failed to load private key", zap.Error(err))
	}
	publicKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to load public key", zap.Error(err))
	}
	validator := auth.NewBaseValidator(publicKey)

	// 4. Репозитории
	policyRepo := postgres.NewPolicyRepo(pool)
	runRepo := postgres.NewRunRepo(pool)
	evalRepo := postgres.NewEvaluationRepo(pool)
	catalogRepo := postgres.NewCatalogRepo(pool)
	userRepo := postgres.NewUserRepo(pool)
	auditRepo := postgres.NewAuditRepo(pool)

	// 5. Журнал операторских действий (batching + drain)
	trail := audit.NewTrail(auditRepo, logger, cfg.Audit.BufferSize, cfg.Audit.FlushInterval)
	trail.Start()
	defer trail.Stop()

	// 6. Сервисы (Dependency Injection)
	jobs := queue.New(rdb, logger)
	activationSvc := activation.NewService(policyRepo, runRepo, catalogRepo, jobs, trail, rdb, cfg.Activation, logger)
	diffSvc := activation.NewDiffService(runRepo, policyRepo, evalRepo, cfg.Activation, logger)
	authSvc := service.NewAuthService(userRepo, privateKey, cfg.Auth.TokenTTL)

	// 7. HTTP-слой
	srv := server.NewConsoleServer(
		cfg,
		logger,
		validator,
		handler.NewAuthHandler(authSvc),
		handler.NewPolicyHandler(policyRepo),
		handler.NewActivationHandler(activationSvc, diffSvc),
	)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 8. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("console API started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("console API stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("console API exited properly")
}
