package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"cardpay/internal/config"
	"cardpay/internal/handler"
	"cardpay/internal/infrastructure/cache"
	"cardpay/internal/infrastructure/database"
	"cardpay/internal/infrastructure/lock"
	"cardpay/internal/infrastructure/mq"
	"cardpay/internal/job"
	"cardpay/internal/service"
	"cardpay/internal/session"
	"cardpay/pkg/idgen"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("服务异常退出", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// 初始化 ID 生成器
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		return err
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化数据库
	db, err := database.Open(&cfg.Database, logger)
	if err != nil {
		return err
	}

	// 初始化 Redis（可选）
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	// 账户锁
	var locker lock.Locker
	switch cfg.Lock.Mode {
	case "local":
		locker = lock.NewLocal(cfg.Lock.Wait)
	case "redis":
		locker = lock.NewRedisLocker(redisClient, cfg.Lock.TTL, cfg.Lock.Wait)
	default:
		locker = lock.Noop()
	}
	if cfg.Database.Driver == "sqlite" && cfg.Lock.Mode == "none" {
		logger.Warn("sqlite 不支持行锁，写事务将按 BEGIN IMMEDIATE 串行执行")
	}

	// 会话存储
	var sessions session.Store
	if redisClient != nil {
		sessions = session.NewRedisStore(redisClient)
	} else {
		sessions = session.NewMemoryStore()
	}

	// 初始化 Kafka（可选）
	var publisher mq.Publisher = mq.Discard{}
	if cfg.Kafka.Enabled {
		kp, err := mq.NewKafkaPublisher(&cfg.Kafka)
		if err != nil {
			return err
		}
		publisher = kp
	} else {
		logger.Warn("kafka 未启用，账本事件不会投递")
	}
	defer publisher.Close()

	// 服务
	history := service.NewHistoryService(db, service.HistoryLimits{
		Default:      cfg.Business.HistoryDefaultLimit,
		Max:          cfg.Business.HistoryMaxLimit,
		ReaderRecent: cfg.Business.ReaderRecentLimit,
	}, logger)
	audit := service.NewAuditService(db, logger)
	services := handler.Services{
		Transactions: service.NewTransactionService(db, locker, cfg.Kafka.Topic.Movements, logger),
		Cards:        service.NewCardService(db, logger),
		Accounts:     service.NewAccountService(db, history, logger),
		History:      history,
		Audit:        audit,
		Auth:         service.NewAuthService(db, sessions, cfg.Auth.SessionTTL, logger),
	}

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, publisher, cfg.Business.OutboxInterval, cfg.Business.MaxRetryCount, logger)
	go outboxSender.Start(ctx)

	reconcileJob := job.NewReconcileJob(audit, cfg.Business.ReconcileInterval, logger)
	go reconcileJob.Start(ctx)

	// 设置路由
	gin.SetMode(gin.ReleaseMode)
	router := handler.SetupRouter(handler.NewHandler(services, logger), cfg.Auth.AdminToken)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("服务启动", "port", cfg.Server.Port, "driver", cfg.Database.Driver, "lock_mode", cfg.Lock.Mode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("服务启动失败: %w", err)
	}

	logger.Info("正在关闭服务...")

	// 停止后台任务
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("服务关闭异常", "error", err)
	}

	logger.Info("服务已关闭")
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
