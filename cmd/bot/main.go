package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	jwtpkg "tempmailbot/backend/internal/auth/jwt"
	"tempmailbot/backend/internal/config"
	"tempmailbot/backend/internal/health"
	"tempmailbot/backend/internal/imap"
	"tempmailbot/backend/internal/logger"
	"tempmailbot/backend/internal/mailparse"
	"tempmailbot/backend/internal/monitoring"
	"tempmailbot/backend/internal/notify"
	"tempmailbot/backend/internal/poller"
	"tempmailbot/backend/internal/service"
	"tempmailbot/backend/internal/storage"
	"tempmailbot/backend/internal/storage/hybrid"
	"tempmailbot/backend/internal/storage/memory"
	httptransport "tempmailbot/backend/internal/transport/http"
)

// main 启动临时邮箱服务：HTTP API、IMAP 轮询与过期清理。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	var log *zap.Logger
	if cfg.Log.Development {
		log = logger.NewDevelopment()
	} else {
		log = logger.NewProduction(cfg.Log.Level, cfg.Log.File)
	}
	log.Info("starting tempmailbot server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层
	var store storage.Store
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		store, err = hybrid.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
		)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}
	defer store.Close()

	// 初始化监控系统
	metrics := monitoring.NewMetrics()

	// 初始化邮件解析与附件临时文件
	parser := mailparse.NewParser(log)
	fileStore, err := mailparse.NewFileStore(
		cfg.Files.Dir,
		cfg.Files.MaxAge,
		cfg.Files.MaxSize,
		mailparse.MimetypeDetector{},
		log,
	)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize file store: %v", err))
	}

	// IMAP 连接：轮询与收件箱查看各用一条，互不阻塞
	pollerMail := imap.NewClient(cfg.IMAP, parser, log)
	inboxMail := imap.NewClient(cfg.IMAP, parser, log)
	defer pollerMail.Close()
	defer inboxMail.Close()

	// 初始化服务层
	generator := service.NewGenerator(store, cfg.Mailbox)
	registry := service.NewRegistryService(store, generator, cfg.Mailbox, cfg.API.EmailsPerHr, log)
	inbox := service.NewInboxService(registry, inboxMail, fileStore, cfg.Mailbox.MaxInbox, log)

	// WebSocket 新邮件推送
	hub := notify.NewHub(cfg.API.CORSOrigins, log)

	// 后台任务：收信轮询与过期清理
	mailPoller := poller.New(store, pollerMail, hub, metrics, cfg.Poll.FetchInterval, cfg.Mailbox.MaxInbox, log)
	sweeper := poller.NewSweeper(store, fileStore, hub, metrics, cfg.Poll.CleanupInterval, cfg.Mailbox.Retention, log)

	// 健康检查
	healthChecker := health.NewChecker(store, pollerMail, log)

	// JWT 认证，密钥未配置时关闭（仅限开发）
	var jwtManager *jwtpkg.Manager
	if cfg.API.JWTSecret != "" {
		jwtManager = jwtpkg.NewManager(cfg.API.JWTSecret, cfg.API.JWTIssuer, cfg.API.TokenExpiry)
		log.Info("JWT authentication enabled",
			zap.String("issuer", cfg.API.JWTIssuer),
			zap.Duration("token_expiry", cfg.API.TokenExpiry),
		)
	} else {
		log.Warn("JWT secret not configured, authentication disabled")
	}

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:          cfg,
		RegistryService: registry,
		InboxService:    inbox,
		Poller:          mailPoller,
		Sweeper:         sweeper,
		HealthChecker:   healthChecker,
		Hub:             hub,
		JWTManager:      jwtManager,
		Metrics:         metrics,
		Logger:          log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 收信轮询 goroutine
	group.Go(func() error {
		log.Info("starting mail poller", zap.Duration("interval", cfg.Poll.FetchInterval))
		return mailPoller.Run(groupCtx)
	})

	// 过期清理 goroutine
	group.Go(func() error {
		log.Info("starting expiry sweeper",
			zap.Duration("interval", cfg.Poll.CleanupInterval),
			zap.Duration("retention", cfg.Mailbox.Retention),
		)
		return sweeper.Run(groupCtx)
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		return hub.Run(groupCtx)
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("server stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
