package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/BaSui01/chatflow/api/handlers"
	"github.com/BaSui01/chatflow/config"
	"github.com/BaSui01/chatflow/internal/database"
	"github.com/BaSui01/chatflow/internal/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// dbStatsInterval 数据库连接池指标上报间隔
const dbStatsInterval = 15 * time.Second

// skipAuthPaths 无需认证的路径
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}

// =============================================================================
// 🖥️ 服务器
// =============================================================================

// Server 组合 API 服务、指标服务与场景目录监听
type Server struct {
	app    *App
	cfg    *config.Config
	logger *zap.Logger

	healthHandler *handlers.HealthHandler
	chatHandler   *handlers.ChatHandler
}

// NewServer 基于已装配的组件创建服务器
func NewServer(app *App) *Server {
	s := &Server{
		app:    app,
		cfg:    app.cfg,
		logger: app.logger,
	}
	s.initHandlers()
	return s
}

func (s *Server) initHandlers() {
	a := s.app
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	if a.cache != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", a.cache.Ping))
	}
	if a.db != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", a.db.Ping))
	}
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("store", a.store.Ping))
	s.healthHandler.RegisterOptionalCheck(handlers.NewProviderHealthCheck(a.provider))

	opts := []handlers.ChatHandlerOption{
		handlers.WithRunTimeout(s.cfg.Chat.RunTimeout),
		handlers.WithChatObservers(a.observers...),
		handlers.WithActiveChats(a.collector),
		handlers.WithOriginPatterns(s.cfg.Server.CORSAllowedOrigins...),
	}
	if a.async != nil {
		opts = append(opts, handlers.WithAsyncPool(a.async))
	}
	s.chatHandler = handlers.NewChatHandler(a.manager, a.factory, a.scenarios, s.logger, opts...)
}

// Handler 构建 API 路由与中间件链。ctx 结束时限流器的清理协程退出。
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	s.chatHandler.Register(mux)

	if s.cfg.Server.MetricsPort == 0 {
		mux.Handle("GET /metrics", s.metricsHandler())
	}

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.app.collector),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
	}
	if auth := Auth(s.cfg.Auth, skipAuthPaths, s.logger); auth != nil {
		middlewares = append(middlewares, auth)
	} else {
		s.logger.Warn("authentication disabled, no API keys or JWT secret configured")
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		middlewares = append(middlewares,
			RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger))
	}
	return Chain(mux, middlewares...)
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.app.registry, promhttp.HandlerOpts{Registry: s.app.registry})
}

// Run 启动所有服务并阻塞到 ctx 结束或任一服务失败
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	apiServer := server.NewManager(s.Handler(ctx), server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	g.Go(func() error { return apiServer.Run(ctx) })

	if s.cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", s.metricsHandler())
		metricsServer := server.NewManager(mux, server.Config{
			Name:            "metrics",
			Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
			ReadTimeout:     s.cfg.Server.ReadTimeout,
			WriteTimeout:    s.cfg.Server.ReadTimeout,
			ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		}, s.logger)
		g.Go(func() error { return metricsServer.Run(ctx) })
	}

	if s.cfg.Chat.WatchScenarios && s.cfg.Chat.ScenariosDir != "" {
		watcher, err := s.watchScenarios(ctx)
		if err != nil {
			return err
		}
		g.Go(func() error {
			<-ctx.Done()
			return watcher.Stop()
		})
	}

	if s.app.db != nil {
		g.Go(func() error {
			s.reportDBStats(ctx)
			return nil
		})
	}

	s.logger.Info("chatflow started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Strings("scenarios", s.app.scenarios.Names()),
	)
	return g.Wait()
}

// watchScenarios 场景文件变更时重载注册表；重载失败保留旧场景集
func (s *Server) watchScenarios(ctx context.Context) (*config.FileWatcher, error) {
	dir := s.cfg.Chat.ScenariosDir
	watcher, err := config.NewFileWatcher([]string{dir},
		config.WithExtensions(".yaml", ".yml", ".json"),
		config.WithWatcherLogger(s.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("scenario watcher: %w", err)
	}
	watcher.OnChange(func(events []config.FileEvent) {
		if err := s.app.scenarios.Reload(dir); err != nil {
			s.logger.Error("scenario reload failed", zap.Int("events", len(events)), zap.Error(err))
		}
	})
	if err := watcher.Start(ctx); err != nil {
		return nil, fmt.Errorf("scenario watcher: %w", err)
	}
	return watcher, nil
}

func (s *Server) reportDBStats(ctx context.Context) {
	driver := s.cfg.Database.Driver
	s.app.db.Watch(ctx, dbStatsInterval, func(stats database.PoolStats, err error) {
		if err != nil {
			s.logger.Warn("database ping failed", zap.String("driver", driver), zap.Error(err))
		}
		s.app.collector.RecordDBConnections(driver, stats.OpenConnections, stats.Idle)
	})
}
