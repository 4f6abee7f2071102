package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/chatflow/agent/codeblock"
	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/agent/declarative"
	"github.com/BaSui01/chatflow/agent/persistence"
	"github.com/BaSui01/chatflow/config"
	"github.com/BaSui01/chatflow/internal/cache"
	"github.com/BaSui01/chatflow/internal/database"
	"github.com/BaSui01/chatflow/internal/metrics"
	"github.com/BaSui01/chatflow/internal/pool"
	"github.com/BaSui01/chatflow/internal/telemetry"
	"github.com/BaSui01/chatflow/llm"
	"github.com/BaSui01/chatflow/llm/providers"
	"github.com/BaSui01/chatflow/llm/providers/openaicompat"
	"github.com/BaSui01/chatflow/llm/retry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// =============================================================================
// 🧩 组件装配
// =============================================================================

// App 持有一次进程生命周期内的全部组件
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *prometheus.Registry
	collector *metrics.Collector
	otel      *telemetry.Providers

	cache *cache.Manager
	db    *database.PoolManager
	store persistence.Store

	provider  llm.Provider
	scheduler *conversation.Scheduler
	manager   *conversation.Manager
	factory   *declarative.ScenarioFactory
	scenarios *declarative.Registry
	observers []conversation.Observer
	async     *pool.WorkerPool
}

// NewApp 按配置构建组件。ctx 用于初始化阶段及 Redis 实时观察者。
// 失败时已创建的组件会被关闭。
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	// 指标与追踪
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.collector = metrics.NewCollectorWithRegistry("chatflow", a.registry, logger)

	otelProviders, otelErr := telemetry.Init(ctx, cfg.Telemetry, logger)
	if otelErr != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(otelErr))
	} else {
		a.otel = otelProviders
	}

	// 存储
	if cfg.Redis.Enabled {
		a.cache, err = cache.NewManager(cacheConfig(cfg.Redis), logger)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
	}
	if cfg.Database.Enabled {
		if err = a.openDatabase(); err != nil {
			return nil, err
		}
	}
	a.store, err = persistence.NewStore(storeConfig(cfg.Chat.Store), a.cache, a.db, logger)
	if err != nil {
		return nil, fmt.Errorf("chat store: %w", err)
	}
	if tiered, ok := a.store.(*persistence.TieredStore); ok {
		tiered.SetRecorder(a.collector)
	}

	// LLM 后端：openaicompat → 重试 → 指标
	a.provider = newProvider(cfg.LLM, a.collector, logger)

	// 对话观察者
	if a.cache != nil {
		live, err := persistence.NewRedisStore(a.cache, storeConfig(cfg.Chat.Store), logger)
		if err != nil {
			return nil, err
		}
		a.observers = append(a.observers, live.Observer(ctx))
	}
	if cfg.Chat.CodeDir != "" {
		saver, err := codeblock.NewSaver(cfg.Chat.CodeDir, logger)
		if err != nil {
			return nil, fmt.Errorf("code dir: %w", err)
		}
		a.observers = append(a.observers, codeblock.NewAutoSaver(saver, logger).Observer())
	}

	a.scheduler = conversation.NewScheduler(
		conversation.WithLogger(logger),
		conversation.WithMetrics(a.collector),
		conversation.WithTracer(telemetry.Tracer()),
	)
	a.manager = conversation.NewManager(a.scheduler, a.store, logger,
		conversation.WithMaxResults(cfg.Chat.MaxResults),
	)

	a.factory = declarative.NewScenarioFactory(a.provider, logger,
		declarative.WithDefaultMaxRounds(cfg.Chat.DefaultMaxRounds),
		declarative.WithTerminationWord(cfg.Chat.TerminationWord),
	)
	a.scenarios = declarative.NewRegistry(declarative.NewYAMLLoader(declarative.Strict()), a.factory, logger)
	if cfg.Chat.ScenariosDir != "" {
		if err := a.scenarios.Reload(cfg.Chat.ScenariosDir); err != nil {
			logger.Warn("failed to load scenarios", zap.String("dir", cfg.Chat.ScenariosDir), zap.Error(err))
		}
	}

	if cfg.Chat.AsyncWorkers > 0 {
		a.async = pool.New(pool.Config{
			Workers:     cfg.Chat.AsyncWorkers,
			QueueSize:   cfg.Chat.AsyncQueueSize,
			TaskTimeout: cfg.Chat.RunTimeout,
		}, logger)
	}

	return a, nil
}

func (a *App) openDatabase() error {
	dbCfg := a.cfg.Database
	gdb, err := database.Open(dbCfg.Driver, dbCfg.DSN(), a.logger)
	if err != nil {
		return err
	}
	poolCfg := database.DefaultPoolConfig()
	if dbCfg.MaxOpenConns > 0 {
		poolCfg.MaxOpenConns = dbCfg.MaxOpenConns
	}
	if dbCfg.MaxIdleConns > 0 {
		poolCfg.MaxIdleConns = dbCfg.MaxIdleConns
	}
	if dbCfg.ConnMaxLifetime > 0 {
		poolCfg.ConnMaxLifetime = dbCfg.ConnMaxLifetime
	}
	a.db, err = database.NewPoolManager(gdb, poolCfg, a.logger)
	if err != nil {
		return fmt.Errorf("database pool: %w", err)
	}
	return nil
}

// Close 依次关闭后台池、存储、连接与遥测
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.async != nil {
		if err := a.async.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("async pool: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.otel != nil {
		if err := a.otel.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// 🔧 配置转换
// =============================================================================

func cacheConfig(rc config.RedisConfig) cache.Config {
	cc := cache.DefaultConfig()
	cc.Addr = rc.Addr
	cc.Password = rc.Password
	cc.DB = rc.DB
	if rc.KeyPrefix != "" {
		cc.KeyPrefix = rc.KeyPrefix
	}
	if rc.PoolSize > 0 {
		cc.PoolSize = rc.PoolSize
	}
	if rc.MinIdleConns > 0 {
		cc.MinIdleConns = rc.MinIdleConns
	}
	cc.TLSEnabled = rc.TLSEnabled
	return cc
}

func storeConfig(sc config.StoreConfig) persistence.StoreConfig {
	return persistence.StoreConfig{
		Type:        persistence.StoreType(sc.Type),
		KeyPrefix:   sc.KeyPrefix,
		TTL:         sc.TTL,
		MaxMessages: sc.MaxMessages,
		SaveRetries: sc.SaveRetries,
	}
}

func newProvider(lc config.LLMConfig, recorder providers.RequestRecorder, logger *zap.Logger) llm.Provider {
	base := openaicompat.New(openaicompat.Config{
		ProviderName:       lc.Provider,
		APIKey:             lc.APIKey,
		BaseURL:            lc.BaseURL,
		DefaultModel:       lc.Model,
		Timeout:            lc.Timeout,
		InsecureSkipVerify: lc.InsecureSkipVerify,
	}, logger)

	policy := retry.DefaultPolicy()
	policy.MaxRetries = lc.MaxRetries
	if lc.InitialDelay > 0 {
		policy.InitialDelay = lc.InitialDelay
	}
	if lc.MaxDelay > 0 {
		policy.MaxDelay = lc.MaxDelay
	}
	return providers.NewInstrumentedProvider(
		providers.NewRetryableProvider(base, policy, logger),
		recorder,
	)
}
