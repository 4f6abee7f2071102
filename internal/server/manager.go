package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

type state int

const (
	stateIdle state = iota
	stateListening
	stateStopped
)

// Config 单个 HTTP 监听端的配置
type Config struct {
	Name              string        `yaml:"name" json:"name"` // api / metrics，仅用于日志
	Addr              string        `yaml:"addr" json:"addr"`
	ReadTimeout       time.Duration `yaml:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" json:"write_timeout"` // 0 表示不限制，websocket 流需要
	IdleTimeout       time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes" json:"max_header_bytes"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig 返回 API 监听端的默认配置
func DefaultConfig() Config {
	return Config{
		Name:              "api",
		Addr:              ":8080",
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   15 * time.Second,
	}
}

// Manager 管理一个 http.Server 的监听、服务与关闭。
//
// 所有请求的 context 派生自 Manager 的根 context；Shutdown 时根 context 被取消，
// 已被劫持的 websocket 连接据此结束，而不必等到 ShutdownTimeout。
type Manager struct {
	cfg    Config
	srv    *http.Server
	logger *zap.Logger

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu       sync.Mutex
	state    state
	listener net.Listener
	serveErr chan error
}

// NewManager 创建服务器管理器
func NewManager(handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = cfg.ReadTimeout
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "http_server"), zap.String("server", cfg.Name)),
		baseCtx:    baseCtx,
		cancelBase: cancel,
		serveErr:   make(chan error, 1),
	}
	m.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return m.baseCtx },
		ErrorLog:          zap.NewStdLog(m.logger),
	}
	m.srv.RegisterOnShutdown(cancel)
	return m
}

// Start 监听并在后台提供服务
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateListening:
		return fmt.Errorf("%s server already started", m.cfg.Name)
	case stateStopped:
		return fmt.Errorf("%s server is closed", m.cfg.Name)
	}

	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", m.cfg.Addr, err)
	}
	m.listener = ln
	m.state = stateListening
	m.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	go func() {
		err := m.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return
		}
		m.logger.Error("serve failed", zap.Error(err))
		m.serveErr <- err
	}()
	return nil
}

// Run 启动服务并阻塞，直到 ctx 结束（返回 nil）或服务出错，随后优雅关闭
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-m.serveErr:
	}
	return errors.Join(err, m.Shutdown(context.Background()))
}

// Shutdown 在 ShutdownTimeout 内优雅关闭，重复调用无副作用
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == stateStopped {
		return nil
	}
	m.state = stateStopped
	defer m.cancelBase()

	if m.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Warn("graceful shutdown incomplete, closing connections", zap.Error(err))
		return errors.Join(err, m.srv.Close())
	}
	m.logger.Info("stopped", zap.Duration("took", time.Since(start)))
	return nil
}

// Addr 返回实际监听地址，未启动时返回配置地址
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.cfg.Addr
}

// IsRunning 是否正在监听
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateListening
}
