package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BaSui01/chatflow/internal/tlsutil"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrCacheMiss 键不存在
	ErrCacheMiss = errors.New("cache miss")
	// ErrClosed 管理器已关闭
	ErrClosed = errors.New("cache manager is closed")
	// ErrConflict 乐观事务在重试次数内仍被并发修改
	ErrConflict = errors.New("cache key modified concurrently")
)

// IsCacheMiss 是否为 ErrCacheMiss
func IsCacheMiss(err error) bool { return errors.Is(err, ErrCacheMiss) }

// connectTimeout 创建时探活的时限
const connectTimeout = 5 * time.Second

// updateAttempts UpdateJSON 在 WATCH 冲突时的最大尝试次数
const updateAttempts = 8

// Config Redis 连接配置
type Config struct {
	Addr         string        `yaml:"addr" json:"addr"`
	Password     string        `yaml:"password" json:"password"`
	DB           int           `yaml:"db" json:"db"`
	KeyPrefix    string        `yaml:"key_prefix" json:"key_prefix"`
	DefaultTTL   time.Duration `yaml:"default_ttl" json:"default_ttl"` // 0 表示不过期
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" json:"min_idle_conns"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
}

// DefaultConfig 本地 Redis 的默认配置
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		KeyPrefix:    "chatflow:",
		DefaultTTL:   24 * time.Hour,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

func (c Config) options() *redis.Options {
	opts := &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		MaxRetries:   c.MaxRetries,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
	if c.TLSEnabled {
		host, _, err := net.SplitHostPort(c.Addr)
		if err != nil {
			host = c.Addr
		}
		opts.TLSConfig = tlsutil.Config(host)
	}
	return opts
}

// Manager 在 go-redis 客户端之上统一键前缀、默认 TTL 与 JSON 编解码
type Manager struct {
	client *redis.Client
	cfg    Config
	logger *zap.Logger
	closed atomic.Bool
}

// NewManager 连接 Redis，探活失败时返回错误
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(cfg.options())

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	m := &Manager{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "cache")),
	}
	m.logger.Info("redis connected",
		zap.String("addr", cfg.Addr),
		zap.String("key_prefix", cfg.KeyPrefix),
		zap.Bool("tls", cfg.TLSEnabled),
	)
	return m, nil
}

// Key 返回带前缀的完整键名
func (m *Manager) Key(key string) string { return m.cfg.KeyPrefix + key }

func (m *Manager) ttl(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return m.cfg.DefaultTTL
	}
	return ttl
}

func (m *Manager) open() error {
	if m.closed.Load() {
		return ErrClosed
	}
	return nil
}

// =============================================================================
// 🔑 键值读写
// =============================================================================

// Get 读取字符串值，不存在时返回 ErrCacheMiss
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	if err := m.open(); err != nil {
		return "", err
	}
	val, err := m.client.Get(ctx, m.Key(key)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", ErrCacheMiss
	case err != nil:
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set 写入字符串值，ttl 为 0 时使用 DefaultTTL
func (m *Manager) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := m.open(); err != nil {
		return err
	}
	if err := m.client.Set(ctx, m.Key(key), value, m.ttl(ttl)).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// GetJSON 读取并解码 JSON 值
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	val, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON 编码并写入 JSON 值
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return m.Set(ctx, key, string(data), ttl)
}

// UpdateJSON 以 WATCH/MULTI 原子地读改写一个 JSON 值。
// fn 收到当前值（键不存在时 found 为 false）并返回新值；
// 并发修改导致事务失败时重新读取并重试。
func (m *Manager) UpdateJSON(ctx context.Context, key string, ttl time.Duration, fn func(raw []byte, found bool) (any, error)) error {
	if err := m.open(); err != nil {
		return err
	}
	full := m.Key(key)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, full).Bytes()
		found := true
		if errors.Is(err, redis.Nil) {
			found, err = false, nil
		}
		if err != nil {
			return err
		}
		next, err := fn(raw, found)
		if err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, full, data, m.ttl(ttl))
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= updateAttempts; attempt++ {
		err := m.client.Watch(ctx, txf, full)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		m.logger.Debug("optimistic update conflict", zap.String("key", key), zap.Int("attempt", attempt))
	}
	return fmt.Errorf("%w: %s", ErrConflict, key)
}

// Delete 删除键，返回实际删除的数量
func (m *Manager) Delete(ctx context.Context, keys ...string) (int64, error) {
	if err := m.open(); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = m.Key(k)
	}
	n, err := m.client.Del(ctx, full...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return n, nil
}

// Keys 以 SCAN 遍历匹配 pattern 的键，返回去掉前缀的键名
func (m *Manager) Keys(ctx context.Context, pattern string) ([]string, error) {
	if err := m.open(); err != nil {
		return nil, err
	}
	var out []string
	iter := m.client.Scan(ctx, 0, m.Key(pattern), 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), m.cfg.KeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	return out, nil
}

// =============================================================================
// 🔧 生命周期
// =============================================================================

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.open(); err != nil {
		return err
	}
	return m.client.Ping(ctx).Err()
}

// Close 关闭客户端，重复调用返回 nil
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.logger.Info("closing redis client")
	return m.client.Close()
}
