package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/internal/cache"
	"go.uber.org/zap"
)

// RedisStore keeps chat state as JSON in Redis through cache.Manager.
// Suitable for distributed deployments; entries expire after TTL.
type RedisStore struct {
	cache       *cache.Manager
	keyPrefix   string
	ttl         time.Duration
	maxMessages int
	logger      *zap.Logger
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(c *cache.Manager, config StoreConfig, logger *zap.Logger) (*RedisStore, error) {
	if c == nil {
		return nil, fmt.Errorf("redis store requires a cache manager")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "chat:"
	}
	return &RedisStore{
		cache:       c,
		keyPrefix:   keyPrefix,
		ttl:         config.TTL,
		maxMessages: config.MaxMessages,
		logger:      logger.With(zap.String("component", "redis_chat_store")),
	}, nil
}

// chatKey returns the cache key for a chat
func (s *RedisStore) chatKey(chatID string) string {
	return s.keyPrefix + chatID
}

// Save writes the chat state, keeping at most MaxMessages newest messages.
func (s *RedisStore) Save(ctx context.Context, res *conversation.Result) error {
	if err := validateResult(res); err != nil {
		return err
	}
	rec := RecordFromResult(res)
	return s.put(ctx, rec)
}

func (s *RedisStore) put(ctx context.Context, rec Record) error {
	before := len(rec.Messages)
	rec.Messages = trimMessages(rec.Messages, s.maxMessages)
	if dropped := before - len(rec.Messages); dropped > 0 {
		s.logger.Debug("trimmed cached chat",
			zap.String("chat_id", rec.ID),
			zap.Int("dropped", dropped),
			zap.Int("kept", len(rec.Messages)))
	}
	if err := s.cache.SetJSON(ctx, s.chatKey(rec.ID), rec, s.ttl); err != nil {
		return fmt.Errorf("save chat %s: %w", rec.ID, err)
	}
	return nil
}

func (s *RedisStore) get(ctx context.Context, chatID string) (Record, error) {
	var rec Record
	if err := s.cache.GetJSON(ctx, s.chatKey(chatID), &rec); err != nil {
		if cache.IsCacheMiss(err) {
			return Record{}, notFound(chatID)
		}
		return Record{}, fmt.Errorf("load chat %s: %w", chatID, err)
	}
	return rec, nil
}

// Load reads the cached chat state.
func (s *RedisStore) Load(ctx context.Context, chatID string) (*conversation.Result, error) {
	rec, err := s.get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return rec.Result(), nil
}

// Delete removes the cached chat state.
func (s *RedisStore) Delete(ctx context.Context, chatID string) error {
	n, err := s.cache.Delete(ctx, s.chatKey(chatID))
	if err != nil {
		return fmt.Errorf("delete chat %s: %w", chatID, err)
	}
	if n == 0 {
		return notFound(chatID)
	}
	return nil
}

// Append adds one message to the cached state of a running chat, creating
// the state on first use. Concurrent appends to the same chat do not lose
// messages.
func (s *RedisStore) Append(ctx context.Context, chatID string, msg conversation.Message) error {
	err := s.cache.UpdateJSON(ctx, s.chatKey(chatID), s.ttl, func(raw []byte, found bool) (any, error) {
		rec := Record{ID: chatID, StartedAt: msg.Timestamp}
		if found {
			if err := json.Unmarshal(raw, &rec); err != nil {
				return nil, err
			}
		}
		rec.Messages = trimMessages(append(rec.Messages, msg), s.maxMessages)
		rec.Rounds = max(rec.Rounds, msg.Round)
		rec.UpdatedAt = time.Now()
		return rec, nil
	})
	if err != nil {
		return fmt.Errorf("append to chat %s: %w", chatID, err)
	}
	return nil
}

// Observer returns a conversation observer that appends every message as
// it is produced. Failures are logged, never surfaced to the chat.
func (s *RedisStore) Observer(ctx context.Context) conversation.Observer {
	return func(chatID string, msg conversation.Message) {
		if err := s.Append(ctx, chatID, msg); err != nil {
			s.logger.Warn("failed to cache message",
				zap.String("chat_id", chatID),
				zap.Int("round", msg.Round),
				zap.Error(err))
		}
	}
}

// ChatIDs lists the cached chat IDs.
func (s *RedisStore) ChatIDs(ctx context.Context) ([]string, error) {
	keys, err := s.cache.Keys(ctx, s.keyPrefix+"*")
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k[len(s.keyPrefix):]
	}
	return ids, nil
}

// Close is a no-op; the cache manager is owned by the caller.
func (s *RedisStore) Close() error { return nil }

// Ping checks if the store is healthy
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.cache.Ping(ctx)
}
