package persistence

import (
	"context"
	"errors"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/types"
	"go.uber.org/zap"
)

// TieredStore writes to a cache and an archive. Reads try the cache first
// and fall back to the archive.
type TieredStore struct {
	cache    Store
	archive  Store
	recorder CacheRecorder
	logger   *zap.Logger
}

// CacheRecorder counts cache hits and misses of Load.
type CacheRecorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// SetRecorder attaches a hit/miss recorder.
func (s *TieredStore) SetRecorder(r CacheRecorder) { s.recorder = r }

// NewTieredStore combines a cache store and an archive store.
func NewTieredStore(cache, archive Store, logger *zap.Logger) *TieredStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TieredStore{cache: cache, archive: archive, logger: logger.With(zap.String("component", "tiered_chat_store"))}
}

// Save writes the archive first; a cache failure is logged only.
func (s *TieredStore) Save(ctx context.Context, res *conversation.Result) error {
	if err := s.archive.Save(ctx, res); err != nil {
		return err
	}
	if err := s.cache.Save(ctx, res); err != nil {
		s.logger.Warn("cache save failed", zap.String("chat_id", res.ChatID), zap.Error(err))
	}
	return nil
}

// Load prefers the cache. A cached copy trimmed below its round count is
// replaced by the archived transcript when the archive has it.
func (s *TieredStore) Load(ctx context.Context, chatID string) (*conversation.Result, error) {
	res, err := s.cache.Load(ctx, chatID)
	if err == nil && len(res.Messages) >= res.Rounds {
		if s.recorder != nil {
			s.recorder.RecordCacheHit("chat")
		}
		return res, nil
	}
	if s.recorder != nil {
		s.recorder.RecordCacheMiss("chat")
	}
	if err != nil && !isNotFound(err) {
		s.logger.Warn("cache load failed", zap.String("chat_id", chatID), zap.Error(err))
	}

	full, aerr := s.archive.Load(ctx, chatID)
	if aerr != nil && err == nil {
		// 归档缺失时退回裁剪后的缓存副本
		s.logger.Debug("archive has no full transcript", zap.String("chat_id", chatID), zap.Error(aerr))
		return res, nil
	}
	return full, aerr
}

// Delete removes the chat from both tiers. It is not found only when
// neither tier had it.
func (s *TieredStore) Delete(ctx context.Context, chatID string) error {
	cacheErr := s.cache.Delete(ctx, chatID)
	archiveErr := s.archive.Delete(ctx, chatID)
	if isNotFound(cacheErr) && isNotFound(archiveErr) {
		return archiveErr
	}
	if cacheErr != nil && !isNotFound(cacheErr) {
		return cacheErr
	}
	if archiveErr != nil && !isNotFound(archiveErr) {
		return archiveErr
	}
	return nil
}

// Close closes both tiers.
func (s *TieredStore) Close() error {
	return errors.Join(s.cache.Close(), s.archive.Close())
}

// Ping checks both tiers.
func (s *TieredStore) Ping(ctx context.Context) error {
	return errors.Join(s.cache.Ping(ctx), s.archive.Ping(ctx))
}

func isNotFound(err error) bool {
	return types.IsErrorCode(err, types.ErrChatNotFound)
}
