package persistence

import (
	"context"
	"sync"

	"github.com/BaSui01/chatflow/agent/conversation"
)

// MemoryStore is an in-memory implementation of Store.
// Suitable for development and testing.
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[string]Record
	maxMessages int
	closed      bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(config StoreConfig) *MemoryStore {
	return &MemoryStore{
		records:     make(map[string]Record),
		maxMessages: config.MaxMessages,
	}
}

// Save stores a copy of res.
func (s *MemoryStore) Save(_ context.Context, res *conversation.Result) error {
	if err := validateResult(res); err != nil {
		return err
	}
	rec := RecordFromResult(res)
	rec.Messages = trimMessages(rec.Messages, s.maxMessages)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.records[rec.ID] = rec
	return nil
}

// Load returns a copy of the stored chat.
func (s *MemoryStore) Load(_ context.Context, chatID string) (*conversation.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.records[chatID]
	if !ok {
		return nil, notFound(chatID)
	}
	return rec.Result(), nil
}

// Delete removes a chat.
func (s *MemoryStore) Delete(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.records[chatID]; !ok {
		return notFound(chatID)
	}
	delete(s.records, chatID)
	return nil
}

// Len returns the number of stored chats.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close closes the store
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.records = nil
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}
