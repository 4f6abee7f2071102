package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/types"
)

// Common errors
var (
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// notFound returns the CHAT_NOT_FOUND error used by every backend.
func notFound(chatID string) error {
	return types.Errorf(types.ErrChatNotFound, "chat %q not found", chatID)
}

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
	StoreTypeTiered StoreType = "tiered"
)

// StoreConfig is the configuration shared by all store implementations.
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// KeyPrefix is prepended to chat IDs in the cache (after the cache's own prefix)
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// TTL is how long cached chat state lives; 0 uses the cache default
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// MaxMessages caps cached messages, oldest dropped first; 0 keeps all
	MaxMessages int `json:"max_messages" yaml:"max_messages"`

	// SaveRetries is how often a failed SQL transaction is retried
	SaveRetries int `json:"save_retries" yaml:"save_retries"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:        StoreTypeMemory,
		KeyPrefix:   "chat:",
		TTL:         24 * time.Hour,
		MaxMessages: 200,
		SaveRetries: 3,
	}
}

// Record is the persisted form of a conversation.
type Record struct {
	ID        string                 `json:"id"`
	Policy    string                 `json:"policy"`
	Reason    string                 `json:"reason,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Rounds    int                    `json:"rounds"`
	Messages  []conversation.Message `json:"messages"`
	StartedAt time.Time              `json:"started_at"`
	EndedAt   time.Time              `json:"ended_at,omitempty"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// RecordFromResult converts a scheduler result.
func RecordFromResult(res *conversation.Result) Record {
	msgs := make([]conversation.Message, len(res.Messages))
	copy(msgs, res.Messages)
	return Record{
		ID:        res.ChatID,
		Policy:    string(res.Policy),
		Reason:    string(res.Reason),
		Error:     res.Error,
		Rounds:    res.Rounds,
		Messages:  msgs,
		StartedAt: res.StartedAt,
		EndedAt:   res.EndedAt,
		UpdatedAt: time.Now(),
	}
}

// Result converts the record back. Rounds keeps the full count even when
// the stored messages were trimmed.
func (r Record) Result() *conversation.Result {
	msgs := make([]conversation.Message, len(r.Messages))
	copy(msgs, r.Messages)
	return &conversation.Result{
		ChatID:    r.ID,
		Policy:    conversation.Kind(r.Policy),
		Messages:  msgs,
		Rounds:    r.Rounds,
		Reason:    conversation.Reason(r.Reason),
		Error:     r.Error,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
	}
}

// trimMessages keeps the newest max messages; max <= 0 keeps all.
func trimMessages(msgs []conversation.Message, max int) []conversation.Message {
	if max <= 0 || len(msgs) <= max {
		return msgs
	}
	return msgs[len(msgs)-max:]
}

// Store extends conversation.Store with lifecycle methods.
type Store interface {
	conversation.Store

	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

func validateResult(res *conversation.Result) error {
	if res == nil || res.ChatID == "" {
		return fmt.Errorf("%w: result without chat id", ErrInvalidInput)
	}
	return nil
}
