package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/chatflow/types"
	"go.uber.org/zap"
)

// Store persists finished conversation results.
type Store interface {
	Save(ctx context.Context, res *Result) error
	Load(ctx context.Context, chatID string) (*Result, error)
	Delete(ctx context.Context, chatID string) error
}

// DefaultMaxResults 是内存中保留的最近结果数
const DefaultMaxResults = 256

// Manager runs chats and keeps the most recent results by ID. Older
// results are evicted once persisted and then served from the store.
type Manager struct {
	scheduler  *Scheduler
	store      Store
	results    map[string]*Result
	persisted  map[string]bool
	maxResults int
	logger     *zap.Logger
	mu         sync.RWMutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMaxResults bounds the in-memory results. n <= 0 keeps the default.
func WithMaxResults(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxResults = n
		}
	}
}

// NewManager creates a manager. store may be nil.
func NewManager(scheduler *Scheduler, store Store, logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if scheduler == nil {
		scheduler = NewScheduler(WithLogger(logger))
	}
	m := &Manager{
		scheduler:  scheduler,
		store:      store,
		results:    make(map[string]*Result),
		persisted:  make(map[string]bool),
		maxResults: DefaultMaxResults,
		logger:     logger.With(zap.String("component", "chat_manager")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run executes gc and records the result, including partial results of
// failed chats.
func (m *Manager) Run(ctx context.Context, gc *GroupChat, start Start, observers ...Observer) (*Result, error) {
	res, err := m.scheduler.Run(ctx, gc, start, observers...)
	if res == nil {
		return nil, err
	}

	saved := false
	if m.store != nil {
		if serr := m.store.Save(ctx, res); serr != nil {
			m.logger.Warn("failed to persist chat", zap.String("chat_id", res.ChatID), zap.Error(serr))
		} else {
			saved = true
		}
	}

	m.mu.Lock()
	m.results[res.ChatID] = res
	if saved {
		m.persisted[res.ChatID] = true
	} else {
		delete(m.persisted, res.ChatID)
	}
	m.evictLocked()
	m.mu.Unlock()
	return res, err
}

// evictLocked 超出上限时先淘汰最旧的已持久化结果，全部未持久化时淘汰最旧结果
func (m *Manager) evictLocked() {
	for len(m.results) > m.maxResults {
		victim := m.oldestLocked(true)
		if victim == "" {
			victim = m.oldestLocked(false)
			m.logger.Warn("evicting unpersisted chat", zap.String("chat_id", victim))
		}
		delete(m.results, victim)
		delete(m.persisted, victim)
	}
}

func (m *Manager) oldestLocked(persistedOnly bool) string {
	var (
		victim string
		oldest time.Time
	)
	for id, r := range m.results {
		if persistedOnly && !m.persisted[id] {
			continue
		}
		if victim == "" || r.StartedAt.Before(oldest) ||
			(r.StartedAt.Equal(oldest) && id < victim) {
			victim, oldest = id, r.StartedAt
		}
	}
	return victim
}

// Get returns a chat result, falling back to the store.
func (m *Manager) Get(ctx context.Context, chatID string) (*Result, error) {
	m.mu.RLock()
	res, ok := m.results[chatID]
	m.mu.RUnlock()
	if ok {
		return res, nil
	}

	if m.store != nil {
		res, err := m.store.Load(ctx, chatID)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}
	return nil, types.Errorf(types.ErrChatNotFound, "chat %q not found", chatID)
}

// List returns the results still held in memory, newest first.
func (m *Manager) List() []*Result {
	m.mu.RLock()
	out := make([]*Result, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ChatID < out[j].ChatID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Delete removes a chat from memory and the store.
func (m *Manager) Delete(ctx context.Context, chatID string) error {
	m.mu.Lock()
	_, ok := m.results[chatID]
	delete(m.results, chatID)
	delete(m.persisted, chatID)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Delete(ctx, chatID); err != nil {
			if !types.IsErrorCode(err, types.ErrChatNotFound) {
				return err
			}
			if !ok {
				return err
			}
		}
		return nil
	}
	if !ok {
		return types.Errorf(types.ErrChatNotFound, "chat %q not found", chatID)
	}
	return nil
}

// Scheduler returns the underlying scheduler.
func (m *Manager) Scheduler() *Scheduler { return m.scheduler }
