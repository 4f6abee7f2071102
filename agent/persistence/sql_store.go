package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/internal/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChatRecord is the gorm model of an archived chat.
type ChatRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	Policy    string `gorm:"size:32;index"`
	Reason    string `gorm:"size:32"`
	Error     string `gorm:"type:text"`
	Rounds    int
	StartedAt time.Time `gorm:"index"`
	EndedAt   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time

	Messages []MessageRecord `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE"`
}

// TableName overrides the gorm default.
func (ChatRecord) TableName() string { return "chat_records" }

// MessageRecord is the gorm model of one logged message.
type MessageRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	ChatID    string `gorm:"size:64;index:idx_chat_seq,priority:1"`
	Seq       int    `gorm:"index:idx_chat_seq,priority:2"`
	Sender    string `gorm:"size:128"`
	Role      string `gorm:"size:16"`
	Content   string `gorm:"type:text"`
	Round     int
	Timestamp time.Time
}

// TableName overrides the gorm default.
func (MessageRecord) TableName() string { return "chat_messages" }

// SQLStore archives finished chats in a relational database.
type SQLStore struct {
	pool    *database.PoolManager
	retries int
	logger  *zap.Logger
}

// NewSQLStore creates the store and migrates its tables.
func NewSQLStore(pool *database.PoolManager, config StoreConfig, logger *zap.Logger) (*SQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("sql store requires a database pool")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.DB().AutoMigrate(&ChatRecord{}, &MessageRecord{}); err != nil {
		return nil, fmt.Errorf("migrate chat tables: %w", err)
	}
	return &SQLStore{
		pool:    pool,
		retries: config.SaveRetries,
		logger:  logger.With(zap.String("component", "sql_chat_store")),
	}, nil
}

// Save replaces the archived chat and its messages in one transaction.
func (s *SQLStore) Save(ctx context.Context, res *conversation.Result) error {
	if err := validateResult(res); err != nil {
		return err
	}
	chat := toChatRecord(res)

	err := s.pool.WithTransactionRetry(ctx, s.retries, func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chat.ID).Delete(&MessageRecord{}).Error; err != nil {
			return err
		}
		msgs := chat.Messages
		chat.Messages = nil
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&chat).Error; err != nil {
			return err
		}
		chat.Messages = msgs
		if len(msgs) == 0 {
			return nil
		}
		return tx.CreateInBatches(msgs, 100).Error
	})
	if err != nil {
		return fmt.Errorf("archive chat %s: %w", res.ChatID, err)
	}
	s.logger.Debug("chat archived", zap.String("chat_id", res.ChatID), zap.Int("messages", len(res.Messages)))
	return nil
}

// Load reads an archived chat with its messages in log order.
func (s *SQLStore) Load(ctx context.Context, chatID string) (*conversation.Result, error) {
	var chat ChatRecord
	err := s.pool.DB().WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		First(&chat, "id = ?", chatID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(chatID)
	}
	if err != nil {
		return nil, fmt.Errorf("load chat %s: %w", chatID, err)
	}
	return fromChatRecord(chat), nil
}

// Delete removes an archived chat and its messages.
func (s *SQLStore) Delete(ctx context.Context, chatID string) error {
	var affected int64
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chatID).Delete(&MessageRecord{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&ChatRecord{}, "id = ?", chatID)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("delete chat %s: %w", chatID, err)
	}
	if affected == 0 {
		return notFound(chatID)
	}
	return nil
}

// Recent returns up to limit archived chats, newest first, without messages.
func (s *SQLStore) Recent(ctx context.Context, limit int) ([]*conversation.Result, error) {
	if limit <= 0 {
		limit = 50
	}
	var chats []ChatRecord
	if err := s.pool.DB().WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	out := make([]*conversation.Result, len(chats))
	for i, c := range chats {
		out[i] = fromChatRecord(c)
	}
	return out, nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *SQLStore) Close() error { return nil }

// Ping checks if the store is healthy
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func toChatRecord(res *conversation.Result) ChatRecord {
	chat := ChatRecord{
		ID:        res.ChatID,
		Policy:    string(res.Policy),
		Reason:    string(res.Reason),
		Error:     res.Error,
		Rounds:    res.Rounds,
		StartedAt: res.StartedAt,
		EndedAt:   res.EndedAt,
		Messages:  make([]MessageRecord, len(res.Messages)),
	}
	for i, m := range res.Messages {
		id := m.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", res.ChatID, i)
		}
		chat.Messages[i] = MessageRecord{
			ID:        id,
			ChatID:    res.ChatID,
			Seq:       i,
			Sender:    m.Sender,
			Role:      string(m.Role),
			Content:   m.Content,
			Round:     m.Round,
			Timestamp: m.Timestamp,
		}
	}
	return chat
}

func fromChatRecord(chat ChatRecord) *conversation.Result {
	res := &conversation.Result{
		ChatID:    chat.ID,
		Policy:    conversation.Kind(chat.Policy),
		Rounds:    chat.Rounds,
		Reason:    conversation.Reason(chat.Reason),
		Error:     chat.Error,
		StartedAt: chat.StartedAt,
		EndedAt:   chat.EndedAt,
		Messages:  make([]conversation.Message, len(chat.Messages)),
	}
	for i, m := range chat.Messages {
		res.Messages[i] = conversation.Message{
			ID:        m.ID,
			Sender:    m.Sender,
			Role:      conversation.Role(m.Role),
			Content:   m.Content,
			Round:     m.Round,
			Timestamp: m.Timestamp,
		}
	}
	return res
}
