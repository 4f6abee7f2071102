package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Role is the role tag carried by a logged message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of the conversation log.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Round     int       `json:"round"` // 1-based position in the log
	Timestamp time.Time `json:"timestamp"`
}

func newMessage(sender string, role Role, content string, round int) Message {
	return Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Role:      role,
		Content:   content,
		Round:     round,
		Timestamp: time.Now(),
	}
}

func copyMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
