package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/chatflow/types"
	"go.uber.org/zap"
)

// ChatSpec is one chat of a sequence. The opening message is prefixed with
// the summaries carried over from earlier chats.
type ChatSpec struct {
	Group      *GroupChat
	Start      Start
	Summary    SummaryMethod
	Summarizer *Summarizer
	// Carryover 为额外的上下文，会排在前序摘要之前
	Carryover []string
}

// CarryoverMessage joins message and the carryover context.
func CarryoverMessage(message string, carryover []string) string {
	var parts []string
	for _, c := range carryover {
		if strings.TrimSpace(c) != "" {
			parts = append(parts, c)
		}
	}
	if len(parts) == 0 {
		return message
	}
	return message + "\nContext: \n" + strings.Join(parts, "\n")
}

// InitiateChats runs chats in order. Each chat receives the summaries of all
// earlier chats as carryover. It stops at the first failing chat and
// returns the results so far.
func (s *Scheduler) InitiateChats(ctx context.Context, chats []ChatSpec) ([]*ChatResult, error) {
	results := make([]*ChatResult, 0, len(chats))
	var summaries []string

	for i, chat := range chats {
		if chat.Group == nil {
			return results, types.Errorf(types.ErrInvalidRequest, "chat %d has no group", i)
		}

		carry := append(append([]string(nil), chat.Carryover...), summaries...)
		start := chat.Start
		start.Content = CarryoverMessage(start.Content, carry)

		s.logger.Info("sequential chat", zap.Int("index", i), zap.Int("carryover", len(carry)))

		res, err := s.Run(ctx, chat.Group, start)
		if err != nil {
			if res != nil {
				results = append(results, &ChatResult{Result: res})
			}
			return results, fmt.Errorf("chat %d: %w", i, err)
		}

		summary, err := Summarize(ctx, chat.Summary, res, chat.Summarizer)
		results = append(results, &ChatResult{Result: res, Summary: summary})
		if err != nil {
			return results, fmt.Errorf("chat %d summary: %w", i, err)
		}
		summaries = append(summaries, summary)
	}
	return results, nil
}
