package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/chatflow/llm"
	"github.com/BaSui01/chatflow/types"
)

// SummaryMethod selects how a finished chat is summarized.
type SummaryMethod string

const (
	SummaryLastMsg    SummaryMethod = "last_msg"
	SummaryReflection SummaryMethod = "reflection_with_llm"
)

// DefaultSummaryPrompt asks the backend for a takeaway of the transcript.
const DefaultSummaryPrompt = "Summarize the takeaway from the conversation. Do not add any introductory phrases."

// Summarizer holds the backend used by reflection_with_llm.
type Summarizer struct {
	Provider llm.Provider
	Model    string
	Prompt   string
}

// Summarize produces the summary of res by method. An empty method means
// last_msg.
func Summarize(ctx context.Context, method SummaryMethod, res *Result, s *Summarizer) (string, error) {
	if res == nil {
		return "", nil
	}
	switch method {
	case "", SummaryLastMsg:
		last, ok := res.LastMessage()
		if !ok {
			return "", nil
		}
		return strings.TrimSpace(strings.ReplaceAll(last.Content, DefaultTerminationWord, "")), nil

	case SummaryReflection:
		if s == nil || s.Provider == nil {
			return "", types.NewError(types.ErrInvalidRequest, "reflection_with_llm requires a summary provider")
		}
		if len(res.Messages) == 0 {
			return "", nil
		}
		prompt := s.Prompt
		if prompt == "" {
			prompt = DefaultSummaryPrompt
		}
		msgs := make([]llm.Message, 0, len(res.Messages)+1)
		for _, m := range res.Messages {
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: m.Content, Name: m.Sender})
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: prompt})

		resp, err := s.Provider.Completion(ctx, &llm.ChatRequest{Model: s.Model, Messages: msgs})
		if err != nil {
			return "", fmt.Errorf("reflection summary: %w", err)
		}
		content, err := llm.FirstContent(resp)
		if err != nil {
			return "", fmt.Errorf("reflection summary: %w", err)
		}
		return strings.TrimSpace(content), nil

	default:
		return "", types.Errorf(types.ErrInvalidRequest, "unknown summary method %q", method)
	}
}
