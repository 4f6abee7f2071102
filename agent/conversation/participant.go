package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/chatflow/llm"
	"github.com/BaSui01/chatflow/llm/tokenizer"
	"go.uber.org/zap"
)

// Participant is an actor that produces a reply given the conversation so far.
type Participant interface {
	Name() string
	Description() string
	Reply(ctx context.Context, turn Turn) (string, error)
}

// Turn is what a participant sees when asked to speak.
type Turn struct {
	Round        int       // 1-based round being produced
	Messages     []Message // copy of the log
	Introduction string    // group introduction, empty unless enabled
}

// ReplyFunc produces a reply for a turn.
type ReplyFunc func(ctx context.Context, turn Turn) (string, error)

// FuncParticipant is a participant backed by a fixed-response function.
type FuncParticipant struct {
	name        string
	description string
	fn          ReplyFunc
}

// NewFuncParticipant creates a participant that answers with fn.
func NewFuncParticipant(name, description string, fn ReplyFunc) *FuncParticipant {
	return &FuncParticipant{name: name, description: description, fn: fn}
}

// NewStaticParticipant creates a participant that always replies with text.
func NewStaticParticipant(name, description, text string) *FuncParticipant {
	return NewFuncParticipant(name, description, func(context.Context, Turn) (string, error) {
		return text, nil
	})
}

func (p *FuncParticipant) Name() string        { return p.name }
func (p *FuncParticipant) Description() string { return p.description }

func (p *FuncParticipant) Reply(ctx context.Context, turn Turn) (string, error) {
	if p.fn == nil {
		return "", fmt.Errorf("participant %s has no reply function", p.name)
	}
	return p.fn(ctx, turn)
}

// DefaultSystemMessage is used when an LLM participant has none.
const DefaultSystemMessage = "You are a helpful AI assistant."

// LLMConfig configures an LLM-backed participant.
type LLMConfig struct {
	SystemMessage string   `json:"system_message" yaml:"system_message"`
	Model         string   `json:"model" yaml:"model"`
	Temperature   float32  `json:"temperature" yaml:"temperature"`
	TopP          float32  `json:"top_p" yaml:"top_p"`
	MaxTokens     int      `json:"max_tokens" yaml:"max_tokens"`
	Seed          *int     `json:"seed,omitempty" yaml:"seed,omitempty"`
	Stop          []string `json:"stop,omitempty" yaml:"stop,omitempty"`
	// HistoryBudget 限制发送给后端的历史 token 数，0 表示不裁剪
	HistoryBudget int `json:"history_budget" yaml:"history_budget"`
}

// LLMParticipant replies through an llm.Provider. Its own messages are sent
// as assistant turns, everyone else's as named user turns.
type LLMParticipant struct {
	name        string
	description string
	provider    llm.Provider
	cfg         LLMConfig
	tokenizer   tokenizer.Tokenizer
	logger      *zap.Logger
}

// NewLLMParticipant creates an LLM-backed participant.
func NewLLMParticipant(name, description string, provider llm.Provider, cfg LLMConfig, logger *zap.Logger) *LLMParticipant {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SystemMessage == "" {
		cfg.SystemMessage = DefaultSystemMessage
	}
	return &LLMParticipant{
		name:        name,
		description: description,
		provider:    provider,
		cfg:         cfg,
		tokenizer:   tokenizer.GetTokenizerOrEstimator(cfg.Model),
		logger:      logger.With(zap.String("component", "llm_participant"), zap.String("participant", name)),
	}
}

func (p *LLMParticipant) Name() string { return p.name }

func (p *LLMParticipant) Description() string {
	if p.description != "" {
		return p.description
	}
	return p.cfg.SystemMessage
}

// Messages renders the chat request messages for a turn.
func (p *LLMParticipant) Messages(turn Turn) ([]llm.Message, error) {
	system := p.cfg.SystemMessage
	if turn.Introduction != "" {
		system += "\n\n" + turn.Introduction
	}

	msgs := make([]llm.Message, 0, len(turn.Messages)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, m := range turn.Messages {
		if m.Sender == p.name {
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
			continue
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: m.Content, Name: m.Sender})
	}

	if p.cfg.HistoryBudget <= 0 {
		return msgs, nil
	}
	return trimHistory(p.tokenizer, msgs, p.cfg.HistoryBudget)
}

func (p *LLMParticipant) Reply(ctx context.Context, turn Turn) (string, error) {
	if p.provider == nil {
		return "", fmt.Errorf("participant %s has no llm provider", p.name)
	}
	msgs, err := p.Messages(turn)
	if err != nil {
		return "", fmt.Errorf("render history: %w", err)
	}

	resp, err := p.provider.Completion(ctx, &llm.ChatRequest{
		Model:       p.cfg.Model,
		Messages:    msgs,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
		TopP:        p.cfg.TopP,
		Seed:        p.cfg.Seed,
		Stop:        p.cfg.Stop,
	})
	if err != nil {
		return "", err
	}
	content, err := llm.FirstContent(resp)
	if err != nil {
		return "", err
	}

	p.logger.Debug("llm reply",
		zap.Int("round", turn.Round),
		zap.Int("history", len(msgs)),
		zap.Int("total_tokens", resp.Usage.TotalTokens))
	return strings.TrimSpace(content), nil
}

// trimHistory windows llm messages by token budget, keeping names aligned.
func trimHistory(tok tokenizer.Tokenizer, msgs []llm.Message, budget int) ([]llm.Message, error) {
	plain := make([]tokenizer.Message, len(msgs))
	for i, m := range msgs {
		plain[i] = tokenizer.Message{Role: string(m.Role), Content: m.Content}
	}
	kept, err := tokenizer.TrimToBudget(tok, plain, budget)
	if err != nil {
		return nil, err
	}
	if len(kept) == len(msgs) {
		return msgs, nil
	}
	// TrimToBudget keeps a system prefix plus a suffix
	out := make([]llm.Message, 0, len(kept))
	head := 0
	for head < len(kept) && kept[head].Role == string(llm.RoleSystem) {
		out = append(out, msgs[head])
		head++
	}
	out = append(out, msgs[len(msgs)-(len(kept)-head):]...)
	return out, nil
}
