package tokenizer

import (
	"fmt"
	"strings"
	"sync"
)

// Tokenizer counts tokens for one model family.
type Tokenizer interface {
	CountTokens(text string) (int, error)
	// CountMessages 包含每条消息与整段对话的格式开销
	CountMessages(messages []Message) (int, error)
	// MaxTokens 是模型的上下文窗口
	MaxTokens() int
	Name() string
}

// Message 只保留计数需要的字段，本包不依赖 llm
type Message struct {
	Role    string
	Content string
}

// OpenAI chat 格式的固定开销
const (
	messageOverhead      = 4
	conversationOverhead = 3
)

// longestPrefix 先精确匹配 key，否则返回最长的前缀项
func longestPrefix[V any](m map[string]V, key string) (V, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	var (
		best    V
		bestLen int
	)
	for prefix, v := range m {
		if len(prefix) > bestLen && strings.HasPrefix(key, prefix) {
			best, bestLen = v, len(prefix)
		}
	}
	return best, bestLen > 0
}

// =============================================================================
// 📚 模型 → 分词器注册表
// =============================================================================

var registry = struct {
	sync.RWMutex
	byModel map[string]Tokenizer
}{byModel: make(map[string]Tokenizer)}

// RegisterTokenizer 注册后，以 model 为前缀的模型名（如 "llama3:8b"）也会命中
func RegisterTokenizer(model string, t Tokenizer) {
	registry.Lock()
	registry.byModel[model] = t
	registry.Unlock()
}

func GetTokenizer(model string) (Tokenizer, error) {
	registry.RLock()
	t, ok := longestPrefix(registry.byModel, model)
	registry.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no tokenizer registered for model %q", model)
	}
	return t, nil
}

// GetTokenizerOrEstimator 未注册时回退到估算器，上下文窗口仍按已知模型表取值
func GetTokenizerOrEstimator(model string) Tokenizer {
	if t, err := GetTokenizer(model); err == nil {
		return t
	}
	return NewEstimatorTokenizer(model, contextWindow(model))
}
