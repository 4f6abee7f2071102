package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

type modelInfo struct {
	encoding  string
	maxTokens int
}

// 按模型名前缀查表；本地模型用 cl100k_base 近似各自的词表
var knownModels = map[string]modelInfo{
	"gpt-4o":        {"o200k_base", 128000},
	"gpt-4-turbo":   {"cl100k_base", 128000},
	"gpt-4":         {"cl100k_base", 8192},
	"gpt-3.5-turbo": {"cl100k_base", 16385},
	"llama3":        {"cl100k_base", 8192},
	"llama3.1":      {"cl100k_base", 131072},
	"mistral":       {"cl100k_base", 32768},
	"qwen2":         {"cl100k_base", 32768},
	"phi3":          {"cl100k_base", 4096},
}

var fallbackModel = modelInfo{"cl100k_base", 8192}

func contextWindow(model string) int {
	if info, ok := longestPrefix(knownModels, model); ok {
		return info.maxTokens
	}
	return defaultContextWindow
}

// 同名编码在所有分词器间共享；首次加载可能需要下载 BPE 文件
var encodings = struct {
	sync.Mutex
	byName map[string]*tiktoken.Tiktoken
}{byName: make(map[string]*tiktoken.Tiktoken)}

func loadEncoding(name string) (*tiktoken.Tiktoken, error) {
	encodings.Lock()
	defer encodings.Unlock()
	if enc, ok := encodings.byName[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %s: %w", name, err)
	}
	encodings.byName[name] = enc
	return enc, nil
}

// TiktokenTokenizer counts tokens with a tiktoken BPE encoding.
type TiktokenTokenizer struct {
	model string
	info  modelInfo
}

// NewTiktokenTokenizer 未知模型使用 cl100k_base 与 8192 的上下文窗口
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	info, ok := longestPrefix(knownModels, model)
	if !ok {
		info = fallbackModel
	}
	return &TiktokenTokenizer{model: model, info: info}
}

func (t *TiktokenTokenizer) count(s string) (int, error) {
	enc, err := loadEncoding(t.info.encoding)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(s, nil, nil)), nil
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	return t.count(text)
}

// CountMessages 计入角色名本身的 token
func (t *TiktokenTokenizer) CountMessages(messages []Message) (int, error) {
	total := conversationOverhead
	for _, m := range messages {
		content, err := t.count(m.Content)
		if err != nil {
			return 0, err
		}
		role, _ := t.count(m.Role)
		total += messageOverhead + content + role
	}
	return total, nil
}

func (t *TiktokenTokenizer) MaxTokens() int { return t.info.maxTokens }

func (t *TiktokenTokenizer) Name() string { return "tiktoken[" + t.info.encoding + "]" }

// RegisterDefaultTokenizers 为 knownModels 中的每个前缀注册 tiktoken 分词器
func RegisterDefaultTokenizers() {
	for model := range knownModels {
		RegisterTokenizer(model, NewTiktokenTokenizer(model))
	}
}
