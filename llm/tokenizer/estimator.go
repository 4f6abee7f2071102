package tokenizer

import "unicode"

// 以 1/12 token 为单位的每字符权重：表意文字约 1.5 字符一个 token，
// 其余约 4 字符一个 token
const (
	defaultContextWindow = 4096

	unitsPerToken = 12
	ideographUnit = 8
	otherUnit     = 3
)

var ideographic = []*unicode.RangeTable{
	unicode.Han,
	unicode.Hiragana,
	unicode.Katakana,
	unicode.Hangul,
	{R16: []unicode.Range16{
		{Lo: 0x3000, Hi: 0x303F, Stride: 1}, // CJK 标点
		{Lo: 0xFF00, Hi: 0xFFEF, Stride: 1}, // 全角字符
	}},
}

// EstimatorTokenizer 在模型没有注册真实分词器时按字符类别估算 token 数
type EstimatorTokenizer struct {
	model     string
	maxTokens int
}

// NewEstimatorTokenizer 创建估算器，maxTokens 非正时取 4096
func NewEstimatorTokenizer(model string, maxTokens int) *EstimatorTokenizer {
	if maxTokens <= 0 {
		maxTokens = defaultContextWindow
	}
	return &EstimatorTokenizer{model: model, maxTokens: maxTokens}
}

// CountTokens 非空文本至少计 1 个 token
func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	units := 0
	for _, r := range text {
		if unicode.In(r, ideographic...) {
			units += ideographUnit
		} else {
			units += otherUnit
		}
	}
	return max(units/unitsPerToken, 1), nil
}

func (e *EstimatorTokenizer) CountMessages(messages []Message) (int, error) {
	total := conversationOverhead
	for _, msg := range messages {
		n, _ := e.CountTokens(msg.Content)
		total += n + messageOverhead
	}
	return total, nil
}

func (e *EstimatorTokenizer) MaxTokens() int { return e.maxTokens }

func (e *EstimatorTokenizer) Name() string { return "estimator" }
