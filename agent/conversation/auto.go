package conversation

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/BaSui01/chatflow/llm"
	"github.com/BaSui01/chatflow/types"
	"go.uber.org/zap"
)

// Selection prompt placeholders: {roles} expands to "name: description"
// lines, {agentlist} to the bracketed candidate list.
const (
	DefaultSelectMessageTemplate = `You are in a role play game. The following roles are available:
{roles}.
Read the following conversation.
Then select the next role from {agentlist} to play. Only return the role.`

	DefaultSelectPromptTemplate = "Read the above conversation. Then select the next role from {agentlist} to play. Only return the role."

	DefaultAutoMultipleTemplate = `You named more than one role. Return only the name of the next speaker, chosen by these rules in order:
1. If the text speaks as one of the roles (e.g. "As the ..."), choose that role.
2. If the text names who should speak next, choose that role.
3. Otherwise choose the first role mentioned.
Names are case-sensitive and must not be abbreviated or changed.
Respond with ONLY the name and no explanation.`

	DefaultAutoNoneTemplate = `You did not name a role. Return only the name of the next speaker, chosen by these rules in order:
1. If the text speaks as one of the roles (e.g. "As the ..."), choose that role.
2. If the text names who should speak next, choose that role.
3. Otherwise choose the first role mentioned.
Names are case-sensitive and must not be abbreviated or changed.
The only accepted names are {agentlist}.
Respond with ONLY the name and no explanation.`

	defaultAutoMaxAttempts = 3
)

// TieBreakFunc resolves a reply that mentioned several candidates. It
// returns ok=false when it cannot decide; it must not guess.
type TieBreakFunc func(reply string, mentioned []string, st State) (name string, ok bool)

// AutoConfig configures LLM-based speaker selection.
type AutoConfig struct {
	Model       string  `json:"model" yaml:"model"`
	Temperature float32 `json:"temperature" yaml:"temperature"`
	Seed        *int    `json:"seed,omitempty" yaml:"seed,omitempty"`

	SelectMessageTemplate string `json:"select_message_template" yaml:"select_message_template"`
	SelectPromptTemplate  string `json:"select_prompt_template" yaml:"select_prompt_template"`
	AutoMultipleTemplate  string `json:"auto_multiple_template" yaml:"auto_multiple_template"`
	AutoNoneTemplate      string `json:"auto_none_template" yaml:"auto_none_template"`
	// SelectRole 为选人提示消息使用的角色，默认 system
	SelectRole  llm.Role `json:"select_role" yaml:"select_role"`
	MaxAttempts int      `json:"max_attempts" yaml:"max_attempts"`

	TieBreak TieBreakFunc `json:"-" yaml:"-"`
}

// AutoPolicy asks an LLM backend to name the next speaker.
type AutoPolicy struct {
	provider llm.Provider
	cfg      AutoConfig
	logger   *zap.Logger
}

// NewAutoPolicy creates an auto-selection policy; empty templates fall back
// to the defaults.
func NewAutoPolicy(provider llm.Provider, cfg AutoConfig, logger *zap.Logger) *AutoPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SelectMessageTemplate == "" {
		cfg.SelectMessageTemplate = DefaultSelectMessageTemplate
	}
	if cfg.SelectPromptTemplate == "" {
		cfg.SelectPromptTemplate = DefaultSelectPromptTemplate
	}
	if cfg.AutoMultipleTemplate == "" {
		cfg.AutoMultipleTemplate = DefaultAutoMultipleTemplate
	}
	if cfg.AutoNoneTemplate == "" {
		cfg.AutoNoneTemplate = DefaultAutoNoneTemplate
	}
	if cfg.SelectRole == "" {
		cfg.SelectRole = llm.RoleSystem
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultAutoMaxAttempts
	}
	return &AutoPolicy{
		provider: provider,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "auto_policy")),
	}
}

func (p *AutoPolicy) Kind() Kind { return KindAuto }

func (p *AutoPolicy) validate(map[string]bool) error {
	if p.provider == nil {
		return types.NewError(types.ErrInvalidRequest, "auto policy requires an llm provider")
	}
	return nil
}

func (p *AutoPolicy) Next(ctx context.Context, st State) (Decision, error) {
	candidates := st.Eligible()
	switch len(candidates) {
	case 0:
		return Decision{}, types.NewError(types.ErrNoEligibleSpeaker, "no candidates for auto selection")
	case 1:
		return Speak(candidates[0]), nil
	}

	vars := p.templateVars(st, candidates)
	msgs := make([]llm.Message, 0, len(st.Messages)+2)
	msgs = append(msgs, llm.Message{Role: p.cfg.SelectRole, Content: render(p.cfg.SelectMessageTemplate, vars)})
	for _, m := range st.Messages {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: m.Content, Name: m.Sender})
	}
	msgs = append(msgs, llm.Message{Role: p.cfg.SelectRole, Content: render(p.cfg.SelectPromptTemplate, vars)})

	var replies []string
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		reply, err := p.ask(ctx, msgs)
		if err != nil {
			return Decision{}, fmt.Errorf("auto speaker selection: %w", err)
		}
		replies = append(replies, reply)

		mentioned := MentionedNames(reply, candidates)
		switch {
		case len(mentioned) == 1:
			p.logger.Debug("speaker selected", zap.String("speaker", mentioned[0]), zap.Int("attempt", attempt))
			return Speak(mentioned[0]), nil

		case len(mentioned) > 1:
			if p.cfg.TieBreak != nil {
				if name, ok := p.cfg.TieBreak(reply, mentioned, st); ok && contains(mentioned, name) {
					p.logger.Debug("speaker selected by tie-break", zap.String("speaker", name))
					return Speak(name), nil
				}
			}
			msgs = append(msgs,
				llm.Message{Role: llm.RoleAssistant, Content: reply},
				llm.Message{Role: llm.RoleUser, Content: render(p.cfg.AutoMultipleTemplate, vars)})

		default:
			msgs = append(msgs,
				llm.Message{Role: llm.RoleAssistant, Content: reply},
				llm.Message{Role: llm.RoleUser, Content: render(p.cfg.AutoNoneTemplate, vars)})
		}

		p.logger.Debug("speaker selection unresolved",
			zap.Int("attempt", attempt),
			zap.Strings("mentioned", mentioned))
	}

	return Decision{}, types.Errorf(types.ErrAmbiguousSpeaker,
		"no unique speaker after %d attempts (last reply %q)", p.cfg.MaxAttempts, replies[len(replies)-1])
}

func (p *AutoPolicy) ask(ctx context.Context, msgs []llm.Message) (string, error) {
	resp, err := p.provider.Completion(ctx, &llm.ChatRequest{
		Model:       p.cfg.Model,
		Messages:    msgs,
		Temperature: p.cfg.Temperature,
		Seed:        p.cfg.Seed,
	})
	if err != nil {
		return "", err
	}
	return llm.FirstContent(resp)
}

func (p *AutoPolicy) templateVars(st State, candidates []string) map[string]string {
	var roles strings.Builder
	for i, name := range candidates {
		if i > 0 {
			roles.WriteByte('\n')
		}
		desc := ""
		if part, ok := st.Participant(name); ok {
			desc = part.Description()
		}
		roles.WriteString(name + ": " + desc)
	}
	return map[string]string{
		"roles":     roles.String(),
		"agentlist": "[" + strings.Join(candidates, ", ") + "]",
	}
}

// render substitutes {key} placeholders; unknown placeholders are left as is.
func render(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// MentionedNames returns the candidates mentioned in text as whole words,
// in candidate order. A name also matches with underscores written as
// spaces ("Adder_Agent" matches "Adder Agent").
func MentionedNames(text string, candidates []string) []string {
	var out []string
	for _, name := range candidates {
		n := CountMentions(text, name)
		if spaced := strings.ReplaceAll(name, "_", " "); spaced != name {
			n += CountMentions(text, spaced)
		}
		if n > 0 {
			out = append(out, name)
		}
	}
	return out
}

// CountMentions counts whole-word occurrences of name in text.
func CountMentions(text, name string) int {
	if name == "" {
		return 0
	}
	count := 0
	for i := 0; i <= len(text)-len(name); {
		idx := strings.Index(text[i:], name)
		if idx < 0 {
			break
		}
		start := i + idx
		end := start + len(name)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			count++
		}
		i = start + 1
	}
	return count
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// PreferenceTieBreak resolves ties by a fixed priority order; names not in
// order never win a tie.
func PreferenceTieBreak(order ...string) TieBreakFunc {
	return func(_ string, mentioned []string, _ State) (string, bool) {
		for _, o := range order {
			if contains(mentioned, o) {
				return o, true
			}
		}
		return "", false
	}
}

// FirstMentionTieBreak picks the candidate whose name appears earliest in
// the reply.
func FirstMentionTieBreak() TieBreakFunc {
	return func(reply string, mentioned []string, _ State) (string, bool) {
		best, bestAt := "", len(reply)+1
		for _, name := range mentioned {
			at := firstMention(reply, name)
			if spaced := strings.ReplaceAll(name, "_", " "); spaced != name {
				if a := firstMention(reply, spaced); a >= 0 && (at < 0 || a < at) {
					at = a
				}
			}
			if at >= 0 && at < bestAt {
				best, bestAt = name, at
			}
		}
		return best, best != ""
	}
}

func firstMention(text, name string) int {
	for i := 0; i <= len(text)-len(name); {
		idx := strings.Index(text[i:], name)
		if idx < 0 {
			return -1
		}
		start := i + idx
		if boundaryBefore(text, start) && boundaryAfter(text, start+len(name)) {
			return start
		}
		i = start + 1
	}
	return -1
}
