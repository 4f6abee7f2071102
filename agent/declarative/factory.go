package declarative

import (
	"fmt"
	"strings"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/llm"
	"go.uber.org/zap"
)

// DefaultMaxRounds is used when neither the scenario nor the factory sets one.
const DefaultMaxRounds = 12

// ScenarioFactory validates scenario definitions and builds group chats.
// LLM participants and auto policies share the factory's provider.
type ScenarioFactory struct {
	provider         llm.Provider
	defaultMaxRounds int
	terminationWord  string
	logger           *zap.Logger
}

// FactoryOption configures a ScenarioFactory.
type FactoryOption func(*ScenarioFactory)

// WithDefaultMaxRounds sets the round limit for scenarios without max_rounds.
func WithDefaultMaxRounds(n int) FactoryOption {
	return func(f *ScenarioFactory) {
		if n > 0 {
			f.defaultMaxRounds = n
		}
	}
}

// WithTerminationWord sets the word used when a termination block names
// neither contains nor suffix.
func WithTerminationWord(word string) FactoryOption {
	return func(f *ScenarioFactory) {
		if word != "" {
			f.terminationWord = word
		}
	}
}

// NewScenarioFactory creates a new ScenarioFactory. provider may be nil when
// no scenario uses llm participants or the auto policy.
func NewScenarioFactory(provider llm.Provider, logger *zap.Logger, opts ...FactoryOption) *ScenarioFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &ScenarioFactory{
		provider:         provider,
		defaultMaxRounds: DefaultMaxRounds,
		terminationWord:  conversation.DefaultTerminationWord,
		logger:           logger.With(zap.String("component", "scenario_factory")),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Validate checks that required fields are present and constraints are met.
// Name references in rules and transitions are checked by Build through
// conversation.GroupChat.Validate.
func (f *ScenarioFactory) Validate(def *ScenarioDefinition) error {
	if def == nil {
		return fmt.Errorf("scenario definition is nil")
	}
	if def.Name == "" {
		return fmt.Errorf("scenario definition: name is required")
	}
	if len(def.Participants) == 0 {
		return fmt.Errorf("scenario %s: at least one participant is required", def.Name)
	}
	if def.MaxRounds < 0 {
		return fmt.Errorf("scenario %s: max_rounds must be non-negative, got %d", def.Name, def.MaxRounds)
	}

	names := make(map[string]bool, len(def.Participants))
	for i, p := range def.Participants {
		if p.Name == "" {
			return fmt.Errorf("scenario %s: participant %d has no name", def.Name, i)
		}
		names[p.Name] = true
		switch p.Type {
		case "", ParticipantLLM:
			if p.Temperature < 0 || p.Temperature > 2 {
				return fmt.Errorf("scenario %s: participant %s: temperature must be between 0 and 2, got %g", def.Name, p.Name, p.Temperature)
			}
			if p.MaxTokens < 0 {
				return fmt.Errorf("scenario %s: participant %s: max_tokens must be non-negative, got %d", def.Name, p.Name, p.MaxTokens)
			}
		case ParticipantStatic:
		default:
			return fmt.Errorf("scenario %s: participant %s: unknown type %q", def.Name, p.Name, p.Type)
		}
	}
	switch conversation.SummaryMethod(def.SummaryMethod) {
	case "", conversation.SummaryLastMsg, conversation.SummaryReflection:
	default:
		return fmt.Errorf("scenario %s: unknown summary_method %q", def.Name, def.SummaryMethod)
	}
	if def.Start != "" && !names[def.Start] {
		return fmt.Errorf("scenario %s: start speaker %q is not a participant", def.Name, def.Start)
	}
	return f.validatePolicy(def.Name, &def.Policy, names)
}

func (f *ScenarioFactory) validatePolicy(scenario string, p *PolicyDefinition, names map[string]bool) error {
	switch p.Type {
	case PolicyExplicit, PolicyStateFlow:
		if len(p.Rules) == 0 {
			return fmt.Errorf("scenario %s: %s policy needs rules", scenario, p.Type)
		}
		for speaker, rule := range p.Rules {
			if !names[speaker] {
				return fmt.Errorf("scenario %s: rule for unknown speaker %q", scenario, speaker)
			}
			for _, target := range []string{rule.Next, rule.Then, rule.Otherwise} {
				if target != "" && target != StopSentinel && !names[target] {
					return fmt.Errorf("scenario %s: rule for %s targets unknown speaker %q", scenario, speaker, target)
				}
			}
		}
	case PolicyGraph:
		switch conversation.TransitionsType(p.TransitionsType) {
		case "", conversation.TransitionsAllowed, conversation.TransitionsDisallowed:
		default:
			return fmt.Errorf("scenario %s: unknown transitions_type %q", scenario, p.TransitionsType)
		}
		if p.Chooser != nil {
			if p.Chooser.Type == PolicyGraph {
				return fmt.Errorf("scenario %s: graph chooser cannot be a graph", scenario)
			}
			return f.validatePolicy(scenario, p.Chooser, names)
		}
	case PolicyAuto:
		if f.provider == nil {
			return fmt.Errorf("scenario %s: auto policy requires an llm provider", scenario)
		}
		if p.Auto != nil {
			switch p.Auto.TieBreak {
			case "", "first_mention", "preference":
			default:
				return fmt.Errorf("scenario %s: unknown tie_break %q", scenario, p.Auto.TieBreak)
			}
		}
	case PolicyRoundRobin:
	case "":
		return fmt.Errorf("scenario %s: policy type is required", scenario)
	default:
		return fmt.Errorf("scenario %s: unknown policy type %q", scenario, p.Type)
	}
	return nil
}

// Build validates def and converts it into a runnable group chat.
func (f *ScenarioFactory) Build(def *ScenarioDefinition) (*conversation.GroupChat, error) {
	if err := f.Validate(def); err != nil {
		return nil, err
	}

	participants := make([]conversation.Participant, 0, len(def.Participants))
	for _, p := range def.Participants {
		part, err := f.buildParticipant(p)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", def.Name, err)
		}
		participants = append(participants, part)
	}

	policy, err := f.buildPolicy(&def.Policy)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", def.Name, err)
	}

	maxRounds := def.MaxRounds
	if maxRounds == 0 {
		maxRounds = f.defaultMaxRounds
	}
	allowRepeat := true
	if def.AllowRepeatSpeaker != nil {
		allowRepeat = *def.AllowRepeatSpeaker
	}

	gc := &conversation.GroupChat{
		Participants:         participants,
		Policy:               policy,
		MaxRounds:            maxRounds,
		IsTermination:        f.buildTermination(def.Termination),
		AllowRepeatSpeaker:   allowRepeat,
		SendIntroductions:    def.SendIntroductions,
		IntroductionTemplate: def.IntroductionTemplate,
	}
	if err := gc.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", def.Name, err)
	}

	f.logger.Debug("scenario built",
		zap.String("scenario", def.Name),
		zap.String("policy", def.Policy.Type),
		zap.Int("participants", len(participants)),
		zap.Int("max_rounds", maxRounds))
	return gc, nil
}

func (f *ScenarioFactory) buildParticipant(p ParticipantDefinition) (conversation.Participant, error) {
	if p.Type == ParticipantStatic {
		return conversation.NewStaticParticipant(p.Name, p.Description, p.Reply), nil
	}
	if f.provider == nil {
		return nil, fmt.Errorf("participant %s: llm participants require an llm provider", p.Name)
	}
	return conversation.NewLLMParticipant(p.Name, p.Description, f.provider, conversation.LLMConfig{
		SystemMessage: p.SystemMessage,
		Model:         p.Model,
		Temperature:   p.Temperature,
		TopP:          p.TopP,
		MaxTokens:     p.MaxTokens,
		Seed:          p.Seed,
		Stop:          p.Stop,
		HistoryBudget: p.HistoryBudget,
	}, f.logger), nil
}

func (f *ScenarioFactory) buildPolicy(p *PolicyDefinition) (conversation.Policy, error) {
	switch p.Type {
	case PolicyExplicit, PolicyStateFlow:
		return StateFlow(p.Rules), nil
	case PolicyGraph:
		var chooser conversation.Policy
		if p.Chooser != nil {
			c, err := f.buildPolicy(p.Chooser)
			if err != nil {
				return nil, fmt.Errorf("graph chooser: %w", err)
			}
			chooser = c
		}
		typ := conversation.TransitionsType(p.TransitionsType)
		if typ == "" {
			typ = conversation.TransitionsAllowed
		}
		return conversation.Graph(p.Transitions, typ, chooser), nil
	case PolicyAuto:
		return conversation.NewAutoPolicy(f.provider, autoConfig(p.Auto), f.logger), nil
	case PolicyRoundRobin:
		return conversation.RoundRobin(), nil
	default:
		return nil, fmt.Errorf("unknown policy type %q", p.Type)
	}
}

func autoConfig(a *AutoDefinition) conversation.AutoConfig {
	if a == nil {
		return conversation.AutoConfig{}
	}
	cfg := conversation.AutoConfig{
		Model:                 a.Model,
		Temperature:           a.Temperature,
		Seed:                  a.Seed,
		SelectMessageTemplate: a.SelectMessageTemplate,
		SelectPromptTemplate:  a.SelectPromptTemplate,
		AutoMultipleTemplate:  a.AutoMultipleTemplate,
		AutoNoneTemplate:      a.AutoNoneTemplate,
		SelectRole:            llm.Role(a.SelectRole),
		MaxAttempts:           a.MaxAttempts,
	}
	switch a.TieBreak {
	case "first_mention":
		cfg.TieBreak = conversation.FirstMentionTieBreak()
	case "preference":
		cfg.TieBreak = conversation.PreferenceTieBreak(a.Preference...)
	}
	return cfg
}

func (f *ScenarioFactory) buildTermination(t *TerminationDefinition) conversation.TerminationFunc {
	if t == nil {
		return nil
	}
	var fns []conversation.TerminationFunc
	if t.Contains != "" {
		fns = append(fns, conversation.ContainsTermination(t.Contains))
	}
	if t.Suffix != "" {
		fns = append(fns, conversation.SuffixTermination(t.Suffix))
	}
	if len(fns) == 0 {
		fns = append(fns, conversation.ContainsTermination(f.terminationWord))
	}
	return conversation.AnyTermination(fns...)
}

// StateFlow builds an explicit policy from state-flow rules. The rule of
// the last speaker is applied to the last message; a missing rule or the
// STOP sentinel ends the chat.
func StateFlow(rules map[string]RuleDefinition) conversation.Policy {
	table := make(map[string]RuleDefinition, len(rules))
	for k, v := range rules {
		table[k] = v
	}
	return conversation.Explicit(func(last string, log []conversation.Message) conversation.Decision {
		rule, ok := table[last]
		if !ok {
			return conversation.Stop()
		}
		target := rule.Next
		if rule.WhenContains != "" {
			var content string
			if len(log) > 0 {
				content = log[len(log)-1].Content
			}
			if strings.Contains(content, rule.WhenContains) {
				target = rule.Then
			} else if rule.Otherwise != "" {
				target = rule.Otherwise
			}
		}
		if target == "" || target == StopSentinel {
			return conversation.Stop()
		}
		return conversation.Speak(target)
	})
}
