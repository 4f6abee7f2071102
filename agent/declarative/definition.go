package declarative

import (
	"github.com/BaSui01/chatflow/agent/conversation"
)

// StopSentinel ends the conversation when used as a rule target.
const StopSentinel = "STOP"

// Participant types.
const (
	ParticipantLLM    = "llm"
	ParticipantStatic = "static"
)

// Policy types. "state_flow" is an alias of "explicit".
const (
	PolicyExplicit   = "explicit"
	PolicyStateFlow  = "state_flow"
	PolicyGraph      = "graph"
	PolicyAuto       = "auto"
	PolicyRoundRobin = "round_robin"
)

// ScenarioDefinition is a declarative group chat.
// This struct is designed to be deserialized from YAML or JSON files.
type ScenarioDefinition struct {
	// Identity
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Version     string `yaml:"version,omitempty" json:"version,omitempty"`

	Participants []ParticipantDefinition `yaml:"participants" json:"participants"`
	Policy       PolicyDefinition        `yaml:"policy" json:"policy"`

	// MaxRounds 为 0 时取工厂默认值
	MaxRounds   int                    `yaml:"max_rounds,omitempty" json:"max_rounds,omitempty"`
	Termination *TerminationDefinition `yaml:"termination,omitempty" json:"termination,omitempty"`

	// AllowRepeatSpeaker defaults to true when omitted.
	AllowRepeatSpeaker   *bool  `yaml:"allow_repeat_speaker,omitempty" json:"allow_repeat_speaker,omitempty"`
	SendIntroductions    bool   `yaml:"send_introductions,omitempty" json:"send_introductions,omitempty"`
	IntroductionTemplate string `yaml:"introduction_template,omitempty" json:"introduction_template,omitempty"`

	// Default opening turn
	Start   string `yaml:"start,omitempty" json:"start,omitempty"`
	Message string `yaml:"message,omitempty" json:"message,omitempty"`

	// SummaryMethod is "last_msg" (default) or "reflection_with_llm".
	SummaryMethod string `yaml:"summary_method,omitempty" json:"summary_method,omitempty"`

	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// StartOf returns the opening turn, preferring message over the scenario's
// default message. The first participant starts when no start is declared.
func (d *ScenarioDefinition) StartOf(message string) conversation.Start {
	start := conversation.Start{Speaker: d.Start, Content: d.Message}
	if start.Speaker == "" && len(d.Participants) > 0 {
		start.Speaker = d.Participants[0].Name
	}
	if message != "" {
		start.Content = message
	}
	return start
}

// ParticipantDefinition describes one participant.
type ParticipantDefinition struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Type        string `yaml:"type,omitempty" json:"type,omitempty"` // "llm" (default), "static"

	// static
	Reply string `yaml:"reply,omitempty" json:"reply,omitempty"`

	// llm
	SystemMessage string   `yaml:"system_message,omitempty" json:"system_message,omitempty"`
	Model         string   `yaml:"model,omitempty" json:"model,omitempty"`
	Temperature   float32  `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	TopP          float32  `yaml:"top_p,omitempty" json:"top_p,omitempty"`
	MaxTokens     int      `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Seed          *int     `yaml:"seed,omitempty" json:"seed,omitempty"`
	Stop          []string `yaml:"stop,omitempty" json:"stop,omitempty"`
	HistoryBudget int      `yaml:"history_budget,omitempty" json:"history_budget,omitempty"`
}

// PolicyDefinition selects and configures a transition policy.
type PolicyDefinition struct {
	Type string `yaml:"type" json:"type"`

	// explicit / state_flow
	Rules map[string]RuleDefinition `yaml:"rules,omitempty" json:"rules,omitempty"`

	// graph
	Transitions     map[string][]string `yaml:"transitions,omitempty" json:"transitions,omitempty"`
	TransitionsType string              `yaml:"transitions_type,omitempty" json:"transitions_type,omitempty"` // "allowed" (default), "disallowed"
	Chooser         *PolicyDefinition   `yaml:"chooser,omitempty" json:"chooser,omitempty"`

	// auto
	Auto *AutoDefinition `yaml:"auto,omitempty" json:"auto,omitempty"`
}

// RuleDefinition is the state-flow rule for one speaker. When WhenContains
// is set and the last message contains it, Then applies, otherwise
// Otherwise; Next applies when no condition is declared.
type RuleDefinition struct {
	Next         string `yaml:"next,omitempty" json:"next,omitempty"`
	WhenContains string `yaml:"when_contains,omitempty" json:"when_contains,omitempty"`
	Then         string `yaml:"then,omitempty" json:"then,omitempty"`
	Otherwise    string `yaml:"otherwise,omitempty" json:"otherwise,omitempty"`
}

// AutoDefinition configures LLM speaker selection.
type AutoDefinition struct {
	Model                 string   `yaml:"model,omitempty" json:"model,omitempty"`
	Temperature           float32  `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	Seed                  *int     `yaml:"seed,omitempty" json:"seed,omitempty"`
	SelectMessageTemplate string   `yaml:"select_message_template,omitempty" json:"select_message_template,omitempty"`
	SelectPromptTemplate  string   `yaml:"select_prompt_template,omitempty" json:"select_prompt_template,omitempty"`
	AutoMultipleTemplate  string   `yaml:"auto_multiple_template,omitempty" json:"auto_multiple_template,omitempty"`
	AutoNoneTemplate      string   `yaml:"auto_none_template,omitempty" json:"auto_none_template,omitempty"`
	SelectRole            string   `yaml:"select_role,omitempty" json:"select_role,omitempty"` // "system" (default), "user"
	MaxAttempts           int      `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	TieBreak              string   `yaml:"tie_break,omitempty" json:"tie_break,omitempty"` // "", "first_mention", "preference"
	Preference            []string `yaml:"preference,omitempty" json:"preference,omitempty"`
}

// TerminationDefinition declares the termination predicate. Both fields
// may be set; either one matching ends the chat.
type TerminationDefinition struct {
	Contains string `yaml:"contains,omitempty" json:"contains,omitempty"`
	Suffix   string `yaml:"suffix,omitempty" json:"suffix,omitempty"`
}
