package conversation

import (
	"context"
	"fmt"

	"github.com/BaSui01/chatflow/types"
)

// Kind tags a transition policy variant.
type Kind string

const (
	KindExplicit   Kind = "explicit"
	KindGraph      Kind = "graph"
	KindAuto       Kind = "auto"
	KindRoundRobin Kind = "round_robin"
)

// Decision is the outcome of a policy step: a next speaker or stop.
type Decision struct {
	Next string `json:"next,omitempty"`
	Stop bool   `json:"stop,omitempty"`
}

// Speak selects name as the next speaker.
func Speak(name string) Decision { return Decision{Next: name} }

// Stop ends the conversation.
func Stop() Decision { return Decision{Stop: true} }

// State is the read-only view a policy decides from.
type State struct {
	Last         string
	Messages     []Message
	Participants []Participant
	// Candidates 非空时限定可选发言人（图策略的内部选择器使用）
	Candidates  []string
	AllowRepeat bool
}

// Names returns participant names in declaration order.
func (s State) Names() []string {
	names := make([]string, len(s.Participants))
	for i, p := range s.Participants {
		names[i] = p.Name()
	}
	return names
}

// Eligible returns the names a policy may pick from: Candidates when set,
// otherwise every participant, minus Last when repeats are off and
// something else remains.
func (s State) Eligible() []string {
	if s.Candidates != nil {
		return append([]string(nil), s.Candidates...)
	}
	names := s.Names()
	if s.AllowRepeat || s.Last == "" {
		return names
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != s.Last {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return names
	}
	return out
}

// Participant returns the participant named name.
func (s State) Participant(name string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Policy decides who speaks next. The set of variants is closed.
type Policy interface {
	Kind() Kind
	Next(ctx context.Context, st State) (Decision, error)

	// validate checks the policy against the participant names.
	validate(names map[string]bool) error
}

// =============================================================================
// 📋 Explicit
// =============================================================================

// TransitionFunc maps (last speaker, log) to a decision.
type TransitionFunc func(last string, log []Message) Decision

// FuncPolicy is an explicit, caller-supplied transition function.
type FuncPolicy struct {
	Fn TransitionFunc
}

// Explicit wraps fn as a policy.
func Explicit(fn TransitionFunc) *FuncPolicy { return &FuncPolicy{Fn: fn} }

func (p *FuncPolicy) Kind() Kind { return KindExplicit }

func (p *FuncPolicy) Next(_ context.Context, st State) (Decision, error) {
	return p.Fn(st.Last, st.Messages), nil
}

func (p *FuncPolicy) validate(map[string]bool) error {
	if p.Fn == nil {
		return types.NewError(types.ErrInvalidRequest, "explicit policy requires a transition function")
	}
	return nil
}

// Chain builds an explicit policy from a fixed successor table; speakers
// without an entry stop the conversation.
func Chain(next map[string]string) *FuncPolicy {
	table := make(map[string]string, len(next))
	for k, v := range next {
		table[k] = v
	}
	return Explicit(func(last string, _ []Message) Decision {
		if n, ok := table[last]; ok && n != "" {
			return Speak(n)
		}
		return Stop()
	})
}

// =============================================================================
// 🔁 Round robin
// =============================================================================

// RoundRobinPolicy picks the next eligible participant after the last
// speaker in declaration order.
type RoundRobinPolicy struct{}

// RoundRobin returns the round-robin policy.
func RoundRobin() *RoundRobinPolicy { return &RoundRobinPolicy{} }

func (p *RoundRobinPolicy) Kind() Kind { return KindRoundRobin }

func (p *RoundRobinPolicy) Next(_ context.Context, st State) (Decision, error) {
	names := st.Names()
	eligible := make(map[string]bool)
	for _, n := range st.Eligible() {
		eligible[n] = true
	}

	start := 0
	for i, n := range names {
		if n == st.Last {
			start = i + 1
			break
		}
	}
	for i := 0; i < len(names); i++ {
		n := names[(start+i)%len(names)]
		if eligible[n] {
			return Speak(n), nil
		}
	}
	return Decision{}, types.NewError(types.ErrNoEligibleSpeaker,
		fmt.Sprintf("no eligible speaker after %q", st.Last))
}

func (p *RoundRobinPolicy) validate(map[string]bool) error { return nil }
