package conversation

import (
	"context"
	"fmt"
	"sort"

	"github.com/BaSui01/chatflow/types"
)

// TransitionsType selects how a transition graph is read.
type TransitionsType string

const (
	TransitionsAllowed    TransitionsType = "allowed"
	TransitionsDisallowed TransitionsType = "disallowed"
)

// GraphPolicy restricts speaker transitions to (or away from) an adjacency
// map. When more than one candidate remains, Chooser picks among them.
//
// A dead end (no permitted speaker after the last one) is a NO_ELIGIBLE_SPEAKER
// error, so the run ends with ReasonError and a partial log. A graph that is
// meant to finish should route to a speaker whose turn trips the termination
// predicate, or use a FuncPolicy that returns Stop.
type GraphPolicy struct {
	Transitions map[string][]string
	Type        TransitionsType
	// Chooser 为空时按声明顺序在候选中轮询
	Chooser Policy
}

// Graph creates a graph policy; chooser may be nil.
func Graph(transitions map[string][]string, typ TransitionsType, chooser Policy) *GraphPolicy {
	return &GraphPolicy{Transitions: transitions, Type: typ, Chooser: chooser}
}

func (p *GraphPolicy) Kind() Kind { return KindGraph }

// Candidates returns the speakers the graph permits after last, in
// participant declaration order.
func (p *GraphPolicy) Candidates(st State) []string {
	edges := make(map[string]bool)
	for _, n := range p.Transitions[st.Last] {
		edges[n] = true
	}

	var out []string
	for _, n := range st.Names() {
		permitted := edges[n]
		if p.Type == TransitionsDisallowed {
			permitted = !edges[n]
		}
		if !permitted {
			continue
		}
		if n == st.Last && !st.AllowRepeat {
			continue
		}
		out = append(out, n)
	}
	return out
}

func (p *GraphPolicy) Next(ctx context.Context, st State) (Decision, error) {
	candidates := p.Candidates(st)
	switch len(candidates) {
	case 0:
		return Decision{}, types.NewError(types.ErrNoEligibleSpeaker,
			fmt.Sprintf("graph allows no speaker after %q", st.Last))
	case 1:
		return Speak(candidates[0]), nil
	}

	chooser := p.Chooser
	if chooser == nil {
		chooser = RoundRobin()
	}
	inner := st
	inner.Candidates = candidates

	d, err := chooser.Next(ctx, inner)
	if err != nil || d.Stop {
		return d, err
	}
	for _, c := range candidates {
		if c == d.Next {
			return d, nil
		}
	}
	return Decision{}, types.NewError(types.ErrInvalidTransition,
		fmt.Sprintf("transition %q -> %q is not permitted", st.Last, d.Next))
}

func (p *GraphPolicy) validate(names map[string]bool) error {
	switch p.Type {
	case TransitionsAllowed, TransitionsDisallowed:
	default:
		return types.Errorf(types.ErrInvalidRequest, "unknown transitions type %q", p.Type)
	}

	froms := make([]string, 0, len(p.Transitions))
	for from := range p.Transitions {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	for _, from := range froms {
		if !names[from] {
			return types.Errorf(types.ErrInvalidRequest, "transition source %q is not a participant", from)
		}
		for _, to := range p.Transitions[from] {
			if !names[to] {
				return types.Errorf(types.ErrInvalidRequest, "transition target %q (from %q) is not a participant", to, from)
			}
		}
	}

	if p.Chooser != nil {
		if p.Chooser.Kind() == KindGraph {
			return types.NewError(types.ErrInvalidRequest, "graph chooser cannot itself be a graph policy")
		}
		return p.Chooser.validate(names)
	}
	return nil
}
