package conversation

import (
	"context"
	"testing"

	"github.com/BaSui01/chatflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stateFor(last string, allowRepeat bool, names ...string) State {
	return State{Last: last, Participants: echo(names...), AllowRepeat: allowRepeat}
}

func TestPolicyKinds(t *testing.T) {
	assert.Equal(t, KindExplicit, Explicit(func(string, []Message) Decision { return Stop() }).Kind())
	assert.Equal(t, KindGraph, Graph(nil, TransitionsAllowed, nil).Kind())
	assert.Equal(t, KindAuto, NewAutoPolicy(nil, AutoConfig{}, nil).Kind())
	assert.Equal(t, KindRoundRobin, RoundRobin().Kind())
}

func TestState_Eligible(t *testing.T) {
	assert.Equal(t, []string{"A", "B", "C"}, stateFor("A", true, "A", "B", "C").Eligible())
	assert.Equal(t, []string{"B", "C"}, stateFor("A", false, "A", "B", "C").Eligible())
	assert.Equal(t, []string{"A"}, stateFor("A", false, "A").Eligible())

	st := stateFor("A", false, "A", "B", "C")
	st.Candidates = []string{"C"}
	assert.Equal(t, []string{"C"}, st.Eligible())
}

func TestRoundRobinPolicy(t *testing.T) {
	tests := []struct {
		name string
		st   State
		want string
	}{
		{"next in order", stateFor("A", false, "A", "B", "C"), "B"},
		{"wraps", stateFor("C", false, "A", "B", "C"), "A"},
		{"single participant repeats", stateFor("A", false, "A"), "A"},
		{"restricted to candidates", State{Last: "A", Participants: echo("A", "B", "C", "D"), Candidates: []string{"A", "D"}}, "D"},
		{"candidates wrap to last speaker", State{Last: "A", Participants: echo("A", "B"), Candidates: []string{"A"}}, "A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := RoundRobin().Next(context.Background(), tt.st)
			require.NoError(t, err)
			assert.Equal(t, Speak(tt.want), d)
		})
	}

	_, err := RoundRobin().Next(context.Background(), State{Last: "A", Participants: echo("A"), Candidates: []string{}})
	assert.True(t, types.IsErrorCode(err, types.ErrNoEligibleSpeaker))
}

func TestChain(t *testing.T) {
	p := Chain(map[string]string{"A": "B", "B": ""})
	d, _ := p.Next(context.Background(), State{Last: "A"})
	assert.Equal(t, Speak("B"), d)
	d, _ = p.Next(context.Background(), State{Last: "B"})
	assert.True(t, d.Stop)
	d, _ = p.Next(context.Background(), State{Last: "Z"})
	assert.True(t, d.Stop)
}

func TestGraphPolicy_Candidates(t *testing.T) {
	edges := map[string][]string{
		"Number": {"Adder", "Number"},
		"Adder":  {"Multiplier", "Number"},
	}
	names := []string{"Adder", "Multiplier", "Number"}

	tests := []struct {
		name        string
		typ         TransitionsType
		last        string
		allowRepeat bool
		want        []string
	}{
		{"allowed keeps declaration order", TransitionsAllowed, "Adder", false, []string{"Multiplier", "Number"}},
		{"allowed self loop with repeat", TransitionsAllowed, "Number", true, []string{"Adder", "Number"}},
		{"allowed self loop without repeat", TransitionsAllowed, "Number", false, []string{"Adder"}},
		{"allowed without edges", TransitionsAllowed, "Multiplier", true, nil},
		{"disallowed complements", TransitionsDisallowed, "Adder", true, []string{"Adder"}},
		{"disallowed without repeat", TransitionsDisallowed, "Adder", false, nil},
		{"disallowed without edges", TransitionsDisallowed, "Multiplier", false, []string{"Adder", "Number"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Graph(edges, tt.typ, nil)
			assert.Equal(t, tt.want, p.Candidates(stateFor(tt.last, tt.allowRepeat, names...)))
		})
	}
}

func TestGraphPolicy_Next(t *testing.T) {
	edges := map[string][]string{"A": {"B", "C"}, "B": {"C"}, "C": {}}

	t.Run("single candidate skips chooser", func(t *testing.T) {
		chooser := Explicit(func(string, []Message) Decision {
			t.Fatal("chooser must not be consulted")
			return Stop()
		})
		d, err := Graph(edges, TransitionsAllowed, chooser).Next(context.Background(), stateFor("B", false, "A", "B", "C"))
		require.NoError(t, err)
		assert.Equal(t, Speak("C"), d)
	})

	t.Run("default chooser round robins over candidates", func(t *testing.T) {
		d, err := Graph(edges, TransitionsAllowed, nil).Next(context.Background(), stateFor("A", false, "A", "B", "C"))
		require.NoError(t, err)
		assert.Equal(t, Speak("B"), d)
	})

	t.Run("custom chooser inside candidates", func(t *testing.T) {
		chooser := Explicit(func(string, []Message) Decision { return Speak("C") })
		d, err := Graph(edges, TransitionsAllowed, chooser).Next(context.Background(), stateFor("A", false, "A", "B", "C"))
		require.NoError(t, err)
		assert.Equal(t, Speak("C"), d)
	})

	t.Run("chooser stop propagates", func(t *testing.T) {
		chooser := Explicit(func(string, []Message) Decision { return Stop() })
		d, err := Graph(edges, TransitionsAllowed, chooser).Next(context.Background(), stateFor("A", false, "A", "B", "C"))
		require.NoError(t, err)
		assert.True(t, d.Stop)
	})

	t.Run("chooser outside candidates is rejected", func(t *testing.T) {
		chooser := Explicit(func(string, []Message) Decision { return Speak("A") })
		_, err := Graph(edges, TransitionsAllowed, chooser).Next(context.Background(), stateFor("A", false, "A", "B", "C"))
		assert.True(t, types.IsErrorCode(err, types.ErrInvalidTransition))
	})

	t.Run("no candidates", func(t *testing.T) {
		_, err := Graph(edges, TransitionsAllowed, nil).Next(context.Background(), stateFor("C", false, "A", "B", "C"))
		assert.True(t, types.IsErrorCode(err, types.ErrNoEligibleSpeaker))
	})
}

func TestGraphPolicy_Validate(t *testing.T) {
	names := map[string]bool{"A": true, "B": true}
	tests := []struct {
		name    string
		policy  *GraphPolicy
		wantErr bool
	}{
		{"valid", Graph(map[string][]string{"A": {"B"}}, TransitionsAllowed, nil), false},
		{"unknown type", Graph(map[string][]string{"A": {"B"}}, "sometimes", nil), true},
		{"unknown source", Graph(map[string][]string{"X": {"B"}}, TransitionsAllowed, nil), true},
		{"unknown target", Graph(map[string][]string{"A": {"X"}}, TransitionsDisallowed, nil), true},
		{"nested graph chooser", Graph(nil, TransitionsAllowed, Graph(nil, TransitionsAllowed, nil)), true},
		{"invalid chooser", Graph(nil, TransitionsAllowed, Explicit(nil)), true},
		{"auto chooser without provider", Graph(nil, TransitionsAllowed, NewAutoPolicy(nil, AutoConfig{}, nil)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.validate(names)
			if tt.wantErr {
				assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScheduler_ConstrainedGraph(t *testing.T) {
	names := []string{"Adder", "Multiplier", "Subtracter", "Divider", "Number"}
	edges := map[string][]string{
		"Number":     {"Adder", "Number"},
		"Adder":      {"Multiplier", "Number"},
		"Subtracter": {"Divider", "Number"},
		"Multiplier": {"Subtracter", "Number"},
		"Divider":    {"Adder", "Number"},
	}
	gc := &GroupChat{
		Participants:       echo(names...),
		Policy:             Graph(edges, TransitionsAllowed, nil),
		MaxRounds:          12,
		AllowRepeatSpeaker: true,
	}

	res, err := NewScheduler().Run(context.Background(), gc, Start{Speaker: "Number", Content: "My number is 3"})
	require.NoError(t, err)
	assert.Len(t, res.Messages, 12)

	speakers := res.Speakers()
	for i := 1; i < len(speakers); i++ {
		assert.Contains(t, edges[speakers[i-1]], speakers[i], "transition %s -> %s", speakers[i-1], speakers[i])
	}
}
