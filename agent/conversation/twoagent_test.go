package conversation

import (
	"context"
	"testing"

	"github.com/BaSui01/chatflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwoAgentChat_Bounds(t *testing.T) {
	a, b := NewStaticParticipant("A", "", "a"), NewStaticParticipant("B", "", "b")

	gc := TwoAgentChat(a, b, 3, nil)
	assert.Equal(t, 6, gc.MaxRounds)
	assert.Equal(t, KindRoundRobin, gc.Policy.Kind())

	gc = TwoAgentChat(a, b, 0, nil)
	assert.Equal(t, 2*DefaultMaxTurns, gc.MaxRounds)
}

func TestInitiateChat(t *testing.T) {
	pupil := NewStaticParticipant("Pupil_Agent", "", "what next?")
	tutor := NewStaticParticipant("Tutor_Agent", "", "keep going")

	res, err := NewScheduler().InitiateChat(context.Background(), pupil, tutor,
		"What is triangle inequality?", ChatOptions{MaxTurns: 2})
	require.NoError(t, err)

	// 开场消息计入轮数
	assert.Equal(t, []string{"Pupil_Agent", "Tutor_Agent", "Pupil_Agent", "Tutor_Agent"}, res.Speakers())
	assert.Equal(t, "What is triangle inequality?", res.Messages[0].Content)
	assert.Equal(t, ReasonMaxRounds, res.Reason)
	assert.Equal(t, "keep going", res.Summary)
}

func TestInitiateChat_Termination(t *testing.T) {
	a := NewStaticParticipant("A", "", "hello")
	b := NewStaticParticipant("B", "", "done TERMINATE")

	res, err := NewScheduler().InitiateChat(context.Background(), a, b, "start", ChatOptions{
		MaxTurns:      5,
		IsTermination: ContainsTermination(DefaultTerminationWord),
	})
	require.NoError(t, err)
	assert.Len(t, res.Messages, 2)
	assert.Equal(t, ReasonTermination, res.Reason)
	assert.Equal(t, "done", res.Summary)
}

func TestInitiateChat_ReflectionSummary(t *testing.T) {
	provider := newScriptedProvider("they agreed")
	a, b := NewStaticParticipant("A", "", "x"), NewStaticParticipant("B", "", "y")

	res, err := NewScheduler().InitiateChat(context.Background(), a, b, "go", ChatOptions{
		MaxTurns:   1,
		Summary:    SummaryReflection,
		Summarizer: &Summarizer{Provider: provider},
	})
	require.NoError(t, err)
	assert.Equal(t, "they agreed", res.Summary)
}

func TestInitiateChat_Errors(t *testing.T) {
	_, err := NewScheduler().InitiateChat(context.Background(), nil, nil, "", ChatOptions{})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	failing := NewFuncParticipant("B", "", func(context.Context, Turn) (string, error) {
		return "", assert.AnError
	})
	res, err := NewScheduler().InitiateChat(context.Background(), NewStaticParticipant("A", "", "x"), failing, "go", ChatOptions{})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Len(t, res.Messages, 1)
	assert.Equal(t, ReasonError, res.Reason)
}
