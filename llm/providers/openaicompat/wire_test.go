package openaicompat

import (
	"encoding/json"
	"testing"

	"github.com/BaSui01/chatflow/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest_SanitizesNames(t *testing.T) {
	seed := 7
	body := newRequest(&llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be brief"},
			{Role: llm.RoleUser, Content: "hi", Name: "Product Manager"},
			{Role: llm.RoleAssistant, Content: "ok", Name: "代码审查"},
		},
		Seed: &seed,
	}, "llama3", false)

	require.Len(t, body.Messages, 3)
	assert.Equal(t, "", body.Messages[0].Name)
	assert.Equal(t, "Product_Manager", body.Messages[1].Name)
	assert.Equal(t, "____", body.Messages[2].Name)
	assert.Equal(t, "llama3", body.Model)
	require.NotNil(t, body.Seed)
	assert.Equal(t, 7, *body.Seed)

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"stream"`)
	assert.NotContains(t, string(raw), `"name":""`)
}

func TestResponse_ToLLM(t *testing.T) {
	resp := Response{
		ID:    "c1",
		Model: "llama3",
		Choices: []Choice{
			{Index: 0, FinishReason: "stop", Message: WireMessage{Role: "assistant", Content: "Planner"}},
		},
		Usage:   &Usage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4},
		Created: 1700000000,
	}.toLLM("local")

	assert.Equal(t, "local", resp.Provider)
	assert.Equal(t, 4, resp.Usage.TotalTokens)
	assert.Equal(t, int64(1700000000), resp.CreatedAt.Unix())
	content, err := llm.FirstContent(resp)
	require.NoError(t, err)
	assert.Equal(t, "Planner", content)
}

func TestResponse_Chunks(t *testing.T) {
	frame := Response{ID: "s1", Model: "m", Choices: []Choice{
		{Index: 0, Delta: &WireMessage{Content: "Hel"}},
		{Index: 1, FinishReason: "stop"},
	}}
	chunks := frame.chunks("local")
	require.Len(t, chunks, 2)
	assert.Equal(t, "Hel", chunks[0].Delta.Content)
	assert.Equal(t, llm.RoleAssistant, chunks[0].Delta.Role)
	assert.Nil(t, chunks[0].Usage)
	assert.Equal(t, "stop", chunks[1].FinishReason)
	assert.Empty(t, chunks[1].Delta.Content)
}
