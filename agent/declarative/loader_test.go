package declarative

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// YAMLLoader tests
// ============================================================

func TestYAMLLoader_LoadFile_YAML(t *testing.T) {
	content := `
name: stateflow
description: coder loop
version: "1.0"
participants:
  - name: Init
    type: static
    reply: go
  - name: Coder
    system_message: You write code.
    model: llama3
    temperature: 0.7
    max_tokens: 2048
    seed: 42
policy:
  type: state_flow
  rules:
    Init: {next: Coder}
    Coder:
      when_contains: done
      then: STOP
      otherwise: Coder
max_rounds: 20
allow_repeat_speaker: false
termination:
  contains: TERMINATE
start: Init
message: build it
metadata:
  env: test
`
	path := writeTemp(t, "flow.yaml", content)
	loader := NewYAMLLoader()

	def, err := loader.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "stateflow", def.Name)
	assert.Equal(t, "coder loop", def.Description)
	assert.Equal(t, "1.0", def.Version)
	require.Len(t, def.Participants, 2)
	assert.Equal(t, ParticipantStatic, def.Participants[0].Type)
	assert.Equal(t, "go", def.Participants[0].Reply)
	coder := def.Participants[1]
	assert.Equal(t, "llama3", coder.Model)
	assert.InDelta(t, 0.7, coder.Temperature, 0.001)
	assert.Equal(t, 2048, coder.MaxTokens)
	require.NotNil(t, coder.Seed)
	assert.Equal(t, 42, *coder.Seed)

	assert.Equal(t, PolicyStateFlow, def.Policy.Type)
	assert.Equal(t, RuleDefinition{Next: "Coder"}, def.Policy.Rules["Init"])
	assert.Equal(t, RuleDefinition{WhenContains: "done", Then: StopSentinel, Otherwise: "Coder"}, def.Policy.Rules["Coder"])
	assert.Equal(t, 20, def.MaxRounds)
	require.NotNil(t, def.AllowRepeatSpeaker)
	assert.False(t, *def.AllowRepeatSpeaker)
	assert.Equal(t, "TERMINATE", def.Termination.Contains)
	assert.Equal(t, "Init", def.Start)
	assert.Equal(t, "build it", def.Message)
	assert.Equal(t, "test", def.Metadata["env"])
}

func TestYAMLLoader_LoadFile_JSON(t *testing.T) {
	content := `{
  "name": "graph",
  "participants": [{"name": "A"}, {"name": "B"}],
  "policy": {
    "type": "graph",
    "transitions_type": "disallowed",
    "transitions": {"A": ["A"]},
    "chooser": {"type": "round_robin"}
  },
  "send_introductions": true
}`
	path := writeTemp(t, "graph.json", content)
	loader := NewYAMLLoader()

	def, err := loader.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "graph", def.Name)
	assert.Equal(t, PolicyGraph, def.Policy.Type)
	assert.Equal(t, "disallowed", def.Policy.TransitionsType)
	assert.Equal(t, []string{"A"}, def.Policy.Transitions["A"])
	require.NotNil(t, def.Policy.Chooser)
	assert.Equal(t, PolicyRoundRobin, def.Policy.Chooser.Type)
	assert.True(t, def.SendIntroductions)
	assert.Nil(t, def.AllowRepeatSpeaker)
}

func TestYAMLLoader_LoadFile_NameFromFile(t *testing.T) {
	path := writeTemp(t, "story.yml", "participants: [{name: A}]\npolicy: {type: round_robin}\n")
	def, err := NewYAMLLoader().LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "story", def.Name)
}

func TestYAMLLoader_LoadFile_Errors(t *testing.T) {
	loader := NewYAMLLoader()

	_, err := loader.LoadFile("/nonexistent/path/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read scenario file")

	_, err = loader.LoadFile(writeTemp(t, "scenario.toml", "name = 'x'"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file extension")

	_, err = loader.LoadFile(writeTemp(t, "bad.yaml", "name: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse YAML")

	_, err = loader.LoadFile(writeTemp(t, "bad.json", "{not json}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse JSON")
}

func TestYAMLLoader_Strict(t *testing.T) {
	yamlDoc := []byte("name: x\npolicy: {type: round_robin}\nmax_round: 3\n")
	jsonDoc := []byte(`{"name": "x", "policy": {"type": "round_robin"}, "max_round": 3}`)

	lenient := NewYAMLLoader()
	def, err := lenient.LoadBytes(yamlDoc, "yml")
	require.NoError(t, err)
	assert.Equal(t, "x", def.Name)
	_, err = lenient.LoadBytes(jsonDoc, "json")
	require.NoError(t, err)

	strict := NewYAMLLoader(Strict())
	_, err = strict.LoadBytes(yamlDoc, "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_round")
	_, err = strict.LoadBytes(jsonDoc, "JSON")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_round")
}

func TestYAMLLoader_LoadBytes_UnsupportedFormat(t *testing.T) {
	_, err := NewYAMLLoader().LoadBytes([]byte("name: x"), "toml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestYAMLLoader_LoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("name: alpha\npolicy: {type: round_robin}\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(`{"policy": {"type": "round_robin"}}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# scenarios"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0755))

	defs, err := NewYAMLLoader().LoadDir(dir)
	require.NoError(t, err)
	assert.Len(t, defs, 2)
	assert.Contains(t, defs, "alpha")
	assert.Contains(t, defs, "b")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.yaml"), []byte("name: alpha\n"), 0644))
	_, err = NewYAMLLoader().LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate scenario name")

	_, err = NewYAMLLoader().LoadDir(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestLoadBundledScenarios(t *testing.T) {
	defs, err := NewYAMLLoader(Strict()).LoadDir(filepath.Join("..", "..", "scenarios"))
	require.NoError(t, err)
	require.NotEmpty(t, defs)

	factory := NewScenarioFactory(&stubProvider{}, nil)
	for name, def := range defs {
		_, err := factory.Build(def)
		assert.NoError(t, err, name)
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"scenario.yaml", "yaml"},
		{"scenario.yml", "yaml"},
		{"scenario.YAML", "yaml"},
		{"scenario.json", "json"},
		{"scenario.JSON", "json"},
		{"scenario.toml", ""},
		{"scenario", ""},
		{"/path/to/scenario.yaml", "yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, detectFormat(tt.path))
		})
	}
}

// ============================================================
// Helper
// ============================================================

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
