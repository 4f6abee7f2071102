package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/chatflow/llm"
)

// scriptedProvider answers completions from a fixed list of replies and
// records every request.
type scriptedProvider struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []*llm.ChatRequest
}

func newScriptedProvider(replies ...string) *scriptedProvider {
	return &scriptedProvider{replies: replies}
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) HealthCheck(context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func (p *scriptedProvider) Completion(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.replies) == 0 {
		return nil, errors.New("script exhausted")
	}
	reply := p.replies[0]
	p.replies = p.replies[1:]
	return &llm.ChatResponse{
		Choices: []llm.ChatChoice{{Message: llm.Message{Role: llm.RoleAssistant, Content: reply}}},
	}, nil
}

func (p *scriptedProvider) Stream(context.Context, *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return nil, errors.New("not supported")
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// echo returns participants that reply "<name> says hi".
func echo(names ...string) []Participant {
	out := make([]Participant, len(names))
	for i, n := range names {
		out[i] = NewStaticParticipant(n, "participant "+n, n+" says hi")
	}
	return out
}

type recordedChat struct {
	policy, reason string
	rounds         int
}

type fakeRecorder struct {
	mu       sync.Mutex
	chats    []recordedChat
	turns    map[string]int
	failures []string
}

func newFakeRecorder() *fakeRecorder { return &fakeRecorder{turns: map[string]int{}} }

func (r *fakeRecorder) RecordChat(policy, reason string, rounds int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append(r.chats, recordedChat{policy: policy, reason: reason, rounds: rounds})
}

func (r *fakeRecorder) RecordTurn(speaker string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns[speaker]++
}

func (r *fakeRecorder) RecordSelectionFailure(policy, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, policy+"/"+code)
}
