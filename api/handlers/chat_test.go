package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/agent/declarative"
	"github.com/BaSui01/chatflow/agent/persistence"
	"github.com/BaSui01/chatflow/api"
	"github.com/BaSui01/chatflow/internal/cache"
	"github.com/BaSui01/chatflow/internal/pool"
	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

func pairDefinition(name string) *declarative.ScenarioDefinition {
	return &declarative.ScenarioDefinition{
		Name: name,
		Participants: []declarative.ParticipantDefinition{
			{Name: "Alice", Type: declarative.ParticipantStatic, Reply: "hi from alice"},
			{Name: "Bob", Type: declarative.ParticipantStatic, Reply: "hi from bob"},
		},
		Policy:    declarative.PolicyDefinition{Type: declarative.PolicyRoundRobin},
		MaxRounds: 3,
	}
}

type chatFixture struct {
	mr      *miniredis.Miniredis
	store   *persistence.RedisStore
	handler *ChatHandler
	mux     *http.ServeMux
}

func newChatFixture(t *testing.T, opts ...ChatHandlerOption) *chatFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	cm, err := cache.NewManager(cache.Config{Addr: mr.Addr(), KeyPrefix: "test:", DefaultTTL: time.Hour}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cm.Close() })

	store, err := persistence.NewRedisStore(cm, persistence.DefaultStoreConfig(), zap.NewNop())
	require.NoError(t, err)

	factory := declarative.NewScenarioFactory(nil, zap.NewNop())
	registry := declarative.NewRegistry(nil, factory, zap.NewNop())
	require.NoError(t, registry.Put(pairDefinition("pair")))

	manager := conversation.NewManager(nil, store, zap.NewNop())
	h := NewChatHandler(manager, factory, registry, zap.NewNop(), opts...)
	mux := http.NewServeMux()
	h.Register(mux)
	return &chatFixture{mr: mr, store: store, handler: h, mux: mux}
}

func (f *chatFixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func decodeData[T any](t *testing.T, resp Response) T {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

// =============================================================================
// 🧪 HTTP 接口测试
// =============================================================================

func TestChatHandler_RunScenario(t *testing.T) {
	f := newChatFixture(t)

	w, resp := f.do(t, http.MethodPost, "/v1/chats", api.RunRequest{Scenario: "pair", Message: "hello", ChatID: "c1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	res := decodeData[conversation.Result](t, resp)
	assert.Equal(t, "c1", res.ChatID)
	assert.Equal(t, conversation.ReasonMaxRounds, res.Reason)
	assert.Equal(t, []string{"Alice", "Bob", "Alice"}, res.Speakers())
	assert.Equal(t, "hello", res.Messages[0].Content)

	// write-through to redis
	assert.True(t, f.mr.Exists("test:chat:c1"))
}

func TestChatHandler_RunInlineDefinition(t *testing.T) {
	f := newChatFixture(t)

	def := pairDefinition("inline")
	def.MaxRounds = 2
	w, resp := f.do(t, http.MethodPost, "/v1/chats", api.RunRequest{Definition: def, Start: "Bob"})
	require.Equal(t, http.StatusOK, w.Code)

	res := decodeData[conversation.Result](t, resp)
	assert.Equal(t, []string{"Bob", "Alice"}, res.Speakers())
	assert.NotEmpty(t, res.ChatID)
}

func TestChatHandler_RunErrors(t *testing.T) {
	tests := []struct {
		name       string
		req        api.RunRequest
		wantStatus int
		wantCode   string
	}{
		{"missing scenario", api.RunRequest{Message: "hi"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"both sources", api.RunRequest{Scenario: "pair", Definition: pairDefinition("x")}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown scenario", api.RunRequest{Scenario: "nope"}, http.StatusNotFound, "SCENARIO_NOT_FOUND"},
		{"invalid definition", api.RunRequest{Definition: &declarative.ScenarioDefinition{Name: "empty"}}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown start", api.RunRequest{Scenario: "pair", Start: "Zed"}, http.StatusUnprocessableEntity, "UNKNOWN_SPEAKER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newChatFixture(t)
			w, resp := f.do(t, http.MethodPost, "/v1/chats", tt.req)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestChatHandler_RejectsWrongContentType(t *testing.T) {
	f := newChatFixture(t)
	r := httptest.NewRequest(http.MethodPost, "/v1/chats", strings.NewReader(`{"scenario":"pair"}`))
	r.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatHandler_GetListDelete(t *testing.T) {
	f := newChatFixture(t)
	for _, id := range []string{"a", "b"} {
		w, _ := f.do(t, http.MethodPost, "/v1/chats", api.RunRequest{Scenario: "pair", ChatID: id})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w, resp := f.do(t, http.MethodGet, "/v1/chats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeData[[]api.ChatSummary](t, resp)
	assert.Len(t, list, 2)

	w, resp = f.do(t, http.MethodGet, "/v1/chats/a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a", decodeData[conversation.Result](t, resp).ChatID)

	w, _ = f.do(t, http.MethodDelete, "/v1/chats/a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.mr.Exists("test:chat:a"))

	w, resp = f.do(t, http.MethodGet, "/v1/chats/a", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "CHAT_NOT_FOUND", resp.Error.Code)

	w, _ = f.do(t, http.MethodDelete, "/v1/chats/a", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatHandler_GetFallsBackToStore(t *testing.T) {
	f := newChatFixture(t)
	require.NoError(t, f.store.Save(context.Background(), &conversation.Result{
		ChatID:   "archived",
		Policy:   conversation.KindRoundRobin,
		Messages: []conversation.Message{{ID: "m1", Sender: "Alice", Role: conversation.RoleAssistant, Content: "x", Round: 1}},
		Rounds:   1,
		Reason:   conversation.ReasonMaxRounds,
	}))

	w, resp := f.do(t, http.MethodGet, "/v1/chats/archived", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeData[conversation.Result](t, resp)
	assert.Equal(t, []string{"Alice"}, res.Speakers())
}

func TestChatHandler_Scenarios(t *testing.T) {
	f := newChatFixture(t)
	w, resp := f.do(t, http.MethodGet, "/v1/scenarios", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"pair"}, decodeData[[]string](t, resp))
}

type countingActive struct{ started, finished int }

func (c *countingActive) ChatStarted()  { c.started++ }
func (c *countingActive) ChatFinished() { c.finished++ }

func TestChatHandler_ObserversAndActive(t *testing.T) {
	var seen []string
	active := &countingActive{}
	f := newChatFixture(t,
		WithChatObservers(func(_ string, msg conversation.Message) { seen = append(seen, msg.Sender) }),
		WithActiveChats(active),
		WithRunTimeout(time.Minute),
	)

	w, _ := f.do(t, http.MethodPost, "/v1/chats", api.RunRequest{Scenario: "pair"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Alice", "Bob", "Alice"}, seen)
	assert.Equal(t, 1, active.started)
	assert.Equal(t, 1, active.finished)
}

func TestChatHandler_Async(t *testing.T) {
	workers := pool.New(pool.Config{Workers: 1, QueueSize: 4}, zap.NewNop())
	f := newChatFixture(t, WithAsyncPool(workers))

	w, resp := f.do(t, http.MethodPost, "/v1/chats", api.RunRequest{Scenario: "pair", Async: true, ChatID: "bg"})
	require.Equal(t, http.StatusAccepted, w.Code)
	accepted := decodeData[api.Accepted](t, resp)
	assert.Equal(t, "bg", accepted.ChatID)

	require.NoError(t, workers.Close(context.Background()))

	w, resp = f.do(t, http.MethodGet, "/v1/chats/bg", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeData[conversation.Result](t, resp)
	assert.Equal(t, 3, res.Rounds)
}

func TestChatHandler_AsyncDisabled(t *testing.T) {
	f := newChatFixture(t)
	w, resp := f.do(t, http.MethodPost, "/v1/chats", api.RunRequest{Scenario: "pair", Async: true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", resp.Error.Code)
}

func TestChatHandler_AsyncQueueFull(t *testing.T) {
	workers := pool.New(pool.Config{Workers: 1, QueueSize: 1}, zap.NewNop())
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, workers.Submit(func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, workers.Submit(func(context.Context) error { return nil }))
	t.Cleanup(func() {
		close(release)
		_ = workers.Close(context.Background())
	})

	f := newChatFixture(t, WithAsyncPool(workers))
	w, resp := f.do(t, http.MethodPost, "/v1/chats", api.RunRequest{Scenario: "pair", Async: true})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.True(t, resp.Error.Retryable)
}

// =============================================================================
// 🧪 WebSocket 流式测试
// =============================================================================

func dialStream(t *testing.T, f *chatFixture) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/chats/stream", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func TestChatHandler_Stream(t *testing.T) {
	f := newChatFixture(t)
	conn := dialStream(t, f)
	ctx := context.Background()

	require.NoError(t, wsjson.Write(ctx, conn, api.RunRequest{Scenario: "pair", Message: "go", ChatID: "s1"}))

	var frames []api.StreamFrame
	for {
		var frame api.StreamFrame
		require.NoError(t, wsjson.Read(ctx, conn, &frame))
		frames = append(frames, frame)
		if frame.Type == api.FrameResult {
			break
		}
	}

	require.Len(t, frames, 4)
	for i, want := range []string{"Alice", "Bob", "Alice"} {
		assert.Equal(t, api.FrameMessage, frames[i].Type)
		require.NotNil(t, frames[i].Message)
		assert.Equal(t, want, frames[i].Message.Sender)
		assert.Equal(t, "s1", frames[i].ChatID)
	}
	require.NotNil(t, frames[3].Result)
	assert.Equal(t, conversation.ReasonMaxRounds, frames[3].Result.Reason)
	assert.Equal(t, 3, frames[3].Result.Rounds)
}

func TestChatHandler_StreamInvalidRequest(t *testing.T) {
	f := newChatFixture(t)
	conn := dialStream(t, f)
	ctx := context.Background()

	require.NoError(t, wsjson.Write(ctx, conn, api.RunRequest{Scenario: "missing"}))

	var frame api.StreamFrame
	require.NoError(t, wsjson.Read(ctx, conn, &frame))
	assert.Equal(t, api.FrameError, frame.Type)
	require.NotNil(t, frame.Error)
	assert.Equal(t, "SCENARIO_NOT_FOUND", frame.Error.Code)

	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}
