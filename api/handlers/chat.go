package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/agent/declarative"
	"github.com/BaSui01/chatflow/api"
	"github.com/BaSui01/chatflow/internal/pool"
	"github.com/BaSui01/chatflow/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// 💬 群聊接口 Handler
// =============================================================================

// ActiveChats 跟踪运行中的群聊数量
type ActiveChats interface {
	ChatStarted()
	ChatFinished()
}

// ChatHandler 群聊接口处理器
type ChatHandler struct {
	manager        *conversation.Manager
	factory        *declarative.ScenarioFactory
	registry       *declarative.Registry
	runTimeout     time.Duration
	observers      []conversation.Observer
	active         ActiveChats
	originPatterns []string
	async          *pool.WorkerPool
	logger         *zap.Logger
}

// ChatHandlerOption 配置 ChatHandler
type ChatHandlerOption func(*ChatHandler)

// WithRunTimeout 限制单次群聊的总时长
func WithRunTimeout(d time.Duration) ChatHandlerOption {
	return func(h *ChatHandler) { h.runTimeout = d }
}

// WithChatObservers 为每次群聊附加观察者（如 Redis 实时状态、代码块自动保存）
func WithChatObservers(obs ...conversation.Observer) ChatHandlerOption {
	return func(h *ChatHandler) { h.observers = append(h.observers, obs...) }
}

// WithActiveChats 设置运行中群聊计数器
func WithActiveChats(a ActiveChats) ChatHandlerOption {
	return func(h *ChatHandler) { h.active = a }
}

// WithOriginPatterns 设置 websocket 允许的跨域来源
func WithOriginPatterns(patterns ...string) ChatHandlerOption {
	return func(h *ChatHandler) { h.originPatterns = patterns }
}

// WithAsyncPool 启用后台运行（RunRequest.Async）
func WithAsyncPool(p *pool.WorkerPool) ChatHandlerOption {
	return func(h *ChatHandler) { h.async = p }
}

// NewChatHandler 创建群聊处理器
func NewChatHandler(manager *conversation.Manager, factory *declarative.ScenarioFactory, registry *declarative.Registry, logger *zap.Logger, opts ...ChatHandlerOption) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &ChatHandler{
		manager:  manager,
		factory:  factory,
		registry: registry,
		logger:   logger.With(zap.String("component", "chat_handler")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register 注册路由
func (h *ChatHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/chats", h.HandleRun)
	mux.HandleFunc("GET /v1/chats", h.HandleList)
	mux.HandleFunc("GET /v1/chats/stream", h.HandleStream)
	mux.HandleFunc("GET /v1/chats/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /v1/chats/{id}", h.HandleDelete)
	mux.HandleFunc("GET /v1/scenarios", h.HandleScenarios)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleRun 处理 POST /v1/chats，同步运行群聊并返回结果
func (h *ChatHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.RunRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	gc, start, err := h.prepare(&req)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	if req.Async {
		h.submit(w, gc, start)
		return
	}

	res, err := h.run(r.Context(), gc, start)
	if err != nil {
		h.writeRunError(w, res, err)
		return
	}
	WriteSuccess(w, res)
}

func (h *ChatHandler) submit(w http.ResponseWriter, gc *conversation.GroupChat, start conversation.Start) {
	if h.async == nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "async runs are disabled"), h.logger)
		return
	}
	if start.ChatID == "" {
		start.ChatID = uuid.NewString()
	}

	err := h.async.Submit(func(ctx context.Context) error {
		_, err := h.run(ctx, gc, start)
		return err
	})
	if err != nil {
		WriteError(w, types.NewError(types.ErrServiceUnavailable, "chat queue is full").
			WithCause(err).
			WithRetryable(true), h.logger)
		return
	}

	WriteJSON(w, http.StatusAccepted, Response{
		Success:   true,
		Data:      api.Accepted{ChatID: start.ChatID, Status: "accepted"},
		Timestamp: time.Now(),
	})
}

// HandleList 处理 GET /v1/chats
func (h *ChatHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	results := h.manager.List()
	out := make([]api.ChatSummary, 0, len(results))
	for _, res := range results {
		out = append(out, api.SummaryOf(res))
	}
	WriteSuccess(w, out)
}

// HandleGet 处理 GET /v1/chats/{id}
func (h *ChatHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	res, err := h.manager.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, res)
}

// HandleDelete 处理 DELETE /v1/chats/{id}
func (h *ChatHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.manager.Delete(r.Context(), id); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"chat_id": id})
}

// HandleScenarios 处理 GET /v1/scenarios
func (h *ChatHandler) HandleScenarios(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	if h.registry != nil {
		names = h.registry.Names()
	}
	WriteSuccess(w, names)
}

// HandleStream 处理 GET /v1/chats/stream。客户端先发送一个 api.RunRequest，
// 服务端逐条推送消息帧，最后推送 result 帧（失败时先推送 error 帧）。
func (h *ChatHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	var req api.RunRequest
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		h.logger.Debug("websocket read failed", zap.Error(err))
		conn.Close(websocket.StatusUnsupportedData, "expected run request")
		return
	}

	gc, start, err := h.prepare(&req)
	if err != nil {
		h.writeFrame(ctx, conn, errorFrame("", err))
		conn.Close(websocket.StatusPolicyViolation, "invalid run request")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeErr error
	push := func(chatID string, msg conversation.Message) {
		if writeErr != nil {
			return
		}
		if writeErr = wsjson.Write(ctx, conn, api.StreamFrame{Type: api.FrameMessage, ChatID: chatID, Message: &msg}); writeErr != nil {
			h.logger.Debug("websocket write failed", zap.String("chat_id", chatID), zap.Error(writeErr))
			cancel()
		}
	}

	res, err := h.run(ctx, gc, start, push)
	if writeErr != nil {
		return
	}
	if err != nil {
		chatID := ""
		if res != nil {
			chatID = res.ChatID
		}
		h.writeFrame(ctx, conn, errorFrame(chatID, err))
	}
	if res != nil {
		h.writeFrame(ctx, conn, api.StreamFrame{Type: api.FrameResult, ChatID: res.ChatID, Result: res})
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// =============================================================================
// 🔧 内部辅助
// =============================================================================

func (h *ChatHandler) prepare(req *api.RunRequest) (*conversation.GroupChat, conversation.Start, error) {
	var def *declarative.ScenarioDefinition
	switch {
	case req.Definition != nil && req.Scenario != "":
		return nil, conversation.Start{}, types.NewError(types.ErrInvalidRequest, "scenario and definition are mutually exclusive")
	case req.Definition != nil:
		if err := h.factory.Validate(req.Definition); err != nil {
			return nil, conversation.Start{}, types.NewError(types.ErrInvalidRequest, err.Error()).WithCause(err)
		}
		def = req.Definition
	case req.Scenario != "":
		if h.registry == nil {
			return nil, conversation.Start{}, types.Errorf(types.ErrScenarioNotFound, "scenario %q not found", req.Scenario)
		}
		d, err := h.registry.Get(req.Scenario)
		if err != nil {
			return nil, conversation.Start{}, err
		}
		def = d
	default:
		return nil, conversation.Start{}, types.NewError(types.ErrInvalidRequest, "scenario or definition is required")
	}

	gc, err := h.factory.Build(def)
	if err != nil {
		if _, ok := types.AsError(err); ok {
			return nil, conversation.Start{}, err
		}
		return nil, conversation.Start{}, types.NewError(types.ErrInvalidRequest, err.Error()).WithCause(err)
	}

	start := def.StartOf(req.Message)
	if req.Start != "" {
		start.Speaker = req.Start
	}
	start.ChatID = req.ChatID
	return gc, start, nil
}

func (h *ChatHandler) run(ctx context.Context, gc *conversation.GroupChat, start conversation.Start, extra ...conversation.Observer) (*conversation.Result, error) {
	if h.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.runTimeout)
		defer cancel()
	}
	if h.active != nil {
		h.active.ChatStarted()
		defer h.active.ChatFinished()
	}

	observers := make([]conversation.Observer, 0, len(h.observers)+len(extra))
	observers = append(observers, h.observers...)
	observers = append(observers, extra...)

	res, err := h.manager.Run(ctx, gc, start, observers...)
	if res != nil {
		h.logger.Info("chat finished",
			zap.String("chat_id", res.ChatID),
			zap.String("policy", string(res.Policy)),
			zap.String("reason", string(res.Reason)),
			zap.Int("rounds", res.Rounds),
		)
	}
	return res, err
}

func (h *ChatHandler) writeRunError(w http.ResponseWriter, res *conversation.Result, err error) {
	apiErr := toAPIError(err)
	if res != nil {
		withID := *apiErr
		withID.Message = fmt.Sprintf("chat %s: %s", res.ChatID, apiErr.Message)
		apiErr = &withID
	}
	WriteError(w, apiErr, h.logger)
}

func (h *ChatHandler) writeFrame(ctx context.Context, conn *websocket.Conn, frame api.StreamFrame) {
	if err := wsjson.Write(ctx, conn, frame); err != nil {
		h.logger.Debug("websocket write failed", zap.String("type", string(frame.Type)), zap.Error(err))
	}
}

func errorFrame(chatID string, err error) api.StreamFrame {
	e := toAPIError(err)
	return api.StreamFrame{
		Type:   api.FrameError,
		ChatID: chatID,
		Error: &api.StreamError{
			Code:      string(e.Code),
			Message:   e.Message,
			Retryable: e.Retryable,
		},
	}
}
