package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/chatflow/internal/tlsutil"
	"github.com/BaSui01/chatflow/llm"
	"github.com/BaSui01/chatflow/llm/providers"
	"go.uber.org/zap"
)

// 默认指向本地 Ollama，无需托管凭据即可运行群聊
const (
	DefaultBaseURL      = "http://localhost:11434"
	DefaultModel        = "llama3"
	DefaultAPIKey       = "ollama"
	DefaultProviderName = "openai-compat"
)

// Config OpenAI 兼容后端配置，空字段取默认值
type Config struct {
	ProviderName string        `json:"provider_name" yaml:"provider_name"`
	APIKey       string        `json:"api_key" yaml:"api_key"`
	BaseURL      string        `json:"base_url" yaml:"base_url"`
	DefaultModel string        `json:"default_model" yaml:"default_model"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`

	EndpointPath   string `json:"endpoint_path" yaml:"endpoint_path"`     // 默认 /v1/chat/completions
	ModelsEndpoint string `json:"models_endpoint" yaml:"models_endpoint"` // 默认 /v1/models

	InsecureSkipVerify bool `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`

	// BuildHeaders 替换默认的 Bearer 认证头
	BuildHeaders func(req *http.Request, apiKey string) `json:"-" yaml:"-"`
	// RequestHook 在发送前修改请求体
	RequestHook func(req *llm.ChatRequest, body *Request) `json:"-" yaml:"-"`
}

func (c *Config) applyDefaults() {
	defaults := []struct {
		field *string
		value string
	}{
		{&c.ProviderName, DefaultProviderName},
		{&c.BaseURL, DefaultBaseURL},
		{&c.DefaultModel, DefaultModel},
		{&c.APIKey, DefaultAPIKey},
		{&c.EndpointPath, "/v1/chat/completions"},
		{&c.ModelsEndpoint, "/v1/models"},
	}
	for _, d := range defaults {
		if *d.field == "" {
			*d.field = d.value
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.BuildHeaders == nil {
		c.BuildHeaders = providers.BearerTokenHeaders
	}
}

// Provider 基于 OpenAI 线协议的 llm.Provider
type Provider struct {
	Cfg    Config
	Client *http.Client
	Logger *zap.Logger
}

var _ llm.Provider = (*Provider)(nil)

// New 创建 Provider
func New(cfg Config, logger *zap.Logger) *Provider {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		Cfg: cfg,
		Client: tlsutil.NewHTTPClient(tlsutil.ClientOptions{
			Timeout:            cfg.Timeout,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		}),
		Logger: logger.With(zap.String("component", "llm_provider"), zap.String("provider", cfg.ProviderName)),
	}
}

func (p *Provider) Name() string { return p.Cfg.ProviderName }

func (p *Provider) newHTTPRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(p.Cfg.BaseURL, "/")+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	p.Cfg.BuildHeaders(req, p.Cfg.APIKey)
	return req, nil
}

// do 执行请求；传输失败与 4xx/5xx 都转换为 llm.Error
func (p *Provider) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := p.Client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, providers.TimeoutError(err, p.Name())
		}
		return nil, providers.UpstreamError(err, p.Name())
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, providers.MapHTTPError(resp.StatusCode, providers.ReadErrorMessage(resp.Body), p.Name())
	}
	return resp, nil
}

// =============================================================================
// 🏥 模型与健康
// =============================================================================

// HealthCheck 通过模型列表接口确认后端可达
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	req, err := p.newHTTPRequest(ctx, http.MethodGet, p.Cfg.ModelsEndpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.do(ctx, req)
	status := &llm.HealthStatus{Latency: time.Since(start)}
	if err != nil {
		return status, fmt.Errorf("%s health check: %w", p.Name(), err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	status.Healthy = true
	return status, nil
}

// ListModels 返回后端公布的模型
func (p *Provider) ListModels(ctx context.Context) ([]llm.Model, error) {
	req, err := p.newHTTPRequest(ctx, http.MethodGet, p.Cfg.ModelsEndpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var list modelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, providers.UpstreamError(err, p.Name())
	}
	return list.Data, nil
}

// =============================================================================
// 💬 对话补全
// =============================================================================

func (p *Provider) send(ctx context.Context, req *llm.ChatRequest, stream bool) (*http.Response, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    "messages must not be empty",
			HTTPStatus: http.StatusBadRequest,
			Provider:   p.Name(),
		}
	}

	model := req.Model
	if model == "" {
		model = p.Cfg.DefaultModel
	}
	body := newRequest(req, model, stream)
	if p.Cfg.RequestHook != nil {
		p.Cfg.RequestHook(req, &body)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	httpReq, err := p.newHTTPRequest(ctx, http.MethodPost, p.Cfg.EndpointPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	if req.TraceID != "" {
		httpReq.Header.Set("X-Request-ID", req.TraceID)
	}

	p.Logger.Debug("chat request",
		zap.String("model", body.Model),
		zap.Int("messages", len(body.Messages)),
		zap.Bool("stream", stream))
	return p.do(ctx, httpReq)
}

// Completion 同步补全；req.Timeout 只作用于这一次请求
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if req != nil && req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	resp, err := p.send(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wire Response
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, providers.UpstreamError(err, p.Name())
	}
	return wire.toLLM(p.Name()), nil
}

// Stream 以 SSE 流式补全，响应体的生命周期跟随 ctx
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	resp, err := p.send(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return StreamSSE(ctx, resp.Body, p.Name()), nil
}

// StreamSSE 解析 OpenAI 风格的 SSE 响应体。遇到 [DONE]、EOF、第一个错误块
// 或 ctx 结束时关闭通道。
func StreamSSE(ctx context.Context, body io.ReadCloser, providerName string) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		defer body.Close()

		send := func(c llm.StreamChunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(err error) { send(llm.StreamChunk{Err: providers.UpstreamError(err, providerName)}) }

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(strings.TrimSpace(scanner.Text()), "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return
			}

			var frame Response
			if err := json.Unmarshal([]byte(data), &frame); err != nil {
				fail(err)
				return
			}
			for _, chunk := range frame.chunks(providerName) {
				if !send(chunk) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			fail(err)
		}
	}()
	return ch
}
