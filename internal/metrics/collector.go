package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	sizeBuckets     = prometheus.ExponentialBuckets(100, 10, 8)
	llmBuckets      = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}
	turnBuckets     = []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60}
	chatBuckets     = []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300}
	roundBuckets    = []float64{1, 2, 4, 8, 12, 16, 24, 32, 64}
	defaultDuration = prometheus.DefBuckets
)

// Collector 汇总 HTTP、LLM、群聊、缓存与连接池指标。
// 指标名为 <namespace>_<subsystem>_<name>，例如 chatflow_chat_turns_total。
type Collector struct {
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	httpReqSize  *prometheus.HistogramVec
	httpRespSize *prometheus.HistogramVec

	llmRequests *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec
	llmTokens   *prometheus.CounterVec

	chats             *prometheus.CounterVec
	chatRounds        *prometheus.HistogramVec
	chatLatency       *prometheus.HistogramVec
	turns             *prometheus.CounterVec
	turnLatency       *prometheus.HistogramVec
	selectionFailures *prometheus.CounterVec
	activeChats       prometheus.Gauge

	cacheLookups *prometheus.CounterVec

	dbOpen *prometheus.GaugeVec
	dbIdle *prometheus.GaugeVec
}

// NewCollector 注册到 prometheus.DefaultRegisterer
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry 注册到 reg；同一 reg 重复注册会 panic
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := builder{f: promauto.With(reg), ns: namespace}

	c := &Collector{
		httpRequests: b.counter("http", "requests_total", "HTTP requests by method, route and status class", "method", "path", "status"),
		httpLatency:  b.histogram("http", "request_duration_seconds", "HTTP request latency", defaultDuration, "method", "path"),
		httpReqSize:  b.histogram("http", "request_size_bytes", "HTTP request body size", sizeBuckets, "method", "path"),
		httpRespSize: b.histogram("http", "response_size_bytes", "HTTP response body size", sizeBuckets, "method", "path"),

		llmRequests: b.counter("llm", "requests_total", "Chat completion calls by outcome", "provider", "model", "status"),
		llmLatency:  b.histogram("llm", "request_duration_seconds", "Chat completion latency", llmBuckets, "provider", "model"),
		llmTokens:   b.counter("llm", "tokens_total", "Tokens reported by the backend", "provider", "model", "type"),

		chats:             b.counter("chat", "runs_total", "Finished group chats by stop reason", "policy", "reason"),
		chatRounds:        b.histogram("chat", "rounds", "Messages produced per group chat", roundBuckets, "policy"),
		chatLatency:       b.histogram("chat", "duration_seconds", "Group chat wall time", chatBuckets, "policy"),
		turns:             b.counter("chat", "turns_total", "Participant turns", "speaker"),
		turnLatency:       b.histogram("chat", "turn_duration_seconds", "Participant reply latency", turnBuckets, "speaker"),
		selectionFailures: b.counter("chat", "selection_failures_total", "Speaker selections that ended the chat", "policy", "code"),
		activeChats: b.f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "chat", Name: "active",
			Help: "Group chats currently running",
		}),

		cacheLookups: b.counter("cache", "lookups_total", "Cache lookups by result", "cache", "result"),

		dbOpen: b.gauge("db", "connections_open", "Open database connections", "driver"),
		dbIdle: b.gauge("db", "connections_idle", "Idle database connections", "driver"),
	}

	logger.Debug("metrics registered", zap.String("component", "metrics"), zap.String("namespace", namespace))
	return c
}

type builder struct {
	f  promauto.Factory
	ns string
}

func (b builder) counter(sub, name, help string, labels ...string) *prometheus.CounterVec {
	return b.f.NewCounterVec(prometheus.CounterOpts{Namespace: b.ns, Subsystem: sub, Name: name, Help: help}, labels)
}

func (b builder) gauge(sub, name, help string, labels ...string) *prometheus.GaugeVec {
	return b.f.NewGaugeVec(prometheus.GaugeOpts{Namespace: b.ns, Subsystem: sub, Name: name, Help: help}, labels)
}

func (b builder) histogram(sub, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return b.f.NewHistogramVec(prometheus.HistogramOpts{Namespace: b.ns, Subsystem: sub, Name: name, Help: help, Buckets: buckets}, labels)
}

// =============================================================================
// 🌐 HTTP / LLM
// =============================================================================

func (c *Collector) RecordHTTPRequest(method, path string, status int, d time.Duration, reqBytes, respBytes int64) {
	c.httpRequests.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpLatency.WithLabelValues(method, path).Observe(d.Seconds())
	c.httpReqSize.WithLabelValues(method, path).Observe(float64(reqBytes))
	c.httpRespSize.WithLabelValues(method, path).Observe(float64(respBytes))
}

// RecordLLMRequest 实现 providers.RequestRecorder
func (c *Collector) RecordLLMRequest(provider, model, status string, d time.Duration, promptTokens, completionTokens int) {
	c.llmRequests.WithLabelValues(provider, model, status).Inc()
	c.llmLatency.WithLabelValues(provider, model).Observe(d.Seconds())
	if promptTokens > 0 {
		c.llmTokens.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.llmTokens.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// =============================================================================
// 💬 群聊（实现 conversation.Recorder）
// =============================================================================

func (c *Collector) RecordChat(policy, reason string, rounds int, d time.Duration) {
	c.chats.WithLabelValues(policy, reason).Inc()
	c.chatRounds.WithLabelValues(policy).Observe(float64(rounds))
	c.chatLatency.WithLabelValues(policy).Observe(d.Seconds())
}

func (c *Collector) RecordTurn(speaker string, d time.Duration) {
	c.turns.WithLabelValues(speaker).Inc()
	c.turnLatency.WithLabelValues(speaker).Observe(d.Seconds())
}

func (c *Collector) RecordSelectionFailure(policy, code string) {
	c.selectionFailures.WithLabelValues(policy, code).Inc()
}

func (c *Collector) ChatStarted()  { c.activeChats.Inc() }
func (c *Collector) ChatFinished() { c.activeChats.Dec() }

// =============================================================================
// 💾 缓存与连接池
// =============================================================================

func (c *Collector) RecordCacheHit(cache string) {
	c.cacheLookups.WithLabelValues(cache, "hit").Inc()
}

func (c *Collector) RecordCacheMiss(cache string) {
	c.cacheLookups.WithLabelValues(cache, "miss").Inc()
}

func (c *Collector) RecordDBConnections(driver string, open, idle int) {
	c.dbOpen.WithLabelValues(driver).Set(float64(open))
	c.dbIdle.WithLabelValues(driver).Set(float64(idle))
}

// statusClass 把状态码折叠为 2xx/3xx/4xx/5xx，控制标签基数
func statusClass(code int) string {
	if code < 200 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
