package config

import "time"

// Config 是 ChatFlow 的完整配置，每个分区的 env 标签构成环境变量键的一段。
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Chat      ChatConfig      `yaml:"chat" env:"CHAT"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
	Auth      AuthConfig      `yaml:"auth" env:"AUTH"`
}

// DefaultConfig 返回全部分区的默认值；LLM 默认指向本地 Ollama
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		LLM:       DefaultLLMConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Chat:      DefaultChatConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// =============================================================================
// 🌐 HTTP 服务
// =============================================================================

type ServerConfig struct {
	HTTPPort    int `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"` // 0 表示与 HTTP 共用

	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"` // 需覆盖最长的一次同步对话
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	RateLimitRPS       float64  `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"` // 0 表示不限流
	RateLimitBurst     int      `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitBurst:  20,
	}
}

// =============================================================================
// 🤖 LLM 后端（OpenAI 兼容）
// =============================================================================

type LLMConfig struct {
	Provider string `yaml:"provider" env:"PROVIDER"` // 日志与指标标签
	BaseURL  string `yaml:"base_url" env:"BASE_URL"`
	APIKey   string `yaml:"api_key" env:"API_KEY"`
	Model    string `yaml:"model" env:"MODEL"`

	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`

	InsecureSkipVerify bool `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
}

func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:     "ollama",
		BaseURL:      "http://localhost:11434",
		APIKey:       "ollama",
		Model:        "llama3",
		Timeout:      2 * time.Minute,
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// =============================================================================
// 🗄️ 存储后端
// =============================================================================

// RedisConfig 关闭时 redis 与 tiered 存储不可用
type RedisConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED"`
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	KeyPrefix    string `yaml:"key_prefix" env:"KEY_PREFIX"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	TLSEnabled   bool   `yaml:"tls_enabled" env:"TLS_ENABLED"`
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		KeyPrefix:    "chatflow:",
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DatabaseConfig 关闭时 sql 与 tiered 存储不可用。sqlite 的 Name 是文件路径。
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Driver   string `yaml:"driver" env:"DRIVER"` // postgres | mysql | sqlite
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	Name     string `yaml:"name" env:"NAME"`
	SSLMode  string `yaml:"ssl_mode" env:"SSL_MODE"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "chatflow",
		Name:            "chatflow.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// =============================================================================
// 💬 群聊调度
// =============================================================================

type ChatConfig struct {
	DefaultMaxRounds int    `yaml:"default_max_rounds" env:"DEFAULT_MAX_ROUNDS"` // 场景未给出 max_rounds 时使用
	TerminationWord  string `yaml:"termination_word" env:"TERMINATION_WORD"`     // 场景未声明终止条件时使用

	ScenariosDir   string        `yaml:"scenarios_dir" env:"SCENARIOS_DIR"`
	WatchScenarios bool          `yaml:"watch_scenarios" env:"WATCH_SCENARIOS"`
	RunTimeout     time.Duration `yaml:"run_timeout" env:"RUN_TIMEOUT"`
	CodeDir        string        `yaml:"code_dir" env:"CODE_DIR"` // 空表示不保存代码块

	AsyncWorkers   int `yaml:"async_workers" env:"ASYNC_WORKERS"`
	AsyncQueueSize int `yaml:"async_queue_size" env:"ASYNC_QUEUE_SIZE"`
	MaxResults     int `yaml:"max_results" env:"MAX_RESULTS"` // 内存中保留的最近结果数

	Store StoreConfig `yaml:"store" env:"STORE"`
}

// StoreConfig 对话状态存储
type StoreConfig struct {
	Type        string        `yaml:"type" env:"TYPE"`             // memory | redis | sql | tiered
	KeyPrefix   string        `yaml:"key_prefix" env:"KEY_PREFIX"` // 位于 Redis 键前缀之后
	TTL         time.Duration `yaml:"ttl" env:"TTL"`
	MaxMessages int           `yaml:"max_messages" env:"MAX_MESSAGES"` // 缓存中保留的最新消息数
	SaveRetries int           `yaml:"save_retries" env:"SAVE_RETRIES"`
}

func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		DefaultMaxRounds: 12,
		TerminationWord:  "TERMINATE",
		ScenariosDir:     "scenarios",
		RunTimeout:       5 * time.Minute,
		AsyncWorkers:     4,
		AsyncQueueSize:   64,
		MaxResults:       256,
		Store: StoreConfig{
			Type:        "memory",
			KeyPrefix:   "chat:",
			TTL:         24 * time.Hour,
			MaxMessages: 200,
			SaveRetries: 3,
		},
	}
}

// =============================================================================
// 📊 日志、遥测与认证
// =============================================================================

type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`   // debug | info | warn | error
	Format           string   `yaml:"format" env:"FORMAT"` // json | console
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	Insecure     bool    `yaml:"insecure" env:"INSECURE"` // 明文 gRPC
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "chatflow",
		SampleRate:   0.1,
	}
}

// AuthConfig API Key 与 JWT 密钥都为空时不启用认证
type AuthConfig struct {
	APIKeys          []string `yaml:"api_keys" env:"API_KEYS"`
	AllowQueryAPIKey bool     `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"` // WebSocket 客户端无法设置请求头
	JWTSecret        string   `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer        string   `yaml:"jwt_issuer" env:"JWT_ISSUER"`
	JWTAudience      string   `yaml:"jwt_audience" env:"JWT_AUDIENCE"`
}

// AuthEnabled 是否配置了任一认证方式
func (a AuthConfig) AuthEnabled() bool {
	return len(a.APIKeys) > 0 || a.JWTSecret != ""
}
