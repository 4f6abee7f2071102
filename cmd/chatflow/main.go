// =============================================================================
// ChatFlow 主入口
// =============================================================================
// 多智能体群聊调度服务：HTTP/WebSocket API、健康检查、Prometheus 指标
//
// 使用方法:
//
//	chatflow serve                                  # 启动服务
//	chatflow serve --config config.yaml             # 指定配置文件
//	chatflow run --scenario story_circle -m "Hi"    # 在终端运行一个场景
//	chatflow validate scenarios/                    # 校验场景文件
//	chatflow tokens --model llama3 "some text"      # 统计 token 数
//	chatflow version                                # 显示版本信息
//	chatflow health                                 # 健康检查
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/agent/declarative"
	"github.com/BaSui01/chatflow/config"
	"github.com/BaSui01/chatflow/llm/providers/openaicompat"
	"github.com/BaSui01/chatflow/llm/tokenizer"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "run":
		err = runScenario(os.Args[2:], os.Stdout)
	case "validate":
		err = runValidate(os.Args[2:], os.Stdout)
	case "tokens":
		err = runTokens(os.Args[2:], os.Stdin, os.Stdout)
	case "version":
		printVersion(os.Stdout)
	case "health":
		err = runHealthCheck(os.Args[2:], os.Stdout)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig 加载并校验配置；path 为空时仅使用默认值与环境变量
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting ChatFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	runErr := NewServer(app).Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := app.Close(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
	}

	logger.Info("ChatFlow stopped")
	return runErr
}

// =============================================================================
// 💬 run 命令
// =============================================================================

func runScenario(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	scenario := fs.String("scenario", "", "Scenario name (from the scenarios dir) or path to a scenario file")
	message := fs.String("m", "", "Opening message, overrides the scenario's message")
	start := fs.String("start", "", "Opening speaker, overrides the scenario's start")
	asJSON := fs.Bool("json", false, "Print the result as JSON")
	fs.Parse(args)

	if *scenario == "" {
		return errors.New("--scenario is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	// 终端模式不需要后台池
	cfg.Chat.AsyncWorkers = 0

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	def, err := resolveScenario(app, *scenario)
	if err != nil {
		return err
	}
	gc, err := app.factory.Build(def)
	if err != nil {
		return err
	}
	st := def.StartOf(*message)
	if *start != "" {
		st.Speaker = *start
	}

	if cfg.Chat.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Chat.RunTimeout)
		defer cancel()
	}

	observers := append([]conversation.Observer{}, app.observers...)
	if !*asJSON {
		observers = append(observers, printMessage(out))
	}
	res, runErr := app.manager.Run(ctx, gc, st, observers...)
	if res == nil {
		return runErr
	}

	summary, err := conversation.Summarize(ctx, conversation.SummaryMethod(def.SummaryMethod), res,
		&conversation.Summarizer{Provider: app.provider, Model: cfg.LLM.Model})
	if err != nil {
		logger.Warn("summary failed", zap.Error(err))
	}

	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			*conversation.Result
			Summary string `json:"summary,omitempty"`
		}{res, summary}); err != nil {
			return err
		}
		return runErr
	}

	fmt.Fprintf(out, "\n--- chat %s finished: reason=%s rounds=%d\n", res.ChatID, res.Reason, res.Rounds)
	if summary != "" {
		fmt.Fprintf(out, "summary: %s\n", summary)
	}
	return runErr
}

// resolveScenario 优先按文件路径加载，否则从场景目录注册表中查找
func resolveScenario(app *App, ref string) (*declarative.ScenarioDefinition, error) {
	if _, err := os.Stat(ref); err == nil {
		def, err := declarative.NewYAMLLoader().LoadFile(ref)
		if err != nil {
			return nil, err
		}
		if err := app.factory.Validate(def); err != nil {
			return nil, err
		}
		return def, nil
	}
	return app.scenarios.Get(ref)
}

func printMessage(out io.Writer) conversation.Observer {
	return func(_ string, msg conversation.Message) {
		fmt.Fprintf(out, "[%d] %s: %s\n", msg.Round, msg.Sender, msg.Content)
	}
}

// =============================================================================
// ✅ validate 命令
// =============================================================================

func runValidate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() == 0 {
		return errors.New("usage: chatflow validate <file-or-dir>...")
	}

	loader := declarative.NewYAMLLoader(declarative.Strict())
	// Build 不访问后端，默认配置的 provider 仅用于构建 llm 参与者
	factory := declarative.NewScenarioFactory(openaicompat.New(openaicompat.Config{}, nil), nil)

	var failed int
	check := func(path string, def *declarative.ScenarioDefinition) {
		if err := factory.Validate(def); err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
			return
		}
		// Build 额外校验规则与转移中引用的参与者名
		if _, err := factory.Build(def); err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
			return
		}
		fmt.Fprintf(out, "ok   %s (%s)\n", path, def.Name)
	}

	for _, path := range fs.Args() {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			def, err := loader.LoadFile(path)
			if err != nil {
				failed++
				fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
				continue
			}
			check(path, def)
			continue
		}
		defs, err := loader.LoadDir(path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
			continue
		}
		names := make([]string, 0, len(defs))
		for name := range defs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			check(filepath.Join(path, name), defs[name])
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d scenario(s) invalid", failed)
	}
	return nil
}

// =============================================================================
// 🔢 tokens 命令
// =============================================================================

func runTokens(args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("tokens", flag.ExitOnError)
	model := fs.String("model", config.DefaultLLMConfig().Model, "Model whose tokenizer is used")
	file := fs.String("file", "", "Read text from file instead of arguments (- for stdin)")
	fs.Parse(args)

	var text string
	switch {
	case *file == "-":
		data, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		text = string(data)
	case *file != "":
		data, err := os.ReadFile(*file)
		if err != nil {
			return err
		}
		text = string(data)
	default:
		text = strings.Join(fs.Args(), " ")
	}

	tokenizer.RegisterDefaultTokenizers()
	tok := tokenizer.GetTokenizerOrEstimator(*model)
	n, err := tok.CountTokens(text)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "model=%s tokenizer=%s tokens=%d max=%d\n", *model, tok.Name(), n, tok.MaxTokens())
	return nil
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}

	fmt.Fprintln(out, "OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(out io.Writer) {
	fmt.Fprintf(out, "ChatFlow %s\n", Version)
	fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, `ChatFlow - multi-agent group chat scheduler

Usage:
  chatflow <command> [options]

Commands:
  serve     Start the HTTP/WebSocket server
  run       Run one scenario in the terminal
  validate  Validate scenario files or directories
  tokens    Count tokens of a text for a model
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'run':
  --config <path>   Path to configuration file (YAML)
  --scenario <ref>  Scenario name or scenario file
  -m <text>         Opening message
  --start <name>    Opening speaker
  --json            Print the result as JSON

Examples:
  chatflow serve --config /etc/chatflow/config.yaml
  chatflow run --scenario scenarios/story_circle.yaml -m "Once upon a time"
  chatflow validate scenarios/
  echo "hello world" | chatflow tokens --model gpt-4o --file -
  chatflow health --addr http://localhost:8080`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	var opts []zap.Option
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	logger, err := zapConfig.Build(opts...)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
