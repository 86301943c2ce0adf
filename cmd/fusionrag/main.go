// =============================================================================
// FusionRAG 主入口
// =============================================================================
// 混合检索融合引擎服务入口点，包含 HTTP 服务、健康检查、Prometheus 指标
//
// 使用方法:
//
//	fusionrag serve                       # 启动服务
//	fusionrag serve --config config.yaml  # 指定配置文件
//	fusionrag seed --file chunks.json     # 导入 chunk 数据
//	fusionrag version                     # 显示版本信息
//	fusionrag health                      # 健康检查
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/fusionrag/config"
	"github.com/BaSui01/fusionrag/internal/telemetry"
	"github.com/BaSui01/fusionrag/types"
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
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "seed":
		runSeed(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)

	// 初始化日志
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting FusionRAG",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	// Initialize OpenTelemetry tracing
	tracing, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize tracing", zap.Error(err))
	}

	// 创建服务器
	server := NewServer(cfg, logger, tracing)

	// 启动服务器
	if err := server.Start(context.Background()); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	// 等待关闭信号
	server.WaitForShutdown()

	logger.Info("FusionRAG stopped")
}

// =============================================================================
// 🌱 seed 命令
// =============================================================================

// runSeed 从 JSON 文件导入 chunk 数据到配置的存储（离线索引任务）。
func runSeed(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	filePath := fs.String("file", "", "Path to chunks JSON file")
	fs.Parse(args)

	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "seed requires --file <chunks.json>")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	data, err := os.ReadFile(*filePath)
	if err != nil {
		logger.Fatal("Failed to read chunks file", zap.Error(err))
	}

	var chunks []types.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		logger.Fatal("Failed to parse chunks file", zap.Error(err))
	}

	chunkStore, _, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}

	seeder, ok := chunkStore.(interface {
		Seed(ctx context.Context, chunks []types.Chunk) error
	})
	if !ok {
		logger.Fatal("Configured store does not support seeding")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// 先保证表结构就绪再写入
	if migrator, ok := chunkStore.(interface {
		Migrate(ctx context.Context) error
	}); ok {
		if err := migrator.Migrate(ctx); err != nil {
			logger.Fatal("Migrate failed", zap.Error(err))
		}
	}

	if err := seeder.Seed(ctx, chunks); err != nil {
		logger.Fatal("Seed failed", zap.Error(err))
	}

	logger.Info("Seed completed",
		zap.Int("chunks", len(chunks)),
		zap.String("driver", cfg.Database.Driver),
	)
}

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

// runMigrate 对配置的存储执行表结构迁移（离线索引任务）。
func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	chunkStore, _, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}

	migrator, ok := chunkStore.(interface {
		Migrate(ctx context.Context) error
	})
	if !ok {
		// SQLite 在打开时自动建表，无需独立迁移
		logger.Info("Store migrates on open, nothing to do",
			zap.String("driver", cfg.Database.Driver))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := migrator.Migrate(ctx); err != nil {
		logger.Fatal("Migrate failed", zap.Error(err))
	}

	logger.Info("Migration completed", zap.String("driver", cfg.Database.Driver))
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("FusionRAG %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`FusionRAG - Hybrid Retrieval Fusion Engine

Usage:
  fusionrag <command> [options]

Commands:
  serve     Start the FusionRAG server
  seed      Import chunk data into the configured store
  migrate   Apply storage schema migrations
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'seed':
  --config <path>   Path to configuration file (YAML)
  --file <path>     Path to chunks JSON file

Examples:
  fusionrag serve
  fusionrag serve --config /etc/fusionrag/config.yaml
  fusionrag seed --file chunks.json
  fusionrag health --addr http://localhost:8080
  fusionrag version`)
}

// =============================================================================
// 🔧 配置与日志初始化
// =============================================================================

func loadConfig(configPath string) *config.Config {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	return cfg
}

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
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
