// =============================================================================
// 📦 FusionRAG 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("FUSIONRAG").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/fusionrag/retrieval"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 FusionRAG 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Retrieval 检索管线配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Redis 结果缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Embedding 查询向量化服务配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Graph 知识图谱数据配置
	Graph GraphConfig `yaml:"graph" env:"GRAPH"`

	// Tokenizer 分词计数配置
	Tokenizer TokenizerConfig `yaml:"tokenizer" env:"TOKENIZER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 限流: 每秒请求数
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流: 突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// RetrievalConfig 检索管线配置
type RetrievalConfig struct {
	// Fusion 融合配置
	Fusion FusionConfig `yaml:"fusion" env:"FUSION"`
	// Rerank 重排配置
	Rerank RerankConfig `yaml:"rerank" env:"RERANK"`
	// Diversity 多样性过滤配置
	Diversity DiversityConfig `yaml:"diversity" env:"DIVERSITY"`
	// Composer 上下文组装配置
	Composer ComposerConfig `yaml:"composer" env:"COMPOSER"`
	// 单信号检索超时
	SignalTimeout time.Duration `yaml:"signal_timeout" env:"SIGNAL_TIMEOUT"`
	// 图谱扩展最大深度
	GraphMaxDepth int `yaml:"graph_max_depth" env:"GRAPH_MAX_DEPTH"`
}

// FusionConfig 融合策略配置
type FusionConfig struct {
	// 策略: weighted_sum, rrf, interleave, score_threshold
	Strategy string `yaml:"strategy" env:"STRATEGY"`
	// 稠密信号权重
	DenseWeight float64 `yaml:"dense_weight" env:"DENSE_WEIGHT"`
	// 稀疏信号权重
	SparseWeight float64 `yaml:"sparse_weight" env:"SPARSE_WEIGHT"`
	// 图谱信号权重
	GraphWeight float64 `yaml:"graph_weight" env:"GRAPH_WEIGHT"`
	// RRF 常数 k
	RRFK int `yaml:"rrf_k" env:"RRF_K"`
	// score_threshold 策略的分数下限
	ScoreThreshold float64 `yaml:"score_threshold" env:"SCORE_THRESHOLD"`
	// 每个信号保留的候选数
	TopKPerSignal int `yaml:"top_k_per_signal" env:"TOP_K_PER_SIGNAL"`
	// 融合后保留的最终候选数
	FinalTopN int `yaml:"final_top_n" env:"FINAL_TOP_N"`
}

// RerankConfig 重排配置
type RerankConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 参与重排的头部候选数
	TopK int `yaml:"top_k" env:"TOP_K"`
	// 重排超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// DiversityConfig 多样性过滤配置
type DiversityConfig struct {
	// 单文档最多保留的 chunk 数
	MaxPerDocument int `yaml:"max_per_document" env:"MAX_PER_DOCUMENT"`
	// 近重复判定阈值 (Jaccard)
	SimilarityThreshold float64 `yaml:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`
}

// ComposerConfig 上下文组装配置
type ComposerConfig struct {
	// Token 预算
	TokenBudget int `yaml:"token_budget" env:"TOKEN_BUDGET"`
	// 允许拼接的最大序号间隔
	StitchGap int `yaml:"stitch_gap" env:"STITCH_GAP"`
	// 拼接标记
	JoinMarker string `yaml:"join_marker" env:"JOIN_MARKER"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用结果缓存
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 缓存 TTL
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: sqlite, postgres
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 时为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
}

// EmbeddingConfig 查询向量化服务配置
type EmbeddingConfig struct {
	// 嵌入服务端点（OpenAI 兼容），为空时稠密信号降级
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// GraphConfig 知识图谱数据配置
type GraphConfig struct {
	// 图谱数据文件路径（JSON），为空时图谱信号返回空结果
	Path string `yaml:"path" env:"PATH"`
}

// TokenizerConfig 分词计数配置
type TokenizerConfig struct {
	// tiktoken 编码名称
	Encoding string `yaml:"encoding" env:"ENCODING"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "FUSIONRAG",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		errs = append(errs, "database driver must be sqlite or postgres")
	}
	if err := c.Retrieval.ToPipeline().Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// ToPipeline 转换为检索管线配置
func (r *RetrievalConfig) ToPipeline() retrieval.PipelineConfig {
	return retrieval.PipelineConfig{
		Fusion: retrieval.FusionConfig{
			Strategy:       retrieval.Strategy(r.Fusion.Strategy),
			DenseWeight:    r.Fusion.DenseWeight,
			SparseWeight:   r.Fusion.SparseWeight,
			GraphWeight:    r.Fusion.GraphWeight,
			RRFK:           float64(r.Fusion.RRFK),
			ScoreThreshold: r.Fusion.ScoreThreshold,
			TopKPerSignal:  r.Fusion.TopKPerSignal,
			FinalTopN:      r.Fusion.FinalTopN,
		},
		Rerank: retrieval.RerankConfig{
			Enabled: r.Rerank.Enabled,
			TopK:    r.Rerank.TopK,
			Timeout: r.Rerank.Timeout,
		},
		Diversity: retrieval.DiversityConfig{
			MaxPerDocument:      r.Diversity.MaxPerDocument,
			SimilarityThreshold: r.Diversity.SimilarityThreshold,
		},
		Composer: retrieval.ComposerConfig{
			TokenBudget: r.Composer.TokenBudget,
			StitchGap:   r.Composer.StitchGap,
			JoinMarker:  r.Composer.JoinMarker,
		},
		SignalTimeout: r.SignalTimeout,
		GraphMaxDepth: r.GraphMaxDepth,
	}
}
