// =============================================================================
// 📦 FusionRAG 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Graph:     GraphConfig{},
		Tokenizer: DefaultTokenizerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultRetrievalConfig 返回默认检索管线配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		Fusion: FusionConfig{
			Strategy:       "rrf",
			DenseWeight:    0.5,
			SparseWeight:   0.3,
			GraphWeight:    0.2,
			RRFK:           60,
			ScoreThreshold: 0.1,
			TopKPerSignal:  20,
			FinalTopN:      10,
		},
		Rerank: RerankConfig{
			Enabled: false,
			TopK:    50,
			Timeout: 2 * time.Second,
		},
		Diversity: DiversityConfig{
			MaxPerDocument:      3,
			SimilarityThreshold: 0.85,
		},
		Composer: ComposerConfig{
			TokenBudget: 2000,
			StitchGap:   1,
			JoinMarker:  " [...] ",
		},
		SignalTimeout: 5 * time.Second,
		GraphMaxDepth: 2,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:  false,
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
		PoolSize: 10,
		TTL:      15 * time.Minute,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:  "sqlite",
		Host:    "localhost",
		Port:    5432,
		User:    "fusionrag",
		Name:    "fusionrag.db",
		SSLMode: "disable",
	}
}

// DefaultEmbeddingConfig 返回默认查询向量化配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Endpoint: "",
		Model:    "text-embedding-3-small",
		Timeout:  10 * time.Second,
	}
}

// DefaultTokenizerConfig 返回默认分词计数配置
func DefaultTokenizerConfig() TokenizerConfig {
	return TokenizerConfig{
		Encoding: "cl100k_base",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "fusionrag",
		SampleRate:   1.0,
	}
}
