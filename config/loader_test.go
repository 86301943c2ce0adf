// 配置加载器与默认配置测试。
package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/fusionrag/retrieval"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 验证服务器默认值
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, float64(100), cfg.Server.RateLimitRPS)

	// 验证检索默认值
	assert.Equal(t, "rrf", cfg.Retrieval.Fusion.Strategy)
	assert.Equal(t, 0.5, cfg.Retrieval.Fusion.DenseWeight)
	assert.Equal(t, 60, cfg.Retrieval.Fusion.RRFK)
	assert.Equal(t, 20, cfg.Retrieval.Fusion.TopKPerSignal)
	assert.Equal(t, 10, cfg.Retrieval.Fusion.FinalTopN)
	assert.False(t, cfg.Retrieval.Rerank.Enabled)
	assert.Equal(t, 3, cfg.Retrieval.Diversity.MaxPerDocument)
	assert.Equal(t, 2000, cfg.Retrieval.Composer.TokenBudget)
	assert.Equal(t, 5*time.Second, cfg.Retrieval.SignalTimeout)
	assert.Equal(t, 2, cfg.Retrieval.GraphMaxDepth)

	// 验证 Redis 默认值
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 15*time.Minute, cfg.Redis.TTL)

	// 验证 Database 默认值
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "fusionrag.db", cfg.Database.Name)

	// 验证 Log 默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// 默认配置必须通过校验
	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "rrf", cfg.Retrieval.Fusion.Strategy)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	yamlContent := `
server:
  http_port: 9999
retrieval:
  fusion:
    strategy: weighted_sum
    dense_weight: 0.7
  composer:
    token_budget: 512
redis:
  enabled: true
  addr: redis.internal:6379
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "weighted_sum", cfg.Retrieval.Fusion.Strategy)
	assert.Equal(t, 0.7, cfg.Retrieval.Fusion.DenseWeight)
	assert.Equal(t, 512, cfg.Retrieval.Composer.TokenBudget)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)

	// 未覆盖的字段保留默认值
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 0.3, cfg.Retrieval.Fusion.SparseWeight)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o600))

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("FUSIONRAG_SERVER_HTTP_PORT", "8181")
	t.Setenv("FUSIONRAG_RETRIEVAL_FUSION_STRATEGY", "interleave")
	t.Setenv("FUSIONRAG_RETRIEVAL_SIGNAL_TIMEOUT", "750ms")
	t.Setenv("FUSIONRAG_REDIS_ENABLED", "true")
	t.Setenv("FUSIONRAG_RETRIEVAL_FUSION_DENSE_WEIGHT", "0.9")
	t.Setenv("FUSIONRAG_LOG_OUTPUT_PATHS", "stdout, /var/log/fusionrag.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.HTTPPort)
	assert.Equal(t, "interleave", cfg.Retrieval.Fusion.Strategy)
	assert.Equal(t, 750*time.Millisecond, cfg.Retrieval.SignalTimeout)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 0.9, cfg.Retrieval.Fusion.DenseWeight)
	assert.Equal(t, []string{"stdout", "/var/log/fusionrag.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9999\n"), 0o600))

	t.Setenv("FUSIONRAG_SERVER_HTTP_PORT", "8282")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	// 环境变量优先于 YAML
	assert.Equal(t, 8282, cfg.Server.HTTPPort)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "7070")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.HTTPPort)
}

func TestLoader_Validator(t *testing.T) {
	wantErr := errors.New("port reserved")
	_, err := NewLoader().
		WithValidator(func(cfg *Config) error {
			if cfg.Server.HTTPPort == 8080 {
				return wantErr
			}
			return nil
		}).
		Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

// --- 校验与转换测试 ---

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.HTTPPort = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Database.Driver = "mysql"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Retrieval.Fusion.Strategy = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{
		Driver: "postgres", Host: "db.internal", Port: 5432,
		User: "rag", Password: "secret", Name: "chunks", SSLMode: "require",
	}
	assert.Equal(t,
		"host=db.internal port=5432 user=rag password=secret dbname=chunks sslmode=require",
		pg.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Name: "fusionrag.db"}
	assert.Equal(t, "fusionrag.db", lite.DSN())

	unknown := DatabaseConfig{Driver: "unknown"}
	assert.Empty(t, unknown.DSN())
}

func TestRetrievalConfig_ToPipeline(t *testing.T) {
	r := DefaultRetrievalConfig()
	p := r.ToPipeline()

	assert.Equal(t, retrieval.StrategyRRF, p.Fusion.Strategy)
	assert.Equal(t, float64(60), p.Fusion.RRFK)
	assert.Equal(t, 2000, p.Composer.TokenBudget)
	assert.Equal(t, 5*time.Second, p.SignalTimeout)
	require.NoError(t, p.Validate())
}
