// Package cache 提供基于 Redis 的查询级结果缓存。
// 流水线输出是确定性的，同一（查询, 配置）键可以安全复用。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/retrieval"
)

// ErrCacheMiss indicates cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Config 缓存配置。
type Config struct {
	TTL     time.Duration `json:"ttl" yaml:"ttl"`
	Enabled bool          `json:"enabled" yaml:"enabled"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TTL:     15 * time.Minute,
		Enabled: true,
	}
}

// ResultCache Redis 查询结果缓存，实现 retrieval.OutputCache。
// 缓存故障只降级为未命中，绝不影响查询本身。
type ResultCache struct {
	rdb    *redis.Client
	cfg    Config
	logger *zap.Logger
}

// NewResultCache 创建结果缓存。
func NewResultCache(rdb *redis.Client, cfg Config, logger *zap.Logger) *ResultCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultCache{
		rdb:    rdb,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "result_cache")),
	}
}

// Get 查缓存；未命中或任何故障都返回 (nil, false)。
func (c *ResultCache) Get(ctx context.Context, key string) (*retrieval.Output, bool) {
	if !c.cfg.Enabled || c.rdb == nil {
		return nil, false
	}

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache get failed", zap.Error(err))
		}
		return nil, false
	}

	var out retrieval.Output
	if err := json.Unmarshal(data, &out); err != nil {
		c.logger.Warn("cache entry corrupted, treating as miss", zap.Error(err))
		return nil, false
	}
	return &out, true
}

// Set 写缓存；失败只记录日志。
func (c *ResultCache) Set(ctx context.Context, key string, out *retrieval.Output) {
	if !c.cfg.Enabled || c.rdb == nil || out == nil {
		return
	}

	data, err := json.Marshal(out)
	if err != nil {
		c.logger.Warn("cache marshal failed", zap.Error(err))
		return
	}

	if err := c.rdb.Set(ctx, key, data, c.cfg.TTL).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.Error(err))
	}
}
