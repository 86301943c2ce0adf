package retrieval

import (
	"time"

	"github.com/BaSui01/fusionrag/types"
)

// Strategy 融合策略。
type Strategy string

const (
	// StrategyWeightedSum 信号内 min-max 归一化后加权求和。
	StrategyWeightedSum Strategy = "weighted_sum"
	// StrategyRRF 倒数排名融合：Σ 1/(k + rank)，基于排名，天然跨信号可比。
	StrategyRRF Strategy = "rrf"
	// StrategyInterleave 轮询交错各信号的排名列表。
	// 分数按最终位置赋值，跨请求不可比，只用于排序。
	StrategyInterleave Strategy = "interleave"
	// StrategyScoreThreshold 原始分数过阈值的并集，再按加权和排序。
	StrategyScoreThreshold Strategy = "score_threshold"
)

// FusionConfig 融合配置，按查询不可变，由调用方提供。
type FusionConfig struct {
	Strategy       Strategy `json:"strategy" yaml:"strategy"`
	DenseWeight    float64  `json:"dense_weight" yaml:"dense_weight"`
	SparseWeight   float64  `json:"sparse_weight" yaml:"sparse_weight"`
	GraphWeight    float64  `json:"graph_weight" yaml:"graph_weight"`
	RRFK           float64  `json:"rrf_k" yaml:"rrf_k"`
	ScoreThreshold float64  `json:"score_threshold" yaml:"score_threshold"`
	TopKPerSignal  int      `json:"top_k_per_signal" yaml:"top_k_per_signal"`
	FinalTopN      int      `json:"final_top_n" yaml:"final_top_n"`
}

// DefaultFusionConfig 返回默认融合配置。
// RRFK=60 取自 RRF 论文的标准值。
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		Strategy:       StrategyRRF,
		DenseWeight:    0.5,
		SparseWeight:   0.3,
		GraphWeight:    0.2,
		RRFK:           60,
		ScoreThreshold: 0.0,
		TopKPerSignal:  20,
		FinalTopN:      10,
	}
}

// Validate 校验融合配置。
func (c FusionConfig) Validate() error {
	switch c.Strategy {
	case StrategyWeightedSum, StrategyRRF, StrategyInterleave, StrategyScoreThreshold:
	default:
		return types.NewError(types.ErrInvalidConfig, "unknown fusion strategy: "+string(c.Strategy))
	}
	if c.DenseWeight < 0 || c.SparseWeight < 0 || c.GraphWeight < 0 {
		return types.NewError(types.ErrInvalidConfig, "fusion weights must be non-negative")
	}
	if c.Strategy == StrategyRRF && c.RRFK <= 0 {
		return types.NewError(types.ErrInvalidConfig, "rrf_k must be positive")
	}
	if c.TopKPerSignal <= 0 {
		return types.NewError(types.ErrInvalidConfig, "top_k_per_signal must be positive")
	}
	if c.FinalTopN <= 0 {
		return types.NewError(types.ErrInvalidConfig, "final_top_n must be positive")
	}
	return nil
}

// RerankConfig 重排序配置。
type RerankConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	TopK    int           `json:"top_k" yaml:"top_k"`     // 参与重排序的头部数量
	Timeout time.Duration `json:"timeout" yaml:"timeout"` // 外部打分调用的延迟预算
}

// DefaultRerankConfig 返回默认重排序配置。
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		Enabled: true,
		TopK:    50,
		Timeout: 2 * time.Second,
	}
}

// DiversityConfig 多样性过滤配置。
type DiversityConfig struct {
	// MaxPerDocument 单文档最多贡献的块数，<=0 表示不限制。
	MaxPerDocument int `json:"max_per_document" yaml:"max_per_document"`
	// SimilarityThreshold 近重复判定阈值（token 集合 Jaccard），>1 关闭去重。
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold"`
}

// DefaultDiversityConfig 返回默认多样性配置。
func DefaultDiversityConfig() DiversityConfig {
	return DiversityConfig{
		MaxPerDocument:      3,
		SimilarityThreshold: 0.85,
	}
}

// ComposerConfig 上下文组装配置。
type ComposerConfig struct {
	TokenBudget int `json:"token_budget" yaml:"token_budget"`
	// StitchGap 同文档相邻块拼接的最大 ordinal 间隔。
	StitchGap int `json:"stitch_gap" yaml:"stitch_gap"`
	// JoinMarker 拼接相邻块时使用的连接标记。
	JoinMarker string `json:"join_marker" yaml:"join_marker"`
}

// DefaultComposerConfig 返回默认组装配置。
func DefaultComposerConfig() ComposerConfig {
	return ComposerConfig{
		TokenBudget: 2000,
		StitchGap:   1,
		JoinMarker:  " [...] ",
	}
}

// PipelineConfig 整条流水线的配置。
type PipelineConfig struct {
	Fusion    FusionConfig    `json:"fusion" yaml:"fusion"`
	Rerank    RerankConfig    `json:"rerank" yaml:"rerank"`
	Diversity DiversityConfig `json:"diversity" yaml:"diversity"`
	Composer  ComposerConfig  `json:"composer" yaml:"composer"`
	// SignalTimeout 每路信号独立的检索超时。
	SignalTimeout time.Duration `json:"signal_timeout" yaml:"signal_timeout"`
	// GraphMaxDepth 图谱扩展的最大跳数。
	GraphMaxDepth int `json:"graph_max_depth" yaml:"graph_max_depth"`
}

// DefaultPipelineConfig 返回默认流水线配置。
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Fusion:        DefaultFusionConfig(),
		Rerank:        DefaultRerankConfig(),
		Diversity:     DefaultDiversityConfig(),
		Composer:      DefaultComposerConfig(),
		SignalTimeout: 5 * time.Second,
		GraphMaxDepth: 2,
	}
}

// Validate 校验流水线配置。
func (c PipelineConfig) Validate() error {
	if err := c.Fusion.Validate(); err != nil {
		return err
	}
	if c.Composer.TokenBudget <= 0 {
		return types.NewError(types.ErrInvalidConfig, "token_budget must be positive")
	}
	if c.SignalTimeout <= 0 {
		return types.NewError(types.ErrInvalidConfig, "signal_timeout must be positive")
	}
	if c.GraphMaxDepth < 0 {
		return types.NewError(types.ErrInvalidConfig, "graph_max_depth must be non-negative")
	}
	return nil
}
