package retrieval

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/types"
)

// FusionEngine 把三路信号的排名列表融合为一个。
// 各信号的原始分数跨信号不可比（余弦相似度 vs BM25 vs 逆距离），
// 必须先做信号内归一化（weighted_sum）或改用排名（rrf）。
// 每条融合结果都记录全部贡献信号及其原始分数/排名——这是硬性
// 不变式，下游的引用标注依赖它。
type FusionEngine struct {
	logger *zap.Logger
}

// NewFusionEngine 创建融合引擎。
func NewFusionEngine(logger *zap.Logger) *FusionEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FusionEngine{
		logger: logger.With(zap.String("component", "fusion_engine")),
	}
}

// Fuse 按配置的策略融合三路结果。
// 输出按 fused_score 降序（同分按 chunk_id 升序），截断至 final_top_n，
// FinalRank 为 1-based；fused_score 沿 FinalRank 单调不增。
func (e *FusionEngine) Fuse(dense, sparse, graph []types.RetrievalResult, cfg FusionConfig) ([]types.FusedResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var results []types.FusedResult
	switch cfg.Strategy {
	case StrategyWeightedSum:
		results = e.fuseWeightedSum(dense, sparse, graph, cfg, false)
	case StrategyRRF:
		results = e.fuseRRF(dense, sparse, graph, cfg)
	case StrategyInterleave:
		results = e.fuseInterleave(dense, sparse, graph)
	case StrategyScoreThreshold:
		results = e.fuseWeightedSum(dense, sparse, graph, cfg, true)
	}

	if len(results) > cfg.FinalTopN {
		results = results[:cfg.FinalTopN]
	}
	for i := range results {
		results[i].FinalRank = i + 1
	}

	e.logger.Debug("fusion completed",
		zap.String("strategy", string(cfg.Strategy)),
		zap.Int("dense", len(dense)),
		zap.Int("sparse", len(sparse)),
		zap.Int("graph", len(graph)),
		zap.Int("fused", len(results)))

	return results, nil
}

// collectHits 把各信号命中按 chunk_id 聚合，保留原始分数与排名。
func collectHits(dense, sparse, graph []types.RetrievalResult) map[string][]types.SignalHit {
	hits := make(map[string][]types.SignalHit)
	for _, list := range [][]types.RetrievalResult{dense, sparse, graph} {
		for _, r := range list {
			hits[r.ChunkID] = append(hits[r.ChunkID], types.SignalHit{
				Source: r.Source,
				Score:  r.Score,
				Rank:   r.Rank,
			})
		}
	}
	return hits
}

// fuseWeightedSum 信号内 min-max 归一化后加权求和。
// thresholded 为 true 时先按原始分数过阈值（score_threshold 策略）：
// 在所有信号上都不过阈值的块被整体丢弃。
func (e *FusionEngine) fuseWeightedSum(dense, sparse, graph []types.RetrievalResult, cfg FusionConfig, thresholded bool) []types.FusedResult {
	denseNorm := minMaxNormalize(dense)
	sparseNorm := minMaxNormalize(sparse)
	graphNorm := minMaxNormalize(graph)

	passed := make(map[string]bool)
	if thresholded {
		for _, list := range [][]types.RetrievalResult{dense, sparse, graph} {
			for _, r := range list {
				if r.Score > cfg.ScoreThreshold {
					passed[r.ChunkID] = true
				}
			}
		}
	}

	hits := collectHits(dense, sparse, graph)
	results := make([]types.FusedResult, 0, len(hits))
	for chunkID, signalHits := range hits {
		if thresholded && !passed[chunkID] {
			continue
		}

		// 信号缺席时该项贡献为 0
		score := cfg.DenseWeight*denseNorm[chunkID] +
			cfg.SparseWeight*sparseNorm[chunkID] +
			cfg.GraphWeight*graphNorm[chunkID]

		results = append(results, types.FusedResult{
			ChunkID:    chunkID,
			FusedScore: score,
			Signals:    signalHits,
		})
	}

	sortFused(results)
	return results
}

// fuseRRF 倒数排名融合：fused = Σ 1/(k + rank)。
// 基于排名，对分数量纲天然免疫。
func (e *FusionEngine) fuseRRF(dense, sparse, graph []types.RetrievalResult, cfg FusionConfig) []types.FusedResult {
	scores := make(map[string]float64)
	for _, list := range [][]types.RetrievalResult{dense, sparse, graph} {
		for _, r := range list {
			scores[r.ChunkID] += 1.0 / (cfg.RRFK + float64(r.Rank))
		}
	}

	hits := collectHits(dense, sparse, graph)
	results := make([]types.FusedResult, 0, len(hits))
	for chunkID, signalHits := range hits {
		results = append(results, types.FusedResult{
			ChunkID:    chunkID,
			FusedScore: scores[chunkID],
			Signals:    signalHits,
		})
	}

	sortFused(results)
	return results
}

// fuseInterleave 轮询交错：按 dense→sparse→graph 的顺序各取一条，
// 跳过已选中的块。分数按最终位置赋值（越靠前越大），只保证
// 排序一致性，跨请求不可比。
func (e *FusionEngine) fuseInterleave(dense, sparse, graph []types.RetrievalResult) []types.FusedResult {
	hits := collectHits(dense, sparse, graph)
	lists := [][]types.RetrievalResult{dense, sparse, graph}
	cursors := make([]int, len(lists))

	var order []string
	selected := make(map[string]bool)
	for {
		progressed := false
		for li, list := range lists {
			for cursors[li] < len(list) && selected[list[cursors[li]].ChunkID] {
				cursors[li]++
			}
			if cursors[li] < len(list) {
				id := list[cursors[li]].ChunkID
				selected[id] = true
				order = append(order, id)
				cursors[li]++
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	results := make([]types.FusedResult, 0, len(order))
	for i, chunkID := range order {
		results = append(results, types.FusedResult{
			ChunkID:    chunkID,
			FusedScore: float64(len(order) - i),
			Signals:    hits[chunkID],
		})
	}
	return results
}

// minMaxNormalize 把单一信号的分数归一化到 [0,1]。
// 所有分数相同时全部记 1.0。
func minMaxNormalize(results []types.RetrievalResult) map[string]float64 {
	normalized := make(map[string]float64, len(results))
	if len(results) == 0 {
		return normalized
	}

	minScore := math.MaxFloat64
	maxScore := -math.MaxFloat64
	for _, r := range results {
		if r.Score < minScore {
			minScore = r.Score
		}
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}

	scoreRange := maxScore - minScore
	for _, r := range results {
		if scoreRange == 0 {
			normalized[r.ChunkID] = 1.0
		} else {
			normalized[r.ChunkID] = (r.Score - minScore) / scoreRange
		}
	}
	return normalized
}

// sortFused 按融合分数降序排序，同分按 chunk_id 升序保证确定性。
func sortFused(results []types.FusedResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].FusedScore != results[j].FusedScore {
			return results[i].FusedScore > results[j].FusedScore
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}
