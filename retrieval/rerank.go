package retrieval

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/types"
)

// PairScorer 对（查询，块文本）做联合相关性打分。
// 实现可以是本地 cross-encoder，也可以是远程调用；
// 本引擎只要求实现尊重 ctx 的取消与超时。
type PairScorer interface {
	ScorePairs(ctx context.Context, query string, texts []string) ([]float64, error)
}

// Reranker 可选的二次精排阶段。
// 对融合结果的头部 TopK 重新打分并排序；原 fused_score 保留供审计，
// 但不再驱动排序。打分超时或失败时回退到输入顺序，绝不丢结果。
type Reranker struct {
	scorer PairScorer
	store  ChunkStore
	cfg    RerankConfig
	logger *zap.Logger
}

// NewReranker 创建重排序器。scorer 为 nil 时 Rerank 退化为恒等变换。
func NewReranker(scorer PairScorer, store ChunkStore, cfg RerankConfig, logger *zap.Logger) *Reranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reranker{
		scorer: scorer,
		store:  store,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "reranker")),
	}
}

// Rerank 重排融合结果。
// 返回的列表与输入包含完全相同的元素（不丢不增）。
// 第二个返回值在回退时为 RERANK_TIMEOUT 级别的可恢复错误，
// 此时第一个返回值仍然有效（即输入顺序），调用方记录后继续即可。
func (r *Reranker) Rerank(ctx context.Context, query string, results []types.FusedResult) ([]types.FusedResult, error) {
	if !r.cfg.Enabled || r.scorer == nil || len(results) == 0 {
		return results, nil
	}

	topK := r.cfg.TopK
	if topK <= 0 || topK > len(results) {
		topK = len(results)
	}
	head := results[:topK]

	ids := make([]string, len(head))
	for i, res := range head {
		ids[i] = res.ChunkID
	}

	chunks, err := r.store.GetByIDs(ctx, ids)
	if err != nil {
		r.logger.Warn("rerank chunk lookup failed, keeping fused order", zap.Error(err))
		return results, types.NewError(types.ErrRerankTimeout, "chunk lookup for rerank").
			WithRetryable(true).WithCause(err)
	}
	textByID := make(map[string]string, len(chunks))
	for _, c := range chunks {
		textByID[c.ID] = c.Text
	}

	texts := make([]string, len(head))
	for i, res := range head {
		texts[i] = textByID[res.ChunkID]
	}

	scoreCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	scores, err := r.scorer.ScorePairs(scoreCtx, query, texts)
	if err != nil || len(scores) != len(head) {
		r.logger.Warn("rerank scoring failed, keeping fused order",
			zap.Int("candidates", len(head)),
			zap.Error(err))
		return results, types.NewError(types.ErrRerankTimeout, "rerank scoring").
			WithRetryable(true).WithCause(err)
	}

	reranked := make([]types.FusedResult, len(results))
	copy(reranked, results)
	for i := range reranked[:topK] {
		reranked[i].RerankScore = scores[i]
	}

	sort.Slice(reranked[:topK], func(i, j int) bool {
		if reranked[i].RerankScore != reranked[j].RerankScore {
			return reranked[i].RerankScore > reranked[j].RerankScore
		}
		return reranked[i].ChunkID < reranked[j].ChunkID
	})

	for i := range reranked {
		reranked[i].FinalRank = i + 1
	}

	r.logger.Debug("rerank completed", zap.Int("reranked", topK), zap.Int("total", len(reranked)))
	return reranked, nil
}
