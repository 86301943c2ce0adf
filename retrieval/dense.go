package retrieval

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/types"
)

// DenseRetriever 按查询向量与块向量的余弦相似度排序。
// 默认对 ChunkStore 做全量扫描；配置了 VectorSearcher 时
// 下推到存储层，失败时回退到全量扫描。
type DenseRetriever struct {
	store    ChunkStore
	searcher VectorSearcher
	// minSimilarity 相似度下限，低于该值的候选被丢弃（返回空列表而非错误）。
	minSimilarity float64
	logger        *zap.Logger
}

// DenseOption 配置 DenseRetriever。
type DenseOption func(*DenseRetriever)

// WithVectorSearcher 启用存储层向量检索下推。
func WithVectorSearcher(s VectorSearcher) DenseOption {
	return func(r *DenseRetriever) { r.searcher = s }
}

// WithMinSimilarity 设置相似度下限。
func WithMinSimilarity(min float64) DenseOption {
	return func(r *DenseRetriever) { r.minSimilarity = min }
}

// NewDenseRetriever 创建稠密检索器。
func NewDenseRetriever(store ChunkStore, logger *zap.Logger, opts ...DenseOption) *DenseRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &DenseRetriever{
		store:  store,
		logger: logger.With(zap.String("component", "dense_retriever")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve 返回至多 topK 条结果，按相似度降序，同分按 chunk_id 升序。
// 索引中没有任何向量时返回 EMPTY_INDEX 错误；
// 有向量但没有候选过相似度下限时返回空列表，不是错误。
func (r *DenseRetriever) Retrieve(ctx context.Context, queryEmbedding []float64, topK int) ([]types.RetrievalResult, error) {
	if topK <= 0 {
		return []types.RetrievalResult{}, nil
	}

	// 存储层下推优先
	if r.searcher != nil {
		results, err := r.searcher.SearchVectors(ctx, queryEmbedding, topK)
		if err != nil {
			r.logger.Warn("vector searcher failed, falling back to full scan", zap.Error(err))
		} else {
			return r.finalize(results, topK), nil
		}
	}

	chunks, err := r.store.AllChunks(ctx)
	if err != nil {
		return nil, types.NewError(types.ErrStoreFailure, "load chunks for dense retrieval").
			WithSignal(string(types.SignalDense)).WithCause(err)
	}

	results := make([]types.RetrievalResult, 0, len(chunks))
	indexed := 0
	for _, c := range chunks {
		if !c.HasEmbedding() {
			continue
		}
		indexed++

		sim := cosineSimilarity(queryEmbedding, c.Embedding)
		results = append(results, types.RetrievalResult{
			ChunkID: c.ID,
			Score:   sim,
			Source:  types.SignalDense,
		})
	}

	if indexed == 0 {
		return nil, types.NewError(types.ErrEmptyIndex, "no vectors indexed").
			WithSignal(string(types.SignalDense))
	}

	return r.finalize(results, topK), nil
}

// finalize 过滤相似度下限、排序、截断并写入排名。
func (r *DenseRetriever) finalize(results []types.RetrievalResult, topK int) []types.RetrievalResult {
	filtered := results[:0]
	for _, res := range results {
		if res.Score >= r.minSimilarity {
			res.Source = types.SignalDense
			filtered = append(filtered, res)
		}
	}

	sortResults(filtered)
	if len(filtered) > topK {
		filtered = filtered[:topK]
	}
	assignRanks(filtered)
	return filtered
}

// cosineSimilarity 计算余弦相似度。
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
