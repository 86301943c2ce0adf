package retrieval

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/types"
)

// DiversityFilter 自上而下贪心过滤排名列表：
// 已贡献满额的文档、与已接受结果近重复的块被排除出输出。
// 过滤只删不排——幸存者之间的相对顺序保持不变。
type DiversityFilter struct {
	store  ChunkStore
	cfg    DiversityConfig
	logger *zap.Logger
}

// NewDiversityFilter 创建多样性过滤器。
func NewDiversityFilter(store ChunkStore, cfg DiversityConfig, logger *zap.Logger) *DiversityFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiversityFilter{
		store:  store,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "diversity_filter")),
	}
}

// Filter 返回通过多样性约束的结果子序列。
// 近重复判定使用索引期同款归一化分词上的 Jaccard 相似度。
func (f *DiversityFilter) Filter(ctx context.Context, results []types.FusedResult) ([]types.FusedResult, error) {
	if len(results) == 0 {
		return results, nil
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	chunks, err := f.store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, types.NewError(types.ErrStoreFailure, "load chunks for diversity filter").WithCause(err)
	}
	byID := make(map[string]types.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	perDoc := make(map[string]int)
	var acceptedTokens []map[string]bool
	accepted := make([]types.FusedResult, 0, len(results))
	skippedDoc, skippedDup := 0, 0

	for _, res := range results {
		chunk, ok := byID[res.ChunkID]
		if !ok {
			continue
		}

		if f.cfg.MaxPerDocument > 0 && perDoc[chunk.DocumentID] >= f.cfg.MaxPerDocument {
			skippedDoc++
			continue
		}

		tokens := tokenSet(chunk.Text)
		if f.isNearDuplicate(tokens, acceptedTokens) {
			skippedDup++
			continue
		}

		perDoc[chunk.DocumentID]++
		acceptedTokens = append(acceptedTokens, tokens)
		accepted = append(accepted, res)
	}

	if skippedDoc > 0 || skippedDup > 0 {
		f.logger.Debug("diversity filter applied",
			zap.Int("input", len(results)),
			zap.Int("accepted", len(accepted)),
			zap.Int("skipped_per_document", skippedDoc),
			zap.Int("skipped_near_duplicate", skippedDup))
	}

	return accepted, nil
}

func (f *DiversityFilter) isNearDuplicate(tokens map[string]bool, accepted []map[string]bool) bool {
	if f.cfg.SimilarityThreshold > 1 {
		return false
	}
	for _, prev := range accepted {
		if jaccard(tokens, prev) > f.cfg.SimilarityThreshold {
			return true
		}
	}
	return false
}

// tokenSet 归一化分词后的去重集合。
func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range Tokenize(text) {
		set[tok] = true
	}
	return set
}

// jaccard 计算两个 token 集合的 Jaccard 相似度。
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	intersection := 0
	for tok := range a {
		if b[tok] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}
