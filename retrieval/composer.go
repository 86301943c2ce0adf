package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/types"
)

// ContextComposer 把过滤后的结果组装为 token 预算内的上下文窗口。
// 块是整进整出的——绝不截断到一半，避免污染引用；
// 装不下当前预算剩余量的块被跳过，继续尝试后面更小的块。
// 只有当最小的候选块都超过总预算时才报 BUDGET_TOO_SMALL。
type ContextComposer struct {
	store     ChunkStore
	tokenizer Tokenizer
	cfg       ComposerConfig
	logger    *zap.Logger
}

// NewContextComposer 创建上下文组装器。
func NewContextComposer(store ChunkStore, tokenizer Tokenizer, cfg ComposerConfig, logger *zap.Logger) *ContextComposer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokenizer == nil {
		tokenizer = NewEstimatorTokenizer()
	}
	return &ContextComposer{
		store:     store,
		tokenizer: tokenizer,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "context_composer")),
	}
}

// Compose 按排名顺序组装上下文窗口。
// 引用编号按接受顺序从 1 连续分配，与融合排名无关；
// 同文档且 ordinal 间隔 ≤ StitchGap 的相邻条目用连接标记拼接。
func (c *ContextComposer) Compose(ctx context.Context, results []types.FusedResult) (*types.ContextWindow, error) {
	window := &types.ContextWindow{Entries: []types.ContextEntry{}}
	if len(results) == 0 {
		return window, nil
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	chunks, err := c.store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, types.NewError(types.ErrStoreFailure, "load chunks for composition").WithCause(err)
	}
	byID := make(map[string]types.Chunk, len(chunks))
	for _, ch := range chunks {
		byID[ch.ID] = ch
	}

	var sb strings.Builder
	seen := make(map[string]bool)
	budget := c.cfg.TokenBudget
	used := 0
	minCandidate := -1
	var prev *types.Chunk
	citation := 0

	for _, res := range results {
		chunk, ok := byID[res.ChunkID]
		if !ok || seen[chunk.ID] {
			continue
		}

		tokens := chunk.TokenCount
		if tokens <= 0 {
			tokens = c.tokenizer.CountTokens(chunk.Text)
		}
		if minCandidate < 0 || tokens < minCandidate {
			minCandidate = tokens
		}

		// 整块放不进剩余预算就跳过，不截断
		if used+tokens > budget {
			continue
		}

		citation++
		// 只在文档序向前推进时拼接，倒序相邻的块拼出来读不通
		stitched := false
		if prev != nil && prev.DocumentID == chunk.DocumentID {
			gap := chunk.Ordinal - prev.Ordinal
			stitched = gap > 0 && gap <= c.cfg.StitchGap
		}

		if citation > 1 {
			if stitched {
				sb.WriteString(c.cfg.JoinMarker)
			} else {
				sb.WriteString("\n\n")
			}
		}
		fmt.Fprintf(&sb, "[%d] %s", citation, chunk.Text)

		window.Entries = append(window.Entries, types.ContextEntry{
			ChunkID:       chunk.ID,
			CitationIndex: citation,
			Stitched:      stitched,
		})
		seen[chunk.ID] = true
		used += tokens
		chunkCopy := chunk
		prev = &chunkCopy
	}

	if len(window.Entries) == 0 && minCandidate >= 0 {
		// 存在候选但一个都放不下：最小候选已超预算
		return nil, types.NewError(types.ErrBudgetTooSmall,
			fmt.Sprintf("smallest candidate chunk (%d tokens) exceeds token budget (%d)", minCandidate, budget))
	}

	window.Text = sb.String()
	window.TokenCount = used

	c.logger.Debug("context composed",
		zap.Int("entries", len(window.Entries)),
		zap.Int("tokens", used),
		zap.Int("budget", budget))

	return window, nil
}
