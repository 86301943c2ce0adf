package types

// SignalSource 标识检索结果来自哪一路信号。
type SignalSource string

const (
	SignalDense  SignalSource = "dense"
	SignalSparse SignalSource = "sparse"
	SignalGraph  SignalSource = "graph"
)

// RetrievalResult 是单路信号的检索结果。
// Score 只在信号内部可比，跨信号比较必须先归一化或改用排名。
type RetrievalResult struct {
	ChunkID string       `json:"chunk_id"`
	Score   float64      `json:"score"`
	Source  SignalSource `json:"source"`
	Rank    int          `json:"rank"` // 信号内 1-based 排名
}

// SignalHit 记录某一路信号对融合结果的贡献（原始分数与排名）。
type SignalHit struct {
	Source SignalSource `json:"source"`
	Score  float64      `json:"score"`
	Rank   int          `json:"rank"`
}

// FusedResult 是多信号融合后的单条结果。
// Signals 保留每路贡献信号的原始分数与排名，供引用标注与调试，
// 不是可选遥测。
type FusedResult struct {
	ChunkID     string      `json:"chunk_id"`
	FusedScore  float64     `json:"fused_score"`
	RerankScore float64     `json:"rerank_score,omitempty"` // 重排序阶段写入
	Signals     []SignalHit `json:"signals"`
	FinalRank   int         `json:"final_rank"`
}

// HitFor 返回指定信号的贡献记录。
func (r *FusedResult) HitFor(source SignalSource) (SignalHit, bool) {
	for _, h := range r.Signals {
		if h.Source == source {
			return h, true
		}
	}
	return SignalHit{}, false
}

// ContextEntry 是上下文窗口中的一个条目。
type ContextEntry struct {
	ChunkID       string `json:"chunk_id"`
	CitationIndex int    `json:"citation_index"` // 1-based，按接受顺序连续编号
	Stitched      bool   `json:"stitched"`       // 与前一条目拼接（同文档相邻块）
}

// ContextWindow 是最终交付下游的 token 预算内上下文。
// 不变式：TokenCount 永不超过构建时的预算；条目间 ChunkID 不重复。
type ContextWindow struct {
	Entries    []ContextEntry `json:"entries"`
	Text       string         `json:"text"`
	TokenCount int            `json:"token_count"`
}

// ChunkIDs 按引用顺序返回窗口内所有块 ID。
func (w *ContextWindow) ChunkIDs() []string {
	ids := make([]string, len(w.Entries))
	for i, e := range w.Entries {
		ids[i] = e.ChunkID
	}
	return ids
}
