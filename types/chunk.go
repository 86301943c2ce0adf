package types

// Chunk 是索引期产出的不可变文本块。
// 检索引擎只读，不会修改任何字段。
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Ordinal    int       `json:"ordinal"` // 文档内的顺序位置
	Text       string    `json:"text"`
	TokenCount int       `json:"token_count"`
	Embedding  []float64 `json:"embedding,omitempty"`
	EntityIDs  []string  `json:"entity_ids,omitempty"` // 关联的知识图实体
}

// HasEmbedding 报告该块是否带有预计算向量。
func (c *Chunk) HasEmbedding() bool {
	return len(c.Embedding) > 0
}
