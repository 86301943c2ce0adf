package retrieval

import (
	"context"
	"math"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/types"
)

// BM25Params BM25 打分参数。
type BM25Params struct {
	K1 float64 `json:"k1" yaml:"k1"` // 词频饱和参数 (1.2-2.0)
	B  float64 `json:"b" yaml:"b"`   // 文档长度归一化参数 (0.75)
}

// DefaultBM25Params 返回默认 BM25 参数。
func DefaultBM25Params() BM25Params {
	return BM25Params{K1: 1.5, B: 0.75}
}

// SparseRetriever 基于倒排索引的 BM25 词法检索器。
// 索引在构建时一次算好（词频、文档长度、IDF），检索阶段不做任何
// 原地修改，同一输入的重复调用产出完全一致的结果。
type SparseRetriever struct {
	params BM25Params

	// 倒排索引：term -> chunkID -> 词频
	postings map[string]map[string]int
	docLens  map[string]int
	idf      map[string]float64
	avgLen   float64
	numDocs  int

	logger *zap.Logger
}

// NewSparseRetriever 从块存储构建词法索引。
// 查询与索引使用同一套归一化（小写化、剥离标点）。
func NewSparseRetriever(ctx context.Context, store ChunkStore, params BM25Params, logger *zap.Logger) (*SparseRetriever, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	chunks, err := store.AllChunks(ctx)
	if err != nil {
		return nil, types.NewError(types.ErrStoreFailure, "load chunks for lexical index").
			WithSignal(string(types.SignalSparse)).WithCause(err)
	}

	r := &SparseRetriever{
		params:   params,
		postings: make(map[string]map[string]int),
		docLens:  make(map[string]int),
		idf:      make(map[string]float64),
		logger:   logger.With(zap.String("component", "sparse_retriever")),
	}
	r.build(chunks)

	r.logger.Info("lexical index built",
		zap.Int("chunks", r.numDocs),
		zap.Int("terms", len(r.postings)))

	return r, nil
}

// build 计算倒排索引与 BM25 统计。
func (r *SparseRetriever) build(chunks []types.Chunk) {
	totalLen := 0
	termDocCount := make(map[string]int)

	for _, c := range chunks {
		terms := Tokenize(c.Text)
		r.docLens[c.ID] = len(terms)
		totalLen += len(terms)

		seen := make(map[string]bool)
		for _, term := range terms {
			tf := r.postings[term]
			if tf == nil {
				tf = make(map[string]int)
				r.postings[term] = tf
			}
			tf[c.ID]++

			if !seen[term] {
				termDocCount[term]++
				seen[term] = true
			}
		}
	}

	r.numDocs = len(chunks)
	if r.numDocs > 0 {
		r.avgLen = float64(totalLen) / float64(r.numDocs)
	}

	// BM25+ 风格的 IDF，避免高频词出现负值
	n := float64(r.numDocs)
	for term, df := range termDocCount {
		r.idf[term] = math.Log((n-float64(df)+0.5)/(float64(df)+0.5) + 1.0)
	}
}

// Retrieve 返回至多 topK 条 BM25 结果，按分数降序，同分按 chunk_id 升序。
// 只对包含至少一个查询词的块打分。
func (r *SparseRetriever) Retrieve(ctx context.Context, queryText string, topK int) ([]types.RetrievalResult, error) {
	if topK <= 0 || r.numDocs == 0 {
		return []types.RetrievalResult{}, nil
	}

	queryTerms := Tokenize(queryText)
	if len(queryTerms) == 0 {
		return []types.RetrievalResult{}, nil
	}

	scores := make(map[string]float64)
	for _, term := range queryTerms {
		tf, ok := r.postings[term]
		if !ok {
			continue
		}
		idf := r.idf[term]

		for chunkID, freq := range tf {
			docLen := float64(r.docLens[chunkID])

			// BM25 公式
			numerator := float64(freq) * (r.params.K1 + 1.0)
			denominator := float64(freq) + r.params.K1*(1.0-r.params.B+r.params.B*(docLen/r.avgLen))

			scores[chunkID] += idf * (numerator / denominator)
		}
	}

	results := make([]types.RetrievalResult, 0, len(scores))
	for chunkID, score := range scores {
		results = append(results, types.RetrievalResult{
			ChunkID: chunkID,
			Score:   score,
			Source:  types.SignalSparse,
		})
	}

	sortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}
	assignRanks(results)
	return results, nil
}

// Tokenize 对文本做索引期与查询期共用的归一化分词：
// 小写化，按非字母数字切分（标点剥离）。
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
