package retrieval

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/types"
)

// ChunkStore 是索引期产出的只读块存储。
// 检索引擎只通过该接口读取，绝不写入。
type ChunkStore interface {
	// GetByIDs 按 ID 批量取块，未命中的 ID 静默跳过。
	GetByIDs(ctx context.Context, ids []string) ([]types.Chunk, error)

	// AllChunks 返回全部已索引的块。
	AllChunks(ctx context.Context) ([]types.Chunk, error)

	// Count 返回已索引的块数。
	Count(ctx context.Context) (int, error)
}

// VectorSearcher 是可选的向量检索下推接口。
// 持久化存储（如 pgvector）可实现它，让 DenseRetriever
// 把近邻搜索下推到存储层而不是全量扫描。
type VectorSearcher interface {
	SearchVectors(ctx context.Context, embedding []float64, topK int) ([]types.RetrievalResult, error)
}

// ====== 内存块存储（用于测试和小规模应用）======

// InMemoryChunkStore 内存块存储。
type InMemoryChunkStore struct {
	chunks map[string]types.Chunk
	order  []string
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewInMemoryChunkStore 创建内存块存储。
func NewInMemoryChunkStore(logger *zap.Logger) *InMemoryChunkStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryChunkStore{
		chunks: make(map[string]types.Chunk),
		logger: logger.With(zap.String("component", "chunk_store")),
	}
}

// Seed 装载索引期产出的块。属于离线索引任务的写入口，
// 查询期不得调用。
func (s *InMemoryChunkStore) Seed(ctx context.Context, chunks []types.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		if _, ok := s.chunks[c.ID]; !ok {
			s.order = append(s.order, c.ID)
		}
		s.chunks[c.ID] = c
	}

	s.logger.Info("chunks seeded",
		zap.Int("count", len(chunks)),
		zap.Int("total", len(s.chunks)))
	return nil
}

// GetByIDs 按 ID 批量取块。
func (s *InMemoryChunkStore) GetByIDs(ctx context.Context, ids []string) ([]types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]types.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.chunks[id]; ok {
			results = append(results, c)
		}
	}
	return results, nil
}

// AllChunks 按装载顺序返回全部块。
func (s *InMemoryChunkStore) AllChunks(ctx context.Context) ([]types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]types.Chunk, 0, len(s.order))
	for _, id := range s.order {
		results = append(results, s.chunks[id])
	}
	return results, nil
}

// Count 返回块数。
func (s *InMemoryChunkStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

// sortResults 按分数降序排序，同分按 chunk_id 升序保证确定性。
func sortResults(results []types.RetrievalResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}

// assignRanks 按当前顺序写入 1-based 信号内排名。
func assignRanks(results []types.RetrievalResult) {
	for i := range results {
		results[i].Rank = i + 1
	}
}
