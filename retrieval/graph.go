package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/types"
)

// GraphClient 是知识图的只读访问接口。
// Neighbors 返回实体的直接邻居及各邻居关联的块 ID。
type GraphClient interface {
	Neighbors(ctx context.Context, entityID string) ([]EntityNeighbor, error)

	// LinkedChunks 返回实体自身关联的块 ID。
	LinkedChunks(ctx context.Context, entityID string) ([]string, error)
}

// EntityNeighbor 图谱邻居。
type EntityNeighbor struct {
	EntityID string   `json:"entity_id"`
	ChunkIDs []string `json:"chunk_ids"`
}

// EntityRecognizer 在查询文本中识别已知实体（GraphExpander 的上游）。
type EntityRecognizer interface {
	Recognize(ctx context.Context, queryText string) ([]string, error)
}

// GraphExpander 从种子实体出发做广度优先遍历，收集可达实体
// 关联的块。分数为 1/(1+距离)，直接关联优于间接关联；
// 同一块被多条路径到达时取最短距离。
type GraphExpander struct {
	client GraphClient
	logger *zap.Logger
}

// NewGraphExpander 创建图谱扩展器。
func NewGraphExpander(client GraphClient, logger *zap.Logger) *GraphExpander {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphExpander{
		client: client,
		logger: logger.With(zap.String("component", "graph_expander")),
	}
}

// Expand 从种子实体向外遍历至多 maxDepth 跳，返回至多 topK 条结果。
// 种子为空不是错误：并非每个查询都提到已知实体，此时返回空列表。
func (g *GraphExpander) Expand(ctx context.Context, seedEntityIDs []string, maxDepth, topK int) ([]types.RetrievalResult, error) {
	if len(seedEntityIDs) == 0 {
		g.logger.Debug("no seed entities, graph signal empty")
		return []types.RetrievalResult{}, nil
	}
	if topK <= 0 {
		return []types.RetrievalResult{}, nil
	}

	// BFS：实体距离 = 到最近种子的跳数
	entityDist := make(map[string]int)
	frontier := make([]string, 0, len(seedEntityIDs))
	for _, id := range seedEntityIDs {
		if _, ok := entityDist[id]; !ok {
			entityDist[id] = 0
			frontier = append(frontier, id)
		}
	}

	// 块距离 = 关联实体的最短距离
	chunkDist := make(map[string]int)
	collect := func(entityID string, dist int) error {
		chunkIDs, err := g.client.LinkedChunks(ctx, entityID)
		if err != nil {
			return err
		}
		for _, cid := range chunkIDs {
			if prev, ok := chunkDist[cid]; !ok || dist < prev {
				chunkDist[cid] = dist
			}
		}
		return nil
	}

	for _, id := range frontier {
		if err := collect(id, 0); err != nil {
			return nil, types.NewError(types.ErrStoreFailure, "load linked chunks").
				WithSignal(string(types.SignalGraph)).WithCause(err)
		}
	}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			neighbors, err := g.client.Neighbors(ctx, id)
			if err != nil {
				return nil, types.NewError(types.ErrStoreFailure, "graph traversal").
					WithSignal(string(types.SignalGraph)).WithCause(err)
			}
			for _, nb := range neighbors {
				if _, ok := entityDist[nb.EntityID]; ok {
					continue
				}
				entityDist[nb.EntityID] = depth
				next = append(next, nb.EntityID)

				for _, cid := range nb.ChunkIDs {
					if prev, ok := chunkDist[cid]; !ok || depth < prev {
						chunkDist[cid] = depth
					}
				}
			}
		}
		frontier = next
	}

	results := make([]types.RetrievalResult, 0, len(chunkDist))
	for chunkID, dist := range chunkDist {
		results = append(results, types.RetrievalResult{
			ChunkID: chunkID,
			Score:   1.0 / (1.0 + float64(dist)),
			Source:  types.SignalGraph,
		})
	}

	sortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}
	assignRanks(results)

	g.logger.Debug("graph expansion completed",
		zap.Int("seeds", len(seedEntityIDs)),
		zap.Int("entities_reached", len(entityDist)),
		zap.Int("results", len(results)))

	return results, nil
}

// ====== 内存实体图（离线抽取任务的装载目标）======

// EntityGraph 内存知识图：实体、实体间关系、实体到块的关联。
// 查询期只读；Add* 方法属于离线抽取任务的写入口。
type EntityGraph struct {
	adjacency map[string]map[string]bool // entityID -> 相邻实体
	chunks    map[string][]string        // entityID -> 关联块
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewEntityGraph 创建空实体图。
func NewEntityGraph(logger *zap.Logger) *EntityGraph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntityGraph{
		adjacency: make(map[string]map[string]bool),
		chunks:    make(map[string][]string),
		logger:    logger.With(zap.String("component", "entity_graph")),
	}
}

// AddRelation 添加无向关系边。
func (g *EntityGraph) AddRelation(a, b string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.adjacency[a] == nil {
		g.adjacency[a] = make(map[string]bool)
	}
	if g.adjacency[b] == nil {
		g.adjacency[b] = make(map[string]bool)
	}
	g.adjacency[a][b] = true
	g.adjacency[b][a] = true
}

// LinkChunk 建立实体到块的关联。
func (g *EntityGraph) LinkChunk(entityID, chunkID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chunks[entityID] = append(g.chunks[entityID], chunkID)
}

// Neighbors 返回实体的直接邻居，按实体 ID 升序保证确定性。
func (g *EntityGraph) Neighbors(ctx context.Context, entityID string) ([]EntityNeighbor, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.adjacency[entityID]))
	for id := range g.adjacency[entityID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	neighbors := make([]EntityNeighbor, 0, len(ids))
	for _, id := range ids {
		neighbors = append(neighbors, EntityNeighbor{
			EntityID: id,
			ChunkIDs: append([]string(nil), g.chunks[id]...),
		})
	}
	return neighbors, nil
}

// LinkedChunks 返回实体关联的块 ID。
func (g *EntityGraph) LinkedChunks(ctx context.Context, entityID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.chunks[entityID]...), nil
}

// ====== 词典实体识别器 ======

// DictionaryRecognizer 基于别名词典的实体识别器。
// 生产环境可换成外部 NER 服务，接口保持不变。
type DictionaryRecognizer struct {
	aliases map[string]string // 归一化别名 -> entityID
}

// NewDictionaryRecognizer 创建词典识别器。
// aliases 的 key 为实体别名（大小写不敏感），value 为实体 ID。
func NewDictionaryRecognizer(aliases map[string]string) *DictionaryRecognizer {
	normalized := make(map[string]string, len(aliases))
	for alias, id := range aliases {
		normalized[strings.ToLower(alias)] = id
	}
	return &DictionaryRecognizer{aliases: normalized}
}

// Recognize 在查询中查找词典别名，返回去重后的实体 ID（升序）。
func (r *DictionaryRecognizer) Recognize(ctx context.Context, queryText string) ([]string, error) {
	lower := strings.ToLower(queryText)

	found := make(map[string]bool)
	for alias, id := range r.aliases {
		if strings.Contains(lower, alias) {
			found[id] = true
		}
	}

	ids := make([]string, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
