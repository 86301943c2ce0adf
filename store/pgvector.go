package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/fusionrag/types"
)

// pgChunkRecord 是块在 PostgreSQL 中的行结构。
// 向量用 pgvector 列存储，近邻搜索下推到数据库。
type pgChunkRecord struct {
	ID         string `gorm:"primaryKey"`
	DocumentID string `gorm:"index"`
	Ordinal    int
	Text       string
	TokenCount int
	Embedding  pgvector.Vector `gorm:"type:vector(1536)"`
	EntityIDs  string          // JSON []string
}

func (pgChunkRecord) TableName() string { return "chunks" }

// PGVectorStore 基于 PostgreSQL + pgvector 的 ChunkStore。
// 同时实现 retrieval.VectorSearcher，DenseRetriever 可把
// 余弦近邻搜索下推到数据库而不是全量扫描。
type PGVectorStore struct {
	db     *gorm.DB
	dims   int
	logger *zap.Logger
}

// OpenPGVector 连接 PostgreSQL 块存储。
// 需要数据库已安装 vector 扩展（CREATE EXTENSION vector）。
func OpenPGVector(dsn string, logger *zap.Logger) (*PGVectorStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open pgvector store: %w", err)
	}
	return NewPGVectorStore(db, logger)
}

// NewPGVectorStore 在既有连接上创建块存储（便于测试注入）。
func NewPGVectorStore(db *gorm.DB, logger *zap.Logger) (*PGVectorStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGVectorStore{
		db:     db,
		dims:   1536,
		logger: logger.With(zap.String("component", "pgvector_store")),
	}, nil
}

// Migrate 应用版本化表结构迁移。属于离线索引任务，查询期不调用。
func (s *PGVectorStore) Migrate(ctx context.Context) error {
	return MigratePostgres(s.db, s.logger)
}

// Seed 写入索引期产出的块（按 ID upsert）。查询期不得调用。
// 本存储面向向量检索下推，入库的块应当已带嵌入向量。
func (s *PGVectorStore) Seed(ctx context.Context, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	records := make([]pgChunkRecord, 0, len(chunks))
	for _, c := range chunks {
		rec, err := toPGRecord(c)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	if err := s.db.WithContext(ctx).Save(&records).Error; err != nil {
		return types.NewError(types.ErrStoreFailure, "seed chunks").WithCause(err)
	}

	s.logger.Info("chunks seeded", zap.Int("count", len(records)))
	return nil
}

// GetByIDs 按 ID 批量取块，未命中的 ID 静默跳过。
func (s *PGVectorStore) GetByIDs(ctx context.Context, ids []string) ([]types.Chunk, error) {
	if len(ids) == 0 {
		return []types.Chunk{}, nil
	}

	var records []pgChunkRecord
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&records).Error; err != nil {
		return nil, types.NewError(types.ErrStoreFailure, "get chunks by ids").WithCause(err)
	}

	byID := make(map[string]types.Chunk, len(records))
	for _, rec := range records {
		c, err := fromPGRecord(rec)
		if err != nil {
			return nil, err
		}
		byID[c.ID] = c
	}

	chunks := make([]types.Chunk, 0, len(records))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

// AllChunks 按 ID 升序返回全部块。
func (s *PGVectorStore) AllChunks(ctx context.Context) ([]types.Chunk, error) {
	var records []pgChunkRecord
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&records).Error; err != nil {
		return nil, types.NewError(types.ErrStoreFailure, "load all chunks").WithCause(err)
	}

	chunks := make([]types.Chunk, 0, len(records))
	for _, rec := range records {
		c, err := fromPGRecord(rec)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// Count 返回块数。
func (s *PGVectorStore) Count(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&pgChunkRecord{}).Count(&count).Error; err != nil {
		return 0, types.NewError(types.ErrStoreFailure, "count chunks").WithCause(err)
	}
	return int(count), nil
}

// SearchVectors 在数据库侧做余弦近邻搜索。
// pgvector 的 <=> 是余弦距离，相似度 = 1 - 距离。
// 距离相同（含相似度并列）时按 id 升序保证确定性。
func (s *PGVectorStore) SearchVectors(ctx context.Context, embedding []float64, topK int) ([]types.RetrievalResult, error) {
	queryVector := pgvector.NewVector(toFloat32(embedding))

	var rows []struct {
		ID         string
		Similarity float64
	}
	err := s.db.WithContext(ctx).
		Model(&pgChunkRecord{}).
		Select("id, 1 - (embedding <=> ?) AS similarity", queryVector).
		Where("embedding IS NOT NULL").
		Clauses(clause.OrderBy{Expression: gorm.Expr("embedding <=> ?, id ASC", queryVector)}).
		Limit(topK).
		Scan(&rows).Error
	if err != nil {
		return nil, types.NewError(types.ErrStoreFailure, "pgvector similarity search").WithCause(err)
	}

	results := make([]types.RetrievalResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, types.RetrievalResult{
			ChunkID: row.ID,
			Score:   row.Similarity,
			Source:  types.SignalDense,
		})
	}
	return results, nil
}

func toPGRecord(c types.Chunk) (pgChunkRecord, error) {
	entities, err := json.Marshal(c.EntityIDs)
	if err != nil {
		return pgChunkRecord{}, fmt.Errorf("marshal entity ids for chunk %s: %w", c.ID, err)
	}
	return pgChunkRecord{
		ID:         c.ID,
		DocumentID: c.DocumentID,
		Ordinal:    c.Ordinal,
		Text:       c.Text,
		TokenCount: c.TokenCount,
		Embedding:  pgvector.NewVector(toFloat32(c.Embedding)),
		EntityIDs:  string(entities),
	}, nil
}

func fromPGRecord(rec pgChunkRecord) (types.Chunk, error) {
	c := types.Chunk{
		ID:         rec.ID,
		DocumentID: rec.DocumentID,
		Ordinal:    rec.Ordinal,
		Text:       rec.Text,
		TokenCount: rec.TokenCount,
		Embedding:  toFloat64(rec.Embedding.Slice()),
	}
	if rec.EntityIDs != "" {
		if err := json.Unmarshal([]byte(rec.EntityIDs), &c.EntityIDs); err != nil {
			return types.Chunk{}, fmt.Errorf("unmarshal entity ids for chunk %s: %w", rec.ID, err)
		}
	}
	return c, nil
}

func toFloat32(v []float64) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
