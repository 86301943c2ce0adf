package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/fusionrag/types"
)

// chunkRecord 是块在 SQLite 中的行结构。
// 向量与实体关联以 JSON 序列化存储，单机规模下读取全量即可。
type chunkRecord struct {
	ID         string `gorm:"primaryKey"`
	DocumentID string `gorm:"index"`
	Ordinal    int
	Text       string
	TokenCount int
	Embedding  string // JSON []float64
	EntityIDs  string // JSON []string
}

func (chunkRecord) TableName() string { return "chunks" }

// SQLiteStore 基于 SQLite 的 ChunkStore。
type SQLiteStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenSQLite 打开（必要时创建）SQLite 块存储。
// dsn 传 ":memory:" 可得到进程内临时库，便于测试。
func OpenSQLite(dsn string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	if err := db.AutoMigrate(&chunkRecord{}); err != nil {
		return nil, fmt.Errorf("migrate chunk schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With(zap.String("component", "sqlite_store")),
	}, nil
}

// Seed 写入索引期产出的块（按 ID upsert）。查询期不得调用。
func (s *SQLiteStore) Seed(ctx context.Context, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	records := make([]chunkRecord, 0, len(chunks))
	for _, c := range chunks {
		rec, err := toRecord(c)
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
func (s *SQLiteStore) GetByIDs(ctx context.Context, ids []string) ([]types.Chunk, error) {
	if len(ids) == 0 {
		return []types.Chunk{}, nil
	}

	var records []chunkRecord
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&records).Error; err != nil {
		return nil, types.NewError(types.ErrStoreFailure, "get chunks by ids").WithCause(err)
	}

	byID := make(map[string]types.Chunk, len(records))
	for _, rec := range records {
		c, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		byID[c.ID] = c
	}

	// 保持调用方的 ID 顺序
	chunks := make([]types.Chunk, 0, len(records))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

// AllChunks 按 ID 升序返回全部块（稳定顺序保证检索确定性）。
func (s *SQLiteStore) AllChunks(ctx context.Context) ([]types.Chunk, error) {
	var records []chunkRecord
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&records).Error; err != nil {
		return nil, types.NewError(types.ErrStoreFailure, "load all chunks").WithCause(err)
	}

	chunks := make([]types.Chunk, 0, len(records))
	for _, rec := range records {
		c, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// Count 返回块数。
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&chunkRecord{}).Count(&count).Error; err != nil {
		return 0, types.NewError(types.ErrStoreFailure, "count chunks").WithCause(err)
	}
	return int(count), nil
}

func toRecord(c types.Chunk) (chunkRecord, error) {
	embedding, err := json.Marshal(c.Embedding)
	if err != nil {
		return chunkRecord{}, fmt.Errorf("marshal embedding for chunk %s: %w", c.ID, err)
	}
	entities, err := json.Marshal(c.EntityIDs)
	if err != nil {
		return chunkRecord{}, fmt.Errorf("marshal entity ids for chunk %s: %w", c.ID, err)
	}
	return chunkRecord{
		ID:         c.ID,
		DocumentID: c.DocumentID,
		Ordinal:    c.Ordinal,
		Text:       c.Text,
		TokenCount: c.TokenCount,
		Embedding:  string(embedding),
		EntityIDs:  string(entities),
	}, nil
}

func fromRecord(rec chunkRecord) (types.Chunk, error) {
	c := types.Chunk{
		ID:         rec.ID,
		DocumentID: rec.DocumentID,
		Ordinal:    rec.Ordinal,
		Text:       rec.Text,
		TokenCount: rec.TokenCount,
	}
	if rec.Embedding != "" {
		if err := json.Unmarshal([]byte(rec.Embedding), &c.Embedding); err != nil {
			return types.Chunk{}, fmt.Errorf("unmarshal embedding for chunk %s: %w", rec.ID, err)
		}
	}
	if rec.EntityIDs != "" {
		if err := json.Unmarshal([]byte(rec.EntityIDs), &c.EntityIDs); err != nil {
			return types.Chunk{}, fmt.Errorf("unmarshal entity ids for chunk %s: %w", rec.ID, err)
		}
	}
	return c, nil
}
