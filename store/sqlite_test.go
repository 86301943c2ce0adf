package store

import (
	"context"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/types"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	return s
}

func testChunks() []types.Chunk {
	return []types.Chunk{
		{ID: "c1", DocumentID: "doc-a", Ordinal: 0, Text: "first", TokenCount: 3, Embedding: []float64{0.1, 0.2}, EntityIDs: []string{"e1", "e2"}},
		{ID: "c2", DocumentID: "doc-a", Ordinal: 1, Text: "second", TokenCount: 4},
		{ID: "c3", DocumentID: "doc-b", Ordinal: 0, Text: "third", TokenCount: 2, Embedding: []float64{0.9, 0.1}},
	}
}

func TestSQLiteStore_SeedAndGetByIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Seed(ctx, testChunks()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// 调用方的 ID 顺序被保留，未命中的 ID 静默跳过
	chunks, err := s.GetByIDs(ctx, []string{"c3", "missing", "c1"})
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	if len(chunks) != 2 || chunks[0].ID != "c3" || chunks[1].ID != "c1" {
		t.Fatalf("expected [c3 c1], got %+v", chunks)
	}

	// 向量与实体关联经 JSON 往返后保持不变
	if !reflect.DeepEqual(chunks[1].Embedding, []float64{0.1, 0.2}) {
		t.Errorf("embedding lost in round trip: %v", chunks[1].Embedding)
	}
	if !reflect.DeepEqual(chunks[1].EntityIDs, []string{"e1", "e2"}) {
		t.Errorf("entity ids lost in round trip: %v", chunks[1].EntityIDs)
	}
}

func TestSQLiteStore_SeedUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Seed(ctx, testChunks()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	updated := []types.Chunk{{ID: "c1", DocumentID: "doc-a", Ordinal: 0, Text: "rewritten", TokenCount: 5}}
	if err := s.Seed(ctx, updated); err != nil {
		t.Fatalf("re-seed: %v", err)
	}

	count, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Errorf("upsert must not create duplicates, count=%d", count)
	}

	chunks, err := s.GetByIDs(ctx, []string{"c1"})
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Text != "rewritten" {
		t.Errorf("expected updated text, got %+v", chunks)
	}
}

func TestSQLiteStore_AllChunksSortedByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// 乱序写入，读取仍按 ID 升序
	shuffled := []types.Chunk{testChunks()[2], testChunks()[0], testChunks()[1]}
	if err := s.Seed(ctx, shuffled); err != nil {
		t.Fatalf("seed: %v", err)
	}

	chunks, err := s.AllChunks(ctx)
	if err != nil {
		t.Fatalf("all chunks: %v", err)
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if !reflect.DeepEqual(ids, []string{"c1", "c2", "c3"}) {
		t.Errorf("expected sorted ids, got %v", ids)
	}
}

func TestSQLiteStore_EmptyInputs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Seed(ctx, nil); err != nil {
		t.Errorf("seeding nothing must be a no-op: %v", err)
	}
	chunks, err := s.GetByIDs(ctx, nil)
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected empty result, got %v", chunks)
	}
	count, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty store, count=%d", count)
	}
}

func TestSQLiteStore_ChunkWithoutEmbedding(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Seed(ctx, testChunks()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	chunks, err := s.GetByIDs(ctx, []string{"c2"})
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected one chunk, got %d", len(chunks))
	}
	if chunks[0].HasEmbedding() {
		t.Errorf("c2 was seeded without an embedding, got %v", chunks[0].Embedding)
	}
}
