package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/fusionrag/types"
)

func newMockPGStore(t *testing.T) (*PGVectorStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		t.Fatalf("open gorm over sqlmock: %v", err)
	}

	s, err := NewPGVectorStore(gormDB, zap.NewNop())
	if err != nil {
		t.Fatalf("new pgvector store: %v", err)
	}
	return s, mock
}

func TestPGVectorStore_SearchVectors(t *testing.T) {
	s, mock := newMockPGStore(t)

	mock.ExpectQuery(`SELECT id, 1 - \(embedding <=> \$1\) AS similarity FROM "chunks" WHERE embedding IS NOT NULL ORDER BY embedding <=> \$2, id ASC LIMIT \$3`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "similarity"}).
			AddRow("c2", 0.95).
			AddRow("c1", 0.80))

	results, err := s.SearchVectors(context.Background(), []float64{0.1, 0.2}, 2)
	if err != nil {
		t.Fatalf("search vectors: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ChunkID != "c2" || results[0].Score != 0.95 {
		t.Errorf("unexpected top result: %+v", results[0])
	}
	if results[0].Source != types.SignalDense {
		t.Errorf("pushdown results must carry the dense source, got %s", results[0].Source)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPGVectorStore_SearchVectorsError(t *testing.T) {
	s, mock := newMockPGStore(t)

	mock.ExpectQuery(`SELECT id, 1 - \(embedding <=>`).
		WillReturnError(context.DeadlineExceeded)

	_, err := s.SearchVectors(context.Background(), []float64{0.1}, 5)
	if !types.IsCode(err, types.ErrStoreFailure) {
		t.Fatalf("expected STORE_FAILURE, got %v", err)
	}
}

func TestPGVectorStore_GetByIDs(t *testing.T) {
	s, mock := newMockPGStore(t)

	mock.ExpectQuery(`SELECT \* FROM "chunks" WHERE id IN \(\$1,\$2\)`).
		WithArgs("c2", "c1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "document_id", "ordinal", "text", "token_count", "embedding", "entity_ids"}).
			AddRow("c1", "doc-a", 0, "first", 3, "[0.1,0.2]", `["e1"]`).
			AddRow("c2", "doc-b", 1, "second", 4, "[0.9,0.1]", ""))

	chunks, err := s.GetByIDs(context.Background(), []string{"c2", "c1"})
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	// 调用方的 ID 顺序被保留
	if chunks[0].ID != "c2" || chunks[1].ID != "c1" {
		t.Errorf("caller order not preserved: %s, %s", chunks[0].ID, chunks[1].ID)
	}
	if len(chunks[1].EntityIDs) != 1 || chunks[1].EntityIDs[0] != "e1" {
		t.Errorf("entity ids lost: %v", chunks[1].EntityIDs)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPGVectorStore_Count(t *testing.T) {
	s, mock := newMockPGStore(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "chunks"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 7 {
		t.Errorf("count = %d, want 7", count)
	}
}

func TestVectorConversionRoundTrip(t *testing.T) {
	in := []float64{0.5, -1.25, 2}
	out := toFloat64(toFloat32(in))
	if len(out) != len(in) {
		t.Fatalf("length mismatch: %d vs %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("value drift at %d: %f vs %f", i, out[i], in[i])
		}
	}
	if toFloat32(nil) != nil || toFloat64(nil) != nil {
		t.Error("nil must stay nil through conversion")
	}
}
