package retrieval

import (
	"context"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/types"
)

// testGraph 构造一个小型实体图：
//
//	e1 -- e2 -- e3
//	|
//	e4
//
// e1 关联 c1；e2 关联 c2；e3 关联 c3；e4 关联 c1（第二条路径）。
func testGraph() *EntityGraph {
	g := NewEntityGraph(zap.NewNop())
	g.AddRelation("e1", "e2")
	g.AddRelation("e2", "e3")
	g.AddRelation("e1", "e4")
	g.LinkChunk("e1", "c1")
	g.LinkChunk("e2", "c2")
	g.LinkChunk("e3", "c3")
	g.LinkChunk("e4", "c1")
	return g
}

func TestGraphExpand_ScoreByDistance(t *testing.T) {
	expander := NewGraphExpander(testGraph(), zap.NewNop())

	results, err := expander.Expand(context.Background(), []string{"e1"}, 2, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 chunks reachable, got %d", len(results))
	}

	scoreOf := make(map[string]float64)
	for _, r := range results {
		scoreOf[r.ChunkID] = r.Score
		if r.Source != types.SignalGraph {
			t.Errorf("expected graph source, got %s", r.Source)
		}
	}

	// 距离 0 → 1.0，1 跳 → 0.5，2 跳 → 1/3
	if scoreOf["c1"] != 1.0 {
		t.Errorf("seed-linked chunk must score 1.0, got %f", scoreOf["c1"])
	}
	if scoreOf["c2"] != 0.5 {
		t.Errorf("1-hop chunk must score 0.5, got %f", scoreOf["c2"])
	}
	if diff := scoreOf["c3"] - 1.0/3.0; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("2-hop chunk must score 1/3, got %f", scoreOf["c3"])
	}

	if results[0].ChunkID != "c1" {
		t.Errorf("closest chunk must rank first, got %s", results[0].ChunkID)
	}
}

func TestGraphExpand_ShortestDistanceWins(t *testing.T) {
	// c1 同时通过 e1（距离 0）和 e4（距离 1）可达，取最短
	expander := NewGraphExpander(testGraph(), zap.NewNop())

	results, err := expander.Expand(context.Background(), []string{"e1"}, 2, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range results {
		if r.ChunkID == "c1" && r.Score != 1.0 {
			t.Errorf("c1 reachable at distance 0, score must be 1.0, got %f", r.Score)
		}
	}
}

func TestGraphExpand_MaxDepthLimitsTraversal(t *testing.T) {
	expander := NewGraphExpander(testGraph(), zap.NewNop())

	results, err := expander.Expand(context.Background(), []string{"e1"}, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range results {
		if r.ChunkID == "c3" {
			t.Error("c3 is 2 hops away and must not appear at maxDepth=1")
		}
	}
}

func TestGraphExpand_EmptySeedsIsNotAnError(t *testing.T) {
	expander := NewGraphExpander(testGraph(), zap.NewNop())

	results, err := expander.Expand(context.Background(), nil, 2, 10)
	if err != nil {
		t.Fatalf("queries without recognized entities are normal: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty results, got %v", results)
	}
}

func TestGraphExpand_TopKTruncation(t *testing.T) {
	expander := NewGraphExpander(testGraph(), zap.NewNop())

	results, err := expander.Expand(context.Background(), []string{"e1"}, 2, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "c1" {
		t.Errorf("expected only the closest chunk, got %v", results)
	}
}

func TestEntityGraph_NeighborsSorted(t *testing.T) {
	g := NewEntityGraph(zap.NewNop())
	g.AddRelation("e1", "e9")
	g.AddRelation("e1", "e2")
	g.AddRelation("e1", "e5")

	neighbors, err := g.Neighbors(context.Background(), "e1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ids := make([]string, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.EntityID
	}
	want := []string{"e2", "e5", "e9"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("neighbors must be sorted by entity id, got %v", ids)
	}
}

func TestDictionaryRecognizer(t *testing.T) {
	r := NewDictionaryRecognizer(map[string]string{
		"golang":     "ent-go",
		"Go":         "ent-go",
		"postgresql": "ent-pg",
	})

	// 大小写不敏感，重复别名命中去重，输出升序
	ids, err := r.Recognize(context.Background(), "Does GOLANG work well with PostgreSQL? go figure")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"ent-go", "ent-pg"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("Recognize = %v, want %v", ids, want)
	}
}

func TestDictionaryRecognizer_NoMatches(t *testing.T) {
	r := NewDictionaryRecognizer(map[string]string{"kubernetes": "ent-k8s"})

	ids, err := r.Recognize(context.Background(), "nothing relevant here")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no entities, got %v", ids)
	}
}
