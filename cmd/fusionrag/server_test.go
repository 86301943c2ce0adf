package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/config"
	"github.com/BaSui01/fusionrag/retrieval"
	"github.com/BaSui01/fusionrag/types"
)

// newTestServer 装配带内存存储的最小服务器（无嵌入服务，稠密信号降级）。
func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := zap.NewNop()

	store := retrieval.NewInMemoryChunkStore(logger)
	require.NoError(t, store.Seed(context.Background(), []types.Chunk{
		{ID: "c1", DocumentID: "doc-a", Ordinal: 0, Text: "hybrid retrieval combines sparse and dense signals", TokenCount: 10},
		{ID: "c2", DocumentID: "doc-b", Ordinal: 0, Text: "fusion strategies rank every candidate", TokenCount: 10},
	}))

	cfg := config.DefaultConfig()
	pipeline, err := retrieval.NewPipeline(context.Background(), cfg.Retrieval.ToPipeline(), store, retrieval.Options{
		Graph: retrieval.NewEntityGraph(logger),
	}, logger)
	require.NoError(t, err)

	return &Server{
		cfg:      cfg,
		logger:   logger,
		pipeline: pipeline,
	}
}

func postRetrieve(t *testing.T, s *Server, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.handleRetrieve(rec, req)
	return rec
}

func TestHandleRetrieve_Success(t *testing.T) {
	s := newTestServer(t)

	rec := postRetrieve(t, s, map[string]any{"query": "hybrid retrieval"})
	require.Equal(t, http.StatusOK, rec.Code)

	var out retrieval.Output
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.NotEmpty(t, out.QueryID)
	assert.Equal(t, retrieval.StrategyRRF, out.Strategy)
	assert.NotEmpty(t, out.Results)
	// 无嵌入服务时稠密信号降级，但查询仍然成功
	assert.Contains(t, out.Degraded, "dense")
}

func TestHandleRetrieve_StrategyOverride(t *testing.T) {
	s := newTestServer(t)

	rec := postRetrieve(t, s, map[string]any{
		"query":    "fusion strategies",
		"strategy": "weighted_sum",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var out retrieval.Output
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, retrieval.StrategyWeightedSum, out.Strategy)
}

func TestHandleRetrieve_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/retrieve", nil)
	rec := httptest.NewRecorder()
	s.handleRetrieve(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestHandleRetrieve_EmptyQuery(t *testing.T) {
	s := newTestServer(t)

	rec := postRetrieve(t, s, map[string]any{"query": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, types.ErrInvalidConfig, resp.Error.Code)
}

func TestHandleRetrieve_TokenBudgetOverrideRejected(t *testing.T) {
	s := newTestServer(t)

	rec := postRetrieve(t, s, map[string]any{"query": "q", "token_budget": 512})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRetrieve_UnknownStrategy(t *testing.T) {
	s := newTestServer(t)

	rec := postRetrieve(t, s, map[string]any{"query": "q", "strategy": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid config", types.NewError(types.ErrInvalidConfig, "x"), http.StatusBadRequest},
		{"budget too small", types.NewError(types.ErrBudgetTooSmall, "x"), http.StatusUnprocessableEntity},
		{"empty index", types.NewError(types.ErrEmptyIndex, "x"), http.StatusServiceUnavailable},
		{"all signals failed", types.NewError(types.ErrAllSignals, "x"), http.StatusServiceUnavailable},
		{"store failure", types.NewError(types.ErrStoreFailure, "x"), http.StatusInternalServerError},
		{"context canceled", context.Canceled, http.StatusGatewayTimeout},
		{"deadline exceeded", context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, statusForError(tc.err))
		})
	}
}

func TestHandleHealthAndVersion(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.handleVersion(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var v map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Contains(t, v, "version")
}
