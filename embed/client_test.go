package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/types"
)

func TestEmbed_Success(t *testing.T) {
	var gotAuth string
	var gotReq embedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 0, "embedding": []float64{0.1, 0.2, 0.3}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL + "/", Model: "test-model", APIKey: "sk-test"}, zap.NewNop())

	vec, err := c.Embed(context.Background(), "hybrid retrieval")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("unexpected embedding: %v", vec)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("missing bearer auth, got %q", gotAuth)
	}
	if gotReq.Model != "test-model" || len(gotReq.Input) != 1 || gotReq.Input[0] != "hybrid retrieval" {
		t.Errorf("unexpected request payload: %+v", gotReq)
	}
}

func TestEmbed_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL}, zap.NewNop())

	_, err := c.Embed(context.Background(), "q")
	if !types.IsCode(err, types.ErrEmbedFailure) {
		t.Fatalf("expected EMBED_FAILURE, got %v", err)
	}
	var typed *types.Error
	if !errors.As(err, &typed) || !typed.Retryable {
		t.Error("5xx must be retryable")
	}
}

func TestEmbed_ClientErrorIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL}, zap.NewNop())

	_, err := c.Embed(context.Background(), "q")
	var typed *types.Error
	if !errors.As(err, &typed) {
		t.Fatalf("expected typed error, got %v", err)
	}
	if typed.Retryable {
		t.Error("4xx (non-429) must not be retryable")
	}
}

func TestEmbed_UnreachableEndpoint(t *testing.T) {
	c := NewClient(Config{Endpoint: "http://127.0.0.1:1"}, zap.NewNop())

	_, err := c.Embed(context.Background(), "q")
	if !types.IsCode(err, types.ErrEmbedFailure) {
		t.Fatalf("expected EMBED_FAILURE, got %v", err)
	}
	var typed *types.Error
	if !errors.As(err, &typed) || !typed.Retryable {
		t.Error("network failure must be retryable")
	}
}

func TestEmbed_EmptyDataIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL}, zap.NewNop())

	if _, err := c.Embed(context.Background(), "q"); err == nil {
		t.Fatal("empty data must be an error")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{Endpoint: "http://example.com/"}, nil)

	if c.cfg.Model != "text-embedding-3-small" {
		t.Errorf("default model not applied: %s", c.cfg.Model)
	}
	if c.cfg.Endpoint != "http://example.com" {
		t.Errorf("trailing slash must be trimmed: %s", c.cfg.Endpoint)
	}
	if c.client.Timeout == 0 {
		t.Error("default timeout not applied")
	}
}
