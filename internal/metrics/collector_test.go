package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.signalDuration)
	assert.NotNil(t, collector.signalTimeouts)
	assert.NotNil(t, collector.fusedResults)
	assert.NotNil(t, collector.rerankFallbacks)
	assert.NotNil(t, collector.composeTokens)
	assert.NotNil(t, collector.httpRequestsTotal)
}

func TestCollector_RecordSignal(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordSignal("dense", "ok", 25*time.Millisecond, 10)
	collector.RecordSignal("sparse", "timeout", 5*time.Second, 0)
	collector.RecordSignal("graph", "error", 3*time.Millisecond, 0)

	// 超时计数只在 timeout 状态下递增
	assert.Equal(t, float64(1),
		testutil.ToFloat64(collector.signalTimeouts.WithLabelValues("sparse")))
	assert.Equal(t, float64(0),
		testutil.ToFloat64(collector.signalTimeouts.WithLabelValues("dense")))
}

func TestCollector_RecordRerankFallback(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordRerankFallback()
	collector.RecordRerankFallback()

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.rerankFallbacks))
}

func TestCollector_RecordCacheHitMiss(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordCacheHit("result")
	collector.RecordCacheHit("result")
	collector.RecordCacheMiss("result")

	assert.Equal(t, float64(2),
		testutil.ToFloat64(collector.cacheHits.WithLabelValues("result")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(collector.cacheMisses.WithLabelValues("result")))
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("POST", "/v1/retrieve", 200, 120*time.Millisecond)
	collector.RecordHTTPRequest("POST", "/v1/retrieve", 200, 80*time.Millisecond)
	collector.RecordHTTPRequest("POST", "/v1/retrieve", 422, 10*time.Millisecond)

	assert.Equal(t, float64(2),
		testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/v1/retrieve", "200")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/v1/retrieve", "422")))
}

func TestCollector_RecordComposeAndFusion(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	// 直方图观测不 panic 即视为接线正确，数值断言交给计数器
	collector.RecordFusion("rrf", 12)
	collector.RecordCompose(1800, 6)
}

func TestCollector_NilLogger(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)
	assert.NotNil(t, collector)
	collector.RecordSignal("dense", "ok", time.Millisecond, 1)
}
