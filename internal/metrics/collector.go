// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector 检索流水线指标收集器
type Collector struct {
	// 信号指标
	signalDuration *prometheus.HistogramVec
	signalTimeouts *prometheus.CounterVec
	signalResults  *prometheus.HistogramVec

	// 融合/重排指标
	fusedResults    *prometheus.HistogramVec
	rerankFallbacks prometheus.Counter

	// 组装指标
	composeTokens  prometheus.Histogram
	composeEntries prometheus.Histogram

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 信号指标
	c.signalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "signal_duration_seconds",
			Help:      "Per-signal retrieval duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"signal", "status"}, // status: ok, error, timeout
	)

	c.signalTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_timeouts_total",
			Help:      "Total number of per-signal timeouts",
		},
		[]string{"signal"},
	)

	c.signalResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "signal_results",
			Help:      "Number of results returned per signal",
			Buckets:   prometheus.LinearBuckets(0, 5, 11),
		},
		[]string{"signal"},
	)

	// 融合/重排指标
	c.fusedResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fused_results",
			Help:      "Number of fused results per query",
			Buckets:   prometheus.LinearBuckets(0, 5, 11),
		},
		[]string{"strategy"},
	)

	c.rerankFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_fallbacks_total",
			Help:      "Total number of rerank timeouts falling back to fused order",
		},
	)

	// 组装指标
	c.composeTokens = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_tokens",
			Help:      "Token count of composed context windows",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 9),
		},
	)

	c.composeEntries = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_entries",
			Help:      "Number of chunks in composed context windows",
			Buckets:   prometheus.LinearBuckets(0, 2, 11),
		},
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	return c
}

// RecordSignal 记录单路信号的检索耗时与结果数。
func (c *Collector) RecordSignal(signal, status string, duration time.Duration, results int) {
	c.signalDuration.WithLabelValues(signal, status).Observe(duration.Seconds())
	if status == "ok" {
		c.signalResults.WithLabelValues(signal).Observe(float64(results))
	}
	if status == "timeout" {
		c.signalTimeouts.WithLabelValues(signal).Inc()
	}
}

// RecordFusion 记录融合结果数。
func (c *Collector) RecordFusion(strategy string, results int) {
	c.fusedResults.WithLabelValues(strategy).Observe(float64(results))
}

// RecordRerankFallback 记录一次重排序回退。
func (c *Collector) RecordRerankFallback() {
	c.rerankFallbacks.Inc()
}

// RecordCompose 记录组装出的窗口大小。
func (c *Collector) RecordCompose(tokens, entries int) {
	c.composeTokens.Observe(float64(tokens))
	c.composeEntries.Observe(float64(entries))
}

// RecordCacheHit 记录缓存命中。
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中。
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordHTTPRequest 记录 HTTP 请求。
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
