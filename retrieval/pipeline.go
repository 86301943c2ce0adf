package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/fusionrag/internal/metrics"
	"github.com/BaSui01/fusionrag/types"
)

// Embedder 把查询文本向量化（外部嵌入服务，单次同步调用）。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// OutputCache 缓存整条查询的输出。流水线输出是确定性的
// （相同输入与配置产出字节一致的结果），缓存因此安全。
type OutputCache interface {
	Get(ctx context.Context, key string) (*Output, bool)
	Set(ctx context.Context, key string, out *Output)
}

// Output 是一次查询的完整产出：上下文窗口 + 带完整来源信息的
// 融合结果列表，供下游提示词构建器渲染与 citation_index 匹配的
// 引用标记。
type Output struct {
	QueryID  string               `json:"query_id"`
	Query    string               `json:"query"`
	Strategy Strategy             `json:"strategy"`
	Window   *types.ContextWindow `json:"window"`
	Results  []types.FusedResult  `json:"results"`
	// Degraded 列出超时或失败后被跳过的信号；非空表示降级结果。
	Degraded []string `json:"degraded,omitempty"`
}

// Options 流水线的外部协作者。必填：Embedder、Recognizer、Graph。
type Options struct {
	Embedder   Embedder
	Recognizer EntityRecognizer
	Graph      GraphClient
	Scorer     PairScorer     // 可选：重排序打分
	Searcher   VectorSearcher // 可选：向量检索下推
	Tokenizer  Tokenizer      // 可选：默认启发式估算
	Cache      OutputCache    // 可选：查询级结果缓存
	Metrics    *metrics.Collector
}

// Pipeline 把各阶段串成完整的查询流水线：
// 三路信号并行检索 → 融合（同步屏障）→ 重排序 → 多样性过滤 → 组装。
// 取消只在阶段之间检查，保持每个阶段原子。
type Pipeline struct {
	cfg       PipelineConfig
	dense     *DenseRetriever
	sparse    *SparseRetriever
	graph     *GraphExpander
	fusion    *FusionEngine
	reranker  *Reranker
	diversity *DiversityFilter
	composer  *ContextComposer

	embedder   Embedder
	recognizer EntityRecognizer
	cache      OutputCache
	metrics    *metrics.Collector
	tracer     trace.Tracer
	logger     *zap.Logger
}

// NewPipeline 装配流水线。稀疏索引在此构建（一次性索引期成本）。
func NewPipeline(ctx context.Context, cfg PipelineConfig, store ChunkStore, opts Options, logger *zap.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	denseOpts := []DenseOption{}
	if opts.Searcher != nil {
		denseOpts = append(denseOpts, WithVectorSearcher(opts.Searcher))
	}

	sparse, err := NewSparseRetriever(ctx, store, DefaultBM25Params(), logger)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:        cfg,
		dense:      NewDenseRetriever(store, logger, denseOpts...),
		sparse:     sparse,
		graph:      NewGraphExpander(opts.Graph, logger),
		fusion:     NewFusionEngine(logger),
		reranker:   NewReranker(opts.Scorer, store, cfg.Rerank, logger),
		diversity:  NewDiversityFilter(store, cfg.Diversity, logger),
		composer:   NewContextComposer(store, opts.Tokenizer, cfg.Composer, logger),
		embedder:   opts.Embedder,
		recognizer: opts.Recognizer,
		cache:      opts.Cache,
		metrics:    opts.Metrics,
		tracer:     otel.Tracer("github.com/BaSui01/fusionrag/retrieval"),
		logger:     logger.With(zap.String("component", "pipeline")),
	}, nil
}

// Run 用流水线默认的融合配置执行查询。
func (p *Pipeline) Run(ctx context.Context, query string) (*Output, error) {
	return p.RunWithConfig(ctx, query, p.cfg.Fusion)
}

// signalOutcome 单路信号的执行结果。
type signalOutcome struct {
	results []types.RetrievalResult
	err     error
}

// RunWithConfig 用调用方提供的融合配置执行查询。
// 单路信号超时或失败只是降级（Degraded 中列出），
// 三路信号全部失败才升级为流水线级错误。
func (p *Pipeline) RunWithConfig(ctx context.Context, query string, fusionCfg FusionConfig) (*Output, error) {
	if err := fusionCfg.Validate(); err != nil {
		return nil, err
	}

	ctx, span := p.tracer.Start(ctx, "retrieval.pipeline",
		trace.WithAttributes(attribute.String("fusion.strategy", string(fusionCfg.Strategy))))
	defer span.End()

	queryID := uuid.NewString()
	logger := p.logger.With(zap.String("query_id", queryID))

	cacheKey := outputCacheKey(query, fusionCfg)
	if p.cache != nil {
		if out, ok := p.cache.Get(ctx, cacheKey); ok {
			p.recordCacheHit()
			logger.Debug("result cache hit")
			return out, nil
		}
		p.recordCacheMiss()
	}

	// 查询向量化是显式的顺序依赖，必须先于稠密检索完成
	var queryEmbedding []float64
	var embedErr error
	if p.embedder != nil {
		queryEmbedding, embedErr = p.embedder.Embed(ctx, query)
		if embedErr != nil {
			logger.Warn("query embedding failed, dense signal degraded", zap.Error(embedErr))
		}
	} else {
		embedErr = errors.New("no embedder configured")
	}

	// 实体识别是图谱信号的上游；识别不到实体不是错误
	var seedEntities []string
	if p.recognizer != nil {
		var err error
		seedEntities, err = p.recognizer.Recognize(ctx, query)
		if err != nil {
			logger.Warn("entity recognition failed, graph signal degraded", zap.Error(err))
			seedEntities = nil
		}
	}

	outcomes, degraded := p.runSignals(ctx, logger, query, queryEmbedding, embedErr, seedEntities, fusionCfg.TopKPerSignal)

	// 三路全部失败才升级为流水线级错误
	if outcomes[0].err != nil && outcomes[1].err != nil && outcomes[2].err != nil {
		return nil, types.NewError(types.ErrAllSignals, "all retrieval signals failed").
			WithCause(errors.Join(outcomes[0].err, outcomes[1].err, outcomes[2].err))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 融合：同步屏障
	_, fusionSpan := p.tracer.Start(ctx, "retrieval.fuse")
	fused, err := p.fusion.Fuse(outcomes[0].results, outcomes[1].results, outcomes[2].results, fusionCfg)
	fusionSpan.End()
	if err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.RecordFusion(string(fusionCfg.Strategy), len(fused))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 重排序：超时回退原始顺序，不中断流水线
	_, rerankSpan := p.tracer.Start(ctx, "retrieval.rerank")
	fused, err = p.reranker.Rerank(ctx, query, fused)
	rerankSpan.End()
	if err != nil {
		logger.Warn("rerank fell back to fused order", zap.Error(err))
		if p.metrics != nil {
			p.metrics.RecordRerankFallback()
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 多样性过滤
	_, divSpan := p.tracer.Start(ctx, "retrieval.diversity")
	filtered, err := p.diversity.Filter(ctx, fused)
	divSpan.End()
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 组装上下文窗口
	_, composeSpan := p.tracer.Start(ctx, "retrieval.compose")
	window, err := p.composer.Compose(ctx, filtered)
	composeSpan.End()
	if err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.RecordCompose(window.TokenCount, len(window.Entries))
	}

	out := &Output{
		QueryID:  queryID,
		Query:    query,
		Strategy: fusionCfg.Strategy,
		Window:   window,
		Results:  fused,
		Degraded: degraded,
	}

	if p.cache != nil {
		p.cache.Set(ctx, cacheKey, out)
	}

	logger.Info("retrieval completed",
		zap.Int("fused", len(fused)),
		zap.Int("context_entries", len(window.Entries)),
		zap.Int("context_tokens", window.TokenCount),
		zap.Strings("degraded", degraded))

	return out, nil
}

// runSignals 并行执行三路信号，各自独立超时。
// 返回的 outcomes 顺序固定为 dense、sparse、graph。
func (p *Pipeline) runSignals(ctx context.Context, logger *zap.Logger, query string, queryEmbedding []float64, embedErr error, seedEntities []string, topK int) ([3]signalOutcome, []string) {
	signalCtx, span := p.tracer.Start(ctx, "retrieval.signals")
	defer span.End()

	var outcomes [3]signalOutcome
	g, gctx := errgroup.WithContext(signalCtx)

	run := func(idx int, signal types.SignalSource, fn func(context.Context) ([]types.RetrievalResult, error)) {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, p.cfg.SignalTimeout)
			defer cancel()

			start := time.Now()
			results, err := fn(sctx)
			duration := time.Since(start)

			status := "ok"
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(sctx.Err(), context.DeadlineExceeded) {
					status = "timeout"
					err = types.NewError(types.ErrSignalTimeout, "signal timed out").
						WithSignal(string(signal)).WithRetryable(true).WithCause(err)
				} else {
					status = "error"
				}
				logger.Warn("signal failed, proceeding without it",
					zap.String("signal", string(signal)),
					zap.Duration("duration", duration),
					zap.Error(err))
			}

			if p.metrics != nil {
				p.metrics.RecordSignal(string(signal), status, duration, len(results))
			}
			outcomes[idx] = signalOutcome{results: results, err: err}
			// 信号级失败被隔离，不让 errgroup 打断其余信号
			return nil
		})
	}

	run(0, types.SignalDense, func(sctx context.Context) ([]types.RetrievalResult, error) {
		if embedErr != nil {
			return nil, fmt.Errorf("query embedding unavailable: %w", embedErr)
		}
		return p.dense.Retrieve(sctx, queryEmbedding, topK)
	})
	run(1, types.SignalSparse, func(sctx context.Context) ([]types.RetrievalResult, error) {
		return p.sparse.Retrieve(sctx, query, topK)
	})
	run(2, types.SignalGraph, func(sctx context.Context) ([]types.RetrievalResult, error) {
		return p.graph.Expand(sctx, seedEntities, p.cfg.GraphMaxDepth, topK)
	})

	// 融合阶段是同步屏障：等待全部信号返回
	_ = g.Wait()

	var degraded []string
	for i, signal := range []types.SignalSource{types.SignalDense, types.SignalSparse, types.SignalGraph} {
		if outcomes[i].err != nil {
			degraded = append(degraded, string(signal))
		}
	}
	return outcomes, degraded
}

func (p *Pipeline) recordCacheHit() {
	if p.metrics != nil {
		p.metrics.RecordCacheHit("result")
	}
}

func (p *Pipeline) recordCacheMiss() {
	if p.metrics != nil {
		p.metrics.RecordCacheMiss("result")
	}
}

// outputCacheKey 由查询文本与完整融合配置派生缓存键。
func outputCacheKey(query string, cfg FusionConfig) string {
	payload, _ := json.Marshal(struct {
		Query  string       `json:"query"`
		Config FusionConfig `json:"config"`
	}{Query: query, Config: cfg})

	sum := sha256.Sum256(payload)
	return "fusionrag:output:" + hex.EncodeToString(sum[:])
}
