package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/cache"
	"github.com/BaSui01/fusionrag/config"
	"github.com/BaSui01/fusionrag/embed"
	"github.com/BaSui01/fusionrag/internal/metrics"
	"github.com/BaSui01/fusionrag/internal/server"
	"github.com/BaSui01/fusionrag/internal/telemetry"
	"github.com/BaSui01/fusionrag/retrieval"
	"github.com/BaSui01/fusionrag/store"
	"github.com/BaSui01/fusionrag/types"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 FusionRAG 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// API + metrics 监听器组
	listeners *server.Group

	// 检索流水线
	pipeline *retrieval.Pipeline

	// 指标收集器
	metricsCollector *metrics.Collector

	// 遥测
	tracing *telemetry.Tracing

	// Redis 客户端（结果缓存）
	redisClient *redis.Client

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, tracing *telemetry.Tracing) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		tracing:       tracing,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start(ctx context.Context) error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("fusionrag", s.logger)

	// 2. 装配检索流水线
	if err := s.initPipeline(ctx); err != nil {
		return fmt.Errorf("failed to init retrieval pipeline: %w", err)
	}

	// 3. 启动 API 和 metrics 监听器（作为一组，任一失败整体回滚）
	s.listeners = server.NewGroup(s.logger, s.buildAPIListener(), s.buildMetricsListener())
	if err := s.listeners.Start(); err != nil {
		return fmt.Errorf("failed to start listeners: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("store_driver", s.cfg.Database.Driver),
	)

	return nil
}

// initPipeline 打开存储、加载图谱并装配检索流水线
func (s *Server) initPipeline(ctx context.Context) error {
	chunkStore, searcher, err := openStore(s.cfg, s.logger)
	if err != nil {
		return err
	}

	graph, recognizer, err := loadGraph(s.cfg.Graph.Path, s.logger)
	if err != nil {
		return err
	}

	opts := retrieval.Options{
		Recognizer: recognizer,
		Graph:      graph,
		Searcher:   searcher,
		Tokenizer:  retrieval.NewTiktokenCounter(s.cfg.Tokenizer.Encoding, s.logger),
		Metrics:    s.metricsCollector,
	}

	// 嵌入服务未配置时稠密信号降级运行
	if s.cfg.Embedding.Endpoint != "" {
		opts.Embedder = embed.NewClient(embed.Config{
			Endpoint: s.cfg.Embedding.Endpoint,
			Model:    s.cfg.Embedding.Model,
			APIKey:   s.cfg.Embedding.APIKey,
			Timeout:  s.cfg.Embedding.Timeout,
		}, s.logger)
	} else {
		s.logger.Warn("embedding endpoint not configured, dense signal disabled")
	}

	if s.cfg.Redis.Enabled {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     s.cfg.Redis.Addr,
			Password: s.cfg.Redis.Password,
			DB:       s.cfg.Redis.DB,
			PoolSize: s.cfg.Redis.PoolSize,
		})
		opts.Cache = cache.NewResultCache(s.redisClient, cache.Config{
			TTL:     s.cfg.Redis.TTL,
			Enabled: true,
		}, s.logger)
	}

	pipeline, err := retrieval.NewPipeline(ctx, s.cfg.Retrieval.ToPipeline(), chunkStore, opts, s.logger)
	if err != nil {
		return err
	}

	s.pipeline = pipeline
	return nil
}

// openStore 根据配置打开 chunk 存储。
// postgres 驱动同时提供向量检索下推（pgvector）。
func openStore(cfg *config.Config, logger *zap.Logger) (retrieval.ChunkStore, retrieval.VectorSearcher, error) {
	switch cfg.Database.Driver {
	case "postgres":
		st, err := store.OpenPGVector(cfg.Database.DSN(), logger)
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	case "sqlite":
		st, err := store.OpenSQLite(cfg.Database.DSN(), logger)
		if err != nil {
			return nil, nil, err
		}
		return st, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres)", cfg.Database.Driver)
	}
}

// graphFile 知识图谱数据文件格式
type graphFile struct {
	Entities []struct {
		ID      string   `json:"id"`
		Aliases []string `json:"aliases"`
	} `json:"entities"`
	Relations  [][2]string         `json:"relations"`
	ChunkLinks map[string][]string `json:"chunk_links"`
}

// loadGraph 从 JSON 文件加载知识图谱与实体别名词典。
// 路径为空时返回空图谱，图谱信号返回空结果而非错误。
func loadGraph(path string, logger *zap.Logger) (*retrieval.EntityGraph, retrieval.EntityRecognizer, error) {
	graph := retrieval.NewEntityGraph(logger)
	if path == "" {
		logger.Info("graph data not configured, graph signal returns empty results")
		return graph, nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read graph file: %w", err)
	}

	var gf graphFile
	if err := json.Unmarshal(data, &gf); err != nil {
		return nil, nil, fmt.Errorf("failed to parse graph file: %w", err)
	}

	aliases := make(map[string]string)
	for _, e := range gf.Entities {
		for _, alias := range e.Aliases {
			aliases[alias] = e.ID
		}
	}
	for _, rel := range gf.Relations {
		graph.AddRelation(rel[0], rel[1])
	}
	for entityID, chunkIDs := range gf.ChunkLinks {
		for _, chunkID := range chunkIDs {
			graph.LinkChunk(entityID, chunkID)
		}
	}

	logger.Info("graph data loaded",
		zap.String("path", path),
		zap.Int("entities", len(gf.Entities)),
		zap.Int("relations", len(gf.Relations)),
	)

	return graph, retrieval.NewDictionaryRecognizer(aliases), nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// buildAPIListener 组装检索 API 监听器
func (s *Server) buildAPIListener() *server.Manager {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/version", s.handleVersion)

	// 检索 API
	mux.HandleFunc("/v1/retrieve", s.handleRetrieve)

	// 构建中间件链
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		MetricsMiddleware(s.metricsCollector),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)

	serverConfig := server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	return server.NewManager(handler, serverConfig, s.logger)
}

// buildMetricsListener 组装 Prometheus 指标监听器
func (s *Server) buildMetricsListener() *server.Manager {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	return server.NewManager(mux, serverConfig, s.logger)
}

// =============================================================================
// 📡 Handlers
// =============================================================================

// retrieveRequest POST /v1/retrieve 请求体。
// 除 query 外的字段为可选的单次请求覆盖。
type retrieveRequest struct {
	Query       string `json:"query"`
	Strategy    string `json:"strategy,omitempty"`
	FinalTopN   int    `json:"final_top_n,omitempty"`
	TokenBudget int    `json:"token_budget,omitempty"`
}

type errorResponse struct {
	Error *types.Error `json:"error"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed,
			types.NewError(types.ErrInvalidConfig, "method not allowed, use POST"))
		return
	}

	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest,
			types.NewError(types.ErrInvalidConfig, "invalid request body: "+err.Error()))
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest,
			types.NewError(types.ErrInvalidConfig, "query must not be empty"))
		return
	}
	if req.TokenBudget != 0 {
		// token 预算是装配期配置，不支持按请求覆盖
		writeError(w, http.StatusBadRequest,
			types.NewError(types.ErrInvalidConfig, "token_budget cannot be overridden per request"))
		return
	}

	fusionCfg := s.cfg.Retrieval.ToPipeline().Fusion
	if req.Strategy != "" {
		fusionCfg.Strategy = retrieval.Strategy(req.Strategy)
	}
	if req.FinalTopN > 0 {
		fusionCfg.FinalTopN = req.FinalTopN
	}

	out, err := s.pipeline.RunWithConfig(r.Context(), req.Query, fusionCfg)
	if err != nil {
		s.logger.Error("retrieval failed", zap.String("query", req.Query), zap.Error(err))
		writeError(w, statusForError(err), asTypedError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	resp := map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// statusForError 把检索错误码映射到 HTTP 状态码
func statusForError(err error) int {
	var e *types.Error
	if !errors.As(err, &e) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}
	switch e.Code {
	case types.ErrInvalidConfig:
		return http.StatusBadRequest
	case types.ErrBudgetTooSmall:
		return http.StatusUnprocessableEntity
	case types.ErrEmptyIndex, types.ErrAllSignals:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func asTypedError(err error) *types.Error {
	var e *types.Error
	if errors.As(err, &e) {
		return e
	}
	return types.NewError(types.ErrStoreFailure, err.Error())
}

func writeError(w http.ResponseWriter, status int, e *types.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: e})
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.listeners != nil {
		s.listeners.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 1. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 2. 关闭 API 和 metrics 监听器（重复关闭是安全的）
	if s.listeners != nil {
		if err := s.listeners.Shutdown(ctx); err != nil {
			s.logger.Error("Listener shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 Redis 连接
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}

	// 4. 冲刷遥测数据
	if s.tracing != nil {
		if err := s.tracing.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
