package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🌐 HTTP 监听器
// =============================================================================

// FusionRAG 进程固定跑两个监听器：检索 API 和 Prometheus 指标。
// Manager 管理单个监听器的生命周期，Group 把两者当作一个整体
// 启动和收尾。

// Config 单个监听器的配置。
type Config struct {
	// 监听器名称，出现在日志里（"api" / "metrics"）
	Name string `yaml:"name" json:"name"`

	// 监听地址
	Addr string `yaml:"addr" json:"addr"`

	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// 空闲超时
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// 最大请求头大小
	MaxHeaderBytes int `yaml:"max_header_bytes" json:"max_header_bytes"`

	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig 返回检索 API 监听器的默认配置。
func DefaultConfig() Config {
	return Config{
		Name:            "api",
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: 30 * time.Second,
	}
}

// Manager 单个 HTTP 监听器的生命周期管理。
type Manager struct {
	server   *http.Server
	listener net.Listener
	errCh    chan error
	config   Config
	logger   *zap.Logger
	mu       sync.RWMutex
	closed   bool
}

// NewManager 创建监听器管理器。
func NewManager(handler http.Handler, config Config, logger *zap.Logger) *Manager {
	if config.Name == "" {
		config.Name = "api"
	}
	server := &http.Server{
		Addr:           config.Addr,
		Handler:        handler,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return &Manager{
		server: server,
		errCh:  make(chan error, 1),
		config: config,
		logger: logger.With(zap.String("listener", config.Name)),
	}
}

// Start 绑定端口并开始服务（非阻塞）。
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("listener %s is closed", m.config.Name)
	}

	if m.listener != nil {
		return fmt.Errorf("listener %s already started", m.config.Name)
	}

	listener, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", m.config.Addr, err)
	}

	m.listener = listener
	m.logger.Info("listener started", zap.String("addr", listener.Addr().String()))

	go m.serve(listener)

	return nil
}

func (m *Manager) serve(listener net.Listener) {
	if err := m.server.Serve(listener); err != nil && err != http.ErrServerClosed {
		m.logger.Error("listener failed", zap.Error(err))
		select {
		case m.errCh <- err:
		default:
		}
	}
}

// Shutdown 优雅关闭，受 Config.ShutdownTimeout 约束。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	m.logger.Info("shutting down listener")

	shutdownCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()

	if err := m.server.Shutdown(shutdownCtx); err != nil {
		m.logger.Error("listener shutdown failed", zap.Error(err))
		return err
	}

	m.listener = nil

	m.logger.Info("listener stopped")
	return nil
}

// Errors returns asynchronous serve errors.
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// BoundAddr 返回实际绑定的地址。":0" 配置下可取到真实端口；
// 未启动时回退到配置地址。
func (m *Manager) BoundAddr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Addr
}

// IsRunning 检查监听器是否运行中。
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}

// =============================================================================
// 🎯 监听器组
// =============================================================================

// Group 把 API 和 metrics 监听器当作一个整体：任一启动失败则
// 回滚已启动的，任一异常退出触发整组关闭。
type Group struct {
	managers []*Manager
	logger   *zap.Logger
}

// NewGroup 创建监听器组。
func NewGroup(logger *zap.Logger, managers ...*Manager) *Group {
	return &Group{
		managers: managers,
		logger:   logger.With(zap.String("component", "listener_group")),
	}
}

// Start 依次启动所有监听器。任何一个失败时关闭已启动的并返回错误。
func (g *Group) Start() error {
	for i, m := range g.managers {
		if err := m.Start(); err != nil {
			ctx := context.Background()
			for _, started := range g.managers[:i] {
				if serr := started.Shutdown(ctx); serr != nil {
					g.logger.Error("rollback shutdown failed", zap.Error(serr))
				}
			}
			return err
		}
	}
	return nil
}

// Shutdown 关闭所有监听器，汇总错误。
func (g *Group) Shutdown(ctx context.Context) error {
	var errs []error
	for _, m := range g.managers {
		if err := m.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WaitForShutdown 阻塞直到收到终止信号或任一监听器异常退出，
// 然后关闭整组。
func (g *Group) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	cases := make([]<-chan error, len(g.managers))
	for i, m := range g.managers {
		cases[i] = m.Errors()
	}

	merged := make(chan error, 1)
	for _, ch := range cases {
		go func(ch <-chan error) {
			if err, ok := <-ch; ok {
				select {
				case merged <- err:
				default:
				}
			}
		}(ch)
	}

	select {
	case sig := <-quit:
		g.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-merged:
		g.logger.Error("listener exited unexpectedly", zap.Error(err))
	}

	if err := g.Shutdown(context.Background()); err != nil {
		g.logger.Error("shutdown error", zap.Error(err))
	}
}
