package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"PurchaseRelay/internal/auth"
	xerrors "PurchaseRelay/internal/errors"
	"PurchaseRelay/internal/observability/metrics"
	"PurchaseRelay/internal/rewards"
	"PurchaseRelay/internal/settlement"
	"PurchaseRelay/internal/visibility"
	"PurchaseRelay/pkg/logger"
)

// Config 控制 HTTP 服务的监听地址与限流参数。
type Config struct {
	Addr string `yaml:"addr"`
	// RateLimit 是每个调用方每秒允许的请求数，0 表示不限流。
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// Deps 是 API 依赖的业务组件。
type Deps struct {
	Engine        *settlement.Engine
	Views         *visibility.Partitioner
	Rewards       *rewards.Ledger
	Authenticator auth.Authenticator
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr    string
	engine  *settlement.Engine
	views   *visibility.Partitioner
	rewards *rewards.Ledger
	handler http.Handler
}

// NewServer 构造 API 服务实例。
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Engine == nil || deps.Views == nil || deps.Rewards == nil || deps.Authenticator == nil {
		return nil, xerrors.New(xerrors.CodeValidation, "API 依赖未初始化")
	}
	s := &Server{addr: cfg.Addr, engine: deps.Engine, views: deps.Views, rewards: deps.Rewards}

	api := http.NewServeMux()
	s.routes(api)

	var protected http.Handler = api
	if cfg.RateLimit > 0 {
		protected = NewRateLimiter(cfg.RateLimit, cfg.Burst).Handler(protected)
	}
	protected = auth.Middleware(deps.Authenticator, auth.MiddlewareConfig{AuditEvent: "api_request"})(protected)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	root.Handle("GET /metrics", metrics.Handler())
	root.Handle("/api/", protected)
	s.handler = root
	return s, nil
}

// Handler 返回完整的路由处理器。
func (s *Server) Handler() http.Handler { return s.handler }

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("HTTP 服务启动", "addr", s.addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handle 注册路由并记录请求指标。
func (s *Server) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		fn(sw, r)
		metrics.ObserveHTTPRequest(pattern, r.Method, sw.status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, xerrors.New(xerrors.CodeUnknown, "服务已关闭"), http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
