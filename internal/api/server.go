// Package api 提供 ShopAgent 的 HTTP 接口。
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wwwzy/ShopAgent/internal/service"
	"github.com/wwwzy/ShopAgent/internal/telemetry"
)

const (
	DefaultAddr         = ":8000"
	DefaultReadTimeout  = 15 * time.Second
	DefaultWriteTimeout = 180 * time.Second
)

// Config HTTP 服务配置。
type Config struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Assistant 为 HTTP 层依赖的业务接口，由 service.Service 实现。
type Assistant interface {
	Ask(ctx context.Context, query, threadID string) (*service.Answer, error)
	SubmitFeedback(ctx context.Context, fb service.Feedback) error
}

type Server struct {
	assistant Assistant
	logger    *zap.Logger
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	gatherer  prometheus.Gatherer
	health    func(ctx context.Context) error
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *telemetry.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		if g != nil {
			s.gatherer = g
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Server) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithHealthCheck 设置 /health 调用的依赖探测，例如数据库 Ping。
func WithHealthCheck(fn func(ctx context.Context) error) Option {
	return func(s *Server) { s.health = fn }
}

func NewServer(a Assistant, opts ...Option) *Server {
	s := &Server{
		assistant: a,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(telemetry.TracerName),
		gatherer:  prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router 返回挂载全部路由的处理器。
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.observe)
	r.Use(s.recoverer)

	r.Post("/rag", s.handleRAG)
	r.Post("/submit_feedback", s.handleFeedback)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	return r
}

// ListenAndServe 启动服务，ctx 结束时优雅退出。
func (s *Server) ListenAndServe(ctx context.Context, cfg Config) error {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type errorResponse struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, status, errorResponse{RequestID: RequestIDFrom(r.Context()), Error: msg})
}
