package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/compose"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wwwzy/ShopAgent/internal/telemetry"
)

// Request 为一次用户提问。
type Request struct {
	Query    string
	ThreadID string
}

// Result 为一次运行结束后的输出。
type Result struct {
	Answer           string
	TraceID          string
	Termination      Termination
	RetrievedContext []RetrievedContext
	State            State
}

// Engine 负责按线程装载检查点、装配工具并执行 Agent 图。
//
// 同一线程的运行互斥执行，不同线程可以并发。
type Engine struct {
	runnable    compose.Runnable[State, State]
	toolbox     *Toolbox
	checkpoints CheckpointStore
	logger      *zap.Logger
	metrics     *telemetry.Metrics
	deps        NodeDeps

	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

// NewEngine 构建 Agent 图并返回可并发使用的引擎。
func NewEngine(ctx context.Context, cfg Config) (*Engine, error) {
	runnable, err := BuildGraph(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		runnable: runnable,
		toolbox: &Toolbox{
			Local:      cfg.LocalTools,
			Servers:    cfg.ToolServers,
			Discoverer: cfg.Discoverer,
		},
		checkpoints: cfg.Checkpoints,
		logger:      logger,
		metrics:     cfg.Metrics,
		deps:        NodeDeps{Logger: logger, Metrics: cfg.Metrics, Tracer: cfg.Tracer},
		locks:       make(map[string]*threadLock),
	}, nil
}

// Run 在线程 req.ThreadID 上执行一轮提问：
// 1. 读取检查点（没有则新建会话，用户与购物车 ID 等于线程 ID）
// 2. 装配工具清单并重置运行内字段，追加用户消息
// 3. 写入初始检查点后执行图
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	query := strings.TrimSpace(req.Query)
	threadID := strings.TrimSpace(req.ThreadID)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidRequest)
	}
	if threadID == "" {
		return nil, fmt.Errorf("%w: thread_id is empty", ErrInvalidRequest)
	}

	unlock := e.lock(threadID)
	defer unlock()

	ctx, span := e.deps.tracer().Start(ctx, "agent.run",
		trace.WithAttributes(attribute.String("thread.id", threadID)))
	defer span.End()
	ctx = withSpanTraceID(ctx)

	begin := time.Now()
	res, err := e.run(ctx, threadID, query)
	e.finish(span, threadID, begin, err)
	return res, err
}

func (e *Engine) run(ctx context.Context, threadID, query string) (*Result, error) {
	prev, err := loadCheckpoint(ctx, e.checkpoints, threadID)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		prev = &State{ThreadID: threadID, UserID: threadID, CartID: threadID}
	}

	qaTools, cartTools, err := e.toolbox.Assemble(ctx)
	if err != nil {
		return nil, err
	}
	s := prev.newTurn(query, qaTools, cartTools)
	if err := saveCheckpoint(ctx, e.checkpoints, s); err != nil {
		return nil, err
	}
	e.logger.Info("agent run started",
		zap.String("thread_id", threadID),
		zap.Int("history", len(prev.Messages)),
		zap.Int("product_qa_tools", len(qaTools)),
		zap.Int("shopping_cart_tools", len(cartTools)),
	)
	return e.invoke(ctx, s)
}

// Resume 从线程最近一次检查点继续执行未完成的运行。
func (e *Engine) Resume(ctx context.Context, threadID string) (*Result, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, fmt.Errorf("%w: thread_id is empty", ErrInvalidRequest)
	}
	unlock := e.lock(threadID)
	defer unlock()

	ctx, span := e.deps.tracer().Start(ctx, "agent.resume",
		trace.WithAttributes(attribute.String("thread.id", threadID)))
	defer span.End()
	ctx = withSpanTraceID(ctx)

	begin := time.Now()
	res, err := e.resume(ctx, threadID)
	e.finish(span, threadID, begin, err)
	return res, err
}

func (e *Engine) resume(ctx context.Context, threadID string) (*Result, error) {
	s, err := loadCheckpoint(ctx, e.checkpoints, threadID)
	if err != nil {
		return nil, err
	}
	if s == nil || s.Status != StatusRunning {
		return nil, fmt.Errorf("%w: %s", ErrNothingToResume, threadID)
	}
	e.logger.Info("agent run resumed", zap.String("thread_id", threadID), zap.String("next_node", s.NextNode))
	return e.invoke(ctx, *s)
}

func (e *Engine) invoke(ctx context.Context, s State) (*Result, error) {
	ctx, failure := withRunFailure(ctx)
	out, err := e.runnable.Invoke(ctx, s)
	if err != nil {
		if failure.err != nil {
			return nil, failure.err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("run graph: %w", ctxErr)
		}
		return nil, fmt.Errorf("run graph: %w", err)
	}
	return &Result{
		Answer:           out.Answer,
		TraceID:          out.TraceID,
		Termination:      TerminationOf(out),
		RetrievedContext: out.RetrievedContext,
		State:            out,
	}, nil
}

func (e *Engine) finish(span trace.Span, threadID string, begin time.Time, err error) {
	d := time.Since(begin)
	status := "success"
	if err != nil {
		status = "failed"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = "canceled"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("agent run failed", zap.String("thread_id", threadID), zap.Duration("duration", d), zap.Error(err))
	} else {
		e.logger.Info("agent run finished", zap.String("thread_id", threadID), zap.Duration("duration", d))
	}
	e.metrics.RecordRun(status, d)
}

// lock 获取线程锁，返回释放函数
func (e *Engine) lock(threadID string) func() {
	e.mu.Lock()
	l, ok := e.locks[threadID]
	if !ok {
		l = &threadLock{}
		e.locks[threadID] = l
	}
	l.refs++
	e.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, threadID)
		}
		e.mu.Unlock()
	}
}

// withSpanTraceID 把当前 span 的 trace ID 写入 context，供审计记录使用
func withSpanTraceID(ctx context.Context) context.Context {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return WithTraceID(ctx, sc.TraceID().String())
	}
	return ctx
}
