package agent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wwwzy/ShopAgent/internal/telemetry"
	"github.com/wwwzy/ShopAgent/internal/toolspec"
)

// NodeDeps 为 Agent 节点共享的依赖，零值可用。
type NodeDeps struct {
	Prompts *PromptSet
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
	Tracer  trace.Tracer
}

func (d NodeDeps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d NodeDeps) tracer() trace.Tracer {
	if d.Tracer == nil {
		return otel.Tracer(telemetry.TracerName)
	}
	return d.Tracer
}

func (d NodeDeps) prompts() *PromptSet {
	if d.Prompts == nil {
		return DefaultPrompts()
	}
	return d.Prompts
}

// CoordinatorNode 是协调者节点，负责：
// 1. 把会话记录交给协调者模型决定下一步
// 2. 只有在给出最终回答时才追加助手消息
// 3. 记录本次运行的 trace ID
func CoordinatorNode(ctx context.Context, s State, candidates []Candidate, d NodeDeps) (Update, error) {
	history, err := s.Messages.ToSchemaMessages()
	if err != nil {
		return Update{}, err
	}

	res, err := invokeStructured[CoordinatorResponse](ctx, d, AgentCoordinator, candidates,
		func(ctx context.Context, candidate string) ([]*schema.Message, error) {
			return d.prompts().Render(ctx, AgentCoordinator, candidate, nil, history)
		})
	if err != nil {
		return Update{}, err
	}
	resp := res.Response

	u := Update{
		Answer:      ptr(resp.Answer),
		NextAgent:   ptr(resp.NextAgent),
		Plan:        ptr(append([]Delegation{}, resp.Plan...)),
		Coordinator: &AgentProgress{Iteration: s.Coordinator.Iteration + 1, FinalAnswer: resp.FinalAnswer},
	}
	if resp.FinalAnswer {
		u.Messages = []Turn{AssistantTurn{Content: resp.Answer}}
	}
	if traceID := runTraceID(ctx); traceID != "" {
		u.TraceID = ptr(traceID)
	}

	d.logger().Debug("coordinator decided",
		zap.String("thread_id", s.ThreadID),
		zap.String("model", res.Model),
		zap.String("next_agent", resp.NextAgent),
		zap.Bool("final_answer", resp.FinalAnswer),
	)
	return u, nil
}

// ProductQANode 是商品问答节点，可请求远程检索工具。
func ProductQANode(ctx context.Context, s State, candidates []Candidate, d NodeDeps) (Update, error) {
	history, err := s.Messages.ToSchemaMessages()
	if err != nil {
		return Update{}, err
	}
	tools, err := toolspec.Render(s.ProductQATools)
	if err != nil {
		return Update{}, err
	}
	vars := map[string]any{"available_tools": tools}

	res, err := invokeStructured[ProductQAResponse](ctx, d, AgentProductQA, candidates,
		func(ctx context.Context, candidate string) ([]*schema.Message, error) {
			return d.prompts().Render(ctx, AgentProductQA, candidate, vars, history)
		})
	if err != nil {
		return Update{}, err
	}
	resp := res.Response

	turn, pending := FormatAssistantTurn(resp.Answer, resp.FinalAnswer, resp.ToolCalls)
	if pending == nil {
		pending = []PendingToolCall{}
	}
	retrieved := append([]RetrievedContext{}, resp.RetrievedContextIDs...)

	d.logger().Debug("product qa responded",
		zap.String("thread_id", s.ThreadID),
		zap.String("model", res.Model),
		zap.Int("tool_calls", len(pending)),
		zap.Bool("final_answer", resp.FinalAnswer),
	)
	return Update{
		Messages:         []Turn{turn},
		Answer:           ptr(resp.Answer),
		ProductQA:        &AgentProgress{Iteration: s.ProductQA.Iteration + 1, FinalAnswer: resp.FinalAnswer},
		MCPToolCalls:     &pending,
		RetrievedContext: &retrieved,
	}, nil
}

// ShoppingCartNode 是购物车节点，可请求本地购物车工具。
func ShoppingCartNode(ctx context.Context, s State, candidates []Candidate, d NodeDeps) (Update, error) {
	history, err := s.Messages.ToSchemaMessages()
	if err != nil {
		return Update{}, err
	}
	tools, err := toolspec.Render(s.ShoppingCartTools)
	if err != nil {
		return Update{}, err
	}
	vars := map[string]any{
		"available_tools": tools,
		"user_id":         s.UserID,
		"cart_id":         s.CartID,
	}

	res, err := invokeStructured[ShoppingCartResponse](ctx, d, AgentShoppingCart, candidates,
		func(ctx context.Context, candidate string) ([]*schema.Message, error) {
			return d.prompts().Render(ctx, AgentShoppingCart, candidate, vars, history)
		})
	if err != nil {
		return Update{}, err
	}
	resp := res.Response

	turn, pending := FormatAssistantTurn(resp.Answer, resp.FinalAnswer, resp.ToolCalls)
	if pending == nil {
		pending = []PendingToolCall{}
	}

	d.logger().Debug("shopping cart responded",
		zap.String("thread_id", s.ThreadID),
		zap.String("model", res.Model),
		zap.Int("tool_calls", len(pending)),
		zap.Bool("final_answer", resp.FinalAnswer),
	)
	return Update{
		Messages:     []Turn{turn},
		Answer:       ptr(resp.Answer),
		ShoppingCart: &AgentProgress{Iteration: s.ShoppingCart.Iteration + 1, FinalAnswer: resp.FinalAnswer},
		ToolCalls:    &pending,
	}, nil
}

// runTraceID 优先取当前 span 的 trace ID，其次取 context 中注入的 TraceID。
func runTraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return GetTraceID(ctx)
}

func nodeError(node string, err error) error {
	return fmt.Errorf("node %s: %w", node, err)
}
