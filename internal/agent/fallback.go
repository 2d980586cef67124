package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Candidate 为回退链上的一个模型，Name 同时用于选择提示词模板。
type Candidate struct {
	Name  string
	Model model.BaseChatModel
}

// Usage 为一次模型调用的 token 用量。
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// renderFunc 为指定候选模型生成完整的输入消息。
type renderFunc func(ctx context.Context, candidate string) ([]*schema.Message, error)

type callResult[T Contract] struct {
	Response T
	Model    string
	Usage    Usage
}

// invokeStructured 按顺序尝试候选模型，直到某个模型返回可解析且通过校验的结构化输出。
//
// 单个候选失败（网络错误、限流、输出不符合约束）只记录并尝试下一个；
// 全部失败返回 *FallbackError；context 取消时立即返回。
func invokeStructured[T Contract](ctx context.Context, d NodeDeps, agentName string, candidates []Candidate, render renderFunc) (callResult[T], error) {
	var zero callResult[T]
	logger := d.logger()
	fe := &FallbackError{Agent: agentName}

	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s: %w", agentName, err)
		}

		res, err := attemptStructured[T](ctx, d, agentName, c, render)
		if err == nil {
			if i > 0 {
				logger.Info("fallback model succeeded",
					zap.String("agent", agentName),
					zap.String("model", c.Name),
					zap.Int("attempt", i+1),
				)
			}
			return res, nil
		}

		fe.Attempts = append(fe.Attempts, Attempt{Model: c.Name, Err: err})
		d.Metrics.RecordFallback(agentName, c.Name)
		logger.Warn("candidate model failed",
			zap.String("agent", agentName),
			zap.String("model", c.Name),
			zap.Int("attempt", i+1),
			zap.Error(err),
		)
	}
	return zero, fe
}

func attemptStructured[T Contract](ctx context.Context, d NodeDeps, agentName string, c Candidate, render renderFunc) (callResult[T], error) {
	var zero callResult[T]
	if c.Model == nil {
		return zero, fmt.Errorf("model %s is not configured", c.Name)
	}

	ctx, span := d.tracer().Start(ctx, agentName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.agent", agentName),
			attribute.String("llm.model", c.Name),
		),
	)
	defer span.End()

	fail := func(err error) (callResult[T], error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}

	msgs, err := render(ctx, c.Name)
	if err != nil {
		return fail(fmt.Errorf("render prompt: %w", err))
	}

	begin := time.Now()
	resp, err := c.Model.Generate(ctx, msgs)
	if err != nil {
		d.Metrics.RecordLLMRequest(agentName, c.Name, "error", time.Since(begin))
		return fail(fmt.Errorf("generate: %w", err))
	}

	usage := usageOf(resp)
	span.SetAttributes(
		attribute.Int("llm.usage.input_tokens", usage.PromptTokens),
		attribute.Int("llm.usage.output_tokens", usage.CompletionTokens),
		attribute.Int("llm.usage.total_tokens", usage.TotalTokens),
	)
	d.Metrics.RecordTokens(agentName, c.Name, usage.PromptTokens, usage.CompletionTokens)

	out, err := parseContract[T](ctx, resp)
	if err != nil {
		d.Metrics.RecordLLMRequest(agentName, c.Name, "invalid", time.Since(begin))
		return fail(err)
	}
	d.Metrics.RecordLLMRequest(agentName, c.Name, "success", time.Since(begin))

	return callResult[T]{Response: out, Model: c.Name, Usage: usage}, nil
}

func usageOf(m *schema.Message) Usage {
	if m == nil || m.ResponseMeta == nil || m.ResponseMeta.Usage == nil {
		return Usage{}
	}
	u := m.ResponseMeta.Usage
	return Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
}

// parseContract 从模型回复正文中解析 JSON 并校验。
func parseContract[T Contract](ctx context.Context, m *schema.Message) (T, error) {
	var zero T
	if m == nil {
		return zero, fmt.Errorf("%w: empty response", ErrSchemaViolation)
	}
	body := extractJSON(m.Content)
	if body == "" {
		return zero, fmt.Errorf("%w: response has no JSON object", ErrSchemaViolation)
	}

	parser := schema.NewMessageJSONParser[T](&schema.MessageJSONParseConfig{
		ParseFrom: schema.MessageParseFromContent,
	})
	out, err := parser.Parse(ctx, &schema.Message{Role: schema.Assistant, Content: body})
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	if err := out.Validate(); err != nil {
		return zero, err
	}
	return out, nil
}

// extractJSON 去掉 ``` 代码块包裹，并截取第一个 { 到最后一个 } 之间的内容。
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
