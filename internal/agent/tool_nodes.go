package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// RemoteInvoker 调用 MCP 服务上的远程工具，返回第一段文本内容。
type RemoteInvoker interface {
	CallTool(ctx context.Context, server, name string, args map[string]any) (string, error)
}

// RemoteToolNode 依次执行商品问答请求的远程工具调用。
//
// 每个结果以 ToolTurn 追加到会话记录，ToolCallID 沿用助手消息上的 ID；
// 任一调用失败时整个节点失败，本轮不写入任何结果。
func RemoteToolNode(ctx context.Context, s State, invoker RemoteInvoker, logger *zap.Logger) (Update, error) {
	if invoker == nil {
		return Update{}, fmt.Errorf("%w: no remote tool client configured", ErrToolInvocation)
	}
	turns := make([]Turn, 0, len(s.MCPToolCalls))
	for _, call := range s.MCPToolCalls {
		args := call.Arguments
		if args == nil {
			args = map[string]any{}
		}
		out, err := invoker.CallTool(ctx, call.Server, call.Name, args)
		if err != nil {
			return Update{}, &ToolError{Tool: call.Name, CallID: call.ID, Err: err}
		}
		logger.Debug("remote tool finished",
			zap.String("tool", call.Name),
			zap.String("server", call.Server),
			zap.String("call_id", call.ID),
			zap.Int("result_len", len(out)),
		)
		turns = append(turns, ToolTurn{Content: out, ToolCallID: call.ID, Name: call.Name})
	}
	cleared := []PendingToolCall{}
	return Update{Messages: turns, MCPToolCalls: &cleared}, nil
}

// LocalToolNode 包装 eino 的 ToolsNode，执行购物车 Agent 请求的本地工具。
type LocalToolNode struct {
	tn *compose.ToolsNode
}

// NewLocalToolNode 创建本地工具节点，工具按调用顺序串行执行。
func NewLocalToolNode(ctx context.Context, tools []tool.BaseTool) (*LocalToolNode, error) {
	tn, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:               tools,
		ExecuteSequentially: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create tools node: %w", err)
	}
	return &LocalToolNode{tn: tn}, nil
}

// Run 执行 State.ToolCalls 中的全部调用，购物车归属从 State 注入 context。
func (n *LocalToolNode) Run(ctx context.Context, s State) (Update, error) {
	in, err := toolsInput(s.ToolCalls)
	if err != nil {
		return Update{}, err
	}
	ctx = WithCartScope(ctx, CartScope{UserID: s.UserID, CartID: s.CartID})

	outputs, err := n.tn.Invoke(ctx, in)
	if err != nil {
		name, id := "", ""
		if len(s.ToolCalls) == 1 {
			name, id = s.ToolCalls[0].Name, s.ToolCalls[0].ID
		}
		return Update{}, &ToolError{Tool: name, CallID: id, Err: err}
	}

	names := make(map[string]string, len(s.ToolCalls))
	for _, c := range s.ToolCalls {
		names[c.ID] = c.Name
	}
	turns := make([]Turn, 0, len(outputs))
	for _, m := range outputs {
		if m == nil {
			continue
		}
		name := m.ToolName
		if name == "" {
			name = names[m.ToolCallID]
		}
		turns = append(turns, ToolTurn{Content: m.Content, ToolCallID: m.ToolCallID, Name: name})
	}
	cleared := []PendingToolCall{}
	return Update{Messages: turns, ToolCalls: &cleared}, nil
}

// toolsInput 将待执行调用转换为 ToolsNode 所需的助手消息
func toolsInput(calls []PendingToolCall) (*schema.Message, error) {
	tcs := make([]schema.ToolCall, 0, len(calls))
	for _, c := range calls {
		args := c.Arguments
		if args == nil {
			args = map[string]any{}
		}
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshal arguments of %s: %w", c.Name, err)
		}
		tcs = append(tcs, schema.ToolCall{
			ID:       c.ID,
			Type:     "function",
			Function: schema.FunctionCall{Name: c.Name, Arguments: string(raw)},
		})
	}
	return &schema.Message{Role: schema.Assistant, ToolCalls: tcs}, nil
}
