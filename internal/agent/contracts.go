package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	AgentCoordinator  = "coordinator_agent"
	AgentProductQA    = "product_qa_agent"
	AgentShoppingCart = "shopping_cart_agent"
)

// Contract 为各 Agent 的结构化输出，解析后在边界处校验。
type Contract interface {
	Validate() error
}

// Arguments 为工具调用参数。模型有时会把对象编码成字符串返回，这里两种写法都接受。
type Arguments map[string]any

func (a *Arguments) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = Arguments{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*a = Arguments{}
			return nil
		}
		data = []byte(s)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("tool arguments must be a JSON object: %w", err)
	}
	*a = m
	return nil
}

// ToolCallRequest 为模型请求的一次工具调用。Server 仅远程工具需要。
type ToolCallRequest struct {
	Name      string    `json:"name"`
	Arguments Arguments `json:"arguments"`
	Server    string    `json:"server,omitempty"`
}

// RetrievedContext 为商品问答引用过的检索结果。
type RetrievedContext struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Delegation 为协调者计划中的一步。
type Delegation struct {
	Agent string `json:"agent"`
	Task  string `json:"task"`
}

type ProductQAResponse struct {
	Answer              string             `json:"answer"`
	ToolCalls           []ToolCallRequest  `json:"tool_calls"`
	FinalAnswer         bool               `json:"final_answer"`
	RetrievedContextIDs []RetrievedContext `json:"retrieved_context_ids"`
}

func (r ProductQAResponse) Validate() error {
	for i, tc := range r.ToolCalls {
		if strings.TrimSpace(tc.Name) == "" {
			return fmt.Errorf("%w: tool_calls[%d].name is empty", ErrSchemaViolation, i)
		}
		if strings.TrimSpace(tc.Server) == "" {
			return fmt.Errorf("%w: tool_calls[%d].server is empty", ErrSchemaViolation, i)
		}
	}
	for i, rc := range r.RetrievedContextIDs {
		if strings.TrimSpace(rc.ID) == "" {
			return fmt.Errorf("%w: retrieved_context_ids[%d].id is empty", ErrSchemaViolation, i)
		}
	}
	return nil
}

type CoordinatorResponse struct {
	NextAgent   string       `json:"next_agent"`
	Plan        []Delegation `json:"plan"`
	FinalAnswer bool         `json:"final_answer"`
	Answer      string       `json:"answer"`
}

func (r CoordinatorResponse) Validate() error {
	switch r.NextAgent {
	case "", AgentProductQA, AgentShoppingCart:
	default:
		return fmt.Errorf("%w: unknown next_agent %q", ErrSchemaViolation, r.NextAgent)
	}
	for i, d := range r.Plan {
		if strings.TrimSpace(d.Agent) == "" {
			return fmt.Errorf("%w: plan[%d].agent is empty", ErrSchemaViolation, i)
		}
	}
	return nil
}

type ShoppingCartResponse struct {
	Answer      string            `json:"answer"`
	ToolCalls   []ToolCallRequest `json:"tool_calls"`
	FinalAnswer bool              `json:"final_answer"`
}

func (r ShoppingCartResponse) Validate() error {
	for i, tc := range r.ToolCalls {
		if strings.TrimSpace(tc.Name) == "" {
			return fmt.Errorf("%w: tool_calls[%d].name is empty", ErrSchemaViolation, i)
		}
	}
	return nil
}

// FormatAssistantTurn 将结构化回复转换为会话记录中的助手消息，并返回带 ID 的待执行调用。
//
// 回复标记完成时只保留文本，且不返回待执行调用；否则每个调用按序号分配 call_<i>，
// 同一批 ID 同时写入助手消息与待执行列表，工具节点直接沿用。
func FormatAssistantTurn(answer string, final bool, calls []ToolCallRequest) (AssistantTurn, []PendingToolCall) {
	if final || len(calls) == 0 {
		return AssistantTurn{Content: answer}, nil
	}
	refs := make([]ToolCallRef, 0, len(calls))
	pending := make([]PendingToolCall, 0, len(calls))
	for i, c := range calls {
		id := fmt.Sprintf("call_%d", i)
		args := map[string]any(c.Arguments)
		if args == nil {
			args = map[string]any{}
		}
		refs = append(refs, ToolCallRef{ID: id, Name: c.Name, Arguments: args})
		pending = append(pending, PendingToolCall{ID: id, Name: c.Name, Arguments: args, Server: c.Server})
	}
	return AssistantTurn{Content: answer, ToolCalls: refs}, pending
}
