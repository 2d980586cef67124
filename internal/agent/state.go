package agent

import (
	"fmt"

	"github.com/wwwzy/ShopAgent/internal/toolspec"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
)

// AgentProgress 为单个 Agent 在一次运行中的进度，只由该 Agent 自己的节点写入。
type AgentProgress struct {
	// Iteration 每次执行该 Agent 节点加一，运行内不重置，用于循环上限判断。
	Iteration int `json:"iteration"`
	// FinalAnswer 来自该 Agent 最近一次结构化输出，只有对应的路由函数读取。
	FinalAnswer bool `json:"final_answer"`
}

// PendingToolCall 为待执行的工具调用，ID 在格式化助手消息时分配。
type PendingToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	// Server 远程工具的 MCP 服务地址；本地工具为空。
	Server string `json:"server,omitempty"`
}

// State 定义了在 Graph 中流转的会话状态
type State struct {
	// 会话记录，只追加
	Messages Transcript `json:"messages"`
	// 最近一次节点给出的回答
	Answer string `json:"answer"`

	Coordinator  AgentProgress `json:"coordinator"`
	ProductQA    AgentProgress `json:"product_qa"`
	ShoppingCart AgentProgress `json:"shopping_cart"`

	// 协调者的路由决定与计划
	NextAgent string       `json:"next_agent"`
	Plan      []Delegation `json:"plan"`

	// 运行开始前装配的工具清单，运行中只读
	ProductQATools    []toolspec.Descriptor `json:"product_qa_tools"`
	ShoppingCartTools []toolspec.Descriptor `json:"shopping_cart_tools"`

	// 最近一次专家回复请求的工具调用，由对应工具节点消费并清空
	MCPToolCalls []PendingToolCall `json:"mcp_tool_calls"`
	ToolCalls    []PendingToolCall `json:"tool_calls"`

	RetrievedContext []RetrievedContext `json:"retrieved_context"`

	TraceID  string `json:"trace_id"`
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
	CartID   string `json:"cart_id"`

	// 引擎簿记：恢复时进入的节点与运行状态
	NextNode string `json:"next_node"`
	Status   string `json:"status"`
}

// Update 为节点返回的部分状态，nil 字段表示不修改。
type Update struct {
	Messages         []Turn
	Answer           *string
	Coordinator      *AgentProgress
	ProductQA        *AgentProgress
	ShoppingCart     *AgentProgress
	NextAgent        *string
	Plan             *[]Delegation
	MCPToolCalls     *[]PendingToolCall
	ToolCalls        *[]PendingToolCall
	RetrievedContext *[]RetrievedContext
	TraceID          *string
}

// MergePolicy 决定 Update 中的字段如何合并进 State。
type MergePolicy int

const (
	MergeOverwrite MergePolicy = iota
	MergeAppend
)

func (p MergePolicy) String() string {
	switch p {
	case MergeOverwrite:
		return "overwrite"
	case MergeAppend:
		return "append"
	default:
		return fmt.Sprintf("MergePolicy(%d)", int(p))
	}
}

type Field string

const (
	FieldMessages         Field = "messages"
	FieldAnswer           Field = "answer"
	FieldCoordinator      Field = "coordinator"
	FieldProductQA        Field = "product_qa"
	FieldShoppingCart     Field = "shopping_cart"
	FieldNextAgent        Field = "next_agent"
	FieldPlan             Field = "plan"
	FieldMCPToolCalls     Field = "mcp_tool_calls"
	FieldToolCalls        Field = "tool_calls"
	FieldRetrievedContext Field = "retrieved_context"
	FieldTraceID          Field = "trace_id"
)

// fieldPolicies 显式声明每个可更新字段的合并方式。
var fieldPolicies = map[Field]MergePolicy{
	FieldMessages:         MergeAppend,
	FieldAnswer:           MergeOverwrite,
	FieldCoordinator:      MergeOverwrite,
	FieldProductQA:        MergeOverwrite,
	FieldShoppingCart:     MergeOverwrite,
	FieldNextAgent:        MergeOverwrite,
	FieldPlan:             MergeOverwrite,
	FieldMCPToolCalls:     MergeOverwrite,
	FieldToolCalls:        MergeOverwrite,
	FieldRetrievedContext: MergeOverwrite,
	FieldTraceID:          MergeOverwrite,
}

// PolicyOf 返回字段的合并方式。
func PolicyOf(f Field) (MergePolicy, bool) {
	p, ok := fieldPolicies[f]
	return p, ok
}

// Apply 依据 fieldPolicies 将 Update 合并进 State。
func (s *State) Apply(u Update) error {
	if len(u.Messages) > 0 {
		if err := mergeSlice(&s.Messages, u.Messages, FieldMessages); err != nil {
			return err
		}
	}
	if err := mergeValue(&s.Answer, u.Answer, FieldAnswer); err != nil {
		return err
	}
	if err := mergeValue(&s.Coordinator, u.Coordinator, FieldCoordinator); err != nil {
		return err
	}
	if err := mergeValue(&s.ProductQA, u.ProductQA, FieldProductQA); err != nil {
		return err
	}
	if err := mergeValue(&s.ShoppingCart, u.ShoppingCart, FieldShoppingCart); err != nil {
		return err
	}
	if err := mergeValue(&s.NextAgent, u.NextAgent, FieldNextAgent); err != nil {
		return err
	}
	if u.Plan != nil {
		if err := mergeSlice(&s.Plan, *u.Plan, FieldPlan); err != nil {
			return err
		}
	}
	if u.MCPToolCalls != nil {
		if err := mergeSlice(&s.MCPToolCalls, *u.MCPToolCalls, FieldMCPToolCalls); err != nil {
			return err
		}
	}
	if u.ToolCalls != nil {
		if err := mergeSlice(&s.ToolCalls, *u.ToolCalls, FieldToolCalls); err != nil {
			return err
		}
	}
	if u.RetrievedContext != nil {
		if err := mergeSlice(&s.RetrievedContext, *u.RetrievedContext, FieldRetrievedContext); err != nil {
			return err
		}
	}
	return mergeValue(&s.TraceID, u.TraceID, FieldTraceID)
}

func mergeSlice[T any, S ~[]T](dst *S, src []T, f Field) error {
	p, ok := PolicyOf(f)
	if !ok {
		return fmt.Errorf("no merge policy for field %s", f)
	}
	switch p {
	case MergeAppend:
		*dst = append(*dst, src...)
	case MergeOverwrite:
		*dst = append(S(nil), src...)
	default:
		return fmt.Errorf("field %s: unsupported merge policy %s", f, p)
	}
	return nil
}

func mergeValue[T any](dst *T, src *T, f Field) error {
	if src == nil {
		return nil
	}
	p, ok := PolicyOf(f)
	if !ok {
		return fmt.Errorf("no merge policy for field %s", f)
	}
	if p != MergeOverwrite {
		return fmt.Errorf("field %s: scalar fields only support overwrite, got %s", f, p)
	}
	*dst = *src
	return nil
}

// newTurn 为同一线程的新一轮提问重置运行内字段，保留会话记录与身份标识。
func (s State) newTurn(query string, productQATools, shoppingCartTools []toolspec.Descriptor) State {
	return State{
		Messages:          append(append(Transcript(nil), s.Messages...), UserTurn{Content: query}),
		ProductQATools:    productQATools,
		ShoppingCartTools: shoppingCartTools,
		ThreadID:          s.ThreadID,
		UserID:            s.UserID,
		CartID:            s.CartID,
		NextNode:          NodeCoordinator,
		Status:            StatusRunning,
	}
}

func ptr[T any](v T) *T { return &v }
