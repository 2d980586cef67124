package agent

import (
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// Turn 为会话记录中的一条消息。只有本包内的 UserTurn/AssistantTurn/ToolTurn 实现该接口，
// 所有消费方通过类型分支处理，未知类型一律报错。
type Turn interface {
	turn()
}

// UserTurn 用户输入。
type UserTurn struct {
	Content string
}

// AssistantTurn 模型回复，可附带待执行的工具调用。
type AssistantTurn struct {
	Content   string
	ToolCalls []ToolCallRef
}

// ToolTurn 工具执行结果，ToolCallID 对应上一条 AssistantTurn 中的调用。
type ToolTurn struct {
	Content    string
	ToolCallID string
	Name       string
}

func (UserTurn) turn()      {}
func (AssistantTurn) turn() {}
func (ToolTurn) turn()      {}

// ToolCallRef 为助手消息上记录的工具调用。
type ToolCallRef struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Transcript 为只追加的会话记录。
type Transcript []Turn

type turnEnvelope struct {
	Type       string        `json:"type"`
	Content    string        `json:"content"`
	ToolCalls  []ToolCallRef `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

const (
	turnUser      = "user"
	turnAssistant = "assistant"
	turnTool      = "tool"
)

func (t Transcript) MarshalJSON() ([]byte, error) {
	out := make([]turnEnvelope, 0, len(t))
	for i, turn := range t {
		switch v := turn.(type) {
		case UserTurn:
			out = append(out, turnEnvelope{Type: turnUser, Content: v.Content})
		case AssistantTurn:
			out = append(out, turnEnvelope{Type: turnAssistant, Content: v.Content, ToolCalls: v.ToolCalls})
		case ToolTurn:
			out = append(out, turnEnvelope{Type: turnTool, Content: v.Content, ToolCallID: v.ToolCallID, Name: v.Name})
		default:
			return nil, fmt.Errorf("marshal transcript: unsupported turn %T at %d", turn, i)
		}
	}
	return json.Marshal(out)
}

func (t *Transcript) UnmarshalJSON(data []byte) error {
	var raw []turnEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Transcript, 0, len(raw))
	for i, e := range raw {
		switch e.Type {
		case turnUser:
			out = append(out, UserTurn{Content: e.Content})
		case turnAssistant:
			out = append(out, AssistantTurn{Content: e.Content, ToolCalls: e.ToolCalls})
		case turnTool:
			out = append(out, ToolTurn{Content: e.Content, ToolCallID: e.ToolCallID, Name: e.Name})
		default:
			return fmt.Errorf("unmarshal transcript: unknown turn type %q at %d", e.Type, i)
		}
	}
	*t = out
	return nil
}

// LastAssistant 返回最后一条助手消息内容。
func (t Transcript) LastAssistant() (string, bool) {
	for i := len(t) - 1; i >= 0; i-- {
		if a, ok := t[i].(AssistantTurn); ok {
			return a.Content, true
		}
	}
	return "", false
}

// ToSchemaMessages 将会话记录转换为模型输入。
//
// 工具调用与工具结果按相邻关系配对：助手消息上没有对应结果的调用（例如因迭代上限而未执行）
// 会被去掉，只保留文本；找不到对应调用的工具结果降级为普通助手文本。
// 这样发给模型的消息序列总是满足“每个 tool_call 都有结果”的约束。
func (t Transcript) ToSchemaMessages() ([]*schema.Message, error) {
	out := make([]*schema.Message, 0, len(t))
	for i := 0; i < len(t); i++ {
		switch v := t[i].(type) {
		case UserTurn:
			out = append(out, schema.UserMessage(v.Content))
		case AssistantTurn:
			answered := map[string]bool{}
			for j := i + 1; j < len(t); j++ {
				tt, ok := t[j].(ToolTurn)
				if !ok {
					break
				}
				answered[tt.ToolCallID] = true
			}

			var calls []schema.ToolCall
			for _, c := range v.ToolCalls {
				if !answered[c.ID] {
					continue
				}
				args, err := json.Marshal(nonNilArgs(c.Arguments))
				if err != nil {
					return nil, fmt.Errorf("marshal tool call %s arguments: %w", c.ID, err)
				}
				calls = append(calls, schema.ToolCall{
					ID:       c.ID,
					Type:     "function",
					Function: schema.FunctionCall{Name: c.Name, Arguments: string(args)},
				})
			}
			out = append(out, schema.AssistantMessage(v.Content, calls))

			// 紧随其后的工具结果
			valid := map[string]bool{}
			for _, c := range calls {
				valid[c.ID] = true
			}
			for i+1 < len(t) {
				tt, ok := t[i+1].(ToolTurn)
				if !ok {
					break
				}
				i++
				if valid[tt.ToolCallID] {
					out = append(out, schema.ToolMessage(tt.Content, tt.ToolCallID, schema.WithToolName(tt.Name)))
					delete(valid, tt.ToolCallID)
					continue
				}
				out = append(out, schema.AssistantMessage(tt.Content, nil))
			}
		case ToolTurn:
			out = append(out, schema.AssistantMessage(v.Content, nil))
		default:
			return nil, fmt.Errorf("convert transcript: unsupported turn %T at %d", t[i], i)
		}
	}
	return out, nil
}

func nonNilArgs(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
