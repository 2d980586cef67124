package agent

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSchemaViolation 模型输出无法解析或不满足响应约束；可由下一个候选模型重试。
	ErrSchemaViolation = errors.New("agent: response violates schema")
	// ErrModelsExhausted 所有候选模型均失败，运行终止。
	ErrModelsExhausted = errors.New("agent: all candidate models failed")
	// ErrToolInvocation 工具调用失败（服务不可达、isError 结果、数据库错误），不重试。
	ErrToolInvocation = errors.New("agent: tool invocation failed")
	// ErrCheckpoint 检查点读写失败。
	ErrCheckpoint = errors.New("agent: checkpoint failed")
	// ErrUnknownNode 检查点中的恢复节点不在图中。
	ErrUnknownNode = errors.New("agent: unknown node")
	// ErrInvalidRequest 请求缺少查询内容或线程 ID。
	ErrInvalidRequest = errors.New("agent: invalid request")
	// ErrNothingToResume 线程没有处于运行中的检查点。
	ErrNothingToResume = errors.New("agent: no running checkpoint to resume")
)

// Attempt 记录一次候选模型调用的失败原因。
type Attempt struct {
	Model string
	Err   error
}

// FallbackError 表示回退链上所有候选模型都失败了。
type FallbackError struct {
	Agent    string
	Attempts []Attempt
}

func (e *FallbackError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Model, a.Err))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s: no candidate models configured", e.Agent)
	}
	return fmt.Sprintf("%s: all %d candidate models failed (%s)", e.Agent, len(e.Attempts), strings.Join(parts, "; "))
}

func (e *FallbackError) Unwrap() error { return ErrModelsExhausted }

// ToolError 为工具调用失败，携带工具名与调用 ID。
type ToolError struct {
	Tool   string
	CallID string
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s (%s): %v", e.Tool, e.CallID, e.Err)
}

func (e *ToolError) Unwrap() []error { return []error{ErrToolInvocation, e.Err} }
