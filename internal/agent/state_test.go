package agent

import (
	"encoding/json"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/ShopAgent/internal/toolspec"
)

func TestApply_MergePolicies(t *testing.T) {
	s := State{
		Messages:     Transcript{UserTurn{Content: "hi"}},
		Answer:       "old",
		MCPToolCalls: []PendingToolCall{{ID: "call_0", Name: "a"}},
		ToolCalls:    []PendingToolCall{{ID: "call_0", Name: "b"}},
		ThreadID:     "t",
	}

	cleared := []PendingToolCall{}
	err := s.Apply(Update{
		Messages:     []Turn{AssistantTurn{Content: "one"}, AssistantTurn{Content: "two"}},
		Answer:       ptr("new"),
		ProductQA:    &AgentProgress{Iteration: 2},
		MCPToolCalls: &cleared,
	})
	require.NoError(t, err)

	assert.Len(t, s.Messages, 3)
	assert.Equal(t, AssistantTurn{Content: "two"}, s.Messages[2])
	assert.Equal(t, "new", s.Answer)
	assert.Equal(t, 2, s.ProductQA.Iteration)
	assert.Empty(t, s.MCPToolCalls)
	// nil 字段不修改
	assert.Len(t, s.ToolCalls, 1)
	assert.Equal(t, "t", s.ThreadID)
}

func TestPolicyOf(t *testing.T) {
	p, ok := PolicyOf(FieldMessages)
	require.True(t, ok)
	assert.Equal(t, MergeAppend, p)

	for _, f := range []Field{FieldAnswer, FieldPlan, FieldToolCalls, FieldMCPToolCalls, FieldRetrievedContext, FieldTraceID} {
		p, ok := PolicyOf(f)
		require.True(t, ok, f)
		assert.Equal(t, MergeOverwrite, p, f)
	}
	_, ok = PolicyOf(Field("unknown"))
	assert.False(t, ok)
}

func TestNewTurn_ResetsRunFields(t *testing.T) {
	prev := State{
		Messages:     Transcript{UserTurn{Content: "one"}, AssistantTurn{Content: "first"}},
		Answer:       "first",
		Coordinator:  AgentProgress{Iteration: 3, FinalAnswer: true},
		ProductQA:    AgentProgress{Iteration: 2, FinalAnswer: true},
		NextAgent:    AgentProductQA,
		MCPToolCalls: []PendingToolCall{{ID: "call_0"}},
		TraceID:      "abc",
		ThreadID:     "t",
		UserID:       "t",
		CartID:       "t",
		Status:       StatusCompleted,
	}
	tools := []toolspec.Descriptor{{Name: "get_shopping_cart"}}
	s := prev.newTurn("two", nil, tools)

	assert.Len(t, s.Messages, 3)
	assert.Equal(t, UserTurn{Content: "two"}, s.Messages[2])
	assert.Len(t, prev.Messages, 2, "previous state must not be modified")
	assert.Equal(t, AgentProgress{}, s.Coordinator)
	assert.Equal(t, AgentProgress{}, s.ProductQA)
	assert.Empty(t, s.NextAgent)
	assert.Empty(t, s.MCPToolCalls)
	assert.Empty(t, s.Answer)
	assert.Equal(t, tools, s.ShoppingCartTools)
	assert.Equal(t, NodeCoordinator, s.NextNode)
	assert.Equal(t, StatusRunning, s.Status)
	assert.Equal(t, "t", s.CartID)
}

func TestStateJSON_RoundTrip(t *testing.T) {
	s := State{
		Messages: Transcript{
			UserTurn{Content: "earphones"},
			AssistantTurn{ToolCalls: []ToolCallRef{{ID: "call_0", Name: "get_formatted_item_context", Arguments: map[string]any{"query": "earphones"}}}},
			ToolTurn{Content: "- B0X: earphones\n", ToolCallID: "call_0", Name: "get_formatted_item_context"},
		},
		ThreadID: "t",
		NextNode: NodeProductQA,
		Status:   StatusRunning,
	}
	data, err := json.Marshal(s)
	require.NoError(t, err)

	var got State
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, s.Messages, got.Messages)
	assert.Equal(t, NodeProductQA, got.NextNode)
}

func TestTranscript_UnknownTurnType(t *testing.T) {
	var tr Transcript
	err := json.Unmarshal([]byte(`[{"type":"system","content":"x"}]`), &tr)
	assert.Error(t, err)
}

func TestToSchemaMessages_PairsToolCalls(t *testing.T) {
	tr := Transcript{
		UserTurn{Content: "q"},
		AssistantTurn{Content: "", ToolCalls: []ToolCallRef{{ID: "call_0", Name: "a"}, {ID: "call_1", Name: "b"}}},
		ToolTurn{Content: "ra", ToolCallID: "call_0", Name: "a"},
		AssistantTurn{Content: "answer"},
		// 因迭代上限未执行的调用
		AssistantTurn{Content: "again", ToolCalls: []ToolCallRef{{ID: "call_0", Name: "a"}}},
		ToolTurn{Content: "orphan", ToolCallID: "call_9"},
	}
	msgs, err := tr.ToSchemaMessages()
	require.NoError(t, err)
	require.Len(t, msgs, 6)

	assert.Equal(t, schema.User, msgs[0].Role)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "call_0", msgs[1].ToolCalls[0].ID)
	assert.Equal(t, "{}", msgs[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, schema.Tool, msgs[2].Role)
	assert.Equal(t, "call_0", msgs[2].ToolCallID)
	assert.Equal(t, "answer", msgs[3].Content)
	assert.Empty(t, msgs[4].ToolCalls)
	assert.Equal(t, schema.Assistant, msgs[5].Role)
	assert.Equal(t, "orphan", msgs[5].Content)
}

func TestLastAssistant(t *testing.T) {
	_, ok := Transcript{UserTurn{Content: "q"}}.LastAssistant()
	assert.False(t, ok)

	got, ok := Transcript{AssistantTurn{Content: "a"}, ToolTurn{Content: "r"}, UserTurn{Content: "q"}}.LastAssistant()
	assert.True(t, ok)
	assert.Equal(t, "a", got)
}
