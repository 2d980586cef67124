package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArguments_AcceptsObjectStringAndNull(t *testing.T) {
	var r ShoppingCartResponse
	require.NoError(t, json.Unmarshal([]byte(`{"tool_calls":[
		{"name":"a","arguments":{"items":[{"product_id":"B1","quantity":2}]}},
		{"name":"b","arguments":"{\"user_id\":\"u\"}"},
		{"name":"c","arguments":null},
		{"name":"d","arguments":""}
	]}`), &r))

	require.Len(t, r.ToolCalls, 4)
	assert.Contains(t, r.ToolCalls[0].Arguments, "items")
	assert.Equal(t, "u", r.ToolCalls[1].Arguments["user_id"])
	assert.NotNil(t, r.ToolCalls[2].Arguments)
	assert.Empty(t, r.ToolCalls[3].Arguments)

	err := json.Unmarshal([]byte(`{"tool_calls":[{"name":"a","arguments":"[1,2]"}]}`), &r)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, CoordinatorResponse{NextAgent: AgentShoppingCart}.Validate())
	assert.NoError(t, CoordinatorResponse{FinalAnswer: true}.Validate())
	assert.True(t, errors.Is(CoordinatorResponse{NextAgent: "weather_agent"}.Validate(), ErrSchemaViolation))
	assert.True(t, errors.Is(CoordinatorResponse{Plan: []Delegation{{Task: "x"}}}.Validate(), ErrSchemaViolation))

	assert.NoError(t, ProductQAResponse{ToolCalls: []ToolCallRequest{{Name: "a", Server: "s"}}}.Validate())
	assert.True(t, errors.Is(ProductQAResponse{ToolCalls: []ToolCallRequest{{Name: "a"}}}.Validate(), ErrSchemaViolation))
	assert.True(t, errors.Is(ProductQAResponse{RetrievedContextIDs: []RetrievedContext{{Description: "x"}}}.Validate(), ErrSchemaViolation))

	assert.True(t, errors.Is(ShoppingCartResponse{ToolCalls: []ToolCallRequest{{Name: " "}}}.Validate(), ErrSchemaViolation))
}

func TestFormatAssistantTurn(t *testing.T) {
	calls := []ToolCallRequest{
		{Name: "get_formatted_item_context", Arguments: Arguments{"query": "bags"}, Server: "http://items/mcp"},
		{Name: "get_formatted_review_context"},
	}

	turn, pending := FormatAssistantTurn("looking", false, calls)
	require.Len(t, turn.ToolCalls, 2)
	require.Len(t, pending, 2)
	for i := range calls {
		assert.Equal(t, turn.ToolCalls[i].ID, pending[i].ID)
	}
	assert.Equal(t, "call_0", pending[0].ID)
	assert.Equal(t, "call_1", pending[1].ID)
	assert.Equal(t, "http://items/mcp", pending[0].Server)
	assert.NotNil(t, pending[1].Arguments)
	assert.Equal(t, "looking", turn.Content)

	// 最终回复不带工具调用
	turn, pending = FormatAssistantTurn("done", true, calls)
	assert.Empty(t, turn.ToolCalls)
	assert.Nil(t, pending)
	assert.Equal(t, "done", turn.Content)
}

func TestParseContract(t *testing.T) {
	ctx := context.Background()

	out, err := parseContract[CoordinatorResponse](ctx, schema.AssistantMessage("```json\n{\"next_agent\": \"product_qa_agent\", \"final_answer\": false}\n```", nil))
	require.NoError(t, err)
	assert.Equal(t, AgentProductQA, out.NextAgent)

	out, err = parseContract[CoordinatorResponse](ctx, schema.AssistantMessage("Sure! {\"final_answer\": true, \"answer\": \"hi\"} Hope this helps.", nil))
	require.NoError(t, err)
	assert.True(t, out.FinalAnswer)

	_, err = parseContract[CoordinatorResponse](ctx, schema.AssistantMessage("no json here", nil))
	assert.True(t, errors.Is(err, ErrSchemaViolation))

	_, err = parseContract[CoordinatorResponse](ctx, schema.AssistantMessage(`{"final_answer": "maybe"}`, nil))
	assert.True(t, errors.Is(err, ErrSchemaViolation))
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSON("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":{"b":2}}`, extractJSON(`prefix {"a":{"b":2}} suffix`))
	assert.Equal(t, "", extractJSON("} {"))
}
