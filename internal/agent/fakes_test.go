package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/wwwzy/ShopAgent/internal/storage"
	"github.com/wwwzy/ShopAgent/internal/toolspec"
)

// scriptedModel 依次返回预设回复，元素为 string 时作为回复正文，为 error 时返回该错误。
// 脚本用完后重复最后一个元素。
type scriptedModel struct {
	mu      sync.Mutex
	replies []any
	inputs  [][]*schema.Message
}

var _ model.BaseChatModel = (*scriptedModel)(nil)

func script(replies ...any) *scriptedModel {
	return &scriptedModel{replies: replies}
}

func (m *scriptedModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) == 0 {
		return nil, errors.New("empty script")
	}
	idx := len(m.inputs)
	if idx >= len(m.replies) {
		idx = len(m.replies) - 1
	}
	m.inputs = append(m.inputs, input)

	switch v := m.replies[idx].(type) {
	case error:
		return nil, v
	case string:
		msg := schema.AssistantMessage(v, nil)
		msg.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
		return msg, nil
	default:
		return nil, fmt.Errorf("unsupported script entry %T", v)
	}
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

func (m *scriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

// SystemPrompt 返回第 i 次调用的系统消息
func (m *scriptedModel) SystemPrompt(i int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i >= len(m.inputs) || len(m.inputs[i]) == 0 {
		return ""
	}
	return m.inputs[i][0].Content
}

func candidates(models ...*scriptedModel) []Candidate {
	out := make([]Candidate, 0, len(models))
	for i, m := range models {
		out = append(out, Candidate{Name: fmt.Sprintf("model-%d", i), Model: m})
	}
	return out
}

type remoteCall struct {
	Server string
	Name   string
	Args   map[string]any
}

// fakeRemote 同时实现 RemoteInvoker 与 ToolDiscoverer。
type fakeRemote struct {
	mu          sync.Mutex
	tools       map[string][]toolspec.Descriptor
	results     map[string]string
	failTool    string
	discoverErr error
	calls       []remoteCall
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		tools: map[string][]toolspec.Descriptor{
			itemsServer: {toolspec.FromRemote(itemsServer, "get_formatted_item_context",
				"Get the top k context items for a query.\n\nArgs:\n    query: the query\n    top_k: number of items",
				map[string]any{"query": map[string]any{"type": "string"}, "top_k": map[string]any{"type": "integer"}},
				[]string{"query"})},
		},
		results: map[string]string{
			"get_formatted_item_context": "- B0EARPHONE: Wireless earphones with noise cancelling\n",
		},
	}
}

const itemsServer = "http://items.test/mcp"

func (f *fakeRemote) CallTool(ctx context.Context, server, name string, args map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, remoteCall{Server: server, Name: name, Args: args})
	if name == f.failTool {
		return "", errors.New("server unavailable")
	}
	return f.results[name], nil
}

func (f *fakeRemote) Discover(ctx context.Context, server string) ([]toolspec.Descriptor, error) {
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}
	return f.tools[server], nil
}

func (f *fakeRemote) Calls() []remoteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remoteCall(nil), f.calls...)
}

type savedCheckpoint struct {
	NextNode string
	Status   string
	Data     []byte
}

// memCheckpoints 为内存版检查点存储，记录每次写入。
type memCheckpoints struct {
	mu      sync.Mutex
	latest  map[string]savedCheckpoint
	history []savedCheckpoint
	saveErr error
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{latest: map[string]savedCheckpoint{}}
}

func (m *memCheckpoints) LoadCheckpoint(ctx context.Context, threadID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.latest[threadID]
	if !ok {
		return nil, nil
	}
	return cp.Data, nil
}

func (m *memCheckpoints) SaveCheckpoint(ctx context.Context, threadID, nextNode, status string, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := savedCheckpoint{NextNode: nextNode, Status: status, Data: append([]byte(nil), state...)}
	m.latest[threadID] = cp
	m.history = append(m.history, cp)
	return nil
}

func (m *memCheckpoints) Latest(threadID string) (savedCheckpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.latest[threadID]
	return cp, ok
}

// memAudit 为内存版审计存储。
type memAudit struct {
	mu      sync.Mutex
	nextID  uint64
	records map[uint64]*storage.AuditRecord
}

func newMemAudit() *memAudit {
	return &memAudit{records: map[uint64]*storage.AuditRecord{}}
}

func (m *memAudit) InsertAuditRecord(ctx context.Context, rec *storage.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *memAudit) UpdateAuditRecord(ctx context.Context, id uint64, up storage.AuditUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("audit record %d not found", id)
	}
	if up.Status != nil {
		rec.Status = *up.Status
	}
	if up.ResultJSON != nil {
		rec.ResultJSON = *up.ResultJSON
	}
	if up.ErrorMessage != nil {
		rec.ErrorMessage = *up.ErrorMessage
	}
	return nil
}

func (m *memAudit) Records() []storage.AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.AuditRecord, 0, len(m.records))
	for i := uint64(1); i <= m.nextID; i++ {
		if r, ok := m.records[i]; ok {
			out = append(out, *r)
		}
	}
	return out
}

type cartLookupInput struct {
	UserID string `json:"user_id" jsonschema:"description=ID of the user"`
	CartID string `json:"cart_id" jsonschema:"description=ID of the cart"`
}

// newScopeEchoTool 返回一个回显购物车归属的本地工具
func newScopeEchoTool() (tool.BaseTool, error) {
	return utils.InferTool("get_shopping_cart",
		"Retrieve all items in a user's shopping cart.\n\nArgs:\n    user_id: ID of the user\n    cart_id: ID of the cart",
		func(ctx context.Context, in cartLookupInput) (string, error) {
			scope, ok := GetCartScope(ctx)
			if !ok {
				return "", errors.New("no cart scope")
			}
			return fmt.Sprintf("cart %s/%s is empty", scope.UserID, scope.CartID), nil
		})
}
