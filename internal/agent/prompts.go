package agent

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"gopkg.in/yaml.v3"
)

// defaultPromptKey 为未按模型单独配置时使用的模板键。
const defaultPromptKey = "default"

// CoordinatorPromptTemplate 协调者系统提示词。
const CoordinatorPromptTemplate = `You are the coordinator of a shopping assistant for an online store.
You never answer product questions or change the cart yourself. You decide which specialist should act next, or you give the final answer.

Available specialists:
- product_qa_agent: answers questions about products in the catalog and their reviews, and finds product IDs.
- shopping_cart_agent: adds items to, removes items from, and shows the user's shopping cart.

Rules:
1. If the request is unrelated to shopping in this store, set final_answer to true and politely explain what you can help with.
2. If a specialist has already produced what the user asked for, set final_answer to true and summarise it in answer.
3. Otherwise set next_agent to the specialist that should act next, and keep final_answer false.
4. When the user wants the best items for some need added to the cart, first delegate to product_qa_agent to find them.
5. plan lists the remaining steps in order.

Respond with a single JSON object and nothing else:
{"next_agent": "product_qa_agent" | "shopping_cart_agent" | "", "plan": [{"agent": "...", "task": "..."}], "final_answer": true | false, "answer": "..."}`

// ProductQAPromptTemplate 商品问答系统提示词。
const ProductQAPromptTemplate = `You are a product expert for an online store. Answer the user's question using only context retrieved with the tools below.

Available tools:
{{ available_tools }}

Rules:
1. To call tools, list them in tool_calls with name, arguments and the server value copied from the tool description, and keep final_answer false.
2. When tool results are in the conversation, answer with specifics from them and set final_answer to true.
3. List every product you referenced in retrieved_context_ids with its id and a short description.
4. Never invent products, prices or reviews.

Respond with a single JSON object and nothing else:
{"answer": "...", "tool_calls": [{"name": "...", "arguments": {}, "server": "..."}], "final_answer": true | false, "retrieved_context_ids": [{"id": "...", "description": "..."}]}`

// ShoppingCartPromptTemplate 购物车系统提示词。
const ShoppingCartPromptTemplate = `You manage the shopping cart of the current user.

User ID: {{ user_id }}
Cart ID: {{ cart_id }}

Available tools:
{{ available_tools }}

Rules:
1. Use the tools to add items, remove items or show the cart. Always pass the user ID and cart ID above.
2. To call tools, list them in tool_calls and keep final_answer false.
3. When the tool results are in the conversation, report the outcome in answer and set final_answer to true.

Respond with a single JSON object and nothing else:
{"answer": "...", "tool_calls": [{"name": "...", "arguments": {}}], "final_answer": true | false}`

// PromptSet 保存各 Agent 的提示词模板，可按模型名单独覆盖。
type PromptSet struct {
	templates map[string]map[string]string
}

// DefaultPrompts 返回内置模板。
func DefaultPrompts() *PromptSet {
	return &PromptSet{templates: map[string]map[string]string{
		AgentCoordinator:  {defaultPromptKey: CoordinatorPromptTemplate},
		AgentProductQA:    {defaultPromptKey: ProductQAPromptTemplate},
		AgentShoppingCart: {defaultPromptKey: ShoppingCartPromptTemplate},
	}}
}

type promptFile struct {
	Prompts map[string]map[string]string `yaml:"prompts"`
}

// LoadPrompts 从 YAML 文件加载模板并覆盖内置模板，文件格式：
//
//	prompts:
//	  coordinator_agent:
//	    default: "..."
//	    gpt-4.1: "..."
func LoadPrompts(path string) (*PromptSet, error) {
	ps := DefaultPrompts()
	if path == "" {
		return ps, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt file: %w", err)
	}
	var f promptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse prompt file: %w", err)
	}
	for agentName, byModel := range f.Prompts {
		if _, ok := ps.templates[agentName]; !ok {
			return nil, fmt.Errorf("prompt file: unknown agent %q", agentName)
		}
		for modelName, tpl := range byModel {
			ps.templates[agentName][modelName] = tpl
		}
	}
	return ps, nil
}

// Template 返回 agent 在 model 下使用的模板，未单独配置时退回 default。
func (p *PromptSet) Template(agentName, modelName string) (string, error) {
	if p == nil {
		p = DefaultPrompts()
	}
	byModel, ok := p.templates[agentName]
	if !ok {
		return "", fmt.Errorf("no prompt for agent %s", agentName)
	}
	if tpl, ok := byModel[modelName]; ok {
		return tpl, nil
	}
	if tpl, ok := byModel[defaultPromptKey]; ok {
		return tpl, nil
	}
	return "", fmt.Errorf("no prompt for agent %s model %s", agentName, modelName)
}

// Render 生成 System + History 的消息列表。
func (p *PromptSet) Render(ctx context.Context, agentName, modelName string, vars map[string]any, history []*schema.Message) ([]*schema.Message, error) {
	tpl, err := p.Template(agentName, modelName)
	if err != nil {
		return nil, err
	}
	// 模板中包含 JSON 示例，使用 Jinja2 语法避免与 { } 冲突
	ct := prompt.FromMessages(schema.Jinja2,
		schema.SystemMessage(tpl),
		schema.MessagesPlaceholder("history", true),
	)
	in := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		in[k] = v
	}
	in["history"] = history
	msgs, err := ct.Format(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("format %s prompt: %w", agentName, err)
	}
	return msgs, nil
}
