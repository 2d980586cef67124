// Package llm 按配置创建各 Agent 使用的聊天模型，并组装成按序回退的候选列表。
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/wwwzy/ShopAgent/internal/agent"
)

const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// ModelConfig 描述注册表中的一个模型。
//
// Name 为注册名，同时用于选择提示词模板，例如 "gpt-4.1"、"groq/llama-3.3-70b-versatile"；
// Model 为发给服务端的模型 ID。APIKey 为空时从 APIKeyEnv 指定的环境变量读取。
type ModelConfig struct {
	Name        string        `mapstructure:"name"`
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	APIKeyEnv   string        `mapstructure:"api_key_env"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ResolvedAPIKey 返回最终使用的 API Key。
func (c ModelConfig) ResolvedAPIKey() string {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key
	}
	if c.APIKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
	}
	return ""
}

// DefaultModels 返回内置的两个候选模型：OpenAI gpt-4.1 与 Groq 上的 llama-3.3-70b。
func DefaultModels() []ModelConfig {
	return []ModelConfig{
		{
			Name:      "gpt-4.1",
			Provider:  ProviderOpenAI,
			Model:     "gpt-4.1",
			APIKeyEnv: "OPENAI_API_KEY",
			Timeout:   60 * time.Second,
		},
		{
			Name:      "groq/llama-3.3-70b-versatile",
			Provider:  ProviderOpenAI,
			Model:     "llama-3.3-70b-versatile",
			APIKeyEnv: "GROQ_API_KEY",
			BaseURL:   "https://api.groq.com/openai/v1",
			Timeout:   60 * time.Second,
		},
	}
}

// NewChatModel 按 provider 创建聊天模型
func NewChatModel(ctx context.Context, c ModelConfig) (model.BaseChatModel, error) {
	apiKey := c.ResolvedAPIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("model %s: api key is not set", c.Name)
	}
	if strings.TrimSpace(c.Model) == "" {
		return nil, fmt.Errorf("model %s: model id is not set", c.Name)
	}
	temperature := c.Temperature

	switch strings.ToLower(c.Provider) {
	case ProviderOpenAI, "":
		m, err := openaimodel.NewChatModel(ctx, &openaimodel.ChatModelConfig{
			BaseURL:     strings.TrimRight(c.BaseURL, "/"),
			APIKey:      apiKey,
			Model:       c.Model,
			Temperature: &temperature,
			Timeout:     c.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create openai chat model %s: %w", c.Name, err)
		}
		return m, nil
	case ProviderArk:
		conf := &ark.ChatModelConfig{
			APIKey:      apiKey,
			Model:       c.Model,
			BaseURL:     c.BaseURL,
			Temperature: &temperature,
		}
		if c.Timeout > 0 {
			timeout := c.Timeout
			conf.Timeout = &timeout
		}
		m, err := ark.NewChatModel(ctx, conf)
		if err != nil {
			return nil, fmt.Errorf("create ark chat model %s: %w", c.Name, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("model %s: unknown provider %q", c.Name, c.Provider)
	}
}

// Builder 创建单个模型，测试中可替换。
type Builder func(ctx context.Context, c ModelConfig) (model.BaseChatModel, error)

// Registry 按注册名懒加载模型，同名模型在多个 Agent 之间共享同一实例。
type Registry struct {
	configs map[string]ModelConfig
	build   Builder

	mu    sync.Mutex
	built map[string]model.BaseChatModel
}

// NewRegistry 创建注册表，build 为 nil 时使用 NewChatModel。
func NewRegistry(models []ModelConfig, build Builder) (*Registry, error) {
	if build == nil {
		build = NewChatModel
	}
	configs := make(map[string]ModelConfig, len(models))
	for _, m := range models {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return nil, fmt.Errorf("model registry: entry with model %q has no name", m.Model)
		}
		if _, dup := configs[name]; dup {
			return nil, fmt.Errorf("model registry: duplicate name %q", name)
		}
		configs[name] = m
	}
	return &Registry{configs: configs, build: build, built: map[string]model.BaseChatModel{}}, nil
}

// Has 判断注册表中是否有该名称。
func (r *Registry) Has(name string) bool {
	_, ok := r.configs[name]
	return ok
}

// Get 返回名称对应的模型实例
func (r *Registry) Get(ctx context.Context, name string) (model.BaseChatModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.built[name]; ok {
		return m, nil
	}
	c, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("model %q is not registered", name)
	}
	m, err := r.build(ctx, c)
	if err != nil {
		return nil, err
	}
	r.built[name] = m
	return m, nil
}

// Candidates 按 names 的顺序组装回退链。
//
// 单个模型创建失败（例如缺少 API Key）时跳过该候选；全部失败才返回错误，
// 这样只配置了一个服务商的 Key 也能运行。
func (r *Registry) Candidates(ctx context.Context, names []string) ([]agent.Candidate, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no candidate models configured")
	}
	out := make([]agent.Candidate, 0, len(names))
	var errs []string
	for _, name := range names {
		m, err := r.Get(ctx, name)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		out = append(out, agent.Candidate{Name: name, Model: m})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no usable candidate models: %s", strings.Join(errs, "; "))
	}
	return out, nil
}
