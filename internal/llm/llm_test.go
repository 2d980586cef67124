package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubModel struct{ name string }

func (m *stubModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage(m.name, nil), nil
}

func (m *stubModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func TestResolvedAPIKey(t *testing.T) {
	t.Setenv("SHOPAGENT_TEST_KEY", " env-key ")

	assert.Equal(t, "inline", ModelConfig{APIKey: "inline", APIKeyEnv: "SHOPAGENT_TEST_KEY"}.ResolvedAPIKey())
	assert.Equal(t, "env-key", ModelConfig{APIKeyEnv: "SHOPAGENT_TEST_KEY"}.ResolvedAPIKey())
	assert.Equal(t, "", ModelConfig{}.ResolvedAPIKey())
}

func TestNewChatModel(t *testing.T) {
	ctx := context.Background()

	_, err := NewChatModel(ctx, ModelConfig{Name: "x", Provider: ProviderOpenAI, Model: "gpt-4.1"})
	assert.Error(t, err, "missing api key")

	_, err = NewChatModel(ctx, ModelConfig{Name: "x", Provider: "anthropic", Model: "m", APIKey: "k"})
	assert.Error(t, err)

	m, err := NewChatModel(ctx, ModelConfig{Name: "gpt-4.1", Provider: ProviderOpenAI, Model: "gpt-4.1", APIKey: "test-key"})
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestRegistry_CandidatesKeepOrderAndSkipBroken(t *testing.T) {
	builds := 0
	build := func(ctx context.Context, c ModelConfig) (model.BaseChatModel, error) {
		builds++
		if c.Name == "broken" {
			return nil, errors.New("no key")
		}
		return &stubModel{name: c.Name}, nil
	}
	reg, err := NewRegistry([]ModelConfig{{Name: "a"}, {Name: "broken"}, {Name: "b"}}, build)
	require.NoError(t, err)

	cands, err := reg.Candidates(context.Background(), []string{"b", "broken", "a"})
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "b", cands[0].Name)
	assert.Equal(t, "a", cands[1].Name)

	// 同名模型复用
	_, err = reg.Candidates(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 3, builds)

	_, err = reg.Candidates(context.Background(), []string{"broken"})
	assert.Error(t, err)
	_, err = reg.Candidates(context.Background(), []string{"missing"})
	assert.Error(t, err)
	assert.True(t, reg.Has("a"))
	assert.False(t, reg.Has("missing"))
}

func TestNewRegistry_RejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]ModelConfig{{Name: "a"}, {Name: "a"}}, nil)
	assert.Error(t, err)
	_, err = NewRegistry([]ModelConfig{{Model: "gpt-4.1"}}, nil)
	assert.Error(t, err)
}

func TestDefaultModels(t *testing.T) {
	models := DefaultModels()
	require.Len(t, models, 2)
	assert.Equal(t, "gpt-4.1", models[0].Name)
	assert.Equal(t, "groq/llama-3.3-70b-versatile", models[1].Name)
	assert.Equal(t, float32(0), models[0].Temperature)
}
