package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/ShopAgent/internal/checkpoint"
	"github.com/wwwzy/ShopAgent/internal/llm"
	"github.com/wwwzy/ShopAgent/internal/storage"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ARK_MODEL_ID", "")

	// 测试加载默认值（不提供配置文件）
	cfg, err := Load("")
	assert.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, storage.DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "shopagent.db", cfg.Storage.Path)
	assert.Equal(t, checkpoint.BackendDB, cfg.Checkpoint.Backend)
	assert.Equal(t, []string{"gpt-4.1", "groq/llama-3.3-70b-versatile"}, cfg.Agents.Coordinator)
	assert.Equal(t, []string{"http://items_mcp_server:8000/mcp", "http://reviews_mcp_server:8000/mcp"}, cfg.ToolServers.Servers)
	assert.Equal(t, 30*time.Second, cfg.ToolServers.Timeout)
	assert.Equal(t, "Amazon-items-collection-02-items", cfg.Catalog.Qdrant.ItemsCollection)
	assert.Equal(t, "text-embedding-3-small", cfg.Catalog.Embedding.Model)
	require.Len(t, cfg.Models, 2)
	assert.Equal(t, "gpt-4.1", cfg.Models[0].Name)
	assert.Equal(t, 100, cfg.Engine.MaxSteps)
	// 检查点保存会话历史，默认不清理
	assert.Equal(t, time.Duration(0), cfg.Retention.CheckpointKeepFor)
	assert.Equal(t, 30*24*time.Hour, cfg.Retention.AuditKeepFor)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: "debug"
  format: "console"
storage:
  path: "test.db"
  busy_timeout: "10s"
checkpoint:
  backend: "redis"
  redis:
    addr: "redis:6379"
    ttl: "1h"
models:
  - name: "local"
    provider: "openai"
    model: "qwen2.5"
    base_url: "http://localhost:11434/v1"
    timeout: "20s"
agents:
  coordinator: ["local"]
  product_qa: ["local"]
  shopping_cart: ["local"]
retention:
  audit_keep_for: "48h"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "test.db", cfg.Storage.Path)
	assert.Equal(t, 10*time.Second, cfg.Storage.BusyTimeout)
	assert.Equal(t, checkpoint.BackendRedis, cfg.Checkpoint.Backend)
	assert.Equal(t, "redis:6379", cfg.Checkpoint.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.Checkpoint.Redis.TTL)
	require.Len(t, cfg.Models, 1)
	assert.Equal(t, llm.ModelConfig{Name: "local", Provider: "openai", Model: "qwen2.5", BaseURL: "http://localhost:11434/v1", Timeout: 20 * time.Second}, cfg.Models[0])
	assert.Equal(t, 48*time.Hour, cfg.Retention.AuditKeepFor)

	// 验证未覆盖的字段保持默认值
	assert.Equal(t, "shopagent:", cfg.Checkpoint.Redis.KeyPrefix)
	assert.Equal(t, DefaultConfig().Retention.Interval, cfg.Retention.Interval)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SHOPAGENT_LOG_LEVEL", "warn")
	t.Setenv("SHOPAGENT_STORAGE_PATH", "env.db")
	t.Setenv("SHOPAGENT_ENGINE_RUN_TIMEOUT", "5m")
	t.Setenv("QDRANT_URL", "http://qdrant:6333")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("POSTGRES_CONN_STRING", "postgres://u:p@db:5432/shop")
	t.Setenv("SHOPAGENT_STORAGE_DRIVER", "postgres")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "env.db", cfg.Storage.Path)
	assert.Equal(t, 5*time.Minute, cfg.Engine.RunTimeout)
	assert.Equal(t, "http://qdrant:6333", cfg.Catalog.Qdrant.URL)
	assert.Equal(t, "sk-test", cfg.Catalog.Embedding.APIKey)
	assert.Equal(t, storage.DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://u:p@db:5432/shop", cfg.Storage.DSN)
}

func TestLoad_ArkRegistersModel(t *testing.T) {
	t.Setenv("ARK_API_KEY", "ark-key")
	t.Setenv("ARK_MODEL_ID", "doubao-pro")

	path := writeConfig(t, `
agents:
  coordinator: ["ark", "gpt-4.1"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Models, 3)
	ark := cfg.Models[2]
	assert.Equal(t, ArkModelName, ark.Name)
	assert.Equal(t, llm.ProviderArk, ark.Provider)
	assert.Equal(t, "doubao-pro", ark.Model)
	assert.Equal(t, "ark-key", ark.APIKey)
	assert.Equal(t, []string{"ark", "gpt-4.1"}, cfg.Agents.Coordinator)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, storage.Config{Driver: storage.DriverSQLite, Path: "shopagent.db", EnableWAL: true, BusyTimeout: 5 * time.Second}, cfg.Storage)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown candidate", func(c *Config) { c.Agents.ProductQA = []string{"missing"} }, `agents.product_qa: unknown model "missing"`},
		{"empty candidates", func(c *Config) { c.Agents.ShoppingCart = nil }, "agents.shopping_cart: at least one model is required"},
		{"model without id", func(c *Config) { c.Models[0].Model = "" }, "models.gpt-4.1: model id is required"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, `storage.driver: unknown driver "mysql"`},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = storage.DriverPostgres }, "storage.dsn is required"},
		{"unknown checkpoint", func(c *Config) { c.Checkpoint.Backend = "etcd" }, `checkpoint.backend: unknown backend "etcd"`},
		{"memory catalog without fixture", func(c *Config) { c.Catalog.Backend = CatalogMemory }, "catalog.fixture is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
