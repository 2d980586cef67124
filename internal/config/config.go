package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wwwzy/ShopAgent/internal/api"
	"github.com/wwwzy/ShopAgent/internal/catalog"
	"github.com/wwwzy/ShopAgent/internal/catalogserver"
	"github.com/wwwzy/ShopAgent/internal/checkpoint"
	"github.com/wwwzy/ShopAgent/internal/llm"
	"github.com/wwwzy/ShopAgent/internal/logging"
	"github.com/wwwzy/ShopAgent/internal/retention"
	"github.com/wwwzy/ShopAgent/internal/storage"
	"github.com/wwwzy/ShopAgent/internal/telemetry"
	"github.com/wwwzy/ShopAgent/internal/toolserver"
)

const (
	CatalogQdrant = "qdrant"
	CatalogMemory = "memory"

	// ArkModelName 为由 ark.* 配置自动注册的模型名。
	ArkModelName = "ark"
)

// ArkConfig 火山引擎方舟模型。设置 model_id 后自动注册名为 "ark" 的候选模型。
type ArkConfig struct {
	APIKey  string `mapstructure:"api_key"`
	ModelID string `mapstructure:"model_id"`
	BaseURL string `mapstructure:"base_url"`
}

// AgentsConfig 为每个 Agent 的候选模型名，按顺序回退。
type AgentsConfig struct {
	Coordinator  []string `mapstructure:"coordinator"`
	ProductQA    []string `mapstructure:"product_qa"`
	ShoppingCart []string `mapstructure:"shopping_cart"`
}

type PromptsConfig struct {
	// File 为可选的提示词 YAML，按 Agent 与模型名覆盖内置模板。
	File string `mapstructure:"file"`
}

type EngineConfig struct {
	MaxSteps   int           `mapstructure:"max_steps"`
	RunTimeout time.Duration `mapstructure:"run_timeout"`
}

type CatalogConfig struct {
	// Backend 为 qdrant（默认）或 memory；memory 从 Fixture 文件加载。
	Backend   string                  `mapstructure:"backend"`
	Fixture   string                  `mapstructure:"fixture"`
	Qdrant    catalog.QdrantConfig    `mapstructure:"qdrant"`
	Embedding catalog.EmbeddingConfig `mapstructure:"embedding"`
}

type Config struct {
	Log         logging.Config       `mapstructure:"log"`
	Storage     storage.Config       `mapstructure:"storage"`
	Checkpoint  checkpoint.Config    `mapstructure:"checkpoint"`
	Models      []llm.ModelConfig    `mapstructure:"models"`
	Ark         ArkConfig            `mapstructure:"ark"`
	Agents      AgentsConfig         `mapstructure:"agents"`
	Prompts     PromptsConfig        `mapstructure:"prompts"`
	Engine      EngineConfig         `mapstructure:"engine"`
	ToolServers toolserver.Config    `mapstructure:"toolservers"`
	Catalog     CatalogConfig        `mapstructure:"catalog"`
	Server      api.Config           `mapstructure:"server"`
	MCPServer   catalogserver.Config `mapstructure:"mcpserver"`
	Telemetry   telemetry.Config     `mapstructure:"telemetry"`
	Retention   retention.Config     `mapstructure:"retention"`
}

func Load(cfgFile string) (*Config, error) {
	// 1. 初始化 Viper
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.shopagent")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SHOPAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal 只会处理 viper 已知的 key，因此所有 key 都需要默认值或显式绑定
	setDefaults(v)

	// 2. 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	// 3. 反序列化 (文件/环境变量 覆盖 默认值)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.registerArk()

	// 4. 验证关键配置
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// registerArk 在设置了 ark.model_id 且注册表中没有同名模型时追加 ark 模型
func (c *Config) registerArk() {
	if strings.TrimSpace(c.Ark.ModelID) == "" {
		return
	}
	for _, m := range c.Models {
		if m.Name == ArkModelName {
			return
		}
	}
	c.Models = append(c.Models, llm.ModelConfig{
		Name:      ArkModelName,
		Provider:  llm.ProviderArk,
		Model:     c.Ark.ModelID,
		APIKey:    c.Ark.APIKey,
		APIKeyEnv: "ARK_API_KEY",
		BaseURL:   c.Ark.BaseURL,
		Timeout:   60 * time.Second,
	})
}

func (c *Config) Validate() error {
	known := make(map[string]llm.ModelConfig, len(c.Models))
	for _, m := range c.Models {
		if strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("models: every model needs a name")
		}
		if strings.TrimSpace(m.Model) == "" {
			return fmt.Errorf("models.%s: model id is required", m.Name)
		}
		known[m.Name] = m
	}

	agents := map[string][]string{
		"coordinator":   c.Agents.Coordinator,
		"product_qa":    c.Agents.ProductQA,
		"shopping_cart": c.Agents.ShoppingCart,
	}
	for agentName, names := range agents {
		if len(names) == 0 {
			return fmt.Errorf("agents.%s: at least one model is required", agentName)
		}
		for _, n := range names {
			if _, ok := known[n]; !ok {
				return fmt.Errorf("agents.%s: unknown model %q", agentName, n)
			}
		}
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "", storage.DriverSQLite:
	case storage.DriverPostgres:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("storage.dsn is required for postgres (or set POSTGRES_CONN_STRING env var)")
		}
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}

	switch c.Checkpoint.Backend {
	case "", checkpoint.BackendDB:
	case checkpoint.BackendRedis:
		if strings.TrimSpace(c.Checkpoint.Redis.Addr) == "" {
			return fmt.Errorf("checkpoint.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("checkpoint.backend: unknown backend %q", c.Checkpoint.Backend)
	}

	switch c.Catalog.Backend {
	case "", CatalogQdrant:
	case CatalogMemory:
		if strings.TrimSpace(c.Catalog.Fixture) == "" {
			return fmt.Errorf("catalog.fixture is required for the memory backend")
		}
	default:
		return fmt.Errorf("catalog.backend: unknown backend %q", c.Catalog.Backend)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// -------------------------------------------------------------------------
	// Log
	// -------------------------------------------------------------------------
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output_paths", d.Log.OutputPaths)

	// -------------------------------------------------------------------------
	// Storage (存储默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.in_memory", false)
	v.SetDefault("storage.enable_wal", d.Storage.EnableWAL)
	v.SetDefault("storage.busy_timeout", d.Storage.BusyTimeout)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.max_open_conns", 0)
	v.SetDefault("storage.max_idle_conns", 0)
	v.SetDefault("storage.conn_max_lifetime", 0)
	v.BindEnv("storage.dsn", "SHOPAGENT_STORAGE_DSN", "POSTGRES_CONN_STRING")

	// -------------------------------------------------------------------------
	// Checkpoint (检查点默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("checkpoint.backend", d.Checkpoint.Backend)
	v.SetDefault("checkpoint.redis.addr", d.Checkpoint.Redis.Addr)
	v.SetDefault("checkpoint.redis.password", "")
	v.SetDefault("checkpoint.redis.db", 0)
	v.SetDefault("checkpoint.redis.key_prefix", d.Checkpoint.Redis.KeyPrefix)
	v.SetDefault("checkpoint.redis.ttl", d.Checkpoint.Redis.TTL)

	// -------------------------------------------------------------------------
	// Models & Agents (模型默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("models", d.Models)
	v.SetDefault("agents.coordinator", d.Agents.Coordinator)
	v.SetDefault("agents.product_qa", d.Agents.ProductQA)
	v.SetDefault("agents.shopping_cart", d.Agents.ShoppingCart)
	v.SetDefault("prompts.file", "")

	v.SetDefault("ark.api_key", "")
	v.SetDefault("ark.model_id", "")
	v.SetDefault("ark.base_url", d.Ark.BaseURL)
	v.BindEnv("ark.api_key", "ARK_API_KEY")
	v.BindEnv("ark.model_id", "ARK_MODEL_ID")
	v.BindEnv("ark.base_url", "ARK_BASE_URL")

	// -------------------------------------------------------------------------
	// Engine & Tool servers
	// -------------------------------------------------------------------------
	v.SetDefault("engine.max_steps", d.Engine.MaxSteps)
	v.SetDefault("engine.run_timeout", d.Engine.RunTimeout)
	v.SetDefault("toolservers.servers", d.ToolServers.Servers)
	v.SetDefault("toolservers.timeout", d.ToolServers.Timeout)

	// -------------------------------------------------------------------------
	// Catalog (检索默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("catalog.backend", d.Catalog.Backend)
	v.SetDefault("catalog.fixture", "")
	v.SetDefault("catalog.qdrant.url", "")
	v.SetDefault("catalog.qdrant.host", d.Catalog.Qdrant.Host)
	v.SetDefault("catalog.qdrant.port", d.Catalog.Qdrant.Port)
	v.SetDefault("catalog.qdrant.api_key", "")
	v.SetDefault("catalog.qdrant.tls", false)
	v.SetDefault("catalog.qdrant.items_collection", d.Catalog.Qdrant.ItemsCollection)
	v.SetDefault("catalog.qdrant.reviews_collection", d.Catalog.Qdrant.ReviewsCollection)
	v.SetDefault("catalog.embedding.model", d.Catalog.Embedding.Model)
	v.SetDefault("catalog.embedding.api_key", "")
	v.SetDefault("catalog.embedding.base_url", "")
	v.BindEnv("catalog.qdrant.url", "SHOPAGENT_CATALOG_QDRANT_URL", "QDRANT_URL")
	v.BindEnv("catalog.embedding.api_key", "SHOPAGENT_CATALOG_EMBEDDING_API_KEY", "OPENAI_API_KEY")

	// -------------------------------------------------------------------------
	// Servers
	// -------------------------------------------------------------------------
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("mcpserver.addr", d.MCPServer.Addr)

	// -------------------------------------------------------------------------
	// Telemetry
	// -------------------------------------------------------------------------
	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("telemetry.sample_rate", d.Telemetry.SampleRate)

	// -------------------------------------------------------------------------
	// Retention (数据清理默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("retention.enabled", d.Retention.Enabled)
	v.SetDefault("retention.interval", d.Retention.Interval)
	v.SetDefault("retention.workers", d.Retention.Workers)
	v.SetDefault("retention.batch_rows", d.Retention.BatchRows)
	v.SetDefault("retention.idle_sleep", d.Retention.IdleSleep)
	v.SetDefault("retention.audit_keep_for", d.Retention.AuditKeepFor)
	v.SetDefault("retention.checkpoint_keep_for", d.Retention.CheckpointKeepFor)
}

func DefaultConfig() Config {
	defaultCandidates := []string{"gpt-4.1", "groq/llama-3.3-70b-versatile"}
	return Config{
		Log: logging.Config{Level: "info", Format: "json", OutputPaths: []string{"stderr"}},
		Storage: storage.Config{
			Driver:      storage.DriverSQLite,
			Path:        "shopagent.db",
			EnableWAL:   true,
			BusyTimeout: 5 * time.Second,
		},
		Checkpoint: checkpoint.Config{
			Backend: checkpoint.BackendDB,
			Redis: checkpoint.RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "shopagent:",
				TTL:       7 * 24 * time.Hour,
			},
		},
		Models: llm.DefaultModels(),
		Ark:    ArkConfig{BaseURL: "https://ark.cn-beijing.volces.com/api/v3"},
		Agents: AgentsConfig{
			Coordinator:  defaultCandidates,
			ProductQA:    defaultCandidates,
			ShoppingCart: defaultCandidates,
		},
		Engine: EngineConfig{MaxSteps: 100, RunTimeout: 3 * time.Minute},
		ToolServers: toolserver.Config{
			Servers: []string{"http://items_mcp_server:8000/mcp", "http://reviews_mcp_server:8000/mcp"},
			Timeout: toolserver.DefaultTimeout,
		},
		Catalog: CatalogConfig{
			Backend: CatalogQdrant,
			Qdrant: catalog.QdrantConfig{
				Host:              "localhost",
				Port:              6334,
				ItemsCollection:   catalog.DefaultItemsCollection,
				ReviewsCollection: catalog.DefaultReviewsCollection,
			},
			Embedding: catalog.EmbeddingConfig{Model: catalog.DefaultEmbeddingModel},
		},
		Server: api.Config{
			Addr:         api.DefaultAddr,
			ReadTimeout:  api.DefaultReadTimeout,
			WriteTimeout: api.DefaultWriteTimeout,
		},
		MCPServer: catalogserver.Config{Addr: catalogserver.DefaultAddr},
		Telemetry: telemetry.Config{ServiceName: "shopagent", SampleRate: 1},
		Retention: retention.DefaultConfig(),
	}
}
