package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/wwwzy/ShopAgent/internal/agent"
	"github.com/wwwzy/ShopAgent/internal/cart"
	"github.com/wwwzy/ShopAgent/internal/catalog"
	"github.com/wwwzy/ShopAgent/internal/checkpoint"
	"github.com/wwwzy/ShopAgent/internal/config"
	"github.com/wwwzy/ShopAgent/internal/llm"
	"github.com/wwwzy/ShopAgent/internal/logging"
	"github.com/wwwzy/ShopAgent/internal/service"
	"github.com/wwwzy/ShopAgent/internal/storage"
	"github.com/wwwzy/ShopAgent/internal/telemetry"
	"github.com/wwwzy/ShopAgent/internal/toolserver"
)

const metricsNamespace = "shopagent"

// catalogBackend 为商品目录后端需要同时提供的能力。
type catalogBackend interface {
	catalog.Retriever
	catalog.Lookup
}

// application 持有一次命令执行期间创建的全部组件，Close 按创建的逆序释放。
type application struct {
	logger    *zap.Logger
	providers *telemetry.Providers
	registry  *prometheus.Registry
	metrics   *telemetry.Metrics

	store       *storage.Storage
	checkpoints checkpoint.Store
	catalog     catalogBackend
	cart        *cart.Cart
	engine      *agent.Engine
	service     *service.Service

	closers []func() error
}

// appOptions 控制装配到哪一步，storage 子命令不需要模型和目录。
type appOptions struct {
	withEngine bool
	logConfig  *logging.Config
}

// newApplication 按配置装配组件：
// 1. 日志、追踪与指标
// 2. 关系库与检查点后端
// 3. 商品目录与购物车
// 4. 模型注册表、提示词、远程工具客户端与 Agent 引擎
func newApplication(ctx context.Context, c *config.Config, opts appOptions) (_ *application, err error) {
	if c == nil {
		return nil, errors.New("config not loaded")
	}
	app := &application{}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	// 1. 可观测性
	logCfg := c.Log
	if opts.logConfig != nil {
		logCfg = *opts.logConfig
	}
	app.logger = logging.New(logCfg)
	app.closers = append(app.closers, func() error {
		_ = app.logger.Sync()
		return nil
	})

	app.providers, err = telemetry.Init(ctx, c.Telemetry, app.logger)
	if err != nil {
		return nil, fmt.Errorf("初始化追踪失败: %w", err)
	}
	app.closers = append(app.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return app.providers.Shutdown(shutdownCtx)
	})

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.metrics = telemetry.NewMetrics(metricsNamespace, app.registry)

	// 2. 存储
	app.store, err = storage.Open(ctx, c.Storage)
	if err != nil {
		return nil, fmt.Errorf("打开存储失败: %w", err)
	}
	app.closers = append(app.closers, app.store.Close)

	var closeCheckpoints func() error
	app.checkpoints, closeCheckpoints, err = checkpoint.Open(ctx, c.Checkpoint, app.store, app.logger)
	if err != nil {
		return nil, fmt.Errorf("打开检查点后端失败: %w", err)
	}
	app.closers = append(app.closers, closeCheckpoints)

	if !opts.withEngine {
		return app, nil
	}

	// 3. 商品目录与购物车
	app.catalog, err = openCatalog(c.Catalog, app)
	if err != nil {
		return nil, err
	}
	app.cart = cart.New(app.store, app.catalog)
	localTools, err := app.cart.Tools()
	if err != nil {
		return nil, fmt.Errorf("创建购物车工具失败: %w", err)
	}

	// 4. 模型与引擎
	registry, err := llm.NewRegistry(c.Models, nil)
	if err != nil {
		return nil, fmt.Errorf("创建模型注册表失败: %w", err)
	}
	coordinator, err := registry.Candidates(ctx, c.Agents.Coordinator)
	if err != nil {
		return nil, fmt.Errorf("coordinator 模型不可用: %w", err)
	}
	productQA, err := registry.Candidates(ctx, c.Agents.ProductQA)
	if err != nil {
		return nil, fmt.Errorf("product_qa 模型不可用: %w", err)
	}
	shoppingCart, err := registry.Candidates(ctx, c.Agents.ShoppingCart)
	if err != nil {
		return nil, fmt.Errorf("shopping_cart 模型不可用: %w", err)
	}

	prompts, err := agent.LoadPrompts(c.Prompts.File)
	if err != nil {
		return nil, fmt.Errorf("加载提示词失败: %w", err)
	}

	remote := toolserver.New(
		toolserver.WithLogger(app.logger.Named("toolserver")),
		toolserver.WithTimeout(c.ToolServers.Timeout),
	)

	app.engine, err = agent.NewEngine(ctx, agent.Config{
		Coordinator:  coordinator,
		ProductQA:    productQA,
		ShoppingCart: shoppingCart,
		Prompts:      prompts,
		Remote:       remote,
		Discoverer:   remote,
		ToolServers:  c.ToolServers.Servers,
		LocalTools:   localTools,
		Checkpoints:  app.checkpoints,
		Audit:        app.store,
		Logger:       app.logger.Named("agent"),
		Metrics:      app.metrics,
		Tracer:       otel.Tracer(telemetry.TracerName),
		MaxSteps:     c.Engine.MaxSteps,
	})
	if err != nil {
		return nil, fmt.Errorf("构建 Agent 引擎失败: %w", err)
	}

	app.service, err = service.New(service.Config{
		Runner:   timedRunner{engine: app.engine, timeout: c.Engine.RunTimeout},
		Cart:     app.cart,
		Catalog:  app.catalog,
		Feedback: app.store,
		Logger:   app.logger.Named("service"),
	})
	if err != nil {
		return nil, fmt.Errorf("创建服务失败: %w", err)
	}
	return app, nil
}

func openCatalog(c config.CatalogConfig, app *application) (catalogBackend, error) {
	switch c.Backend {
	case config.CatalogMemory:
		m, err := catalog.LoadFixture(c.Fixture)
		if err != nil {
			return nil, fmt.Errorf("加载商品目录失败: %w", err)
		}
		app.logger.Info("catalog ready", zap.String("backend", config.CatalogMemory), zap.String("fixture", c.Fixture))
		return m, nil
	case config.CatalogQdrant, "":
		embedder, err := catalog.NewOpenAIEmbedder(c.Embedding)
		if err != nil {
			return nil, fmt.Errorf("创建向量化客户端失败: %w", err)
		}
		q, err := catalog.NewQdrantCatalog(c.Qdrant, embedder)
		if err != nil {
			return nil, fmt.Errorf("连接 Qdrant 失败: %w", err)
		}
		app.closers = append(app.closers, q.Close)
		app.logger.Info("catalog ready", zap.String("backend", config.CatalogQdrant), zap.String("items", c.Qdrant.ItemsCollection))
		return q, nil
	default:
		return nil, fmt.Errorf("未知商品目录后端: %s", c.Backend)
	}
}

// Close 释放所有组件，对重复调用安全。
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("close component failed", zap.Error(err))
		}
	}
	a.closers = nil
}

// timedRunner 为每次运行加上 engine.run_timeout 限制。
type timedRunner struct {
	engine  *agent.Engine
	timeout time.Duration
}

func (r timedRunner) Run(ctx context.Context, req agent.Request) (*agent.Result, error) {
	ctx, cancel := withRunTimeout(ctx, r.timeout)
	defer cancel()
	return r.engine.Run(ctx, req)
}

func withRunTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
