package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wwwzy/ShopAgent/internal/api"
	"github.com/wwwzy/ShopAgent/internal/retention"
	"github.com/wwwzy/ShopAgent/internal/telemetry"
)

var serveAddr string

// serveCmd 启动 HTTP API 与后台保留策略任务
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 ShopAgent HTTP 服务",
	Long: `启动 ShopAgent HTTP 服务。
这将初始化数据库与检查点后端，构建 Agent 图，并对外提供 /rag 与 /submit_feedback 接口。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. 上下文用于优雅退出
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// 2. 装配组件
		fmt.Println("正在初始化存储与 Agent 引擎...")
		app, err := newApplication(ctx, cfg, appOptions{withEngine: true})
		if err != nil {
			return err
		}
		defer app.Close()

		// 3. 初始化 HTTP 服务
		srv := api.NewServer(app.service,
			api.WithLogger(app.logger.Named("api")),
			api.WithMetrics(app.metrics, app.registry),
			api.WithTracer(otel.Tracer(telemetry.TracerName)),
			api.WithHealthCheck(app.store.Ping),
		)
		serverCfg := cfg.Server
		if serveAddr != "" {
			serverCfg.Addr = serveAddr
		}

		g, gctx := errgroup.WithContext(ctx)

		// 4. 启动保留策略任务
		if cfg.Retention.Enabled {
			fmt.Println("正在启动保留策略任务...")
			retCfg := cfg.Retention
			retCfg.OnError = func(err error) {
				app.logger.Warn("retention run failed", zap.Error(err))
			}
			collector, err := retention.NewCollector(app.store, retCfg, app.logger.Named("retention"))
			if err != nil {
				return fmt.Errorf("创建保留策略任务失败: %w", err)
			}
			g.Go(func() error { return collector.Run(gctx) })
		}

		// 5. 启动 HTTP 服务
		g.Go(func() error { return srv.ListenAndServe(gctx, serverCfg) })
		fmt.Printf("ShopAgent 已启动，监听 %s。按 Ctrl+C 停止。\n", serverCfg.Addr)

		// 6. 等待退出
		err = g.Wait()
		if ctx.Err() != nil {
			fmt.Println("收到退出信号, 正在关闭...")
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("服务运行出错: %w", err)
		}
		fmt.Println("关闭完成。")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "监听地址，覆盖 server.addr")
}
