package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wwwzy/ShopAgent/internal/catalogserver"
	"github.com/wwwzy/ShopAgent/internal/logging"
)

var (
	mcpKind string
	mcpAddr string
)

// mcpServerCmd 以 MCP 协议对外暴露商品或评论检索工具
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "启动商品或评论检索 MCP 服务",
	Long: `启动一个 streamable HTTP MCP 服务，路径为 /mcp。
--kind items 提供 get_formatted_item_context，--kind reviews 提供 get_formatted_reviews_context。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app := &application{}
		defer app.Close()
		app.logger = logging.New(cfg.Log)

		retriever, err := openCatalog(cfg.Catalog, app)
		if err != nil {
			return err
		}

		s, err := catalogserver.New(mcpKind, retriever, app.logger.Named("mcp"))
		if err != nil {
			return err
		}

		addr := mcpAddr
		if addr == "" {
			addr = cfg.MCPServer.Addr
		}
		fmt.Printf("MCP 服务 (%s) 已启动，监听 %s/mcp。按 Ctrl+C 停止。\n", mcpKind, addr)
		if err := catalogserver.Serve(ctx, addr, s, app.logger.Named("mcp")); err != nil {
			return fmt.Errorf("MCP 服务运行出错: %w", err)
		}
		fmt.Println("关闭完成。")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mcpServerCmd)
	mcpServerCmd.Flags().StringVar(&mcpKind, "kind", catalogserver.KindItems, "服务类型: items/reviews")
	mcpServerCmd.Flags().StringVar(&mcpAddr, "addr", "", "监听地址，覆盖 mcpserver.addr")
}
