package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wwwzy/ShopAgent/internal/tui"
	"github.com/wwwzy/ShopAgent/internal/ui"
)

var (
	chatUI       string
	chatThread   string
	chatShowCart bool
	chatLogFile  string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "进入交互式对话模式",
	Long: `进入交互式对话，用自然语言查询商品、阅读评论并管理购物车。
同一个 --thread 下的多轮对话共享检查点与购物车；不指定时生成新的线程 ID。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigChan
			cancel()
		}()

		var uiImpl ui.ChatUI
		switch chatUI {
		case "console", "":
			uiImpl = &ui.ConsoleChatUI{In: os.Stdin, Out: os.Stdout}
		case "tui":
			uiImpl = &tui.ChatUI{}
		default:
			return fmt.Errorf("未知 ui 类型: %s (支持: console, tui)", chatUI)
		}

		// 日志写入文件，避免打断交互界面
		logCfg := cfg.Log
		if chatLogFile != "" {
			logCfg.OutputPaths = []string{chatLogFile}
		}
		app, err := newApplication(ctx, cfg, appOptions{withEngine: true, logConfig: &logCfg})
		if err != nil {
			return err
		}
		defer app.Close()

		return uiImpl.Run(ctx, app.service, ui.ChatOptions{
			ThreadID: chatThread,
			ShowCart: chatShowCart,
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatUI, "ui", "console", "交互界面类型: console/tui")
	chatCmd.Flags().StringVar(&chatThread, "thread", "", "会话线程 ID，留空则新建")
	chatCmd.Flags().BoolVar(&chatShowCart, "show-cart", true, "每轮回答后显示购物车")
	chatCmd.Flags().StringVar(&chatLogFile, "log-file", "shopagent-chat.log", "日志输出文件")
}
