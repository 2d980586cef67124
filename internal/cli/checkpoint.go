package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wwwzy/ShopAgent/internal/agent"
	"github.com/wwwzy/ShopAgent/internal/checkpoint"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "查看或恢复会话检查点",
}

var checkpointThread string

var checkpointShowCmd = &cobra.Command{
	Use:   "show",
	Short: "显示线程最近一次检查点",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		app, err := newApplication(ctx, cfg, appOptions{})
		if err != nil {
			return err
		}
		defer app.Close()

		rec, err := app.checkpoints.Get(ctx, checkpointThread)
		if err != nil {
			if errors.Is(err, checkpoint.ErrNotFound) {
				fmt.Printf("线程 %s 没有检查点。\n", checkpointThread)
				return nil
			}
			return err
		}

		var s agent.State
		if err := json.Unmarshal(rec.State, &s); err != nil {
			return fmt.Errorf("解析检查点失败: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintf(w, "Thread\t%s\n", rec.ThreadID)
		fmt.Fprintf(w, "Status\t%s\n", rec.Status)
		fmt.Fprintf(w, "NextNode\t%s\n", orDash(rec.NextNode))
		fmt.Fprintf(w, "UpdatedAt\t%s\n", rec.UpdatedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "TraceID\t%s\n", orDash(s.TraceID))
		fmt.Fprintf(w, "Messages\t%d\n", len(s.Messages))
		fmt.Fprintf(w, "NextAgent\t%s\n", orDash(s.NextAgent))
		fmt.Fprintf(w, "Plan\t%d step(s)\n", len(s.Plan))
		if err := w.Flush(); err != nil {
			return err
		}
		if s.Answer != "" {
			fmt.Printf("\nAnswer:\n%s\n", s.Answer)
		}
		return nil
	},
}

var checkpointResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "从最近一次检查点继续执行被中断的运行",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := newApplication(ctx, cfg, appOptions{withEngine: true})
		if err != nil {
			return err
		}
		defer app.Close()

		runCtx, cancel := withRunTimeout(ctx, cfg.Engine.RunTimeout)
		defer cancel()

		fmt.Printf("正在恢复线程 %s ...\n", checkpointThread)
		res, err := app.engine.Resume(runCtx, checkpointThread)
		if err != nil {
			if errors.Is(err, agent.ErrNothingToResume) {
				fmt.Printf("线程 %s 没有未完成的运行。\n", checkpointThread)
				return nil
			}
			return fmt.Errorf("恢复失败: %w", err)
		}
		fmt.Printf("运行结束 (%s), trace_id=%s\n\n%s\n", res.Termination, res.TraceID, res.Answer)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointShowCmd, checkpointResumeCmd)
	checkpointCmd.PersistentFlags().StringVar(&checkpointThread, "thread", "", "会话线程 ID")
	_ = checkpointCmd.MarkPersistentFlagRequired("thread")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
