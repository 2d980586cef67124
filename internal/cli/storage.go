package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wwwzy/ShopAgent/internal/retention"
	"github.com/wwwzy/ShopAgent/internal/storage"
)

// storageCmd represents the storage command
var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "管理存储和数据库",
	Long:  `提供查看数据库概况、清理审计记录与过期检查点的命令。`,
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "显示数据库统计概况",
	Run:   runInfo,
}

// pruneAuditCmd represents the prune-audit command
var pruneAuditCmd = &cobra.Command{
	Use:   "prune-audit",
	Short: "清理审计记录",
	Long:  `根据用户指定的保留条数或天数，清理旧的工具审计记录。`,
	Run:   runPruneAudit,
}

// pruneCmd represents the prune command
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "根据配置文件立即执行一次保留策略",
	Long:  `忽略定时任务间隔，立即执行一次 retention 配置中的审计记录与检查点清理。`,
	Run:   runPrune,
}

var (
	keepAuditCount int
	keepAuditDays  int
)

func init() {
	pruneAuditCmd.Flags().IntVar(&keepAuditCount, "keep", 0, "保留最近的 N 条记录")
	pruneAuditCmd.Flags().IntVar(&keepAuditDays, "days", 0, "保留最近 N 天的记录")

	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(infoCmd)
	storageCmd.AddCommand(pruneAuditCmd)
	storageCmd.AddCommand(pruneCmd)
}

func openStoreOrExit(ctx context.Context) *storage.Storage {
	if cfg == nil {
		fmt.Println("Config not loaded")
		os.Exit(1)
	}
	fmt.Println("Opening database...")
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		fmt.Printf("Error opening database: %v\n", err)
		os.Exit(1)
	}
	return store
}

func runPruneAudit(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	if keepAuditCount <= 0 && keepAuditDays <= 0 {
		fmt.Println("Error: must specify either --keep or --days")
		_ = cmd.Usage()
		os.Exit(1)
	}

	store := openStoreOrExit(ctx)
	defer store.Close()

	var deletedCount int64

	if keepAuditCount > 0 {
		fmt.Printf("Pruning audit records, keeping latest %d records...\n", keepAuditCount)
		count, err := store.DeleteAuditRecordsKeepLatest(ctx, keepAuditCount)
		if err != nil {
			fmt.Printf("Error pruning by count: %v\n", err)
			os.Exit(1)
		}
		deletedCount += count
	}

	if keepAuditDays > 0 {
		before := time.Now().UTC().AddDate(0, 0, -keepAuditDays)
		fmt.Printf("Pruning audit records older than %d days (before %s)...\n", keepAuditDays, before.Format(time.RFC3339))
		count, err := store.DeleteAuditRecordsBefore(ctx, before)
		if err != nil {
			fmt.Printf("Error pruning by days: %v\n", err)
			os.Exit(1)
		}
		deletedCount += count
	}

	fmt.Printf("Prune completed. Deleted %d records.\n", deletedCount)

	if count, err := store.CountAuditRecords(ctx); err == nil {
		fmt.Printf("Remaining Audit Records: %d\n", count)
	}
}

func runPrune(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	store := openStoreOrExit(ctx)
	defer store.Close()

	policy := cfg.Retention
	fmt.Println("Starting prune job (this may take a while)...")
	fmt.Printf("Policy: AuditKeepFor=%s, CheckpointKeepFor=%s\n", policy.AuditKeepFor, policy.CheckpointKeepFor)

	collector, err := retention.NewCollector(store, policy, nil)
	if err != nil {
		fmt.Printf("Prune failed: %v\n", err)
		os.Exit(1)
	}
	res, err := collector.RunOnce(ctx, time.Now().UTC())
	if err != nil {
		fmt.Printf("Prune failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Prune completed. Deleted %d audit records, %d checkpoints.\n", res.AuditRecords, res.Checkpoints)

	if count, err := store.CountAuditRecords(ctx); err == nil {
		fmt.Printf("Remaining Audit Records: %d\n", count)
	}
	if count, err := store.CountCheckpoints(ctx); err == nil {
		fmt.Printf("Remaining Checkpoints: %d\n", count)
	}
}

func runInfo(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	if cfg == nil {
		fmt.Println("Config not loaded")
		os.Exit(1)
	}

	// 1. 获取数据库信息，postgres 只展示驱动
	var dbDesc string
	if cfg.Storage.Driver == storage.DriverPostgres {
		dbDesc = "postgres"
	} else {
		dbDesc = sqliteFileDesc(cfg.Storage.Path)
	}

	// 2. 连接数据库
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		fmt.Printf("Database: %s\n", dbDesc)
		fmt.Printf("Error opening database: %v\n", err)
		return
	}
	defer store.Close()

	// 3. 获取统计信息
	counts := []struct {
		table string
		count func(context.Context) (int64, error)
	}{
		{"CartItems", store.CountCartItems},
		{"Checkpoints", store.CountCheckpoints},
		{"Feedback", store.CountFeedback},
		{"AuditRecords", store.CountAuditRecords},
	}

	// 4. 格式化输出
	fmt.Printf("Database: %s\n\n", dbDesc)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Table\tCount")
	fmt.Fprintln(w, "-----\t-----")
	for _, c := range counts {
		n, err := c.count(ctx)
		if err != nil {
			fmt.Fprintf(w, "%s\terror: %v\n", c.table, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\n", c.table, n)
	}
	w.Flush()
}

func sqliteFileDesc(path string) string {
	if !filepath.IsAbs(path) {
		if absPath, err := filepath.Abs(path); err == nil {
			path = absPath
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "Not Found (Will be created on first run)"
		}
		return fmt.Sprintf("Error: %v", err)
	}
	sizeMB := float64(info.Size()) / 1024 / 1024
	return fmt.Sprintf("%.2f MB (%s)", sizeMB, path)
}
