package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wwwzy/ShopAgent/internal/cart"
	"github.com/wwwzy/ShopAgent/internal/storage"
)

var cartCmd = &cobra.Command{
	Use:   "cart",
	Short: "查看会话购物车",
}

var cartThread string

var cartListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出线程对应购物车中的商品",
	Long:  `购物车的用户 ID 与购物车 ID 均等于线程 ID。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		store, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("打开存储失败: %w", err)
		}
		defer store.Close()

		// 列表只读取持久化的价格，不需要商品目录
		lines, err := cart.New(store, nil).List(ctx, cartThread, cartThread)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			fmt.Println("购物车为空。")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "Product\tQty\tPrice\tTotal\tImage")
		fmt.Fprintln(w, "-------\t---\t-----\t-----\t-----")
		var sum float64
		for _, l := range lines {
			image := "-"
			if l.ProductImageURL != nil {
				image = *l.ProductImageURL
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", l.ProductID, l.Quantity, money(l.Price), money(l.TotalPrice), image)
			if l.TotalPrice != nil {
				sum += *l.TotalPrice
			}
		}
		fmt.Fprintf(w, "\t\t\t%s\t\n", money(&sum))
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(cartCmd)
	cartCmd.AddCommand(cartListCmd)
	cartListCmd.Flags().StringVar(&cartThread, "thread", "", "会话线程 ID")
	_ = cartListCmd.MarkFlagRequired("thread")
}

func money(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("$%.2f", *p)
}
