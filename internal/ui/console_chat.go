package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/wwwzy/ShopAgent/internal/cart"
)

type ConsoleChatUI struct {
	In  io.Reader
	Out io.Writer
}

func (u *ConsoleChatUI) Run(ctx context.Context, backend ChatBackend, opts ChatOptions) error {
	in := u.In
	if in == nil {
		return fmt.Errorf("console ui: In is nil")
	}
	out := u.Out
	if out == nil {
		return fmt.Errorf("console ui: Out is nil")
	}

	reader := bufio.NewReader(in)
	threadID := opts.ResolveThreadID()

	fmt.Fprintf(out, "进入 ShopAgent 对话模式（会话 %s）。输入 exit/quit 退出。\n", threadID)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "已退出。")
			return nil
		default:
		}

		fmt.Fprint(out, "你: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(out, "已退出。")
				return nil
			}
			return fmt.Errorf("读取输入失败: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch strings.ToLower(line) {
		case "exit", "quit":
			fmt.Fprintln(out, "已退出。")
			return nil
		}

		ans, err := backend.Ask(ctx, line, threadID)
		if err != nil {
			return err
		}

		answer := strings.TrimSpace(ans.Answer)
		if answer == "" {
			fmt.Fprintln(out, "助手: (无文本输出)")
		} else {
			fmt.Fprintf(out, "助手: %s\n", answer)
		}
		for _, img := range ans.UsedImages {
			fmt.Fprintf(out, "  - %s  %s  %s\n", formatPrice(img.Price), img.ImageURL, img.Description)
		}
		if opts.ShowCart {
			printCart(out, ans.ShoppingCart)
		}
		fmt.Fprintln(out)
	}
}

func printCart(w io.Writer, lines []cart.Line) {
	if len(lines) == 0 {
		fmt.Fprintln(w, "购物车: (空)")
		return
	}
	fmt.Fprintln(w, "购物车:")
	for _, l := range lines {
		fmt.Fprintf(w, "  %s x%d  %s  小计 %s\n", l.ProductID, l.Quantity, formatPrice(l.Price), formatPrice(l.TotalPrice))
	}
}

func formatPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("$%.2f", *p)
}
