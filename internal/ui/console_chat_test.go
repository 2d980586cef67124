package ui

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/ShopAgent/internal/cart"
	"github.com/wwwzy/ShopAgent/internal/service"
)

type echoBackend struct {
	threads []string
}

func (b *echoBackend) Ask(ctx context.Context, query, threadID string) (*service.Answer, error) {
	b.threads = append(b.threads, threadID)
	p, total := 9.99, 19.98
	return &service.Answer{
		Answer:       "echo: " + query,
		UsedImages:   []service.ImageRef{{ImageURL: "https://img/x.jpg", Price: &p, Description: "bag"}},
		ShoppingCart: []cart.Line{{ProductID: "X", Quantity: 2, Price: &p, TotalPrice: &total}},
	}, nil
}

func TestConsoleChat(t *testing.T) {
	var out bytes.Buffer
	u := &ConsoleChatUI{In: strings.NewReader("hello\n\nadd X\nquit\n"), Out: &out}
	b := &echoBackend{}

	require.NoError(t, u.Run(context.Background(), b, ChatOptions{ThreadID: "t1", ShowCart: true}))

	text := out.String()
	assert.Contains(t, text, "会话 t1")
	assert.Contains(t, text, "助手: echo: hello")
	assert.Contains(t, text, "助手: echo: add X")
	assert.Contains(t, text, "$9.99  https://img/x.jpg  bag")
	assert.Contains(t, text, "X x2  $9.99  小计 $19.98")
	assert.Equal(t, []string{"t1", "t1"}, b.threads)
}

func TestConsoleChatEOF(t *testing.T) {
	var out bytes.Buffer
	u := &ConsoleChatUI{In: strings.NewReader(""), Out: &out}
	require.NoError(t, u.Run(context.Background(), &echoBackend{}, ChatOptions{}))
	assert.Contains(t, out.String(), "已退出。")
}

func TestResolveThreadID(t *testing.T) {
	assert.Equal(t, "abc", ChatOptions{ThreadID: "abc"}.ResolveThreadID())
	assert.NotEmpty(t, ChatOptions{}.ResolveThreadID())
}
