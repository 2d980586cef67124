package ui

import (
	"context"

	"github.com/google/uuid"

	"github.com/wwwzy/ShopAgent/internal/service"
)

// ChatBackend 为对话界面依赖的业务接口，由 service.Service 实现。
type ChatBackend interface {
	Ask(ctx context.Context, query, threadID string) (*service.Answer, error)
}

type ChatUI interface {
	Run(ctx context.Context, backend ChatBackend, opts ChatOptions) error
}

type ChatOptions struct {
	// ThreadID 为会话线程，同时作为购物车归属；为空时生成新的线程。
	ThreadID string
	// ShowCart 每轮回答后打印购物车内容。
	ShowCart bool
}

// ResolveThreadID 返回 opts 中的线程 ID，为空时生成一个
func (o ChatOptions) ResolveThreadID() string {
	if o.ThreadID != "" {
		return o.ThreadID
	}
	return uuid.NewString()
}
