package agent

import (
	"context"
)

type traceIDKey struct{}

type cartScopeKey struct{}

// WithTraceID 将 TraceID 注入 context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// GetTraceID 从 context 获取 TraceID
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey{}).(string); ok {
		return v
	}
	return ""
}

// CartScope 为本地购物车工具的归属标识，由工具节点从会话状态注入。
type CartScope struct {
	UserID string
	CartID string
}

// WithCartScope 将购物车归属注入 context
func WithCartScope(ctx context.Context, scope CartScope) context.Context {
	return context.WithValue(ctx, cartScopeKey{}, scope)
}

// GetCartScope 从 context 获取购物车归属
func GetCartScope(ctx context.Context) (CartScope, bool) {
	v, ok := ctx.Value(cartScopeKey{}).(CartScope)
	return v, ok
}
