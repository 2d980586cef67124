// Package catalogserver 将商品与评论检索以 MCP 工具的形式对外提供。
package catalogserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/wwwzy/ShopAgent/internal/catalog"
)

const (
	KindItems   = "items"
	KindReviews = "reviews"

	ToolItemContext   = "get_formatted_item_context"
	ToolReviewContext = "get_formatted_review_context"

	DefaultAddr = ":8000"
)

const itemDoc = `Get the top k context, each representing an inventory item for a given query.

Args:
    query: The query to get the top k context for
    top_k: The number of context chunks to retrieve, works best with 5 or more

Returns:
    A string of the top k context chunks with IDs prepending each chunk, each representing an inventory item for a given query.`

const reviewDoc = `Get the top k reviews matching a query for a list of prefiltered items.

Args:
    query: The query to get the top k reviews for
    item_list: The list of item IDs to prefilter for before running the query
    top_k: The number of reviews to retrieve, this should be at least 20 if multiple items are prefiltered

Returns:
    A string of the top k context chunks with IDs prepending each chunk, each representing a review for one of the prefiltered items.`

// Config MCP 服务配置。
type Config struct {
	Addr string `mapstructure:"addr"`
}

// New 创建指定类型的 MCP 服务。
func New(kind string, r catalog.Retriever, logger *zap.Logger) (*server.MCPServer, error) {
	if r == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handlers{retriever: r, logger: logger.With(zap.String("kind", kind))}

	switch kind {
	case KindItems:
		s := server.NewMCPServer("shopagent-items", "1.0.0", server.WithToolCapabilities(false), server.WithRecovery())
		s.AddTool(mcp.NewTool(ToolItemContext,
			mcp.WithDescription(itemDoc),
			mcp.WithString("query", mcp.Required(), mcp.Description("The query to get the top k context for")),
			mcp.WithNumber("top_k", mcp.Description("The number of context chunks to retrieve, works best with 5 or more")),
		), h.itemContext)
		return s, nil
	case KindReviews:
		s := server.NewMCPServer("shopagent-reviews", "1.0.0", server.WithToolCapabilities(false), server.WithRecovery())
		s.AddTool(mcp.NewTool(ToolReviewContext,
			mcp.WithDescription(reviewDoc),
			mcp.WithString("query", mcp.Required(), mcp.Description("The query to get the top k reviews for")),
			mcp.WithArray("item_list", mcp.Required(), mcp.WithStringItems(), mcp.Description("The list of item IDs to prefilter for before running the query")),
			mcp.WithNumber("top_k", mcp.Description("The number of reviews to retrieve")),
		), h.reviewContext)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown mcp server kind %q", kind)
	}
}

// Handler 返回 streamable HTTP 处理器。
func Handler(s *server.MCPServer) http.Handler {
	return server.NewStreamableHTTPServer(s)
}

// Serve 在 addr 上以 /mcp 路径提供服务，直到 ctx 结束。
func Serve(ctx context.Context, addr string, s *server.MCPServer, logger *zap.Logger) error {
	if addr == "" {
		addr = DefaultAddr
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/mcp", Handler(s))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("mcp server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

type handlers struct {
	retriever catalog.Retriever
	logger    *zap.Logger
}

func (h *handlers) itemContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(req.GetString("query", ""))
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	topK := req.GetInt("top_k", catalog.DefaultItemsTopK)

	hits, err := h.retriever.SearchItems(ctx, query, topK)
	if err != nil {
		h.logger.Warn("search items failed", zap.String("query", query), zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("search items: %v", err)), nil
	}
	h.logger.Debug("items retrieved", zap.String("query", query), zap.Int("hits", len(hits)))
	return mcp.NewToolResultText(catalog.FormatContext(hits)), nil
}

func (h *handlers) reviewContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(req.GetString("query", ""))
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	items := req.GetStringSlice("item_list", nil)
	topK := req.GetInt("top_k", catalog.DefaultReviewsTopK)

	hits, err := h.retriever.SearchReviews(ctx, query, items, topK)
	if err != nil {
		h.logger.Warn("search reviews failed", zap.String("query", query), zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("search reviews: %v", err)), nil
	}
	h.logger.Debug("reviews retrieved", zap.String("query", query), zap.Int("items", len(items)), zap.Int("hits", len(hits)))
	return mcp.NewToolResultText(catalog.FormatContext(hits)), nil
}
